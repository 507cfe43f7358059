// Package scanner turns command-line targets into an ordered list of input files
package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rumor-ml/commons.systems/preimport/internal/parser"
)

// ScanResult represents a found file with metadata
type ScanResult struct {
	Path     string
	Metadata *parser.Metadata
}

// Expand resolves each target into input files, preserving argument order.
// Directories contribute their statement files (sorted, non-recursive);
// explicit files are kept regardless of extension so detection can decide.
func Expand(targets []string) ([]ScanResult, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("no input files or directories given")
	}

	var results []ScanResult
	seen := make(map[string]bool)
	detectedAt := time.Now()

	add := func(path string) error {
		if seen[path] {
			return nil
		}
		seen[path] = true
		meta, err := parser.NewMetadata(path, detectedAt)
		if err != nil {
			return err
		}
		results = append(results, ScanResult{Path: path, Metadata: meta})
		return nil
	}

	for _, target := range targets {
		path := expandHome(target)
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", target, err)
		}

		if !info.IsDir() {
			if err := add(path); err != nil {
				return nil, err
			}
			continue
		}

		files, err := statementFiles(path)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if err := add(f); err != nil {
				return nil, err
			}
		}
	}

	return results, nil
}

// statementFiles lists the statement files directly inside dir, sorted by name
func statementFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !isStatementFile(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// isStatementFile checks if file is a known statement format
func isStatementFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".qfx" || ext == ".ofx" || ext == ".csv"
}

// expandHome expands ~ to home directory
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
