// Package output writes canonical transactions as CSV and resolves where the files go
package output

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rumor-ml/commons.systems/preimport/internal/domain"
)

// Suffix replaces the input extension in default output file names
const Suffix = ".firefly.csv"

// Header is the first row of every canonical CSV file
var Header = []string{"account_id", "transaction_id", "date", "description", "amount"}

// WriteCSV serializes transactions to w. accountID fills the first column;
// when empty, each transaction's raw account reference is used instead.
func WriteCSV(w io.Writer, accountID string, transactions []domain.Transaction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, txn := range transactions {
		account := accountID
		if account == "" {
			account = txn.RawAccountRef
		}
		record := []string{account, txn.ID, txn.DateString(), txn.Description, txn.AmountString()}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write transaction %s: %w", txn.ID, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

// Render returns the CSV document as bytes
func Render(accountID string, transactions []domain.Transaction) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, accountID, transactions); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile writes data to path, creating parent directories
func WriteFile(path string, data []byte) (err error) {
	if path == "" {
		return fmt.Errorf("output path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory for %s: %w", path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close output file %s: %w", path, closeErr)
		}
	}()

	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Targets decides where each job's CSV is written.
// File is set for a single job written to an exact path; Dir collects every job's file.
// With neither set, files land next to their inputs.
type Targets struct {
	File string
	Dir  string
}

// ResolveTargets interprets the -output value for jobCount inputs.
// A trailing separator or an existing directory means a directory; several
// inputs always need a directory.
func ResolveTargets(output string, jobCount int) (Targets, error) {
	if output == "" {
		return Targets{}, nil
	}

	dirHint := strings.HasSuffix(output, string(os.PathSeparator)) || strings.HasSuffix(output, "/")
	path := expandHome(output)
	info, statErr := os.Stat(path)
	exists := statErr == nil

	if jobCount == 1 {
		if dirHint || (exists && info.IsDir()) {
			return Targets{Dir: path}, nil
		}
		return Targets{File: path}, nil
	}

	if exists && !info.IsDir() {
		return Targets{}, fmt.Errorf("-output must be a directory when processing multiple inputs: %s is a file", output)
	}
	return Targets{Dir: path}, nil
}

// PathFor returns the output path for the input file source
func (t Targets) PathFor(source string) string {
	if t.File != "" {
		return t.File
	}
	name := DefaultName(source)
	if t.Dir != "" {
		return filepath.Join(t.Dir, name)
	}
	return filepath.Join(filepath.Dir(source), name)
}

// DefaultName maps statement.ofx to statement.firefly.csv
func DefaultName(source string) string {
	base := filepath.Base(source)
	return strings.TrimSuffix(base, filepath.Ext(base)) + Suffix
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
