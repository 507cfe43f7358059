// Package registry selects the statement normalizer for an input file
package registry

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rumor-ml/commons.systems/preimport/internal/domain"
	"github.com/rumor-ml/commons.systems/preimport/internal/parser"
	"github.com/rumor-ml/commons.systems/preimport/internal/parsers/csv"
	"github.com/rumor-ml/commons.systems/preimport/internal/parsers/ofx"
)

// Registry holds all registered parsers, consulted in registration order
type Registry struct {
	parsers []parser.Parser
}

// New creates a registry with all built-in parsers.
// OFX is registered first so a signature wins over a misleading extension.
func New() (*Registry, error) {
	reg := &Registry{parsers: []parser.Parser{}}
	builtins := []parser.Parser{
		ofx.NewParser(),
		csv.NewParser(),
	}
	for _, p := range builtins {
		if err := reg.Register(p); err != nil {
			return nil, fmt.Errorf("failed to register built-in parser: %w", err)
		}
	}
	return reg, nil
}

// Register adds a custom parser after the built-in ones
func (r *Registry) Register(p parser.Parser) error {
	if p == nil {
		return fmt.Errorf("cannot register nil parser")
	}
	for _, existing := range r.parsers {
		if existing.Name() == p.Name() {
			return fmt.Errorf("parser %q already registered", p.Name())
		}
	}
	r.parsers = append(r.parsers, p)
	return nil
}

// Detect returns the first parser willing to handle the file.
// Reads at most parser.HeaderSize bytes; the rest of the file is never loaded here.
// Returns an error wrapping domain.ErrUnsupportedFormat when no parser matches.
func (r *Registry) Detect(path string) (parser.Parser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	header := make([]byte, parser.HeaderSize)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("failed to read header from %s: %w", path, err)
	}
	// Short files are fine: parsers receive whatever was read (0 to HeaderSize bytes)
	header = header[:n]

	for _, p := range r.parsers {
		if p.CanParse(path, header) {
			return p, nil
		}
	}

	return nil, fmt.Errorf("no parser found for file %s (tried %s): %w",
		path, strings.Join(r.ListParsers(), ", "), domain.ErrUnsupportedFormat)
}

// ListParsers returns all registered parser names in consultation order
func (r *Registry) ListParsers() []string {
	names := make([]string, len(r.parsers))
	for i, p := range r.parsers {
		names[i] = p.Name()
	}
	return names
}
