package registry

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/text/encoding/unicode"

	"github.com/rumor-ml/commons.systems/preimport/internal/domain"
	"github.com/rumor-ml/commons.systems/preimport/internal/parser"
)

// mockParser implements parser.Parser for testing
type mockParser struct {
	name         string
	canParseFunc func(string, []byte) bool
}

func (m *mockParser) Name() string {
	return m.name
}

func (m *mockParser) CanParse(path string, header []byte) bool {
	if m.canParseFunc != nil {
		return m.canParseFunc(path, header)
	}
	return false
}

func (m *mockParser) Parse(ctx context.Context, r io.Reader, meta *parser.Metadata) (*domain.Statement, error) {
	return nil, nil
}

var builtinParsers = []string{"ofx", "csv"}

func mustNew(t *testing.T) *Registry {
	t.Helper()
	reg, err := New()
	if err != nil {
		t.Fatalf("New() returned unexpected error: %v", err)
	}
	return reg
}

// utf16LE encodes s the way spreadsheet tools export "Unicode text": UTF-16LE with a BOM
func utf16LE(t *testing.T, s string) string {
	t.Helper()
	encoded, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().String(s)
	if err != nil {
		t.Fatalf("failed to encode UTF-16: %v", err)
	}
	return encoded
}

func TestRegistry_New(t *testing.T) {
	reg, err := New()
	if err != nil {
		t.Fatalf("New() returned unexpected error: %v", err)
	}
	if reg == nil {
		t.Fatal("New() returned nil registry")
	}

	initialParsers := reg.ListParsers()
	if len(initialParsers) != len(builtinParsers) {
		t.Fatalf("Expected %d built-in parsers, got %d", len(builtinParsers), len(initialParsers))
	}
	for i, name := range builtinParsers {
		if initialParsers[i] != name {
			t.Errorf("Parser %d: expected '%s', got '%s'", i, name, initialParsers[i])
		}
	}
}

func TestRegistry_Register(t *testing.T) {
	reg := mustNew(t)

	if err := reg.Register(&mockParser{name: "test-parser"}); err != nil {
		t.Fatalf("Failed to register parser: %v", err)
	}

	parsers := reg.ListParsers()
	if len(parsers) != 3 {
		t.Fatalf("Expected 3 parsers after registration, got %d", len(parsers))
	}
	if parsers[2] != "test-parser" {
		t.Errorf("Expected parser name 'test-parser' at index 2, got '%s'", parsers[2])
	}
}

func TestRegistry_Register_Invalid(t *testing.T) {
	tests := []struct {
		name          string
		parser        parser.Parser
		errorContains string
	}{
		{"nil parser", nil, "cannot register nil parser"},
		{"duplicate built-in name", &mockParser{name: "csv"}, "already registered"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := mustNew(t)
			err := reg.Register(tt.parser)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errorContains) {
				t.Errorf("Expected error containing '%s', got: %v", tt.errorContains, err)
			}
			if len(reg.ListParsers()) != len(builtinParsers) {
				t.Errorf("Expected rejected parser not to be added")
			}
		})
	}
}

func TestRegistry_Detect(t *testing.T) {
	tests := []struct {
		name         string
		fileContent  string
		fileExt      string
		expectParser string
		expectError  bool
	}{
		{
			name:         "OFX file by signature",
			fileContent:  "OFXHEADER:100\nDATA:OFXSGML\n<OFX></OFX>",
			fileExt:      ".ofx",
			expectParser: "ofx",
		},
		{
			name:         "QFX extension with XML signature",
			fileContent:  `<?xml version="1.0"?>` + "\n" + `<?OFX OFXHEADER="200" VERSION="220"?>`,
			fileExt:      ".qfx",
			expectParser: "ofx",
		},
		{
			name:         "Mislabeled OFX with csv extension",
			fileContent:  "OFXHEADER:100\nDATA:OFXSGML\n<OFX></OFX>",
			fileExt:      ".csv",
			expectParser: "ofx",
		},
		{
			name:        "OFX extension without signature",
			fileContent: "Date,Description,Amount\n2024-01-01,Test,1.00\n",
			fileExt:     ".ofx",
			expectError: true,
		},
		{
			name:         "CSV file by extension",
			fileContent:  "Date,Description,Amount\n2024-01-01,Test,100.00",
			fileExt:      ".csv",
			expectParser: "csv",
		},
		{
			name:         "CSV structure without extension",
			fileContent:  "\n\nPosted Date,Payee,Amount\n01/31/2024,Coffee,-4.50\n",
			fileExt:      ".txt",
			expectParser: "csv",
		},
		{
			name:        "Plain text",
			fileContent: "Some unknown format",
			fileExt:     ".txt",
			expectError: true,
		},
		{
			name:        "Binary content",
			fileContent: "PK\x03\x04\x00\x00,binary,zip",
			fileExt:     ".txt",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpFile := createTempFileWithExt(t, tt.fileContent, tt.fileExt)

			foundParser, err := mustNew(t).Detect(tmpFile)

			if tt.expectError {
				if err == nil {
					t.Fatalf("Expected error, got parser %s", foundParser.Name())
				}
				if !errors.Is(err, domain.ErrUnsupportedFormat) {
					t.Errorf("Expected ErrUnsupportedFormat, got: %v", err)
				}
				if domain.KindOf(err) != domain.KindFormat {
					t.Errorf("Expected format kind, got %s", domain.KindOf(err))
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if foundParser.Name() != tt.expectParser {
				t.Errorf("Expected parser '%s', got '%s'", tt.expectParser, foundParser.Name())
			}
		})
	}
}

func TestRegistry_Detect_UTF16CSV(t *testing.T) {
	content := utf16LE(t, "Date,Description,Amount\r\n01/31/2024,Café,-4.50\r\n")

	for _, ext := range []string{".csv", ".txt"} {
		t.Run(ext, func(t *testing.T) {
			path := createTempFileWithExt(t, content, ext)

			found, err := mustNew(t).Detect(path)
			if err != nil {
				t.Fatalf("Detect() returned unexpected error: %v", err)
			}
			if found.Name() != "csv" {
				t.Fatalf("Expected parser 'csv', got '%s'", found.Name())
			}

			f, err := os.Open(path)
			if err != nil {
				t.Fatalf("Failed to open file: %v", err)
			}
			defer f.Close()

			stmt, err := found.Parse(context.Background(), f, nil)
			if err != nil {
				t.Fatalf("Parse() returned unexpected error: %v", err)
			}
			if len(stmt.Transactions) != 1 || stmt.Transactions[0].Description != "Café" {
				t.Errorf("Expected one transaction for Café, got %+v", stmt.Transactions)
			}
		})
	}
}

func TestRegistry_Detect_ErrorNamesParsersTried(t *testing.T) {
	path := createTempFileWithExt(t, "Some unknown format", ".txt")

	_, err := mustNew(t).Detect(path)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !strings.Contains(err.Error(), "tried ofx, csv") {
		t.Errorf("Expected error to name the parsers tried, got: %v", err)
	}
}

func TestRegistry_Detect_CustomParserConsultedLast(t *testing.T) {
	tmpFile := createTempFileWithExt(t, "Test content", ".txt")

	reg := mustNew(t)
	for _, name := range []string{"parser-1", "parser-2"} {
		if err := reg.Register(&mockParser{
			name:         name,
			canParseFunc: func(string, []byte) bool { return true },
		}); err != nil {
			t.Fatalf("Failed to register %s: %v", name, err)
		}
	}

	foundParser, err := reg.Detect(tmpFile)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if foundParser.Name() != "parser-1" {
		t.Errorf("Expected first matching parser 'parser-1', got '%s'", foundParser.Name())
	}
}

func TestRegistry_Detect_FileErrors(t *testing.T) {
	tests := []struct {
		name          string
		filePath      string
		errorContains string
	}{
		{
			name:          "Missing file",
			filePath:      "/nonexistent/file.ofx",
			errorContains: "failed to open file",
		},
		{
			name:          "Directory instead of file",
			filePath:      os.TempDir(),
			errorContains: "failed to read header",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mustNew(t).Detect(tt.filePath)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errorContains) {
				t.Errorf("Expected error containing '%s', got '%s'", tt.errorContains, err.Error())
			}
		})
	}
}

func TestRegistry_Detect_HeaderReading(t *testing.T) {
	tests := []struct {
		name       string
		fileSize   int
		expectRead int
	}{
		{"Small file (< 512 bytes)", 100, 100},
		{"Large file (> 512 bytes)", 1024, 512},
		{"Exactly 512 bytes", 512, 512},
		{"1 byte file", 1, 1},
		{"Empty file", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := make([]byte, tt.fileSize)
			for i := range content {
				content[i] = byte('A' + (i % 26))
			}
			tmpFile := createTempFileWithExt(t, string(content), ".dat")

			var receivedHeaderLen int
			var receivedPath string
			reg := mustNew(t)
			if err := reg.Register(&mockParser{
				name: "test",
				canParseFunc: func(path string, header []byte) bool {
					receivedHeaderLen = len(header)
					receivedPath = path
					return true
				},
			}); err != nil {
				t.Fatalf("Failed to register parser: %v", err)
			}

			if _, err := reg.Detect(tmpFile); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if receivedHeaderLen != tt.expectRead {
				t.Errorf("Expected header length %d, got %d", tt.expectRead, receivedHeaderLen)
			}
			if receivedPath != tmpFile {
				t.Errorf("Expected path '%s', got '%s'", tmpFile, receivedPath)
			}
		})
	}
}

// Helper functions

func createTempFileWithExt(t *testing.T, content string, ext string) string {
	t.Helper()
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test-file"+ext)
	if err := os.WriteFile(tmpFile, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	return tmpFile
}
