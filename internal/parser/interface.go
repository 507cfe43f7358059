package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/rumor-ml/commons.systems/preimport/internal/domain"
)

// HeaderSize is the number of leading bytes handed to CanParse for sniffing
const HeaderSize = 512

// Parser is the strategy interface for all statement normalizers
type Parser interface {
	// Name returns parser identifier (e.g., "ofx", "csv")
	Name() string

	// CanParse checks if parser can handle this file
	// Returns true if this parser should be used for the file
	CanParse(path string, header []byte) bool

	// Parse reads the whole document and returns canonical transactions
	Parse(ctx context.Context, r io.Reader, meta *Metadata) (*domain.Statement, error)
}

// ofxSignatures are the markers found near the top of OFX v1 (SGML) and v2 (XML) documents
var ofxSignatures = [][]byte{
	[]byte("OFXHEADER"),
	[]byte("<?OFX"),
	[]byte("<OFX>"),
}

// HasOFXSignature reports whether header carries an OFX marker, case-insensitively
func HasOFXSignature(header []byte) bool {
	upper := bytes.ToUpper(header)
	for _, sig := range ofxSignatures {
		if bytes.Contains(upper, sig) {
			return true
		}
	}
	return false
}

// FileInfo returns a formatted file path string for error messages
func FileInfo(meta *Metadata) string {
	if meta != nil && meta.FilePath() != "" {
		return fmt.Sprintf(" from %s", meta.FilePath())
	}
	return ""
}
