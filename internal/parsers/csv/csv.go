// Package csv normalizes delimited bank exports with arbitrary header layouts
package csv

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/rumor-ml/commons.systems/preimport/internal/domain"
	"github.com/rumor-ml/commons.systems/preimport/internal/parser"
	txtransform "github.com/rumor-ml/commons.systems/preimport/internal/transform"
)

// HeaderScanLimit is how many leading non-blank records are searched for the header row
const HeaderScanLimit = 20

// Parser implements header-detecting CSV normalization.
// The struct has no fields, so the shared instance is safe for concurrent use.
type Parser struct{}

var parserInstance = &Parser{}

// NewParser returns the shared CSV parser instance.
func NewParser() *Parser {
	return parserInstance
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "csv"
}

// CanParse accepts .csv files and extensionless text whose first line has at least two fields.
// OFX content and .ofx/.qfx files are left to the OFX parser; binary content is rejected.
func (p *Parser) CanParse(path string, header []byte) bool {
	header = decodeSniff(header)
	if bytes.IndexByte(header, 0) >= 0 {
		return false
	}
	if parser.HasOFXSignature(header) {
		return false
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".ofx", ".qfx":
		return false
	case ".csv":
		return true
	}

	return firstLineFieldCount(header) >= 2
}

// decodeSniff converts a sniff buffer that starts with a UTF-16 BOM to UTF-8.
// Other input is returned unchanged.
func decodeSniff(header []byte) []byte {
	if !bytes.HasPrefix(header, []byte{0xff, 0xfe}) && !bytes.HasPrefix(header, []byte{0xfe, 0xff}) {
		return header
	}
	// the buffer may end inside a code unit
	header = header[:len(header)&^1]
	decoded, _, err := transform.Bytes(unicode.BOMOverride(encoding.Nop.NewDecoder()), header)
	if err != nil {
		return header
	}
	return decoded
}

// firstLineFieldCount counts the comma-separated fields of the first non-empty line
func firstLineFieldCount(header []byte) int {
	header = bytes.TrimPrefix(header, []byte("\xef\xbb\xbf"))
	for _, line := range strings.Split(string(header), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r := newReader(strings.NewReader(line))
		record, err := r.Read()
		if err != nil {
			return 0
		}
		return len(record)
	}
	return 0
}

// newReader configures encoding/csv the same way for sniffing and parsing
func newReader(r io.Reader) *csv.Reader {
	csvReader := csv.NewReader(r)
	csvReader.LazyQuotes = true
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1
	return csvReader
}

// Parse finds the header row, then converts every data row into a canonical transaction.
func (p *Parser) Parse(ctx context.Context, r io.Reader, meta *parser.Metadata) (*domain.Statement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// BOMOverride strips a UTF-8 BOM and decodes UTF-16 exports that carry one
	transformer := unicode.BOMOverride(encoding.Nop.NewDecoder())
	csvReader := newReader(transform.NewReader(r, transformer))

	stmt := &domain.Statement{Format: domain.SourceFormatCSV}

	var cols *columnMap
	scanned := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV content%s: %w", parser.FileInfo(meta), err)
		}
		line, _ := csvReader.FieldPos(0)

		if isBlank(record) {
			continue
		}

		if cols == nil {
			if scanned >= HeaderScanLimit {
				break
			}
			scanned++
			cols = detectColumns(record)
			continue
		}

		row, skip, err := cols.row(record)
		if err != nil {
			return nil, fmt.Errorf("failed to parse row %d%s: %w", line, parser.FileInfo(meta), err)
		}
		if skip {
			continue
		}

		txn, err := txtransform.BuildTransaction(row)
		if err != nil {
			return nil, fmt.Errorf("failed to parse row %d%s: %w", line, parser.FileInfo(meta), err)
		}
		if stmt.RawAccountRef == "" {
			stmt.RawAccountRef = txn.RawAccountRef
		}
		stmt.Transactions = append(stmt.Transactions, *txn)
	}

	if cols == nil {
		return nil, fmt.Errorf("%w%s: no row within the first %d has the required columns %s",
			domain.ErrHeaderNotFound, parser.FileInfo(meta), HeaderScanLimit, describeRequiredColumns())
	}

	return stmt, nil
}

// isBlank reports whether every cell is empty after trimming
func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
