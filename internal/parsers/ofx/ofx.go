// Package ofx normalizes OFX/QFX statement files
package ofx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/preimport/internal/domain"
	"github.com/rumor-ml/commons.systems/preimport/internal/parser"
	"github.com/rumor-ml/commons.systems/preimport/internal/transform"
)

// Parser implements OFX/QFX normalization.
// The struct has no fields, so the shared instance is safe for concurrent use.
type Parser struct{}

var parserInstance = &Parser{}

// NewParser returns the shared OFX parser instance.
func NewParser() *Parser {
	return parserInstance
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "ofx"
}

// CanParse checks the header for an OFX v1 or v2 signature.
// The signature decides regardless of extension, so a mislabeled export still
// parses and an .ofx file without one is rejected.
func (p *Parser) CanParse(path string, header []byte) bool {
	return parser.HasOFXSignature(header)
}

// Parse extracts every bank, credit card and investment cash posting.
func (p *Parser) Parse(ctx context.Context, r io.Reader, meta *parser.Metadata) (*domain.Statement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX content%s: %w", parser.FileInfo(meta), err)
	}

	// ofxgo.ParseResponse does not take a context; check once more before the parse
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	response, err := ofxgo.ParseResponse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse OFX file%s (%d bytes): %v",
			domain.ErrMalformedStatement, parser.FileInfo(meta), len(content), err)
	}

	if len(response.Bank) == 0 && len(response.CreditCard) == 0 && len(response.InvStmt) == 0 {
		return nil, fmt.Errorf("%w: no supported statement type found%s (creditcard: %d, bank: %d, investment: %d)",
			domain.ErrMalformedStatement, parser.FileInfo(meta),
			len(response.CreditCard), len(response.Bank), len(response.InvStmt))
	}

	stmt := &domain.Statement{Format: domain.SourceFormatOFX}

	for _, msg := range response.Bank {
		bankStmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok {
			return nil, fmt.Errorf("%w: expected *ofxgo.StatementResponse, got %T", domain.ErrMalformedStatement, msg)
		}
		acctID := bankStmt.BankAcctFrom.AcctID.String()
		if bankStmt.BankTranList != nil {
			addPostings(stmt, acctID, bankStmt.BankTranList.Transactions)
		}
		setAccountRef(stmt, acctID)
	}

	for _, msg := range response.CreditCard {
		ccStmt, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok {
			return nil, fmt.Errorf("%w: expected *ofxgo.CCStatementResponse, got %T", domain.ErrMalformedStatement, msg)
		}
		acctID := ccStmt.CCAcctFrom.AcctID.String()
		if ccStmt.BankTranList != nil {
			addPostings(stmt, acctID, ccStmt.BankTranList.Transactions)
		}
		setAccountRef(stmt, acctID)
	}

	for _, msg := range response.InvStmt {
		invStmt, ok := msg.(*ofxgo.InvStatementResponse)
		if !ok {
			return nil, fmt.Errorf("%w: expected *ofxgo.InvStatementResponse, got %T", domain.ErrMalformedStatement, msg)
		}
		acctID := invStmt.InvAcctFrom.AcctID.String()
		if invStmt.InvTranList != nil {
			// Only cash movements (dividends, interest, fees) map onto ledger transactions
			for _, bankTxn := range invStmt.InvTranList.BankTransactions {
				addPostings(stmt, acctID, bankTxn.Transactions)
			}
			if n := len(invStmt.InvTranList.InvTransactions); n > 0 {
				stmt.AddWarning("skipped %d security transactions in investment account %s", n, acctID)
			}
		}
		setAccountRef(stmt, acctID)
	}

	return stmt, nil
}

// setAccountRef keeps the first account id seen in the document
func setAccountRef(stmt *domain.Statement, acctID string) {
	if stmt.RawAccountRef == "" {
		stmt.RawAccountRef = strings.TrimSpace(acctID)
	}
}

// addPostings converts each posting; postings without a usable date are skipped with a warning
func addPostings(stmt *domain.Statement, acctID string, postings []ofxgo.Transaction) {
	for _, txn := range postings {
		row, ok := postingRow(txn, acctID)
		if !ok {
			stmt.AddWarning("skipped posting %q without a usable date or amount", txn.FiTID.String())
			continue
		}

		canonical, err := transform.BuildTransaction(row)
		if err != nil {
			stmt.AddWarning("skipped posting %q: %v", txn.FiTID.String(), err)
			continue
		}
		stmt.Transactions = append(stmt.Transactions, *canonical)
	}
}

// postingRow maps one OFX posting onto a normalizer row.
// The FITID is not used as the ID; the derived ID is shared with CSV exports of the same posting.
func postingRow(txn ofxgo.Transaction, acctID string) (transform.Row, bool) {
	date := txn.DtPosted.Time
	if date.IsZero() && txn.DtUser != nil {
		date = txn.DtUser.Time
	}
	if date.IsZero() {
		return transform.Row{}, false
	}

	// TrnAmt wraps a big.Rat; six places keeps sub-cent precision until rounding
	amount, err := decimal.NewFromString(txn.TrnAmt.FloatString(6))
	if err != nil {
		return transform.Row{}, false
	}

	return transform.Row{
		Date:          date.UTC(),
		Description:   describe(txn.Name.String(), txn.Memo.String()),
		Amount:        amount,
		RawAccountRef: acctID,
	}, true
}

// describe picks the posting description: name, else memo, joined as
// "name - memo" when the memo adds information
func describe(name, memo string) string {
	name = strings.TrimSpace(name)
	memo = strings.TrimSpace(memo)

	switch {
	case name == "":
		return memo
	case memo == "" || strings.Contains(strings.ToLower(name), strings.ToLower(memo)):
		return name
	default:
		return name + " - " + memo
	}
}
