package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the ISO calendar date layout used for every serialized date.
const DateLayout = "2006-01-02"

// PlaceholderDescription is used when a source row carries no description.
const PlaceholderDescription = "Transaction"

// SourceFormat identifies the input format a file was detected as.
// Use ValidateSourceFormat to ensure validity before use.
type SourceFormat string

const (
	SourceFormatCSV SourceFormat = "csv"
	SourceFormatOFX SourceFormat = "ofx"
)

var validSourceFormats = map[SourceFormat]struct{}{
	SourceFormatCSV: {},
	SourceFormatOFX: {},
}

// ValidateSourceFormat checks if the source format is known
func ValidateSourceFormat(f SourceFormat) bool {
	_, ok := validSourceFormats[f]
	return ok
}

// Transaction is the canonical record every normalizer produces.
// Values are immutable once built by NewTransaction; consumers only read them.
type Transaction struct {
	ID          string
	Date        time.Time // calendar date, UTC midnight
	Description string
	// Sign convention:
	//   Positive = inflow (deposits, refunds, card payments received)
	//   Negative = outflow (purchases, withdrawals, fees)
	// Normalizers must produce this convention regardless of source representation.
	Amount decimal.Decimal
	// RawAccountRef is the bank-supplied account reference, empty when the
	// source has none. Resolved against the ledger directory only for uploads.
	RawAccountRef string
}

// NewTransaction creates a validated canonical transaction.
// An empty description is replaced by PlaceholderDescription.
func NewTransaction(id string, date time.Time, description string, amount decimal.Decimal, rawAccountRef string) (*Transaction, error) {
	if id == "" {
		return nil, fmt.Errorf("transaction ID cannot be empty")
	}
	if date.IsZero() {
		return nil, fmt.Errorf("transaction date cannot be zero")
	}

	description = strings.TrimSpace(description)
	if description == "" {
		description = PlaceholderDescription
	}

	return &Transaction{
		ID:            id,
		Date:          CalendarDate(date),
		Description:   description,
		Amount:        amount,
		RawAccountRef: strings.TrimSpace(rawAccountRef),
	}, nil
}

// DateString returns the transaction date as YYYY-MM-DD
func (t *Transaction) DateString() string {
	return t.Date.Format(DateLayout)
}

// AmountString returns the signed amount with exactly two decimals
func (t *Transaction) AmountString() string {
	return t.Amount.StringFixed(2)
}

// IsOutflow reports whether money left the account
func (t *Transaction) IsOutflow() bool {
	return t.Amount.IsNegative()
}

// CalendarDate truncates t to midnight UTC of its own calendar day.
// The wall-clock date is kept as-is, so 2024-01-31 23:30 -05:00 stays the 31st.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Statement is the result of normalizing one input file
type Statement struct {
	Format        SourceFormat
	RawAccountRef string // First account reference found in the file, if any
	Transactions  []Transaction
	Warnings      []string
}

// HasTransactions returns true if the statement contains at least one transaction
func (s *Statement) HasTransactions() bool {
	return len(s.Transactions) > 0
}

// AddWarning records a non-fatal normalization issue
func (s *Statement) AddWarning(format string, args ...any) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

// DirectoryEntry is one asset account as listed by the ledger
type DirectoryEntry struct {
	ID            int64
	Name          string
	AccountNumber string // masked (e.g. "****1234") or full, may be empty
	CurrencyCode  string
}

// Label returns a human-friendly description for prompts and logs.
// Format: "Checking (#1234)", falling back to "Account 42" when unnamed.
func (e DirectoryEntry) Label() string {
	label := strings.TrimSpace(e.Name)
	if label == "" {
		label = fmt.Sprintf("Account %d", e.ID)
	}
	if number := strings.TrimSpace(e.AccountNumber); number != "" {
		label = fmt.Sprintf("%s (#%s)", label, number)
	}
	return label
}

// ResolvedAccount is a ledger account a transaction is attached to on upload
type ResolvedAccount struct {
	ID           int64
	CurrencyCode string
}

// Resolved converts a directory entry into the account uploads reference
func (e DirectoryEntry) Resolved() ResolvedAccount {
	return ResolvedAccount{
		ID:           e.ID,
		CurrencyCode: strings.ToUpper(strings.TrimSpace(e.CurrencyCode)),
	}
}
