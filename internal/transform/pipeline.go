package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/preimport/internal/domain"
)

// Row is one source posting as read by a normalizer, before identity is assigned
type Row struct {
	Date          time.Time
	Description   string
	Amount        decimal.Decimal
	Reference     string // bank-supplied reference; becomes the ID when non-empty
	RawAccountRef string
}

// BuildTransaction converts a normalizer row into a canonical transaction.
// Description is sanitized and defaulted before the ID is derived so that the
// ID always matches what is written out.
func BuildTransaction(row Row) (*domain.Transaction, error) {
	if row.Date.IsZero() {
		return nil, fmt.Errorf("transaction date cannot be zero")
	}

	description := SanitizeDescription(row.Description)
	if description == "" {
		description = domain.PlaceholderDescription
	}
	amount := row.Amount.Round(2)

	id := strings.TrimSpace(row.Reference)
	if id == "" {
		id = DeriveTransactionID(row.Date, description, amount)
	}

	txn, err := domain.NewTransaction(id, row.Date, description, amount, row.RawAccountRef)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	return txn, nil
}
