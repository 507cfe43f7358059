// Package payload builds ledger transaction bodies and import-broker configs
package payload

import (
	"fmt"
	"time"

	"github.com/rumor-ml/commons.systems/preimport/internal/domain"
	"github.com/rumor-ml/commons.systems/preimport/internal/transform"
)

// MaxDescriptionRunes is the ledger's description length limit
const MaxDescriptionRunes = 255

// PlaceholderAccountName names the counterparty the ledger should create or reuse
const PlaceholderAccountName = "(no name)"

// BatchTagFormat is the time layout of the per-run batch tag
const BatchTagFormat = "2006-01-02 @ 15:04"

// Kind is the ledger transaction type
type Kind string

const (
	KindWithdrawal Kind = "withdrawal"
	KindDeposit    Kind = "deposit"
)

// Split is one ledger journal inside a TransactionStore
type Split struct {
	Type              Kind   `json:"type"`
	Date              string `json:"date"`
	Amount            string `json:"amount"`
	Description       string `json:"description"`
	CurrencyCode      string `json:"currency_code,omitempty"`
	SourceID          *int64 `json:"source_id,omitempty"`
	SourceName        string `json:"source_name,omitempty"`
	DestinationID     *int64 `json:"destination_id,omitempty"`
	DestinationName   string `json:"destination_name,omitempty"`
	CategoryName      string `json:"category_name,omitempty"`
	ExternalID        string `json:"external_id"`
	InternalReference string `json:"internal_reference"`
	Notes             string `json:"notes,omitempty"`
}

// TransactionStore is the POST /transactions body
type TransactionStore struct {
	ErrorIfDuplicateHash bool    `json:"error_if_duplicate_hash"`
	ApplyRules           bool    `json:"apply_rules"`
	FireWebhooks         bool    `json:"fire_webhooks"`
	GroupTitle           string  `json:"group_title,omitempty"`
	Transactions         []Split `json:"transactions"`
}

// UploadPayload is one transaction ready for the ledger.
// BatchTag travels beside the body and is applied by a follow-up tagging call.
type UploadPayload struct {
	Kind          Kind
	TransactionID string
	Body          TransactionStore
	BatchTag      string
}

// Build maps a canonical transaction onto a ledger payload for account
func Build(tx domain.Transaction, account domain.ResolvedAccount, batchTag string, duplicateGuard bool) (UploadPayload, error) {
	if tx.ID == "" {
		return UploadPayload{}, fmt.Errorf("transaction ID cannot be empty")
	}
	if account.ID <= 0 {
		return UploadPayload{}, fmt.Errorf("transaction %s: account ID must be positive, got %d", tx.ID, account.ID)
	}

	description := transform.TruncateRunes(tx.Description, MaxDescriptionRunes)
	if description == "" {
		description = domain.PlaceholderDescription
	}

	accountID := account.ID
	split := Split{
		Date:              tx.DateString(),
		Amount:            tx.Amount.Abs().StringFixed(2),
		Description:       description,
		CurrencyCode:      account.CurrencyCode,
		ExternalID:        tx.ID,
		InternalReference: tx.ID,
		Notes:             description,
	}

	kind := KindDeposit
	if tx.IsOutflow() {
		kind = KindWithdrawal
		split.SourceID = &accountID
		split.DestinationName = PlaceholderAccountName
	} else {
		split.DestinationID = &accountID
		split.SourceName = PlaceholderAccountName
	}
	split.Type = kind

	return UploadPayload{
		Kind:          kind,
		TransactionID: tx.ID,
		BatchTag:      batchTag,
		Body: TransactionStore{
			ErrorIfDuplicateHash: duplicateGuard,
			ApplyRules:           true,
			FireWebhooks:         true,
			Transactions:         []Split{split},
		},
	}, nil
}

// WithCategory returns a copy of p whose split carries the ledger category name
func (p UploadPayload) WithCategory(name string) UploadPayload {
	if name == "" {
		return p
	}
	splits := make([]Split, len(p.Body.Transactions))
	copy(splits, p.Body.Transactions)
	for i := range splits {
		splits[i].CategoryName = name
	}
	p.Body.Transactions = splits
	return p
}

// BatchTag formats the tag applied to every transaction of a run started at now
func BatchTag(prefix string, now time.Time) string {
	return fmt.Sprintf("%s %s", prefix, now.Format(BatchTagFormat))
}
