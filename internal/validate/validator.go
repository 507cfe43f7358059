package validate

import (
	"fmt"
	"time"

	"github.com/rumor-ml/commons.systems/preimport/internal/domain"
)

// ValidationResult contains all validation errors and warnings for one statement
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors reports whether the statement must not be written or uploaded
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// ValidationError represents a validation error
type ValidationError struct {
	Entity  string // "statement" or "transaction"
	ID      string
	Field   string
	Value   string
	Message string
}

func (e ValidationError) String() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Message)
}

// ValidationWarning represents a non-critical validation issue
type ValidationWarning struct {
	Entity  string
	ID      string
	Field   string
	Value   string
	Message string
}

func (w ValidationWarning) String() string {
	return fmt.Sprintf("%s %s: %s", w.Entity, w.ID, w.Message)
}

// FutureTolerance is how far past now a transaction date may be before it is flagged
const FutureTolerance = 48 * time.Hour

// ValidateStatement checks every normalized transaction of a statement.
// Broken records are errors; repeated ids, future dates and mixed account
// references are warnings, since banks legitimately produce them.
func ValidateStatement(s *domain.Statement, now time.Time) *ValidationResult {
	result := &ValidationResult{
		Errors:   []ValidationError{},
		Warnings: []ValidationWarning{},
	}
	if s == nil {
		result.Errors = append(result.Errors, ValidationError{
			Entity:  "statement",
			Message: "statement cannot be nil",
		})
		return result
	}

	if !domain.ValidateSourceFormat(s.Format) {
		result.Errors = append(result.Errors, ValidationError{
			Entity:  "statement",
			Field:   "Format",
			Value:   string(s.Format),
			Message: fmt.Sprintf("invalid source format: %s (must be csv or ofx)", s.Format),
		})
	}

	transactionIDs := make(map[string]int)
	accountRefs := make(map[string]bool)

	for i, txn := range s.Transactions {
		if txn.ID == "" {
			result.Errors = append(result.Errors, ValidationError{
				Entity:  "transaction",
				ID:      fmt.Sprintf("#%d", i+1),
				Field:   "ID",
				Message: "transaction ID cannot be empty",
			})
		}

		if txn.Date.IsZero() {
			result.Errors = append(result.Errors, ValidationError{
				Entity:  "transaction",
				ID:      txn.ID,
				Field:   "Date",
				Message: "transaction date cannot be zero",
			})
		} else if txn.Date.After(now.Add(FutureTolerance)) {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Entity:  "transaction",
				ID:      txn.ID,
				Field:   "Date",
				Value:   txn.DateString(),
				Message: fmt.Sprintf("transaction is dated in the future: %s", txn.DateString()),
			})
		}

		if txn.Description == "" {
			result.Errors = append(result.Errors, ValidationError{
				Entity:  "transaction",
				ID:      txn.ID,
				Field:   "Description",
				Message: "transaction description cannot be empty",
			})
		}

		// Check for duplicate IDs
		if txn.ID != "" {
			transactionIDs[txn.ID]++
			if transactionIDs[txn.ID] == 2 {
				result.Warnings = append(result.Warnings, ValidationWarning{
					Entity:  "transaction",
					ID:      txn.ID,
					Field:   "ID",
					Value:   txn.ID,
					Message: "duplicate transaction ID (same date, description and amount); the ledger may reject the repeat",
				})
			}
		}

		if txn.RawAccountRef != "" {
			accountRefs[txn.RawAccountRef] = true
		}
	}

	if len(accountRefs) > 1 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Entity:  "statement",
			Field:   "RawAccountRef",
			Value:   s.RawAccountRef,
			Message: fmt.Sprintf("file references %d different accounts; all rows go to the account resolved for %q", len(accountRefs), s.RawAccountRef),
		})
	}

	return result
}
