package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"

	"github.com/rumor-ml/commons.systems/preimport/internal/domain"
)

// TransactionIDLength is the number of hex characters kept from the digest (60 bits)
const TransactionIDLength = 15

// DeriveTransactionID creates a deterministic transaction ID.
// Format: hex(SHA256("{YYYY-MM-DD}{description}{amount:.2f}"))[:15]
// The same posting exported as CSV or OFX yields the same ID.
// Example: DeriveTransactionID(2024-01-31, "Coffee Shop", -4.50) hashes "2024-01-31Coffee Shop-4.50"
func DeriveTransactionID(date time.Time, description string, amount decimal.Decimal) string {
	var b strings.Builder
	b.WriteString(domain.CalendarDate(date).Format(domain.DateLayout))
	b.WriteString(description)
	b.WriteString(amount.StringFixed(2))

	hash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(hash[:])[:TransactionIDLength]
}

// descriptionCleaner repairs invalid UTF-8 and turns control characters
// (embedded newlines, tabs) into plain spaces.
var descriptionCleaner = transform.Chain(
	runes.ReplaceIllFormed(),
	runes.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}),
)

// SanitizeDescription returns a trimmed, valid UTF-8, single-line description.
// Returns the input trimmed if the transformer fails.
func SanitizeDescription(s string) string {
	cleaned, _, err := transform.String(descriptionCleaner, s)
	if err != nil {
		return strings.TrimSpace(strings.ToValidUTF8(s, string(utf8.RuneError)))
	}
	return strings.TrimSpace(cleaned)
}

// TruncateRunes shortens s to at most limit runes without splitting a code point.
// Invalid UTF-8 is repaired first so the result is always valid.
func TruncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, string(utf8.RuneError))
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}
