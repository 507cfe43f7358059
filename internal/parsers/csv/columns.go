package csv

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/preimport/internal/domain"
	txtransform "github.com/rumor-ml/commons.systems/preimport/internal/transform"
)

// Header aliases, matched case-insensitively after trimming. Earlier aliases win.
var (
	dateAliases = []string{
		"date", "posted date", "posted_date", "posteddate", "post date",
		"transaction date", "transaction_date", "transactiondate",
	}
	descriptionAliases = []string{"description", "payee", "memo"}
	amountAliases      = []string{"amount", "transaction amount", "debit/credit"}
	debitAliases       = []string{"debit", "withdrawal", "withdrawals", "money out"}
	creditAliases      = []string{"credit", "deposit", "deposits", "money in"}
	referenceAliases   = []string{"transaction id", "transaction_id", "reference number", "reference", "reference_number"}
	accountAliases     = []string{"account", "account number", "account_number"}
)

// DateFormats are tried in order; the first successful parse wins.
// US month-first layouts come before day-first ones, so 01/02/2024 is January 2nd.
var DateFormats = []string{
	"01/02/2006", // 01/31/2024
	"01/02/06",   // 01/31/24
	"2006-01-02", // 2024-01-31
	"02/01/2006", // 31/01/2024
	"2006/01/02", // 2024/01/31
	"02-01-2006", // 31-01-2024
	"02.01.2006", // 31.01.2024
}

const supportedDateExamples = "MM/DD/YYYY, MM/DD/YY, YYYY-MM-DD, DD/MM/YYYY, YYYY/MM/DD, DD-MM-YYYY, DD.MM.YYYY"

// columnMap holds header positions; -1 means the column is absent
type columnMap struct {
	date        int
	description int
	amount      int
	debit       int
	credit      int
	reference   int
	account     int
}

// detectColumns returns the column layout if record is a header row with every
// required column, or nil otherwise
func detectColumns(record []string) *columnMap {
	normalized := make([]string, len(record))
	for i, cell := range record {
		normalized[i] = strings.ToLower(strings.TrimSpace(cell))
	}

	cols := &columnMap{
		date:        findColumn(normalized, dateAliases),
		description: findColumn(normalized, descriptionAliases),
		amount:      findColumn(normalized, amountAliases),
		debit:       findColumn(normalized, debitAliases),
		credit:      findColumn(normalized, creditAliases),
		reference:   findColumn(normalized, referenceAliases),
		account:     findColumn(normalized, accountAliases),
	}

	if cols.date < 0 || cols.description < 0 {
		return nil
	}
	if cols.amount < 0 && (cols.debit < 0 || cols.credit < 0) {
		return nil
	}
	return cols
}

// findColumn returns the index of the first alias present in the header, or -1
func findColumn(header []string, aliases []string) int {
	for _, alias := range aliases {
		for i, cell := range header {
			if cell == alias {
				return i
			}
		}
	}
	return -1
}

// describeRequiredColumns lists the required logical columns with their aliases for error messages
func describeRequiredColumns() string {
	return fmt.Sprintf("date (%s), description (%s), amount (%s, or a debit column (%s) with a credit column (%s))",
		strings.Join(dateAliases, ", "),
		strings.Join(descriptionAliases, ", "),
		strings.Join(amountAliases, ", "),
		strings.Join(debitAliases, ", "),
		strings.Join(creditAliases, ", "),
	)
}

// cell returns the trimmed value at index i, or "" when the column is absent or the row is short
func cell(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// row converts a data record. skip is true for summary lines with neither date nor description.
func (c *columnMap) row(record []string) (txtransform.Row, bool, error) {
	dateRaw := cell(record, c.date)
	description := cell(record, c.description)
	if dateRaw == "" && description == "" {
		return txtransform.Row{}, true, nil
	}

	date, err := ParseDate(dateRaw)
	if err != nil {
		return txtransform.Row{}, false, err
	}

	amount, err := c.amountOf(record)
	if err != nil {
		return txtransform.Row{}, false, err
	}

	return txtransform.Row{
		Date:          date,
		Description:   description,
		Amount:        amount,
		Reference:     cell(record, c.reference),
		RawAccountRef: cell(record, c.account),
	}, false, nil
}

// amountOf reads the signed amount, from the single column when present,
// otherwise as credit - |debit|
func (c *columnMap) amountOf(record []string) (decimal.Decimal, error) {
	if c.amount >= 0 {
		return ParseAmount(cell(record, c.amount))
	}

	debitRaw := cell(record, c.debit)
	creditRaw := cell(record, c.credit)
	if debitRaw == "" && creditRaw == "" {
		return decimal.Zero, fmt.Errorf("%w: both debit and credit are empty", domain.ErrAmountParse)
	}

	total := decimal.Zero
	if creditRaw != "" {
		credit, err := ParseAmount(creditRaw)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(credit)
	}
	if debitRaw != "" {
		debit, err := ParseAmount(debitRaw)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Sub(debit.Abs())
	}
	return total, nil
}

// ParseDate parses value against DateFormats in order
func ParseDate(value string) (time.Time, error) {
	cleaned := strings.TrimSpace(value)
	for _, layout := range DateFormats {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w %q (supported formats: %s)", domain.ErrDateParse, value, supportedDateExamples)
}

// amountReplacer removes currency symbols, thousands separators and inner spaces
var amountReplacer = strings.NewReplacer("$", "", ",", "", " ", "", "\u00a0", "")

// ParseAmount reads a money cell such as "-4.50", "$1,234.56" or "(12.34)".
// The result is rounded to cents.
func ParseAmount(value string) (decimal.Decimal, error) {
	cleaned := amountReplacer.Replace(strings.TrimSpace(value))
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("%w: empty amount", domain.ErrAmountParse)
	}

	negative := false
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		negative = true
		cleaned = cleaned[1 : len(cleaned)-1]
	}
	cleaned = strings.TrimPrefix(cleaned, "+")

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w %q", domain.ErrAmountParse, value)
	}
	if negative {
		amount = amount.Abs().Neg()
	}
	return amount.Round(2), nil
}
