package ui

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/rumor-ml/commons.systems/preimport/internal/domain"
)

// PreviewLimit is how many of the latest transactions a preview shows
const PreviewLimit = 3

// DefaultWidth is the terminal width assumed when none is known
const DefaultWidth = 120

var previewHeaders = [4]string{"Date", "Transaction ID", "Description", "Amount"}

// Latest returns up to limit transactions, newest first
func Latest(transactions []domain.Transaction, limit int) []domain.Transaction {
	sorted := slices.Clone(transactions)
	slices.SortStableFunc(sorted, func(a, b domain.Transaction) int {
		return a.Date.Compare(b.Date)
	})
	if len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	slices.Reverse(sorted)
	return sorted
}

// Preview writes the newest transactions as a table fitted to width columns.
// The description column shrinks first when the table is too wide.
func Preview(w io.Writer, transactions []domain.Transaction, width int) {
	if len(transactions) == 0 {
		fmt.Fprintln(w, "No transactions available for preview.")
		return
	}
	if width <= 0 {
		width = DefaultWidth
	}

	rows := make([][4]string, 0, PreviewLimit)
	for _, txn := range Latest(transactions, PreviewLimit) {
		rows = append(rows, [4]string{txn.DateString(), txn.ID, txn.Description, txn.AmountString()})
	}

	var widths [4]int
	for i, h := range previewHeaders {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], utf8.RuneCountInString(cell))
		}
	}

	const indent, sep = "  ", " | "
	widths = fitWidths(widths, width-len(indent)-3*len(sep))

	line := func(cells [4]string) string {
		var b strings.Builder
		b.WriteString(indent)
		for i, cell := range cells {
			if i > 0 {
				b.WriteString(sep)
			}
			cell = truncate(cell, widths[i])
			pad := strings.Repeat(" ", widths[i]-utf8.RuneCountInString(cell))
			if i == 3 {
				b.WriteString(pad + cell)
			} else {
				b.WriteString(cell + pad)
			}
		}
		return b.String()
	}

	fmt.Fprintln(w, "Previewing latest transactions:")
	fmt.Fprintln(w, line(previewHeaders))
	for _, row := range rows {
		fmt.Fprintln(w, line(row))
	}
}

// fitWidths shrinks columns until their sum fits maxWidth; description first,
// then transaction id, date and amount. Every column keeps at least one rune.
func fitWidths(widths [4]int, maxWidth int) [4]int {
	overflow := widths[0] + widths[1] + widths[2] + widths[3] - maxWidth
	for _, i := range []int{2, 1, 0, 3} {
		if overflow <= 0 {
			break
		}
		reduction := min(widths[i]-1, overflow)
		widths[i] -= reduction
		overflow -= reduction
	}
	return widths
}

// truncate shortens s to width runes, ending with "..." when there is room
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	runes := []rune(s)
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}
