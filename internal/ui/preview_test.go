package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/preimport/internal/domain"
)

func previewTxn(t *testing.T, id string, day int, desc, amount string) domain.Transaction {
	t.Helper()
	txn, err := domain.NewTransaction(id, time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC), desc, decimal.RequireFromString(amount), "")
	if err != nil {
		t.Fatalf("failed to create transaction: %v", err)
	}
	return *txn
}

func TestLatest(t *testing.T) {
	txns := []domain.Transaction{
		previewTxn(t, "a", 5, "A", "-1"),
		previewTxn(t, "b", 20, "B", "-1"),
		previewTxn(t, "c", 1, "C", "-1"),
		previewTxn(t, "d", 15, "D", "-1"),
	}

	got := Latest(txns, 3)

	var ids []string
	for _, txn := range got {
		ids = append(ids, txn.ID)
	}
	if strings.Join(ids, ",") != "b,d,a" {
		t.Errorf("Latest() = %v, want b,d,a", ids)
	}
	if txns[0].ID != "a" {
		t.Error("Latest() must not reorder its input")
	}
}

func TestPreview(t *testing.T) {
	var buf bytes.Buffer
	Preview(&buf, []domain.Transaction{
		previewTxn(t, "b51f0009f3373bd", 31, "Coffee Shop", "-4.50"),
		previewTxn(t, "2ee4b5545e645dc", 15, "Paycheck", "1000.00"),
	}, 120)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected title, header and 2 rows, got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], "Date") || !strings.Contains(lines[1], "Amount") {
		t.Errorf("header line missing columns: %q", lines[1])
	}
	if !strings.Contains(lines[2], "2024-01-31") || !strings.HasSuffix(lines[2], "  -4.50") {
		t.Errorf("newest row should come first with right-aligned amount: %q", lines[2])
	}
	if !strings.Contains(lines[3], "Paycheck") {
		t.Errorf("second row should be Paycheck: %q", lines[3])
	}
}

func TestPreview_Empty(t *testing.T) {
	var buf bytes.Buffer
	Preview(&buf, nil, 80)
	if !strings.Contains(buf.String(), "No transactions available") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestPreview_NarrowTerminal(t *testing.T) {
	var buf bytes.Buffer
	Preview(&buf, []domain.Transaction{
		previewTxn(t, "b51f0009f3373bd", 31, strings.Repeat("Long description ", 10), "-4.50"),
	}, 60)

	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")[1:] {
		if n := len([]rune(line)); n > 60 {
			t.Errorf("line is %d runes wide, want <= 60: %q", n, line)
		}
	}
	if !strings.Contains(buf.String(), "...") {
		t.Error("long description should be truncated with an ellipsis")
	}
}

func TestFitWidths(t *testing.T) {
	got := fitWidths([4]int{10, 15, 50, 8}, 50)
	if sum := got[0] + got[1] + got[2] + got[3]; sum != 50 {
		t.Errorf("fitWidths() sum = %d, want 50", sum)
	}
	if got[0] != 10 || got[1] != 15 || got[3] != 8 {
		t.Errorf("only description should shrink, got %v", got)
	}

	got = fitWidths([4]int{10, 15, 50, 8}, 0)
	for i, w := range got {
		if w != 1 {
			t.Errorf("column %d width = %d, want 1", i, w)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"hello", 3, "hel"},
		{"héllo wörld", 6, "hél..."},
		{"hello", 0, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.width); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}
