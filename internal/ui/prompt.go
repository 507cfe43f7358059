package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rumor-ml/commons.systems/preimport/internal/domain"
	"github.com/rumor-ml/commons.systems/preimport/internal/reconcile"
)

// Prompter asks on a terminal which ledger account a file belongs to
type Prompter struct {
	in    *bufio.Scanner
	w     io.Writer
	width int
}

// NewPrompter reads answers from in and writes prompts to w
func NewPrompter(in io.Reader, w io.Writer, width int) *Prompter {
	return &Prompter{in: bufio.NewScanner(in), w: w, width: width}
}

// Select implements reconcile.Selector. Answers are a list index or ledger id,
// "p" to preview the file, or "s" to skip it.
func (p *Prompter) Select(ctx context.Context, req reconcile.SelectionRequest) (domain.DirectoryEntry, error) {
	fmt.Fprintln(p.w, "Available asset accounts:")
	for i, entry := range req.Entries {
		fmt.Fprintf(p.w, "  [%d] %s\n", i+1, entry.Label())
	}

	name := filepath.Base(req.Path)
	if req.RawAccountRef != "" {
		name = fmt.Sprintf("%s (account %s)", name, req.RawAccountRef)
	}
	prompt := fmt.Sprintf("Select account for %s (number/id, \"p\" to preview, \"s\" to skip): ", name)

	for {
		if err := ctx.Err(); err != nil {
			return domain.DirectoryEntry{}, err
		}
		fmt.Fprint(p.w, prompt)
		if !p.in.Scan() {
			if err := p.in.Err(); err != nil {
				return domain.DirectoryEntry{}, fmt.Errorf("failed to read selection: %w", err)
			}
			return domain.DirectoryEntry{}, fmt.Errorf("%w: input closed", domain.ErrNoAccountSelected)
		}

		answer := strings.TrimSpace(p.in.Text())
		switch strings.ToLower(answer) {
		case "":
			continue
		case "p", "preview":
			Preview(p.w, req.Preview, p.width)
			continue
		case "s", "skip":
			return domain.DirectoryEntry{}, fmt.Errorf("%w: %s", domain.ErrSkipped, req.Path)
		}

		if entry, ok := pick(req.Entries, answer); ok {
			fmt.Fprintf(p.w, "Selected: %s\n", entry.Label())
			return entry, nil
		}
		fmt.Fprintln(p.w, "Invalid selection, try again.")
	}
}

// pick resolves a list index first, then a ledger id
func pick(entries []domain.DirectoryEntry, answer string) (domain.DirectoryEntry, bool) {
	n, err := strconv.ParseInt(answer, 10, 64)
	if err != nil {
		return domain.DirectoryEntry{}, false
	}
	if n >= 1 && n <= int64(len(entries)) {
		return entries[n-1], true
	}
	for _, e := range entries {
		if e.ID == n {
			return e, true
		}
	}
	return domain.DirectoryEntry{}, false
}
