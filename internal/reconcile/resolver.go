package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rumor-ml/commons.systems/preimport/internal/domain"
)

// Selector asks the user to pick an account for a file. It may return domain.ErrSkipped.
type Selector interface {
	Select(ctx context.Context, req SelectionRequest) (domain.DirectoryEntry, error)
}

// SelectorFunc adapts a function to Selector
type SelectorFunc func(ctx context.Context, req SelectionRequest) (domain.DirectoryEntry, error)

// Select implements Selector
func (f SelectorFunc) Select(ctx context.Context, req SelectionRequest) (domain.DirectoryEntry, error) {
	return f(ctx, req)
}

// SelectionRequest carries what a selector shows to the user
type SelectionRequest struct {
	Path          string
	RawAccountRef string
	Entries       []domain.DirectoryEntry
	Preview       []domain.Transaction
}

// Resolver turns a raw account reference into a ledger account
type Resolver struct {
	directory *Directory
	selector  Selector
	memo      map[string]domain.ResolvedAccount
}

// NewResolver creates a resolver. A nil selector makes unresolvable references fail.
func NewResolver(directory *Directory, selector Selector) *Resolver {
	return &Resolver{
		directory: directory,
		selector:  selector,
		memo:      make(map[string]domain.ResolvedAccount),
	}
}

// Resolve matches rawRef against the directory (id, then account number or masked
// suffix), then the override id, then the selector. A non-empty rawRef resolved
// once is reused for the rest of the run under the same override.
func (r *Resolver) Resolve(ctx context.Context, rawRef, override string) (domain.ResolvedAccount, error) {
	return r.ResolveFile(ctx, SelectionRequest{RawAccountRef: rawRef}, override)
}

// ResolveFile is Resolve with the file context the selector shows
func (r *Resolver) ResolveFile(ctx context.Context, req SelectionRequest, override string) (domain.ResolvedAccount, error) {
	rawRef := strings.TrimSpace(req.RawAccountRef)
	override = strings.TrimSpace(override)

	// a fallback resolved under one override must not answer for another
	memoKey := ""
	if rawRef != "" {
		memoKey = rawRef + "\x00" + override
	}
	if memoKey != "" {
		if account, ok := r.memo[memoKey]; ok {
			return account, nil
		}
	}

	entries, err := r.directory.Entries(ctx)
	if err != nil {
		return domain.ResolvedAccount{}, err
	}

	if rawRef != "" {
		if entry, ok := matchID(entries, rawRef); ok {
			return r.remember(memoKey, entry), nil
		}
		if entry, ok := matchAccountNumber(entries, rawRef); ok {
			return r.remember(memoKey, entry), nil
		}
	}

	if override != "" {
		id, err := strconv.ParseInt(override, 10, 64)
		if err != nil {
			return domain.ResolvedAccount{}, fmt.Errorf("%w: %s is not an asset account id", domain.ErrUnknownAccount, override)
		}
		entry, ok, err := r.directory.Lookup(ctx, id)
		if err != nil {
			return domain.ResolvedAccount{}, err
		}
		if !ok {
			return domain.ResolvedAccount{}, fmt.Errorf("%w: %s is not an asset account id", domain.ErrUnknownAccount, override)
		}
		return r.remember(memoKey, entry), nil
	}

	if r.selector == nil {
		if rawRef == "" {
			return domain.ResolvedAccount{}, fmt.Errorf("%w: file has no account reference and no account id was given", domain.ErrNoAccountSelected)
		}
		return domain.ResolvedAccount{}, fmt.Errorf("%w: account reference %q matches no asset account", domain.ErrNoAccountSelected, rawRef)
	}

	req.RawAccountRef = rawRef
	req.Entries = entries
	entry, err := r.selector.Select(ctx, req)
	if err != nil {
		return domain.ResolvedAccount{}, err
	}
	return r.remember(memoKey, entry), nil
}

func (r *Resolver) remember(key string, entry domain.DirectoryEntry) domain.ResolvedAccount {
	account := entry.Resolved()
	if key != "" {
		r.memo[key] = account
	}
	return account
}

// matchID finds the entry whose id equals ref
func matchID(entries []domain.DirectoryEntry, ref string) (domain.DirectoryEntry, bool) {
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return domain.DirectoryEntry{}, false
	}
	for _, e := range entries {
		if e.ID == id {
			return e, true
		}
	}
	return domain.DirectoryEntry{}, false
}

// matchAccountNumber finds an exact account number match first, then a masked
// number ("****1234", "xxxx1234") whose visible suffix ends ref
func matchAccountNumber(entries []domain.DirectoryEntry, ref string) (domain.DirectoryEntry, bool) {
	for _, e := range entries {
		if e.AccountNumber != "" && e.AccountNumber == ref {
			return e, true
		}
	}
	for _, e := range entries {
		suffix, ok := maskedSuffix(e.AccountNumber)
		if ok && strings.HasSuffix(ref, suffix) {
			return e, true
		}
	}
	return domain.DirectoryEntry{}, false
}

// maskedSuffix returns the visible digits of a masked account number
func maskedSuffix(number string) (string, bool) {
	visible := strings.TrimLeft(number, "*xX•")
	if visible == number || visible == "" {
		return "", false
	}
	return visible, true
}
