// Package reconcile maps bank account references onto ledger asset accounts
package reconcile

import (
	"context"
	"fmt"

	"github.com/rumor-ml/commons.systems/preimport/internal/domain"
)

// Fetcher lists the ledger's asset accounts; ledger.Client implements it
type Fetcher interface {
	FetchAssetAccounts(ctx context.Context) ([]domain.DirectoryEntry, error)
}

// Directory caches one snapshot of the asset account directory per run.
// A failed fetch is not cached, so a later file may retry.
type Directory struct {
	fetcher Fetcher
	entries []domain.DirectoryEntry
	loaded  bool
}

// NewDirectory creates an empty directory cache backed by fetcher
func NewDirectory(fetcher Fetcher) *Directory {
	return &Directory{fetcher: fetcher}
}

// Entries returns the cached snapshot, fetching it on first use
func (d *Directory) Entries(ctx context.Context) ([]domain.DirectoryEntry, error) {
	if d.loaded {
		return d.entries, nil
	}
	entries, err := d.fetcher.FetchAssetAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account directory: %w", err)
	}
	d.entries = entries
	d.loaded = true
	return d.entries, nil
}

// Lookup returns the entry with the given ledger id
func (d *Directory) Lookup(ctx context.Context, id int64) (domain.DirectoryEntry, bool, error) {
	entries, err := d.Entries(ctx)
	if err != nil {
		return domain.DirectoryEntry{}, false, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, true, nil
		}
	}
	return domain.DirectoryEntry{}, false, nil
}
