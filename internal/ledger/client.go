// Package ledger talks to the ledger REST API: asset account listing,
// transaction creation and batch tagging.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rumor-ml/commons.systems/preimport/internal/domain"
	"github.com/rumor-ml/commons.systems/preimport/internal/logger"
	"github.com/rumor-ml/commons.systems/preimport/internal/payload"
	"github.com/rumor-ml/commons.systems/preimport/internal/upload"
)

// PageSize is the number of accounts requested per page
const PageSize = 50

// Client issues ledger API calls through an upload.Dispatcher
type Client struct {
	base       string
	dispatcher *upload.Dispatcher
}

// NewClient creates a client for the API rooted at base (e.g. https://host/api/v1)
func NewClient(base string, dispatcher *upload.Dispatcher) *Client {
	return &Client{
		base:       strings.TrimRight(base, "/"),
		dispatcher: dispatcher,
	}
}

// DryRun reports whether mutating calls are skipped
func (c *Client) DryRun() bool {
	return c.dispatcher.DryRun()
}

type accountsPage struct {
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			Name               string `json:"name"`
			AccountNumber      string `json:"account_number"`
			CurrencyCode       string `json:"currency_code"`
			NativeCurrencyCode string `json:"native_currency_code"`
		} `json:"attributes"`
	} `json:"data"`
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
}

// FetchAssetAccounts lists every asset account, following pagination links
// until the ledger stops returning one
func (c *Client) FetchAssetAccounts(ctx context.Context) ([]domain.DirectoryEntry, error) {
	query := url.Values{}
	query.Set("type", "asset")
	query.Set("limit", strconv.Itoa(PageSize))
	query.Set("page", "1")
	next := c.base + "/accounts?" + query.Encode()

	log := logger.FromContext(ctx)
	var entries []domain.DirectoryEntry
	seen := make(map[string]bool)
	for next != "" {
		if seen[next] {
			return nil, fmt.Errorf("pagination loop detected at %s", next)
		}
		seen[next] = true
		log.Debug().Str("url", next).Msg("fetching asset accounts page")

		out := c.dispatcher.Send(ctx, upload.Request{
			Kind:   upload.EndpointAccounts,
			Method: http.MethodGet,
			URL:    next,
		})
		if err := out.Err(); err != nil {
			return nil, err
		}

		var page accountsPage
		if err := json.Unmarshal(out.Body, &page); err != nil {
			return nil, fmt.Errorf("accounts page %s: %w: %w", next, domain.ErrMalformedResponse, err)
		}

		for _, item := range page.Data {
			id, err := strconv.ParseInt(strings.TrimSpace(item.ID), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: account has non-numeric id %q: %w", domain.ErrMalformedResponse, item.ID, err)
			}
			currency := item.Attributes.CurrencyCode
			if currency == "" {
				currency = item.Attributes.NativeCurrencyCode
			}
			entries = append(entries, domain.DirectoryEntry{
				ID:            id,
				Name:          item.Attributes.Name,
				AccountNumber: strings.TrimSpace(item.Attributes.AccountNumber),
				CurrencyCode:  currency,
			})
		}
		next = page.Links.Next
	}

	if len(entries) == 0 {
		return nil, domain.ErrEmptyDirectory
	}
	log.Debug().Int("accounts", len(entries)).Msg("loaded asset account directory")
	return entries, nil
}

// Created identifies the transaction group and journals the ledger stored
type Created struct {
	GroupID    string
	JournalIDs []string
}

type createdResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Transactions []struct {
				JournalID string `json:"transaction_journal_id"`
			} `json:"transactions"`
		} `json:"attributes"`
	} `json:"data"`
}

// CreateTransaction posts one payload. A dry-run outcome carries no Created value.
func (c *Client) CreateTransaction(ctx context.Context, p payload.UploadPayload) (*Created, upload.Outcome, error) {
	out := c.dispatcher.Send(ctx, upload.Request{
		Kind:   upload.EndpointTransaction,
		Method: http.MethodPost,
		URL:    c.base + "/transactions",
		JSON:   p.Body,
	})
	if err := out.Err(); err != nil {
		return nil, out, fmt.Errorf("transaction %s: %w", p.TransactionID, err)
	}
	if out.Status == upload.StatusDryRun {
		return nil, out, nil
	}

	var resp createdResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, out, fmt.Errorf("transaction %s: %w: %w", p.TransactionID, domain.ErrMalformedResponse, err)
	}
	created := &Created{GroupID: resp.Data.ID}
	for _, split := range resp.Data.Attributes.Transactions {
		created.JournalIDs = append(created.JournalIDs, split.JournalID)
	}
	return created, out, nil
}

// EnsureTag creates tag; an existing tag counts as success
func (c *Client) EnsureTag(ctx context.Context, tag string) (upload.Outcome, error) {
	out := c.dispatcher.Send(ctx, upload.Request{
		Kind:   upload.EndpointTag,
		Method: http.MethodPost,
		URL:    c.base + "/tags",
		JSON:   map[string]string{"tag": tag},
	})
	if err := out.Err(); err != nil {
		return out, fmt.Errorf("tag %q: %w", tag, err)
	}
	return out, nil
}

type journalTags struct {
	JournalID string   `json:"transaction_journal_id,omitempty"`
	Tags      []string `json:"tags"`
}

type tagUpdate struct {
	ApplyRules   bool          `json:"apply_rules"`
	FireWebhooks bool          `json:"fire_webhooks"`
	Transactions []journalTags `json:"transactions"`
}

// TagTransaction applies tag to every journal of a created transaction group
func (c *Client) TagTransaction(ctx context.Context, created *Created, tag string) (upload.Outcome, error) {
	if created == nil || created.GroupID == "" {
		return upload.Outcome{}, fmt.Errorf("tag %q: created transaction has no id", tag)
	}

	body := tagUpdate{}
	for _, journalID := range created.JournalIDs {
		body.Transactions = append(body.Transactions, journalTags{JournalID: journalID, Tags: []string{tag}})
	}
	if len(body.Transactions) == 0 {
		body.Transactions = []journalTags{{Tags: []string{tag}}}
	}

	out := c.dispatcher.Send(ctx, upload.Request{
		Kind:   upload.EndpointTagUpdate,
		Method: http.MethodPut,
		URL:    c.base + "/transactions/" + url.PathEscape(created.GroupID),
		JSON:   body,
	})
	if err := out.Err(); err != nil {
		return out, fmt.Errorf("tag transaction %s: %w", created.GroupID, err)
	}
	return out, nil
}
