package ledger

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/preimport/internal/domain"
	"github.com/rumor-ml/commons.systems/preimport/internal/payload"
	"github.com/rumor-ml/commons.systems/preimport/internal/upload"
)

const base = "https://ledger.test/api/v1"

const firstPage = `{
  "data": [
    {"id": "1", "attributes": {"name": "Checking", "account_number": "****1234", "currency_code": "USD"}},
    {"id": "2", "attributes": {"name": "Savings", "account_number": null, "native_currency_code": "EUR"}}
  ],
  "links": {"next": "https://ledger.test/api/v1/accounts?type=asset&limit=50&page=2"}
}`

const secondPage = `{
  "data": [
    {"id": "3", "attributes": {"name": "", "account_number": "9876", "currency_code": "USD"}}
  ],
  "links": {}
}`

func newTestClient(t *testing.T, dryRun bool) (*Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	d, err := upload.NewDispatcher(upload.Options{Token: "tok", DryRun: dryRun, Transport: transport})
	require.NoError(t, err)
	return NewClient(base+"/", d), transport
}

func registerAccounts(transport *httpmock.MockTransport) {
	transport.RegisterResponderWithQuery(http.MethodGet, base+"/accounts",
		"type=asset&limit=50&page=1", httpmock.NewStringResponder(http.StatusOK, firstPage))
	transport.RegisterResponderWithQuery(http.MethodGet, base+"/accounts",
		"type=asset&limit=50&page=2", httpmock.NewStringResponder(http.StatusOK, secondPage))
}

func TestFetchAssetAccounts_FollowsPagination(t *testing.T) {
	client, transport := newTestClient(t, false)
	registerAccounts(transport)

	entries, err := client.FetchAssetAccounts(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []domain.DirectoryEntry{
		{ID: 1, Name: "Checking", AccountNumber: "****1234", CurrencyCode: "USD"},
		{ID: 2, Name: "Savings", CurrencyCode: "EUR"},
		{ID: 3, AccountNumber: "9876", CurrencyCode: "USD"},
	}, entries)
	assert.Equal(t, 2, transport.GetTotalCallCount())
}

func TestFetchAssetAccounts_DryRunStillFetches(t *testing.T) {
	client, transport := newTestClient(t, true)
	registerAccounts(transport)

	entries, err := client.FetchAssetAccounts(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestFetchAssetAccounts_Empty(t *testing.T) {
	client, transport := newTestClient(t, false)
	transport.RegisterResponder(http.MethodGet, base+"/accounts",
		httpmock.NewStringResponder(http.StatusOK, `{"data": [], "links": {}}`))

	_, err := client.FetchAssetAccounts(context.Background())
	require.ErrorIs(t, err, domain.ErrEmptyDirectory)
	assert.Equal(t, domain.KindReconciliation, domain.KindOf(err))
}

func TestFetchAssetAccounts_UndecodableBody(t *testing.T) {
	client, transport := newTestClient(t, false)
	transport.RegisterResponder(http.MethodGet, base+"/accounts",
		httpmock.NewStringResponder(http.StatusOK, `<html>maintenance</html>`))

	_, err := client.FetchAssetAccounts(context.Background())
	require.ErrorIs(t, err, domain.ErrMalformedResponse)
	assert.Equal(t, domain.KindRemote, domain.KindOf(err))
}

func TestFetchAssetAccounts_HTTPError(t *testing.T) {
	client, transport := newTestClient(t, false)
	transport.RegisterResponder(http.MethodGet, base+"/accounts",
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"message":"Unauthenticated."}`))

	_, err := client.FetchAssetAccounts(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.KindRemote, domain.KindOf(err))
	assert.Contains(t, err.Error(), "401")
}

func TestFetchAssetAccounts_BadPayload(t *testing.T) {
	client, transport := newTestClient(t, false)
	transport.RegisterResponder(http.MethodGet, base+"/accounts",
		httpmock.NewStringResponder(http.StatusOK, `{"data": [{"id": "abc", "attributes": {}}]}`))

	_, err := client.FetchAssetAccounts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-numeric id")

	transport.Reset()
	transport.RegisterResponder(http.MethodGet, base+"/accounts",
		httpmock.NewStringResponder(http.StatusOK, `not json`))
	_, err = client.FetchAssetAccounts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode accounts page")
}

func TestFetchAssetAccounts_PaginationLoop(t *testing.T) {
	client, transport := newTestClient(t, false)
	transport.RegisterResponder(http.MethodGet, base+"/accounts",
		httpmock.NewStringResponder(http.StatusOK, `{
		  "data": [{"id": "1", "attributes": {"name": "Checking"}}],
		  "links": {"next": "https://ledger.test/api/v1/accounts?type=asset&limit=50&page=1"}
		}`))

	_, err := client.FetchAssetAccounts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pagination loop")
}

func testPayload(t *testing.T) payload.UploadPayload {
	t.Helper()
	tx, err := domain.NewTransaction("b51f0009f3373bd", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		"Coffee Shop", decimal.RequireFromString("-4.50"), "")
	require.NoError(t, err)
	p, err := payload.Build(*tx, domain.ResolvedAccount{ID: 1, CurrencyCode: "USD"}, "preimport 2024-02-01 @ 09:30", true)
	require.NoError(t, err)
	return p
}

const createdBody = `{"data": {"id": "77", "attributes": {"transactions": [{"transaction_journal_id": "701"}]}}}`

func TestCreateTransaction(t *testing.T) {
	client, transport := newTestClient(t, false)
	transport.RegisterResponder(http.MethodPost, base+"/transactions",
		func(req *http.Request) (*http.Response, error) {
			raw, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			var body map[string]any
			require.NoError(t, json.Unmarshal(raw, &body))
			assert.Equal(t, true, body["error_if_duplicate_hash"])
			assert.NotContains(t, string(raw), "preimport 2024-02-01")
			return httpmock.NewStringResponse(http.StatusOK, createdBody), nil
		})

	created, out, err := client.CreateTransaction(context.Background(), testPayload(t))
	require.NoError(t, err)
	assert.Equal(t, upload.StatusSuccess, out.Status)
	assert.Equal(t, &Created{GroupID: "77", JournalIDs: []string{"701"}}, created)
}

func TestCreateTransaction_DuplicateRejected(t *testing.T) {
	client, transport := newTestClient(t, false)
	transport.RegisterResponder(http.MethodPost, base+"/transactions",
		httpmock.NewStringResponder(http.StatusUnprocessableEntity, `{"message":"Duplicate of transaction #12."}`))

	created, out, err := client.CreateTransaction(context.Background(), testPayload(t))
	require.Error(t, err)
	assert.Nil(t, created)
	assert.Equal(t, upload.StatusHTTPFailure, out.Status)
	assert.Contains(t, err.Error(), "b51f0009f3373bd")
	assert.Equal(t, domain.KindRemote, domain.KindOf(err))
}

func TestEnsureTag(t *testing.T) {
	client, transport := newTestClient(t, false)
	transport.RegisterResponder(http.MethodPost, base+"/tags",
		httpmock.NewStringResponder(http.StatusUnprocessableEntity, `{"message":"The tag has already been taken."}`))

	out, err := client.EnsureTag(context.Background(), "batch")
	require.NoError(t, err)
	assert.True(t, out.AlreadyExists)
}

func TestTagTransaction(t *testing.T) {
	client, transport := newTestClient(t, false)
	transport.RegisterResponder(http.MethodPut, base+"/transactions/77",
		func(req *http.Request) (*http.Response, error) {
			raw, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			assert.JSONEq(t, `{
			  "apply_rules": false,
			  "fire_webhooks": false,
			  "transactions": [{"transaction_journal_id": "701", "tags": ["batch"]}]
			}`, string(raw))
			return httpmock.NewStringResponse(http.StatusOK, createdBody), nil
		})

	_, err := client.TagTransaction(context.Background(), &Created{GroupID: "77", JournalIDs: []string{"701"}}, "batch")
	require.NoError(t, err)

	_, err = client.TagTransaction(context.Background(), nil, "batch")
	require.Error(t, err)
}
