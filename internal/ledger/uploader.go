package ledger

import (
	"context"

	"github.com/rumor-ml/commons.systems/preimport/internal/payload"
	"github.com/rumor-ml/commons.systems/preimport/internal/upload"
)

// Result reports one transaction upload
type Result struct {
	Status  upload.Status
	Created *Created
	// Request is what was sent, or in dry-run mode what would have been sent
	Request upload.Request
	// TagErr is set when the transaction was stored but the batch tag could not be applied
	TagErr error
}

// Uploader sequences ledger uploads for one run: the batch tag is ensured
// once, then each transaction is created and tagged.
type Uploader struct {
	client   *Client
	tag      string
	tagReady bool
}

// NewUploader creates an uploader applying batchTag to everything it stores
func NewUploader(client *Client, batchTag string) *Uploader {
	return &Uploader{client: client, tag: batchTag}
}

// Tag returns the run's batch tag
func (u *Uploader) Tag() string {
	return u.tag
}

// Upload stores p. In dry-run mode no request is sent; the result is StatusDryRun
// and carries the request that would have created the transaction.
func (u *Uploader) Upload(ctx context.Context, p payload.UploadPayload) (Result, error) {
	if !u.client.DryRun() && !u.tagReady && u.tag != "" {
		if _, err := u.client.EnsureTag(ctx, u.tag); err != nil {
			return Result{}, err
		}
		u.tagReady = true
	}

	created, out, err := u.client.CreateTransaction(ctx, p)
	if err != nil {
		return Result{Status: out.Status, Request: out.Request}, err
	}

	result := Result{Status: out.Status, Created: created, Request: out.Request}
	if out.Status == upload.StatusDryRun {
		return result, nil
	}
	if u.tag != "" {
		if _, err := u.client.TagTransaction(ctx, created, u.tag); err != nil {
			result.TagErr = err
		}
	}
	return result, nil
}
