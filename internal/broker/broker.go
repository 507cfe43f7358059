// Package broker uploads canonical CSV batches to the import-broker auto-upload endpoint
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/rumor-ml/commons.systems/preimport/internal/upload"
)

// Form field and file names the broker expects
const (
	FieldImportable = "importable"
	FieldConfig     = "json"
	FieldSecret     = "secret"
	ImportableName  = "transactions.csv"
	ConfigName      = "config.json"
)

// Uploader posts one CSV file plus its JSON configuration per call
type Uploader struct {
	url        string
	secret     string
	dispatcher *upload.Dispatcher
}

// NewUploader creates an uploader for the broker's auto-upload URL
func NewUploader(url, secret string, dispatcher *upload.Dispatcher) *Uploader {
	return &Uploader{url: url, secret: secret, dispatcher: dispatcher}
}

// Upload sends csvData with config. The returned outcome is StatusDryRun in dry-run mode.
func (u *Uploader) Upload(ctx context.Context, csvData []byte, config map[string]any) (upload.Outcome, error) {
	body, contentType, err := buildForm(csvData, config, u.secret)
	if err != nil {
		return upload.Outcome{}, err
	}

	out := u.dispatcher.Send(ctx, upload.Request{
		Kind:        upload.EndpointBroker,
		Method:      http.MethodPost,
		URL:         u.url,
		Body:        body,
		ContentType: contentType,
	})
	if err := out.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func buildForm(csvData []byte, config map[string]any, secret string) ([]byte, string, error) {
	configJSON, err := json.Marshal(config)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode broker config: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := writeFile(w, FieldImportable, ImportableName, "text/csv", csvData); err != nil {
		return nil, "", err
	}
	if err := writeFile(w, FieldConfig, ConfigName, "application/json", configJSON); err != nil {
		return nil, "", err
	}
	if err := w.WriteField(FieldSecret, secret); err != nil {
		return nil, "", fmt.Errorf("failed to write form field %s: %w", FieldSecret, err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish multipart body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func writeFile(w *multipart.Writer, field, filename, contentType string, data []byte) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to create form file %s: %w", field, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write form file %s: %w", field, err)
	}
	return nil
}
