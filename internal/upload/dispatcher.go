// Package upload sends requests to the ledger and import-broker APIs and
// classifies every exchange into an Outcome.
package upload

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"
	"unicode/utf8"

	"github.com/carlmjohnson/requests"

	"github.com/rumor-ml/commons.systems/preimport/internal/domain"
)

// DefaultTimeout bounds every remote call when Options.Timeout is unset
const DefaultTimeout = 30 * time.Second

// MaxErrorBody is how much of a failed response body is kept in errors
const MaxErrorBody = 500

// EndpointKind names the remote operation a request performs
type EndpointKind string

const (
	EndpointAccounts    EndpointKind = "accounts"
	EndpointTransaction EndpointKind = "transaction"
	EndpointTag         EndpointKind = "tag"
	EndpointTagUpdate   EndpointKind = "tag_update"
	EndpointBroker      EndpointKind = "broker"
)

// Status classifies an Outcome
type Status int

const (
	StatusDryRun Status = iota + 1
	StatusSuccess
	StatusHTTPFailure
	StatusTransportFailure
)

func (s Status) String() string {
	switch s {
	case StatusDryRun:
		return "dry-run"
	case StatusSuccess:
		return "success"
	case StatusHTTPFailure:
		return "http-failure"
	case StatusTransportFailure:
		return "transport-failure"
	default:
		return "unknown"
	}
}

// Request describes one remote call. JSON takes precedence over Body.
type Request struct {
	Kind        EndpointKind
	Method      string
	URL         string
	JSON        any
	Body        []byte
	ContentType string
}

// Endpoint returns "METHOD URL" for logs and errors
func (r Request) Endpoint() string {
	return r.Method + " " + r.URL
}

// Outcome is the classified result of Dispatcher.Send
type Outcome struct {
	Status     Status
	Request    Request
	StatusCode int
	Body       []byte
	// AlreadyExists is set when a tag creation was rejected because the tag exists
	AlreadyExists bool
	Cause         error
}

// OK reports whether the request succeeded or was skipped by dry-run
func (o Outcome) OK() bool {
	return o.Status == StatusSuccess || o.Status == StatusDryRun
}

// Err converts failures into a *domain.RemoteError, nil otherwise
func (o Outcome) Err() error {
	switch o.Status {
	case StatusHTTPFailure:
		return &domain.RemoteError{
			Endpoint:   o.Request.Endpoint(),
			StatusCode: o.StatusCode,
			Body:       snippet(o.Body),
		}
	case StatusTransportFailure:
		return &domain.RemoteError{
			Endpoint:  o.Request.Endpoint(),
			Transport: true,
			Err:       o.Cause,
		}
	default:
		return nil
	}
}

func snippet(body []byte) string {
	return Truncate(string(bytes.TrimSpace(body)), MaxErrorBody)
}

// Truncate cuts s to at most limit runes, marking the cut with an ellipsis
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "…"
}

// Options configures the dispatcher's credentials and HTTP client
type Options struct {
	Token              string
	Timeout            time.Duration
	CACertPath         string
	InsecureSkipVerify bool
	DryRun             bool
	// Transport overrides the HTTP transport; tests inject httpmock here
	Transport http.RoundTripper
}

// Dispatcher owns the HTTP client and bearer token shared by every remote call
type Dispatcher struct {
	client *http.Client
	token  string
	dryRun bool
}

// NewDispatcher builds a dispatcher from opts
func NewDispatcher(opts Options) (*Dispatcher, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := opts.Transport
	if transport == nil {
		tlsConfig, err := buildTLSConfig(opts.CACertPath, opts.InsecureSkipVerify)
		if err != nil {
			return nil, err
		}
		base := http.DefaultTransport.(*http.Transport).Clone()
		base.TLSClientConfig = tlsConfig
		transport = base
	}

	return &Dispatcher{
		client: &http.Client{Timeout: timeout, Transport: transport},
		token:  opts.Token,
		dryRun: opts.DryRun,
	}, nil
}

func buildTLSConfig(caPath string, skipVerify bool) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if skipVerify {
		cfg.InsecureSkipVerify = true //nolint:gosec // opt-in via config
	}
	if caPath == "" {
		return cfg, nil
	}

	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA bundle %s: %w", caPath, err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in CA bundle %s", caPath)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// DryRun reports whether mutating requests are skipped
func (d *Dispatcher) DryRun() bool {
	return d.dryRun
}

// Send performs req and classifies the response. GET requests always go out;
// anything else is returned as StatusDryRun without a network call in dry-run mode.
// No retries are attempted.
func (d *Dispatcher) Send(ctx context.Context, req Request) Outcome {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if d.dryRun && req.Method != http.MethodGet {
		return Outcome{Status: StatusDryRun, Request: req}
	}

	var (
		statusCode int
		body       bytes.Buffer
	)

	builder := requests.URL(req.URL).
		Client(d.client).
		Method(req.Method).
		Accept("application/json").
		AddValidator(func(res *http.Response) error {
			statusCode = res.StatusCode
			return nil
		}).
		ToBytesBuffer(&body)
	if d.token != "" {
		builder.Bearer(d.token)
	}
	switch {
	case req.JSON != nil:
		builder.BodyJSON(req.JSON)
	case req.Body != nil:
		builder.BodyBytes(req.Body)
		if req.ContentType != "" {
			builder.ContentType(req.ContentType)
		}
	}

	// The validator accepts every status, so any error here happened before a response arrived
	if err := builder.Fetch(ctx); err != nil {
		return Outcome{Status: StatusTransportFailure, Request: req, Cause: err}
	}

	return classify(req, statusCode, body.Bytes())
}

func classify(req Request, statusCode int, body []byte) Outcome {
	out := Outcome{Request: req, StatusCode: statusCode, Body: body}
	switch {
	case statusCode >= 200 && statusCode < 300:
		out.Status = StatusSuccess
	case statusCode == http.StatusUnprocessableEntity && req.Kind == EndpointTag:
		out.Status = StatusSuccess
		out.AlreadyExists = true
	default:
		out.Status = StatusHTTPFailure
	}
	return out
}
