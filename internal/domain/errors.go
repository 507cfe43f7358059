package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Wrap them with fmt.Errorf("...: %w") to add context;
// KindOf still classifies the wrapped error.
var (
	// ErrUnsupportedFormat is returned when neither a CSV structure nor an OFX signature is found
	ErrUnsupportedFormat = errors.New("unsupported input format")

	// ErrHeaderNotFound is returned when no CSV header row has all required columns
	ErrHeaderNotFound = errors.New("header row not found")

	// ErrDateParse is returned when a date matches none of the accepted formats
	ErrDateParse = errors.New("unrecognized date")

	// ErrAmountParse is returned when an amount cell cannot be read as a decimal
	ErrAmountParse = errors.New("unrecognized amount")

	// ErrMalformedStatement is returned when an OFX document has no parseable statements
	ErrMalformedStatement = errors.New("malformed statement")

	// ErrUnknownAccount is returned when an explicit account id is absent from the directory
	ErrUnknownAccount = errors.New("unknown account")

	// ErrEmptyDirectory is returned when the ledger lists no asset accounts
	ErrEmptyDirectory = errors.New("no asset accounts returned")

	// ErrMalformedResponse is returned when a remote API answers with a body that cannot be decoded
	ErrMalformedResponse = errors.New("malformed response")

	// ErrNoAccountSelected is returned when no account could be resolved in a non-interactive run
	ErrNoAccountSelected = errors.New("no account selected")

	// ErrSkipped is returned when the user chose to skip the current file
	ErrSkipped = errors.New("skipped at user request")
)

// Kind is the error taxonomy reported for each failed file
type Kind string

const (
	KindFormat         Kind = "format"
	KindParse          Kind = "parse"
	KindReconciliation Kind = "reconciliation"
	KindRemote         Kind = "remote"
	KindConfig         Kind = "config"
	KindUnknown        Kind = "unknown"
)

// kinded is implemented by error types that know their own Kind
type kinded interface {
	Kind() Kind
}

// KindOf classifies err by walking its wrap chain
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}

	switch {
	case errors.Is(err, ErrUnsupportedFormat):
		return KindFormat
	case errors.Is(err, ErrHeaderNotFound),
		errors.Is(err, ErrDateParse),
		errors.Is(err, ErrAmountParse),
		errors.Is(err, ErrMalformedStatement):
		return KindParse
	case errors.Is(err, ErrUnknownAccount),
		errors.Is(err, ErrNoAccountSelected),
		errors.Is(err, ErrEmptyDirectory):
		return KindReconciliation
	case errors.Is(err, ErrMalformedResponse):
		return KindRemote
	default:
		return KindUnknown
	}
}

// RemoteError represents a failed exchange with a remote API.
// Transport is true for network/timeout failures, false for non-2xx statuses.
type RemoteError struct {
	Endpoint   string
	StatusCode int
	Body       string
	Transport  bool
	Err        error
}

func (e *RemoteError) Error() string {
	if e.Transport {
		return fmt.Sprintf("request to %s failed: %v", e.Endpoint, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("request to %s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("request to %s returned status %d", e.Endpoint, e.StatusCode)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Kind implements kinded
func (e *RemoteError) Kind() Kind {
	return KindRemote
}

// FileError attaches the source path to a per-file failure
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}
