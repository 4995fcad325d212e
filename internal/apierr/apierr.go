// Package apierr defines the error taxonomy for calls to external AI
// services. Callers match with errors.Is against the sentinels; StatusError
// carries the provider status and body for diagnostics.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConfiguration means the endpoint or credential was never set.
	ErrConfiguration = errors.New("api: missing endpoint or credential")

	// ErrRateLimited is the only transport error the retry policy re-attempts.
	ErrRateLimited = errors.New("api: rate limited")

	ErrAuth       = errors.New("api: invalid credential")
	ErrNotFound   = errors.New("api: endpoint not found")
	ErrValidation = errors.New("api: invalid or empty response")
	ErrConnection = errors.New("api: connection failed")
	ErrProvider   = errors.New("api: provider error")

	// Voice clone upload failures, classified by provider status.
	ErrUploadParams = errors.New("voice upload: invalid parameters")
	ErrUploadAuth   = errors.New("voice upload: invalid credential")
	ErrUploadFailed = errors.New("voice upload: failed")
)

// StatusError wraps a sentinel with the HTTP status and response body that
// produced it.
type StatusError struct {
	Status int
	Body   string
	kind   error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: status=%d body=%s", e.kind, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error {
	return e.kind
}

// FromStatus maps a non-2xx provider response to the error taxonomy.
func FromStatus(status int, body string) error {
	var kind error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrAuth
	case status == http.StatusNotFound:
		kind = ErrNotFound
	case status == http.StatusTooManyRequests:
		kind = ErrRateLimited
	default:
		kind = ErrProvider
	}
	return &StatusError{Status: status, Body: body, kind: kind}
}

// FromUploadStatus maps a failed voice clone upload to its error kind.
func FromUploadStatus(status int, body string) error {
	var kind error
	switch status {
	case http.StatusBadRequest:
		kind = ErrUploadParams
	case http.StatusUnauthorized:
		kind = ErrUploadAuth
	default:
		kind = ErrUploadFailed
	}
	return &StatusError{Status: status, Body: body, kind: kind}
}
