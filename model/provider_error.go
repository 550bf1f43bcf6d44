package model

import (
	"errors"
	"fmt"
)

// ProviderErrorKind classifies provider failures into a small set of
// categories suitable for retry and fallback decisions.
type ProviderErrorKind string

const (
	// ProviderErrorKindAuth indicates authentication/authorization failures.
	ProviderErrorKindAuth ProviderErrorKind = "auth"

	// ProviderErrorKindQuota indicates quota or billing exhaustion.
	ProviderErrorKindQuota ProviderErrorKind = "quota"

	// ProviderErrorKindRateLimited indicates the provider is throttling requests.
	ProviderErrorKindRateLimited ProviderErrorKind = "rate_limited"

	// ProviderErrorKindNotFound indicates the referenced model or account
	// resource does not exist ("user not found" class of failures).
	ProviderErrorKindNotFound ProviderErrorKind = "not_found"

	// ProviderErrorKindInvalidRequest indicates the request is invalid and
	// retrying without changing it will not succeed.
	ProviderErrorKindInvalidRequest ProviderErrorKind = "invalid_request"

	// ProviderErrorKindUnavailable indicates a transient provider failure
	// (5xx, network) where a retry may succeed.
	ProviderErrorKindUnavailable ProviderErrorKind = "unavailable"

	// ProviderErrorKindUnknown indicates an unclassified provider failure.
	ProviderErrorKindUnknown ProviderErrorKind = "unknown"
)

// ProviderError describes a failure returned by a model provider. It crosses
// package boundaries so the router can surface stable, structured information
// and decide whether the (provider, model) key is exhausted.
type ProviderError struct {
	provider string
	op       string
	http     int
	kind     ProviderErrorKind
	code     string
	cause    error
}

// NewProviderError constructs a ProviderError. provider and kind are required;
// cause may be nil but is recommended to preserve the original chain.
func NewProviderError(provider, op string, httpStatus int, kind ProviderErrorKind, code string, cause error) *ProviderError {
	if provider == "" {
		panic("model: provider is required")
	}
	if kind == "" {
		panic("model: provider error kind is required")
	}
	return &ProviderError{provider: provider, op: op, http: httpStatus, kind: kind, code: code, cause: cause}
}

// Provider returns the provider identifier (for example, "openai").
func (e *ProviderError) Provider() string { return e.provider }

// Operation returns the provider operation when known (for example, "chat").
func (e *ProviderError) Operation() string { return e.op }

// HTTPStatus returns the provider HTTP status code when available, else 0.
func (e *ProviderError) HTTPStatus() int { return e.http }

// Kind returns the coarse-grained classification.
func (e *ProviderError) Kind() ProviderErrorKind { return e.kind }

// Code returns the provider-specific error code when available.
func (e *ProviderError) Code() string { return e.code }

func (e *ProviderError) Error() string {
	op := e.op
	if op == "" {
		op = "request"
	}
	msg := "provider error"
	if e.cause != nil {
		msg = e.cause.Error()
	}
	if e.code != "" {
		msg = e.code + ": " + msg
	}
	if e.http > 0 {
		return fmt.Sprintf("%s %s %d (%s): %s", e.provider, e.kind, e.http, op, msg)
	}
	return fmt.Sprintf("%s %s (%s): %s", e.provider, e.kind, op, msg)
}

// Unwrap preserves the original error chain.
func (e *ProviderError) Unwrap() error { return e.cause }

// AsProviderError returns the first ProviderError in err's chain, if any.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ClassifyHTTP maps an HTTP status to a ProviderErrorKind using the provider
// conventions shared by OpenAI and Anthropic.
func ClassifyHTTP(status int) ProviderErrorKind {
	switch {
	case status == 401 || status == 403:
		return ProviderErrorKindAuth
	case status == 402:
		return ProviderErrorKindQuota
	case status == 404:
		return ProviderErrorKindNotFound
	case status == 429:
		return ProviderErrorKindRateLimited
	case status >= 500:
		return ProviderErrorKindUnavailable
	case status >= 400:
		return ProviderErrorKindInvalidRequest
	default:
		return ProviderErrorKindUnknown
	}
}
