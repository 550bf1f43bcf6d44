// Package fault defines the error taxonomy shared by the coaching core.
// Every core operation returns errors carrying one of a small set of kinds so
// callers (and the outer transport layer) can branch on category without
// inspecting messages.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure into a category suitable for propagation and UX
// decisions.
type Kind string

const (
	// KindInvalidInput indicates the caller supplied malformed or out-of-domain data.
	KindInvalidInput Kind = "invalid_input"

	// KindUnauthenticated indicates a missing or invalid principal.
	KindUnauthenticated Kind = "unauthenticated"

	// KindRateLimited indicates the caller exceeded an admission policy.
	KindRateLimited Kind = "rate_limited"

	// KindNotFound indicates the referenced entity does not exist.
	KindNotFound Kind = "not_found"

	// KindPreconditionFailed indicates the entity exists but is in the wrong
	// state for the requested operation.
	KindPreconditionFailed Kind = "precondition_failed"

	// KindUpstreamUnavailable indicates an LLM, vector store, or object store
	// dependency failed and no fallback succeeded.
	KindUpstreamUnavailable Kind = "upstream_unavailable"

	// KindUpstreamQuota indicates an upstream provider rejected the call for
	// quota/billing reasons. The model router treats this as terminal for the
	// (provider, model) key.
	KindUpstreamQuota Kind = "upstream_quota"

	// KindTransientInternal indicates a retryable internal failure.
	KindTransientInternal Kind = "transient_internal"

	// KindInternal indicates a non-retryable internal failure.
	KindInternal Kind = "internal"
)

// Error pairs a Kind with a message and an optional cause.
type Error struct {
	kind  Kind
	msg   string
	cause error
}

// New builds an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind preserving the original chain.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

// Kind returns the error category.
func (e *Error) Kind() Kind { return e.kind }

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

// Unwrap returns the cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// KindOf returns the kind of the first Error in err's chain. Errors outside
// the taxonomy report KindInternal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the failure category is worth retrying without
// changing the request.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransientInternal, KindUpstreamUnavailable:
		return true
	default:
		return false
	}
}
