package catalog

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies catalog failures so callers can pick a retry policy.
type Kind string

const (
	KindNetwork      Kind = "network"
	KindUpstream     Kind = "upstream_failure"
	KindRateLimited  Kind = "rate_limited"
	KindNotFound     Kind = "not_found"
	KindValidation   Kind = "validation"
	KindUnauthorized Kind = "unauthorized"
	KindUnavailable  Kind = "unavailable"
	KindUnexpected   Kind = "unexpected"
)

// Error is a classified catalog failure.
type Error struct {
	Kind       Kind
	StatusCode int
	Path       string
	Field      string
	Cause      error
}

func (e *Error) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("catalog %s: field %q for %s", e.Kind, e.Field, e.Path)
	case e.StatusCode > 0:
		return fmt.Sprintf("catalog %s: HTTP %d for %s", e.Kind, e.StatusCode, e.Path)
	default:
		return fmt.Sprintf("catalog %s: %v for %s", e.Kind, e.Cause, e.Path)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// ClassifyHTTPStatus creates an Error from a non-2xx status code.
func ClassifyHTTPStatus(statusCode int, path string) *Error {
	cause := fmt.Errorf("HTTP %d", statusCode)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, StatusCode: statusCode, Path: path, Cause: cause}
	case statusCode == http.StatusNotFound:
		return &Error{Kind: KindNotFound, StatusCode: statusCode, Path: path, Cause: cause}
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &Error{Kind: KindUnauthorized, StatusCode: statusCode, Path: path, Cause: cause}
	case statusCode >= http.StatusInternalServerError:
		return &Error{Kind: KindUpstream, StatusCode: statusCode, Path: path, Cause: cause}
	default:
		return &Error{Kind: KindUnexpected, StatusCode: statusCode, Path: path, Cause: cause}
	}
}

// ClassifyNetworkError creates an Error for transport-level failures (DNS,
// timeout, reset).
func ClassifyNetworkError(cause error, path string) *Error {
	return &Error{Kind: KindNetwork, Path: path, Cause: cause}
}

func validationError(path, field string) *Error {
	return &Error{
		Kind:  KindValidation,
		Path:  path,
		Field: field,
		Cause: fmt.Errorf("missing or malformed %s", field),
	}
}

// KindOf returns the Kind of err, or "" when err is not a catalog error.
func KindOf(err error) Kind {
	var catErr *Error
	if errors.As(err, &catErr) {
		return catErr.Kind
	}
	return ""
}

// countsAgainstBreaker reports whether err says the catalog itself is
// unhealthy. Per-item answers like not-found are healthy responses.
func countsAgainstBreaker(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindUpstream, KindUnauthorized:
		return true
	default:
		return false
	}
}
