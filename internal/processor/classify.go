package processor

import (
	"context"
	"errors"
	"time"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/catalog"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/database"
)

// ErrDuplicate marks an item another path already materialized.
var ErrDuplicate = errors.New("content already materialized")

// Outcome is the queue disposition of one processed item.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	// OutcomeRetry consumes an attempt and reschedules with backoff.
	OutcomeRetry Outcome = "retry"
	// OutcomeFailed is terminal until an explicit bulk retry.
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
	// OutcomeReleased returns the item to pending without consuming an
	// attempt; the item never reached the catalog.
	OutcomeReleased Outcome = "released"
)

// Classify maps an item error onto its disposition.
//
//	network, upstream 5xx, unexpected, store errors -> retry
//	rate limited                                    -> retry (longer backoff)
//	not found, validation                           -> failed
//	duplicate                                       -> skipped
//	breaker open, unauthorized, cancellation        -> released
//
// Only the caller's cancellation releases. The catalog client returns the
// bare context error in that case; an HTTP client timeout arrives as a
// network error that still wraps context.DeadlineExceeded and is retried.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeCompleted
	}
	if errors.Is(err, ErrDuplicate) || database.IsUniqueViolation(err) {
		return OutcomeSkipped
	}

	switch catalog.KindOf(err) {
	case catalog.KindNotFound, catalog.KindValidation:
		return OutcomeFailed
	case catalog.KindUnavailable, catalog.KindUnauthorized:
		return OutcomeReleased
	case "":
	default:
		return OutcomeRetry
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return OutcomeReleased
	}
	return OutcomeRetry
}

// Unreachable reports whether err means the catalog could not be used at
// all, which is a batch-level failure rather than an item failure.
func Unreachable(err error) bool {
	switch catalog.KindOf(err) {
	case catalog.KindUnavailable, catalog.KindUnauthorized:
		return true
	default:
		return false
	}
}

// Backoff is the delay before retry attempt number attempt (1-based).
// The delay grows linearly; rate-limit failures are stretched by multiplier.
func Backoff(err error, attempt int, base time.Duration, multiplier int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(attempt) * base
	if catalog.KindOf(err) == catalog.KindRateLimited && multiplier > 1 {
		delay *= time.Duration(multiplier)
	}
	return delay
}
