// Package svcerr defines the error-kind taxonomy shared by every core
// component. These are sentinel values, not a class hierarchy: callers
// compare with errors.Is and wrap with fmt.Errorf("...: %w", ...) the
// same way pkg/circuit does for ErrCircuitOpen.
package svcerr

import "errors"

var (
	// ErrTransientStore means the underlying key/value store failed on an
	// operation that is safe to retry at the next round or poll.
	ErrTransientStore = errors.New("transient store error")

	// ErrBadInput means a payload failed validation and was dropped; it is
	// logged, never retried.
	ErrBadInput = errors.New("bad input")

	// ErrInferenceFailure is per-event: the deep inference collaborator
	// failed for one event. The session continues.
	ErrInferenceFailure = errors.New("inference failure")

	// ErrDownloadFailure is per-event: the referenced image could not be
	// fetched. The session continues.
	ErrDownloadFailure = errors.New("download failure")

	// ErrDeadlineExceeded means a session's soft deadline was hit before
	// every event could be started; already-started events finish.
	ErrDeadlineExceeded = errors.New("deadline exceeded")

	// ErrQueueUnavailable means a queue operation failed; the scheduler
	// pauses the current tier for this round and moves to the next.
	ErrQueueUnavailable = errors.New("queue unavailable")

	// ErrFatal is reserved for shutdown signaling; it never originates
	// from a single event or session.
	ErrFatal = errors.New("fatal")

	// ErrNotFound is returned by store lookups that find nothing.
	ErrNotFound = errors.New("not found")

	// ErrInFlight is returned when an operation targets an event that is
	// already scheduled.
	ErrInFlight = errors.New("event already in flight")

	// ErrRateLimited is returned by a token bucket that has no tokens to
	// give.
	ErrRateLimited = errors.New("rate limited")
)
