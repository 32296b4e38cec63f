package chat

import "errors"

// Error taxonomy surfaced by the core. Handlers map these to HTTP status
// codes; anything else is an internal error.
var (
	// ErrValidation rejects malformed input synchronously; callers must
	// not retry without changing the request.
	ErrValidation = errors.New("validation failed")

	// ErrForbidden rejects edits/deletes by anyone but the record's
	// author. Never retried, never silently dropped.
	ErrForbidden = errors.New("not the author")

	// ErrNotFound reports an unknown message id.
	ErrNotFound = errors.New("message not found")

	// ErrChannelFailed means the channel's write path was aborted after an
	// internal invariant violation. Operator intervention required; reads
	// keep working.
	ErrChannelFailed = errors.New("channel write path failed")
)
