package chat

import "github.com/pkg/errors"

// Sentinel errors forming the operation failure taxonomy. Handlers map
// these to HTTP statuses; wrap with errors.Wrap to add context while
// keeping errors.Is matching.
var (
	// ErrUnauthenticated means no resolvable caller identity.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNotFound covers both absent records and records the caller has
	// no visibility of; the two are never distinguished.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the caller is authenticated and the target
	// exists, but role or ownership rules disallow the action.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidArgument means malformed input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict means a soft-deleted target prevents the action.
	ErrConflict = errors.New("conflict")
)
