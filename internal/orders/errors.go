package orders

import "errors"

// Error kinds surfaced by the lifecycle core. Handlers map them to HTTP
// statuses; anything else is treated as an internal failure.
var (
	// ErrValidation marks client-correctable input problems; wrap it with
	// fmt.Errorf("%w: ...") to carry detail.
	ErrValidation = errors.New("validation failed")

	// ErrForbidden means the actor sees the order but lacks the role or
	// relationship for the attempted action.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound covers both unknown ids and scope misses, so non-admin
	// callers cannot probe for the existence of other users' orders.
	ErrNotFound = errors.New("order not found")

	// ErrInvalidTransition means the requested status change is not a legal
	// edge from the current persisted status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConflict means the optimistic status precondition failed twice.
	ErrConflict = errors.New("order was modified concurrently")
)
