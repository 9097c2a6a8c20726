package port

import "errors"

var (
	// ErrUnknownAggregate is returned when an aggregate id does not resolve
	ErrUnknownAggregate = errors.New("unknown aggregate")

	// ErrStaleAggregate is returned when an aggregate changed since it was read
	ErrStaleAggregate = errors.New("aggregate was modified concurrently")

	// ErrCounterOverflow is returned when a completion counter would pass its total
	ErrCounterOverflow = errors.New("completion counter already at total")

	// ErrStaleSnapshotVersion is returned when a concurrent writer already took the snapshot version
	ErrStaleSnapshotVersion = errors.New("stale billing snapshot version")

	// ErrContextNotFound is returned when a billing context does not exist
	ErrContextNotFound = errors.New("billing context not found")

	// ErrInvalidContext is returned when billing context membership rules are violated
	ErrInvalidContext = errors.New("invalid billing context")

	// ErrNoSnapshot is returned when an operation needs a snapshot and none exists
	ErrNoSnapshot = errors.New("billing context has no snapshot")

	// ErrDuplicateSequence is returned by a sequence store on a lost race; the generator retries it
	ErrDuplicateSequence = errors.New("duplicate fiscal sequence value")

	// ErrSequenceInTransaction is returned when a sequence is requested inside a business transaction
	ErrSequenceInTransaction = errors.New("fiscal sequence must be issued outside a transaction")

	// ErrTemplateNotFound is returned when a run template id does not resolve
	ErrTemplateNotFound = errors.New("run template not found")
)
