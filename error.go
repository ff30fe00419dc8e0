package streamsynth

import "fmt"

type constError string

// Error kinds exposed to callers.
// Returned errors wrap one of these; test with [errors.Is].
const (
	ErrInsufficientMemory = constError("insufficient memory")
	ErrStorageFailure     = constError("storage failure")
	ErrNotFound           = constError("not found")
	ErrCorrupted          = constError("corrupted")
	ErrAborted            = constError("aborted")
	ErrInvalidConfig      = constError("invalid configuration")
)

func (errStr constError) Error() string { return string(errStr) }

// ConsistencyError describes a logic bug detected at runtime,
// such as a reason count dropping below zero.
// It is only ever raised through panic; continuing after one
// would risk corrupting the shared arena.
type ConsistencyError struct {
	// Tag is the short diagnostic supplied by the caller that tripped the check.
	Tag    string
	Reason string
}

func (ce *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency violation [%s]: %s", ce.Tag, ce.Reason)
}

// Fatal halts with a [*ConsistencyError].
func Fatal(tag, reason string) {
	panic(&ConsistencyError{Tag: tag, Reason: reason})
}
