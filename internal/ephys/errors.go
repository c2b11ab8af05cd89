package ephys

import "errors"

var (
	// ErrMalformedInput marks recordings whose channels cannot be analysed.
	ErrMalformedInput = errors.New("malformed input")
	// ErrUnsupportedCondition marks a criterion that cannot be parsed or evaluated.
	ErrUnsupportedCondition = errors.New("unsupported condition")
	// ErrMissingFeature marks a property name with no registered calculator.
	ErrMissingFeature = errors.New("missing feature calculator")
	// ErrInvalidArgument marks a property whose "__" arguments do not fit its calculator.
	ErrInvalidArgument = errors.New("invalid feature argument")
	// ErrPrecondition marks a calculation whose assumptions do not hold for the data.
	ErrPrecondition = errors.New("precondition violated")
	// ErrWindowTooLarge marks a response window reaching past the trace.
	ErrWindowTooLarge = errors.New("window too large")
	// ErrInconsistentResponses marks responses that cannot be averaged together.
	ErrInconsistentResponses = errors.New("inconsistent responses")
	// ErrNoResponses marks an aggregation over an empty response set.
	ErrNoResponses = errors.New("no responses")
)

// WindowError names the side of a response window that overflowed the trace.
type WindowError struct {
	Side      string
	Requested int
	Available int
}

func (e *WindowError) Error() string {
	return e.Side + " window too big"
}

// Is lets errors.Is match ErrWindowTooLarge.
func (e *WindowError) Is(target error) bool {
	return target == ErrWindowTooLarge
}
