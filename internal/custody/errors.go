package custody

import "errors"

// Kind classifies a custody failure. Anything outside these four kinds is an
// infrastructure error and reaches callers untyped.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindConflict
	KindForbidden
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func notFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

func forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

func invalid(message string) *Error {
	return &Error{Kind: KindInvalid, Message: message}
}

// KindOf returns the failure kind of err, or zero when err is not a custody
// error.
func KindOf(err error) Kind {
	var custodyErr *Error
	if errors.As(err, &custodyErr) {
		return custodyErr.Kind
	}
	return 0
}
