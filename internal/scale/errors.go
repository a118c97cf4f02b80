package scale

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindNotInitialized ErrorKind = iota
	KindLengthMismatch
	KindNoSuccessfulReads
	KindNotCalibrated
	KindInvalidArgument
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotInitialized:
		return "not_initialized"
	case KindLengthMismatch:
		return "length_mismatch"
	case KindNoSuccessfulReads:
		return "no_successful_reads"
	case KindNotCalibrated:
		return "not_calibrated"
	case KindInvalidArgument:
		return "invalid_argument"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := "scale " + e.Kind.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether any *Error in err's chain has the given kind.
func IsKind(err error, kind ErrorKind) bool {
	for err != nil {
		var se *Error
		if !errors.As(err, &se) {
			return false
		}
		if se.Kind == kind {
			return true
		}
		err = se.Err
	}
	return false
}
