package serial

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	// KindConnection: the port could not be opened. Not retried.
	KindConnection ErrorKind = iota
	// KindIO: read/write on an open port failed.
	KindIO
	// KindEmpty: the trimmed reply was empty.
	KindEmpty
	// KindDevice: the device reported an error or answered with an unexpected reply.
	KindDevice
	// KindMalformedPayload: the reply does not have the shape the command requires.
	KindMalformedPayload
	KindParseFloat
	KindParseInt
	// KindDecode: a structured reply could not be decoded.
	KindDecode
	// KindArgument: rejected before any I/O.
	KindArgument
	// KindRetriesExhausted: every attempt of a retried exchange failed.
	KindRetriesExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindIO:
		return "io"
	case KindEmpty:
		return "empty_reply"
	case KindDevice:
		return "device_error"
	case KindMalformedPayload:
		return "malformed_payload"
	case KindParseFloat:
		return "parse_float"
	case KindParseInt:
		return "parse_int"
	case KindDecode:
		return "decode"
	case KindArgument:
		return "argument"
	case KindRetriesExhausted:
		return "retries_exhausted"
	default:
		return "unknown"
	}
}

// Retryable reports whether an exchange failing with this kind may be repeated.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindIO, KindEmpty, KindDevice, KindMalformedPayload:
		return true
	default:
		return false
	}
}

type Error struct {
	Kind     ErrorKind
	Command  string
	Response string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("serial %s", e.Kind)
	if e.Command != "" {
		msg += fmt.Sprintf(" on command %q", e.Command)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Response != "" {
		msg += fmt.Sprintf(" (response %q)", e.Response)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
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
