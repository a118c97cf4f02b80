package machine

import (
	"errors"
)

type ErrorKind int

const (
	// KindNameTaken: another controller in this process already uses the name.
	KindNameTaken ErrorKind = iota
	// KindChannelCountMismatch: configuration, device and readings disagree
	// on the number of channels. Never retried.
	KindChannelCountMismatch
	KindInvalidIndex
	KindRouting
	KindPersistence
)

func (k ErrorKind) String() string {
	switch k {
	case KindNameTaken:
		return "name_taken"
	case KindChannelCountMismatch:
		return "channel_count_mismatch"
	case KindInvalidIndex:
		return "invalid_index"
	case KindRouting:
		return "routing"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind    ErrorKind
	Rig     string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := "rig"
	if e.Rig != "" {
		msg += " " + e.Rig
	}
	msg += ": " + e.Kind.String()
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

// IsKind reports whether any *Error in err's chain has the given kind.
func IsKind(err error, kind ErrorKind) bool {
	for err != nil {
		var me *Error
		if !errors.As(err, &me) {
			return false
		}
		if me.Kind == kind {
			return true
		}
		err = me.Err
	}
	return false
}
