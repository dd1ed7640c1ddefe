package apperrors

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Kind classifies a failure for propagation and display.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindProtocol
	KindApplication
	KindValidation
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindProtocol:
		return "protocol"
	case KindApplication:
		return "application"
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// PreviewLimit bounds how much of an unexpected response body is echoed back.
const PreviewLimit = 200

type Error struct {
	Kind    Kind
	Op      string // backend action or local operation, e.g. "quiz", "validate"
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s error: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func Network(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Message: err.Error(), Err: err}
}

// Timeout is a NetworkError raised when a bounded wait expires.
func Timeout(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Message: "request timed out", Err: err}
}

// Protocol reports a non-2xx status or a body that is not the expected JSON.
// Only a bounded preview of body is kept.
func Protocol(op, reason string, body []byte) *Error {
	msg := reason
	if p := Preview(body); p != "" {
		msg = reason + ": " + p
	}
	return &Error{Kind: KindProtocol, Op: op, Message: msg}
}

func Application(op, message string) *Error {
	return &Error{Kind: KindApplication, Op: op, Message: message}
}

func Auth(op, message string) *Error {
	return &Error{Kind: KindAuth, Op: op, Message: message}
}

func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsKind(err error, k Kind) bool { return err != nil && KindOf(err) == k }

// IsTimeout reports whether err is a NetworkError caused by an expired deadline.
func IsTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindNetwork && e.Message == "request timed out"
}

// Preview returns at most PreviewLimit characters of body.
func Preview(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if utf8.RuneCount(body) <= PreviewLimit {
		return string(body)
	}
	n := 0
	for i := range string(body) {
		if n == PreviewLimit {
			return string(body[:i])
		}
		n++
	}
	return string(body)
}
