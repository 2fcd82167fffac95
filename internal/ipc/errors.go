package ipc

import (
	"errors"
	"fmt"
)

// Kind classifies a failed call.
type Kind int

const (
	// KindTransport: the backend could not be reached or the connection broke.
	KindTransport Kind = iota
	// KindMalformed: a response arrived but is not a valid envelope.
	KindMalformed
	// KindApplication: the backend answered success=false. The message is shown verbatim.
	KindApplication
	// KindUnknownOperation: the op is not part of the protocol. Nothing was sent.
	KindUnknownOperation
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindMalformed:
		return "malformed"
	case KindApplication:
		return "application"
	case KindUnknownOperation:
		return "unknown_operation"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the failure of one IPC call.
type Error struct {
	Op      Op
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindApplication:
		return fmt.Sprintf("ipc %s: %s", e.Op, e.Message)
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("ipc %s: %s: %v", e.Op, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("ipc %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("ipc %s: %s", e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage is the text shown to the user for this failure. Application failures
// carry the backend's message unchanged.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindApplication:
		return e.Message
	case KindTransport:
		if e.Err != nil {
			return fmt.Sprintf("backend unavailable: %v", e.Err)
		}
		return "backend unavailable"
	case KindMalformed:
		return "backend returned a malformed response"
	default:
		return e.Error()
	}
}

// Retryable reports whether repeating the call may succeed. Application failures are
// never retried.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransport || e.Kind == KindMalformed
}

// IsTransport reports whether err is a transport-class IPC failure (including a
// malformed response).
func IsTransport(err error) bool {
	var ipcErr *Error
	return errors.As(err, &ipcErr) && ipcErr.Retryable()
}

// IsApplication reports whether err is a success=false answer from the backend.
func IsApplication(err error) bool {
	var ipcErr *Error
	return errors.As(err, &ipcErr) && ipcErr.Kind == KindApplication
}
