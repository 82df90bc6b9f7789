package core

// These errors are mostly user errors, not internal errors.  Each
// carries a stable code (see Code()) that transports can report.

import (
	"errors"
	"strings"

	"github.com/Comcast/automata/version"
)

// Coded is an error with a stable code.
type Coded interface {
	error
	Code() string
}

// CodedError is a simple Coded error suitable for sentinels.
type CodedError struct {
	code string
	msg  string
}

// NewCodedError makes a sentinel that errors.Is can find.
func NewCodedError(code, msg string) *CodedError {
	return &CodedError{
		code: code,
		msg:  msg,
	}
}

func (e *CodedError) Error() string {
	return e.msg
}

func (e *CodedError) Code() string {
	return e.code
}

var (
	// VersionConflict occurs when another writer committed
	// against the same base version first.  Callers may retry.
	VersionConflict = NewCodedError("VersionConflict", "version conflict")

	// NotFound occurs when there's no such Automata.
	NotFound = NewCodedError("NotFound", "not found")

	// Forbidden occurs when the caller lacks permission.
	Forbidden = NewCodedError("Forbidden", "forbidden")

	// Archived occurs when an event is sent to an archived
	// Automata.
	Archived = NewCodedError("Archived", "automata is archived")
)

// UnknownEventType occurs when the event type isn't in the
// Descriptor's event schemas.
type UnknownEventType struct {
	EventType string   `json:"eventType"`
	Valid     []string `json:"validEventTypes"`
}

func (e *UnknownEventType) Error() string {
	return `unknown event type "` + e.EventType + `" (valid: ` + strings.Join(e.Valid, ", ") + `)`
}

func (e *UnknownEventType) Code() string {
	return "UnknownEventType"
}

// InvalidEventPayload occurs when an event's data doesn't satisfy
// the schema for its type.
type InvalidEventPayload struct {
	EventType string
	Err       error
}

func (e *InvalidEventPayload) Error() string {
	return `invalid payload for "` + e.EventType + `": ` + e.Err.Error()
}

func (e *InvalidEventPayload) Code() string {
	return "InvalidEventPayload"
}

func (e *InvalidEventPayload) Unwrap() error {
	return e.Err
}

// TransitionExecutionFailed occurs when the transition couldn't
// produce a new state for any reason: a bad program, a runtime
// error, a timeout, or a result that violates the state schema.
type TransitionExecutionFailed struct {
	Message string
	Err     error
}

func (e *TransitionExecutionFailed) Error() string {
	return "transition failed: " + e.Message
}

func (e *TransitionExecutionFailed) Code() string {
	return "TransitionExecutionFailed"
}

func (e *TransitionExecutionFailed) Unwrap() error {
	return e.Err
}

func transitionFailed(err error) error {
	return &TransitionExecutionFailed{
		Message: err.Error(),
		Err:     err,
	}
}

// Code returns the stable code for the given error.  Errors without
// a known code are "Internal".
func Code(err error) string {
	if err == nil {
		return ""
	}
	var c Coded
	if errors.As(err, &c) {
		return c.Code()
	}
	var fe *version.FormatError
	switch {
	case errors.As(err, &fe):
		return "FormatError"
	case errors.Is(err, version.Overflow):
		return "Overflow"
	case errors.Is(err, version.Underflow):
		return "Underflow"
	}
	return "Internal"
}
