// Package errdefs defines the error taxonomy shared by every burrow component.
//
// Errors carry a Kind so callers can branch on what went wrong without string
// matching. Each *Error also unwraps to the equivalent containerd errdefs
// sentinel (or context.DeadlineExceeded for timeouts), so errors.Is works with
// either vocabulary.
package errdefs

import (
	"context"
	"errors"
	"fmt"

	cerrdefs "github.com/containerd/errdefs"
)

// Kind classifies an error
type Kind int

const (
	KindUnknown Kind = iota
	KindConnection
	KindTimeout
	KindNotFound
	KindConflict
	KindScheduler
	KindValidation
	KindNodeUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindTimeout:
		return "timeout"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindScheduler:
		return "scheduler"
	case KindValidation:
		return "validation"
	case KindNodeUnavailable:
		return "node_unavailable"
	default:
		return "unknown"
	}
}

// Error is a classified error. Op names the failed operation, Code carries the
// collaborator's original error code when there is one.
type Error struct {
	Kind    Kind
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s (code %s)", msg, e.Code)
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// Unwrap exposes the cause and the matching sentinel
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if s := sentinel(e.Kind); s != nil {
		errs = append(errs, s)
	}
	return errs
}

func sentinel(k Kind) error {
	switch k {
	case KindConnection, KindNodeUnavailable:
		return cerrdefs.ErrUnavailable
	case KindTimeout:
		return context.DeadlineExceeded
	case KindNotFound:
		return cerrdefs.ErrNotFound
	case KindConflict:
		return cerrdefs.ErrAlreadyExists
	case KindValidation:
		return cerrdefs.ErrInvalidArgument
	default:
		return nil
	}
}

func newError(kind Kind, op string, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// Connection reports that a node was unreachable or refused authentication
func Connection(op string, err error, format string, args ...interface{}) *Error {
	return newError(KindConnection, op, err, format, args...)
}

// Timeout reports that an operation exceeded its deadline
func Timeout(op string, err error, format string, args ...interface{}) *Error {
	return newError(KindTimeout, op, err, format, args...)
}

// NotFound reports an absent cluster, node, task or table
func NotFound(op string, format string, args ...interface{}) *Error {
	return newError(KindNotFound, op, nil, format, args...)
}

// Conflict reports a duplicate entity or a rejected concurrent write
func Conflict(op string, format string, args ...interface{}) *Error {
	return newError(KindConflict, op, nil, format, args...)
}

// Validation reports malformed input or configuration
func Validation(op string, format string, args ...interface{}) *Error {
	return newError(KindValidation, op, nil, format, args...)
}

// NodeUnavailable reports that the node hosting an entity can no longer be reached
func NodeUnavailable(op string, err error, format string, args ...interface{}) *Error {
	return newError(KindNodeUnavailable, op, err, format, args...)
}

// Scheduler wraps a failure surfaced by the scheduler collaborator
func Scheduler(op, code string, err error) *Error {
	return &Error{Kind: KindScheduler, Op: op, Code: code, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsConnection(err error) bool      { return KindOf(err) == KindConnection }
func IsTimeout(err error) bool         { return KindOf(err) == KindTimeout }
func IsNotFound(err error) bool        { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool        { return KindOf(err) == KindConflict }
func IsScheduler(err error) bool       { return KindOf(err) == KindScheduler }
func IsValidation(err error) bool      { return KindOf(err) == KindValidation }
func IsNodeUnavailable(err error) bool { return KindOf(err) == KindNodeUnavailable }
