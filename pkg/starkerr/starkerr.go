// Package starkerr defines the typed error taxonomy used across the
// orchestrator and agent (§7). Each kind is a distinct Go type so callers can
// discriminate with errors.As instead of string-matching a generic error.
package starkerr

import (
	"errors"
	"fmt"
)

// Kind identifies a taxonomy entry for logging and metrics labeling.
type Kind string

const (
	KindAuth              Kind = "AuthError"
	KindPolicyDenied      Kind = "PolicyDenied"
	KindNotFound          Kind = "NotFound"
	KindConflict          Kind = "Conflict"
	KindResourceExhausted Kind = "ResourceExhausted"
	KindTransportClosed   Kind = "TransportClosed"
	KindTimeout           Kind = "Timeout"
	KindCancelled         Kind = "Cancelled"
	KindInvalid           Kind = "Invalid"
	KindInternal          Kind = "Internal"

	// Agent-side extras.
	KindTaskCancelled      Kind = "TaskCancelled"
	KindTaskTimeout        Kind = "TaskTimeout"
	KindWorkerNotInitialized Kind = "WorkerNotInitialized"
)

// Error is the common shape for every taxonomy entry.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "scheduler.schedule"
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Cause: cause}
}

func Auth(op, msg string) error              { return newErr(KindAuth, op, msg, nil) }
func PolicyDenied(op, msg string) error       { return newErr(KindPolicyDenied, op, msg, nil) }
func NotFound(op, msg string) error           { return newErr(KindNotFound, op, msg, nil) }
func Conflict(op, msg string) error           { return newErr(KindConflict, op, msg, nil) }
func ResourceExhausted(op, msg string) error  { return newErr(KindResourceExhausted, op, msg, nil) }
func TransportClosed(op, msg string) error    { return newErr(KindTransportClosed, op, msg, nil) }
func Timeout(op, msg string) error            { return newErr(KindTimeout, op, msg, nil) }
func Cancelled(op, msg string) error          { return newErr(KindCancelled, op, msg, nil) }
func Invalid(op, msg string) error            { return newErr(KindInvalid, op, msg, nil) }
func Internal(op, msg string, cause error) error {
	return newErr(KindInternal, op, msg, cause)
}
func TaskCancelled(op, msg string) error        { return newErr(KindTaskCancelled, op, msg, nil) }
func TaskTimeout(op, msg string) error          { return newErr(KindTaskTimeout, op, msg, nil) }
func WorkerNotInitialized(op, msg string) error { return newErr(KindWorkerNotInitialized, op, msg, nil) }

// KindOf extracts the Kind from err if it (or something it wraps) is an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsRetryable reports whether the error belongs to the retry-locally class
// (§7 propagation rules): TransportClosed (reconnect), Conflict (reload and
// retry once), Timeout on signaling (new attempt up to N).
func IsRetryable(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case KindTransportClosed, KindConflict, KindTimeout:
		return true
	default:
		return false
	}
}

// IsUserFacing reports whether the error should be surfaced directly to the
// caller rather than retried or absorbed into pod.statusMessage.
func IsUserFacing(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case KindPolicyDenied, KindNotFound, KindAuth, KindInvalid:
		return true
	default:
		return false
	}
}
