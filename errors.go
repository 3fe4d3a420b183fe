package ferro

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/anillo-os/ferrocore/internal/status"
)

// Error is the structured error every kernel entry point returns,
// wrapping a status.Code with the thread and operation context spec.md
// §7 says a recoverable error carries (the syscall name, the thread
// that made the call, and — for calls that touch host OS resources
// directly, like Arena's mmap — the originating errno).
type Error struct {
	Op       string        // syscall or internal op that failed (e.g. "futex_wait")
	ThreadID uint64        // calling thread id (0 if not applicable)
	Code     status.Code   // taxonomy code (spec.md §6.6)
	Errno    syscall.Errno // host errno, if this wraps a real OS failure
	Msg      string        // human-readable detail
	Inner    error         // wrapped error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.ThreadID != 0 {
		parts = append(parts, fmt.Sprintf("thread=%d", e.ThreadID))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = e.Code.String()
	}

	if len(parts) > 0 {
		return fmt.Sprintf("ferro: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("ferro: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is lets errors.Is match *Error values by code alone, so callers can
// write errors.Is(err, &Error{Code: status.NoSuchResource}) without
// reconstructing the whole value.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// NewError builds a structured error for op.
func NewError(op string, code status.Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewThreadError builds a structured error attributed to a calling thread.
func NewThreadError(op string, threadID uint64, code status.Code, msg string) *Error {
	return &Error{Op: op, ThreadID: threadID, Code: code, Msg: msg}
}

// NewErrorWithErrno builds a structured error wrapping a host errno.
func NewErrorWithErrno(op string, code status.Code, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error()}
}

// WrapError wraps an existing error (internal/status.Error, a host
// syscall.Errno, or anything else) with op context, mapping to the
// closest status.Code when the inner error doesn't already carry one.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	var se *status.Error
	if errors.As(inner, &se) {
		return &Error{Op: op, Code: se.Code, Msg: se.Error(), Inner: inner}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, Code: mapErrnoToCode(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}

	return &Error{Op: op, Code: status.Unknown, Msg: inner.Error(), Inner: inner}
}

// mapErrnoToCode maps a host errno (such as one from Arena's real mmap
// calls) onto the kernel's own taxonomy.
func mapErrnoToCode(errno syscall.Errno) status.Code {
	switch errno {
	case syscall.ENOENT:
		return status.NoSuchResource
	case syscall.EBUSY:
		return status.AlreadyInProgress
	case syscall.EINVAL, syscall.E2BIG:
		return status.InvalidArgument
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return status.Unsupported
	case syscall.EPERM, syscall.EACCES:
		return status.Forbidden
	case syscall.ENOMEM, syscall.ENOSPC:
		return status.TemporaryOutage
	case syscall.ETIMEDOUT:
		return status.TimedOut
	case syscall.EFAULT:
		return status.BadAddress
	default:
		return status.Unknown
	}
}

// IsCode reports whether err carries the given status code, unwrapping
// through any *Error in the chain.
func IsCode(err error, code status.Code) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return status.Is(err, code)
}

// IsErrno reports whether err wraps the given host errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Errno == errno
	}
	return false
}
