package ferro

import (
	"errors"
	"syscall"
	"testing"

	"github.com/anillo-os/ferrocore/internal/status"
)

func TestStructuredError(t *testing.T) {
	err := NewError("thread_create", status.InvalidArgument, "bad entry point")

	if err.Op != "thread_create" {
		t.Errorf("Expected Op=thread_create, got %s", err.Op)
	}
	if err.Code != status.InvalidArgument {
		t.Errorf("Expected Code=InvalidArgument, got %s", err.Code)
	}

	expected := "ferro: bad entry point (op=thread_create)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestErrorWithErrno(t *testing.T) {
	err := NewErrorWithErrno("page_allocate", status.Forbidden, syscall.EPERM)

	if err.Errno != syscall.EPERM {
		t.Errorf("Expected Errno=EPERM, got %v", err.Errno)
	}
	if err.Code != status.Forbidden {
		t.Errorf("Expected Code=Forbidden, got %s", err.Code)
	}
}

func TestThreadError(t *testing.T) {
	err := NewThreadError("futex_wait", 42, status.TimedOut, "deadline exceeded")

	if err.ThreadID != 42 {
		t.Errorf("Expected ThreadID=42, got %d", err.ThreadID)
	}

	expected := "ferro: deadline exceeded (op=futex_wait)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestWrapErrorFromStatus(t *testing.T) {
	inner := status.New("channel_send", status.Closed)
	err := WrapError("channel_send", inner)

	if err.Code != status.Closed {
		t.Errorf("Expected Code=Closed, got %s", err.Code)
	}
	if !errors.Is(err, inner) {
		t.Error("Expected wrapped error to unwrap to the inner status error")
	}
}

func TestWrapErrorFromErrno(t *testing.T) {
	inner := syscall.ENOENT
	err := WrapError("page_free", inner)

	if err.Code != status.NoSuchResource {
		t.Errorf("Expected Code=NoSuchResource, got %s", err.Code)
	}
	if err.Errno != syscall.ENOENT {
		t.Errorf("Expected Errno=ENOENT, got %v", err.Errno)
	}
	if !errors.Is(err, syscall.ENOENT) {
		t.Error("Expected wrapped error to satisfy errors.Is for ENOENT")
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("futex_wait", status.TimedOut, "operation timed out")

	if !IsCode(err, status.TimedOut) {
		t.Error("IsCode should return true for matching code")
	}
	if IsCode(err, status.BadAddress) {
		t.Error("IsCode should return false for non-matching code")
	}
	if IsCode(nil, status.TimedOut) {
		t.Error("IsCode should return false for nil error")
	}
}

func TestIsErrno(t *testing.T) {
	err := NewErrorWithErrno("page_allocate", status.TemporaryOutage, syscall.ENOMEM)

	if !IsErrno(err, syscall.ENOMEM) {
		t.Error("IsErrno should return true for matching errno")
	}
	if IsErrno(err, syscall.EPERM) {
		t.Error("IsErrno should return false for non-matching errno")
	}
	if IsErrno(nil, syscall.ENOMEM) {
		t.Error("IsErrno should return false for nil error")
	}
}

func TestErrnoMapping(t *testing.T) {
	testCases := []struct {
		errno    syscall.Errno
		expected status.Code
	}{
		{syscall.ENOENT, status.NoSuchResource},
		{syscall.EBUSY, status.AlreadyInProgress},
		{syscall.EINVAL, status.InvalidArgument},
		{syscall.EPERM, status.Forbidden},
		{syscall.ENOMEM, status.TemporaryOutage},
		{syscall.ETIMEDOUT, status.TimedOut},
		{syscall.ENOSYS, status.Unsupported},
		{syscall.EFAULT, status.BadAddress},
	}

	for _, tc := range testCases {
		code := mapErrnoToCode(tc.errno)
		if code != tc.expected {
			t.Errorf("mapErrnoToCode(%v) = %s, want %s", tc.errno, code, tc.expected)
		}
	}
}
