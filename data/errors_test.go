package data

import (
	goerrors "errors"
	"syscall"
	"testing"

	"github.com/mwantia/guestvfs/data/errors"
)

func TestErrno_Mapping(t *testing.T) {
	cases := map[error]syscall.Errno{
		ErrInvalid:      syscall.EINVAL,
		ErrNotExist:     syscall.ENOENT,
		ErrPermission:   syscall.EACCES,
		ErrNotDirectory: syscall.ENOTDIR,
		ErrIsDirectory:  syscall.EISDIR,
		ErrExist:        syscall.EEXIST,
		ErrLoopDetected: syscall.ELOOP,
		ErrNotSupported: syscall.EOPNOTSUPP,
		ErrNotEmpty:     syscall.ENOTEMPTY,
		ErrNameTooLong:  syscall.ENAMETOOLONG,
		ErrReadOnly:     syscall.EROFS,
		ErrBusy:         syscall.EBUSY,
		ErrClosed:       syscall.EBADF,
		ErrIO:           syscall.EIO,
	}

	for sentinel, want := range cases {
		if got := Errno(sentinel); got != want {
			t.Errorf("Errno(%v) = %v, want %v", sentinel, got, want)
		}
	}

	if got := Errno(goerrors.New("something else")); got != syscall.EIO {
		t.Errorf("unknown errors should map to EIO, got %v", got)
	}
}

func TestErrorFactories_KeepSentinel(t *testing.T) {
	err := errors.NotFound([]byte("missing.txt"))
	if !goerrors.Is(err, ErrNotExist) {
		t.Errorf("NotFound should match ErrNotExist: %v", err)
	}
	if got := Errno(err); got != syscall.ENOENT {
		t.Errorf("wrapped NotFound should map to ENOENT, got %v", got)
	}

	err = errors.SymlinkLoop(40)
	if !goerrors.Is(err, ErrLoopDetected) {
		t.Errorf("SymlinkLoop should match ErrLoopDetected: %v", err)
	}
}
