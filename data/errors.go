package data

import (
	stderrors "errors"
	"syscall"

	"github.com/mwantia/guestvfs/data/errors"
)

// Standard VFS errors that backend implementations should return. These alias
// the sentinels in data/errors so both packages match with errors.Is.
var (
	ErrInvalid      = errors.ErrInvalid
	ErrNotExist     = errors.ErrNotExist
	ErrPermission   = errors.ErrPermission
	ErrNotDirectory = errors.ErrNotDirectory
	ErrIsDirectory  = errors.ErrIsDirectory
	ErrExist        = errors.ErrExist
	ErrLoopDetected = errors.ErrLoopDetected
	ErrNotSupported = errors.ErrNotSupported
	ErrNotEmpty     = errors.ErrNotEmpty
	ErrNameTooLong  = errors.ErrNameTooLong
	ErrReadOnly     = errors.ErrReadOnly
	ErrBusy         = errors.ErrBusy
	ErrClosed       = errors.ErrClosed
	ErrIO           = errors.ErrIO
)

// Errno maps a VFS error onto the POSIX errno the syscall layer reports to
// guests. Unrecognized errors surface as EIO.
func Errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case stderrors.Is(err, ErrNotExist):
		return syscall.ENOENT
	case stderrors.Is(err, ErrPermission):
		return syscall.EACCES
	case stderrors.Is(err, ErrNotDirectory):
		return syscall.ENOTDIR
	case stderrors.Is(err, ErrIsDirectory):
		return syscall.EISDIR
	case stderrors.Is(err, ErrExist):
		return syscall.EEXIST
	case stderrors.Is(err, ErrLoopDetected):
		return syscall.ELOOP
	case stderrors.Is(err, ErrNotSupported):
		return syscall.EOPNOTSUPP
	case stderrors.Is(err, ErrNotEmpty):
		return syscall.ENOTEMPTY
	case stderrors.Is(err, ErrNameTooLong):
		return syscall.ENAMETOOLONG
	case stderrors.Is(err, ErrReadOnly):
		return syscall.EROFS
	case stderrors.Is(err, ErrBusy):
		return syscall.EBUSY
	case stderrors.Is(err, ErrClosed):
		return syscall.EBADF
	case stderrors.Is(err, ErrInvalid):
		return syscall.EINVAL
	default:
		return syscall.EIO
	}
}
