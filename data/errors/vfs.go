package errors

import "errors"

// Sentinel errors for every failure class the VFS can report to a guest.
// Callers match with errors.Is; the factory helpers in this package attach
// context without hiding the sentinel.
var (
	ErrInvalid      = errors.New("vfs: invalid argument")
	ErrNotExist     = errors.New("vfs: no such file or directory")
	ErrPermission   = errors.New("vfs: permission denied")
	ErrNotDirectory = errors.New("vfs: not a directory")
	ErrIsDirectory  = errors.New("vfs: is a directory")
	ErrExist        = errors.New("vfs: file already exists")
	ErrLoopDetected = errors.New("vfs: too many levels of symbolic links")
	ErrNotSupported = errors.New("vfs: operation not supported")
	ErrNotEmpty     = errors.New("vfs: directory not empty")
	ErrNameTooLong  = errors.New("vfs: file name too long")
	ErrReadOnly     = errors.New("vfs: read-only filesystem")
	ErrBusy         = errors.New("vfs: resource busy")
	ErrClosed       = errors.New("vfs: already closed")
	ErrIO           = errors.New("vfs: input/output error")
)
