package vfs

import (
	"context"

	"github.com/mwantia/guestvfs/data"
)

// Fs is the capability interface every storage backend implements. A mounted
// Fs serves one subtree of the virtual filesystem; the overlay is itself an
// Fs, so unions nest for free.
type Fs interface {
	// ProviderName returns the identifier name of this backend.
	ProviderName() string

	// Capabilities returns the optional features this backend supports.
	// Callers use this to decide between delegation and emulation.
	Capabilities() Capabilities

	// Root returns the root directory node. It must always succeed.
	Root() FsNode

	// NodeByInode revives a node from its backend-local inode id, if the
	// backend still knows it.
	NodeByInode(id data.BackendInodeId) (FsNode, bool)
}

// FsNode is one object inside a backend. Operations a backend does not
// implement return data.ErrNotSupported, never panic; returning inode zero
// is an invariant violation.
//
// Directory-shaped operations (Lookup, CreateFile, Mkdir, Unlink, Rmdir,
// ReadDir, Rename, Link, Symlink) address direct children by validated Name
// and fail with data.ErrNotDirectory on non-directories.
type FsNode interface {
	// Inode returns the backend-local inode id. Never zero.
	Inode() data.BackendInodeId

	// FileType returns the kind of this object.
	FileType() data.FileType

	// Metadata reads the current stat record. The Mount half of the inode is
	// left for the resolver to stamp in.
	Metadata(ctx context.Context) (*data.Metadata, error)

	// SetMetadata applies a partial metadata update.
	SetMetadata(ctx context.Context, update *data.MetadataUpdate) error

	// Lookup resolves one child by name.
	Lookup(ctx context.Context, name data.Name) (FsNode, error)

	// CreateFile creates a regular file child.
	CreateFile(ctx context.Context, name data.Name, opts CreateFileOptions) (FsNode, error)

	// Mkdir creates a directory child.
	Mkdir(ctx context.Context, name data.Name, opts MkdirOptions) (FsNode, error)

	// Unlink removes a non-directory child.
	Unlink(ctx context.Context, name data.Name) error

	// Rmdir removes an empty directory child.
	Rmdir(ctx context.Context, name data.Name) error

	// ReadDir returns up to max entries starting at cursor. The zero cursor
	// starts at the beginning; Next in the returned batch resumes the scan.
	// Cursors stay valid absent concurrent mutation of the directory.
	ReadDir(ctx context.Context, cursor DirCursor, max int) (*DirBatch, error)

	// Rename moves oldName under newParent as newName. newParent belongs to
	// the same Fs.
	Rename(ctx context.Context, oldName data.Name, newParent FsNode, newName data.Name) error

	// Open opens this node for I/O.
	Open(ctx context.Context, opts OpenOptions) (FsHandle, error)

	// Link creates a hard link to existing under this directory.
	Link(ctx context.Context, existing FsNode, newName data.Name) error

	// Symlink creates a symbolic link child pointing at target.
	Symlink(ctx context.Context, newName data.Name, target data.Path) error

	// Readlink returns the symlink target of this node.
	Readlink(ctx context.Context) (data.Path, error)
}

// FsHandle is an open file within a backend. ReadAt follows the io.ReaderAt
// contract and returns io.EOF when fewer than len(p) bytes remain.
type FsHandle interface {
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	WriteAt(ctx context.Context, p []byte, off int64) (int, error)
	Truncate(ctx context.Context, size int64) error
	Sync(ctx context.Context) error
	Close() error
}

// DirCursor is an opaque position inside a directory scan. Zero means the
// beginning.
type DirCursor uint64

// DirEntry is one directory listing entry.
type DirEntry struct {
	Name  data.Name
	Inode data.BackendInodeId
	Type  data.FileType
}

// DirBatch is one page of a directory scan.
type DirBatch struct {
	Entries []DirEntry

	// Next resumes the scan when More is set.
	Next DirCursor
	More bool
}
