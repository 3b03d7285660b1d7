package vfs

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/data/errors"
)

// FileHandle is an open file. It pins its mount for its whole lifetime and
// enforces the access mode it was opened with; the backend handle underneath
// never sees a request the open mode does not allow.
type FileHandle struct {
	id     data.HandleId
	guard  *MountGuard
	node   FsNode
	inner  FsHandle
	access data.AccessMode
	closed atomic.Bool
}

// Id returns the handle's identity for logs and registries.
func (h *FileHandle) Id() data.HandleId {
	return h.id
}

// Inode returns the global identity of the open object.
func (h *FileHandle) Inode() data.Inode {
	return data.Inode{Mount: h.guard.MountId(), Backend: h.node.Inode()}
}

// Metadata reads the current stat record of the open object.
func (h *FileHandle) Metadata(ctx context.Context) (*data.Metadata, error) {
	if h.closed.Load() {
		return nil, errors.HandleClosed(string(h.id))
	}

	md, err := h.node.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	md.Inode.Mount = h.guard.MountId()
	return md, nil
}

func (h *FileHandle) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if h.closed.Load() {
		return 0, errors.HandleClosed(string(h.id))
	}
	if !h.access.HasRead() {
		return 0, errors.ErrPermission
	}
	return h.inner.ReadAt(ctx, p, off)
}

func (h *FileHandle) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	if h.closed.Load() {
		return 0, errors.HandleClosed(string(h.id))
	}
	if !h.access.HasWrite() {
		return 0, errors.ErrPermission
	}

	if h.access.HasAppend() {
		md, err := h.node.Metadata(ctx)
		if err != nil {
			return 0, err
		}
		off = md.Size
	}

	return h.inner.WriteAt(ctx, p, off)
}

func (h *FileHandle) Truncate(ctx context.Context, size int64) error {
	if h.closed.Load() {
		return errors.HandleClosed(string(h.id))
	}
	if !h.access.HasWrite() {
		return errors.ErrPermission
	}
	return h.inner.Truncate(ctx, size)
}

func (h *FileHandle) Sync(ctx context.Context) error {
	if h.closed.Load() {
		return errors.HandleClosed(string(h.id))
	}
	return h.inner.Sync(ctx)
}

// Close closes the backend handle and drops the mount pin. Further calls
// return data.ErrClosed.
func (h *FileHandle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return errors.HandleClosed(string(h.id))
	}

	err := h.inner.Close()
	h.guard.Release()
	return err
}

// DirHandle is an open directory, usable as a resolution base for relative
// paths. It records inode ids rather than nodes, so the backing node is
// revived fresh on each use; the pin keeps the backend from disappearing
// underneath it.
type DirHandle struct {
	id     data.HandleId
	guard  *MountGuard
	inode  data.BackendInodeId
	parent data.BackendInodeId

	mu      sync.Mutex
	cursor  DirCursor
	drained bool
	closed  atomic.Bool
}

// Id returns the handle's identity.
func (h *DirHandle) Id() data.HandleId {
	return h.id
}

// Mount returns the pinned mount's id.
func (h *DirHandle) Mount() data.MountId {
	return h.guard.MountId()
}

// Inode returns the global identity of the open directory.
func (h *DirHandle) Inode() data.Inode {
	return data.Inode{Mount: h.guard.MountId(), Backend: h.inode}
}

// node revives the directory node and its cached parent link from the
// backend. A parent of zero means the handle sits at the mount root.
func (h *DirHandle) node(fs Fs) (FsNode, FsNode, error) {
	if h.closed.Load() {
		return nil, nil, errors.HandleClosed(string(h.id))
	}

	node, ok := fs.NodeByInode(h.inode)
	if !ok {
		return nil, nil, errors.StaleHandle(string(h.id))
	}

	var parent FsNode
	if h.parent.IsValid() {
		parent, _ = fs.NodeByInode(h.parent)
	}
	return node, parent, nil
}

// Read returns the next batch of directory entries, at most max per call.
// Reaching the end leaves the handle positioned there; Rewind starts over.
func (h *DirHandle) Read(ctx context.Context, max int) (*DirBatch, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.drained {
		return &DirBatch{}, nil
	}

	node, _, err := h.node(h.guard.Fs())
	if err != nil {
		return nil, err
	}

	batch, err := node.ReadDir(ctx, h.cursor, max)
	if err != nil {
		return nil, err
	}

	// Backends reset Next on the final batch; advancing into it would wrap
	// the scan around to the start.
	if batch.More {
		h.cursor = batch.Next
	} else {
		h.drained = true
	}
	return batch, nil
}

// Rewind resets the scan position to the beginning.
func (h *DirHandle) Rewind() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cursor = 0
	h.drained = false
}

// Close drops the mount pin. Further calls return data.ErrClosed.
func (h *DirHandle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return errors.HandleClosed(string(h.id))
	}
	h.guard.Release()
	return nil
}
