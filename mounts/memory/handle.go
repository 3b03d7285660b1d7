package memory

import (
	"context"
	"io"
	"time"

	"github.com/mwantia/guestvfs/data/errors"
)

// memHandle is an open regular file. Handles carry no position; offsets come
// with every call, so one handle is safe to share.
type memHandle struct {
	node *memNode
}

func (h *memHandle) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	h.node.fs.mu.RLock()
	defer h.node.fs.mu.RUnlock()

	if off < 0 {
		return 0, errors.ErrInvalid
	}
	if off >= int64(len(h.node.content)) {
		return 0, io.EOF
	}

	n := copy(p, h.node.content[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (h *memHandle) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	h.node.fs.mu.Lock()
	defer h.node.fs.mu.Unlock()

	if off < 0 {
		return 0, errors.ErrInvalid
	}

	end := off + int64(len(p))
	if end > int64(len(h.node.content)) {
		h.node.resize(end)
	}

	n := copy(h.node.content[off:end], p)
	h.node.mtime = time.Now()
	h.node.ctime = h.node.mtime
	return n, nil
}

func (h *memHandle) Truncate(ctx context.Context, size int64) error {
	h.node.fs.mu.Lock()
	defer h.node.fs.mu.Unlock()

	if size < 0 {
		return errors.ErrInvalid
	}

	h.node.resize(size)
	h.node.mtime = time.Now()
	h.node.ctime = h.node.mtime
	return nil
}

func (h *memHandle) Sync(ctx context.Context) error {
	return nil
}

func (h *memHandle) Close() error {
	return nil
}
