package sqlite

import (
	"context"
	"io"

	"github.com/mwantia/guestvfs/data/errors"
)

// sqlHandle does whole-blob reads and writes. Files stored here are small
// configuration-sized payloads; streaming blob IO is not worth the schema it
// would take.
type sqlHandle struct {
	node *sqlNode
}

func (h *sqlHandle) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	h.node.fs.mu.RLock()
	defer h.node.fs.mu.RUnlock()

	if off < 0 {
		return 0, errors.ErrInvalid
	}

	content, err := h.node.readContent(ctx)
	if err != nil {
		return 0, err
	}
	if off >= int64(len(content)) {
		return 0, io.EOF
	}

	n := copy(p, content[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (h *sqlHandle) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	h.node.fs.mu.Lock()
	defer h.node.fs.mu.Unlock()

	if off < 0 {
		return 0, errors.ErrInvalid
	}

	content, err := h.node.readContent(ctx)
	if err != nil {
		return 0, err
	}

	end := off + int64(len(p))
	if end > int64(len(content)) {
		grown := make([]byte, end)
		copy(grown, content)
		content = grown
	}
	copy(content[off:end], p)

	if err := h.node.writeContent(ctx, content); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (h *sqlHandle) Truncate(ctx context.Context, size int64) error {
	h.node.fs.mu.Lock()
	defer h.node.fs.mu.Unlock()

	if size < 0 {
		return errors.ErrInvalid
	}
	return h.node.truncateLocked(ctx, size)
}

func (h *sqlHandle) Sync(ctx context.Context) error {
	return nil
}

func (h *sqlHandle) Close() error {
	return nil
}
