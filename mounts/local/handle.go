package local

import (
	"context"
	goerrors "errors"
	"io"
	"os"
)

// localHandle wraps an open host file.
type localHandle struct {
	file *os.File
}

func (h *localHandle) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	n, err := h.file.ReadAt(p, off)
	if err == nil || goerrors.Is(err, io.EOF) {
		return n, err
	}
	return n, mapHostError(err)
}

func (h *localHandle) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	n, err := h.file.WriteAt(p, off)
	if err != nil {
		return n, mapHostError(err)
	}
	return n, nil
}

func (h *localHandle) Truncate(ctx context.Context, size int64) error {
	return mapHostError(h.file.Truncate(size))
}

func (h *localHandle) Sync(ctx context.Context) error {
	return mapHostError(h.file.Sync())
}

func (h *localHandle) Close() error {
	return mapHostError(h.file.Close())
}
