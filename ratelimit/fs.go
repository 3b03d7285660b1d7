// Package ratelimit wraps a filesystem in per-class token buckets: general
// operations, metadata operations, read bytes and write bytes each draw from
// their own budget. Calls that exceed the configured rates block until
// tokens refill or the context is cancelled, so one noisy guest cannot
// starve the host of I/O.
package ratelimit

import (
	"context"

	vfs "github.com/mwantia/guestvfs"
	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/data/errors"
	"github.com/mwantia/guestvfs/log"
)

const providerName = "ratelimit"

// Options tunes one rate limited filesystem.
type Options struct {
	Logger *log.Logger
}

// Option configures the wrapper during New.
type Option func(*Options)

// WithLogger attaches a logger.
func WithLogger(logger *log.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// Fs meters all traffic to an inner filesystem. It is itself a vfs.Fs, so
// it stacks under overlays or directly on a mount.
type Fs struct {
	inner   vfs.Fs
	limiter *Limiter
	log     *log.Logger
}

// New wraps inner with the given limits.
func New(inner vfs.Fs, limits Limits, opts ...Option) (*Fs, error) {
	if inner == nil {
		return nil, errors.ErrInvalid
	}

	options := Options{
		Logger: log.NewDiscard(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	limiter, err := NewLimiter(limits)
	if err != nil {
		return nil, err
	}

	return &Fs{
		inner:   inner,
		limiter: limiter,
		log:     options.Logger.Named(providerName),
	}, nil
}

func (f *Fs) ProviderName() string {
	return providerName
}

func (f *Fs) Capabilities() vfs.Capabilities {
	return f.inner.Capabilities()
}

func (f *Fs) Root() vfs.FsNode {
	return f.wrap(f.inner.Root())
}

func (f *Fs) NodeByInode(id data.BackendInodeId) (vfs.FsNode, bool) {
	inner, ok := f.inner.NodeByInode(id)
	if !ok {
		return nil, false
	}
	return f.wrap(inner), true
}

func (f *Fs) wrap(inner vfs.FsNode) *node {
	if inner == nil {
		return nil
	}
	return &node{fs: f, inner: inner}
}

// unwrap recovers the inner node from an argument that may have passed
// through this wrapper, so cross-node operations reach the inner backend
// with its own node type.
func (f *Fs) unwrap(n vfs.FsNode) vfs.FsNode {
	if wrapped, ok := n.(*node); ok && wrapped.fs == f {
		return wrapped.inner
	}
	return n
}

// node charges the limiter before delegating. Inode and FileType stay free;
// they read cached state and involve no backend I/O.
type node struct {
	fs    *Fs
	inner vfs.FsNode
}

func (n *node) Inode() data.BackendInodeId {
	return n.inner.Inode()
}

func (n *node) FileType() data.FileType {
	return n.inner.FileType()
}

func (n *node) Metadata(ctx context.Context) (*data.Metadata, error) {
	if err := n.fs.limiter.MetaOp(ctx); err != nil {
		return nil, err
	}
	return n.inner.Metadata(ctx)
}

func (n *node) SetMetadata(ctx context.Context, update *data.MetadataUpdate) error {
	if err := n.fs.limiter.MetaOp(ctx); err != nil {
		return err
	}
	return n.inner.SetMetadata(ctx, update)
}

func (n *node) Lookup(ctx context.Context, name data.Name) (vfs.FsNode, error) {
	if err := n.fs.limiter.MetaOp(ctx); err != nil {
		return nil, err
	}
	child, err := n.inner.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return n.fs.wrap(child), nil
}

func (n *node) CreateFile(ctx context.Context, name data.Name, opts vfs.CreateFileOptions) (vfs.FsNode, error) {
	if err := n.fs.limiter.MetaOp(ctx); err != nil {
		return nil, err
	}
	child, err := n.inner.CreateFile(ctx, name, opts)
	if err != nil {
		return nil, err
	}
	return n.fs.wrap(child), nil
}

func (n *node) Mkdir(ctx context.Context, name data.Name, opts vfs.MkdirOptions) (vfs.FsNode, error) {
	if err := n.fs.limiter.MetaOp(ctx); err != nil {
		return nil, err
	}
	child, err := n.inner.Mkdir(ctx, name, opts)
	if err != nil {
		return nil, err
	}
	return n.fs.wrap(child), nil
}

func (n *node) Unlink(ctx context.Context, name data.Name) error {
	if err := n.fs.limiter.MetaOp(ctx); err != nil {
		return err
	}
	return n.inner.Unlink(ctx, name)
}

func (n *node) Rmdir(ctx context.Context, name data.Name) error {
	if err := n.fs.limiter.MetaOp(ctx); err != nil {
		return err
	}
	return n.inner.Rmdir(ctx, name)
}

// ReadDir charges the operation up front and the listing bytes once the
// batch size is known.
func (n *node) ReadDir(ctx context.Context, cursor vfs.DirCursor, max int) (*vfs.DirBatch, error) {
	if err := n.fs.limiter.Op(ctx); err != nil {
		return nil, err
	}
	batch, err := n.inner.ReadDir(ctx, cursor, max)
	if err != nil {
		return nil, err
	}
	var bytes int
	for _, entry := range batch.Entries {
		bytes += len(entry.Name)
	}
	if err := n.fs.limiter.Read(ctx, bytes); err != nil {
		return nil, err
	}
	return batch, nil
}

func (n *node) Rename(ctx context.Context, oldName data.Name, newParent vfs.FsNode, newName data.Name) error {
	if err := n.fs.limiter.MetaOp(ctx); err != nil {
		return err
	}
	return n.inner.Rename(ctx, oldName, n.fs.unwrap(newParent), newName)
}

func (n *node) Open(ctx context.Context, opts vfs.OpenOptions) (vfs.FsHandle, error) {
	if err := n.fs.limiter.MetaOp(ctx); err != nil {
		return nil, err
	}
	h, err := n.inner.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &handle{fs: n.fs, inner: h}, nil
}

func (n *node) Link(ctx context.Context, existing vfs.FsNode, newName data.Name) error {
	if err := n.fs.limiter.MetaOp(ctx); err != nil {
		return err
	}
	return n.inner.Link(ctx, n.fs.unwrap(existing), newName)
}

func (n *node) Symlink(ctx context.Context, newName data.Name, target data.Path) error {
	if err := n.fs.limiter.MetaOp(ctx); err != nil {
		return err
	}
	return n.inner.Symlink(ctx, newName, target)
}

func (n *node) Readlink(ctx context.Context) (data.Path, error) {
	if err := n.fs.limiter.MetaOp(ctx); err != nil {
		return nil, err
	}
	return n.inner.Readlink(ctx)
}

// handle meters file I/O. Byte costs are charged after the call with the
// actual transferred count, since a short read must not pay for bytes it
// never moved.
type handle struct {
	fs    *Fs
	inner vfs.FsHandle
}

func (h *handle) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := h.fs.limiter.Op(ctx); err != nil {
		return 0, err
	}
	n, err := h.inner.ReadAt(ctx, p, off)
	if n > 0 {
		if cerr := h.fs.limiter.Read(ctx, n); cerr != nil && err == nil {
			err = cerr
		}
	}
	return n, err
}

func (h *handle) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := h.fs.limiter.Op(ctx); err != nil {
		return 0, err
	}
	n, err := h.inner.WriteAt(ctx, p, off)
	if n > 0 {
		if cerr := h.fs.limiter.Write(ctx, n); cerr != nil && err == nil {
			err = cerr
		}
	}
	return n, err
}

func (h *handle) Truncate(ctx context.Context, size int64) error {
	if err := h.fs.limiter.MetaOp(ctx); err != nil {
		return err
	}
	return h.inner.Truncate(ctx, size)
}

func (h *handle) Sync(ctx context.Context) error {
	if err := h.fs.limiter.Op(ctx); err != nil {
		return err
	}
	return h.inner.Sync(ctx)
}

// Close is uncharged; it takes no context and must always release the
// inner handle.
func (h *handle) Close() error {
	return h.inner.Close()
}
