// Package overlay composes one writable upper filesystem with ordered
// read-only lower filesystems into a single union view. Deletions of lower
// content are recorded as whiteout markers on the upper layer, writes copy
// the affected file up first, and object identity survives the move through
// an overlay-owned inode table.
package overlay

import (
	"context"

	vfs "github.com/mwantia/guestvfs"
	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/data/errors"
	"github.com/mwantia/guestvfs/log"
)

const providerName = "overlay"

// Options tunes one overlay instance.
type Options struct {
	// DenyReservedNames rejects guest creation of bookkeeping names with a
	// permission error instead of silently hiding the result.
	DenyReservedNames bool
	// CopyUpChunkSize is the buffer size used when copying file bytes up.
	CopyUpChunkSize int
	Logger          *log.Logger
}

// Option configures an overlay during New.
type Option func(*Options)

// WithDenyReservedNames rejects guest use of the reserved name prefix.
func WithDenyReservedNames() Option {
	return func(o *Options) {
		o.DenyReservedNames = true
	}
}

// WithCopyUpChunkSize overrides the copy-up buffer size.
func WithCopyUpChunkSize(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.CopyUpChunkSize = size
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *log.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// Fs is the union filesystem. It is itself a vfs.Fs, so overlays nest.
type Fs struct {
	opts   Options
	upper  vfs.Fs
	lowers []vfs.Fs
	inodes *inodeTable
	root   *node
	log    *log.Logger
}

// New builds an overlay of upper over the given lower layers, highest
// priority first.
func New(upper vfs.Fs, lowers []vfs.Fs, opts ...Option) (*Fs, error) {
	if upper == nil {
		return nil, errors.ErrInvalid
	}

	options := Options{
		CopyUpChunkSize: 64 * 1024,
		Logger:          log.NewDiscard(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	f := &Fs{
		opts:   options,
		upper:  upper,
		lowers: lowers,
		inodes: newInodeTable(),
		log:    options.Logger.Named(providerName),
	}

	rootLowers := make([]lowerNode, 0, len(lowers))
	for layer, lower := range lowers {
		rootLowers = append(rootLowers, lowerNode{layer: layer, node: lower.Root()})
	}
	f.root = f.makeNode(nil, nil, data.TypeDirectory, upper.Root(), rootLowers)

	return f, nil
}

func (f *Fs) ProviderName() string {
	return providerName
}

// Capabilities mirrors the upper layer, since every mutation ultimately
// lands there.
func (f *Fs) Capabilities() vfs.Capabilities {
	return f.upper.Capabilities()
}

func (f *Fs) Root() vfs.FsNode {
	return f.root
}

func (f *Fs) NodeByInode(id data.BackendInodeId) (vfs.FsNode, bool) {
	n, ok := f.inodes.get(id)
	if !ok {
		return nil, false
	}
	return n, true
}

// MarkOpaque places the opaque marker in dir, hiding all same-path lower
// contents. dir must be a directory of this overlay.
func (f *Fs) MarkOpaque(ctx context.Context, dir vfs.FsNode) error {
	on, ok := dir.(*node)
	if !ok || on.fs != f {
		return errors.ErrInvalid
	}
	if !on.kind.IsDir() {
		return errors.ErrNotDirectory
	}

	upper, err := on.ensureUpperDir(ctx)
	if err != nil {
		return err
	}
	return createOpaqueMarker(ctx, upper)
}

// makeNode builds the overlay node for a backing constellation, reusing the
// overlay inode the backing was first seen under.
func (f *Fs) makeNode(parent *node, name data.Name, ft data.FileType, upper vfs.FsNode, lowers []lowerNode) *node {
	var key backingKey
	switch {
	case upper != nil:
		key = upperKey(upper.Inode())
	case len(lowers) > 0:
		key = lowers[0].key()
	}

	n := &node{
		fs:     f,
		kind:   ft,
		ino:    f.inodes.intern(key),
		upper:  upper,
		lowers: lowers,
		parent: parent,
	}
	if name != nil {
		n.name = name.Clone()
	}

	f.inodes.remember(n.ino, n)
	return n
}
