package overlay

import (
	"context"
	goerrors "errors"
	"sync"

	vfs "github.com/mwantia/guestvfs"
	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/data/errors"
)

// lowerNode is one read-only backing of an overlay node, tagged with its
// layer index for identity bookkeeping.
type lowerNode struct {
	layer int
	node  vfs.FsNode
}

func (l lowerNode) key() backingKey {
	return lowerKey(l.layer, l.node.Inode())
}

// node is one object in the union tree. Classification against the layers is
// recomputed per operation from live backend state; the only cached mutable
// state is the upper binding, which only ever goes from absent to present.
type node struct {
	fs   *Fs
	kind data.FileType
	ino  data.BackendInodeId

	mu    sync.Mutex
	upper vfs.FsNode

	lowers []lowerNode

	// parent and name place the node for copy-up; both are unset on the
	// root.
	parent *node
	name   data.Name
}

func (n *node) getUpper() vfs.FsNode {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.upper
}

func (n *node) setUpperLocked(upper vfs.FsNode) {
	n.upper = upper
	n.fs.inodes.promote(n.ino, upperKey(upper.Inode()))
}

func (n *node) hasUpper() bool {
	return n.getUpper() != nil
}

func (n *node) primaryLower() (lowerNode, bool) {
	if len(n.lowers) == 0 {
		return lowerNode{}, false
	}
	return n.lowers[0], true
}

// active returns the node currently serving reads: upper if bound, else the
// highest-priority lower.
func (n *node) active() (vfs.FsNode, error) {
	if upper := n.getUpper(); upper != nil {
		return upper, nil
	}
	if lower, ok := n.primaryLower(); ok {
		return lower.node, nil
	}
	return nil, errors.ErrNotExist
}

// isOpaque reports whether the upper directory carries the opaque marker.
func (n *node) isOpaque(ctx context.Context) (bool, error) {
	upper := n.getUpper()
	if upper == nil {
		return false, nil
	}
	return childExists(ctx, upper, opaqueName())
}

// hasWhiteout reports whether the upper directory whites out name.
func (n *node) hasWhiteout(ctx context.Context, name data.Name) (bool, error) {
	upper := n.getUpper()
	if upper == nil {
		return false, nil
	}
	return childExists(ctx, upper, whiteoutNameFor(name))
}

func childExists(ctx context.Context, dir vfs.FsNode, name data.Name) (bool, error) {
	_, err := dir.Lookup(ctx, name)
	switch {
	case err == nil:
		return true, nil
	case goerrors.Is(err, errors.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// ensureUpperDir binds an upper directory for this node, copying up missing
// ancestors first. Parents before children, so a failure never leaves an
// orphaned upper subtree.
func (n *node) ensureUpperDir(ctx context.Context) (vfs.FsNode, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.upper != nil {
		return n.upper, nil
	}
	if !n.kind.IsDir() {
		return nil, errors.ErrNotDirectory
	}
	if n.parent == nil {
		return nil, errors.ErrInvalid
	}

	parentUpper, err := n.parent.ensureUpperDir(ctx)
	if err != nil {
		return nil, err
	}

	upper, err := parentUpper.Lookup(ctx, n.name)
	if goerrors.Is(err, errors.ErrNotExist) {
		if lower, ok := n.primaryLower(); ok {
			upper, err = copyUpDir(ctx, parentUpper, n.name, lower.node)
		} else {
			upper, err = parentUpper.Mkdir(ctx, n.name, vfs.MkdirOptions{Mode: 0o755})
		}
	}
	if err != nil {
		return nil, err
	}

	n.setUpperLocked(upper)
	return upper, nil
}

// ensureUpperFile copies this lower-only file up before a write touches it.
// The lock lives on the overlay inode rather than this node object, since
// every lookup builds a fresh node; all handles to the same file contend on
// the same lock and the losers adopt the winner's finished copy.
func (n *node) ensureUpperFile(ctx context.Context) (vfs.FsNode, error) {
	lock := n.fs.inodes.lockFor(n.ino)
	lock.Lock()
	defer lock.Unlock()

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.upper != nil {
		return n.upper, nil
	}
	if n.parent == nil {
		return nil, errors.ErrInvalid
	}

	lower, ok := n.primaryLower()
	if !ok {
		return nil, errors.ErrNotExist
	}

	parentUpper, err := n.parent.ensureUpperDir(ctx)
	if err != nil {
		return nil, err
	}

	upper, err := copyUpFile(ctx, parentUpper, n.name, lower.node, n.fs.opts.CopyUpChunkSize)
	if err != nil {
		return nil, err
	}

	n.setUpperLocked(upper)
	return upper, nil
}

func (n *node) ensureUpperSymlink(ctx context.Context) (vfs.FsNode, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.upper != nil {
		return n.upper, nil
	}
	if n.parent == nil {
		return nil, errors.ErrInvalid
	}

	lower, ok := n.primaryLower()
	if !ok {
		return nil, errors.ErrNotExist
	}

	parentUpper, err := n.parent.ensureUpperDir(ctx)
	if err != nil {
		return nil, err
	}

	upper, err := copyUpSymlink(ctx, parentUpper, n.name, lower.node)
	if err != nil {
		return nil, err
	}

	n.setUpperLocked(upper)
	return upper, nil
}

func (n *node) ensureUpperByKind(ctx context.Context) (vfs.FsNode, error) {
	switch {
	case n.kind.IsDir():
		return n.ensureUpperDir(ctx)
	case n.kind.IsSymlink():
		return n.ensureUpperSymlink(ctx)
	default:
		return n.ensureUpperFile(ctx)
	}
}

// lookupLowerFirst finds name in the highest-priority lower layer holding it.
func (n *node) lookupLowerFirst(ctx context.Context, name data.Name) (lowerNode, bool, error) {
	for _, lower := range n.lowers {
		child, err := lower.node.Lookup(ctx, name)
		switch {
		case err == nil:
			return lowerNode{layer: lower.layer, node: child}, true, nil
		case goerrors.Is(err, errors.ErrNotExist):
			continue
		default:
			return lowerNode{}, false, err
		}
	}
	return lowerNode{}, false, nil
}

// lowerDirsForName collects every lower layer's directory of this name, in
// priority order, for building a merged child directory.
func (n *node) lowerDirsForName(ctx context.Context, name data.Name) ([]lowerNode, error) {
	var dirs []lowerNode
	for _, lower := range n.lowers {
		child, err := lower.node.Lookup(ctx, name)
		switch {
		case err == nil:
			if child.FileType().IsDir() {
				dirs = append(dirs, lowerNode{layer: lower.layer, node: child})
			}
		case goerrors.Is(err, errors.ErrNotExist):
		default:
			return nil, err
		}
	}
	return dirs, nil
}

func (n *node) upperEntryExists(ctx context.Context, name data.Name) (bool, error) {
	upper := n.getUpper()
	if upper == nil {
		return false, nil
	}
	return childExists(ctx, upper, name)
}

func (n *node) lowerEntryExists(ctx context.Context, name data.Name) (bool, error) {
	_, ok, err := n.lookupLowerFirst(ctx, name)
	return ok, err
}

func (n *node) denyReserved(name data.Name) error {
	if n.fs.opts.DenyReservedNames && isReserved(name.Bytes()) {
		return errors.ReservedName(name.Bytes())
	}
	return nil
}

func (n *node) Inode() data.BackendInodeId {
	return n.ino
}

func (n *node) FileType() data.FileType {
	return n.kind
}

// Metadata reads from whichever layer currently serves the node, with the
// backend inode replaced by the stable overlay inode.
func (n *node) Metadata(ctx context.Context) (*data.Metadata, error) {
	active, err := n.active()
	if err != nil {
		return nil, err
	}

	md, err := active.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	md.Inode.Backend = n.ino
	return md, nil
}

func (n *node) SetMetadata(ctx context.Context, update *data.MetadataUpdate) error {
	upper, err := n.ensureUpperByKind(ctx)
	if err != nil {
		return err
	}
	return upper.SetMetadata(ctx, update)
}

func (n *node) Lookup(ctx context.Context, name data.Name) (vfs.FsNode, error) {
	if isReserved(name.Bytes()) {
		return nil, errors.NotFound(name.Bytes())
	}

	if upper := n.getUpper(); upper != nil {
		child, err := upper.Lookup(ctx, name)
		switch {
		case err == nil:
			var lowers []lowerNode
			if child.FileType().IsDir() {
				opaque, err := n.isOpaque(ctx)
				if err != nil {
					return nil, err
				}
				if !opaque {
					lowers, err = n.lowerDirsForName(ctx, name)
					if err != nil {
						return nil, err
					}
				}
			}
			return n.fs.makeNode(n, name, child.FileType(), child, lowers), nil

		case goerrors.Is(err, errors.ErrNotExist):
			whited, werr := n.hasWhiteout(ctx, name)
			if werr != nil {
				return nil, werr
			}
			if whited {
				return nil, errors.NotFound(name.Bytes())
			}

		default:
			return nil, err
		}
	}

	opaque, err := n.isOpaque(ctx)
	if err != nil {
		return nil, err
	}
	if opaque {
		return nil, errors.NotFound(name.Bytes())
	}

	lower, ok, err := n.lookupLowerFirst(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NotFound(name.Bytes())
	}

	return n.fs.makeNode(n, name, lower.node.FileType(), nil, []lowerNode{lower}), nil
}

func (n *node) CreateFile(ctx context.Context, name data.Name, opts vfs.CreateFileOptions) (vfs.FsNode, error) {
	if err := n.denyReserved(name); err != nil {
		return nil, err
	}

	// A created name must not resurrect lower content or keep a stale
	// deletion record around.
	if exists, err := n.lowerEntryExists(ctx, name); err != nil {
		return nil, err
	} else if exists && !opts.Exclusive {
		if _, lerr := n.Lookup(ctx, name); lerr == nil {
			return nil, errors.ErrExist
		}
	}

	upper, err := n.ensureUpperDir(ctx)
	if err != nil {
		return nil, err
	}

	child, err := upper.CreateFile(ctx, name, opts)
	if err != nil {
		return nil, err
	}
	if err := removeWhiteout(ctx, upper, name); err != nil {
		return nil, err
	}

	return n.fs.makeNode(n, name, data.TypeRegular, child, nil), nil
}

func (n *node) Mkdir(ctx context.Context, name data.Name, opts vfs.MkdirOptions) (vfs.FsNode, error) {
	if err := n.denyReserved(name); err != nil {
		return nil, err
	}

	// The union view decides existence, not just the upper layer.
	if _, err := n.Lookup(ctx, name); err == nil {
		return nil, errors.ErrExist
	} else if !goerrors.Is(err, errors.ErrNotExist) {
		return nil, err
	}

	upper, err := n.ensureUpperDir(ctx)
	if err != nil {
		return nil, err
	}

	child, err := upper.Mkdir(ctx, name, opts)
	if err != nil {
		return nil, err
	}
	if err := removeWhiteout(ctx, upper, name); err != nil {
		return nil, err
	}

	// A directory recreated over a whiteout must not merge with the old
	// lower contents.
	if exists, err := n.lowerEntryExists(ctx, name); err != nil {
		return nil, err
	} else if exists {
		if err := createOpaqueMarker(ctx, child); err != nil {
			return nil, err
		}
	}

	return n.fs.makeNode(n, name, data.TypeDirectory, child, nil), nil
}

func (n *node) Unlink(ctx context.Context, name data.Name) error {
	if isReserved(name.Bytes()) {
		return errors.NotFound(name.Bytes())
	}

	lowerExists, err := n.lowerEntryExists(ctx, name)
	if err != nil {
		return err
	}

	if upper := n.getUpper(); upper != nil {
		existing, err := upper.Lookup(ctx, name)
		switch {
		case err == nil:
			if existing.FileType().IsDir() {
				return errors.ErrIsDirectory
			}
			if err := upper.Unlink(ctx, name); err != nil {
				return err
			}
			if lowerExists {
				return createWhiteout(ctx, upper, name)
			}
			return nil
		case goerrors.Is(err, errors.ErrNotExist):
		default:
			return err
		}

		whited, err := n.hasWhiteout(ctx, name)
		if err != nil {
			return err
		}
		if whited {
			return errors.NotFound(name.Bytes())
		}
	}

	if lowerExists {
		opaque, err := n.isOpaque(ctx)
		if err != nil {
			return err
		}
		if opaque {
			return errors.NotFound(name.Bytes())
		}

		upper, err := n.ensureUpperDir(ctx)
		if err != nil {
			return err
		}
		return createWhiteout(ctx, upper, name)
	}

	return errors.NotFound(name.Bytes())
}

func (n *node) Rmdir(ctx context.Context, name data.Name) error {
	if isReserved(name.Bytes()) {
		return errors.NotFound(name.Bytes())
	}

	lowerExists, err := n.lowerEntryExists(ctx, name)
	if err != nil {
		return err
	}

	if upper := n.getUpper(); upper != nil {
		existing, err := upper.Lookup(ctx, name)
		switch {
		case err == nil:
			if !existing.FileType().IsDir() {
				return errors.ErrNotDirectory
			}

			merged, err := n.Lookup(ctx, name)
			if err != nil {
				return err
			}
			empty, err := dirEmpty(ctx, merged)
			if err != nil {
				return err
			}
			if !empty {
				return errors.ErrNotEmpty
			}

			if err := removeMarkers(ctx, existing); err != nil {
				return err
			}
			if err := upper.Rmdir(ctx, name); err != nil {
				return err
			}
			if lowerExists {
				return createWhiteout(ctx, upper, name)
			}
			return nil
		case goerrors.Is(err, errors.ErrNotExist):
		default:
			return err
		}

		whited, err := n.hasWhiteout(ctx, name)
		if err != nil {
			return err
		}
		if whited {
			return errors.NotFound(name.Bytes())
		}
	}

	if lowerExists {
		opaque, err := n.isOpaque(ctx)
		if err != nil {
			return err
		}
		if opaque {
			return errors.NotFound(name.Bytes())
		}

		merged, err := n.Lookup(ctx, name)
		if err != nil {
			return err
		}
		if !merged.FileType().IsDir() {
			return errors.ErrNotDirectory
		}
		empty, err := dirEmpty(ctx, merged)
		if err != nil {
			return err
		}
		if !empty {
			return errors.ErrNotEmpty
		}

		upper, err := n.ensureUpperDir(ctx)
		if err != nil {
			return err
		}
		return createWhiteout(ctx, upper, name)
	}

	return errors.NotFound(name.Bytes())
}

// ReadDir merges the layers: upper entries first, then each lower layer in
// priority order, duplicates collapsed to the first occurrence, whiteouts
// and bookkeeping names stripped. The merged listing is built fresh per call
// and paginated positionally.
func (n *node) ReadDir(ctx context.Context, cursor vfs.DirCursor, max int) (*vfs.DirBatch, error) {
	if !n.kind.IsDir() {
		return nil, errors.ErrNotDirectory
	}

	var entries []vfs.DirEntry
	seen := make(map[string]struct{})
	whiteouts := make(map[string]struct{})
	opaque := false

	if upper := n.getUpper(); upper != nil {
		upperEntries, err := readDirAll(ctx, upper)
		if err != nil {
			return nil, err
		}
		for _, entry := range upperEntries {
			raw := entry.Name.Bytes()
			if isOpaqueMarker(raw) {
				opaque = true
				continue
			}
			if target, ok := whiteoutTarget(raw); ok {
				whiteouts[string(target)] = struct{}{}
				continue
			}
			if isReserved(raw) {
				continue
			}

			merged, err := n.Lookup(ctx, entry.Name)
			if err != nil {
				return nil, err
			}
			seen[string(raw)] = struct{}{}
			entries = append(entries, vfs.DirEntry{
				Name:  entry.Name.Clone(),
				Inode: merged.Inode(),
				Type:  merged.FileType(),
			})
		}
	}

	if !opaque {
		for _, lower := range n.lowers {
			lowerEntries, err := readDirAll(ctx, lower.node)
			if err != nil {
				return nil, err
			}
			for _, entry := range lowerEntries {
				raw := entry.Name.Bytes()
				if isReserved(raw) {
					continue
				}
				if _, ok := seen[string(raw)]; ok {
					continue
				}
				if _, ok := whiteouts[string(raw)]; ok {
					continue
				}

				merged, err := n.Lookup(ctx, entry.Name)
				if err != nil {
					if goerrors.Is(err, errors.ErrNotExist) {
						continue
					}
					return nil, err
				}
				seen[string(raw)] = struct{}{}
				entries = append(entries, vfs.DirEntry{
					Name:  entry.Name.Clone(),
					Inode: merged.Inode(),
					Type:  merged.FileType(),
				})
			}
		}
	}

	start := int(cursor)
	if start >= len(entries) {
		return &vfs.DirBatch{}, nil
	}
	end := min(len(entries), start+max)

	batch := &vfs.DirBatch{
		Entries: entries[start:end],
	}
	if end < len(entries) {
		batch.Next = vfs.DirCursor(end)
		batch.More = true
	}
	return batch, nil
}

func (n *node) Rename(ctx context.Context, oldName data.Name, newParent vfs.FsNode, newName data.Name) error {
	if isReserved(oldName.Bytes()) {
		return errors.NotFound(oldName.Bytes())
	}
	if err := n.denyReserved(newName); err != nil {
		return err
	}

	dst, ok := newParent.(*node)
	if !ok {
		return errors.Unsupported(providerName, "rename across filesystems")
	}

	src, err := n.Lookup(ctx, oldName)
	if err != nil {
		return err
	}
	srcNode, ok := src.(*node)
	if !ok {
		return errors.ErrIO
	}

	srcLowerOnly := !srcNode.hasUpper()
	if srcLowerOnly {
		if srcNode.kind.IsDir() {
			return errors.Unsupported(providerName, "rename of lower-only directory")
		}
		if srcNode.kind.IsSymlink() {
			if _, err := srcNode.ensureUpperSymlink(ctx); err != nil {
				return err
			}
		} else {
			if _, err := srcNode.ensureUpperFile(ctx); err != nil {
				return err
			}
		}
	}

	upperSrcParent, err := n.ensureUpperDir(ctx)
	if err != nil {
		return err
	}
	upperDstParent, err := dst.ensureUpperDir(ctx)
	if err != nil {
		return err
	}

	dstLowerExists, err := dst.lowerEntryExists(ctx, newName)
	if err != nil {
		return err
	}
	dstUpperExists, err := dst.upperEntryExists(ctx, newName)
	if err != nil {
		return err
	}

	if err := upperSrcParent.Rename(ctx, oldName, upperDstParent, newName); err != nil {
		return err
	}

	// The source slot must read as deleted when a lower entry still shadows
	// it; same for a destination that replaced lower-only content.
	if srcLowerOnly {
		if err := createWhiteout(ctx, upperSrcParent, oldName); err != nil {
			return err
		}
	}
	if dstLowerExists && !dstUpperExists {
		if err := createWhiteout(ctx, upperDstParent, newName); err != nil {
			return err
		}
	}

	return nil
}

func (n *node) Link(ctx context.Context, existing vfs.FsNode, newName data.Name) error {
	if err := n.denyReserved(newName); err != nil {
		return err
	}

	src, ok := existing.(*node)
	if !ok {
		return errors.Unsupported(providerName, "link across filesystems")
	}
	if src.kind.IsDir() {
		return errors.ErrIsDirectory
	}

	var upperExisting vfs.FsNode
	var err error
	if src.kind.IsSymlink() {
		upperExisting, err = src.ensureUpperSymlink(ctx)
	} else {
		upperExisting, err = src.ensureUpperFile(ctx)
	}
	if err != nil {
		return err
	}

	upper, err := n.ensureUpperDir(ctx)
	if err != nil {
		return err
	}
	return upper.Link(ctx, upperExisting, newName)
}

func (n *node) Symlink(ctx context.Context, newName data.Name, target data.Path) error {
	if err := n.denyReserved(newName); err != nil {
		return err
	}

	upper, err := n.ensureUpperDir(ctx)
	if err != nil {
		return err
	}
	if err := upper.Symlink(ctx, newName, target); err != nil {
		return err
	}
	return removeWhiteout(ctx, upper, newName)
}

func (n *node) Readlink(ctx context.Context) (data.Path, error) {
	active, err := n.active()
	if err != nil {
		return nil, err
	}
	return active.Readlink(ctx)
}

// Open routes write intent through copy-up first, so the handle underneath
// is always backed by the layer that may legally change.
func (n *node) Open(ctx context.Context, opts vfs.OpenOptions) (vfs.FsHandle, error) {
	writeIntent := opts.Access.HasWrite() || opts.Access.HasCreate()

	var target vfs.FsNode
	var err error
	switch {
	case n.kind.IsDir() || !writeIntent:
		target, err = n.active()
	default:
		target, err = n.ensureUpperByKind(ctx)
	}
	if err != nil {
		return nil, err
	}

	return target.Open(ctx, opts)
}

// removeWhiteout clears a stale deletion record after name came back to life
// on the upper layer.
func removeWhiteout(ctx context.Context, upper vfs.FsNode, name data.Name) error {
	err := upper.Unlink(ctx, whiteoutNameFor(name))
	if err != nil && !goerrors.Is(err, errors.ErrNotExist) {
		return err
	}
	return nil
}

// removeMarkers strips bookkeeping files from an upper directory so the
// backend sees it as empty before rmdir.
func removeMarkers(ctx context.Context, dir vfs.FsNode) error {
	entries, err := readDirAll(ctx, dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !isReserved(entry.Name.Bytes()) {
			continue
		}
		if err := dir.Unlink(ctx, entry.Name); err != nil && !goerrors.Is(err, errors.ErrNotExist) {
			return err
		}
	}
	return nil
}

func readDirAll(ctx context.Context, dir vfs.FsNode) ([]vfs.DirEntry, error) {
	var entries []vfs.DirEntry
	var cursor vfs.DirCursor
	for {
		batch, err := dir.ReadDir(ctx, cursor, 128)
		if err != nil {
			return nil, err
		}
		entries = append(entries, batch.Entries...)
		if !batch.More {
			return entries, nil
		}
		cursor = batch.Next
	}
}

func dirEmpty(ctx context.Context, dir vfs.FsNode) (bool, error) {
	batch, err := dir.ReadDir(ctx, 0, 1)
	if err != nil {
		return false, err
	}
	return len(batch.Entries) == 0, nil
}
