package memory

import (
	"context"
	"time"

	"github.com/tidwall/btree"

	vfs "github.com/mwantia/guestvfs"
	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/data/errors"
)

// memNode is one object in the tree. Directory children live in an ordered
// map so listings come out deterministic without sorting on every read.
type memNode struct {
	fs  *MemoryFs
	ino data.BackendInodeId

	ftype data.FileType
	mode  data.FileMode
	uid   int64
	gid   int64
	nlink uint32

	atime time.Time
	mtime time.Time
	ctime time.Time

	children *btree.Map[string, *memNode]
	content  []byte
	target   data.Path
}

func (n *memNode) Inode() data.BackendInodeId {
	return n.ino
}

func (n *memNode) FileType() data.FileType {
	return n.ftype
}

func (n *memNode) Metadata(ctx context.Context) (*data.Metadata, error) {
	n.fs.mu.RLock()
	defer n.fs.mu.RUnlock()

	return &data.Metadata{
		Inode:      data.Inode{Mount: data.MountNone, Backend: n.ino},
		Type:       n.ftype,
		Mode:       n.mode,
		Nlink:      n.nlink,
		UID:        n.uid,
		GID:        n.gid,
		Size:       n.size(),
		AccessTime: n.atime,
		ModifyTime: n.mtime,
		ChangeTime: n.ctime,
	}, nil
}

// size assumes the read lock is held.
func (n *memNode) size() int64 {
	switch {
	case n.ftype.IsDir():
		return int64(n.children.Len())
	case n.ftype.IsSymlink():
		return int64(len(n.target))
	default:
		return int64(len(n.content))
	}
}

func (n *memNode) SetMetadata(ctx context.Context, update *data.MetadataUpdate) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	if update.Has(data.UpdateMode) {
		n.mode = update.Mode
	}
	if update.Has(data.UpdateUID) {
		n.uid = update.UID
	}
	if update.Has(data.UpdateGID) {
		n.gid = update.GID
	}
	if update.Has(data.UpdateSize) {
		if !n.ftype.IsRegular() {
			return errors.ErrInvalid
		}
		n.resize(update.Size)
	}
	if update.Has(data.UpdateAccessTime) {
		n.atime = update.AccessTime
	}
	if update.Has(data.UpdateModifyTime) {
		n.mtime = update.ModifyTime
	}

	n.ctime = time.Now()
	return nil
}

// resize assumes the write lock is held.
func (n *memNode) resize(size int64) {
	switch {
	case size <= int64(len(n.content)):
		n.content = n.content[:size]
	default:
		grown := make([]byte, size)
		copy(grown, n.content)
		n.content = grown
	}
}

func (n *memNode) Lookup(ctx context.Context, name data.Name) (vfs.FsNode, error) {
	n.fs.mu.RLock()
	defer n.fs.mu.RUnlock()

	if !n.ftype.IsDir() {
		return nil, errors.ErrNotDirectory
	}

	child, ok := n.children.Get(string(name))
	if !ok {
		return nil, errors.NotFound(name.Bytes())
	}
	return child, nil
}

func (n *memNode) CreateFile(ctx context.Context, name data.Name, opts vfs.CreateFileOptions) (vfs.FsNode, error) {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	if !n.ftype.IsDir() {
		return nil, errors.ErrNotDirectory
	}

	if existing, ok := n.children.Get(string(name)); ok {
		if opts.Exclusive {
			return nil, errors.ErrExist
		}
		if existing.ftype.IsDir() {
			return nil, errors.ErrIsDirectory
		}
		if opts.Truncate {
			existing.content = existing.content[:0]
			existing.mtime = time.Now()
		}
		return existing, nil
	}

	child := n.fs.newNode(data.TypeRegular, opts.Mode)
	n.children.Set(string(name.Clone()), child)
	n.touch()
	return child, nil
}

func (n *memNode) Mkdir(ctx context.Context, name data.Name, opts vfs.MkdirOptions) (vfs.FsNode, error) {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	if !n.ftype.IsDir() {
		return nil, errors.ErrNotDirectory
	}
	if _, ok := n.children.Get(string(name)); ok {
		return nil, errors.ErrExist
	}

	child := n.fs.newNode(data.TypeDirectory, opts.Mode)
	n.children.Set(string(name.Clone()), child)
	n.nlink++
	n.touch()
	return child, nil
}

func (n *memNode) Unlink(ctx context.Context, name data.Name) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	if !n.ftype.IsDir() {
		return errors.ErrNotDirectory
	}

	child, ok := n.children.Get(string(name))
	if !ok {
		return errors.NotFound(name.Bytes())
	}
	if child.ftype.IsDir() {
		return errors.ErrIsDirectory
	}

	n.children.Delete(string(name))
	child.nlink--
	child.ctime = time.Now()
	if child.nlink == 0 {
		n.fs.drop(child)
	}
	n.touch()
	return nil
}

func (n *memNode) Rmdir(ctx context.Context, name data.Name) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	if !n.ftype.IsDir() {
		return errors.ErrNotDirectory
	}

	child, ok := n.children.Get(string(name))
	if !ok {
		return errors.NotFound(name.Bytes())
	}
	if !child.ftype.IsDir() {
		return errors.ErrNotDirectory
	}
	if child.children.Len() > 0 {
		return errors.ErrNotEmpty
	}

	n.children.Delete(string(name))
	n.fs.drop(child)
	n.nlink--
	n.touch()
	return nil
}

func (n *memNode) ReadDir(ctx context.Context, cursor vfs.DirCursor, max int) (*vfs.DirBatch, error) {
	n.fs.mu.RLock()
	defer n.fs.mu.RUnlock()

	if !n.ftype.IsDir() {
		return nil, errors.ErrNotDirectory
	}
	if max <= 0 {
		max = n.children.Len()
	}

	batch := &vfs.DirBatch{}
	index := 0
	start := int(cursor)

	n.children.Scan(func(name string, child *memNode) bool {
		if index < start {
			index++
			return true
		}
		if len(batch.Entries) >= max {
			batch.More = true
			batch.Next = vfs.DirCursor(index)
			return false
		}

		batch.Entries = append(batch.Entries, vfs.DirEntry{
			Name:  data.Name(name).Clone(),
			Inode: child.ino,
			Type:  child.ftype,
		})
		index++
		return true
	})

	return batch, nil
}

func (n *memNode) Rename(ctx context.Context, oldName data.Name, newParent vfs.FsNode, newName data.Name) error {
	dst, ok := newParent.(*memNode)
	if !ok || dst.fs != n.fs {
		return errors.Unsupported(providerName, "rename across filesystems")
	}

	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	if !n.ftype.IsDir() || !dst.ftype.IsDir() {
		return errors.ErrNotDirectory
	}

	child, ok := n.children.Get(string(oldName))
	if !ok {
		return errors.NotFound(oldName.Bytes())
	}

	if existing, ok := dst.children.Get(string(newName)); ok {
		if existing == child {
			return nil
		}
		switch {
		case existing.ftype.IsDir() && !child.ftype.IsDir():
			return errors.ErrIsDirectory
		case !existing.ftype.IsDir() && child.ftype.IsDir():
			return errors.ErrNotDirectory
		case existing.ftype.IsDir() && existing.children.Len() > 0:
			return errors.ErrNotEmpty
		}

		dst.children.Delete(string(newName))
		existing.nlink--
		if existing.ftype.IsDir() || existing.nlink == 0 {
			n.fs.drop(existing)
		}
	}

	n.children.Delete(string(oldName))
	dst.children.Set(string(newName.Clone()), child)

	if child.ftype.IsDir() && n != dst {
		n.nlink--
		dst.nlink++
	}

	child.ctime = time.Now()
	n.touch()
	dst.touch()
	return nil
}

func (n *memNode) Open(ctx context.Context, opts vfs.OpenOptions) (vfs.FsHandle, error) {
	n.fs.mu.RLock()
	defer n.fs.mu.RUnlock()

	if n.ftype.IsDir() {
		return nil, errors.ErrIsDirectory
	}
	if !n.ftype.IsRegular() {
		return nil, errors.Unsupported(providerName, "open of special file")
	}

	return &memHandle{node: n}, nil
}

func (n *memNode) Link(ctx context.Context, existing vfs.FsNode, newName data.Name) error {
	src, ok := existing.(*memNode)
	if !ok || src.fs != n.fs {
		return errors.Unsupported(providerName, "link across filesystems")
	}

	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	if !n.ftype.IsDir() {
		return errors.ErrNotDirectory
	}
	if src.ftype.IsDir() {
		return errors.ErrIsDirectory
	}
	if _, ok := n.children.Get(string(newName)); ok {
		return errors.ErrExist
	}

	n.children.Set(string(newName.Clone()), src)
	src.nlink++
	src.ctime = time.Now()
	n.touch()
	return nil
}

func (n *memNode) Symlink(ctx context.Context, newName data.Name, target data.Path) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	if !n.ftype.IsDir() {
		return errors.ErrNotDirectory
	}
	if _, ok := n.children.Get(string(newName)); ok {
		return errors.ErrExist
	}

	child := n.fs.newNode(data.TypeSymlink, 0o777)
	child.target = data.Path(append([]byte(nil), target...))
	n.children.Set(string(newName.Clone()), child)
	n.touch()
	return nil
}

func (n *memNode) Readlink(ctx context.Context) (data.Path, error) {
	n.fs.mu.RLock()
	defer n.fs.mu.RUnlock()

	if !n.ftype.IsSymlink() {
		return nil, errors.ErrInvalid
	}
	return n.target, nil
}

// touch assumes the write lock is held.
func (n *memNode) touch() {
	now := time.Now()
	n.mtime = now
	n.ctime = now
}
