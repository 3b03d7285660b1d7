package tarfs

import (
	"context"
	"io"
	"time"

	"github.com/tidwall/btree"

	vfs "github.com/mwantia/guestvfs"
	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/data/errors"
)

type tarNode struct {
	fs  *TarFs
	ino data.BackendInodeId

	ftype data.FileType
	mode  data.FileMode
	uid   int64
	gid   int64
	nlink uint32
	mtime time.Time

	children *btree.Map[string, *tarNode]
	content  []byte
	target   data.Path
}

func (n *tarNode) Inode() data.BackendInodeId {
	return n.ino
}

func (n *tarNode) FileType() data.FileType {
	return n.ftype
}

func (n *tarNode) Metadata(ctx context.Context) (*data.Metadata, error) {
	size := int64(len(n.content))
	if n.ftype.IsSymlink() {
		size = int64(len(n.target))
	}

	return &data.Metadata{
		Inode:      data.Inode{Mount: data.MountNone, Backend: n.ino},
		Type:       n.ftype,
		Mode:       n.mode,
		Nlink:      n.nlink,
		UID:        n.uid,
		GID:        n.gid,
		Size:       size,
		AccessTime: n.mtime,
		ModifyTime: n.mtime,
		ChangeTime: n.mtime,
	}, nil
}

func (n *tarNode) SetMetadata(ctx context.Context, update *data.MetadataUpdate) error {
	return errors.ReadOnly(providerName)
}

func (n *tarNode) Lookup(ctx context.Context, name data.Name) (vfs.FsNode, error) {
	if !n.ftype.IsDir() {
		return nil, errors.ErrNotDirectory
	}

	child, ok := n.children.Get(name.String())
	if !ok {
		return nil, errors.NotFound(name.Bytes())
	}
	return child, nil
}

func (n *tarNode) CreateFile(ctx context.Context, name data.Name, opts vfs.CreateFileOptions) (vfs.FsNode, error) {
	return nil, errors.ReadOnly(providerName)
}

func (n *tarNode) Mkdir(ctx context.Context, name data.Name, opts vfs.MkdirOptions) (vfs.FsNode, error) {
	return nil, errors.ReadOnly(providerName)
}

func (n *tarNode) Unlink(ctx context.Context, name data.Name) error {
	return errors.ReadOnly(providerName)
}

func (n *tarNode) Rmdir(ctx context.Context, name data.Name) error {
	return errors.ReadOnly(providerName)
}

func (n *tarNode) ReadDir(ctx context.Context, cursor vfs.DirCursor, max int) (*vfs.DirBatch, error) {
	if !n.ftype.IsDir() {
		return nil, errors.ErrNotDirectory
	}
	if max <= 0 {
		max = n.children.Len()
	}

	batch := &vfs.DirBatch{}
	index := 0
	start := int(cursor)

	n.children.Scan(func(name string, child *tarNode) bool {
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

func (n *tarNode) Rename(ctx context.Context, oldName data.Name, newParent vfs.FsNode, newName data.Name) error {
	return errors.ReadOnly(providerName)
}

func (n *tarNode) Open(ctx context.Context, opts vfs.OpenOptions) (vfs.FsHandle, error) {
	if n.ftype.IsDir() {
		return nil, errors.ErrIsDirectory
	}
	if opts.Access.HasWrite() || opts.Access.HasCreate() {
		return nil, errors.ReadOnly(providerName)
	}
	return &tarHandle{node: n}, nil
}

func (n *tarNode) Link(ctx context.Context, existing vfs.FsNode, newName data.Name) error {
	return errors.ReadOnly(providerName)
}

func (n *tarNode) Symlink(ctx context.Context, newName data.Name, target data.Path) error {
	return errors.ReadOnly(providerName)
}

func (n *tarNode) Readlink(ctx context.Context) (data.Path, error) {
	if !n.ftype.IsSymlink() {
		return nil, errors.ErrInvalid
	}
	return n.target, nil
}

// tarHandle reads straight out of the parsed archive bytes.
type tarHandle struct {
	node *tarNode
}

func (h *tarHandle) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
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

func (h *tarHandle) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	return 0, errors.ReadOnly(providerName)
}

func (h *tarHandle) Truncate(ctx context.Context, size int64) error {
	return errors.ReadOnly(providerName)
}

func (h *tarHandle) Sync(ctx context.Context) error {
	return nil
}

func (h *tarHandle) Close() error {
	return nil
}
