package s3

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"

	vfs "github.com/mwantia/guestvfs"
	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/data/errors"
)

// s3Node is one key or prefix in the bucket.
type s3Node struct {
	fs  *S3Fs
	rel string
	dir bool
	ino data.BackendInodeId
}

func (n *s3Node) childRel(name data.Name) (string, error) {
	s := name.String()
	if s == "." || s == ".." {
		return "", errors.InvalidName(name.Bytes(), "dot entry")
	}
	if n.rel == "" {
		return s, nil
	}
	return n.rel + "/" + s, nil
}

func (n *s3Node) Inode() data.BackendInodeId {
	return n.ino
}

func (n *s3Node) FileType() data.FileType {
	if n.dir {
		return data.TypeDirectory
	}
	return data.TypeRegular
}

func (n *s3Node) Metadata(ctx context.Context) (*data.Metadata, error) {
	if n.dir {
		md := &data.Metadata{
			Inode: data.Inode{Mount: data.MountNone, Backend: n.ino},
			Type:  data.TypeDirectory,
			Mode:  0o555,
			Nlink: 1,
		}
		if info, _, err := n.fs.statKey(ctx, n.rel); err == nil && info != nil {
			md.ModifyTime = info.LastModified
			md.AccessTime = info.LastModified
			md.ChangeTime = info.LastModified
		}
		return md, nil
	}

	info, dir, err := n.fs.statKey(ctx, n.rel)
	if err != nil {
		return nil, err
	}
	if dir || info == nil {
		return nil, errors.ErrIsDirectory
	}

	return &data.Metadata{
		Inode:      data.Inode{Mount: data.MountNone, Backend: n.ino},
		Type:       data.TypeRegular,
		Mode:       0o444,
		Nlink:      1,
		Size:       info.Size,
		AccessTime: info.LastModified,
		ModifyTime: info.LastModified,
		ChangeTime: info.LastModified,
	}, nil
}

func (n *s3Node) SetMetadata(ctx context.Context, update *data.MetadataUpdate) error {
	return errors.ReadOnly(providerName)
}

func (n *s3Node) Lookup(ctx context.Context, name data.Name) (vfs.FsNode, error) {
	if !n.dir {
		return nil, errors.ErrNotDirectory
	}

	rel, err := n.childRel(name)
	if err != nil {
		return nil, err
	}

	_, dir, err := n.fs.statKey(ctx, rel)
	if err != nil {
		return nil, err
	}
	return &s3Node{fs: n.fs, rel: rel, dir: dir, ino: n.fs.inodeFor(rel, dir)}, nil
}

func (n *s3Node) CreateFile(ctx context.Context, name data.Name, opts vfs.CreateFileOptions) (vfs.FsNode, error) {
	return nil, errors.ReadOnly(providerName)
}

func (n *s3Node) Mkdir(ctx context.Context, name data.Name, opts vfs.MkdirOptions) (vfs.FsNode, error) {
	return nil, errors.ReadOnly(providerName)
}

func (n *s3Node) Unlink(ctx context.Context, name data.Name) error {
	return errors.ReadOnly(providerName)
}

func (n *s3Node) Rmdir(ctx context.Context, name data.Name) error {
	return errors.ReadOnly(providerName)
}

// ReadDir lists the immediate children of the prefix. The full listing is
// collected per call so the positional cursor stays consistent; bucket
// listings are already name-ordered, children of marker objects and
// implicit prefixes merge into one view.
func (n *s3Node) ReadDir(ctx context.Context, cursor vfs.DirCursor, max int) (*vfs.DirBatch, error) {
	if !n.dir {
		return nil, errors.ErrNotDirectory
	}

	prefix := n.fs.key(n.rel)
	if n.rel != "" {
		prefix += "/"
	}

	type child struct {
		name string
		dir  bool
	}
	seen := make(map[string]bool)
	var children []child

	listing := n.fs.client.ListObjects(ctx, n.fs.bucket, minio.ListObjectsOptions{
		Prefix: prefix,
	})
	for obj := range listing {
		if obj.Err != nil {
			return nil, errors.Backend(providerName, obj.Err)
		}

		rest := strings.TrimPrefix(obj.Key, prefix)
		if rest == "" {
			continue
		}

		name, _, found := strings.Cut(rest, "/")
		dir := found
		if name == "" {
			continue
		}
		if wasDir, ok := seen[name]; ok {
			if dir && !wasDir {
				seen[name] = true
				for i := range children {
					if children[i].name == name {
						children[i].dir = true
					}
				}
			}
			continue
		}
		seen[name] = dir
		children = append(children, child{name: name, dir: dir})
	}

	sort.Slice(children, func(i, j int) bool {
		return children[i].name < children[j].name
	})

	if max <= 0 {
		max = len(children)
	}
	start := int(cursor)
	if start >= len(children) {
		return &vfs.DirBatch{}, nil
	}
	end := min(len(children), start+max)

	batch := &vfs.DirBatch{}
	for _, c := range children[start:end] {
		name, err := data.NameFromString(c.name)
		if err != nil {
			continue
		}
		rel := c.name
		if n.rel != "" {
			rel = n.rel + "/" + c.name
		}
		ft := data.TypeRegular
		if c.dir {
			ft = data.TypeDirectory
		}
		batch.Entries = append(batch.Entries, vfs.DirEntry{
			Name:  name,
			Inode: n.fs.inodeFor(rel, c.dir),
			Type:  ft,
		})
	}
	if end < len(children) {
		batch.Next = vfs.DirCursor(end)
		batch.More = true
	}
	return batch, nil
}

func (n *s3Node) Rename(ctx context.Context, oldName data.Name, newParent vfs.FsNode, newName data.Name) error {
	return errors.ReadOnly(providerName)
}

func (n *s3Node) Open(ctx context.Context, opts vfs.OpenOptions) (vfs.FsHandle, error) {
	if n.dir {
		return nil, errors.ErrIsDirectory
	}
	if opts.Access.HasWrite() || opts.Access.HasCreate() {
		return nil, errors.ReadOnly(providerName)
	}
	return &s3Handle{node: n}, nil
}

func (n *s3Node) Link(ctx context.Context, existing vfs.FsNode, newName data.Name) error {
	return errors.ReadOnly(providerName)
}

func (n *s3Node) Symlink(ctx context.Context, newName data.Name, target data.Path) error {
	return errors.ReadOnly(providerName)
}

func (n *s3Node) Readlink(ctx context.Context) (data.Path, error) {
	return nil, errors.ErrInvalid
}

// s3Handle reads object bytes with ranged GETs.
type s3Handle struct {
	node *s3Node
}

func (h *s3Handle) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.ErrInvalid
	}

	info, dir, err := h.node.fs.statKey(ctx, h.node.rel)
	if err != nil {
		return 0, err
	}
	if dir || info == nil {
		return 0, errors.ErrIsDirectory
	}
	if off >= info.Size {
		return 0, io.EOF
	}

	opts := minio.GetObjectOptions{}
	end := min(info.Size, off+int64(len(p)))
	if err := opts.SetRange(off, end-1); err != nil {
		return 0, errors.Backend(providerName, err)
	}

	obj, err := h.node.fs.client.GetObject(ctx, h.node.fs.bucket, h.node.fs.key(h.node.rel), opts)
	if err != nil {
		return 0, errors.Backend(providerName, err)
	}
	defer obj.Close()

	n, err := io.ReadFull(obj, p[:end-off])
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return n, errors.Backend(providerName, err)
	}
	if int64(n) < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

func (h *s3Handle) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	return 0, errors.ReadOnly(providerName)
}

func (h *s3Handle) Truncate(ctx context.Context, size int64) error {
	return errors.ReadOnly(providerName)
}

func (h *s3Handle) Sync(ctx context.Context) error {
	return nil
}

func (h *s3Handle) Close() error {
	return nil
}
