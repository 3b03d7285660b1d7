package local

import (
	"context"
	"io/fs"
	"os"
	"path"
	"sort"

	vfs "github.com/mwantia/guestvfs"
	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/data/errors"
)

// localNode is one host path below the root. Nodes are cheap views; every
// operation re-stats, so the host may change underneath without breaking
// anything beyond the affected call.
type localNode struct {
	fs  *LocalFs
	rel string
	ino data.BackendInodeId
}

// childRel joins a validated name onto the node's relative path. Dot names
// are rejected here because a Name permits them while the host would walk
// out of the entry.
func (n *localNode) childRel(name data.Name) (string, error) {
	s := name.String()
	if s == "." || s == ".." {
		return "", errors.InvalidName(name.Bytes(), "dot entry")
	}
	if n.rel == "" {
		return s, nil
	}
	return n.rel + "/" + s, nil
}

func (n *localNode) host() string {
	return n.fs.hostPath(n.rel)
}

func (n *localNode) Inode() data.BackendInodeId {
	return n.ino
}

func (n *localNode) FileType() data.FileType {
	info, err := os.Lstat(n.host())
	if err != nil {
		return data.TypeUnknown
	}
	return fileTypeOf(info.Mode())
}

func (n *localNode) Metadata(ctx context.Context) (*data.Metadata, error) {
	info, err := os.Lstat(n.host())
	if err != nil {
		return nil, mapHostError(err)
	}

	md := &data.Metadata{
		Inode:      data.Inode{Mount: data.MountNone, Backend: n.ino},
		Type:       fileTypeOf(info.Mode()),
		Mode:       data.FileMode(info.Mode().Perm()),
		Nlink:      1,
		Size:       info.Size(),
		ModifyTime: info.ModTime(),
		AccessTime: info.ModTime(),
		ChangeTime: info.ModTime(),
	}
	fillOwner(info, md)
	return md, nil
}

func (n *localNode) SetMetadata(ctx context.Context, update *data.MetadataUpdate) error {
	host := n.host()

	if update.Has(data.UpdateMode) {
		if err := os.Chmod(host, fs.FileMode(update.Mode.Perm())); err != nil {
			return mapHostError(err)
		}
	}
	if update.Has(data.UpdateUID) || update.Has(data.UpdateGID) {
		if err := chown(host, update); err != nil {
			return err
		}
	}
	if update.Has(data.UpdateSize) {
		if err := os.Truncate(host, update.Size); err != nil {
			return mapHostError(err)
		}
	}
	if update.Has(data.UpdateAccessTime) || update.Has(data.UpdateModifyTime) {
		atime := update.AccessTime
		mtime := update.ModifyTime
		if !update.Has(data.UpdateAccessTime) || !update.Has(data.UpdateModifyTime) {
			info, err := os.Lstat(host)
			if err != nil {
				return mapHostError(err)
			}
			if !update.Has(data.UpdateAccessTime) {
				atime = info.ModTime()
			}
			if !update.Has(data.UpdateModifyTime) {
				mtime = info.ModTime()
			}
		}
		if err := os.Chtimes(host, atime, mtime); err != nil {
			return mapHostError(err)
		}
	}

	return nil
}

func (n *localNode) Lookup(ctx context.Context, name data.Name) (vfs.FsNode, error) {
	rel, err := n.childRel(name)
	if err != nil {
		return nil, err
	}

	if _, err := os.Lstat(n.fs.hostPath(rel)); err != nil {
		return nil, mapHostError(err)
	}
	return &localNode{fs: n.fs, rel: rel, ino: n.fs.inodeFor(rel)}, nil
}

func (n *localNode) CreateFile(ctx context.Context, name data.Name, opts vfs.CreateFileOptions) (vfs.FsNode, error) {
	rel, err := n.childRel(name)
	if err != nil {
		return nil, err
	}

	flags := os.O_CREATE | os.O_WRONLY
	if opts.Exclusive {
		flags |= os.O_EXCL
	}
	if opts.Truncate {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(n.fs.hostPath(rel), flags, fs.FileMode(opts.Mode.Perm()))
	if err != nil {
		return nil, mapHostError(err)
	}
	f.Close()

	return &localNode{fs: n.fs, rel: rel, ino: n.fs.inodeFor(rel)}, nil
}

func (n *localNode) Mkdir(ctx context.Context, name data.Name, opts vfs.MkdirOptions) (vfs.FsNode, error) {
	rel, err := n.childRel(name)
	if err != nil {
		return nil, err
	}

	if err := os.Mkdir(n.fs.hostPath(rel), fs.FileMode(opts.Mode.Perm())); err != nil {
		return nil, mapHostError(err)
	}
	return &localNode{fs: n.fs, rel: rel, ino: n.fs.inodeFor(rel)}, nil
}

func (n *localNode) Unlink(ctx context.Context, name data.Name) error {
	rel, err := n.childRel(name)
	if err != nil {
		return err
	}

	host := n.fs.hostPath(rel)
	info, err := os.Lstat(host)
	if err != nil {
		return mapHostError(err)
	}
	if info.IsDir() {
		return errors.ErrIsDirectory
	}

	if err := os.Remove(host); err != nil {
		return mapHostError(err)
	}
	n.fs.forget(rel)
	return nil
}

func (n *localNode) Rmdir(ctx context.Context, name data.Name) error {
	rel, err := n.childRel(name)
	if err != nil {
		return err
	}

	host := n.fs.hostPath(rel)
	info, err := os.Lstat(host)
	if err != nil {
		return mapHostError(err)
	}
	if !info.IsDir() {
		return errors.ErrNotDirectory
	}

	if err := os.Remove(host); err != nil {
		return mapHostError(err)
	}
	n.fs.forget(rel)
	return nil
}

func (n *localNode) ReadDir(ctx context.Context, cursor vfs.DirCursor, max int) (*vfs.DirBatch, error) {
	hostEntries, err := os.ReadDir(n.host())
	if err != nil {
		return nil, mapHostError(err)
	}
	sort.Slice(hostEntries, func(i, j int) bool {
		return hostEntries[i].Name() < hostEntries[j].Name()
	})

	if max <= 0 {
		max = len(hostEntries)
	}
	start := int(cursor)
	if start >= len(hostEntries) {
		return &vfs.DirBatch{}, nil
	}
	end := min(len(hostEntries), start+max)

	batch := &vfs.DirBatch{}
	for _, entry := range hostEntries[start:end] {
		name, err := data.NameFromString(entry.Name())
		if err != nil {
			continue
		}
		rel := path.Join(n.rel, entry.Name())
		batch.Entries = append(batch.Entries, vfs.DirEntry{
			Name:  name,
			Inode: n.fs.inodeFor(rel),
			Type:  fileTypeOf(entry.Type()),
		})
	}
	if end < len(hostEntries) {
		batch.Next = vfs.DirCursor(end)
		batch.More = true
	}
	return batch, nil
}

func (n *localNode) Rename(ctx context.Context, oldName data.Name, newParent vfs.FsNode, newName data.Name) error {
	dst, ok := newParent.(*localNode)
	if !ok || dst.fs != n.fs {
		return errors.Unsupported(providerName, "rename across filesystems")
	}

	oldRel, err := n.childRel(oldName)
	if err != nil {
		return err
	}
	newRel, err := dst.childRel(newName)
	if err != nil {
		return err
	}

	if err := os.Rename(n.fs.hostPath(oldRel), n.fs.hostPath(newRel)); err != nil {
		return mapHostError(err)
	}
	n.fs.move(oldRel, newRel)
	return nil
}

func (n *localNode) Open(ctx context.Context, opts vfs.OpenOptions) (vfs.FsHandle, error) {
	flags := 0
	switch {
	case opts.Access.HasRead() && opts.Access.HasWrite():
		flags = os.O_RDWR
	case opts.Access.HasWrite():
		flags = os.O_WRONLY
	default:
		flags = os.O_RDONLY
	}

	f, err := os.OpenFile(n.host(), flags, 0)
	if err != nil {
		return nil, mapHostError(err)
	}
	return &localHandle{file: f}, nil
}

func (n *localNode) Link(ctx context.Context, existing vfs.FsNode, newName data.Name) error {
	src, ok := existing.(*localNode)
	if !ok || src.fs != n.fs {
		return errors.Unsupported(providerName, "link across filesystems")
	}

	rel, err := n.childRel(newName)
	if err != nil {
		return err
	}

	if err := os.Link(src.host(), n.fs.hostPath(rel)); err != nil {
		return mapHostError(err)
	}
	return nil
}

func (n *localNode) Symlink(ctx context.Context, newName data.Name, target data.Path) error {
	rel, err := n.childRel(newName)
	if err != nil {
		return err
	}

	if err := os.Symlink(target.String(), n.fs.hostPath(rel)); err != nil {
		return mapHostError(err)
	}
	return nil
}

func (n *localNode) Readlink(ctx context.Context) (data.Path, error) {
	target, err := os.Readlink(n.host())
	if err != nil {
		return nil, mapHostError(err)
	}
	return data.PathFromString(target), nil
}

func fileTypeOf(mode fs.FileMode) data.FileType {
	switch {
	case mode.IsRegular():
		return data.TypeRegular
	case mode.IsDir():
		return data.TypeDirectory
	case mode&fs.ModeSymlink != 0:
		return data.TypeSymlink
	case mode&fs.ModeCharDevice != 0:
		return data.TypeCharDevice
	case mode&fs.ModeDevice != 0:
		return data.TypeBlockDevice
	case mode&fs.ModeNamedPipe != 0:
		return data.TypeFifo
	case mode&fs.ModeSocket != 0:
		return data.TypeSocket
	default:
		return data.TypeUnknown
	}
}
