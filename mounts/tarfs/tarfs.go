// Package tarfs serves a tar archive as a read-only backend. The archive is
// parsed once at construction; lookups and reads run against the in-memory
// tree. Typical use is as a lower overlay layer holding a base image.
package tarfs

import (
	"archive/tar"
	goerrors "errors"
	"io"
	"strings"
	"time"

	"github.com/tidwall/btree"

	vfs "github.com/mwantia/guestvfs"
	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/data/errors"
)

const providerName = "tarfs"

// TarFs is an immutable filesystem built from one tar archive.
type TarFs struct {
	next  data.BackendInodeId
	nodes map[data.BackendInodeId]*tarNode
	root  *tarNode
}

// New reads the whole archive from r and builds the tree. Entries with
// missing parents get them synthesized, the way tar extractors do.
func New(r io.Reader) (*TarFs, error) {
	t := &TarFs{
		nodes: make(map[data.BackendInodeId]*tarNode),
	}
	t.root = t.newNode(data.TypeDirectory, 0o755, time.Time{})

	reader := tar.NewReader(r)
	for {
		hdr, err := reader.Next()
		if goerrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Backend(providerName, err)
		}

		if err := t.addEntry(hdr, reader); err != nil {
			return nil, err
		}
	}

	return t, nil
}

func (t *TarFs) addEntry(hdr *tar.Header, r io.Reader) error {
	segments := splitArchivePath(hdr.Name)
	if len(segments) == 0 {
		return nil
	}

	dir := t.root
	for _, seg := range segments[:len(segments)-1] {
		dir = t.ensureDir(dir, seg, hdr.ModTime)
	}
	leaf := segments[len(segments)-1]

	switch hdr.Typeflag {
	case tar.TypeDir:
		node := t.ensureDir(dir, leaf, hdr.ModTime)
		node.mode = data.FileMode(hdr.Mode).Perm()
		node.uid = int64(hdr.Uid)
		node.gid = int64(hdr.Gid)
		node.mtime = hdr.ModTime

	case tar.TypeSymlink:
		node := t.newNode(data.TypeSymlink, 0o777, hdr.ModTime)
		node.target = data.PathFromString(hdr.Linkname)
		node.uid = int64(hdr.Uid)
		node.gid = int64(hdr.Gid)
		dir.children.Set(leaf, node)

	case tar.TypeLink:
		existing, err := t.resolveArchivePath(hdr.Linkname)
		if err != nil {
			return err
		}
		existing.nlink++
		dir.children.Set(leaf, existing)

	case tar.TypeReg:
		content, err := io.ReadAll(r)
		if err != nil {
			return errors.Backend(providerName, err)
		}
		node := t.newNode(data.TypeRegular, data.FileMode(hdr.Mode).Perm(), hdr.ModTime)
		node.uid = int64(hdr.Uid)
		node.gid = int64(hdr.Gid)
		node.content = content
		dir.children.Set(leaf, node)
	}

	return nil
}

func (t *TarFs) ensureDir(parent *tarNode, name string, mtime time.Time) *tarNode {
	if child, ok := parent.children.Get(name); ok && child.ftype.IsDir() {
		return child
	}
	child := t.newNode(data.TypeDirectory, 0o755, mtime)
	parent.children.Set(name, child)
	return child
}

func (t *TarFs) newNode(ft data.FileType, mode data.FileMode, mtime time.Time) *tarNode {
	t.next++
	node := &tarNode{
		fs:    t,
		ino:   t.next,
		ftype: ft,
		mode:  mode,
		nlink: 1,
		mtime: mtime,
	}
	if ft.IsDir() {
		node.children = btree.NewMap[string, *tarNode](0)
	}
	t.nodes[node.ino] = node
	return node
}

func (t *TarFs) resolveArchivePath(p string) (*tarNode, error) {
	node := t.root
	for _, seg := range splitArchivePath(p) {
		if !node.ftype.IsDir() {
			return nil, errors.ErrNotDirectory
		}
		child, ok := node.children.Get(seg)
		if !ok {
			return nil, errors.NotFound([]byte(seg))
		}
		node = child
	}
	return node, nil
}

func splitArchivePath(p string) []string {
	var segments []string
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
		default:
			segments = append(segments, seg)
		}
	}
	return segments
}

func (t *TarFs) ProviderName() string {
	return providerName
}

func (t *TarFs) Capabilities() vfs.Capabilities {
	return vfs.CapSymlinks
}

func (t *TarFs) Root() vfs.FsNode {
	return t.root
}

func (t *TarFs) NodeByInode(id data.BackendInodeId) (vfs.FsNode, bool) {
	node, ok := t.nodes[id]
	return node, ok
}
