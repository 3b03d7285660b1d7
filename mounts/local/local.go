// Package local exposes a host directory as a backend. All access stays
// below the configured root; guests address entries one validated component
// at a time, so host path tricks never reach the OS.
package local

import (
	goerrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	vfs "github.com/mwantia/guestvfs"
	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/data/errors"
	"github.com/mwantia/guestvfs/log"
)

const providerName = "local"

// LocalFs serves the host directory tree under root. Inode identity is
// synthesized per relative path, since host inode numbers are not stable
// across all filesystems the root may live on.
type LocalFs struct {
	root string
	log  *log.Logger

	mu     sync.Mutex
	next   data.BackendInodeId
	byPath map[string]data.BackendInodeId
	byId   map[data.BackendInodeId]string
}

// Option configures a LocalFs during New.
type Option func(*LocalFs)

// WithLogger attaches a logger.
func WithLogger(logger *log.Logger) Option {
	return func(l *LocalFs) {
		if logger != nil {
			l.log = logger.Named(providerName)
		}
	}
}

// New creates a backend rooted at the given host directory.
func New(root string, opts ...Option) (*LocalFs, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Backend(providerName, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, mapHostError(err)
	}
	if !info.IsDir() {
		return nil, errors.ErrNotDirectory
	}

	l := &LocalFs{
		root:   abs,
		log:    log.NewDiscard(),
		byPath: make(map[string]data.BackendInodeId),
		byId:   make(map[data.BackendInodeId]string),
	}

	for _, opt := range opts {
		opt(l)
	}

	l.inodeFor("")
	return l, nil
}

func (l *LocalFs) ProviderName() string {
	return providerName
}

func (l *LocalFs) Capabilities() vfs.Capabilities {
	return vfs.CapsAll | vfs.CapPersistent
}

func (l *LocalFs) Root() vfs.FsNode {
	return &localNode{fs: l, rel: "", ino: l.inodeFor("")}
}

func (l *LocalFs) NodeByInode(id data.BackendInodeId) (vfs.FsNode, bool) {
	l.mu.Lock()
	rel, ok := l.byId[id]
	l.mu.Unlock()
	if !ok {
		return nil, false
	}

	if _, err := os.Lstat(l.hostPath(rel)); err != nil {
		return nil, false
	}
	return &localNode{fs: l, rel: rel, ino: id}, true
}

// inodeFor returns the synthetic inode of a relative path, allocating on
// first sight.
func (l *LocalFs) inodeFor(rel string) data.BackendInodeId {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id, ok := l.byPath[rel]; ok {
		return id
	}

	l.next++
	l.byPath[rel] = l.next
	l.byId[l.next] = rel
	return l.next
}

// move rebinds an inode from one relative path to another after a rename.
func (l *LocalFs) move(oldRel, newRel string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, ok := l.byPath[oldRel]
	if !ok {
		return
	}
	delete(l.byPath, oldRel)
	if stale, ok := l.byPath[newRel]; ok {
		delete(l.byId, stale)
	}
	l.byPath[newRel] = id
	l.byId[id] = newRel
}

// forget drops the binding of a removed path.
func (l *LocalFs) forget(rel string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id, ok := l.byPath[rel]; ok {
		delete(l.byPath, rel)
		delete(l.byId, id)
	}
}

func (l *LocalFs) hostPath(rel string) string {
	if rel == "" {
		return l.root
	}
	return filepath.Join(l.root, filepath.FromSlash(rel))
}

// mapHostError converts OS errors into the VFS taxonomy.
func mapHostError(err error) error {
	switch {
	case err == nil:
		return nil
	case goerrors.Is(err, fs.ErrNotExist):
		return errors.ErrNotExist
	case goerrors.Is(err, fs.ErrPermission):
		return errors.ErrPermission
	case goerrors.Is(err, fs.ErrExist):
		return errors.ErrExist
	case goerrors.Is(err, syscall.ENOTDIR):
		return errors.ErrNotDirectory
	case goerrors.Is(err, syscall.EISDIR):
		return errors.ErrIsDirectory
	case goerrors.Is(err, syscall.ENOTEMPTY):
		return errors.ErrNotEmpty
	case goerrors.Is(err, syscall.ELOOP):
		return errors.ErrLoopDetected
	case goerrors.Is(err, syscall.ENAMETOOLONG):
		return errors.ErrNameTooLong
	case goerrors.Is(err, syscall.EROFS):
		return errors.ErrReadOnly
	case goerrors.Is(err, syscall.EINVAL):
		return errors.ErrInvalid
	default:
		return errors.Backend(providerName, err)
	}
}
