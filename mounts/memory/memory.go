// Package memory is the in-memory reference backend. It keeps the whole
// tree in process memory and implements every optional capability, which
// makes it the canonical upper layer for overlays and the workhorse of the
// test suites.
package memory

import (
	"sync"
	"time"

	"github.com/tidwall/btree"

	vfs "github.com/mwantia/guestvfs"
	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/log"
)

const providerName = "memory"

// MemoryFs is an in-memory filesystem. One RWMutex guards the whole tree;
// the workloads this backend serves are metadata-light, so finer locking has
// never been worth it.
type MemoryFs struct {
	mu    sync.RWMutex
	next  data.BackendInodeId
	nodes map[data.BackendInodeId]*memNode
	root  *memNode
	log   *log.Logger
}

// Option configures a MemoryFs during New.
type Option func(*MemoryFs)

// WithLogger attaches a logger.
func WithLogger(logger *log.Logger) Option {
	return func(m *MemoryFs) {
		if logger != nil {
			m.log = logger.Named(providerName)
		}
	}
}

// New creates an empty filesystem with a root directory owned by root:root
// mode 0755.
func New(opts ...Option) *MemoryFs {
	m := &MemoryFs{
		nodes: make(map[data.BackendInodeId]*memNode),
		log:   log.NewDiscard(),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.root = m.newNode(data.TypeDirectory, 0o755)
	return m
}

func (m *MemoryFs) ProviderName() string {
	return providerName
}

func (m *MemoryFs) Capabilities() vfs.Capabilities {
	return vfs.CapsAll
}

func (m *MemoryFs) Root() vfs.FsNode {
	return m.root
}

func (m *MemoryFs) NodeByInode(id data.BackendInodeId) (vfs.FsNode, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	node, ok := m.nodes[id]
	return node, ok
}

// newNode allocates a node and registers it. Callers hold the write lock,
// except during New where no other reference exists yet.
func (m *MemoryFs) newNode(ft data.FileType, mode data.FileMode) *memNode {
	m.next++
	now := time.Now()

	node := &memNode{
		fs:    m,
		ino:   m.next,
		ftype: ft,
		mode:  mode,
		nlink: 1,

		atime: now,
		mtime: now,
		ctime: now,
	}
	if ft.IsDir() {
		node.nlink = 2
		node.children = btree.NewMap[string, *memNode](0) // degree 0 = auto-optimize
	}

	m.nodes[node.ino] = node
	return node
}

// drop unregisters a node whose last link went away.
func (m *MemoryFs) drop(node *memNode) {
	delete(m.nodes, node.ino)
}
