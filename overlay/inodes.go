package overlay

import (
	"sync"

	"github.com/mwantia/guestvfs/data"
)

// backingKey identifies the physical node currently serving an overlay
// object: either an upper node or a node in one specific lower layer.
type backingKey struct {
	upper bool
	layer int
	inode data.BackendInodeId
}

func upperKey(inode data.BackendInodeId) backingKey {
	return backingKey{upper: true, inode: inode}
}

func lowerKey(layer int, inode data.BackendInodeId) backingKey {
	return backingKey{layer: layer, inode: inode}
}

// inodeTable owns overlay inode identity. An overlay inode is allocated the
// first time a backing node is seen and survives copy-up: promote maps the
// new upper backing to the existing overlay inode while the old lower key
// keeps resolving to it, so the externally visible identity never moves.
type inodeTable struct {
	mu    sync.Mutex
	next  data.BackendInodeId
	byKey map[backingKey]data.BackendInodeId
	nodes map[data.BackendInodeId]*node
	locks map[data.BackendInodeId]*sync.Mutex
}

func newInodeTable() *inodeTable {
	return &inodeTable{
		byKey: make(map[backingKey]data.BackendInodeId),
		nodes: make(map[data.BackendInodeId]*node),
		locks: make(map[data.BackendInodeId]*sync.Mutex),
	}
}

// intern returns the overlay inode for key, allocating one on first sight.
func (t *inodeTable) intern(key backingKey) data.BackendInodeId {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ino, ok := t.byKey[key]; ok {
		return ino
	}

	t.next++
	t.byKey[key] = t.next
	return t.next
}

// promote binds a new backing key to an existing overlay inode. Existing
// bindings stay; a node revived through its old lower key still resolves to
// the same identity.
func (t *inodeTable) promote(ino data.BackendInodeId, key backingKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byKey[key] = ino
}

// remember records the current node serving an overlay inode.
func (t *inodeTable) remember(ino data.BackendInodeId, n *node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[ino] = n
}

// lockFor returns the copy-up lock of an overlay inode. Node objects are
// rebuilt on every lookup, so serialization has to hang off the inode, the
// one identity all handles to the same object share.
func (t *inodeTable) lockFor(ino data.BackendInodeId) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.locks[ino]
	if !ok {
		l = &sync.Mutex{}
		t.locks[ino] = l
	}
	return l
}

// get revives the node last seen for an overlay inode.
func (t *inodeTable) get(ino data.BackendInodeId) (*node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[ino]
	return n, ok
}
