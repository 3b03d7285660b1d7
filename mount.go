package vfs

import (
	"sync"
	"sync/atomic"

	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/data/errors"
	"github.com/mwantia/guestvfs/log"
)

// MountTable registers backend filesystems under MountIds. It is scoped to
// one Vfs instance, never process-global.
//
// Outstanding guards block unmount, and an in-progress unmount blocks new
// guards; both sides fail fast with data.ErrBusy instead of waiting.
type MountTable struct {
	mu      sync.RWMutex
	entries []*mountEntry
	log     *log.Logger
}

type mountEntry struct {
	id data.MountId
	fs Fs

	guards     atomic.Int64
	unmounting atomic.Bool
	removed    bool
}

// NewMountTable creates an empty table.
func NewMountTable(logger *log.Logger) *MountTable {
	if logger == nil {
		logger = log.NewDiscard()
	}
	return &MountTable{
		log: logger,
	}
}

// Mount registers fs and returns its new id. Ids of unmounted entries are
// not reused, so a stale handle can never alias a new backend.
func (t *MountTable) Mount(fs Fs) (data.MountId, error) {
	if fs == nil {
		return data.MountNone, errors.ErrInvalid
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	id := data.MountId(len(t.entries))
	t.entries = append(t.entries, &mountEntry{
		id: id,
		fs: fs,
	})

	t.log.Debug("mounted '%s' as mount %d", fs.ProviderName(), id)
	return id, nil
}

// Unmount removes the entry. It fails fast with data.ErrBusy while guards
// are outstanding.
func (t *MountTable) Unmount(id data.MountId) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, err := t.lookupLocked(id)
	if err != nil {
		return err
	}

	entry.unmounting.Store(true)
	if entry.guards.Load() != 0 {
		entry.unmounting.Store(false)
		return errors.MountBusy(int(id), entry.guards.Load())
	}

	entry.removed = true
	entry.fs = nil

	t.log.Debug("unmounted mount %d", id)
	return nil
}

// Get returns the filesystem of a live mount without pinning it. Callers
// that need the backend to stay alive use Guard instead.
func (t *MountTable) Get(id data.MountId) (Fs, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, err := t.lookupLocked(id)
	if err != nil {
		return nil, false
	}
	return entry.fs, true
}

// Guard pins the mount against unmount and returns the pin. It fails fast
// with data.ErrBusy if an unmount is in progress.
func (t *MountTable) Guard(id data.MountId) (*MountGuard, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, err := t.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	if entry.unmounting.Load() {
		return nil, errors.MountBusy(int(id), entry.guards.Load())
	}

	// Unmount holds the write lock, so the flag cannot flip while we hold
	// the read lock and the increment below is ordered against it.
	entry.guards.Add(1)

	return &MountGuard{
		entry: entry,
	}, nil
}

func (t *MountTable) lookupLocked(id data.MountId) (*mountEntry, error) {
	if id < 0 || int(id) >= len(t.entries) {
		return nil, errors.NoMount(int(id))
	}
	entry := t.entries[id]
	if entry.removed {
		return nil, errors.NoMount(int(id))
	}
	return entry, nil
}

// MountGuard pins one mount entry. Release is idempotent; a guard must be
// released exactly when its holder is done with the backend.
type MountGuard struct {
	entry    *mountEntry
	released atomic.Bool
}

// MountId returns the pinned mount's id.
func (g *MountGuard) MountId() data.MountId {
	return g.entry.id
}

// Fs returns the pinned filesystem.
func (g *MountGuard) Fs() Fs {
	return g.entry.fs
}

// Release drops the pin. Further calls are no-ops.
func (g *MountGuard) Release() {
	if g.released.CompareAndSwap(false, true) {
		g.entry.guards.Add(-1)
	}
}
