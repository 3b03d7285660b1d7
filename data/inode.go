package data

import (
	"fmt"

	"github.com/google/uuid"
)

// BackendInodeId identifies an object within a single backend filesystem.
// Zero is reserved; a backend returning inode zero violates its contract and
// the VFS treats that as an internal invariant failure.
type BackendInodeId uint64

// IsValid reports whether the id is usable.
func (id BackendInodeId) IsValid() bool {
	return id != 0
}

// MountId is an index into the mount table.
type MountId int

// MountNone marks the absence of a mount reference.
const MountNone MountId = -1

// Inode is the global identity of a filesystem object: which mount serves it
// and which backend inode backs it. It must stay stable for the logical
// object's lifetime, even when the physical backing node changes (overlay
// copy-up).
type Inode struct {
	Mount   MountId
	Backend BackendInodeId
}

func (i Inode) String() string {
	return fmt.Sprintf("%d:%d", i.Mount, i.Backend)
}

// HandleId identifies one open handle. Ids are UUIDv7 so they sort by
// creation time in logs.
type HandleId string

// NewHandleId allocates a fresh handle id.
func NewHandleId() HandleId {
	return HandleId(uuid.Must(uuid.NewV7()).String())
}
