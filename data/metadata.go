package data

import "time"

// Metadata is the stat-like record every node can report. Backends fill the
// Backend half of Inode; the mount half is stamped in by whoever resolved the
// node, since a backend does not know where it is mounted.
type Metadata struct {
	Inode Inode
	Type  FileType
	Mode  FileMode
	Nlink uint32
	UID   int64
	GID   int64
	Size  int64

	AccessTime time.Time
	ModifyTime time.Time
	ChangeTime time.Time

	RdevMajor uint32
	RdevMinor uint32
}

// Clone returns a copy of the record.
func (m *Metadata) Clone() *Metadata {
	clone := *m
	return &clone
}

// MetadataUpdateMask selects which fields of a MetadataUpdate apply.
type MetadataUpdateMask int

const (
	UpdateMode MetadataUpdateMask = 1 << iota
	UpdateUID
	UpdateGID
	UpdateSize
	UpdateAccessTime
	UpdateModifyTime
)

// MetadataUpdate is a partial metadata write. Only fields selected by Mask
// are touched; ChangeTime is always refreshed.
type MetadataUpdate struct {
	Mask MetadataUpdateMask

	Mode       FileMode
	UID        int64
	GID        int64
	Size       int64
	AccessTime time.Time
	ModifyTime time.Time
}

// Has reports whether the update selects the given field.
func (u *MetadataUpdate) Has(field MetadataUpdateMask) bool {
	return u.Mask&field != 0
}

// Apply writes the selected fields into target and bumps its change time.
func (u *MetadataUpdate) Apply(target *Metadata) {
	if u.Has(UpdateMode) {
		target.Mode = u.Mode
	}
	if u.Has(UpdateUID) {
		target.UID = u.UID
	}
	if u.Has(UpdateGID) {
		target.GID = u.GID
	}
	if u.Has(UpdateSize) {
		target.Size = u.Size
	}
	if u.Has(UpdateAccessTime) {
		target.AccessTime = u.AccessTime
	}
	if u.Has(UpdateModifyTime) {
		target.ModifyTime = u.ModifyTime
	}

	target.ChangeTime = time.Now()
}
