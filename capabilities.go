package vfs

import "strings"

// Capabilities advertises the optional features a backend supports. A caller
// that needs a missing capability emulates it or fails with
// data.ErrNotSupported, it never guesses.
type Capabilities uint32

const (
	// CapSymlinks marks backends that can store symbolic links.
	CapSymlinks Capabilities = 1 << iota
	// CapHardlinks marks backends that can create hard links.
	CapHardlinks
	// CapSetMetadata marks backends that accept metadata updates.
	CapSetMetadata
	// CapRename marks backends that support renaming within themselves.
	CapRename
	// CapTruncate marks backends whose handles support truncation.
	CapTruncate
	// CapPersistent marks backends whose contents survive process restarts.
	CapPersistent
)

// CapsAll is the full feature set a read-write backend can claim.
const CapsAll = CapSymlinks | CapHardlinks | CapSetMetadata | CapRename | CapTruncate

// Has reports whether every capability in want is present.
func (c Capabilities) Has(want Capabilities) bool {
	return c&want == want
}

func (c Capabilities) String() string {
	names := []struct {
		cap  Capabilities
		name string
	}{
		{CapSymlinks, "symlinks"},
		{CapHardlinks, "hardlinks"},
		{CapSetMetadata, "setmetadata"},
		{CapRename, "rename"},
		{CapTruncate, "truncate"},
		{CapPersistent, "persistent"},
	}

	var parts []string
	for _, n := range names {
		if c.Has(n.cap) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}
