package vfs

import "github.com/mwantia/guestvfs/data"

// Cred identifies the caller of an operation. Uids and gids are opaque
// numeric identities; the policy decides what they mean.
type Cred struct {
	UID    int64
	GID    int64
	Groups []int64
	Umask  data.FileMode
}

// RootCred is the superuser identity with the usual 022 umask.
func RootCred() Cred {
	return Cred{UID: 0, GID: 0, Umask: 0o022}
}

// InGroup reports whether gid matches the primary or any supplementary group.
func (c Cred) InGroup(gid int64) bool {
	if c.GID == gid {
		return true
	}
	for _, g := range c.Groups {
		if g == gid {
			return true
		}
	}
	return false
}

// ApplyUmask strips the umask bits from a requested creation mode.
func (c Cred) ApplyUmask(mode data.FileMode) data.FileMode {
	return mode &^ c.Umask
}

// VCtx is the per-call state threaded through every Vfs operation: who is
// asking and where relative paths start from.
type VCtx struct {
	Cred Cred
	// Cwd is the working directory for relative paths. Empty means the root.
	Cwd data.Path
}

// NewVCtx builds a call context rooted at "/" for the given credentials.
func NewVCtx(cred Cred) *VCtx {
	return &VCtx{
		Cred: cred,
		Cwd:  data.PathFromString("/"),
	}
}
