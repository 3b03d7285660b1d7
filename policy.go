package vfs

import (
	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/data/errors"
)

// MutationOp names the structural change a policy is asked to approve.
type MutationOp int

const (
	MutationCreate MutationOp = iota + 1
	MutationDelete
	MutationRename
	MutationLink
	MutationSymlink
	MutationSetMetadata
)

func (op MutationOp) String() string {
	switch op {
	case MutationCreate:
		return "create"
	case MutationDelete:
		return "delete"
	case MutationRename:
		return "rename"
	case MutationLink:
		return "link"
	case MutationSymlink:
		return "symlink"
	case MutationSetMetadata:
		return "setmetadata"
	default:
		return "unknown"
	}
}

// Policy decides whether a caller may traverse, open or mutate. Checks
// receive the current metadata of the object in question; implementations
// must not cache decisions across calls, metadata changes take effect on the
// next check.
type Policy interface {
	// CheckTraverse is consulted for every directory crossed during path
	// resolution.
	CheckTraverse(cred Cred, dir *data.Metadata) error

	// CheckOpen is consulted when a node is opened with the given access
	// intent.
	CheckOpen(cred Cred, node *data.Metadata, access data.AccessMode) error

	// CheckMutation is consulted before a structural change inside parent.
	// For MutationSetMetadata the metadata is the target's own, since chmod
	// and chown authority follows ownership, not the containing directory.
	CheckMutation(cred Cred, parent *data.Metadata, op MutationOp) error
}

// PosixPolicy implements the classic owner/group/other permission model.
// Uid zero bypasses read and write checks and needs at least one execute bit
// for traversal and execution.
type PosixPolicy struct{}

func (PosixPolicy) CheckTraverse(cred Cred, dir *data.Metadata) error {
	if cred.UID == 0 {
		if dir.Type.IsDir() {
			return nil
		}
		if dir.Mode.AnyExec() {
			return nil
		}
		return errors.TraverseDenied(cred.UID)
	}
	if classBits(cred, dir)&data.PermExec == 0 {
		return errors.TraverseDenied(cred.UID)
	}
	return nil
}

func (PosixPolicy) CheckOpen(cred Cred, node *data.Metadata, access data.AccessMode) error {
	if cred.UID == 0 {
		return nil
	}

	bits := classBits(cred, node)
	if access.HasRead() && bits&data.PermRead == 0 {
		return errors.AccessDenied(cred.UID, "read")
	}
	if access.HasWrite() && bits&data.PermWrite == 0 {
		return errors.AccessDenied(cred.UID, "write")
	}
	return nil
}

func (PosixPolicy) CheckMutation(cred Cred, parent *data.Metadata, op MutationOp) error {
	if cred.UID == 0 {
		return nil
	}

	// Metadata updates check ownership of the object itself, which the
	// caller passes in place of a parent.
	if op == MutationSetMetadata {
		if cred.UID == parent.UID {
			return nil
		}
		return errors.AccessDenied(cred.UID, op.String())
	}

	// Structural changes need write and search permission on the parent.
	bits := classBits(cred, parent)
	if bits&data.PermWrite == 0 || bits&data.PermExec == 0 {
		return errors.AccessDenied(cred.UID, op.String())
	}
	return nil
}

// classBits picks the rwx triple that applies to cred: owner, then group
// including supplementary groups, then other. Exactly one class applies.
func classBits(cred Cred, md *data.Metadata) data.FileMode {
	switch {
	case cred.UID == md.UID:
		return md.Mode.OwnerBits()
	case cred.InGroup(md.GID):
		return md.Mode.GroupBits()
	default:
		return md.Mode.OtherBits()
	}
}

// AllowAllPolicy approves everything. Useful for single-user embeddings that
// do not model identities.
type AllowAllPolicy struct{}

func (AllowAllPolicy) CheckTraverse(Cred, *data.Metadata) error { return nil }

func (AllowAllPolicy) CheckOpen(Cred, *data.Metadata, data.AccessMode) error { return nil }

func (AllowAllPolicy) CheckMutation(Cred, *data.Metadata, MutationOp) error { return nil }
