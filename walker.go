package vfs

import (
	"context"

	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/data/errors"
	"github.com/mwantia/guestvfs/log"
)

// BaseKind selects where a relative path starts resolving from.
type BaseKind int

const (
	// BaseRoot starts at the root mount's root directory.
	BaseRoot BaseKind = iota + 1
	// BaseCwd starts at the context's working directory.
	BaseCwd
	// BaseHandle starts at an open directory handle.
	BaseHandle
)

// Base is the starting point of one resolution.
type Base struct {
	Kind   BaseKind
	Handle *DirHandle
}

// WalkFlags tunes one resolution. The flags are snapshotted once per request
// so a walk never observes a mid-flight change.
type WalkFlags struct {
	// FollowTrailing expands a symlink in the final position instead of
	// returning the link itself.
	FollowTrailing bool
	// NoPermCheck skips traversal permission checks. Reserved for internal
	// callers acting on their own behalf, never for guest requests.
	NoPermCheck bool
	// MaxSymlinks overrides the configured expansion budget when positive.
	MaxSymlinks int
}

// ResolutionRequest is one path resolution job.
type ResolutionRequest struct {
	Vctx  *VCtx
	Base  Base
	Path  data.Path
	Flags WalkFlags
}

// Resolved is a fully walked path. The caller owns Guard and must release it
// once done with Node.
type Resolved struct {
	Guard *MountGuard
	Node  FsNode
	Inode data.Inode

	// Parent is the directory the final component was found in, or nil when
	// the result is the mount root.
	Parent FsNode
}

// Release drops the mount pin.
func (r *Resolved) Release() {
	r.Guard.Release()
}

// ResolvedParent is a walk stopped one component short, for callers that
// intend to create or remove the leaf. The leaf itself is never looked up.
type ResolvedParent struct {
	Guard *MountGuard
	Dir   FsNode
	Inode data.Inode
	Name  data.Name

	// TrailingSlash records that the request demands a directory leaf.
	TrailingSlash bool
}

// Release drops the mount pin.
func (r *ResolvedParent) Release() {
	r.Guard.Release()
}

// PathWalker resolves byte paths against the mount table, one component at a
// time, consulting the policy at every directory crossing and expanding
// symlinks against a per-resolution budget.
type PathWalker struct {
	table  *MountTable
	policy Policy
	config Config
	root   data.MountId
	log    *log.Logger
}

// NewPathWalker creates a walker rooted at the given mount.
func NewPathWalker(table *MountTable, policy Policy, config Config, root data.MountId, logger *log.Logger) *PathWalker {
	if logger == nil {
		logger = log.NewDiscard()
	}
	return &PathWalker{
		table:  table,
		policy: policy,
		config: config,
		root:   root,
		log:    logger,
	}
}

// Resolve walks the full path and returns the final node.
func (w *PathWalker) Resolve(ctx context.Context, req ResolutionRequest) (*Resolved, error) {
	state, err := w.walk(ctx, req, false)
	if err != nil {
		return nil, err
	}

	return &Resolved{
		Guard:  state.guard,
		Node:   state.cur,
		Inode:  data.Inode{Mount: state.guard.MountId(), Backend: state.cur.Inode()},
		Parent: state.parent(),
	}, nil
}

// ResolveParent walks up to but not including the final component and returns
// the containing directory plus the leaf name, for create and remove intent.
func (w *PathWalker) ResolveParent(ctx context.Context, req ResolutionRequest) (*ResolvedParent, error) {
	state, err := w.walk(ctx, req, true)
	if err != nil {
		return nil, err
	}

	return &ResolvedParent{
		Guard:         state.guard,
		Dir:           state.cur,
		Inode:         data.Inode{Mount: state.guard.MountId(), Backend: state.cur.Inode()},
		Name:          state.leaf,
		TrailingSlash: req.Path.HasTrailingSlash(),
	}, nil
}

// walkState is the mutable position of one resolution.
type walkState struct {
	guard *MountGuard
	rootN FsNode
	cur   FsNode

	// parents are the directories crossed since the last jump to root,
	// innermost last. Weak by construction: nodes, not handles.
	parents []FsNode

	// handleParent is the base handle's cached parent link, used for a
	// leading ".." before any directory was crossed.
	handleParent FsNode

	leaf data.Name
}

func (s *walkState) parent() FsNode {
	if len(s.parents) == 0 {
		return nil
	}
	return s.parents[len(s.parents)-1]
}

func (w *PathWalker) walk(ctx context.Context, req ResolutionRequest, wantParent bool) (*walkState, error) {
	if req.Vctx == nil {
		return nil, errors.ErrInvalid
	}
	if req.Path.IsEmpty() {
		return nil, errors.InvalidPath(nil, "empty path")
	}
	if err := req.Path.Validate(w.config.MaxPathLen); err != nil {
		return nil, err
	}

	budget := w.config.MaxSymlinks
	if req.Flags.MaxSymlinks > 0 {
		budget = req.Flags.MaxSymlinks
	}

	state, queue, err := w.begin(req)
	if err != nil {
		return nil, err
	}

	ok := false
	defer func() {
		if !ok {
			state.guard.Release()
		}
	}()

	trailingDir := req.Path.HasTrailingSlash()

	for len(queue) > 0 {
		comp := queue[0]
		queue = queue[1:]

		switch comp.Kind {
		case data.ComponentRoot:
			state.cur = state.rootN
			state.parents = state.parents[:0]
			state.handleParent = nil

		case data.ComponentCur:
			if !state.cur.FileType().IsDir() {
				return nil, errors.ErrNotDirectory
			}
			if wantParent && len(queue) == 0 {
				return nil, errors.InvalidName([]byte("."), "not a creatable leaf")
			}

		case data.ComponentParent:
			if !state.cur.FileType().IsDir() {
				return nil, errors.ErrNotDirectory
			}
			if wantParent && len(queue) == 0 {
				return nil, errors.InvalidName([]byte(".."), "not a creatable leaf")
			}

			// Stepping out is a traversal of the directory being left, and is
			// checked like any other crossing.
			if !req.Flags.NoPermCheck {
				md, err := state.cur.Metadata(ctx)
				if err != nil {
					return nil, err
				}
				if err := w.policy.CheckTraverse(req.Vctx.Cred, md); err != nil {
					return nil, err
				}
			}

			switch {
			case len(state.parents) > 0:
				state.cur = state.parents[len(state.parents)-1]
				state.parents = state.parents[:len(state.parents)-1]
			case state.handleParent != nil:
				state.cur = state.handleParent
				state.handleParent = nil
			default:
				// "/.." is "/".
				state.cur = state.rootN
			}

		case data.ComponentNormal:
			name, err := data.NewName(comp.Name)
			if err != nil {
				return nil, err
			}
			if w.config.MaxNameLen > 0 && len(name) > w.config.MaxNameLen {
				return nil, errors.NameTooLong(name.Bytes(), w.config.MaxNameLen)
			}

			if !state.cur.FileType().IsDir() {
				return nil, errors.ErrNotDirectory
			}

			if !req.Flags.NoPermCheck {
				md, err := state.cur.Metadata(ctx)
				if err != nil {
					return nil, err
				}
				if err := w.policy.CheckTraverse(req.Vctx.Cred, md); err != nil {
					return nil, err
				}
			}

			if wantParent && len(queue) == 0 {
				state.leaf = name.Clone()
				ok = true
				return state, nil
			}

			child, err := state.cur.Lookup(ctx, name)
			if err != nil {
				return nil, err
			}

			if child.FileType().IsSymlink() {
				last := len(queue) == 0
				if !last || req.Flags.FollowTrailing || trailingDir {
					budget--
					if budget < 0 {
						return nil, errors.SymlinkLoop(w.config.MaxSymlinks)
					}

					target, err := child.Readlink(ctx)
					if err != nil {
						return nil, err
					}
					// Splice the target in front of the remaining work. An
					// absolute target carries its own root component, which
					// resets the position when it is consumed.
					queue = append(target.Components(), queue...)
					continue
				}
			}

			state.parents = append(state.parents, state.cur)
			state.cur = child
		}
	}

	if wantParent {
		// The path ran out of normal components, e.g. "/" or "a/..".
		return nil, errors.InvalidPath(req.Path.Bytes(), "no creatable leaf")
	}

	if trailingDir && !state.cur.FileType().IsDir() {
		return nil, errors.ErrNotDirectory
	}

	ok = true
	return state, nil
}

// begin pins the base mount and seeds the walk position and work queue.
func (w *PathWalker) begin(req ResolutionRequest) (*walkState, []data.Component, error) {
	abs := req.Path.IsAbs()

	if req.Base.Kind == BaseHandle && !abs {
		handle := req.Base.Handle
		if handle == nil {
			return nil, nil, errors.ErrInvalid
		}

		guard, err := w.table.Guard(handle.Mount())
		if err != nil {
			return nil, nil, err
		}

		node, parent, err := handle.node(guard.Fs())
		if err != nil {
			guard.Release()
			return nil, nil, err
		}

		return &walkState{
			guard:        guard,
			rootN:        guard.Fs().Root(),
			cur:          node,
			handleParent: parent,
		}, req.Path.Components(), nil
	}

	guard, err := w.table.Guard(w.root)
	if err != nil {
		return nil, nil, err
	}

	root := guard.Fs().Root()
	state := &walkState{
		guard: guard,
		rootN: root,
		cur:   root,
	}

	queue := req.Path.Components()
	if !abs && req.Base.Kind == BaseCwd && !req.Vctx.Cwd.IsEmpty() {
		queue = append(req.Vctx.Cwd.Components(), queue...)
	}

	return state, queue, nil
}
