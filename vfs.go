package vfs

import (
	"context"
	goerrors "errors"

	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/data/errors"
	"github.com/mwantia/guestvfs/log"
)

// Vfs is one virtual filesystem instance: a mount table, a policy, and a
// walker, assembled around a root backend. All state is scoped to the
// instance; two Vfs values never share anything.
type Vfs struct {
	table  *MountTable
	walker *PathWalker
	policy Policy
	config Config
	root   data.MountId
	log    *log.Logger
}

// New assembles a Vfs around rootFs mounted as the root of the tree.
func New(rootFs Fs, opts ...Option) (*Vfs, error) {
	v := &Vfs{
		policy: PosixPolicy{},
		config: DefaultConfig(),
		log:    log.NewDiscard(),
	}

	for _, opt := range opts {
		opt(v)
	}

	v.table = NewMountTable(v.log.Named("mount"))

	root, err := v.table.Mount(rootFs)
	if err != nil {
		return nil, err
	}
	v.root = root
	v.walker = NewPathWalker(v.table, v.policy, v.config, root, v.log.Named("walker"))

	v.log.Info("vfs ready, root backend '%s'", rootFs.ProviderName())
	return v, nil
}

// Mount registers an additional backend. It does not appear in the path
// tree; callers reach it through OpenDirMount handles.
func (v *Vfs) Mount(fs Fs) (data.MountId, error) {
	return v.table.Mount(fs)
}

// Unmount removes a backend. It fails fast with data.ErrBusy while handles
// pin it.
func (v *Vfs) Unmount(id data.MountId) error {
	return v.table.Unmount(id)
}

// Resolve walks a path to its node. Most callers want the named operations
// below instead; this is the escape hatch for syscall layers that need the
// raw node.
func (v *Vfs) Resolve(ctx context.Context, req ResolutionRequest) (*Resolved, error) {
	return v.walker.Resolve(ctx, req)
}

// Stat reads the metadata of the object at path. With follow set, a trailing
// symlink is expanded first.
func (v *Vfs) Stat(ctx context.Context, vctx *VCtx, path data.Path, follow bool) (*data.Metadata, error) {
	res, err := v.walker.Resolve(ctx, ResolutionRequest{
		Vctx:  vctx,
		Base:  Base{Kind: BaseCwd},
		Path:  path,
		Flags: WalkFlags{FollowTrailing: follow},
	})
	if err != nil {
		return nil, err
	}
	defer res.Release()

	md, err := res.Node.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	md.Inode.Mount = res.Inode.Mount
	return md, nil
}

// SetMetadata applies a partial metadata update to the object at path.
func (v *Vfs) SetMetadata(ctx context.Context, vctx *VCtx, path data.Path, update *data.MetadataUpdate) error {
	res, err := v.walker.Resolve(ctx, ResolutionRequest{
		Vctx:  vctx,
		Base:  Base{Kind: BaseCwd},
		Path:  path,
		Flags: WalkFlags{FollowTrailing: true},
	})
	if err != nil {
		return err
	}
	defer res.Release()

	md, err := res.Node.Metadata(ctx)
	if err != nil {
		return err
	}
	if err := v.policy.CheckMutation(vctx.Cred, md, MutationSetMetadata); err != nil {
		return err
	}

	return res.Node.SetMetadata(ctx, update)
}

// Open opens the file at path, creating it first when the access mode asks
// for that. The returned handle pins the mount until closed.
func (v *Vfs) Open(ctx context.Context, vctx *VCtx, path data.Path, opts OpenOptions) (*FileHandle, error) {
	res, err := v.walker.Resolve(ctx, ResolutionRequest{
		Vctx:  vctx,
		Base:  Base{Kind: BaseCwd},
		Path:  path,
		Flags: WalkFlags{FollowTrailing: true},
	})

	switch {
	case err == nil:
		if opts.Access.HasCreate() && opts.Access.HasExcl() {
			res.Release()
			return nil, errors.ErrExist
		}
		return v.openNode(ctx, vctx, res, opts)

	case goerrors.Is(err, errors.ErrNotExist) && opts.Access.HasCreate():
		return v.openCreate(ctx, vctx, path, opts)

	default:
		return nil, err
	}
}

func (v *Vfs) openNode(ctx context.Context, vctx *VCtx, res *Resolved, opts OpenOptions) (*FileHandle, error) {
	ok := false
	defer func() {
		if !ok {
			res.Release()
		}
	}()

	md, err := res.Node.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	if md.Type.IsDir() && opts.Access.HasWrite() {
		return nil, errors.ErrIsDirectory
	}
	if err := v.policy.CheckOpen(vctx.Cred, md, opts.Access); err != nil {
		return nil, err
	}

	inner, err := res.Node.Open(ctx, opts)
	if err != nil {
		return nil, err
	}

	handle := &FileHandle{
		id:     data.NewHandleId(),
		guard:  res.Guard,
		node:   res.Node,
		inner:  inner,
		access: opts.Access,
	}

	if opts.Access.HasTrunc() {
		if err := inner.Truncate(ctx, 0); err != nil {
			inner.Close()
			return nil, err
		}
	}

	ok = true
	v.log.Debug("opened %s as handle %s", res.Inode, handle.id)
	return handle, nil
}

func (v *Vfs) openCreate(ctx context.Context, vctx *VCtx, path data.Path, opts OpenOptions) (*FileHandle, error) {
	rp, err := v.walker.ResolveParent(ctx, ResolutionRequest{
		Vctx: vctx,
		Base: Base{Kind: BaseCwd},
		Path: path,
	})
	if err != nil {
		return nil, err
	}

	ok := false
	defer func() {
		if !ok {
			rp.Release()
		}
	}()

	if rp.TrailingSlash {
		return nil, errors.ErrIsDirectory
	}

	dirMd, err := rp.Dir.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	if err := v.policy.CheckMutation(vctx.Cred, dirMd, MutationCreate); err != nil {
		return nil, err
	}

	node, err := rp.Dir.CreateFile(ctx, rp.Name, CreateFileOptions{
		Mode:      vctx.Cred.ApplyUmask(opts.Mode),
		Exclusive: opts.Access.HasExcl(),
	})
	if err != nil {
		// Somebody else created the name first. Without O_EXCL that is the
		// file we wanted; open it.
		if goerrors.Is(err, errors.ErrExist) && !opts.Access.HasExcl() {
			node, err = rp.Dir.Lookup(ctx, rp.Name)
		}
		if err != nil {
			return nil, err
		}
	}

	inner, err := node.Open(ctx, opts)
	if err != nil {
		return nil, err
	}

	handle := &FileHandle{
		id:     data.NewHandleId(),
		guard:  rp.Guard,
		node:   node,
		inner:  inner,
		access: opts.Access,
	}

	ok = true
	v.log.Debug("created %s/%s as handle %s", rp.Inode, rp.Name, handle.id)
	return handle, nil
}

// Mkdir creates a directory at path.
func (v *Vfs) Mkdir(ctx context.Context, vctx *VCtx, path data.Path, opts MkdirOptions) error {
	rp, err := v.walker.ResolveParent(ctx, ResolutionRequest{
		Vctx: vctx,
		Base: Base{Kind: BaseCwd},
		Path: path,
	})
	if err != nil {
		return err
	}
	defer rp.Release()

	if err := v.checkParentMutation(ctx, vctx, rp.Dir, MutationCreate); err != nil {
		return err
	}

	_, err = rp.Dir.Mkdir(ctx, rp.Name, MkdirOptions{
		Mode: vctx.Cred.ApplyUmask(opts.Mode),
	})
	return err
}

// Unlink removes the non-directory at path.
func (v *Vfs) Unlink(ctx context.Context, vctx *VCtx, path data.Path) error {
	rp, err := v.walker.ResolveParent(ctx, ResolutionRequest{
		Vctx: vctx,
		Base: Base{Kind: BaseCwd},
		Path: path,
	})
	if err != nil {
		return err
	}
	defer rp.Release()

	if rp.TrailingSlash {
		return errors.ErrIsDirectory
	}
	if err := v.checkParentMutation(ctx, vctx, rp.Dir, MutationDelete); err != nil {
		return err
	}

	return rp.Dir.Unlink(ctx, rp.Name)
}

// Rmdir removes the empty directory at path.
func (v *Vfs) Rmdir(ctx context.Context, vctx *VCtx, path data.Path) error {
	rp, err := v.walker.ResolveParent(ctx, ResolutionRequest{
		Vctx: vctx,
		Base: Base{Kind: BaseCwd},
		Path: path,
	})
	if err != nil {
		return err
	}
	defer rp.Release()

	if err := v.checkParentMutation(ctx, vctx, rp.Dir, MutationDelete); err != nil {
		return err
	}

	return rp.Dir.Rmdir(ctx, rp.Name)
}

// Rename moves the object at oldPath to newPath. Both live in the root
// mount; backends decide what they can move.
func (v *Vfs) Rename(ctx context.Context, vctx *VCtx, oldPath, newPath data.Path) error {
	oldRp, err := v.walker.ResolveParent(ctx, ResolutionRequest{
		Vctx: vctx,
		Base: Base{Kind: BaseCwd},
		Path: oldPath,
	})
	if err != nil {
		return err
	}
	defer oldRp.Release()

	newRp, err := v.walker.ResolveParent(ctx, ResolutionRequest{
		Vctx: vctx,
		Base: Base{Kind: BaseCwd},
		Path: newPath,
	})
	if err != nil {
		return err
	}
	defer newRp.Release()

	if err := v.checkParentMutation(ctx, vctx, oldRp.Dir, MutationRename); err != nil {
		return err
	}
	if err := v.checkParentMutation(ctx, vctx, newRp.Dir, MutationRename); err != nil {
		return err
	}

	return oldRp.Dir.Rename(ctx, oldRp.Name, newRp.Dir, newRp.Name)
}

// ReadDir lists the whole directory at path, draining the backend's
// pagination.
func (v *Vfs) ReadDir(ctx context.Context, vctx *VCtx, path data.Path) ([]DirEntry, error) {
	res, err := v.walker.Resolve(ctx, ResolutionRequest{
		Vctx:  vctx,
		Base:  Base{Kind: BaseCwd},
		Path:  path,
		Flags: WalkFlags{FollowTrailing: true},
	})
	if err != nil {
		return nil, err
	}
	defer res.Release()

	md, err := res.Node.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	if !md.Type.IsDir() {
		return nil, errors.ErrNotDirectory
	}
	if err := v.policy.CheckOpen(vctx.Cred, md, data.AccessRead); err != nil {
		return nil, err
	}

	var entries []DirEntry
	var cursor DirCursor
	for {
		batch, err := res.Node.ReadDir(ctx, cursor, 128)
		if err != nil {
			return nil, err
		}
		entries = append(entries, batch.Entries...)
		if !batch.More {
			return entries, nil
		}
		cursor = batch.Next
	}
}

// Symlink creates a symbolic link at linkPath pointing to target. The target
// bytes are stored as given, unresolved.
func (v *Vfs) Symlink(ctx context.Context, vctx *VCtx, target data.Path, linkPath data.Path) error {
	rp, err := v.walker.ResolveParent(ctx, ResolutionRequest{
		Vctx: vctx,
		Base: Base{Kind: BaseCwd},
		Path: linkPath,
	})
	if err != nil {
		return err
	}
	defer rp.Release()

	if err := v.checkParentMutation(ctx, vctx, rp.Dir, MutationSymlink); err != nil {
		return err
	}

	return rp.Dir.Symlink(ctx, rp.Name, target)
}

// Readlink returns the target of the symlink at path.
func (v *Vfs) Readlink(ctx context.Context, vctx *VCtx, path data.Path) (data.Path, error) {
	res, err := v.walker.Resolve(ctx, ResolutionRequest{
		Vctx: vctx,
		Base: Base{Kind: BaseCwd},
		Path: path,
	})
	if err != nil {
		return nil, err
	}
	defer res.Release()

	return res.Node.Readlink(ctx)
}

// Link creates a hard link at newPath to the object at existingPath.
func (v *Vfs) Link(ctx context.Context, vctx *VCtx, existingPath, newPath data.Path) error {
	res, err := v.walker.Resolve(ctx, ResolutionRequest{
		Vctx: vctx,
		Base: Base{Kind: BaseCwd},
		Path: existingPath,
	})
	if err != nil {
		return err
	}
	defer res.Release()

	if res.Node.FileType().IsDir() {
		return errors.ErrIsDirectory
	}

	rp, err := v.walker.ResolveParent(ctx, ResolutionRequest{
		Vctx: vctx,
		Base: Base{Kind: BaseCwd},
		Path: newPath,
	})
	if err != nil {
		return err
	}
	defer rp.Release()

	if err := v.checkParentMutation(ctx, vctx, rp.Dir, MutationLink); err != nil {
		return err
	}

	return rp.Dir.Link(ctx, res.Node, rp.Name)
}

// OpenDir opens the directory at path as a resolution base and listing
// cursor. The handle pins the root mount until closed.
func (v *Vfs) OpenDir(ctx context.Context, vctx *VCtx, path data.Path) (*DirHandle, error) {
	res, err := v.walker.Resolve(ctx, ResolutionRequest{
		Vctx:  vctx,
		Base:  Base{Kind: BaseCwd},
		Path:  path,
		Flags: WalkFlags{FollowTrailing: true},
	})
	if err != nil {
		return nil, err
	}

	return v.dirHandle(ctx, vctx, res)
}

// OpenDirMount opens the root directory of an arbitrary mount, the entry
// point into backends outside the path tree.
func (v *Vfs) OpenDirMount(ctx context.Context, vctx *VCtx, id data.MountId) (*DirHandle, error) {
	guard, err := v.table.Guard(id)
	if err != nil {
		return nil, err
	}

	root := guard.Fs().Root()
	return v.dirHandle(ctx, vctx, &Resolved{
		Guard: guard,
		Node:  root,
		Inode: data.Inode{Mount: id, Backend: root.Inode()},
	})
}

func (v *Vfs) dirHandle(ctx context.Context, vctx *VCtx, res *Resolved) (*DirHandle, error) {
	ok := false
	defer func() {
		if !ok {
			res.Release()
		}
	}()

	md, err := res.Node.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	if !md.Type.IsDir() {
		return nil, errors.ErrNotDirectory
	}
	if err := v.policy.CheckOpen(vctx.Cred, md, data.AccessRead); err != nil {
		return nil, err
	}

	handle := &DirHandle{
		id:    data.NewHandleId(),
		guard: res.Guard,
		inode: res.Node.Inode(),
	}
	if res.Parent != nil {
		handle.parent = res.Parent.Inode()
	}

	ok = true
	v.log.Debug("opened directory %s as handle %s", res.Inode, handle.id)
	return handle, nil
}

func (v *Vfs) checkParentMutation(ctx context.Context, vctx *VCtx, dir FsNode, op MutationOp) error {
	md, err := dir.Metadata(ctx)
	if err != nil {
		return err
	}
	return v.policy.CheckMutation(vctx.Cred, md, op)
}
