package vfs_test

import (
	goerrors "errors"
	"testing"

	vfs "github.com/mwantia/guestvfs"
	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/mounts/memory"
)

func TestMountTable_GuardBlocksUnmount(t *testing.T) {
	table := vfs.NewMountTable(nil)

	id, err := table.Mount(memory.New())
	if err != nil {
		t.Fatalf("mount failed: %v", err)
	}

	guard, err := table.Guard(id)
	if err != nil {
		t.Fatalf("guard failed: %v", err)
	}

	// No draining, no waiting. The unmount fails on the spot.
	if err := table.Unmount(id); !goerrors.Is(err, data.ErrBusy) {
		t.Errorf("unmount under a live guard should fail with ErrBusy, got %v", err)
	}

	guard.Release()
	if err := table.Unmount(id); err != nil {
		t.Errorf("unmount after release failed: %v", err)
	}

	if _, err := table.Guard(id); !goerrors.Is(err, data.ErrNotExist) {
		t.Errorf("guard on a removed mount should fail, got %v", err)
	}
	if err := table.Unmount(id); !goerrors.Is(err, data.ErrNotExist) {
		t.Errorf("double unmount should fail, got %v", err)
	}
}

func TestMountTable_GuardReleaseIdempotent(t *testing.T) {
	table := vfs.NewMountTable(nil)

	id, err := table.Mount(memory.New())
	if err != nil {
		t.Fatalf("mount failed: %v", err)
	}

	guard, err := table.Guard(id)
	if err != nil {
		t.Fatalf("guard failed: %v", err)
	}

	guard.Release()
	guard.Release()

	// A double release must not free a pin somebody else holds.
	other, err := table.Guard(id)
	if err != nil {
		t.Fatalf("guard failed: %v", err)
	}
	if err := table.Unmount(id); !goerrors.Is(err, data.ErrBusy) {
		t.Errorf("the remaining guard should still block unmount, got %v", err)
	}
	other.Release()
}

func TestMountTable_IdsNeverReused(t *testing.T) {
	table := vfs.NewMountTable(nil)

	first, err := table.Mount(memory.New())
	if err != nil {
		t.Fatalf("mount failed: %v", err)
	}
	if err := table.Unmount(first); err != nil {
		t.Fatalf("unmount failed: %v", err)
	}

	second, err := table.Mount(memory.New())
	if err != nil {
		t.Fatalf("mount failed: %v", err)
	}
	if second == first {
		t.Errorf("mount ids must not be recycled: %v twice", first)
	}
}

func TestVfs_UnmountBlockedByOpenHandle(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()
	ctx := t.Context()

	extra := memory.New()
	id, err := v.Mount(extra)
	if err != nil {
		t.Fatalf("mount failed: %v", err)
	}

	h, err := v.OpenDirMount(ctx, vctx, id)
	if err != nil {
		t.Fatalf("opendir on mount failed: %v", err)
	}

	if err := v.Unmount(id); !goerrors.Is(err, data.ErrBusy) {
		t.Errorf("unmount with an open handle should fail with ErrBusy, got %v", err)
	}

	if err := h.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := v.Unmount(id); err != nil {
		t.Errorf("unmount after close failed: %v", err)
	}
}

func TestVfs_FileHandlePinsMount(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()
	ctx := t.Context()

	extra := memory.New()
	id, err := v.Mount(extra)
	if err != nil {
		t.Fatalf("mount failed: %v", err)
	}

	// Reach into the extra mount through its root handle and create a file.
	dir, err := v.OpenDirMount(ctx, vctx, id)
	if err != nil {
		t.Fatalf("opendir on mount failed: %v", err)
	}

	res, err := v.Resolve(ctx, vfs.ResolutionRequest{
		Vctx: vctx,
		Base: vfs.Base{Kind: vfs.BaseHandle, Handle: dir},
		Path: data.PathFromString("."),
	})
	if err != nil {
		t.Fatalf("resolve of mount root failed: %v", err)
	}
	if got := res.Inode.Mount; got != id {
		t.Errorf("resolution should land in mount %v, got %v", id, got)
	}
	res.Release()

	if err := dir.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := v.Unmount(id); err != nil {
		t.Errorf("unmount after all handles closed failed: %v", err)
	}
}
