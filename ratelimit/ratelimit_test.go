package ratelimit_test

import (
	"context"
	goerrors "errors"
	"testing"

	vfs "github.com/mwantia/guestvfs"
	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/mounts/memory"
	"github.com/mwantia/guestvfs/ratelimit"
)

func nm(t *testing.T, s string) data.Name {
	t.Helper()
	name, err := data.NewName([]byte(s))
	if err != nil {
		t.Fatalf("bad test name %q: %v", s, err)
	}
	return name
}

// generous returns limits high enough that no test call ever blocks.
func generous() ratelimit.Limits {
	return ratelimit.Limits{
		Ops:              1e6,
		MetaOps:          1e6,
		ReadBytesPerSec:  1e9,
		WriteBytesPerSec: 1e9,
	}
}

func newLimited(t *testing.T, limits ratelimit.Limits) (*ratelimit.Fs, *memory.MemoryFs) {
	t.Helper()
	inner := memory.New()
	fs, err := ratelimit.New(inner, limits)
	if err != nil {
		t.Fatalf("ratelimit.New failed: %v", err)
	}
	return fs, inner
}

func TestRateLimit_PassThrough(t *testing.T) {
	fs, inner := newLimited(t, generous())
	ctx := t.Context()
	root := fs.Root()

	dir, err := root.Mkdir(ctx, nm(t, "etc"), vfs.MkdirOptions{Mode: 0o755})
	if err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	file, err := dir.CreateFile(ctx, nm(t, "hosts"), vfs.CreateFileOptions{Mode: 0o644})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	h, err := file.Open(ctx, vfs.OpenOptions{Access: data.AccessWrite})
	if err != nil {
		t.Fatalf("open for write failed: %v", err)
	}
	if _, err := h.WriteAt(ctx, []byte("127.0.0.1"), 0); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	h.Close()

	// The wrapped view and the inner backend agree on content and identity.
	got, err := root.Lookup(ctx, nm(t, "etc"))
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	child, err := got.Lookup(ctx, nm(t, "hosts"))
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if child.Inode() != file.Inode() {
		t.Fatalf("wrapped lookup changed inode: %v vs %v", child.Inode(), file.Inode())
	}

	rh, err := child.Open(ctx, vfs.OpenOptions{Access: data.AccessRead})
	if err != nil {
		t.Fatalf("open for read failed: %v", err)
	}
	defer rh.Close()
	buf := make([]byte, 9)
	if _, err := rh.ReadAt(ctx, buf, 0); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(buf) != "127.0.0.1" {
		t.Fatalf("read %q, want %q", buf, "127.0.0.1")
	}

	if fs.ProviderName() != "ratelimit" {
		t.Errorf("unexpected provider name %q", fs.ProviderName())
	}
	if fs.Capabilities() != inner.Capabilities() {
		t.Error("capabilities should mirror the inner backend")
	}
}

// Rename and Link receive nodes of the wrapping layer and must still reach
// the inner backend.
func TestRateLimit_CrossNodeOperations(t *testing.T) {
	fs, _ := newLimited(t, generous())
	ctx := t.Context()
	root := fs.Root()

	srcDir, err := root.Mkdir(ctx, nm(t, "src"), vfs.MkdirOptions{Mode: 0o755})
	if err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	dstDir, err := root.Mkdir(ctx, nm(t, "dst"), vfs.MkdirOptions{Mode: 0o755})
	if err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	file, err := srcDir.CreateFile(ctx, nm(t, "a"), vfs.CreateFileOptions{Mode: 0o644})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := srcDir.Rename(ctx, nm(t, "a"), dstDir, nm(t, "b")); err != nil {
		t.Fatalf("rename across wrapped directories failed: %v", err)
	}
	moved, err := dstDir.Lookup(ctx, nm(t, "b"))
	if err != nil {
		t.Fatalf("lookup after rename failed: %v", err)
	}
	if moved.Inode() != file.Inode() {
		t.Fatalf("rename changed inode: %v vs %v", moved.Inode(), file.Inode())
	}

	if err := srcDir.Link(ctx, moved, nm(t, "alias")); err != nil {
		t.Fatalf("link with wrapped existing node failed: %v", err)
	}
	linked, err := srcDir.Lookup(ctx, nm(t, "alias"))
	if err != nil {
		t.Fatalf("lookup after link failed: %v", err)
	}
	if linked.Inode() != file.Inode() {
		t.Fatalf("link changed inode: %v vs %v", linked.Inode(), file.Inode())
	}
}

func TestRateLimit_NodeByInode(t *testing.T) {
	fs, _ := newLimited(t, generous())
	ctx := t.Context()

	file, err := fs.Root().CreateFile(ctx, nm(t, "f"), vfs.CreateFileOptions{Mode: 0o644})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	revived, ok := fs.NodeByInode(file.Inode())
	if !ok {
		t.Fatal("inode revival failed through the wrapper")
	}
	if revived.Inode() != file.Inode() {
		t.Fatalf("revived inode %v, want %v", revived.Inode(), file.Inode())
	}
}

// A drained budget combined with a cancelled context surfaces the
// cancellation instead of sleeping forever.
func TestRateLimit_CancelledContext(t *testing.T) {
	fs, inner := newLimited(t, ratelimit.Limits{Ops: 1})
	ctx := t.Context()

	if _, err := inner.Root().CreateFile(ctx, nm(t, "f"), vfs.CreateFileOptions{Mode: 0o644}); err != nil {
		t.Fatalf("seed create failed: %v", err)
	}

	// The single startup token goes to this lookup.
	file, err := fs.Root().Lookup(ctx, nm(t, "f"))
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := file.Open(cancelled, vfs.OpenOptions{Access: data.AccessRead}); !goerrors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled on drained budget, got %v", err)
	}
}
