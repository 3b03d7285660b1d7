package local_test

import (
	goerrors "errors"
	"os"
	"path/filepath"
	"testing"

	vfs "github.com/mwantia/guestvfs"
	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/mounts/local"
)

func name(t *testing.T, s string) data.Name {
	t.Helper()
	n, err := data.NewName([]byte(s))
	if err != nil {
		t.Fatalf("bad test name %q: %v", s, err)
	}
	return n
}

func newLocal(t *testing.T) (*local.LocalFs, string) {
	t.Helper()
	root := t.TempDir()
	fs, err := local.New(root)
	if err != nil {
		t.Fatalf("local backend failed: %v", err)
	}
	return fs, root
}

func TestLocalFs_RootMustBeDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	if _, err := local.New(file); !goerrors.Is(err, data.ErrNotDirectory) {
		t.Errorf("file root should be rejected, got %v", err)
	}
	if _, err := local.New(filepath.Join(dir, "missing")); !goerrors.Is(err, data.ErrNotExist) {
		t.Errorf("missing root should be rejected, got %v", err)
	}
}

func TestLocalFs_HostErrorMapping(t *testing.T) {
	fs, host := newLocal(t)
	ctx := t.Context()

	if _, err := fs.Root().Lookup(ctx, name(t, "missing")); !goerrors.Is(err, data.ErrNotExist) {
		t.Errorf("missing entry should map to ErrNotExist, got %v", err)
	}

	if err := os.MkdirAll(filepath.Join(host, "full", "child"), 0o755); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := fs.Root().Rmdir(ctx, name(t, "full")); !goerrors.Is(err, data.ErrNotEmpty) {
		t.Errorf("rmdir of populated dir should map to ErrNotEmpty, got %v", err)
	}
}

func TestLocalFs_DotNamesRejected(t *testing.T) {
	fs, _ := newLocal(t)
	ctx := t.Context()

	// A Name permits dot entries; the backend must refuse to walk them.
	for _, s := range []string{".", ".."} {
		if _, err := fs.Root().Lookup(ctx, name(t, s)); !goerrors.Is(err, data.ErrInvalid) {
			t.Errorf("lookup of %q should be rejected, got %v", s, err)
		}
	}
}

func TestLocalFs_SeesHostChanges(t *testing.T) {
	fs, host := newLocal(t)
	ctx := t.Context()

	// Content placed directly on the host is visible without any priming.
	if err := os.WriteFile(filepath.Join(host, "external"), []byte("from host"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	node, err := fs.Root().Lookup(ctx, name(t, "external"))
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	h, err := node.Open(ctx, vfs.OpenOptions{Access: data.AccessRead})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer h.Close()

	buf := make([]byte, len("from host"))
	if _, err := h.ReadAt(ctx, buf, 0); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(buf) != "from host" {
		t.Errorf("read %q", buf)
	}
}

func TestLocalFs_WritesReachHost(t *testing.T) {
	fs, host := newLocal(t)
	ctx := t.Context()

	node, err := fs.Root().CreateFile(ctx, name(t, "out"), vfs.CreateFileOptions{Mode: 0o644})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	h, err := node.Open(ctx, vfs.OpenOptions{Access: data.AccessWrite})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := h.WriteAt(ctx, []byte("to host"), 0); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	h.Close()

	got, err := os.ReadFile(filepath.Join(host, "out"))
	if err != nil {
		t.Fatalf("host read failed: %v", err)
	}
	if string(got) != "to host" {
		t.Errorf("host holds %q", got)
	}
}

func TestLocalFs_InodeStableAcrossRename(t *testing.T) {
	fs, _ := newLocal(t)
	ctx := t.Context()

	root := fs.Root()
	node, err := root.CreateFile(ctx, name(t, "before"), vfs.CreateFileOptions{Mode: 0o644})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	ino := node.Inode()

	if err := root.Rename(ctx, name(t, "before"), root, name(t, "after")); err != nil {
		t.Fatalf("rename failed: %v", err)
	}

	moved, err := root.Lookup(ctx, name(t, "after"))
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if moved.Inode() != ino {
		t.Errorf("rename changed the synthetic inode: %v to %v", ino, moved.Inode())
	}
}
