package vfs_test

import (
	goerrors "errors"
	"testing"

	vfs "github.com/mwantia/guestvfs"
	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/mounts/memory"
)

func newTestVfs(t *testing.T) *vfs.Vfs {
	t.Helper()
	v, err := vfs.New(memory.New())
	if err != nil {
		t.Fatalf("failed to assemble vfs: %v", err)
	}
	return v
}

func rootCtx() *vfs.VCtx {
	return vfs.NewVCtx(vfs.RootCred())
}

func userCtx(uid int64) *vfs.VCtx {
	return vfs.NewVCtx(vfs.Cred{UID: uid, GID: uid, Umask: 0o022})
}

func mustMkdir(t *testing.T, v *vfs.Vfs, vctx *vfs.VCtx, path string, mode data.FileMode) {
	t.Helper()
	if err := v.Mkdir(t.Context(), vctx, data.PathFromString(path), vfs.MkdirOptions{Mode: mode}); err != nil {
		t.Fatalf("mkdir %s failed: %v", path, err)
	}
}

func mustWriteFile(t *testing.T, v *vfs.Vfs, vctx *vfs.VCtx, path, content string) {
	t.Helper()
	ctx := t.Context()

	h, err := v.Open(ctx, vctx, data.PathFromString(path), vfs.OpenOptions{
		Access: data.AccessWrite | data.AccessCreate | data.AccessTrunc,
		Mode:   0o644,
	})
	if err != nil {
		t.Fatalf("create %s failed: %v", path, err)
	}
	defer h.Close()

	if _, err := h.WriteAt(ctx, []byte(content), 0); err != nil {
		t.Fatalf("write %s failed: %v", path, err)
	}
}

func mustReadFile(t *testing.T, v *vfs.Vfs, vctx *vfs.VCtx, path string) string {
	t.Helper()
	ctx := t.Context()

	md, err := v.Stat(ctx, vctx, data.PathFromString(path), true)
	if err != nil {
		t.Fatalf("stat %s failed: %v", path, err)
	}

	h, err := v.Open(ctx, vctx, data.PathFromString(path), vfs.OpenOptions{Access: data.AccessRead})
	if err != nil {
		t.Fatalf("open %s failed: %v", path, err)
	}
	defer h.Close()

	buf := make([]byte, md.Size)
	if md.Size > 0 {
		if _, err := h.ReadAt(ctx, buf, 0); err != nil {
			t.Fatalf("read %s failed: %v", path, err)
		}
	}
	return string(buf)
}

func TestVfs_CreateWriteReadBack(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()

	mustWriteFile(t, v, vctx, "/hello.txt", "hello world")

	md, err := v.Stat(t.Context(), vctx, data.PathFromString("/hello.txt"), true)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if md.Type != data.TypeRegular {
		t.Errorf("expected regular file, got %v", md.Type)
	}
	if md.Size != int64(len("hello world")) {
		t.Errorf("expected size %d, got %d", len("hello world"), md.Size)
	}

	if got := mustReadFile(t, v, vctx, "/hello.txt"); got != "hello world" {
		t.Errorf("read back %q", got)
	}
}

func TestVfs_OpenExclusive(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()
	ctx := t.Context()

	excl := vfs.OpenOptions{
		Access: data.AccessWrite | data.AccessCreate | data.AccessExcl,
		Mode:   0o644,
	}

	h, err := v.Open(ctx, vctx, data.PathFromString("/only-once"), excl)
	if err != nil {
		t.Fatalf("first exclusive create failed: %v", err)
	}
	h.Close()

	if _, err := v.Open(ctx, vctx, data.PathFromString("/only-once"), excl); !goerrors.Is(err, data.ErrExist) {
		t.Errorf("second exclusive create should fail with ErrExist, got %v", err)
	}
}

func TestVfs_OpenAppend(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()
	ctx := t.Context()

	mustWriteFile(t, v, vctx, "/log", "abc")

	h, err := v.Open(ctx, vctx, data.PathFromString("/log"), vfs.OpenOptions{
		Access: data.AccessWrite | data.AccessAppend,
	})
	if err != nil {
		t.Fatalf("open append failed: %v", err)
	}
	// The offset is ignored in append mode; writes land at the end.
	if _, err := h.WriteAt(ctx, []byte("def"), 0); err != nil {
		t.Fatalf("append write failed: %v", err)
	}
	h.Close()

	if got := mustReadFile(t, v, vctx, "/log"); got != "abcdef" {
		t.Errorf("expected abcdef, got %q", got)
	}
}

func TestVfs_OpenTruncate(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()
	ctx := t.Context()

	mustWriteFile(t, v, vctx, "/f", "some content")

	h, err := v.Open(ctx, vctx, data.PathFromString("/f"), vfs.OpenOptions{
		Access: data.AccessWrite | data.AccessTrunc,
	})
	if err != nil {
		t.Fatalf("open trunc failed: %v", err)
	}
	h.Close()

	md, err := v.Stat(ctx, vctx, data.PathFromString("/f"), true)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if md.Size != 0 {
		t.Errorf("expected truncated file, size %d", md.Size)
	}
}

func TestVfs_HandleEnforcesAccessMode(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()
	ctx := t.Context()

	mustWriteFile(t, v, vctx, "/f", "data")

	h, err := v.Open(ctx, vctx, data.PathFromString("/f"), vfs.OpenOptions{Access: data.AccessRead})
	if err != nil {
		t.Fatalf("open read-only failed: %v", err)
	}
	defer h.Close()

	if _, err := h.WriteAt(ctx, []byte("x"), 0); !goerrors.Is(err, data.ErrPermission) {
		t.Errorf("write on read-only handle should fail, got %v", err)
	}
	if err := h.Truncate(ctx, 0); !goerrors.Is(err, data.ErrPermission) {
		t.Errorf("truncate on read-only handle should fail, got %v", err)
	}
}

func TestVfs_ClosedHandle(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()
	ctx := t.Context()

	mustWriteFile(t, v, vctx, "/f", "data")

	h, err := v.Open(ctx, vctx, data.PathFromString("/f"), vfs.OpenOptions{Access: data.AccessRead})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if _, err := h.ReadAt(ctx, make([]byte, 1), 0); !goerrors.Is(err, data.ErrClosed) {
		t.Errorf("read after close should fail with ErrClosed, got %v", err)
	}
	if err := h.Close(); !goerrors.Is(err, data.ErrClosed) {
		t.Errorf("double close should fail with ErrClosed, got %v", err)
	}
}

func TestVfs_MkdirAppliesUmask(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()

	mustMkdir(t, v, vctx, "/wide", 0o777)

	md, err := v.Stat(t.Context(), vctx, data.PathFromString("/wide"), true)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if md.Mode != 0o755 {
		t.Errorf("umask 022 should yield 0755, got %o", md.Mode)
	}
}

func TestVfs_Unlink(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()
	ctx := t.Context()

	mustWriteFile(t, v, vctx, "/f", "x")
	mustMkdir(t, v, vctx, "/d", 0o755)

	// A trailing slash demands a directory, which unlink cannot remove.
	if err := v.Unlink(ctx, vctx, data.PathFromString("/f/")); !goerrors.Is(err, data.ErrIsDirectory) {
		t.Errorf("unlink with trailing slash should fail with ErrIsDirectory, got %v", err)
	}

	if err := v.Unlink(ctx, vctx, data.PathFromString("/f")); err != nil {
		t.Fatalf("unlink failed: %v", err)
	}
	if _, err := v.Stat(ctx, vctx, data.PathFromString("/f"), true); !goerrors.Is(err, data.ErrNotExist) {
		t.Errorf("unlinked file should be gone, got %v", err)
	}
}

func TestVfs_RmdirNotEmpty(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()
	ctx := t.Context()

	mustMkdir(t, v, vctx, "/d", 0o755)
	mustWriteFile(t, v, vctx, "/d/f", "x")

	if err := v.Rmdir(ctx, vctx, data.PathFromString("/d")); !goerrors.Is(err, data.ErrNotEmpty) {
		t.Errorf("rmdir of a populated directory should fail, got %v", err)
	}

	if err := v.Unlink(ctx, vctx, data.PathFromString("/d/f")); err != nil {
		t.Fatalf("unlink failed: %v", err)
	}
	if err := v.Rmdir(ctx, vctx, data.PathFromString("/d")); err != nil {
		t.Errorf("rmdir of an emptied directory failed: %v", err)
	}
}

func TestVfs_Rename(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()
	ctx := t.Context()

	mustMkdir(t, v, vctx, "/src", 0o755)
	mustMkdir(t, v, vctx, "/dst", 0o755)
	mustWriteFile(t, v, vctx, "/src/f", "payload")

	if err := v.Rename(ctx, vctx, data.PathFromString("/src/f"), data.PathFromString("/dst/g")); err != nil {
		t.Fatalf("rename failed: %v", err)
	}

	if _, err := v.Stat(ctx, vctx, data.PathFromString("/src/f"), true); !goerrors.Is(err, data.ErrNotExist) {
		t.Errorf("source should be gone after rename, got %v", err)
	}
	if got := mustReadFile(t, v, vctx, "/dst/g"); got != "payload" {
		t.Errorf("moved file reads %q", got)
	}
}

func TestVfs_ReadDir(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()

	mustMkdir(t, v, vctx, "/d", 0o755)
	for _, name := range []string{"c", "a", "b"} {
		mustWriteFile(t, v, vctx, "/d/"+name, name)
	}

	entries, err := v.ReadDir(t.Context(), vctx, data.PathFromString("/d"))
	if err != nil {
		t.Fatalf("readdir failed: %v", err)
	}

	want := []string{"a", "b", "c"}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, name := range want {
		if string(entries[i].Name) != name {
			t.Errorf("entry %d = %q, want %q", i, entries[i].Name, name)
		}
	}
}

func TestVfs_Link(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()
	ctx := t.Context()

	mustWriteFile(t, v, vctx, "/f", "shared")
	mustMkdir(t, v, vctx, "/d", 0o755)

	if err := v.Link(ctx, vctx, data.PathFromString("/d"), data.PathFromString("/d2")); !goerrors.Is(err, data.ErrIsDirectory) {
		t.Errorf("hard link to a directory should fail, got %v", err)
	}

	if err := v.Link(ctx, vctx, data.PathFromString("/f"), data.PathFromString("/d/alias")); err != nil {
		t.Fatalf("link failed: %v", err)
	}

	orig, err := v.Stat(ctx, vctx, data.PathFromString("/f"), true)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	alias, err := v.Stat(ctx, vctx, data.PathFromString("/d/alias"), true)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if orig.Inode != alias.Inode {
		t.Errorf("hard link should share the inode: %v vs %v", orig.Inode, alias.Inode)
	}
	if got := mustReadFile(t, v, vctx, "/d/alias"); got != "shared" {
		t.Errorf("alias reads %q", got)
	}
}

func TestVfs_PolicyThroughFacade(t *testing.T) {
	v := newTestVfs(t)
	root := rootCtx()
	owner := userCtx(1000)
	other := userCtx(2000)
	ctx := t.Context()

	mustWriteFile(t, v, root, "/secret", "classified")
	if err := v.SetMetadata(ctx, root, data.PathFromString("/secret"), &data.MetadataUpdate{
		Mask: data.UpdateUID | data.UpdateGID | data.UpdateMode,
		UID:  1000, GID: 1000, Mode: 0o400,
	}); err != nil {
		t.Fatalf("chown/chmod failed: %v", err)
	}

	if _, err := v.Open(ctx, other, data.PathFromString("/secret"), vfs.OpenOptions{Access: data.AccessRead}); !goerrors.Is(err, data.ErrPermission) {
		t.Errorf("uid 2000 should be denied on 0400 file, got %v", err)
	}
	if got := mustReadFile(t, v, owner, "/secret"); got != "classified" {
		t.Errorf("owner read got %q", got)
	}

	// Only the owner may chmod.
	relax := &data.MetadataUpdate{Mask: data.UpdateMode, Mode: 0o644}
	if err := v.SetMetadata(ctx, other, data.PathFromString("/secret"), relax); !goerrors.Is(err, data.ErrPermission) {
		t.Errorf("non-owner chmod should fail, got %v", err)
	}
	if err := v.SetMetadata(ctx, owner, data.PathFromString("/secret"), relax); err != nil {
		t.Fatalf("owner chmod failed: %v", err)
	}

	// The relaxed mode is visible to the very next check, nothing is cached.
	if got := mustReadFile(t, v, other, "/secret"); got != "classified" {
		t.Errorf("read after chmod got %q", got)
	}
}

func TestVfs_CreateDeniedInReadOnlyDir(t *testing.T) {
	v := newTestVfs(t)
	root := rootCtx()
	user := userCtx(1000)
	ctx := t.Context()

	mustMkdir(t, v, root, "/ro", 0o777)
	if err := v.SetMetadata(ctx, root, data.PathFromString("/ro"), &data.MetadataUpdate{
		Mask: data.UpdateMode, Mode: 0o555,
	}); err != nil {
		t.Fatalf("chmod failed: %v", err)
	}

	_, err := v.Open(ctx, user, data.PathFromString("/ro/new"), vfs.OpenOptions{
		Access: data.AccessWrite | data.AccessCreate,
		Mode:   0o644,
	})
	if !goerrors.Is(err, data.ErrPermission) {
		t.Errorf("create in 0555 parent should fail, got %v", err)
	}

	if err := v.Mkdir(ctx, user, data.PathFromString("/ro/sub"), vfs.MkdirOptions{Mode: 0o755}); !goerrors.Is(err, data.ErrPermission) {
		t.Errorf("mkdir in 0555 parent should fail, got %v", err)
	}
}

func TestVfs_DirHandleAsBase(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()
	ctx := t.Context()

	mustMkdir(t, v, vctx, "/d", 0o755)
	mustWriteFile(t, v, vctx, "/d/f", "via handle")
	mustWriteFile(t, v, vctx, "/top", "at root")

	h, err := v.OpenDir(ctx, vctx, data.PathFromString("/d"))
	if err != nil {
		t.Fatalf("opendir failed: %v", err)
	}
	defer h.Close()

	res, err := v.Resolve(ctx, vfs.ResolutionRequest{
		Vctx: vctx,
		Base: vfs.Base{Kind: vfs.BaseHandle, Handle: h},
		Path: data.PathFromString("f"),
	})
	if err != nil {
		t.Fatalf("relative resolve from handle failed: %v", err)
	}
	res.Release()

	// ".." climbs out of the handle's directory via its cached parent link.
	res, err = v.Resolve(ctx, vfs.ResolutionRequest{
		Vctx: vctx,
		Base: vfs.Base{Kind: vfs.BaseHandle, Handle: h},
		Path: data.PathFromString("../top"),
	})
	if err != nil {
		t.Fatalf("dotdot resolve from handle failed: %v", err)
	}
	res.Release()
}

func TestVfs_DirHandlePagination(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()
	ctx := t.Context()

	mustMkdir(t, v, vctx, "/d", 0o755)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		mustWriteFile(t, v, vctx, "/d/"+name, name)
	}

	h, err := v.OpenDir(ctx, vctx, data.PathFromString("/d"))
	if err != nil {
		t.Fatalf("opendir failed: %v", err)
	}
	defer h.Close()

	var names []string
	for {
		batch, err := h.Read(ctx, 2)
		if err != nil {
			t.Fatalf("dir read failed: %v", err)
		}
		if len(batch.Entries) > 2 {
			t.Fatalf("batch exceeds max: %d", len(batch.Entries))
		}
		for _, e := range batch.Entries {
			names = append(names, string(e.Name))
		}
		if !batch.More {
			break
		}
	}
	if len(names) != 5 {
		t.Fatalf("expected 5 entries across batches, got %v", names)
	}

	// A drained handle stays at the end instead of wrapping around.
	for range 2 {
		batch, err := h.Read(ctx, 2)
		if err != nil {
			t.Fatalf("dir read past end failed: %v", err)
		}
		if len(batch.Entries) != 0 || batch.More {
			t.Fatalf("read past end should be empty, got %+v", batch)
		}
	}

	h.Rewind()
	batch, err := h.Read(ctx, 10)
	if err != nil {
		t.Fatalf("dir read after rewind failed: %v", err)
	}
	if len(batch.Entries) != 5 {
		t.Errorf("rewind should restart the scan, got %d entries", len(batch.Entries))
	}
}
