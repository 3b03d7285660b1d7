package vfs_test

import (
	goerrors "errors"
	"strings"
	"testing"

	vfs "github.com/mwantia/guestvfs"
	"github.com/mwantia/guestvfs/data"
)

func TestWalker_SymlinkFollow(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()
	ctx := t.Context()

	mustMkdir(t, v, vctx, "/dir", 0o755)
	mustWriteFile(t, v, vctx, "/dir/file", "x")
	if err := v.Symlink(ctx, vctx, data.PathFromString("file"), data.PathFromString("/dir/link")); err != nil {
		t.Fatalf("symlink failed: %v", err)
	}

	md, err := v.Stat(ctx, vctx, data.PathFromString("/dir/link"), true)
	if err != nil {
		t.Fatalf("stat follow failed: %v", err)
	}
	if md.Type != data.TypeRegular {
		t.Errorf("follow should land on the target, got %v", md.Type)
	}

	md, err = v.Stat(ctx, vctx, data.PathFromString("/dir/link"), false)
	if err != nil {
		t.Fatalf("stat nofollow failed: %v", err)
	}
	if md.Type != data.TypeSymlink {
		t.Errorf("nofollow should return the link itself, got %v", md.Type)
	}

	target, err := v.Readlink(ctx, vctx, data.PathFromString("/dir/link"))
	if err != nil {
		t.Fatalf("readlink failed: %v", err)
	}
	if string(target.Bytes()) != "file" {
		t.Errorf("readlink returned %q", target.Bytes())
	}
}

func TestWalker_AbsoluteSymlinkRestartsAtRoot(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()
	ctx := t.Context()

	mustMkdir(t, v, vctx, "/dir", 0o755)
	mustMkdir(t, v, vctx, "/elsewhere", 0o755)
	mustWriteFile(t, v, vctx, "/dir/file", "absolute target")
	if err := v.Symlink(ctx, vctx, data.PathFromString("/dir/file"), data.PathFromString("/elsewhere/jump")); err != nil {
		t.Fatalf("symlink failed: %v", err)
	}

	if got := mustReadFile(t, v, vctx, "/elsewhere/jump"); got != "absolute target" {
		t.Errorf("read through absolute symlink got %q", got)
	}
}

func TestWalker_MidPathSymlinkAlwaysExpands(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()
	ctx := t.Context()

	mustMkdir(t, v, vctx, "/dir", 0o755)
	mustWriteFile(t, v, vctx, "/dir/file", "x")
	if err := v.Symlink(ctx, vctx, data.PathFromString("dir"), data.PathFromString("/s")); err != nil {
		t.Fatalf("symlink failed: %v", err)
	}

	// Nofollow only protects the final component; links in the middle of the
	// path are always expanded.
	md, err := v.Stat(ctx, vctx, data.PathFromString("/s/file"), false)
	if err != nil {
		t.Fatalf("stat through mid-path symlink failed: %v", err)
	}
	if md.Type != data.TypeRegular {
		t.Errorf("expected the file behind the link, got %v", md.Type)
	}

	// A trailing slash on the link demands the directory behind it.
	md, err = v.Stat(ctx, vctx, data.PathFromString("/s/"), false)
	if err != nil {
		t.Fatalf("stat of link with trailing slash failed: %v", err)
	}
	if md.Type != data.TypeDirectory {
		t.Errorf("expected the directory behind the link, got %v", md.Type)
	}
}

func TestWalker_SymlinkLoop(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()
	ctx := t.Context()

	if err := v.Symlink(ctx, vctx, data.PathFromString("/y"), data.PathFromString("/x")); err != nil {
		t.Fatalf("symlink failed: %v", err)
	}
	if err := v.Symlink(ctx, vctx, data.PathFromString("/x"), data.PathFromString("/y")); err != nil {
		t.Fatalf("symlink failed: %v", err)
	}

	if _, err := v.Stat(ctx, vctx, data.PathFromString("/x"), true); !goerrors.Is(err, data.ErrLoopDetected) {
		t.Errorf("cycle should exhaust the budget, got %v", err)
	}
}

func TestWalker_TrailingSlashOnFile(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()
	ctx := t.Context()

	mustWriteFile(t, v, vctx, "/f", "x")

	if _, err := v.Stat(ctx, vctx, data.PathFromString("/f/"), true); !goerrors.Is(err, data.ErrNotDirectory) {
		t.Errorf("trailing slash on a file should fail, got %v", err)
	}
}

func TestWalker_FileAsIntermediate(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()
	ctx := t.Context()

	mustWriteFile(t, v, vctx, "/f", "x")

	if _, err := v.Stat(ctx, vctx, data.PathFromString("/f/child"), true); !goerrors.Is(err, data.ErrNotDirectory) {
		t.Errorf("descending into a file should fail, got %v", err)
	}
}

func TestWalker_DotDotStaysAtRoot(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()
	ctx := t.Context()

	rootMd, err := v.Stat(ctx, vctx, data.PathFromString("/"), true)
	if err != nil {
		t.Fatalf("stat root failed: %v", err)
	}
	upMd, err := v.Stat(ctx, vctx, data.PathFromString("/.."), true)
	if err != nil {
		t.Fatalf("stat /.. failed: %v", err)
	}
	if rootMd.Inode != upMd.Inode {
		t.Errorf("/.. should stay at root: %v vs %v", rootMd.Inode, upMd.Inode)
	}

	mustMkdir(t, v, vctx, "/d", 0o755)
	mustWriteFile(t, v, vctx, "/d/f", "x")
	if got := mustReadFile(t, v, vctx, "/d/../d/./f"); got != "x" {
		t.Errorf("dot traversal read got %q", got)
	}
}

func TestWalker_TraversalDenied(t *testing.T) {
	v := newTestVfs(t)
	root := rootCtx()
	user := userCtx(1000)
	ctx := t.Context()

	mustMkdir(t, v, root, "/locked", 0o700)
	mustWriteFile(t, v, root, "/locked/f", "x")

	if _, err := v.Stat(ctx, user, data.PathFromString("/locked/f"), true); !goerrors.Is(err, data.ErrPermission) {
		t.Errorf("uid 1000 should not cross a root-owned 0700 dir, got %v", err)
	}
	if _, err := v.Stat(ctx, root, data.PathFromString("/locked/f"), true); err != nil {
		t.Errorf("root should cross freely: %v", err)
	}
}

func TestWalker_DotDotRequiresTraversal(t *testing.T) {
	v := newTestVfs(t)
	root := rootCtx()
	user := userCtx(2000)
	ctx := t.Context()

	mustMkdir(t, v, root, "/locked", 0o777)
	if err := v.SetMetadata(ctx, root, data.PathFromString("/locked"), &data.MetadataUpdate{
		Mask: data.UpdateMode, Mode: 0o000,
	}); err != nil {
		t.Fatalf("chmod failed: %v", err)
	}

	// Leaving a directory through ".." crosses it just like entering does.
	if _, err := v.Stat(ctx, user, data.PathFromString("/locked/.."), true); !goerrors.Is(err, data.ErrPermission) {
		t.Errorf("uid 2000 should not cross a 0000 dir via .., got %v", err)
	}
	if _, err := v.Stat(ctx, root, data.PathFromString("/locked/.."), true); err != nil {
		t.Errorf("root should cross freely: %v", err)
	}
}

func TestWalker_NameTooLong(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()
	ctx := t.Context()

	long := "/" + strings.Repeat("n", 256)
	if _, err := v.Stat(ctx, vctx, data.PathFromString(long), true); !goerrors.Is(err, data.ErrNameTooLong) {
		t.Errorf("256 byte name should exceed the limit, got %v", err)
	}
}

func TestWalker_MissingPath(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()
	ctx := t.Context()

	if _, err := v.Stat(ctx, vctx, data.PathFromString("/no/such/path"), true); !goerrors.Is(err, data.ErrNotExist) {
		t.Errorf("missing path should report ErrNotExist, got %v", err)
	}
	if _, err := v.Stat(ctx, vctx, data.PathFromString(""), true); !goerrors.Is(err, data.ErrInvalid) {
		t.Errorf("empty path should report ErrInvalid, got %v", err)
	}
}

func TestWalker_SymlinkBudgetOverride(t *testing.T) {
	v := newTestVfs(t)
	vctx := rootCtx()
	ctx := t.Context()

	// A three-link chain resolves with the default budget but not with a
	// budget of two.
	mustWriteFile(t, v, vctx, "/end", "x")
	if err := v.Symlink(ctx, vctx, data.PathFromString("/end"), data.PathFromString("/l1")); err != nil {
		t.Fatalf("symlink failed: %v", err)
	}
	if err := v.Symlink(ctx, vctx, data.PathFromString("/l1"), data.PathFromString("/l2")); err != nil {
		t.Fatalf("symlink failed: %v", err)
	}
	if err := v.Symlink(ctx, vctx, data.PathFromString("/l2"), data.PathFromString("/l3")); err != nil {
		t.Fatalf("symlink failed: %v", err)
	}

	res, err := v.Resolve(ctx, vfs.ResolutionRequest{
		Vctx:  vctx,
		Base:  vfs.Base{Kind: vfs.BaseCwd},
		Path:  data.PathFromString("/l3"),
		Flags: vfs.WalkFlags{FollowTrailing: true},
	})
	if err != nil {
		t.Fatalf("chain should resolve under the default budget: %v", err)
	}
	res.Release()

	_, err = v.Resolve(ctx, vfs.ResolutionRequest{
		Vctx:  vctx,
		Base:  vfs.Base{Kind: vfs.BaseCwd},
		Path:  data.PathFromString("/l3"),
		Flags: vfs.WalkFlags{FollowTrailing: true, MaxSymlinks: 2},
	})
	if !goerrors.Is(err, data.ErrLoopDetected) {
		t.Errorf("budget of 2 should fail a 3-link chain, got %v", err)
	}
}

func TestWalker_RelativeToCwd(t *testing.T) {
	v := newTestVfs(t)
	ctx := t.Context()

	vctx := rootCtx()
	mustMkdir(t, v, vctx, "/work", 0o755)
	mustWriteFile(t, v, vctx, "/work/f", "cwd relative")

	inWork := vfs.NewVCtx(vfs.RootCred())
	inWork.Cwd = data.PathFromString("/work")

	md, err := v.Stat(ctx, inWork, data.PathFromString("f"), true)
	if err != nil {
		t.Fatalf("relative stat failed: %v", err)
	}
	if md.Type != data.TypeRegular {
		t.Errorf("expected the file, got %v", md.Type)
	}
}
