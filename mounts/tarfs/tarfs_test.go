package tarfs_test

import (
	"archive/tar"
	"bytes"
	goerrors "errors"
	"testing"

	vfs "github.com/mwantia/guestvfs"
	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/mounts/tarfs"
)

func buildArchive(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	w := tar.NewWriter(buf)

	add := func(hdr *tar.Header, content string) {
		hdr.Format = tar.FormatPAX
		if err := w.WriteHeader(hdr); err != nil {
			t.Fatalf("write header %s failed: %v", hdr.Name, err)
		}
		if content != "" {
			if _, err := w.Write([]byte(content)); err != nil {
				t.Fatalf("write body %s failed: %v", hdr.Name, err)
			}
		}
	}

	add(&tar.Header{Name: "etc/", Typeflag: tar.TypeDir, Mode: 0o755}, "")
	add(&tar.Header{Name: "etc/hosts", Typeflag: tar.TypeReg, Mode: 0o644, Size: 9}, "127.0.0.1")
	add(&tar.Header{Name: "etc/alias", Typeflag: tar.TypeSymlink, Mode: 0o777, Linkname: "hosts"}, "")
	add(&tar.Header{Name: "etc/hosts.bak", Typeflag: tar.TypeLink, Mode: 0o644, Linkname: "etc/hosts"}, "")
	// No explicit entry for var/, the parent is synthesized.
	add(&tar.Header{Name: "var/log/boot.log", Typeflag: tar.TypeReg, Mode: 0o600, Size: 4}, "boot")

	if err := w.Close(); err != nil {
		t.Fatalf("archive close failed: %v", err)
	}
	return buf
}

func newArchiveVfs(t *testing.T) (*vfs.Vfs, *vfs.VCtx) {
	t.Helper()
	fs, err := tarfs.New(buildArchive(t))
	if err != nil {
		t.Fatalf("tarfs parse failed: %v", err)
	}
	v, err := vfs.New(fs)
	if err != nil {
		t.Fatalf("vfs assembly failed: %v", err)
	}
	return v, vfs.NewVCtx(vfs.RootCred())
}

func readAll(t *testing.T, v *vfs.Vfs, vctx *vfs.VCtx, path string) string {
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

func TestTarFs_TreeAndContent(t *testing.T) {
	v, vctx := newArchiveVfs(t)
	ctx := t.Context()

	if got := readAll(t, v, vctx, "/etc/hosts"); got != "127.0.0.1" {
		t.Errorf("hosts reads %q", got)
	}

	// The parent of a deep entry exists even without its own archive record.
	md, err := v.Stat(ctx, vctx, data.PathFromString("/var/log"), true)
	if err != nil {
		t.Fatalf("stat of synthesized dir failed: %v", err)
	}
	if md.Type != data.TypeDirectory {
		t.Errorf("expected directory, got %v", md.Type)
	}
	if got := readAll(t, v, vctx, "/var/log/boot.log"); got != "boot" {
		t.Errorf("boot.log reads %q", got)
	}

	entries, err := v.ReadDir(ctx, vctx, data.PathFromString("/etc"))
	if err != nil {
		t.Fatalf("readdir failed: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("expected 3 entries in /etc, got %d", len(entries))
	}
}

func TestTarFs_Symlink(t *testing.T) {
	v, vctx := newArchiveVfs(t)
	ctx := t.Context()

	target, err := v.Readlink(ctx, vctx, data.PathFromString("/etc/alias"))
	if err != nil {
		t.Fatalf("readlink failed: %v", err)
	}
	if string(target.Bytes()) != "hosts" {
		t.Errorf("readlink returned %q", target.Bytes())
	}
	if got := readAll(t, v, vctx, "/etc/alias"); got != "127.0.0.1" {
		t.Errorf("read through archive symlink got %q", got)
	}
}

func TestTarFs_HardLink(t *testing.T) {
	v, vctx := newArchiveVfs(t)
	ctx := t.Context()

	orig, err := v.Stat(ctx, vctx, data.PathFromString("/etc/hosts"), true)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	linked, err := v.Stat(ctx, vctx, data.PathFromString("/etc/hosts.bak"), true)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if orig.Inode != linked.Inode {
		t.Errorf("archive hard link should share the inode: %v vs %v", orig.Inode, linked.Inode)
	}
	if got := readAll(t, v, vctx, "/etc/hosts.bak"); got != "127.0.0.1" {
		t.Errorf("hard link reads %q", got)
	}
}

func TestTarFs_ReadOnly(t *testing.T) {
	v, vctx := newArchiveVfs(t)
	ctx := t.Context()

	if _, err := v.Open(ctx, vctx, data.PathFromString("/etc/hosts"), vfs.OpenOptions{Access: data.AccessWrite}); !goerrors.Is(err, data.ErrReadOnly) {
		t.Errorf("open for write should fail with ErrReadOnly, got %v", err)
	}
	if err := v.Unlink(ctx, vctx, data.PathFromString("/etc/hosts")); !goerrors.Is(err, data.ErrReadOnly) {
		t.Errorf("unlink should fail with ErrReadOnly, got %v", err)
	}
	if err := v.Mkdir(ctx, vctx, data.PathFromString("/new"), vfs.MkdirOptions{Mode: 0o755}); !goerrors.Is(err, data.ErrReadOnly) {
		t.Errorf("mkdir should fail with ErrReadOnly, got %v", err)
	}
}
