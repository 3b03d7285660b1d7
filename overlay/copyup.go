package overlay

import (
	"context"
	goerrors "errors"
	"io"

	vfs "github.com/mwantia/guestvfs"
	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/data/errors"
)

// copyUpFile copies a lower file's bytes and metadata under parentUpper.
// Callers hold the overlay inode's copy-up lock, which serializes all
// handles to the same object; a caller that finds the final name already
// present adopts the completed copy of whoever held the lock before it.
// The bytes are staged under a reserved temp name and only renamed into
// place once complete, so no reader or writer ever observes a half-copied
// file. The lower node is never touched.
func copyUpFile(ctx context.Context, parentUpper vfs.FsNode, name data.Name, lower vfs.FsNode, chunk int) (vfs.FsNode, error) {
	existing, err := parentUpper.Lookup(ctx, name)
	if err == nil {
		return existing, nil
	}
	if !goerrors.Is(err, errors.ErrNotExist) {
		return nil, err
	}

	md, err := lower.Metadata(ctx)
	if err != nil {
		return nil, err
	}

	// A leftover temp from an interrupted attempt is truncated and reused.
	tmp := copyUpTempName(name)
	upper, err := parentUpper.CreateFile(ctx, tmp, vfs.CreateFileOptions{
		Mode:     md.Mode,
		Truncate: true,
	})
	if err != nil {
		return nil, err
	}

	if err := copyBytes(ctx, upper, lower, chunk); err != nil {
		// Leave no partial artifact behind; a retry re-sources everything
		// from the untouched lower file.
		parentUpper.Unlink(ctx, tmp)
		return nil, err
	}
	if err := applyCopyUpMetadata(ctx, upper, md); err != nil {
		parentUpper.Unlink(ctx, tmp)
		return nil, err
	}

	if err := parentUpper.Rename(ctx, tmp, parentUpper, name); err != nil {
		parentUpper.Unlink(ctx, tmp)
		return nil, err
	}
	return parentUpper.Lookup(ctx, name)
}

// copyUpDir recreates a lower directory on the upper layer, metadata
// included but children untouched; children copy up on their own demand.
func copyUpDir(ctx context.Context, parentUpper vfs.FsNode, name data.Name, lower vfs.FsNode) (vfs.FsNode, error) {
	md, err := lower.Metadata(ctx)
	if err != nil {
		return nil, err
	}

	upper, err := parentUpper.Mkdir(ctx, name, vfs.MkdirOptions{Mode: md.Mode})
	if err != nil {
		if goerrors.Is(err, errors.ErrExist) {
			return parentUpper.Lookup(ctx, name)
		}
		return nil, err
	}

	if err := applyCopyUpMetadata(ctx, upper, md); err != nil {
		return nil, err
	}
	return upper, nil
}

// copyUpSymlink recreates a lower symlink on the upper layer.
func copyUpSymlink(ctx context.Context, parentUpper vfs.FsNode, name data.Name, lower vfs.FsNode) (vfs.FsNode, error) {
	target, err := lower.Readlink(ctx)
	if err != nil {
		return nil, err
	}

	if err := parentUpper.Symlink(ctx, name, target); err != nil {
		if !goerrors.Is(err, errors.ErrExist) {
			return nil, err
		}
	}
	return parentUpper.Lookup(ctx, name)
}

func copyBytes(ctx context.Context, upper, lower vfs.FsNode, chunk int) error {
	src, err := lower.Open(ctx, vfs.OpenOptions{Access: data.AccessRead})
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := upper.Open(ctx, vfs.OpenOptions{Access: data.AccessWrite})
	if err != nil {
		return err
	}
	defer dst.Close()

	buf := make([]byte, chunk)
	var off int64
	for {
		n, err := src.ReadAt(ctx, buf, off)
		if n > 0 {
			if _, werr := dst.WriteAt(ctx, buf[:n], off); werr != nil {
				return werr
			}
			off += int64(n)
		}
		if goerrors.Is(err, io.EOF) {
			return dst.Sync(ctx)
		}
		if err != nil {
			return err
		}
	}
}

func applyCopyUpMetadata(ctx context.Context, upper vfs.FsNode, md *data.Metadata) error {
	update := &data.MetadataUpdate{
		Mask:       data.UpdateMode | data.UpdateUID | data.UpdateGID | data.UpdateAccessTime | data.UpdateModifyTime,
		Mode:       md.Mode,
		UID:        md.UID,
		GID:        md.GID,
		AccessTime: md.AccessTime,
		ModifyTime: md.ModifyTime,
	}

	err := upper.SetMetadata(ctx, update)
	if goerrors.Is(err, errors.ErrNotSupported) {
		return nil
	}
	return err
}
