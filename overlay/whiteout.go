package overlay

import (
	"bytes"
	"context"
	goerrors "errors"

	vfs "github.com/mwantia/guestvfs"
	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/data/errors"
)

// Bookkeeping names the overlay stores on the upper layer. Everything under
// the reserved prefix is invisible to guests.
const (
	reservedPrefix   = ".wasmer_overlay."
	opaqueMarkerName = reservedPrefix + "opaque"
	whiteoutPrefix   = reservedPrefix + "wh."
	copyUpPrefix     = reservedPrefix + "cp."
)

// isReserved reports whether raw falls under the reserved prefix.
func isReserved(raw []byte) bool {
	return bytes.HasPrefix(raw, []byte(reservedPrefix))
}

// isOpaqueMarker reports whether raw is the opaque directory marker.
func isOpaqueMarker(raw []byte) bool {
	return bytes.Equal(raw, []byte(opaqueMarkerName))
}

// whiteoutTarget returns the name a whiteout marker deletes, if raw is one.
func whiteoutTarget(raw []byte) ([]byte, bool) {
	return bytes.CutPrefix(raw, []byte(whiteoutPrefix))
}

// whiteoutNameFor builds the marker name that deletes name.
func whiteoutNameFor(name data.Name) data.Name {
	marker := make([]byte, 0, len(whiteoutPrefix)+len(name))
	marker = append(marker, whiteoutPrefix...)
	marker = append(marker, name.Bytes()...)
	return data.Name(marker)
}

// copyUpTempName builds the staging name a copy-up writes under before the
// final rename. The reserved prefix keeps the half-copied file invisible.
func copyUpTempName(name data.Name) data.Name {
	tmp := make([]byte, 0, len(copyUpPrefix)+len(name))
	tmp = append(tmp, copyUpPrefix...)
	tmp = append(tmp, name.Bytes()...)
	return data.Name(tmp)
}

// opaqueName returns the opaque marker as a Name.
func opaqueName() data.Name {
	return data.Name(opaqueMarkerName)
}

// createWhiteout records the deletion of name on the upper directory. Marker
// files are empty; presence is the whole signal. An already existing marker
// is fine.
func createWhiteout(ctx context.Context, upper vfs.FsNode, name data.Name) error {
	_, err := upper.CreateFile(ctx, whiteoutNameFor(name), vfs.CreateFileOptions{
		Mode:      0o000,
		Exclusive: true,
	})
	if err != nil && !goerrors.Is(err, errors.ErrExist) {
		return err
	}
	return nil
}

// createOpaqueMarker masks all same-path lower contents of the upper
// directory.
func createOpaqueMarker(ctx context.Context, upper vfs.FsNode) error {
	_, err := upper.CreateFile(ctx, opaqueName(), vfs.CreateFileOptions{
		Mode:      0o000,
		Exclusive: true,
	})
	if err != nil && !goerrors.Is(err, errors.ErrExist) {
		return err
	}
	return nil
}
