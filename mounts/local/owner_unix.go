//go:build unix

package local

import (
	"io/fs"
	"os"
	"syscall"

	"github.com/mwantia/guestvfs/data"
)

func fillOwner(info fs.FileInfo, md *data.Metadata) {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		md.UID = int64(stat.Uid)
		md.GID = int64(stat.Gid)
		md.Nlink = uint32(stat.Nlink)
	}
}

func chown(host string, update *data.MetadataUpdate) error {
	uid, gid := -1, -1
	if update.Has(data.UpdateUID) {
		uid = int(update.UID)
	}
	if update.Has(data.UpdateGID) {
		gid = int(update.GID)
	}
	if err := os.Lchown(host, uid, gid); err != nil {
		return mapHostError(err)
	}
	return nil
}
