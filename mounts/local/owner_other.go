//go:build !unix

package local

import (
	"io/fs"

	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/data/errors"
)

func fillOwner(fs.FileInfo, *data.Metadata) {}

func chown(string, *data.MetadataUpdate) error {
	return errors.Unsupported(providerName, "chown")
}
