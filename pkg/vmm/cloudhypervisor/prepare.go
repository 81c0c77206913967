package cloudhypervisor

import (
	"fmt"
	"os"

	"github.com/diskfs/go-diskfs"
	"github.com/rs/zerolog"
)

// sanityCheckDiskImage verifies diskImagePath exists and is a
// non-empty regular file. It never mutates the artifact; diskfs is
// used purely for diagnostic logging of the image's reported size, and
// an image diskfs cannot open is logged and accepted, not rejected.
func sanityCheckDiskImage(diskImagePath string, logger zerolog.Logger) error {
	info, err := os.Stat(diskImagePath)
	if err != nil {
		return fmt.Errorf("disk image %q: %w", diskImagePath, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("disk image %q is not a regular file", diskImagePath)
	}
	if info.Size() == 0 {
		return fmt.Errorf("disk image %q is empty", diskImagePath)
	}

	d, err := diskfs.Open(diskImagePath, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		logger.Debug().Err(err).Str("path", diskImagePath).Msg("disk image not recognized by diskfs, proceeding anyway")
		return nil
	}
	defer d.Backend.Close()

	logger.Debug().Str("path", diskImagePath).Int64("size", d.Size).Msg("disk image sanity check passed")
	return nil
}
