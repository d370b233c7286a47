// SPDX-License-Identifier: LGPL-3.0-or-later

package image

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"hostagent/hostconfig"
	"hostagent/metricsserver"
)

// DeviceBlockWriter is the production BlockWriter: it writes straight
// to the target block device node the same way Storage's SgdiskOps
// shells out to sgdisk rather than going through a filesystem layer.
type DeviceBlockWriter struct{}

func (DeviceBlockWriter) WriteStream(ctx context.Context, device string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(device, os.O_WRONLY, 0)
	if err != nil {
		return 0, fmt.Errorf("open %s for writing: %w", device, err)
	}
	defer f.Close()

	written, err := io.Copy(f, r)
	if err != nil {
		return written, fmt.Errorf("write to %s: %w", device, err)
	}
	if err := f.Sync(); err != nil {
		return written, fmt.Errorf("sync %s: %w", device, err)
	}
	metricsserver.ImageBytesWritten.WithLabelValues(device).Add(float64(written))
	return written, nil
}

// ResizeFilesystemUpToPartition grows the filesystem on device to fill
// its partition. ext4 accepts a raw device directly via resize2fs;
// XFS has no offline grow tool at all, so growXFS mounts device at a
// private mountpoint first and runs xfs_growfs against that mountpoint
// as xfs_growfs itself requires.
func (DeviceBlockWriter) ResizeFilesystemUpToPartition(ctx context.Context, device string, fsType hostconfig.FilesystemType) error {
	switch fsType {
	case hostconfig.FilesystemXFS:
		return growXFS(ctx, device)
	case hostconfig.FilesystemExt4:
		cmd := exec.CommandContext(ctx, "resize2fs", device)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("resize2fs %s: %w: %s", device, err, out)
		}
		return nil
	default:
		return nil
	}
}

// growXFS grows an XFS filesystem already written to device. Unlike
// resize2fs, xfs_growfs refuses a raw block device and only accepts a
// mount point, so device is mounted at a private temporary directory
// first and unmounted again once the grow completes.
func growXFS(ctx context.Context, device string) error {
	mountPoint, err := os.MkdirTemp("", "hostagent-xfs-grow-")
	if err != nil {
		return fmt.Errorf("create temporary mount point for xfs_growfs on %s: %w", device, err)
	}
	defer os.RemoveAll(mountPoint)

	if out, err := exec.CommandContext(ctx, "mount", device, mountPoint).CombinedOutput(); err != nil {
		return fmt.Errorf("mount %s for xfs_growfs: %w: %s", device, err, out)
	}
	defer exec.CommandContext(context.Background(), "umount", mountPoint).Run()

	if out, err := exec.CommandContext(ctx, "xfs_growfs", mountPoint).CombinedOutput(); err != nil {
		return fmt.Errorf("xfs_growfs %s: %w: %s", device, err, out)
	}
	return nil
}

var _ BlockWriter = DeviceBlockWriter{}
