// SPDX-License-Identifier: LGPL-3.0-or-later

package storage

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"hostagent/hostconfig"
)

// SgdiskOps is the production DeviceOps implementation. It shells out
// to sgdisk, mdadm, cryptsetup, mkfs.*, mkswap, and veritysetup the
// same way osconfig's FileOps shells out to useradd and boot's
// BootctlOps shells out to bootctl.
type SgdiskOps struct{}

func (SgdiskOps) CreatePartitionTable(ctx context.Context, device string, table hostconfig.PartitionTableType) error {
	switch table {
	case hostconfig.PartitionTableGPT:
		return run(ctx, "sgdisk", "--zap-all", device)
	case hostconfig.PartitionTableMBR:
		return run(ctx, "sgdisk", "--mbrtogpt", "--clear", device)
	default:
		return fmt.Errorf("unsupported partition table type %q", table)
	}
}

func (SgdiskOps) CreatePartition(ctx context.Context, device string, p hostconfig.PartitionConfig, index int, partuuid string) (string, error) {
	size := "0"
	if p.Size != hostconfig.GrowSentinel {
		size = p.Size
	}
	typeCode := discoverableTypeGUID(p.DiscoverableType)
	if err := run(ctx, "sgdisk",
		fmt.Sprintf("--new=%d:0:+%sB", index, size),
		fmt.Sprintf("--typecode=%d:%s", index, typeCode),
		fmt.Sprintf("--change-name=%d:%s", index, p.ID),
		fmt.Sprintf("--partition-guid=%d:%s", index, partuuid),
		device,
	); err != nil {
		return "", err
	}
	return partitionDeviceName(device, index), nil
}

func (SgdiskOps) AssembleRaid(ctx context.Context, arrayName string, level hostconfig.RaidLevel, members []string) (string, error) {
	raidDevice := "/dev/md/" + arrayName
	args := []string{"--create", raidDevice, "--run",
		"--level=" + strings.TrimPrefix(string(level), "raid"),
		fmt.Sprintf("--raid-devices=%d", len(members)),
	}
	args = append(args, members...)
	if err := run(ctx, "mdadm", args...); err != nil {
		return "", err
	}
	return raidDevice, nil
}

func (SgdiskOps) OpenEncrypted(ctx context.Context, backing, name string) (string, error) {
	if err := run(ctx, "cryptsetup", "luksFormat", "--batch-mode", backing); err != nil {
		return "", err
	}
	if err := run(ctx, "cryptsetup", "luksOpen", backing, name); err != nil {
		return "", err
	}
	return "/dev/mapper/" + name, nil
}

func (SgdiskOps) CreateFilesystem(ctx context.Context, device string, fsType hostconfig.FilesystemType, fsUUID string) error {
	switch fsType {
	case hostconfig.FilesystemExt4:
		return run(ctx, "mkfs.ext4", "-F", "-U", fsUUID, device)
	case hostconfig.FilesystemXFS:
		return run(ctx, "mkfs.xfs", "-f", "-m", "uuid="+fsUUID, device)
	case hostconfig.FilesystemVFAT:
		return run(ctx, "mkfs.vfat", device)
	case hostconfig.FilesystemSwap:
		return run(ctx, "mkswap", "-U", fsUUID, device)
	case hostconfig.FilesystemTmpfs, hostconfig.FilesystemAuto:
		return nil
	default:
		return fmt.Errorf("unsupported filesystem type %q", fsType)
	}
}

func (SgdiskOps) OpenVerity(ctx context.Context, dataDevice, hashDevice, rootHash, name string) (string, error) {
	if err := run(ctx, "veritysetup", "open", dataDevice, name, hashDevice, rootHash); err != nil {
		return "", err
	}
	return "/dev/mapper/" + name, nil
}

func (SgdiskOps) Mount(ctx context.Context, device, path string, options []string) error {
	args := []string{}
	if len(options) > 0 {
		args = append(args, "-o", strings.Join(options, ","))
	}
	args = append(args, device, path)
	return run(ctx, "mount", args...)
}

func (SgdiskOps) Unmount(ctx context.Context, path string) error {
	return run(ctx, "umount", path)
}

func (SgdiskOps) TeardownRaid(ctx context.Context, raidDevice string) error {
	return run(ctx, "mdadm", "--stop", raidDevice)
}

func (SgdiskOps) TeardownEncrypted(ctx context.Context, mapperName string) error {
	return run(ctx, "cryptsetup", "luksClose", mapperName)
}

func run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, out.String())
	}
	return nil
}

// partitionDeviceName derives the kernel partition device node for
// index on device, accounting for the "pN" suffix convention used by
// devices ending in a digit (nvme0n1 -> nvme0n1p1, sda -> sda1).
func partitionDeviceName(device string, index int) string {
	if len(device) > 0 {
		last := device[len(device)-1]
		if last >= '0' && last <= '9' {
			return device + "p" + strconv.Itoa(index)
		}
	}
	return device + strconv.Itoa(index)
}

func discoverableTypeGUID(t hostconfig.DiscoverableType) string {
	switch t {
	case hostconfig.DiscoverableESP:
		return "ef00"
	case hostconfig.DiscoverableRoot:
		return "8304"
	case hostconfig.DiscoverableRootVerity:
		return "8305"
	case hostconfig.DiscoverableSwap:
		return "8200"
	case hostconfig.DiscoverableLinuxGeneric:
		return "8300"
	default:
		return "8300"
	}
}

var _ DeviceOps = SgdiskOps{}
