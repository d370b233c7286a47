// SPDX-License-Identifier: LGPL-3.0-or-later

// Package storage implements the Storage subsystem: partition tables,
// RAID assembly, encryption setup, filesystem create/mount, and
// verity open (spec §4.3 table, row 2). The actual disk/partition/
// RAID/verity/encryption primitives are out of scope for this
// specification (spec §1) and are modeled here as the DeviceOps
// capability interface; a real implementation wraps sgdisk, mdadm,
// cryptsetup, mkfs.*, and veritysetup.
package storage

import (
	"context"

	"github.com/google/uuid"

	"hostagent/blockdevice"
	"hostagent/hostconfig"
	"hostagent/servicing/subsystem"
	"hostagent/status"
	"hostagent/svcerr"
)

// DeviceOps is the capability provider the storage subsystem drives.
// Every method operates on resolved device paths, not Host
// Configuration ids; the subsystem is responsible for that mapping.
//
// CreatePartition and CreateFilesystem take a caller-chosen identifier
// (a partition GUID, a filesystem UUID) rather than discovering one
// after the fact with blkid: sgdisk and the mkfs.* tools all accept an
// explicit identifier at creation time, so the subsystem can record
// the identifier it is about to assign into Host Status before the
// command even runs.
type DeviceOps interface {
	CreatePartitionTable(ctx context.Context, device string, table hostconfig.PartitionTableType) error
	CreatePartition(ctx context.Context, device string, p hostconfig.PartitionConfig, index int, partuuid string) (partitionDevice string, err error)
	AssembleRaid(ctx context.Context, arrayName string, level hostconfig.RaidLevel, members []string) (raidDevice string, err error)
	OpenEncrypted(ctx context.Context, backing, name string) (mapperDevice string, err error)
	CreateFilesystem(ctx context.Context, device string, fsType hostconfig.FilesystemType, fsUUID string) error
	OpenVerity(ctx context.Context, dataDevice, hashDevice, rootHash, name string) (mapperDevice string, err error)
	Mount(ctx context.Context, device, path string, options []string) error
	Unmount(ctx context.Context, path string) error
	TeardownRaid(ctx context.Context, raidDevice string) error
	TeardownEncrypted(ctx context.Context, mapperName string) error
}

// Subsystem is the Storage subsystem.
type Subsystem struct {
	ops DeviceOps
}

func New(ops DeviceOps) *Subsystem {
	return &Subsystem{ops: ops}
}

func (s *Subsystem) Name() string { return "storage" }

// PreClean tears down mounts, RAID arrays, and encrypted mappers on
// the target side only, so CreateStorage starts from a clean slate.
// The active side is never touched during stage (spec §8, A/B
// atomicity).
func (s *Subsystem) PreClean(ctx context.Context, sc *subsystem.StepContext) error {
	for _, n := range sc.Model.AllNodes() {
		if !sc.Model.IsOnTargetSide(n.ID) {
			continue
		}
		switch n.Kind {
		case blockdevice.KindFilesystem:
			if n.Filesystem.MountPoint != nil {
				if err := s.ops.Unmount(ctx, n.Filesystem.MountPoint.Path); err != nil {
					return svcerr.Recoverablef(svcerr.KindStorage, "umount", "failed to unmount "+n.Filesystem.MountPoint.Path, err)
				}
			}
		case blockdevice.KindRaidArray:
			if err := s.ops.TeardownRaid(ctx, n.ID); err != nil {
				return svcerr.Recoverablef(svcerr.KindStorage, "raid-teardown", "failed to stop raid array "+n.ID, err)
			}
		case blockdevice.KindEncryptedVolume:
			if err := s.ops.TeardownEncrypted(ctx, n.ID); err != nil {
				return svcerr.Recoverablef(svcerr.KindStorage, "encrypted-teardown", "failed to close encrypted volume "+n.ID, err)
			}
		}
	}
	return nil
}

// CreateStorage builds the target side's storage stack leaves-first:
// partition tables and partitions, then RAID arrays, then encryption,
// then filesystems (unformatted for image-backed filesystems — the
// Image subsystem writes their content directly).
func (s *Subsystem) CreateStorage(ctx context.Context, sc *subsystem.StepContext) error {
	order, err := sc.Model.DependencyOrder()
	if err != nil {
		return svcerr.Wrap(svcerr.KindInternal, "dependency-order", "failed to order block devices", err)
	}

	tablesCreated := map[string]bool{}
	for _, id := range order {
		n, _ := sc.Model.Resolve(id)
		if !sc.Model.IsOnTargetSide(n.ID) {
			continue
		}

		switch n.Kind {
		case blockdevice.KindDisk:
			// handled lazily on first partition below
		case blockdevice.KindPartition:
			if !tablesCreated[n.PartitionDiskID] {
				diskNode, _ := sc.Model.Resolve(n.PartitionDiskID)
				if err := s.ops.CreatePartitionTable(ctx, diskNode.Disk.Device, diskNode.Disk.TableType); err != nil {
					return svcerr.Wrap(svcerr.KindStorage, "partition-table", "failed to create partition table on "+diskNode.Disk.Device, err)
				}
				tablesCreated[n.PartitionDiskID] = true
			}
			diskNode, _ := sc.Model.Resolve(n.PartitionDiskID)
			partuuid := uuid.NewString()
			if _, err := s.ops.CreatePartition(ctx, diskNode.Disk.Device, *n.Partition, partitionIndex(diskNode, n.ID), partuuid); err != nil {
				return svcerr.Wrap(svcerr.KindStorage, "create-partition", "failed to create partition "+n.ID, err)
			}
			recordPartitionPARTUUID(sc.HostStatus, n.ID, partuuid)
		case blockdevice.KindRaidArray:
			raidDevice, err := s.ops.AssembleRaid(ctx, n.ID, n.RaidArray.Level, n.References)
			if err != nil {
				return svcerr.Wrap(svcerr.KindStorage, "raid-assemble", "failed to assemble raid array "+n.ID, err)
			}
			recordRaidDevicePath(sc.HostStatus, n.ID, raidDevice)
		case blockdevice.KindEncryptedVolume:
			if _, err := s.ops.OpenEncrypted(ctx, n.EncryptedVolume.Backing, n.ID); err != nil {
				return svcerr.Wrap(svcerr.KindStorage, "encrypted-open", "failed to open encrypted volume "+n.ID, err)
			}
		case blockdevice.KindFilesystem:
			if n.Filesystem.Source.Kind == hostconfig.SourceCreate {
				fsUUID := uuid.NewString()
				if err := s.ops.CreateFilesystem(ctx, n.ID, n.Filesystem.Type, fsUUID); err != nil {
					return svcerr.Wrap(svcerr.KindStorage, "mkfs", "failed to create filesystem "+n.ID, err)
				}
				recordFilesystemUUID(sc.HostStatus, n.ID, fsUUID)
			}
		case blockdevice.KindVerityPair:
			if _, err := s.ops.OpenVerity(ctx, n.VerityPair.DataDevice, n.VerityPair.HashDevice, n.VerityPair.RootHashSource, n.ID); err != nil {
				return svcerr.Wrap(svcerr.KindStorage, "verity-open", "failed to open verity pair "+n.ID, err)
			}
		}
	}
	return nil
}

// RebuildRaid implements the rebuild-raid external interface (spec §6):
// stop and reassemble every software RAID array named in cfg, touching
// neither partition tables nor filesystems. It bypasses
// CreateStorage's full leaves-first walk entirely — disks, partitions,
// encryption, and filesystems are assumed already in place from a
// prior install — and is invoked directly by the CLI rather than
// through the planner/executor pipeline, since it is not one of the
// five servicing types spec §4.4 classifies runs into. hs, if
// non-nil, has its ResolvedDevices.RaidDevicePaths updated with the
// reassembled device paths.
func (s *Subsystem) RebuildRaid(ctx context.Context, cfg *hostconfig.Config, activeSide status.Side, hs *status.HostStatus) error {
	model, err := blockdevice.Build(cfg, activeSide)
	if err != nil {
		return svcerr.Wrap(svcerr.KindValidation, "block-device-model", "failed to build block device model", err)
	}

	for _, n := range model.AllNodes() {
		if n.Kind != blockdevice.KindRaidArray {
			continue
		}
		if err := s.ops.TeardownRaid(ctx, n.ID); err != nil {
			return svcerr.Recoverablef(svcerr.KindStorage, "raid-teardown", "failed to stop raid array "+n.ID, err)
		}
		raidDevice, err := s.ops.AssembleRaid(ctx, n.ID, n.RaidArray.Level, n.References)
		if err != nil {
			return svcerr.Wrap(svcerr.KindStorage, "raid-rebuild", "failed to rebuild raid array "+n.ID, err)
		}
		recordRaidDevicePath(hs, n.ID, raidDevice)
	}
	return nil
}

func partitionIndex(disk *blockdevice.Node, partitionID string) int {
	for i, p := range disk.Disk.Partitions {
		if p.ID == partitionID {
			return i + 1
		}
	}
	return 0
}

// recordPartitionPARTUUID, recordRaidDevicePath, and recordFilesystemUUID
// persist the stable identifiers CreateStorage just assigned, so later
// servicing runs and the boot-commit supervisor can address the same
// physical devices regardless of enumeration order (status.ResolvedDevices).
// hs is nil in tests that exercise CreateStorage without a HostStatus.
func recordPartitionPARTUUID(hs *status.HostStatus, partitionID, partuuid string) {
	if hs == nil {
		return
	}
	if hs.Resolved.PartitionPARTUUIDs == nil {
		hs.Resolved.PartitionPARTUUIDs = map[string]string{}
	}
	hs.Resolved.PartitionPARTUUIDs[partitionID] = partuuid
}

func recordRaidDevicePath(hs *status.HostStatus, arrayID, raidDevice string) {
	if hs == nil {
		return
	}
	if hs.Resolved.RaidDevicePaths == nil {
		hs.Resolved.RaidDevicePaths = map[string]string{}
	}
	hs.Resolved.RaidDevicePaths[arrayID] = raidDevice
}

func recordFilesystemUUID(hs *status.HostStatus, filesystemID, fsUUID string) {
	if hs == nil {
		return
	}
	if hs.Resolved.FilesystemUUIDs == nil {
		hs.Resolved.FilesystemUUIDs = map[string]string{}
	}
	hs.Resolved.FilesystemUUIDs[filesystemID] = fsUUID
}

var _ subsystem.Subsystem = (*Subsystem)(nil)
var _ subsystem.PreCleaner = (*Subsystem)(nil)
var _ subsystem.StorageCreator = (*Subsystem)(nil)
