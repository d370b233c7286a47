// SPDX-License-Identifier: LGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostagent/blockdevice"
	"hostagent/hostconfig"
	"hostagent/logger"
	"hostagent/servicing/subsystem"
	"hostagent/status"
)

type fakeOps struct {
	calls             []string
	failCreateFs      bool
}

func (f *fakeOps) CreatePartitionTable(ctx context.Context, device string, table hostconfig.PartitionTableType) error {
	f.calls = append(f.calls, "table:"+device)
	return nil
}
func (f *fakeOps) CreatePartition(ctx context.Context, device string, p hostconfig.PartitionConfig, index int, partuuid string) (string, error) {
	f.calls = append(f.calls, "partition:"+p.ID)
	return device + fmt.Sprintf("%d", index), nil
}
func (f *fakeOps) AssembleRaid(ctx context.Context, name string, level hostconfig.RaidLevel, members []string) (string, error) {
	f.calls = append(f.calls, "raid:"+name)
	return "/dev/md0", nil
}
func (f *fakeOps) OpenEncrypted(ctx context.Context, backing, name string) (string, error) {
	f.calls = append(f.calls, "luksopen:"+name)
	return "/dev/mapper/" + name, nil
}
func (f *fakeOps) CreateFilesystem(ctx context.Context, device string, fsType hostconfig.FilesystemType, fsUUID string) error {
	f.calls = append(f.calls, "mkfs:"+device)
	if f.failCreateFs {
		return assert.AnError
	}
	return nil
}
func (f *fakeOps) OpenVerity(ctx context.Context, dataDevice, hashDevice, rootHash, name string) (string, error) {
	f.calls = append(f.calls, "verity:"+name)
	return "/dev/mapper/" + name, nil
}
func (f *fakeOps) Mount(ctx context.Context, device, path string, options []string) error {
	f.calls = append(f.calls, "mount:"+path)
	return nil
}
func (f *fakeOps) Unmount(ctx context.Context, path string) error {
	f.calls = append(f.calls, "umount:"+path)
	return nil
}
func (f *fakeOps) TeardownRaid(ctx context.Context, raidDevice string) error {
	f.calls = append(f.calls, "raid-stop:"+raidDevice)
	return nil
}
func (f *fakeOps) TeardownEncrypted(ctx context.Context, mapperName string) error {
	f.calls = append(f.calls, "luksclose:"+mapperName)
	return nil
}

func buildModel(t *testing.T) *blockdevice.Model {
	t.Helper()
	cfg := &hostconfig.Config{
		Disks: []hostconfig.DiskConfig{{
			ID: "disk0", Device: "/dev/sda",
			Partitions: []hostconfig.PartitionConfig{
				{ID: "root", DiscoverableType: hostconfig.DiscoverableRoot, Size: "8589934592"},
			},
		}},
		Filesystems: []hostconfig.FilesystemConfig{
			{ID: "root-fs", Backing: "root", Type: hostconfig.FilesystemExt4, Source: hostconfig.FilesystemSource{Kind: hostconfig.SourceCreate}},
		},
	}
	m, err := blockdevice.Build(cfg, status.SideNone)
	require.NoError(t, err)
	return m
}

func TestCreateStorageCreatesPartitionTableThenFilesystem(t *testing.T) {
	ops := &fakeOps{}
	s := New(ops)
	sc := &subsystem.StepContext{Log: logger.New("error"), Model: buildModel(t)}

	err := s.CreateStorage(context.Background(), sc)
	require.NoError(t, err)

	assert.Contains(t, ops.calls, "table:/dev/sda")
	assert.Contains(t, ops.calls, "partition:root")
	assert.Contains(t, ops.calls, "mkfs:root-fs")
}

func TestCreateStorageRecordsResolvedDeviceIdentifiers(t *testing.T) {
	ops := &fakeOps{}
	s := New(ops)
	hs := &status.HostStatus{}
	sc := &subsystem.StepContext{Log: logger.New("error"), Model: buildModel(t), HostStatus: hs}

	require.NoError(t, s.CreateStorage(context.Background(), sc))

	require.Contains(t, hs.Resolved.PartitionPARTUUIDs, "root")
	assert.NotEmpty(t, hs.Resolved.PartitionPARTUUIDs["root"])
	require.Contains(t, hs.Resolved.FilesystemUUIDs, "root-fs")
	assert.NotEmpty(t, hs.Resolved.FilesystemUUIDs["root-fs"])
}

func TestCreateStoragePropagatesFatalError(t *testing.T) {
	ops := &fakeOps{failCreateFs: true}
	s := New(ops)
	sc := &subsystem.StepContext{Log: logger.New("error"), Model: buildModel(t)}

	err := s.CreateStorage(context.Background(), sc)
	assert.Error(t, err)
}

func raidConfig() *hostconfig.Config {
	return &hostconfig.Config{
		Disks: []hostconfig.DiskConfig{{
			ID: "disk0", Device: "/dev/sda",
			Partitions: []hostconfig.PartitionConfig{
				{ID: "member0", DiscoverableType: hostconfig.DiscoverableLinuxGeneric, Size: "1073741824"},
				{ID: "member1", DiscoverableType: hostconfig.DiscoverableLinuxGeneric, Size: "1073741824"},
			},
		}},
		RaidArrays: []hostconfig.RaidArrayConfig{
			{ID: "md0", Name: "md0", Level: hostconfig.Raid1, Members: []string{"member0", "member1"}},
		},
		Filesystems: []hostconfig.FilesystemConfig{
			{ID: "md0-fs", Backing: "md0", Type: hostconfig.FilesystemExt4, Source: hostconfig.FilesystemSource{Kind: hostconfig.SourceCreate}},
		},
	}
}

func TestRebuildRaidStopsAndReassemblesWithoutTouchingFilesystems(t *testing.T) {
	ops := &fakeOps{}
	s := New(ops)

	err := s.RebuildRaid(context.Background(), raidConfig(), status.SideNone, nil)
	require.NoError(t, err)

	assert.Contains(t, ops.calls, "raid-stop:md0")
	assert.Contains(t, ops.calls, "raid:md0")
	for _, c := range ops.calls {
		assert.NotContains(t, c, "mkfs")
		assert.NotContains(t, c, "table:")
		assert.NotContains(t, c, "partition:")
	}
}

func TestRebuildRaidRecordsRaidDevicePath(t *testing.T) {
	ops := &fakeOps{}
	s := New(ops)
	hs := &status.HostStatus{}

	require.NoError(t, s.RebuildRaid(context.Background(), raidConfig(), status.SideNone, hs))

	require.Contains(t, hs.Resolved.RaidDevicePaths, "md0")
	assert.Equal(t, "/dev/md0", hs.Resolved.RaidDevicePaths["md0"])
}

func TestPreCleanUnmountsTargetFilesystems(t *testing.T) {
	ops := &fakeOps{}
	s := New(ops)
	cfg := &hostconfig.Config{
		Disks: []hostconfig.DiskConfig{{
			ID: "disk0", Device: "/dev/sda",
			Partitions: []hostconfig.PartitionConfig{{ID: "root", DiscoverableType: hostconfig.DiscoverableRoot, Size: "8589934592"}},
		}},
		Filesystems: []hostconfig.FilesystemConfig{
			{ID: "root-fs", Backing: "root", Type: hostconfig.FilesystemExt4,
				Source:     hostconfig.FilesystemSource{Kind: hostconfig.SourceCreate},
				MountPoint: &hostconfig.MountPointConfig{Path: "/mnt/target"}},
		},
	}
	m, err := blockdevice.Build(cfg, status.SideNone)
	require.NoError(t, err)
	sc := &subsystem.StepContext{Log: logger.New("error"), Model: m}

	require.NoError(t, s.PreClean(context.Background(), sc))
	assert.Contains(t, ops.calls, "umount:/mnt/target")
}
