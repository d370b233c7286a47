// SPDX-License-Identifier: LGPL-3.0-or-later

package hostconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		Disks: []DiskConfig{
			{
				ID:        "disk0",
				Device:    "/dev/sda",
				TableType: PartitionTableGPT,
				Partitions: []PartitionConfig{
					{ID: "esp", DiscoverableType: DiscoverableESP, Size: "1073741824"},
					{ID: "root", DiscoverableType: DiscoverableRoot, Size: GrowSentinel},
				},
			},
		},
		Filesystems: []FilesystemConfig{
			{ID: "root-fs", Backing: "root", Type: FilesystemExt4, Source: FilesystemSource{Kind: SourceCreate}},
		},
		AllowedOperations: []Operation{OperationStage, OperationFinalize},
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := validConfig()
	result := cfg.Validate()
	assert.True(t, result.Valid(), result.Error())
}

func TestValidateRejectsDuplicatePartitionIDs(t *testing.T) {
	cfg := validConfig()
	cfg.Disks[0].Partitions = append(cfg.Disks[0].Partitions, PartitionConfig{ID: "esp", Size: "1024"})

	result := cfg.Validate()
	assert.False(t, result.Valid())
}

func TestValidateRejectsMultipleGrowPartitions(t *testing.T) {
	cfg := validConfig()
	cfg.Disks[0].Partitions[0].Size = GrowSentinel

	result := cfg.Validate()
	assert.False(t, result.Valid())
}

func TestValidateRejectsPartitionsExceedingDiskCapacity(t *testing.T) {
	cfg := validConfig()
	cfg.Disks[0].CapacityBytes = "1073741824"
	cfg.Disks[0].Partitions[1].Size = "1073741824" // same as esp, pushing the total over capacity

	result := cfg.Validate()
	assert.False(t, result.Valid())
}

func TestValidateAcceptsPartitionsWithinDiskCapacity(t *testing.T) {
	cfg := validConfig()
	cfg.Disks[0].CapacityBytes = "107374182400"
	cfg.Disks[0].Partitions[1].Size = "1073741824"

	result := cfg.Validate()
	assert.True(t, result.Valid(), result.Error())
}

func TestValidateIgnoresCapacityCheckWhenCapacityUnset(t *testing.T) {
	cfg := validConfig()
	cfg.Disks[0].Partitions[1].Size = "999999999999999"

	result := cfg.Validate()
	assert.True(t, result.Valid(), result.Error())
}

func TestValidateRejectsSwapWithMountPoint(t *testing.T) {
	cfg := validConfig()
	cfg.Filesystems = append(cfg.Filesystems, FilesystemConfig{
		ID:         "swap-fs",
		Type:       FilesystemSwap,
		Source:     FilesystemSource{Kind: SourceCreate},
		MountPoint: &MountPointConfig{Path: "/none"},
	})

	result := cfg.Validate()
	assert.False(t, result.Valid())
}

func TestValidateAccumulatesAllViolations(t *testing.T) {
	cfg := Config{
		AbVolumePairs: []AbVolumePairConfig{{ID: "pair0", Members: [2]string{"same", "same"}}},
		Images:        []ImageRef{{URL: "", Digest: "", TargetDevice: ""}},
	}

	result := cfg.Validate()
	assert.False(t, result.Valid())
	assert.GreaterOrEqual(t, len(result.Errors), 4)
}

func TestValidateRejectsUnknownAllowedOperation(t *testing.T) {
	cfg := validConfig()
	cfg.AllowedOperations = []Operation{"bogus"}

	result := cfg.Validate()
	assert.False(t, result.Valid())
}
