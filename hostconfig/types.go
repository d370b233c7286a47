// SPDX-License-Identifier: LGPL-3.0-or-later

// Package hostconfig models the Host Configuration document: the
// desired-state input handed to the engine for a servicing run. It
// covers YAML/JSON parsing and static validation of the invariants in
// spec §3; resolving ids into a device graph is package blockdevice's
// job.
package hostconfig

// PartitionTableType is the disk partitioning scheme.
type PartitionTableType string

const (
	PartitionTableGPT PartitionTableType = "gpt"
	PartitionTableMBR PartitionTableType = "mbr"
)

// GrowSentinel is the partition size value meaning "consume the rest
// of the disk's free space".
const GrowSentinel = "grow"

// DiscoverableType is the systemd-discoverable-partition type tag.
type DiscoverableType string

const (
	DiscoverableESP         DiscoverableType = "esp"
	DiscoverableRoot        DiscoverableType = "root"
	DiscoverableRootVerity  DiscoverableType = "root-verity"
	DiscoverableSwap        DiscoverableType = "swap"
	DiscoverableLinuxGeneric DiscoverableType = "linux-generic"
)

// PartitionConfig is one entry in a Disk's ordered partition table.
type PartitionConfig struct {
	ID              string           `yaml:"id" json:"id"`
	DiscoverableType DiscoverableType `yaml:"type" json:"type"`
	// Size is either a positive byte count (as a string, e.g.
	// "8589934592") or the sentinel GrowSentinel.
	Size string `yaml:"size" json:"size"`
}

// DiskConfig declares one physical or virtual block device and its
// ordered partition table.
type DiskConfig struct {
	ID        string             `yaml:"id" json:"id"`
	Device    string             `yaml:"device" json:"device"`
	TableType PartitionTableType `yaml:"table_type" json:"table_type"`
	// CapacityBytes is the disk's known usable size, as a positive byte
	// count string matching PartitionConfig.Size's format. Optional:
	// when empty, the disk's actual capacity isn't knowable statically
	// (e.g. a cloud volume sized at attach time) and partition sizes
	// are not checked against it, only against each other via the
	// single-grow-partition rule.
	CapacityBytes string            `yaml:"capacity_bytes,omitempty" json:"capacity_bytes,omitempty"`
	Partitions    []PartitionConfig `yaml:"partitions" json:"partitions"`
}

// RaidLevel is a Linux software RAID level.
type RaidLevel string

const (
	Raid0  RaidLevel = "raid0"
	Raid1  RaidLevel = "raid1"
	Raid5  RaidLevel = "raid5"
	Raid6  RaidLevel = "raid6"
	Raid10 RaidLevel = "raid10"
)

// RaidArrayConfig declares a software RAID array over ≥2 partitions.
type RaidArrayConfig struct {
	ID             string    `yaml:"id" json:"id"`
	Name           string    `yaml:"name" json:"name"`
	Level          RaidLevel `yaml:"level" json:"level"`
	Members        []string  `yaml:"members" json:"members"`
	MetadataVersion string   `yaml:"metadata_version" json:"metadata_version"`
}

// AbVolumePairConfig declares two devices updated in lockstep; one is
// active and one is the update target at any time.
type AbVolumePairConfig struct {
	ID      string    `yaml:"id" json:"id"`
	Members [2]string `yaml:"members" json:"members"`
}

// EncryptedVolumeConfig declares a LUKS-style encrypted volume over
// exactly one backing device.
type EncryptedVolumeConfig struct {
	ID      string `yaml:"id" json:"id"`
	Backing string `yaml:"backing" json:"backing"`
}

// FilesystemType is a supported on-disk filesystem format.
type FilesystemType string

const (
	FilesystemExt4  FilesystemType = "ext4"
	FilesystemXFS   FilesystemType = "xfs"
	FilesystemVFAT  FilesystemType = "vfat"
	FilesystemSwap  FilesystemType = "swap"
	FilesystemTmpfs FilesystemType = "tmpfs"
	FilesystemAuto  FilesystemType = "auto"
)

// FilesystemSourceKind is how a filesystem's content is populated.
type FilesystemSourceKind string

const (
	SourceCreate  FilesystemSourceKind = "create"
	SourceImage   FilesystemSourceKind = "image"
	SourceAdopted FilesystemSourceKind = "adopted"
)

// IgnoredDigest is the sentinel digest value meaning "do not verify".
const IgnoredDigest = "ignored"

// FilesystemSource describes how a filesystem obtains its content.
type FilesystemSource struct {
	Kind   FilesystemSourceKind `yaml:"kind" json:"kind"`
	URL    string               `yaml:"url,omitempty" json:"url,omitempty"`
	Digest string               `yaml:"digest,omitempty" json:"digest,omitempty"`
	Format string               `yaml:"format,omitempty" json:"format,omitempty"`
}

// MountPointConfig declares where and how a filesystem is mounted in
// the target root.
type MountPointConfig struct {
	Path    string   `yaml:"path" json:"path"`
	Options []string `yaml:"options,omitempty" json:"options,omitempty"`
}

// FilesystemConfig declares one filesystem, optionally backed by a
// device, optionally mounted.
type FilesystemConfig struct {
	ID         string            `yaml:"id" json:"id"`
	Backing    string            `yaml:"backing,omitempty" json:"backing,omitempty"`
	Type       FilesystemType    `yaml:"type" json:"type"`
	Source     FilesystemSource  `yaml:"source" json:"source"`
	MountPoint *MountPointConfig `yaml:"mount_point,omitempty" json:"mount_point,omitempty"`
}

// VerityPairConfig declares a dm-verity protected data/hash device
// pair and how the expected root hash is obtained.
type VerityPairConfig struct {
	DataDevice     string `yaml:"data_device" json:"data_device"`
	HashDevice     string `yaml:"hash_device" json:"hash_device"`
	RootHashSource string `yaml:"root_hash_source" json:"root_hash_source"`
}

// ImageRef declares one image to write to a target device.
type ImageRef struct {
	URL          string `yaml:"url" json:"url"`
	Digest       string `yaml:"digest" json:"digest"` // or IgnoredDigest
	Format       string `yaml:"format" json:"format"`
	TargetDevice string `yaml:"target_device" json:"target_device"`
}

// SSHKeyConfig is one authorized SSH public key for a user.
type SSHKeyConfig struct {
	KeyData string `yaml:"key_data" json:"key_data"`
}

// UserConfig declares one OS user account and its SSH access.
type UserConfig struct {
	Name     string         `yaml:"name" json:"name"`
	SSHKeys  []SSHKeyConfig `yaml:"ssh_keys,omitempty" json:"ssh_keys,omitempty"`
	Sudoer   bool           `yaml:"sudoer,omitempty" json:"sudoer,omitempty"`
}

// AdditionalFileConfig writes arbitrary content into the target root.
type AdditionalFileConfig struct {
	Path    string `yaml:"path" json:"path"`
	Content string `yaml:"content" json:"content"`
	Mode    string `yaml:"mode,omitempty" json:"mode,omitempty"`
}

// PostConfigureScript is a post-configure hook run inside the target
// root after OS configuration is applied.
type PostConfigureScript struct {
	Name string `yaml:"name" json:"name"`
	Body string `yaml:"body" json:"body"`
	// RequiresReboot marks a script whose effect (e.g. loading a kernel
	// module, repartitioning-adjacent work, anything touching running
	// state the script itself can't hot-apply) only takes effect after
	// a reboot, forcing the Scripts subsystem's RuntimeSafe verdict to
	// update-and-reboot instead of hot-patch even though the change is
	// otherwise confined to the runtime-safe fields.
	RequiresReboot bool `yaml:"requires_reboot,omitempty" json:"requires_reboot,omitempty"`
}

// OSConfig groups the OS-level settings the OS config subsystem
// applies to the target root.
type OSConfig struct {
	Users             []UserConfig           `yaml:"users,omitempty" json:"users,omitempty"`
	Netplan           string                 `yaml:"netplan,omitempty" json:"netplan,omitempty"`
	Sysexts           []string               `yaml:"sysexts,omitempty" json:"sysexts,omitempty"`
	AdditionalFiles   []AdditionalFileConfig `yaml:"additional_files,omitempty" json:"additional_files,omitempty"`
	PostConfigureScripts []PostConfigureScript `yaml:"post_configure_scripts,omitempty" json:"post_configure_scripts,omitempty"`
}

// Operation is one phase the caller may request of a servicing run.
type Operation string

const (
	OperationStage    Operation = "stage"
	OperationFinalize Operation = "finalize"
)

// Config is the complete Host Configuration document.
type Config struct {
	Disks             []DiskConfig            `yaml:"disks,omitempty" json:"disks,omitempty"`
	RaidArrays        []RaidArrayConfig       `yaml:"raid_arrays,omitempty" json:"raid_arrays,omitempty"`
	AbVolumePairs     []AbVolumePairConfig    `yaml:"ab_volume_pairs,omitempty" json:"ab_volume_pairs,omitempty"`
	EncryptedVolumes  []EncryptedVolumeConfig `yaml:"encrypted_volumes,omitempty" json:"encrypted_volumes,omitempty"`
	Filesystems       []FilesystemConfig      `yaml:"filesystems,omitempty" json:"filesystems,omitempty"`
	VerityPairs       []VerityPairConfig      `yaml:"verity_pairs,omitempty" json:"verity_pairs,omitempty"`
	Images            []ImageRef              `yaml:"images,omitempty" json:"images,omitempty"`
	OS                OSConfig                `yaml:"os" json:"os"`
	AllowedOperations []Operation             `yaml:"allowed_operations" json:"allowed_operations"`
	DatastorePath     string                  `yaml:"datastore_path,omitempty" json:"datastore_path,omitempty"`
}

// Clone returns a deep-enough copy for safe storage inside Host
// Status: slices are copied so later mutation of the original Config
// cannot leak into persisted state.
func (c Config) Clone() Config {
	out := c
	out.Disks = append([]DiskConfig(nil), c.Disks...)
	for i := range out.Disks {
		out.Disks[i].Partitions = append([]PartitionConfig(nil), c.Disks[i].Partitions...)
	}
	out.RaidArrays = append([]RaidArrayConfig(nil), c.RaidArrays...)
	out.AbVolumePairs = append([]AbVolumePairConfig(nil), c.AbVolumePairs...)
	out.EncryptedVolumes = append([]EncryptedVolumeConfig(nil), c.EncryptedVolumes...)
	out.Filesystems = append([]FilesystemConfig(nil), c.Filesystems...)
	out.VerityPairs = append([]VerityPairConfig(nil), c.VerityPairs...)
	out.Images = append([]ImageRef(nil), c.Images...)
	out.OS.Users = append([]UserConfig(nil), c.OS.Users...)
	out.OS.Sysexts = append([]string(nil), c.OS.Sysexts...)
	out.OS.AdditionalFiles = append([]AdditionalFileConfig(nil), c.OS.AdditionalFiles...)
	out.OS.PostConfigureScripts = append([]PostConfigureScript(nil), c.OS.PostConfigureScripts...)
	out.AllowedOperations = append([]Operation(nil), c.AllowedOperations...)
	return out
}

// HasOperation reports whether op is in AllowedOperations.
func (c Config) HasOperation(op Operation) bool {
	for _, o := range c.AllowedOperations {
		if o == op {
			return true
		}
	}
	return false
}
