// SPDX-License-Identifier: LGPL-3.0-or-later

package hostconfig

import (
	"fmt"
	"strconv"
)

// ValidationError is one violation of a Host Configuration invariant.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e ValidationError) String() string {
	if e.Value != "" {
		return fmt.Sprintf("%s=%q: %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult accumulates every violation found by Validate,
// rather than failing on the first, so a caller can report everything
// wrong with a document in one pass.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

func (r *ValidationResult) AddError(field, value, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Value: value, Message: message})
}

func (r *ValidationResult) AddWarning(field, value, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Value: value, Message: message})
}

func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) Error() string {
	if r.Valid() {
		return ""
	}
	msg := fmt.Sprintf("%d host configuration violation(s):", len(r.Errors))
	for _, e := range r.Errors {
		msg += "\n  - " + e.String()
	}
	return msg
}

// Validate checks the static, per-document invariants of spec §3 that
// do not require resolving ids into a device graph (uniqueness,
// partition size shape, filesystem source/type compatibility, allowed
// operations). Referential integrity (dangling ids, reference-count
// ranges, exclusivity, homogeneity across A/B and RAID members) is
// checked by package blockdevice at model-construction time, which
// fails on the first violation rather than accumulating — the two
// layers intentionally differ in failure discipline, matching
// spec §4.2 (construction) versus general validation practice.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	seenIDs := map[string]string{} // id -> kind, to report collisions across kinds too
	claim := func(kind, id string) {
		if id == "" {
			result.AddError(kind+".id", "", "id must not be empty")
			return
		}
		if prev, ok := seenIDs[id]; ok {
			result.AddError(kind+".id", id, fmt.Sprintf("duplicate id, already used by %s", prev))
			return
		}
		seenIDs[id] = kind
	}

	validateDisks(c.Disks, result, claim)
	validateRaidArrays(c.RaidArrays, result, claim)
	validateAbPairs(c.AbVolumePairs, result, claim)
	validateEncryptedVolumes(c.EncryptedVolumes, result, claim)
	validateFilesystems(c.Filesystems, result, claim)
	validateVerityPairs(c.VerityPairs, result)
	validateImages(c.Images, result)
	validateAllowedOperations(c.AllowedOperations, result)

	return result
}

func validateDisks(disks []DiskConfig, result *ValidationResult, claim func(string, string)) {
	for _, d := range disks {
		claim("disk", d.ID)
		if d.Device == "" {
			result.AddError("disk.device", d.ID, "device path must not be empty")
		}
		if d.TableType != PartitionTableGPT && d.TableType != PartitionTableMBR {
			result.AddError("disk.table_type", string(d.TableType), "must be gpt or mbr")
		}

		var capacity int64
		if d.CapacityBytes != "" {
			n, err := strconv.ParseInt(d.CapacityBytes, 10, 64)
			if err != nil || n <= 0 {
				result.AddError("disk.capacity_bytes", d.CapacityBytes, fmt.Sprintf("disk %s: capacity_bytes must be a positive byte count", d.ID))
			} else {
				capacity = n
			}
		}

		growCount := 0
		var sizedTotal int64
		partitionIDs := map[string]bool{}
		for _, p := range d.Partitions {
			if p.ID == "" {
				result.AddError("partition.id", "", fmt.Sprintf("disk %s: partition id must not be empty", d.ID))
			} else if partitionIDs[p.ID] {
				result.AddError("partition.id", p.ID, fmt.Sprintf("disk %s: duplicate partition id", d.ID))
			}
			partitionIDs[p.ID] = true
			claim("partition", p.ID)

			if p.Size == GrowSentinel {
				growCount++
				continue
			}
			n, err := strconv.ParseInt(p.Size, 10, 64)
			if err != nil || n <= 0 {
				result.AddError("partition.size", p.Size, fmt.Sprintf("partition %s: size must be a positive byte count or %q", p.ID, GrowSentinel))
				continue
			}
			sizedTotal += n
		}
		if growCount > 1 {
			result.AddError("disk.partitions", d.ID, "at most one grow partition is allowed per disk")
		}
		if capacity > 0 && sizedTotal > capacity {
			result.AddError("disk.partitions", d.ID, fmt.Sprintf("disk %s: partitions total %d bytes, exceeding disk capacity %d bytes", d.ID, sizedTotal, capacity))
		}
	}
}

func validateRaidArrays(arrays []RaidArrayConfig, result *ValidationResult, claim func(string, string)) {
	for _, a := range arrays {
		claim("raid_array", a.ID)
		if len(a.Members) < 2 {
			result.AddError("raid_array.members", a.ID, "raid array requires at least 2 members")
		}
		seen := map[string]bool{}
		for _, m := range a.Members {
			if seen[m] {
				result.AddError("raid_array.members", a.ID, fmt.Sprintf("member %s listed more than once", m))
			}
			seen[m] = true
		}
		switch a.Level {
		case Raid0, Raid1, Raid5, Raid6, Raid10:
		default:
			result.AddError("raid_array.level", string(a.Level), "unrecognized RAID level")
		}
	}
}

func validateAbPairs(pairs []AbVolumePairConfig, result *ValidationResult, claim func(string, string)) {
	for _, p := range pairs {
		claim("ab_volume_pair", p.ID)
		if p.Members[0] == "" || p.Members[1] == "" {
			result.AddError("ab_volume_pair.members", p.ID, "both members must be set")
		} else if p.Members[0] == p.Members[1] {
			result.AddError("ab_volume_pair.members", p.ID, "members must be distinct devices")
		}
	}
}

func validateEncryptedVolumes(volumes []EncryptedVolumeConfig, result *ValidationResult, claim func(string, string)) {
	for _, v := range volumes {
		claim("encrypted_volume", v.ID)
		if v.Backing == "" {
			result.AddError("encrypted_volume.backing", v.ID, "backing device must be set")
		}
	}
}

func validateFilesystems(filesystems []FilesystemConfig, result *ValidationResult, claim func(string, string)) {
	for _, f := range filesystems {
		claim("filesystem", f.ID)

		switch f.Type {
		case FilesystemSwap, FilesystemTmpfs:
			if f.Source.Kind != SourceCreate {
				result.AddError("filesystem.source", f.ID, fmt.Sprintf("%s filesystems may only use source=create", f.Type))
			}
		case FilesystemAuto:
			if f.Source.Kind != SourceAdopted {
				result.AddError("filesystem.source", f.ID, "auto filesystems may only use source=adopted")
			}
		case FilesystemExt4, FilesystemXFS, FilesystemVFAT:
			switch f.Source.Kind {
			case SourceCreate, SourceImage, SourceAdopted:
			default:
				result.AddError("filesystem.source", f.ID, "source must be one of create, image, adopted")
			}
		default:
			result.AddError("filesystem.type", string(f.Type), "unrecognized filesystem type")
		}

		if f.Source.Kind == SourceImage {
			if f.Source.URL == "" {
				result.AddError("filesystem.source.url", f.ID, "image source requires a url")
			}
			if f.Source.Digest == "" {
				result.AddError("filesystem.source.digest", f.ID, fmt.Sprintf("image source requires a digest or %q", IgnoredDigest))
			}
		}

		if f.Type == FilesystemSwap && f.MountPoint != nil {
			result.AddError("filesystem.mount_point", f.ID, "swap filesystems must not declare a mount point")
		}
	}
}

func validateVerityPairs(pairs []VerityPairConfig, result *ValidationResult) {
	for _, v := range pairs {
		if v.DataDevice == "" || v.HashDevice == "" {
			result.AddError("verity_pair", v.DataDevice+"/"+v.HashDevice, "data_device and hash_device must both be set")
		}
		if v.RootHashSource == "" {
			result.AddError("verity_pair.root_hash_source", v.DataDevice, "root hash source must be set")
		}
	}
}

func validateImages(images []ImageRef, result *ValidationResult) {
	for _, img := range images {
		if img.URL == "" {
			result.AddError("image.url", img.TargetDevice, "image url must not be empty")
		}
		if img.Digest == "" {
			result.AddError("image.digest", img.URL, fmt.Sprintf("image digest must be set or %q", IgnoredDigest))
		}
		if img.TargetDevice == "" {
			result.AddError("image.target_device", img.URL, "image target_device must be set")
		}
	}
}

func validateAllowedOperations(ops []Operation, result *ValidationResult) {
	for _, op := range ops {
		if op != OperationStage && op != OperationFinalize {
			result.AddError("allowed_operations", string(op), "must be one of stage, finalize")
		}
	}
}
