// SPDX-License-Identifier: LGPL-3.0-or-later

package blockdevice

import (
	"strconv"

	"hostagent/hostconfig"
	"hostagent/status"
)

// referenceRange is the fixed [min,max] number of devices a referrer
// of a given kind may reference.
type referenceRange struct{ min, max int }

var exclusiveReferenceLimits = map[Kind]referenceRange{
	KindRaidArray:       {min: 2, max: 1 << 30},
	KindAbVolumePair:    {min: 2, max: 2},
	KindEncryptedVolume: {min: 1, max: 1},
	KindFilesystem:      {min: 0, max: 1},
	KindVerityPair:      {min: 2, max: 2}, // one data device, one hash device
}

// Build constructs and validates the device graph from cfg. activeSide
// is the currently active A/B side from Host Status (status.SideNone
// for a never-provisioned host); it drives target-side computation.
func Build(cfg *hostconfig.Config, activeSide status.Side) (*Model, error) {
	m := &Model{
		nodes:       map[string]*Node{},
		referrers:   map[string][]string{},
		targetSides: map[string]status.Side{},
	}

	if err := addDisks(m, cfg.Disks); err != nil {
		return nil, err
	}
	if err := addRaidArrays(m, cfg.RaidArrays); err != nil {
		return nil, err
	}
	if err := addAbPairs(m, cfg.AbVolumePairs); err != nil {
		return nil, err
	}
	if err := addEncryptedVolumes(m, cfg.EncryptedVolumes); err != nil {
		return nil, err
	}
	if err := addFilesystems(m, cfg.Filesystems); err != nil {
		return nil, err
	}
	if err := addVerityPairs(m, cfg.VerityPairs); err != nil {
		return nil, err
	}

	if err := checkExclusivity(m); err != nil {
		return nil, err
	}
	if err := checkPartitionTypeRestrictions(m, cfg); err != nil {
		return nil, err
	}
	if _, err := m.DependencyOrder(); err != nil {
		return nil, err
	}

	computeTargetSides(m, activeSide)
	return m, nil
}

func addDisks(m *Model, disks []hostconfig.DiskConfig) error {
	for i := range disks {
		d := disks[i]
		m.nodes[d.ID] = &Node{Kind: KindDisk, ID: d.ID, Disk: &d}

		for j := range d.Partitions {
			p := d.Partitions[j]
			if _, exists := m.nodes[p.ID]; exists {
				return violation(p.ID, "partition", "id collides with another device")
			}
			m.nodes[p.ID] = &Node{
				Kind:            KindPartition,
				ID:              p.ID,
				References:      []string{d.ID},
				Partition:       &p,
				PartitionDiskID: d.ID,
			}
			m.referrers[d.ID] = append(m.referrers[d.ID], p.ID)

			if p.Size == hostconfig.GrowSentinel {
				continue
			}
			if n, err := strconv.ParseInt(p.Size, 10, 64); err != nil || n <= 0 {
				return violation(p.ID, "partition-size", "size must be a positive byte count or grow")
			}
		}
	}
	return nil
}

func addRaidArrays(m *Model, arrays []hostconfig.RaidArrayConfig) error {
	for i := range arrays {
		a := arrays[i]
		if _, exists := m.nodes[a.ID]; exists {
			return violation(a.ID, "raid_array", "id collides with another device")
		}
		if len(a.Members) < exclusiveReferenceLimits[KindRaidArray].min {
			return violation(a.ID, "raid_array", "requires at least 2 members")
		}
		if err := requireHomogeneousMembers(m, a.Members, a.ID, "raid_array"); err != nil {
			return err
		}
		m.nodes[a.ID] = &Node{Kind: KindRaidArray, ID: a.ID, References: append([]string(nil), a.Members...), RaidArray: &a}
		for _, mem := range a.Members {
			m.referrers[mem] = append(m.referrers[mem], a.ID)
		}
	}
	return nil
}

func addAbPairs(m *Model, pairs []hostconfig.AbVolumePairConfig) error {
	for i := range pairs {
		p := pairs[i]
		if _, exists := m.nodes[p.ID]; exists {
			return violation(p.ID, "ab_volume_pair", "id collides with another device")
		}
		members := []string{p.Members[0], p.Members[1]}
		if err := requireHomogeneousMembers(m, members, p.ID, "ab_volume_pair"); err != nil {
			return err
		}
		m.nodes[p.ID] = &Node{Kind: KindAbVolumePair, ID: p.ID, References: members, AbVolumePair: &p}
		for _, mem := range members {
			m.referrers[mem] = append(m.referrers[mem], p.ID)
		}
	}
	return nil
}

func addEncryptedVolumes(m *Model, volumes []hostconfig.EncryptedVolumeConfig) error {
	for i := range volumes {
		v := volumes[i]
		if _, exists := m.nodes[v.ID]; exists {
			return violation(v.ID, "encrypted_volume", "id collides with another device")
		}
		if _, ok := m.nodes[v.Backing]; !ok {
			return violation(v.ID, "encrypted_volume", "backing device "+v.Backing+" does not exist")
		}
		m.nodes[v.ID] = &Node{Kind: KindEncryptedVolume, ID: v.ID, References: []string{v.Backing}, EncryptedVolume: &v}
		m.referrers[v.Backing] = append(m.referrers[v.Backing], v.ID)
	}
	return nil
}

func addFilesystems(m *Model, filesystems []hostconfig.FilesystemConfig) error {
	for i := range filesystems {
		f := filesystems[i]
		if _, exists := m.nodes[f.ID]; exists {
			return violation(f.ID, "filesystem", "id collides with another device")
		}
		var refs []string
		if f.Backing != "" {
			if _, ok := m.nodes[f.Backing]; !ok {
				return violation(f.ID, "filesystem", "backing device "+f.Backing+" does not exist")
			}
			refs = []string{f.Backing}
		}
		m.nodes[f.ID] = &Node{Kind: KindFilesystem, ID: f.ID, References: refs, Filesystem: &f}
		for _, r := range refs {
			m.referrers[r] = append(m.referrers[r], f.ID)
		}
	}
	return nil
}

func addVerityPairs(m *Model, pairs []hostconfig.VerityPairConfig) error {
	for i := range pairs {
		v := pairs[i]
		id := v.DataDevice + "+" + v.HashDevice
		if _, exists := m.nodes[id]; exists {
			return violation(id, "verity_pair", "id collides with another device")
		}
		if _, ok := m.nodes[v.DataDevice]; !ok {
			return violation(id, "verity_pair", "data device "+v.DataDevice+" does not exist")
		}
		if _, ok := m.nodes[v.HashDevice]; !ok {
			return violation(id, "verity_pair", "hash device "+v.HashDevice+" does not exist")
		}
		m.nodes[id] = &Node{Kind: KindVerityPair, ID: id, References: []string{v.DataDevice, v.HashDevice}, VerityPair: &v}
		m.referrers[v.DataDevice] = append(m.referrers[v.DataDevice], id)
		m.referrers[v.HashDevice] = append(m.referrers[v.HashDevice], id)
	}
	return nil
}

// requireHomogeneousMembers checks that every member exists and that
// partitions among the members share identical size (A/B and RAID
// both require this; A/B additionally requires identical partition
// type, checked in checkPartitionTypeRestrictions).
func requireHomogeneousMembers(m *Model, members []string, referrerID, relation string) error {
	var refSize string
	for _, mem := range members {
		n, ok := m.nodes[mem]
		if !ok {
			return violation(referrerID, relation, "member "+mem+" does not exist")
		}
		if n.Kind != KindPartition {
			continue
		}
		size := n.Partition.Size
		if refSize == "" {
			refSize = size
			continue
		}
		if refSize != size {
			return violation(referrerID, relation, "members must have identical size")
		}
	}
	return nil
}

func checkExclusivity(m *Model) error {
	for id, refs := range m.referrers {
		if len(refs) > 1 {
			// Multiple referrers claiming the same device simultaneously
			// is forbidden outright, regardless of kind.
			return violation(id, "exclusivity", "device is referenced by more than one referrer")
		}
	}

	for id, n := range m.nodes {
		limits, tracked := exclusiveReferenceLimits[n.Kind]
		if !tracked {
			continue
		}
		count := len(n.References)
		if count < limits.min || count > limits.max {
			return violation(id, string(n.Kind), "reference count out of range")
		}
	}
	return nil
}

func checkPartitionTypeRestrictions(m *Model, cfg *hostconfig.Config) error {
	for _, ev := range cfg.EncryptedVolumes {
		backing, ok := m.nodes[ev.Backing]
		if !ok || backing.Kind != KindPartition {
			continue
		}
		t := backing.Partition.DiscoverableType
		if t == hostconfig.DiscoverableESP || t == hostconfig.DiscoverableRoot || t == hostconfig.DiscoverableRootVerity {
			return violation(ev.ID, "encrypted_volume", "may not wrap esp, root, or root-verity partitions")
		}
	}

	for _, vp := range cfg.VerityPairs {
		id := vp.DataDevice + "+" + vp.HashDevice
		data, ok := m.nodes[vp.DataDevice]
		if ok && data.Kind == KindPartition && data.Partition.DiscoverableType != hostconfig.DiscoverableRoot {
			return violation(id, "verity_pair", "data device must be a root partition")
		}
		hash, ok := m.nodes[vp.HashDevice]
		if ok && hash.Kind == KindPartition && hash.Partition.DiscoverableType != hostconfig.DiscoverableRootVerity {
			return violation(id, "verity_pair", "hash device must be a root-verity partition")
		}
	}

	for _, f := range cfg.Filesystems {
		if f.Type == hostconfig.FilesystemExt4 || f.Type == hostconfig.FilesystemXFS {
			continue
		}
		for _, vp := range cfg.VerityPairs {
			if vp.DataDevice == f.Backing {
				return violation(f.ID, "filesystem", "only ext4 or xfs may back a verity pair")
			}
		}
	}

	for _, p := range cfg.AbVolumePairs {
		a, aok := m.nodes[p.Members[0]]
		b, bok := m.nodes[p.Members[1]]
		if aok && bok && a.Kind == KindPartition && b.Kind == KindPartition {
			if a.Partition.DiscoverableType != b.Partition.DiscoverableType {
				return violation(p.ID, "ab_volume_pair", "members must have identical partition type")
			}
		}
	}
	return nil
}

// computeTargetSides resolves, for every A/B pair, which member is the
// target of the next write: the side opposite the currently active
// one, in lockstep across all pairs (spec §4.2).
func computeTargetSides(m *Model, activeSide status.Side) {
	target := activeSide.Other()
	if target == status.SideNone {
		target = status.SideA
	}
	for id, n := range m.nodes {
		if n.Kind == KindAbVolumePair {
			m.targetSides[id] = target
		}
	}
}

// TargetDevice returns the device id of the target-side member of the
// A/B pair identified by pairID.
func (m *Model) TargetDevice(pairID string) (string, error) {
	n, err := m.Resolve(pairID)
	if err != nil {
		return "", err
	}
	if n.Kind != KindAbVolumePair {
		return "", violation(pairID, "ab_volume_pair", "not an A/B volume pair")
	}
	side := m.targetSides[pairID]
	if side == status.SideB {
		return n.AbVolumePair.Members[1], nil
	}
	return n.AbVolumePair.Members[0], nil
}
