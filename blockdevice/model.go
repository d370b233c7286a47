// SPDX-License-Identifier: LGPL-3.0-or-later

// Package blockdevice builds and validates the in-memory device graph
// described by a Host Configuration: disks, partitions, RAID arrays,
// A/B volume pairs, encrypted volumes, filesystems, and verity pairs,
// related by referrer→referenced edges. Construction fails on the
// first invariant violation it finds (spec §4.2), unlike
// hostconfig.Validate which accumulates every violation in one pass.
package blockdevice

import (
	"fmt"

	"hostagent/hostconfig"
	"hostagent/status"
)

// Kind identifies the entity type of a node in the device graph.
type Kind string

const (
	KindDisk            Kind = "disk"
	KindPartition       Kind = "partition"
	KindRaidArray       Kind = "raid_array"
	KindAbVolumePair    Kind = "ab_volume_pair"
	KindEncryptedVolume Kind = "encrypted_volume"
	KindFilesystem      Kind = "filesystem"
	KindVerityPair      Kind = "verity_pair"
)

// Intent is the per-device action the executor will take on a node,
// computed after the target side is known.
type Intent string

const (
	IntentKept            Intent = "kept"
	IntentFormatted       Intent = "formatted"
	IntentWrittenWithImage Intent = "written-with-image"
	IntentLeftAlone       Intent = "left-alone"
)

// Node is one entity in the device graph.
type Node struct {
	Kind       Kind
	ID         string
	References []string // ids this node refers to (edges out)
	Intent     Intent

	Disk            *hostconfig.DiskConfig
	Partition       *hostconfig.PartitionConfig
	PartitionDiskID string
	RaidArray       *hostconfig.RaidArrayConfig
	AbVolumePair    *hostconfig.AbVolumePairConfig
	EncryptedVolume *hostconfig.EncryptedVolumeConfig
	Filesystem      *hostconfig.FilesystemConfig
	VerityPair      *hostconfig.VerityPairConfig
}

// Model is the validated device graph for one servicing run.
type Model struct {
	nodes       map[string]*Node
	referrers   map[string][]string // referenced id -> referrer ids
	targetSides map[string]status.Side
}

// Resolve returns the node for id, or an error if it doesn't exist.
func (m *Model) Resolve(id string) (*Node, error) {
	n, ok := m.nodes[id]
	if !ok {
		return nil, fmt.Errorf("resolve %q: no such device", id)
	}
	return n, nil
}

// ReferrersOf returns the ids that reference id.
func (m *Model) ReferrersOf(id string) []string {
	return append([]string(nil), m.referrers[id]...)
}

// TargetSideOf returns the target side for the A/B pair pairID, or
// status.SideNone if pairID is not an A/B pair id (a member device id
// also yields status.SideNone).
func (m *Model) TargetSideOf(pairID string) status.Side {
	return m.targetSides[pairID]
}

// violation builds the precise construction error spec §4.2 requires:
// referrer id, relation, reason.
func violation(referrerID, relation, reason string) error {
	return fmt.Errorf("validation: referrer %q (%s): %s", referrerID, relation, reason)
}

// DependencyOrder returns node ids ordered leaves-first (devices with
// no outgoing references first), suitable for create/format passes.
// Reverse it for teardown.
func (m *Model) DependencyOrder() ([]string, error) {
	visited := map[string]int{} // 0=unvisited,1=visiting,2=done
	var order []string

	var visit func(id string) error
	visit = func(id string) error {
		switch visited[id] {
		case 2:
			return nil
		case 1:
			return fmt.Errorf("internal: cycle detected at %q", id)
		}
		visited[id] = 1
		n, ok := m.nodes[id]
		if ok {
			for _, ref := range n.References {
				if err := visit(ref); err != nil {
					return err
				}
			}
		}
		visited[id] = 2
		order = append(order, id)
		return nil
	}

	for id := range m.nodes {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// AllNodes returns every node in the model, for iteration by
// subsystems that need to inspect the whole graph (e.g. computing
// per-device intent).
func (m *Model) AllNodes() []*Node {
	out := make([]*Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n)
	}
	return out
}

// IsOnTargetSide reports whether id is part of the A/B target side for
// this servicing run. A node with no A/B-pair ancestor (e.g. a fixed
// ESP partition shared by both sides) is always in scope.
func (m *Model) IsOnTargetSide(id string) bool {
	for _, referrer := range m.referrers[id] {
		parent, ok := m.nodes[referrer]
		if !ok {
			continue
		}
		if parent.Kind == KindAbVolumePair {
			target, err := m.TargetDevice(referrer)
			return err == nil && target == id
		}
	}
	return true
}

// SetIntent records the per-device intent tag computed by the storage
// subsystem once the target side and staged/unstaged plan is known.
func (m *Model) SetIntent(id string, intent Intent) error {
	n, ok := m.nodes[id]
	if !ok {
		return fmt.Errorf("set intent on %q: no such device", id)
	}
	n.Intent = intent
	return nil
}
