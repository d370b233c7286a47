// SPDX-License-Identifier: LGPL-3.0-or-later

package boot

import (
	"fmt"

	"hostagent/blockdevice"
	"hostagent/hostconfig"
	"hostagent/servicing/subsystem"
)

// targetRootDevice finds the root or root-verity partition backing
// the target side's root filesystem and resolves it to a stable
// PARTUUID recorded by the Storage subsystem during create-storage.
// Falls back to the bare partition id when no resolution is recorded
// yet (e.g. a dry validation run).
func targetRootDevice(sc *subsystem.StepContext) (string, error) {
	partitionID, err := targetRootPartitionID(sc.Model)
	if err != nil {
		return "", err
	}
	if sc.HostStatus != nil {
		if partuuid, ok := sc.HostStatus.Resolved.PartitionPARTUUIDs[partitionID]; ok && partuuid != "" {
			return partuuid, nil
		}
	}
	return partitionID, nil
}

func targetRootPartitionID(m *blockdevice.Model) (string, error) {
	for _, n := range m.AllNodes() {
		if n.Kind != blockdevice.KindFilesystem {
			continue
		}
		if !m.IsOnTargetSide(n.ID) {
			continue
		}
		if id, ok := rootPartitionOf(m, n.ID); ok {
			return id, nil
		}
	}
	return "", fmt.Errorf("no root filesystem found on the target side")
}

func rootPartitionOf(m *blockdevice.Model, id string) (string, bool) {
	for {
		n, err := m.Resolve(id)
		if err != nil || len(n.References) == 0 {
			return "", false
		}
		if n.Kind == blockdevice.KindPartition {
			if n.Partition.DiscoverableType == hostconfig.DiscoverableRoot || n.Partition.DiscoverableType == hostconfig.DiscoverableRootVerity {
				return n.ID, true
			}
			return "", false
		}
		if n.Kind == blockdevice.KindAbVolumePair {
			target, err := m.TargetDevice(n.ID)
			if err != nil {
				return "", false
			}
			id = target
			continue
		}
		id = n.References[0]
	}
}
