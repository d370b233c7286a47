// SPDX-License-Identifier: LGPL-3.0-or-later

// Package status defines Host Status, the durable record of what the
// engine has actually applied to a host: the last configuration it
// serviced, the state machine position, the active A/B side, resolved
// device identities, the rollback chain, and the last fatal error.
// Host Status is the sole value persisted by package datastore and the
// sole input the boot-commit supervisor reads.
package status

import (
	"time"

	"hostagent/hostconfig"
)

// ServicingState is the position of a servicing run in its lifecycle.
type ServicingState string

const (
	StateNotProvisioned   ServicingState = "not-provisioned"
	StateStaging          ServicingState = "staging"
	StateStaged           ServicingState = "staged"
	StateFinalizing       ServicingState = "finalizing"
	StateFinalized        ServicingState = "finalized"
	StateProvisioned      ServicingState = "provisioned"
	StateCleanInstallFailed ServicingState = "clean-install-failed"
	StateABUpdateFailed    ServicingState = "ab-update-failed"
)

// ServicingType is the classification the planner assigns to a run.
type ServicingType string

const (
	TypeCleanInstall    ServicingType = "clean-install"
	TypeABUpdate        ServicingType = "ab-update"
	TypeHotPatch        ServicingType = "hot-patch"
	TypeNormalUpdate    ServicingType = "normal-update"
	TypeUpdateAndReboot ServicingType = "update-and-reboot"
	TypeNone            ServicingType = "no-active-servicing"
)

// Side is an A/B pair member selector.
type Side string

const (
	SideA    Side = "a"
	SideNone Side = ""
	SideB    Side = "b"
)

// Other returns the opposite side; SideNone maps to SideNone.
func (s Side) Other() Side {
	switch s {
	case SideA:
		return SideB
	case SideB:
		return SideA
	default:
		return SideNone
	}
}

// RollbackKind distinguishes an A/B commit record from a runtime
// (hot-patch/normal-update) commit record in the rollback chain.
type RollbackKind string

const (
	RollbackKindAB      RollbackKind = "ab"
	RollbackKindRuntime RollbackKind = "runtime"
)

// RollbackEntry is one previously-applied configuration retained for
// diagnostic and potential rollback purposes.
type RollbackEntry struct {
	Kind          RollbackKind      `json:"kind"`
	Configuration hostconfig.Config `json:"configuration"`
	CommittedAt   time.Time         `json:"committed_at"`
}

// LastError is the most recent fatal error recorded by the engine.
type LastError struct {
	Kind    string `json:"kind"`
	Subkind string `json:"subkind,omitempty"`
	Message string `json:"message"`
}

// ResolvedDevices captures device identities fixed at install time so
// later servicing runs and the commit supervisor can address the same
// physical devices regardless of enumeration order.
type ResolvedDevices struct {
	PartitionPARTUUIDs map[string]string `json:"partition_partuuids,omitempty"`
	RaidDevicePaths    map[string]string `json:"raid_device_paths,omitempty"`
	FilesystemUUIDs    map[string]string `json:"filesystem_uuids,omitempty"`
}

// DefaultRollbackChainLimit is the bound applied when
// agentconfig.Config.RollbackChainLimit is unset. See SPEC_FULL §4.2.
const DefaultRollbackChainLimit = 10

// HostStatus is the complete persisted state of the engine for a host.
type HostStatus struct {
	AppliedConfiguration *hostconfig.Config `json:"applied_configuration,omitempty"`
	// PendingConfiguration is the configuration an in-flight clean-install
	// or A/B update is staging/finalizing toward. It is promoted to
	// AppliedConfiguration (and cleared) only by the boot-commit
	// supervisor's verdict that the target side actually booted; it is
	// not touched by hot-patch/normal-update, which take effect
	// immediately and update AppliedConfiguration directly.
	PendingConfiguration *hostconfig.Config `json:"pending_configuration,omitempty"`
	ServicingState        ServicingState  `json:"servicing_state"`
	ServicingType         ServicingType   `json:"servicing_type"`
	ActiveVolume          Side            `json:"active_volume"`
	TargetVolume          Side            `json:"target_volume,omitempty"`
	Resolved              ResolvedDevices `json:"resolved,omitempty"`
	RollbackChain         []RollbackEntry `json:"rollback_chain,omitempty"`
	LastError             *LastError      `json:"last_error,omitempty"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// New returns the initial Host Status for a never-serviced host.
func New() *HostStatus {
	return &HostStatus{
		ServicingState: StateNotProvisioned,
		ServicingType:  TypeNone,
		ActiveVolume:   SideNone,
	}
}

// AppendRollback appends entry to the chain, truncating the oldest
// entries beyond limit. A limit ≤ 0 falls back to
// DefaultRollbackChainLimit.
func (s *HostStatus) AppendRollback(entry RollbackEntry, limit int) {
	if limit <= 0 {
		limit = DefaultRollbackChainLimit
	}
	s.RollbackChain = append(s.RollbackChain, entry)
	if len(s.RollbackChain) > limit {
		s.RollbackChain = s.RollbackChain[len(s.RollbackChain)-limit:]
	}
}

// Clone returns a deep copy so callers holding a manager's lock can
// hand out a value safely readable after the lock is released.
func (s *HostStatus) Clone() *HostStatus {
	if s == nil {
		return nil
	}
	out := *s
	if s.AppliedConfiguration != nil {
		cfg := s.AppliedConfiguration.Clone()
		out.AppliedConfiguration = &cfg
	}
	if s.PendingConfiguration != nil {
		cfg := s.PendingConfiguration.Clone()
		out.PendingConfiguration = &cfg
	}
	if s.LastError != nil {
		le := *s.LastError
		out.LastError = &le
	}
	out.Resolved = ResolvedDevices{
		PartitionPARTUUIDs: cloneMap(s.Resolved.PartitionPARTUUIDs),
		RaidDevicePaths:    cloneMap(s.Resolved.RaidDevicePaths),
		FilesystemUUIDs:    cloneMap(s.Resolved.FilesystemUUIDs),
	}
	out.RollbackChain = append([]RollbackEntry(nil), s.RollbackChain...)
	return &out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
