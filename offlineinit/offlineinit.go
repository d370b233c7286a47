// SPDX-License-Identifier: LGPL-3.0-or-later

// Package offlineinit implements offline-initialize (spec §6): seeding
// a Host Status for a host that an external tool, not this engine,
// already installed. It never touches block devices or the target
// root; it only writes the datastore record a normal servicing run
// would have left behind, so later apply/commit calls have something
// to compare against.
package offlineinit

import (
	"time"

	"hostagent/datastore"
	"hostagent/hostconfig"
	"hostagent/status"
	"hostagent/svcerr"
)

// Params describes the externally-installed host being seeded.
type Params struct {
	// Configuration is recorded as the new Host Status's
	// AppliedConfiguration: the Host Configuration the external
	// installer is asserting it already applied.
	Configuration hostconfig.Config
	// ActiveVolume is the A/B side the external installer left
	// running, or status.SideNone for a non-A/B install.
	ActiveVolume status.Side
	// Force permits overwriting an existing Host Status. Without it,
	// Seed refuses when one is already present (spec §9 Open
	// Question, resolved in SPEC_FULL.md §4 item 3).
	Force bool
	// RollbackChainLimit bounds the rollback chain when Force
	// preserves the prior status as a rollback entry. ≤0 falls back
	// to status.DefaultRollbackChainLimit.
	RollbackChainLimit int
}

// Seed writes a freshly-seeded Host Status to store. If a Host Status
// already exists there, Seed refuses with a *svcerr.Error of kind
// validation unless Params.Force is set, in which case the prior
// value is kept, not discarded: it is appended to the new status's
// rollback chain as a RollbackKindRuntime entry before the new value
// is saved.
func Seed(store *datastore.Store, p Params) (*status.HostStatus, error) {
	existing, err := store.Load()
	if err != nil {
		return nil, &svcerr.Error{
			Kind:    svcerr.KindInternal,
			Message: "load existing host status: " + err.Error(),
		}
	}
	if existing != nil && !p.Force {
		return nil, &svcerr.Error{
			Kind:    svcerr.KindValidation,
			Subkind: "offline-initialize-exists",
			Message: "a host status already exists at the configured datastore path; rerun with --force to overwrite it",
		}
	}

	cfg := p.Configuration.Clone()
	hs := status.New()
	hs.AppliedConfiguration = &cfg
	hs.ServicingState = status.StateProvisioned
	hs.ServicingType = status.TypeNone
	hs.ActiveVolume = p.ActiveVolume
	hs.UpdatedAt = time.Now()

	if existing != nil && p.Force {
		hs.RollbackChain = append([]status.RollbackEntry(nil), existing.RollbackChain...)
		if existing.AppliedConfiguration != nil {
			hs.AppendRollback(status.RollbackEntry{
				Kind:          status.RollbackKindRuntime,
				Configuration: existing.AppliedConfiguration.Clone(),
				CommittedAt:   time.Now(),
			}, p.RollbackChainLimit)
		}
	}

	if err := store.Save(hs); err != nil {
		return nil, &svcerr.Error{
			Kind:    svcerr.KindInternal,
			Message: "save seeded host status: " + err.Error(),
		}
	}
	return hs, nil
}
