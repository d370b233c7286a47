// SPDX-License-Identifier: LGPL-3.0-or-later

// Package commit implements the boot-commit supervisor (spec §4.6):
// the entry point run unconditionally on every boot, intended to be
// invoked by the OS init system. It reads Host Status and decides
// whether a finalized servicing actually committed (the host booted
// the target side it was aimed at) or rolled back (firmware booted
// the previous side instead).
package commit

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"hostagent/datastore"
	"hostagent/logger"
	"hostagent/metricsserver"
	"hostagent/status"
	"hostagent/svcerr"
	"hostagent/tracing"
)

// BootedSideDetector reports which A/B side the running kernel
// actually booted from, independent of anything Host Status claims.
type BootedSideDetector interface {
	BootedSide(ctx context.Context) (status.Side, error)
}

// Supervisor runs the boot-commit check.
type Supervisor struct {
	Log      logger.Logger
	Store    *datastore.Store
	Detector BootedSideDetector

	// Tracer emits one span per commit check. A nil Tracer falls back
	// to the global otel tracer, a no-op until a Provider is installed.
	Tracer trace.Tracer

	rollbackChainLimit int
}

func (s *Supervisor) tracer() trace.Tracer {
	if s.Tracer != nil {
		return s.Tracer
	}
	return otel.Tracer("hostagent/commit")
}

// New builds a Supervisor. rollbackChainLimit ≤ 0 falls back to
// status.DefaultRollbackChainLimit.
func New(log logger.Logger, store *datastore.Store, detector BootedSideDetector, rollbackChainLimit int) *Supervisor {
	return &Supervisor{Log: log, Store: store, Detector: detector, rollbackChainLimit: rollbackChainLimit}
}

// Run executes one commit check. It is idempotent: calling it again
// when Host Status is not in the finalized state is a no-op, so it is
// always safe for the init system to invoke unconditionally.
func (s *Supervisor) Run(ctx context.Context) (*status.HostStatus, error) {
	hs, err := s.Store.Load()
	if err != nil {
		return nil, err
	}
	if hs == nil || hs.ServicingState != status.StateFinalized {
		return hs, nil
	}

	ctx, span := tracing.TraceBootCommit(ctx, s.tracer(), string(hs.TargetVolume))
	defer span.End()

	bootedSide, err := s.Detector.BootedSide(ctx)
	if err != nil {
		wrapped := svcerr.Wrap(svcerr.KindBoot, "detect-booted-side", "failed to determine which side actually booted", err)
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())
		return hs, wrapped
	}

	if bootedSide == hs.TargetVolume {
		s.commit(hs, bootedSide)
		span.SetStatus(codes.Ok, "committed")
	} else {
		s.observeRollback(hs, bootedSide)
		span.SetStatus(codes.Error, "rollback observed")
	}

	return hs, s.Store.Save(hs)
}

// commit marks a finalized servicing as having actually taken effect:
// the pending configuration becomes the applied one, the rollback
// chain records it, and the host returns to steady-state provisioned.
func (s *Supervisor) commit(hs *status.HostStatus, bootedSide status.Side) {
	s.Log.Info("boot-commit: target side confirmed, committing", "side", bootedSide)

	if hs.PendingConfiguration != nil {
		hs.AppendRollback(status.RollbackEntry{
			Kind:          rollbackKindFor(hs.ServicingType),
			Configuration: *hs.PendingConfiguration,
			CommittedAt:   time.Now(),
		}, s.rollbackChainLimit)
		hs.AppliedConfiguration = hs.PendingConfiguration
		hs.PendingConfiguration = nil
	}
	hs.ServicingState = status.StateProvisioned
	hs.ActiveVolume = bootedSide
	hs.TargetVolume = status.SideNone
	hs.LastError = nil
}

// observeRollback records that firmware booted the previous side
// instead of the one this servicing targeted. This is non-fatal: the
// host remains operable on the side it actually booted, just not on
// the configuration this servicing intended.
func (s *Supervisor) observeRollback(hs *status.HostStatus, bootedSide status.Side) {
	s.Log.Warn("boot-commit: A/B rollback observed", "expected", hs.TargetVolume, "booted", bootedSide)
	metricsserver.ABRollbacksTotal.Inc()

	hs.ServicingState = status.StateABUpdateFailed
	hs.ActiveVolume = bootedSide
	hs.PendingConfiguration = nil
	hs.LastError = &status.LastError{
		Kind:    string(svcerr.KindABUpdateRebootCheck),
		Message: "host booted from " + string(bootedSide) + " instead of expected " + string(hs.TargetVolume),
	}
}

func rollbackKindFor(t status.ServicingType) status.RollbackKind {
	if t == status.TypeCleanInstall || t == status.TypeABUpdate {
		return status.RollbackKindAB
	}
	return status.RollbackKindRuntime
}
