// SPDX-License-Identifier: LGPL-3.0-or-later

// Package executor drives the stage/finalize step pipeline (spec
// §4.5): it acquires the servicing lock, classifies the request with
// package planner, builds the block-device model for the chosen
// target side, runs each step of the plan against the subsystem
// registry in order, and persists Host Status to the datastore
// between every step so a crash or a deliberate exit between stage
// and finalize leaves enough state on disk to resume.
package executor

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"hostagent/auditlog"
	"hostagent/blockdevice"
	"hostagent/datastore"
	"hostagent/hostconfig"
	"hostagent/logger"
	"hostagent/metricsserver"
	"hostagent/servicing/planner"
	"hostagent/servicing/subsystem"
	"hostagent/status"
	"hostagent/svcerr"
	"hostagent/svclock"
	"hostagent/tracing"
)

// RetryPolicy bounds the retry-with-backoff behavior applied to
// svcerr.Recoverable step failures (spec §5, "network image downloads
// use a bounded retry with exponential backoff").
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Executor sequences a single stage or finalize (or both, back to
// back, when the caller's allowed operations permit it) servicing run.
type Executor struct {
	Log      logger.Logger
	Registry *subsystem.Registry
	Store    *datastore.Store
	LockPath string
	Retry    RetryPolicy

	// Audit, when non-nil, receives one event per step and per run
	// outcome. It is optional: a nil Audit makes Run a pure Host
	// Status state machine with no side channel, which is all the
	// executor's own tests need.
	Audit *auditlog.Log

	// Tracer emits one span per run and one child span per step. A nil
	// Tracer falls back to the global otel tracer, which is a no-op
	// until a Provider has been installed, so this field needs no
	// default in tests that don't care about tracing.
	Tracer trace.Tracer
}

func (e *Executor) tracer() trace.Tracer {
	if e.Tracer != nil {
		return e.Tracer
	}
	return otel.Tracer("hostagent/servicing/executor")
}

// New builds an Executor. retry.MaxAttempts ≤ 0 disables retries
// (every recoverable error is treated as fatal on first failure).
func New(log logger.Logger, registry *subsystem.Registry, store *datastore.Store, lockPath string, retry RetryPolicy) *Executor {
	return &Executor{Log: log, Registry: registry, Store: store, LockPath: lockPath, Retry: retry}
}

func newServicingID() string {
	return uuid.NewString()
}

func (e *Executor) audit(servicingID, kind, step, detail string) {
	if e.Audit == nil {
		return
	}
	if err := e.Audit.Append(auditlog.Event{Timestamp: time.Now(), ServicingID: servicingID, Kind: kind, Step: step, Detail: detail}); err != nil {
		e.Log.Warn("failed to append audit log event", "error", err)
	}
}

// Run classifies cfg against the persisted Host Status and executes
// whichever of stage/finalize the classification and the caller's
// requested operations both permit. It returns the Host Status as it
// stood after the run, whether or not the run ultimately failed
// (a failed run's Host Status still carries the last error and the
// *-failed servicing state for the caller to inspect).
func (e *Executor) Run(ctx context.Context, cfg hostconfig.Config, requested []hostconfig.Operation) (*status.HostStatus, error) {
	lock, err := svclock.Acquire(e.LockPath)
	if err != nil {
		if err == svclock.ErrBusy {
			metricsserver.ServicingLockBusyTotal.Inc()
		}
		return nil, err
	}
	defer lock.Release()

	hs, err := e.Store.Load()
	if err != nil {
		return nil, err
	}
	if hs == nil {
		hs = status.New()
	}

	if hs.ServicingState == status.StateFinalized {
		return hs, svcerr.Validation("a finalized servicing is awaiting the boot-commit supervisor's verdict; restaging is not permitted until it settles")
	}

	plan, err := planner.Plan(hs, cfg, requested, e.Registry.Forward())
	if err != nil {
		return hs, err
	}

	hs.ServicingType = plan.ServicingType
	if plan.TargetSide != status.SideNone {
		hs.TargetVolume = plan.TargetSide
	} else if plan.ServicingType == status.TypeCleanInstall {
		// A clean install writes side A of every A/B pair (see
		// blockdevice.Build), so side A is the one commit expects to boot.
		hs.TargetVolume = status.SideA
	}

	model, err := blockdevice.Build(&cfg, hs.ActiveVolume)
	if err != nil {
		return hs, svcerr.Wrap(svcerr.KindValidation, "block-device-model", "failed to build block-device model", err)
	}

	servicingID := newServicingID()
	e.audit(servicingID, "run-started", "", string(plan.ServicingType))

	ctx, span := tracing.TraceServicingRun(ctx, e.tracer(), servicingID, string(plan.ServicingType))
	defer span.End()

	if len(plan.StageSteps) > 0 {
		if err := e.runStage(ctx, servicingID, hs, &cfg, model, plan); err != nil {
			metricsserver.ServicingRunsTotal.WithLabelValues(string(plan.ServicingType), "failed").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return hs, err
		}
	}

	if len(plan.FinalizeSteps) > 0 {
		if err := e.runFinalize(ctx, servicingID, hs, &cfg, model, plan); err != nil {
			metricsserver.ServicingRunsTotal.WithLabelValues(string(plan.ServicingType), "failed").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return hs, err
		}
	}

	metricsserver.ServicingRunsTotal.WithLabelValues(string(plan.ServicingType), "succeeded").Inc()
	e.audit(servicingID, "run-finished", "", string(hs.ServicingState))
	span.SetStatus(codes.Ok, "")
	return hs, nil
}

func (e *Executor) runStage(ctx context.Context, servicingID string, hs *status.HostStatus, cfg *hostconfig.Config, model *blockdevice.Model, plan *planner.Plan) error {
	hs.ServicingState = status.StateStaging
	if err := e.Store.Save(hs); err != nil {
		return err
	}

	sc := &subsystem.StepContext{Log: e.Log, Config: cfg, Model: model, HostStatus: hs, ServicingType: plan.ServicingType, TargetSide: plan.TargetSide}

	for _, step := range plan.StageSteps {
		if err := e.runStep(ctx, step, sc); err != nil {
			e.audit(servicingID, "step-failed", string(step), err.Error())
			return e.abort(hs, failedStateFor(plan.ServicingType), err)
		}
		e.audit(servicingID, "step-finished", string(step), "")
		if err := e.Store.Save(hs); err != nil {
			return err
		}
	}

	switch plan.ServicingType {
	case status.TypeHotPatch, status.TypeNormalUpdate:
		// No finalize/reboot step for these classifications: the
		// change already took effect in place.
		hs.ServicingState = status.StateProvisioned
		hs.AppliedConfiguration = cfgCopy(cfg)
	default:
		hs.ServicingState = status.StateStaged
		hs.PendingConfiguration = cfgCopy(cfg)
	}
	return e.Store.Save(hs)
}

func (e *Executor) runFinalize(ctx context.Context, servicingID string, hs *status.HostStatus, cfg *hostconfig.Config, model *blockdevice.Model, plan *planner.Plan) error {
	hs.ServicingState = status.StateFinalizing
	if err := e.Store.Save(hs); err != nil {
		return err
	}

	sc := &subsystem.StepContext{Log: e.Log, Config: cfg, Model: model, HostStatus: hs, ServicingType: plan.ServicingType, TargetSide: plan.TargetSide}

	for _, step := range plan.FinalizeSteps {
		if err := e.runStep(ctx, step, sc); err != nil {
			e.audit(servicingID, "step-failed", string(step), err.Error())
			return e.abort(hs, failedStateFor(plan.ServicingType), err)
		}
		e.audit(servicingID, "step-finished", string(step), "")
		if step != subsystem.StepEnqueueReboot {
			if err := e.Store.Save(hs); err != nil {
				return err
			}
		}
	}

	hs.ServicingState = status.StateFinalized
	if err := e.Store.Save(hs); err != nil {
		return err
	}
	// EnqueueReboot has already been run above; status is saved as
	// finalized immediately before it takes effect, per spec §4.5. The
	// boot-commit supervisor decides the eventual outcome.
	return nil
}

func (e *Executor) abort(hs *status.HostStatus, failedState status.ServicingState, cause error) error {
	hs.ServicingState = failedState
	hs.LastError = lastErrorFrom(cause)
	if saveErr := e.Store.Save(hs); saveErr != nil {
		e.Log.Error("failed to persist host status after fatal step error", "save_error", saveErr, "cause", cause)
	}
	return cause
}

// runStep dispatches step to whichever narrow interface the
// registry's subsystems implement, retrying svcerr.Recoverable
// failures with exponential backoff up to e.Retry.MaxAttempts before
// surfacing the last error as fatal.
// runStep dispatches step to the registry and retries a
// svcerr.Recoverable failure with exponential backoff, bounded by
// Retry.MaxAttempts. Backoff scheduling itself is delegated to
// cenkalti/backoff/v4, the same way the rest of the engine prefers a
// pack library over a hand-rolled loop for a concern the ecosystem
// already covers well.
func (e *Executor) runStep(ctx context.Context, step subsystem.Step, sc *subsystem.StepContext) error {
	start := time.Now()
	defer func() { metricsserver.StepDuration.WithLabelValues(string(step)).Observe(time.Since(start).Seconds()) }()

	subsystems := e.Registry.Forward()
	if step == subsystem.StepPreClean {
		subsystems = e.Registry.Reverse()
	}

	attempts := e.Retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	base := e.Retry.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.MaxInterval = e.Retry.MaxDelay
	bo.MaxElapsedTime = 0
	bounded := backoff.WithMaxRetries(bo, uint64(attempts-1))

	attempt := 0
	operation := func() error {
		attempt++
		stepCtx, span := tracing.TraceStep(ctx, e.tracer(), string(step), subsystemNames(subsystems), attempt)
		err := e.runStepOnce(stepCtx, step, sc, subsystems)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()

		if err == nil {
			return nil
		}
		if !svcerr.IsRecoverable(err) {
			return backoff.Permanent(err)
		}
		e.Log.Warn("step failed, retrying", "step", string(step), "attempt", attempt, "error", err)
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(bounded, ctx))
}

// subsystemNames joins the registry's subsystem names for a step's
// span attributes, so a trace shows which subsystems participated
// without needing a child span per subsystem on top of per step.
func subsystemNames(subsystems []subsystem.Subsystem) string {
	names := make([]string, 0, len(subsystems))
	for _, s := range subsystems {
		names = append(names, s.Name())
	}
	joined := ""
	for i, n := range names {
		if i > 0 {
			joined += ","
		}
		joined += n
	}
	return joined
}

func (e *Executor) runStepOnce(ctx context.Context, step subsystem.Step, sc *subsystem.StepContext, subsystems []subsystem.Subsystem) error {
	for _, sub := range subsystems {
		var err error
		switch step {
		case subsystem.StepValidate:
			if v, ok := sub.(subsystem.Validator); ok {
				err = v.Validate(ctx, sc)
			}
		case subsystem.StepPlan:
			if v, ok := sub.(subsystem.Planner); ok {
				err = v.Plan(ctx, sc)
			}
		case subsystem.StepPreClean:
			if v, ok := sub.(subsystem.PreCleaner); ok {
				err = v.PreClean(ctx, sc)
			}
		case subsystem.StepCreateStorage:
			if v, ok := sub.(subsystem.StorageCreator); ok {
				err = v.CreateStorage(ctx, sc)
			}
		case subsystem.StepWriteImages:
			if v, ok := sub.(subsystem.ImageWriter); ok {
				err = v.WriteImages(ctx, sc)
			}
		case subsystem.StepConfigureOS:
			if v, ok := sub.(subsystem.OSConfigurer); ok {
				err = v.ConfigureOS(ctx, sc)
			}
		case subsystem.StepRunPostConfigureScripts:
			if v, ok := sub.(subsystem.ScriptRunner); ok {
				err = v.RunPostConfigureScripts(ctx, sc)
			}
		case subsystem.StepPrepareBoot:
			if v, ok := sub.(subsystem.BootPreparer); ok {
				err = v.PrepareBoot(ctx, sc)
			}
		case subsystem.StepSetDefaultBootEntry:
			if v, ok := sub.(subsystem.DefaultBootSetter); ok {
				err = v.SetDefaultBootEntry(ctx, sc)
			}
		case subsystem.StepFinalizeBootloader:
			if v, ok := sub.(subsystem.BootloaderFinalizer); ok {
				err = v.FinalizeBootloader(ctx, sc)
			}
		case subsystem.StepEnqueueReboot:
			if v, ok := sub.(subsystem.RebootEnqueuer); ok {
				err = v.EnqueueReboot(ctx, sc)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// failedStateFor maps a servicing type to one of the two failure
// states spec §3 defines. Only a clean-install failure (the host has
// no prior applied configuration to fall back to) gets its own state;
// every other classification is serviced against an already-running
// host, so a fatal failure leaves that host in the same boat as a
// failed A/B update — recorded, but with the active side untouched.
func failedStateFor(t status.ServicingType) status.ServicingState {
	if t == status.TypeCleanInstall {
		return status.StateCleanInstallFailed
	}
	return status.StateABUpdateFailed
}

func lastErrorFrom(err error) *status.LastError {
	if se, ok := err.(*svcerr.Error); ok {
		return &status.LastError{Kind: string(se.Kind), Subkind: se.Subkind, Message: se.Message}
	}
	return &status.LastError{Kind: string(svcerr.KindInternal), Message: err.Error()}
}

func cfgCopy(cfg *hostconfig.Config) *hostconfig.Config {
	c := cfg.Clone()
	return &c
}
