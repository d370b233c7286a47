// SPDX-License-Identifier: LGPL-3.0-or-later

// Package subsystem defines the step-hook capability set the executor
// drives (spec §4.3): a fixed ordered list of subsystems, each
// implementing whatever subset of steps is relevant to it. A step a
// subsystem does not implement is a no-op for that subsystem, modeled
// here as the subsystem simply not satisfying the corresponding
// narrow interface rather than providing an explicit no-op method.
package subsystem

import (
	"context"

	"hostagent/blockdevice"
	"hostagent/hostconfig"
	"hostagent/logger"
	"hostagent/status"
)

// Step identifies one hook point in the stage/finalize pipeline.
type Step string

const (
	StepValidate                 Step = "validate"
	StepPlan                     Step = "plan"
	StepPreClean                 Step = "pre-clean"
	StepCreateStorage            Step = "create-storage"
	StepWriteImages              Step = "write-images"
	StepConfigureOS              Step = "configure-os"
	StepRunPostConfigureScripts  Step = "run-post-configure-scripts"
	StepPrepareBoot              Step = "prepare-boot"
	StepSetDefaultBootEntry      Step = "set-default-boot-entry"
	StepFinalizeBootloader       Step = "finalize-bootloader"
	StepEnqueueReboot            Step = "enqueue-reboot"
)

// StageSteps is the fixed step order for the stage operation.
var StageSteps = []Step{
	StepValidate,
	StepPlan,
	StepPreClean,
	StepCreateStorage,
	StepWriteImages,
	StepConfigureOS,
	StepRunPostConfigureScripts,
	StepPrepareBoot,
}

// FinalizeSteps is the fixed step order for the finalize operation.
var FinalizeSteps = []Step{
	StepSetDefaultBootEntry,
	StepFinalizeBootloader,
	StepEnqueueReboot,
}

// StepContext is passed to every subsystem hook. Model and HostStatus
// are mutated in place by subsystems that own the relevant fields; the
// executor is responsible for persisting HostStatus between steps.
type StepContext struct {
	Log           logger.Logger
	Config        *hostconfig.Config
	Model         *blockdevice.Model
	HostStatus    *status.HostStatus
	ServicingType status.ServicingType
	TargetSide    status.Side
}

// Subsystem is the minimal capability every pipeline member has; the
// per-step hooks are optional narrow interfaces a concrete subsystem
// additionally satisfies.
type Subsystem interface {
	Name() string
}

// Validator subsystems participate in the validate step.
type Validator interface {
	Validate(ctx context.Context, sc *StepContext) error
}

// Planner subsystems participate in the plan step.
type Planner interface {
	Plan(ctx context.Context, sc *StepContext) error
}

// PreCleaner subsystems participate in the pre-clean step.
type PreCleaner interface {
	PreClean(ctx context.Context, sc *StepContext) error
}

// StorageCreator subsystems participate in the create-storage step.
type StorageCreator interface {
	CreateStorage(ctx context.Context, sc *StepContext) error
}

// ImageWriter subsystems participate in the write-images step.
type ImageWriter interface {
	WriteImages(ctx context.Context, sc *StepContext) error
}

// OSConfigurer subsystems participate in the configure-os step.
type OSConfigurer interface {
	ConfigureOS(ctx context.Context, sc *StepContext) error
}

// ScriptRunner subsystems participate in the run-post-configure-scripts step.
type ScriptRunner interface {
	RunPostConfigureScripts(ctx context.Context, sc *StepContext) error
}

// BootPreparer subsystems participate in the prepare-boot step.
type BootPreparer interface {
	PrepareBoot(ctx context.Context, sc *StepContext) error
}

// DefaultBootSetter subsystems participate in the set-default-boot-entry step.
type DefaultBootSetter interface {
	SetDefaultBootEntry(ctx context.Context, sc *StepContext) error
}

// BootloaderFinalizer subsystems participate in the finalize-bootloader step.
type BootloaderFinalizer interface {
	FinalizeBootloader(ctx context.Context, sc *StepContext) error
}

// RebootEnqueuer subsystems participate in the enqueue-reboot step.
type RebootEnqueuer interface {
	EnqueueReboot(ctx context.Context, sc *StepContext) error
}

// RuntimeSafePredicate is published by subsystems whose changes can
// sometimes be applied without a reboot (OS config, Scripts). The
// planner consults every subsystem in pipeline order; a subsystem
// that changed anything and does not publish this predicate is
// conservatively treated as requiring at least normal-update.
type RuntimeSafePredicate interface {
	RuntimeSafe(oldCfg, newCfg hostconfig.Config) (safe bool, needsReboot bool)
}

// Registry is the fixed, ordered subsystem pipeline (spec §4.3 table).
type Registry struct {
	subsystems []Subsystem
}

// NewRegistry builds a Registry from subsystems in pipeline order.
// The order is a design constant: pre-flight, storage, image, OS
// config, scripts, boot.
func NewRegistry(subsystems ...Subsystem) *Registry {
	return &Registry{subsystems: subsystems}
}

// Forward returns subsystems in pipeline order, used for stage steps
// and finalize steps.
func (r *Registry) Forward() []Subsystem {
	return append([]Subsystem(nil), r.subsystems...)
}

// Reverse returns subsystems in reverse pipeline order, used for
// teardown-flavored steps such as pre-clean.
func (r *Registry) Reverse() []Subsystem {
	out := make([]Subsystem, len(r.subsystems))
	for i, s := range r.subsystems {
		out[len(r.subsystems)-1-i] = s
	}
	return out
}
