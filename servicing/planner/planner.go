// SPDX-License-Identifier: LGPL-3.0-or-later

// Package planner implements the Servicing Planner (spec §4.4):
// classifying a requested Host Configuration against Host Status into
// a servicing plan — servicing type, target A/B side, and the step
// sequence to run for stage and finalize.
package planner

import (
	"reflect"

	"hostagent/hostconfig"
	"hostagent/servicing/subsystem"
	"hostagent/status"
	"hostagent/svcerr"
)

// Plan is the planner's output. The block-device model itself is
// built separately by the executor once TargetSide is known, since
// blockdevice.Build needs the active side as an input rather than
// producing it.
type Plan struct {
	ServicingType status.ServicingType
	TargetSide    status.Side
	StageSteps    []subsystem.Step
	FinalizeSteps []subsystem.Step
}

// runtimeSafeEqualExceptSafeFields reports whether a and b are equal
// once the fields the planner itself knows are runtime-safe in the
// absence of any subsystem opinion (netplan, users, sysexts,
// additional files, post-configure scripts) are ignored: a change
// confined to these alone never requires new content on a block
// device. Subsystems implementing
// subsystem.RuntimeSafePredicate can still force a reboot for a
// specific change within these fields (spec §4.4 rule 2).
func runtimeSafeEqualExceptSafeFields(a, b hostconfig.Config) bool {
	a.OS.Netplan = ""
	b.OS.Netplan = ""
	a.OS.Users = nil
	b.OS.Users = nil
	a.OS.Sysexts = nil
	b.OS.Sysexts = nil
	a.OS.AdditionalFiles = nil
	b.OS.AdditionalFiles = nil
	a.OS.PostConfigureScripts = nil
	b.OS.PostConfigureScripts = nil
	return reflect.DeepEqual(a, b)
}

// changesBlockDeviceContent reports whether newCfg requires writing
// new content to any block device backed by an A/B pair relative to
// oldCfg: a different disk/partition/raid/filesystem/verity layout, or
// a different image source for an existing filesystem.
func changesBlockDeviceContent(oldCfg, newCfg hostconfig.Config) bool {
	return !reflect.DeepEqual(oldCfg.Disks, newCfg.Disks) ||
		!reflect.DeepEqual(oldCfg.RaidArrays, newCfg.RaidArrays) ||
		!reflect.DeepEqual(oldCfg.AbVolumePairs, newCfg.AbVolumePairs) ||
		!reflect.DeepEqual(oldCfg.EncryptedVolumes, newCfg.EncryptedVolumes) ||
		!reflect.DeepEqual(oldCfg.Filesystems, newCfg.Filesystems) ||
		!reflect.DeepEqual(oldCfg.VerityPairs, newCfg.VerityPairs) ||
		!reflect.DeepEqual(oldCfg.Images, newCfg.Images)
}

// Plan classifies newCfg against hs and the requested operations,
// applying the first-match classification rules of spec §4.4.
// subsystems is consulted, in pipeline order, for any
// subsystem.RuntimeSafePredicate opinion on whether this specific
// change can be applied without a new block-device write or a reboot.
func Plan(hs *status.HostStatus, newCfg hostconfig.Config, requested []hostconfig.Operation, subsystems []subsystem.Subsystem) (*Plan, error) {
	if hs.ServicingState == status.StateNotProvisioned {
		return planCleanInstall(newCfg, requested)
	}

	if hs.AppliedConfiguration == nil {
		return nil, svcerr.New(svcerr.KindValidation, "missing-applied-configuration", "host status has no applied configuration to diff against")
	}
	oldCfg := *hs.AppliedConfiguration

	if runtimeSafeEqualExceptSafeFields(oldCfg, newCfg) {
		safe, needsReboot := evaluateRuntimeSafety(oldCfg, newCfg, subsystems)
		if safe && !needsReboot {
			return planHotPatch(newCfg, requested)
		}
		if needsReboot {
			return planUpdateAndReboot(hs, newCfg, requested)
		}
		return planNormalUpdate(newCfg, requested)
	}

	if changesBlockDeviceContent(oldCfg, newCfg) {
		return planABUpdate(hs, newCfg, requested)
	}

	return nil, svcerr.New(svcerr.KindValidation, "incompatible-configuration",
		"host configuration change is incompatible with the applied configuration and is not expressible as an A/B update")
}

// evaluateRuntimeSafety consults every subsystem.RuntimeSafePredicate
// in the pipeline; any subsystem voting unsafe or demanding a reboot
// wins (conservative: a subsystem with no opinion is treated as safe
// only by its absence from this loop, not by a default true).
func evaluateRuntimeSafety(oldCfg, newCfg hostconfig.Config, subsystems []subsystem.Subsystem) (safe bool, needsReboot bool) {
	safe = true
	for _, sub := range subsystems {
		pred, ok := sub.(subsystem.RuntimeSafePredicate)
		if !ok {
			continue
		}
		s, reboot := pred.RuntimeSafe(oldCfg, newCfg)
		if !s {
			safe = false
		}
		if reboot {
			needsReboot = true
		}
	}
	return safe, needsReboot
}

func planCleanInstall(cfg hostconfig.Config, requested []hostconfig.Operation) (*Plan, error) {
	stage, finalize, err := intersectOperations(requested, true, true)
	if err != nil {
		return nil, err
	}
	return &Plan{
		ServicingType: status.TypeCleanInstall,
		TargetSide:    status.SideNone,
		StageSteps:    stepsFor(stage, subsystem.StageSteps),
		FinalizeSteps: stepsFor(finalize, subsystem.FinalizeSteps),
	}, nil
}

func planABUpdate(hs *status.HostStatus, cfg hostconfig.Config, requested []hostconfig.Operation) (*Plan, error) {
	stage, finalize, err := intersectOperations(requested, true, true)
	if err != nil {
		return nil, err
	}
	return &Plan{
		ServicingType: status.TypeABUpdate,
		TargetSide:    hs.ActiveVolume.Other(),
		StageSteps:    stepsFor(stage, subsystem.StageSteps),
		FinalizeSteps: stepsFor(finalize, subsystem.FinalizeSteps),
	}, nil
}

func planHotPatch(cfg hostconfig.Config, requested []hostconfig.Operation) (*Plan, error) {
	stage, _, err := intersectOperations(requested, true, false)
	if err != nil {
		return nil, err
	}
	return &Plan{
		ServicingType: status.TypeHotPatch,
		StageSteps:    stepsFor(stage, []subsystem.Step{subsystem.StepValidate, subsystem.StepPlan, subsystem.StepConfigureOS, subsystem.StepRunPostConfigureScripts}),
	}, nil
}

func planNormalUpdate(cfg hostconfig.Config, requested []hostconfig.Operation) (*Plan, error) {
	stage, _, err := intersectOperations(requested, true, false)
	if err != nil {
		return nil, err
	}
	return &Plan{
		ServicingType: status.TypeNormalUpdate,
		StageSteps:    stepsFor(stage, []subsystem.Step{subsystem.StepValidate, subsystem.StepPlan, subsystem.StepConfigureOS, subsystem.StepRunPostConfigureScripts}),
	}, nil
}

func planUpdateAndReboot(hs *status.HostStatus, cfg hostconfig.Config, requested []hostconfig.Operation) (*Plan, error) {
	stage, finalize, err := intersectOperations(requested, true, true)
	if err != nil {
		return nil, err
	}
	return &Plan{
		ServicingType: status.TypeUpdateAndReboot,
		TargetSide:    hs.ActiveVolume,
		StageSteps:    stepsFor(stage, []subsystem.Step{subsystem.StepValidate, subsystem.StepPlan, subsystem.StepConfigureOS, subsystem.StepRunPostConfigureScripts}),
		FinalizeSteps: stepsFor(finalize, subsystem.FinalizeSteps),
	}, nil
}

// The restaging guard — rejecting a stage request against a
// *finalized* status, and permitting it against a *staged* one — is
// the executor's responsibility, not the planner's: it depends on
// which servicing is being requested, not on classification alone.

func intersectOperations(requested []hostconfig.Operation, stageNeeded, finalizeNeeded bool) (stage, finalize bool, err error) {
	requestedStage := containsOp(requested, hostconfig.OperationStage)
	requestedFinalize := containsOp(requested, hostconfig.OperationFinalize)
	if !requestedStage && !requestedFinalize {
		return false, false, svcerr.New(svcerr.KindValidation, "no-operations-requested", "allowed operations must include stage, finalize, or both")
	}
	return requestedStage && stageNeeded, requestedFinalize && finalizeNeeded, nil
}

func containsOp(ops []hostconfig.Operation, op hostconfig.Operation) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

func stepsFor(include bool, all []subsystem.Step) []subsystem.Step {
	if !include {
		return nil
	}
	return append([]subsystem.Step(nil), all...)
}
