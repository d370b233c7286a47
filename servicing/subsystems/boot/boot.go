// SPDX-License-Identifier: LGPL-3.0-or-later

// Package boot implements the Boot subsystem: bootloader configuration
// and UEFI boot-entry updates (spec §4.3 table, row 6). It spans both
// the stage pipeline (prepare-boot: write an entry for the target side
// without touching the default) and the finalize pipeline
// (set-default-boot-entry, finalize-bootloader, enqueue-reboot). As
// with Storage's DeviceOps, the UEFI variable store and bootloader
// configurator are modeled as the Ops capability rather than invoked
// directly, since the engine does not own bootctl/efibootmgr.
package boot

import (
	"context"

	"hostagent/servicing/subsystem"
	"hostagent/status"
	"hostagent/svcerr"
)

// Ops is the capability provider for UEFI boot-entry management,
// bootloader finalization, and reboot scheduling.
type Ops interface {
	// WriteBootEntry creates or updates the UEFI boot entry pointing
	// at side's root device, without altering the current default.
	WriteBootEntry(ctx context.Context, side status.Side, rootDevice string) error
	// SetNextBoot marks side as the next (one-shot if supported) or
	// default boot target.
	SetNextBoot(ctx context.Context, side status.Side) error
	// FinalizeBootloader commits any bootloader-level configuration
	// (e.g. grub.cfg regeneration) needed for side to boot correctly.
	FinalizeBootloader(ctx context.Context, side status.Side) error
	// EnqueueReboot schedules a reboot without waiting for it.
	EnqueueReboot(ctx context.Context) error
}

// Subsystem is the Boot subsystem.
type Subsystem struct {
	ops Ops
}

func New(ops Ops) *Subsystem {
	return &Subsystem{ops: ops}
}

func (s *Subsystem) Name() string { return "boot" }

// PrepareBoot writes a boot entry for the target side but does not
// change the default, so a crash before finalize leaves the active
// side bootable.
func (s *Subsystem) PrepareBoot(ctx context.Context, sc *subsystem.StepContext) error {
	rootDevice, err := targetRootDevice(sc)
	if err != nil {
		return svcerr.Wrap(svcerr.KindBoot, "target-root-device", "failed to resolve target root device", err)
	}
	if err := s.ops.WriteBootEntry(ctx, sc.TargetSide, rootDevice); err != nil {
		return svcerr.Wrap(svcerr.KindBoot, "write-entry", "failed to write boot entry", err)
	}
	return nil
}

// SetDefaultBootEntry is the first finalize step: it marks the target
// side as the next boot target.
func (s *Subsystem) SetDefaultBootEntry(ctx context.Context, sc *subsystem.StepContext) error {
	if err := s.ops.SetNextBoot(ctx, sc.TargetSide); err != nil {
		return svcerr.Wrap(svcerr.KindBoot, "set-next-boot", "failed to set next boot target", err)
	}
	return nil
}

// FinalizeBootloader commits bootloader-level configuration for the
// target side.
func (s *Subsystem) FinalizeBootloader(ctx context.Context, sc *subsystem.StepContext) error {
	if err := s.ops.FinalizeBootloader(ctx, sc.TargetSide); err != nil {
		return svcerr.Wrap(svcerr.KindBoot, "finalize-bootloader", "failed to finalize bootloader", err)
	}
	return nil
}

// EnqueueReboot schedules the reboot that commits this servicing run;
// the executor does not wait for it to occur.
func (s *Subsystem) EnqueueReboot(ctx context.Context, sc *subsystem.StepContext) error {
	if err := s.ops.EnqueueReboot(ctx); err != nil {
		return svcerr.Wrap(svcerr.KindBoot, "enqueue-reboot", "failed to enqueue reboot", err)
	}
	return nil
}

var _ subsystem.BootPreparer = (*Subsystem)(nil)
var _ subsystem.DefaultBootSetter = (*Subsystem)(nil)
var _ subsystem.BootloaderFinalizer = (*Subsystem)(nil)
var _ subsystem.RebootEnqueuer = (*Subsystem)(nil)
