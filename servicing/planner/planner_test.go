// SPDX-License-Identifier: LGPL-3.0-or-later

package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostagent/hostconfig"
	"hostagent/servicing/subsystem"
	"hostagent/status"
)

func stageAndFinalize() []hostconfig.Operation {
	return []hostconfig.Operation{hostconfig.OperationStage, hostconfig.OperationFinalize}
}

func TestPlanNotProvisionedYieldsCleanInstall(t *testing.T) {
	hs := status.New()
	plan, err := Plan(hs, hostconfig.Config{}, stageAndFinalize(), nil)
	require.NoError(t, err)
	assert.Equal(t, status.TypeCleanInstall, plan.ServicingType)
	assert.Equal(t, status.SideNone, plan.TargetSide)
	assert.NotEmpty(t, plan.StageSteps)
	assert.NotEmpty(t, plan.FinalizeSteps)
}

func TestPlanDiskLayoutChangeYieldsABUpdate(t *testing.T) {
	oldCfg := hostconfig.Config{Disks: []hostconfig.DiskConfig{{ID: "disk0", Device: "/dev/sda"}}}
	newCfg := hostconfig.Config{Disks: []hostconfig.DiskConfig{{ID: "disk0", Device: "/dev/sda", TableType: hostconfig.PartitionTableGPT}}}

	hs := status.New()
	hs.ServicingState = status.StateProvisioned
	hs.ActiveVolume = status.SideA
	hs.AppliedConfiguration = &oldCfg

	plan, err := Plan(hs, newCfg, stageAndFinalize(), nil)
	require.NoError(t, err)
	assert.Equal(t, status.TypeABUpdate, plan.ServicingType)
	assert.Equal(t, status.SideB, plan.TargetSide)
}

func TestPlanRuntimeSafeFieldsOnlyYieldsHotPatch(t *testing.T) {
	oldCfg := hostconfig.Config{OS: hostconfig.OSConfig{Netplan: "old"}}
	newCfg := hostconfig.Config{OS: hostconfig.OSConfig{Netplan: "new"}}

	hs := status.New()
	hs.ServicingState = status.StateProvisioned
	hs.AppliedConfiguration = &oldCfg

	plan, err := Plan(hs, newCfg, stageAndFinalize(), nil)
	require.NoError(t, err)
	assert.Equal(t, status.TypeHotPatch, plan.ServicingType)
}

type fakeRebootDemandingSubsystem struct{}

func (fakeRebootDemandingSubsystem) Name() string { return "fake" }
func (fakeRebootDemandingSubsystem) RuntimeSafe(oldCfg, newCfg hostconfig.Config) (bool, bool) {
	return true, true
}

func TestPlanSubsystemCanForceRebootOnRuntimeSafeField(t *testing.T) {
	oldCfg := hostconfig.Config{OS: hostconfig.OSConfig{Netplan: "old"}}
	newCfg := hostconfig.Config{OS: hostconfig.OSConfig{Netplan: "new"}}

	hs := status.New()
	hs.ServicingState = status.StateProvisioned
	hs.AppliedConfiguration = &oldCfg

	plan, err := Plan(hs, newCfg, stageAndFinalize(), []subsystem.Subsystem{fakeRebootDemandingSubsystem{}})
	require.NoError(t, err)
	assert.Equal(t, status.TypeUpdateAndReboot, plan.ServicingType)
}

func TestPlanRejectsUnclassifiableChangeWithNoAppliedConfiguration(t *testing.T) {
	hs := status.New()
	hs.ServicingState = status.StateProvisioned

	_, err := Plan(hs, hostconfig.Config{}, stageAndFinalize(), nil)
	assert.Error(t, err)
}

func TestPlanRejectsEmptyOperationSet(t *testing.T) {
	hs := status.New()
	_, err := Plan(hs, hostconfig.Config{}, nil, nil)
	assert.Error(t, err)
}
