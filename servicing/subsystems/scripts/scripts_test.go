// SPDX-License-Identifier: LGPL-3.0-or-later

package scripts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostagent/blockdevice"
	"hostagent/hostconfig"
	"hostagent/logger"
	"hostagent/servicing/subsystem"
	"hostagent/status"
)

type fakeRunner struct {
	ran     []string
	failOn  string
	failErr error
}

func (f *fakeRunner) Run(ctx context.Context, rootPath string, script hostconfig.PostConfigureScript) (string, error) {
	f.ran = append(f.ran, script.Name)
	if script.Name == f.failOn {
		return "script output", f.failErr
	}
	return "", nil
}

func buildModel(t *testing.T) *blockdevice.Model {
	t.Helper()
	cfg := &hostconfig.Config{
		Disks: []hostconfig.DiskConfig{{
			ID: "disk0", Device: "/dev/sda",
			Partitions: []hostconfig.PartitionConfig{{ID: "root", DiscoverableType: hostconfig.DiscoverableRoot, Size: "8589934592"}},
		}},
		Filesystems: []hostconfig.FilesystemConfig{
			{ID: "root-fs", Backing: "root", Type: hostconfig.FilesystemExt4,
				Source:     hostconfig.FilesystemSource{Kind: hostconfig.SourceCreate},
				MountPoint: &hostconfig.MountPointConfig{Path: "/mnt/target"}},
		},
	}
	m, err := blockdevice.Build(cfg, status.SideNone)
	require.NoError(t, err)
	return m
}

func TestRunPostConfigureScriptsRunsInOrder(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner)
	cfg := &hostconfig.Config{OS: hostconfig.OSConfig{PostConfigureScripts: []hostconfig.PostConfigureScript{
		{Name: "first", Body: "echo one"},
		{Name: "second", Body: "echo two"},
	}}}
	sc := &subsystem.StepContext{Log: logger.New("error"), Config: cfg, Model: buildModel(t)}

	require.NoError(t, s.RunPostConfigureScripts(context.Background(), sc))
	assert.Equal(t, []string{"first", "second"}, runner.ran)
}

func TestRunPostConfigureScriptsStopsOnFirstFailure(t *testing.T) {
	runner := &fakeRunner{failOn: "first", failErr: errors.New("exit status 1")}
	s := New(runner)
	cfg := &hostconfig.Config{OS: hostconfig.OSConfig{PostConfigureScripts: []hostconfig.PostConfigureScript{
		{Name: "first", Body: "exit 1"},
		{Name: "second", Body: "echo two"},
	}}}
	sc := &subsystem.StepContext{Log: logger.New("error"), Config: cfg, Model: buildModel(t)}

	err := s.RunPostConfigureScripts(context.Background(), sc)
	assert.Error(t, err)
	assert.Equal(t, []string{"first"}, runner.ran)
}

func TestRunPostConfigureScriptsNoopWhenNoneConfigured(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner)
	sc := &subsystem.StepContext{Log: logger.New("error"), Config: &hostconfig.Config{}, Model: buildModel(t)}

	require.NoError(t, s.RunPostConfigureScripts(context.Background(), sc))
	assert.Empty(t, runner.ran)
}
