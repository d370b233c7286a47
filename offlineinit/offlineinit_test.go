// SPDX-License-Identifier: LGPL-3.0-or-later

package offlineinit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostagent/datastore"
	"hostagent/hostconfig"
	"hostagent/status"
	"hostagent/svcerr"
)

func testConfig() hostconfig.Config {
	return hostconfig.Config{
		Disks: []hostconfig.DiskConfig{{ID: "disk0", Device: "/dev/sda", TableType: hostconfig.PartitionTableGPT}},
	}
}

func TestSeedOnEmptyDatastoreSucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.db")
	store, err := datastore.Open(path)
	require.NoError(t, err)
	defer store.Close()

	hs, err := Seed(store, Params{Configuration: testConfig(), ActiveVolume: status.SideA})
	require.NoError(t, err)
	assert.Equal(t, status.StateProvisioned, hs.ServicingState)
	assert.Equal(t, status.SideA, hs.ActiveVolume)
	assert.NotNil(t, hs.AppliedConfiguration)
	assert.Empty(t, hs.RollbackChain)

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, status.StateProvisioned, loaded.ServicingState)
}

func TestSeedRefusesWhenStatusExistsWithoutForce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.db")
	store, err := datastore.Open(path)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(status.New()))

	_, err = Seed(store, Params{Configuration: testConfig()})
	require.Error(t, err)
	var se *svcerr.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, svcerr.KindValidation, se.Kind)
}

func TestSeedWithForceOverwritesAndRecordsRollback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.db")
	store, err := datastore.Open(path)
	require.NoError(t, err)
	defer store.Close()

	prior := status.New()
	priorCfg := hostconfig.Config{Disks: []hostconfig.DiskConfig{{ID: "prior-disk", Device: "/dev/sdb"}}}
	prior.AppliedConfiguration = &priorCfg
	prior.ServicingState = status.StateProvisioned
	require.NoError(t, store.Save(prior))

	hs, err := Seed(store, Params{Configuration: testConfig(), Force: true})
	require.NoError(t, err)
	require.Len(t, hs.RollbackChain, 1)
	assert.Equal(t, status.RollbackKindRuntime, hs.RollbackChain[0].Kind)
	assert.Equal(t, "prior-disk", hs.RollbackChain[0].Configuration.Disks[0].ID)
}
