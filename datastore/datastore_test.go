// SPDX-License-Identifier: LGPL-3.0-or-later

package datastore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostagent/status"
)

func TestLoadBeforeAnySaveReturnsNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	hs, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, hs)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	want := status.New()
	want.ServicingState = status.StateStaged
	want.ServicingType = status.TypeCleanInstall
	require.NoError(t, s.Save(want))

	got, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, status.StateStaged, got.ServicingState)
	assert.Equal(t, status.TypeCleanInstall, got.ServicingType)
}

func TestOpenFailsWhenAlreadyLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.db")
	first, err := Open(path)
	require.NoError(t, err)
	defer first.Close()

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestSaveOverwritesPriorValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	first := status.New()
	first.ServicingState = status.StateStaging
	require.NoError(t, s.Save(first))

	second := status.New()
	second.ServicingState = status.StateProvisioned
	require.NoError(t, s.Save(second))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, status.StateProvisioned, got.ServicingState)
}
