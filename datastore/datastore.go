// SPDX-License-Identifier: LGPL-3.0-or-later

// Package datastore is the engine's durable key/value persistence for
// Host Status: a single file at a configured path, guarded by an
// exclusive OS-level lock for the lifetime of the owning process, and
// replaced atomically on every save so a crash can never leave load
// returning a corrupt or partial value.
package datastore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"hostagent/status"
)

// ErrLocked is returned by Open when another process already holds
// the exclusive lock on the datastore file.
var ErrLocked = errors.New("datastore: locked by another process")

// Store is a process-exclusive handle on the Host Status file.
type Store struct {
	path string
	lock *flock.Flock
}

// Open acquires the exclusive lock on path and returns a Store. The
// file (and its containing directory) is created if absent. Open
// fails with ErrLocked if another process holds the lock.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("datastore: create directory: %w", err)
	}

	lockPath := path + ".lock"
	l := flock.New(lockPath)
	locked, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("datastore: acquire lock: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		l.Unlock()
		return nil, fmt.Errorf("datastore: open %s: %w", path, err)
	}
	f.Close()

	return &Store{path: path, lock: l}, nil
}

// Close releases the exclusive lock. It does not remove the
// underlying file.
func (s *Store) Close() error {
	return s.lock.Unlock()
}

// Load returns the persisted Host Status, or (nil, nil) if none has
// ever been saved.
func (s *Store) Load() (*status.HostStatus, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("datastore: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var hs status.HostStatus
	if err := json.Unmarshal(data, &hs); err != nil {
		return nil, fmt.Errorf("datastore: corrupt status file %s: %w", s.path, err)
	}
	return &hs, nil
}

// Save replaces the Host Status file atomically: marshal, write to a
// temp sibling file, fsync the temp file, rename over the live path,
// then fsync the containing directory. A crash at any point before
// the rename leaves the prior value readable by Load; a crash after
// the rename but before the directory fsync still leaves either the
// new or the prior value readable, never a partial write, because
// rename(2) itself is atomic within one filesystem.
func (s *Store) Save(hs *status.HostStatus) error {
	data, err := json.MarshalIndent(hs, "", "  ")
	if err != nil {
		return fmt.Errorf("datastore: marshal status: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("datastore: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("datastore: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("datastore: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("datastore: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("datastore: rename temp file: %w", err)
	}

	dirHandle, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("datastore: open directory for fsync: %w", err)
	}
	defer dirHandle.Close()
	if err := dirHandle.Sync(); err != nil {
		return fmt.Errorf("datastore: fsync directory: %w", err)
	}

	return nil
}
