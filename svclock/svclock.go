// SPDX-License-Identifier: LGPL-3.0-or-later

// Package svclock implements the servicing lock (spec §4.7): an
// advisory filesystem lock, independent of the datastore's process
// lock, held by the executor for the duration of a stage or finalize
// operation. At most one servicing runs at a time; a second attempt
// observes ErrBusy. The lock is released automatically by the kernel
// across a reboot, so no explicit cleanup is required after finalize
// enqueues one.
package svclock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrBusy is returned by Acquire when another process already holds
// the servicing lock.
var ErrBusy = errors.New("svclock: another servicing is in progress")

// Lock is a held or unheld servicing lock.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the servicing lock at path, creating parent
// directories as needed. It returns ErrBusy immediately rather than
// blocking, matching the executor's "fail fast, let the caller retry
// later" policy.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("svclock: create directory: %w", err)
	}

	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("svclock: acquire: %w", err)
	}
	if !ok {
		return nil, ErrBusy
	}
	return &Lock{fl: fl}, nil
}

// Release drops the servicing lock. It is safe to call on a Lock
// whose process is about to request a reboot; the kernel would
// release it anyway on process exit.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}
