// SPDX-License-Identifier: LGPL-3.0-or-later

package svcerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRecoverable(t *testing.T) {
	rec := Recoverablef(KindImage, "download", "connection reset", errors.New("dial tcp: timeout"))
	fatal := New(KindStorage, "mkfs", "mkfs.ext4 exited 1")

	assert.True(t, IsRecoverable(rec))
	assert.False(t, IsRecoverable(fatal))
	assert.False(t, IsRecoverable(errors.New("plain error")))
}

func TestErrorMessageIncludesSubkind(t *testing.T) {
	err := New(KindBoot, "efivars", "failed to write BootNext")
	assert.Equal(t, "boot: efivars: failed to write BootNext", err.Error())
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("device busy")
	wrapped := Wrap(KindStorage, "umount", "teardown failed", cause)

	assert.ErrorIs(t, wrapped, cause)
}

func TestIsRecoverableThroughFmtWrap(t *testing.T) {
	rec := Recoverablef(KindImage, "http", "503 from origin", nil)
	outer := fmt.Errorf("write-images step: %w", rec)

	assert.True(t, IsRecoverable(outer))
}
