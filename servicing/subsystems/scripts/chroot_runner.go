// SPDX-License-Identifier: LGPL-3.0-or-later

package scripts

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"hostagent/hostconfig"
)

// ChrootRunner is the production Runner: it invokes the script body
// through chroot(8) and /bin/sh -c inside the target root.
type ChrootRunner struct{}

func (ChrootRunner) Run(ctx context.Context, rootPath string, script hostconfig.PostConfigureScript) (string, error) {
	cmd := exec.CommandContext(ctx, "chroot", rootPath, "/bin/sh", "-c", script.Body)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("chroot %s /bin/sh -c: %w", rootPath, err)
	}
	return out.String(), nil
}

var _ Runner = ChrootRunner{}
