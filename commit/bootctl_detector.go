// SPDX-License-Identifier: LGPL-3.0-or-later

package commit

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"

	"hostagent/status"
)

// bootedEntryPattern matches the boot entry identifier bootctl status
// reports for the currently booted entry, e.g. "side-a.conf". It
// mirrors the entry-token convention subsystems/boot's BootctlOps uses
// when writing boot entries ("side-" + status.Side).
var bootedEntryPattern = regexp.MustCompile(`(?m)^\s*Boot Loader Entry:\s*side-([ab])`)

// BootctlDetector is the production BootedSideDetector, parsing
// `bootctl status` output for the entry-token side label.
type BootctlDetector struct{}

func (BootctlDetector) BootedSide(ctx context.Context) (status.Side, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, "bootctl", "status")
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return status.SideNone, fmt.Errorf("bootctl status: %w", err)
	}

	m := bootedEntryPattern.FindSubmatch(out.Bytes())
	if m == nil {
		return status.SideNone, fmt.Errorf("could not find a side-a/side-b boot entry in bootctl status output")
	}
	switch string(m[1]) {
	case "a":
		return status.SideA, nil
	case "b":
		return status.SideB, nil
	default:
		return status.SideNone, fmt.Errorf("unrecognized boot entry side %q", string(m[1]))
	}
}

var _ BootedSideDetector = BootctlDetector{}
