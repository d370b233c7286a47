// SPDX-License-Identifier: LGPL-3.0-or-later

// Package preflight implements the Pre-flight subsystem: environment
// checks that must pass before any other subsystem touches a device
// (spec §4.3 table, row 1). Pre-flight errors are always classified
// svcerr.KindPreflight and never mutate Host Status.
package preflight

import (
	"context"
	"fmt"
	"os"

	"hostagent/servicing/subsystem"
	"hostagent/svcerr"
)

// EnvironmentChecker abstracts the host facts pre-flight needs so
// tests can substitute a fake without requiring root or a forbidden
// environment to exercise failure paths.
type EnvironmentChecker interface {
	IsRoot() bool
	ToolPaths(names []string) (found map[string]string, missing []string)
	InForbiddenEnvironment() (bool, string)
}

// OSEnvironmentChecker is the real EnvironmentChecker, backed by the
// OS (euid 0 check, PATH lookup, container-marker detection).
type OSEnvironmentChecker struct {
	LookPath func(name string) (string, error)
}

func NewOSEnvironmentChecker() *OSEnvironmentChecker {
	return &OSEnvironmentChecker{LookPath: lookPath}
}

func (c *OSEnvironmentChecker) IsRoot() bool {
	return os.Geteuid() == 0
}

func (c *OSEnvironmentChecker) ToolPaths(names []string) (map[string]string, []string) {
	found := map[string]string{}
	var missing []string
	for _, n := range names {
		if p, err := c.LookPath(n); err == nil {
			found[n] = p
		} else {
			missing = append(missing, n)
		}
	}
	return found, missing
}

func (c *OSEnvironmentChecker) InForbiddenEnvironment() (bool, string) {
	if _, err := os.Stat("/run/hostagent/forbid-servicing"); err == nil {
		return true, "forbid-servicing marker present"
	}
	return false, ""
}

// RequiredTools is the set of external tools the storage, image, and
// boot subsystems shell out to; pre-flight confirms they are all on
// PATH before any of them runs.
var RequiredTools = []string{
	"sgdisk", "mdadm", "cryptsetup", "mkfs.ext4", "mkfs.xfs", "mkfs.vfat", "mkswap", "veritysetup",
}

// Subsystem is the Pre-flight subsystem.
type Subsystem struct {
	checker EnvironmentChecker
}

func New(checker EnvironmentChecker) *Subsystem {
	return &Subsystem{checker: checker}
}

func (s *Subsystem) Name() string { return "preflight" }

func (s *Subsystem) Validate(ctx context.Context, sc *subsystem.StepContext) error {
	if !s.checker.IsRoot() {
		return svcerr.New(svcerr.KindPreflight, "privilege", "hostagentd must run as root")
	}

	if forbidden, reason := s.checker.InForbiddenEnvironment(); forbidden {
		return svcerr.New(svcerr.KindPreflight, "environment", fmt.Sprintf("refusing to service this host: %s", reason))
	}

	_, missing := s.checker.ToolPaths(RequiredTools)
	if len(missing) > 0 {
		return svcerr.New(svcerr.KindPreflight, "missing-tool", fmt.Sprintf("required tools not found on PATH: %v", missing))
	}

	sc.Log.Info("preflight checks passed")
	return nil
}

var _ subsystem.Subsystem = (*Subsystem)(nil)
var _ subsystem.Validator = (*Subsystem)(nil)
