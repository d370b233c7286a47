// SPDX-License-Identifier: LGPL-3.0-or-later

// Package scripts implements the Scripts subsystem: post-configure
// hooks declared in Host Configuration, run inside the target root
// after OS configuration is applied (spec §4.3 table, row 5). Script
// execution is modeled as the Runner capability so tests never shell
// out; the production Runner chroots into the target root and invokes
// the script body with /bin/sh, mirroring how Storage and OSConfig
// treat their external tools as capability providers rather than
// direct dependencies.
package scripts

import (
	"context"
	"fmt"

	"hostagent/hostconfig"
	"hostagent/servicing/subsystem"
	"hostagent/servicing/subsystems/osconfig"
	"hostagent/svcerr"
)

// Runner executes one post-configure script's body inside rootPath and
// returns its combined output alongside any execution error. A
// non-zero exit is reported as an error by the Runner implementation
// (spec §7, kind "script").
type Runner interface {
	Run(ctx context.Context, rootPath string, script hostconfig.PostConfigureScript) (output string, err error)
}

// Subsystem is the Scripts subsystem.
type Subsystem struct {
	runner Runner
}

func New(runner Runner) *Subsystem {
	return &Subsystem{runner: runner}
}

func (s *Subsystem) Name() string { return "scripts" }

// RunPostConfigureScripts runs every configured script in declared
// order; the first failure is fatal and aborts the remaining scripts
// (spec §7's "script" error kind).
func (s *Subsystem) RunPostConfigureScripts(ctx context.Context, sc *subsystem.StepContext) error {
	if len(sc.Config.OS.PostConfigureScripts) == 0 {
		return nil
	}

	root, err := osconfig.TargetRoot(sc.Model)
	if err != nil {
		return svcerr.Wrap(svcerr.KindScript, "target-root", "failed to locate target root for script execution", err)
	}

	for _, script := range sc.Config.OS.PostConfigureScripts {
		output, err := s.runner.Run(ctx, root, script)
		if err != nil {
			return svcerr.Wrap(svcerr.KindScript, script.Name, fmt.Sprintf("post-configure script %q failed", script.Name), err).WithBody(output)
		}
	}
	return nil
}

// RuntimeSafe reports whether the newly-configured post-configure
// scripts can simply be re-run against the already-running host
// instead of requiring a reboot (spec §4.4 rule 2). Any script marked
// hostconfig.PostConfigureScript.RequiresReboot that is new or whose
// body changed forces a reboot; everything else is runtime-safe, since
// scripts run the same way whether staged or hot-patched.
func (s *Subsystem) RuntimeSafe(oldCfg, newCfg hostconfig.Config) (safe bool, needsReboot bool) {
	old := make(map[string]hostconfig.PostConfigureScript, len(oldCfg.OS.PostConfigureScripts))
	for _, sc := range oldCfg.OS.PostConfigureScripts {
		old[sc.Name] = sc
	}
	for _, sc := range newCfg.OS.PostConfigureScripts {
		if !sc.RequiresReboot {
			continue
		}
		if prev, ok := old[sc.Name]; !ok || prev.Body != sc.Body {
			return true, true
		}
	}
	return true, false
}

var _ subsystem.ScriptRunner = (*Subsystem)(nil)
var _ subsystem.RuntimeSafePredicate = (*Subsystem)(nil)
