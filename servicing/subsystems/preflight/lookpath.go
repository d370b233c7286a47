// SPDX-License-Identifier: LGPL-3.0-or-later

package preflight

import "os/exec"

func lookPath(name string) (string, error) {
	return exec.LookPath(name)
}
