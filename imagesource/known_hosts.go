// SPDX-License-Identifier: LGPL-3.0-or-later

package imagesource

import (
	"fmt"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

func knownHostsCallback(path string) (ssh.HostKeyCallback, error) {
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("imagesource: load known_hosts %q: %w", path, err)
	}
	return cb, nil
}
