// SPDX-License-Identifier: LGPL-3.0-or-later

package osconfig

import (
	"context"
	"fmt"

	"github.com/vishvananda/netlink"
)

// NetlinkInterfaceLister is the production InterfaceLister, backed by
// the host's netlink link list.
type NetlinkInterfaceLister struct{}

func (NetlinkInterfaceLister) InterfaceNames(ctx context.Context) ([]string, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("netlink link list: %w", err)
	}
	names := make([]string, 0, len(links))
	for _, l := range links {
		names = append(names, l.Attrs().Name)
	}
	return names, nil
}

var _ InterfaceLister = NetlinkInterfaceLister{}
