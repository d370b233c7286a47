// SPDX-License-Identifier: LGPL-3.0-or-later

// Package osconfig implements the OS config subsystem: netplan, users,
// SSH keys, sysexts, and additional files, applied inside the target
// root (spec §4.3 table, row 4). Writing into a chrooted or
// bind-mounted target root is modeled as the Ops capability, matching
// the pattern established by Storage's DeviceOps; the subsystem itself
// owns SSH public key validation and refuses to write netplan when the
// host reports no network interfaces.
package osconfig

import (
	"context"
	"fmt"

	"golang.org/x/crypto/ssh"

	"hostagent/blockdevice"
	"hostagent/hostconfig"
	"hostagent/servicing/subsystem"
	"hostagent/svcerr"
)

// Ops writes OS configuration artifacts into the target root at
// rootPath, which the subsystem resolves from the block-device model
// before calling any of these.
type Ops interface {
	WriteNetplan(ctx context.Context, rootPath, netplanYAML string) error
	CreateUser(ctx context.Context, rootPath string, user hostconfig.UserConfig) error
	WriteAuthorizedKeys(ctx context.Context, rootPath, username string, keys []string) error
	EnableSysext(ctx context.Context, rootPath, name string) error
	WriteAdditionalFile(ctx context.Context, rootPath string, file hostconfig.AdditionalFileConfig) error
}

// InterfaceLister enumerates the host's network interfaces so
// ConfigureOS can confirm the host has at least one before netplan is
// written into the target root.
type InterfaceLister interface {
	InterfaceNames(ctx context.Context) ([]string, error)
}

// Subsystem is the OS config subsystem.
type Subsystem struct {
	ops   Ops
	ifLister InterfaceLister
}

func New(ops Ops, ifLister InterfaceLister) *Subsystem {
	return &Subsystem{ops: ops, ifLister: ifLister}
}

func (s *Subsystem) Name() string { return "osconfig" }

// ConfigureOS applies every OS config field to the target root found
// in the block-device model.
func (s *Subsystem) ConfigureOS(ctx context.Context, sc *subsystem.StepContext) error {
	root, err := TargetRoot(sc.Model)
	if err != nil {
		return svcerr.Wrap(svcerr.KindOSConfig, "target-root", "failed to locate target root mount point", err)
	}

	if sc.Config.OS.Netplan != "" {
		if err := s.checkNetplanInterfaces(ctx, sc.Config.OS.Netplan); err != nil {
			return svcerr.Wrap(svcerr.KindOSConfig, "netplan-interfaces", "no host network interfaces to check netplan against", err)
		}
		if err := s.ops.WriteNetplan(ctx, root, sc.Config.OS.Netplan); err != nil {
			return svcerr.Wrap(svcerr.KindOSConfig, "netplan", "failed to write netplan", err)
		}
	}

	for _, user := range sc.Config.OS.Users {
		if err := s.ops.CreateUser(ctx, root, user); err != nil {
			return svcerr.Wrap(svcerr.KindOSConfig, "create-user", "failed to create user "+user.Name, err)
		}
		keys, err := validatedAuthorizedKeys(user.SSHKeys)
		if err != nil {
			return svcerr.Wrap(svcerr.KindOSConfig, "ssh-key", "invalid SSH key for user "+user.Name, err)
		}
		if len(keys) > 0 {
			if err := s.ops.WriteAuthorizedKeys(ctx, root, user.Name, keys); err != nil {
				return svcerr.Wrap(svcerr.KindOSConfig, "authorized-keys", "failed to write authorized_keys for "+user.Name, err)
			}
		}
	}

	for _, sysext := range sc.Config.OS.Sysexts {
		if err := s.ops.EnableSysext(ctx, root, sysext); err != nil {
			return svcerr.Wrap(svcerr.KindOSConfig, "sysext", "failed to enable sysext "+sysext, err)
		}
	}

	for _, f := range sc.Config.OS.AdditionalFiles {
		if err := s.ops.WriteAdditionalFile(ctx, root, f); err != nil {
			return svcerr.Wrap(svcerr.KindOSConfig, "additional-file", "failed to write "+f.Path, err)
		}
	}

	return nil
}

// checkNetplanInterfaces fails when the host's interfaces cannot be
// listed or the host reports none. It does not read netplanYAML: the
// interface names the netplan document references are not compared
// against the host's interfaces.
func (s *Subsystem) checkNetplanInterfaces(ctx context.Context, netplanYAML string) error {
	if s.ifLister == nil {
		return nil
	}
	names, err := s.ifLister.InterfaceNames(ctx)
	if err != nil {
		return fmt.Errorf("enumerate host interfaces: %w", err)
	}
	if len(names) == 0 {
		return fmt.Errorf("host reports no network interfaces to validate netplan against")
	}
	return nil
}

// validatedAuthorizedKeys parses each configured SSH key with
// ssh.ParseAuthorizedKey and returns the keys re-marshaled to the
// canonical authorized_keys line format, rejecting anything malformed
// before it reaches the target root.
func validatedAuthorizedKeys(configured []hostconfig.SSHKeyConfig) ([]string, error) {
	out := make([]string, 0, len(configured))
	for _, k := range configured {
		pub, comment, _, _, err := ssh.ParseAuthorizedKey([]byte(k.KeyData))
		if err != nil {
			return nil, fmt.Errorf("parse authorized key: %w", err)
		}
		line := string(ssh.MarshalAuthorizedKey(pub))
		if comment != "" {
			line = line[:len(line)-1] + " " + comment + "\n"
		}
		out = append(out, line)
	}
	return out, nil
}

// TargetRoot finds the filesystem backed (directly or through
// encryption/RAID) by the root or root-verity partition on the
// servicing target side, and returns its configured mount path — the
// absolute path the Storage subsystem mounted it at during
// create-storage.
func TargetRoot(m *blockdevice.Model) (string, error) {
	for _, n := range m.AllNodes() {
		if n.Kind != blockdevice.KindFilesystem {
			continue
		}
		if n.Filesystem.MountPoint == nil {
			continue
		}
		if !m.IsOnTargetSide(n.ID) {
			continue
		}
		if backsRoot(m, n.ID) {
			return n.Filesystem.MountPoint.Path, nil
		}
	}
	return "", fmt.Errorf("no filesystem backed by a root partition found on the target side")
}

// backsRoot walks id's reference chain down to the partition that
// ultimately backs it, answering whether that partition is discoverable
// as root or root-verity.
func backsRoot(m *blockdevice.Model, id string) bool {
	for {
		n, err := m.Resolve(id)
		if err != nil || len(n.References) == 0 {
			return false
		}
		if n.Kind == blockdevice.KindPartition {
			return n.Partition.DiscoverableType == hostconfig.DiscoverableRoot ||
				n.Partition.DiscoverableType == hostconfig.DiscoverableRootVerity
		}
		id = n.References[0]
	}
}

// RuntimeSafe reports whether the OS config fields changing between
// oldCfg and newCfg can be hot-patched into the running host (spec
// §4.4 rule 2). Netplan, user, and additional-file changes apply
// through networkd-reload/useradd/plain file writes and never need a
// reboot. Sysext changes are different: systemd-sysext re-merges the
// /usr overlay, and this engine does not trust an in-place re-merge
// underneath a running system, so any sysext addition or removal
// forces update-and-reboot instead of hot-patch.
func (s *Subsystem) RuntimeSafe(oldCfg, newCfg hostconfig.Config) (safe bool, needsReboot bool) {
	if !stringSlicesEqual(oldCfg.OS.Sysexts, newCfg.OS.Sysexts) {
		return true, true
	}
	return true, false
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var _ subsystem.OSConfigurer = (*Subsystem)(nil)
var _ subsystem.RuntimeSafePredicate = (*Subsystem)(nil)
