// SPDX-License-Identifier: LGPL-3.0-or-later

package osconfig

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"hostagent/hostconfig"
)

// FileOps is the production Ops implementation: it writes directly
// into files under rootPath and shells out to useradd/chpasswd-style
// tools for user management, the same way the Storage subsystem shells
// out to partitioning tools through its own capability interface.
type FileOps struct{}

func (FileOps) WriteNetplan(ctx context.Context, rootPath, netplanYAML string) error {
	dir := filepath.Join(rootPath, "etc", "netplan")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create netplan directory: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "50-hostagent.yaml"), []byte(netplanYAML), 0o644)
}

func (FileOps) CreateUser(ctx context.Context, rootPath string, user hostconfig.UserConfig) error {
	args := []string{"--root", rootPath, "--create-home"}
	if user.Sudoer {
		args = append(args, "--groups", "sudo")
	}
	args = append(args, user.Name)
	return exec.CommandContext(ctx, "useradd", args...).Run()
}

func (FileOps) WriteAuthorizedKeys(ctx context.Context, rootPath, username string, keys []string) error {
	dir := filepath.Join(rootPath, "home", username, ".ssh")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create .ssh directory: %w", err)
	}
	var content string
	for _, k := range keys {
		content += k
	}
	return os.WriteFile(filepath.Join(dir, "authorized_keys"), []byte(content), 0o600)
}

func (FileOps) EnableSysext(ctx context.Context, rootPath, name string) error {
	link := filepath.Join(rootPath, "etc", "extensions", name+".raw")
	target := filepath.Join("/usr/share/extensions", name+".raw")
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return fmt.Errorf("create extensions directory: %w", err)
	}
	_ = os.Remove(link)
	return os.Symlink(target, link)
}

func (FileOps) WriteAdditionalFile(ctx context.Context, rootPath string, file hostconfig.AdditionalFileConfig) error {
	dest := filepath.Join(rootPath, file.Path)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create parent directory for %s: %w", file.Path, err)
	}
	mode := os.FileMode(0o644)
	if file.Mode != "" {
		if parsed, err := strconv.ParseUint(file.Mode, 8, 32); err == nil {
			mode = os.FileMode(parsed)
		}
	}
	return os.WriteFile(dest, []byte(file.Content), mode)
}

var _ Ops = FileOps{}
