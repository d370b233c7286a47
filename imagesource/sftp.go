// SPDX-License-Identifier: LGPL-3.0-or-later

package imagesource

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"hostagent/agentconfig"
)

// openSFTP resolves sftp://host[:port]/path against a key-authenticated
// SSH connection configured in cfg.SFTP. Provisioning environments
// that stage images behind a jump host or build server without object
// storage use this scheme.
func openSFTP(ctx context.Context, u *url.URL, cfg *agentconfig.Config) (Source, error) {
	if cfg == nil || cfg.SFTP == nil || cfg.SFTP.PrivateKeyPath == "" {
		return nil, fmt.Errorf("imagesource: sftp scheme requires sftp.private_key_path in agent config")
	}

	key, err := os.ReadFile(cfg.SFTP.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("imagesource: read sftp private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("imagesource: parse sftp private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.SFTP.KnownHostsPath != "" {
		cb, err := knownHostsCallback(cfg.SFTP.KnownHostsPath)
		if err != nil {
			return nil, err
		}
		hostKeyCallback = cb
	}

	addr := u.Host
	if u.Port() == "" {
		addr = u.Host + ":22"
	}

	sshConn, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            cfg.SFTP.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
	})
	if err != nil {
		return nil, fmt.Errorf("imagesource: ssh dial %s: %w", addr, err)
	}

	client, err := sftp.NewClient(sshConn)
	if err != nil {
		sshConn.Close()
		return nil, fmt.Errorf("imagesource: new sftp client: %w", err)
	}

	f, err := client.Open(u.Path)
	if err != nil {
		client.Close()
		sshConn.Close()
		return nil, fmt.Errorf("imagesource: open %s: %w", u.Path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		client.Close()
		sshConn.Close()
		return nil, fmt.Errorf("imagesource: stat %s: %w", u.Path, err)
	}

	return &sftpSource{f: f, client: client, conn: sshConn, size: fi.Size()}, nil
}

type sftpSource struct {
	f      *sftp.File
	client *sftp.Client
	conn   *ssh.Client
	size   int64
}

func (s *sftpSource) Read(p []byte) (int, error) { return s.f.Read(p) }
func (s *sftpSource) Len() int64                 { return s.size }
func (s *sftpSource) Close() error {
	err := s.f.Close()
	s.client.Close()
	s.conn.Close()
	return err
}
