// SPDX-License-Identifier: LGPL-3.0-or-later

// Package imagesource abstracts the scheme behind an image URL into a
// duck-typed readable byte stream with a known length (spec §9,
// "duck-typed image sources"). file://, http://, and https:// are the
// schemes the specification names; this engine additionally accepts
// s3://, azblob://, gs://, alioss://, oci://, and sftp:// for
// provisioning environments that stage images in object storage or
// behind an SSH-reachable provisioning server.
package imagesource

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"hostagent/agentconfig"
)

// Source is a readable byte stream with a known total length, the
// capability the Image subsystem's write-images step consumes.
type Source interface {
	io.ReadCloser
	Len() int64
}

// Open resolves rawURL's scheme and returns a Source for it.
// Credentials for cloud/SFTP schemes come from cfg, never from the
// Host Configuration document itself.
func Open(ctx context.Context, rawURL string, cfg *agentconfig.Config) (Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("imagesource: parse url %q: %w", rawURL, err)
	}

	var src Source
	switch u.Scheme {
	case "file":
		src, err = openFile(u)
	case "http", "https":
		src, err = openHTTP(ctx, rawURL)
	case "s3":
		src, err = openS3(ctx, u, cfg)
	case "azblob":
		src, err = openAzblob(ctx, u, cfg)
	case "gs":
		src, err = openGS(ctx, u, cfg)
	case "alioss":
		src, err = openAlioss(ctx, u, cfg)
	case "oci":
		src, err = openOCI(ctx, u, cfg)
	case "sftp":
		src, err = openSFTP(ctx, u, cfg)
	default:
		return nil, fmt.Errorf("imagesource: unsupported scheme %q", u.Scheme)
	}
	if err != nil {
		return nil, err
	}

	var rateLimit int64
	if cfg != nil {
		rateLimit = cfg.DownloadRateLimitBytesPerSec
	}
	return throttle(ctx, src, rateLimit), nil
}
