// SPDX-License-Identifier: LGPL-3.0-or-later

package imagesource

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"hostagent/agentconfig"
)

// openGS resolves gs://bucket/object into a streaming Source using the
// Google Cloud Storage client library's object reader, which already
// exposes an io.ReadCloser plus the object's size via Attrs.
func openGS(ctx context.Context, u *url.URL, cfg *agentconfig.Config) (Source, error) {
	bucket := u.Host
	object := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || object == "" {
		return nil, fmt.Errorf("imagesource: gs url %q must be gs://bucket/object", u.String())
	}

	var opts []option.ClientOption
	if cfg != nil && cfg.GCP != nil && cfg.GCP.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCP.CredentialsJSON))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("imagesource: new gcs client: %w", err)
	}

	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("imagesource: read gs://%s/%s: %w", bucket, object, err)
	}

	return &gsSource{client: client, r: r}, nil
}

// gsSource closes both the object reader and the client that owns it;
// the storage client is per-download rather than pooled since image
// downloads are infrequent, large, and long-lived.
type gsSource struct {
	client *storage.Client
	r      *storage.Reader
}

func (s *gsSource) Read(p []byte) (int, error) { return s.r.Read(p) }
func (s *gsSource) Len() int64                  { return s.r.Attrs.Size }
func (s *gsSource) Close() error {
	err := s.r.Close()
	if cerr := s.client.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
