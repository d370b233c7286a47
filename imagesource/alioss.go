// SPDX-License-Identifier: LGPL-3.0-or-later

package imagesource

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"hostagent/agentconfig"
)

// openAlioss resolves alioss://bucket/object against an Alibaba Cloud
// OSS bucket. The SDK's GetObject already returns an io.ReadCloser;
// size comes from a separate GetObjectMeta head-style call, the same
// two-request shape s3://'s HeadObject+GetObject pair uses.
func openAlioss(ctx context.Context, u *url.URL, cfg *agentconfig.Config) (Source, error) {
	bucketName := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucketName == "" || key == "" {
		return nil, fmt.Errorf("imagesource: alioss url %q must be alioss://bucket/object", u.String())
	}

	if cfg == nil || cfg.AlibabaCloud == nil || cfg.AlibabaCloud.Endpoint == "" {
		return nil, fmt.Errorf("imagesource: alioss scheme requires alibaba_cloud.endpoint in agent config")
	}
	creds := cfg.AlibabaCloud

	client, err := oss.New(creds.Endpoint, creds.AccessKeyID, creds.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("imagesource: new alibaba oss client: %w", err)
	}

	bucket, err := client.Bucket(bucketName)
	if err != nil {
		return nil, fmt.Errorf("imagesource: open oss bucket %s: %w", bucketName, err)
	}

	meta, err := bucket.GetObjectMeta(key)
	if err != nil {
		return nil, fmt.Errorf("imagesource: head alioss://%s/%s: %w", bucketName, key, err)
	}
	var size int64
	if _, err := fmt.Sscanf(meta.Get("Content-Length"), "%d", &size); err != nil {
		return nil, fmt.Errorf("imagesource: parse content-length for alioss://%s/%s: %w", bucketName, key, err)
	}

	body, err := bucket.GetObject(key)
	if err != nil {
		return nil, fmt.Errorf("imagesource: get alioss://%s/%s: %w", bucketName, key, err)
	}

	return &readCloserSource{rc: body, size: size}, nil
}
