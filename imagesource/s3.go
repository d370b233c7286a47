// SPDX-License-Identifier: LGPL-3.0-or-later

package imagesource

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"hostagent/agentconfig"
)

// openS3 resolves s3://bucket/key into a streaming Source. The object
// is never staged to a local file first: GetObject's body is an
// io.ReadCloser already, so the Image subsystem can pipe it straight
// into the target filesystem.
func openS3(ctx context.Context, u *url.URL, cfg *agentconfig.Config) (Source, error) {
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("imagesource: s3 url %q must be s3://bucket/key", u.String())
	}

	region := "us-east-1"
	var creds *agentconfig.AWSConfig
	if cfg != nil {
		creds = cfg.AWS
	}
	if creds != nil && creds.Region != "" {
		region = creds.Region
	}

	var awsCfg aws.Config
	var err error
	if creds != nil && creds.AccessKeyID != "" && creds.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				creds.AccessKeyID, creds.SecretAccessKey, "",
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	}
	if err != nil {
		return nil, fmt.Errorf("imagesource: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)

	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("imagesource: head s3://%s/%s: %w", bucket, key, err)
	}

	obj, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("imagesource: get s3://%s/%s: %w", bucket, key, err)
	}

	return &readCloserSource{rc: obj.Body, size: aws.ToInt64(head.ContentLength)}, nil
}
