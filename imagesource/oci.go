// SPDX-License-Identifier: LGPL-3.0-or-later

package imagesource

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/objectstorage"

	"hostagent/agentconfig"
)

// openOCI resolves oci://bucket/object against an Oracle Cloud
// Infrastructure Object Storage bucket in cfg.OCI.Namespace.
// GetObjectResponse already carries both the body (io.ReadCloser) and
// the content length, so no separate head call is needed here, unlike
// s3:// and alioss://.
func openOCI(ctx context.Context, u *url.URL, cfg *agentconfig.Config) (Source, error) {
	bucketName := u.Host
	object := strings.TrimPrefix(u.Path, "/")
	if bucketName == "" || object == "" {
		return nil, fmt.Errorf("imagesource: oci url %q must be oci://bucket/object", u.String())
	}

	if cfg == nil || cfg.OCI == nil || cfg.OCI.Namespace == "" {
		return nil, fmt.Errorf("imagesource: oci scheme requires oci.namespace in agent config")
	}
	creds := cfg.OCI

	var configProvider common.ConfigurationProvider
	var err error
	if creds.ConfigPath != "" {
		configProvider, err = common.ConfigurationProviderFromFile(creds.ConfigPath, creds.Profile)
	} else {
		configProvider = common.NewRawConfigurationProvider(
			creds.TenancyOCID, creds.UserOCID, creds.Region, creds.Fingerprint, creds.PrivateKey, nil,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("imagesource: load oci config: %w", err)
	}

	client, err := objectstorage.NewObjectStorageClientWithConfigurationProvider(configProvider)
	if err != nil {
		return nil, fmt.Errorf("imagesource: new oci client: %w", err)
	}
	if creds.Region != "" {
		client.SetRegion(creds.Region)
	}

	resp, err := client.GetObject(ctx, objectstorage.GetObjectRequest{
		NamespaceName: common.String(creds.Namespace),
		BucketName:    common.String(bucketName),
		ObjectName:    common.String(object),
	})
	if err != nil {
		return nil, fmt.Errorf("imagesource: get oci://%s/%s: %w", bucketName, object, err)
	}

	var size int64
	if resp.ContentLength != nil {
		size = *resp.ContentLength
	}

	return &readCloserSource{rc: resp.Content, size: size}, nil
}
