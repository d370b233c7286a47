// SPDX-License-Identifier: LGPL-3.0-or-later

package imagesource

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"hostagent/agentconfig"
)

// openAzblob resolves azblob://container/blob against the storage
// account configured in cfg.Azure into a streaming Source.
func openAzblob(ctx context.Context, u *url.URL, cfg *agentconfig.Config) (Source, error) {
	container := u.Host
	blobName := strings.TrimPrefix(u.Path, "/")
	if container == "" || blobName == "" {
		return nil, fmt.Errorf("imagesource: azblob url %q must be azblob://container/blob", u.String())
	}
	if cfg == nil || cfg.Azure == nil || cfg.Azure.StorageAccount == "" {
		return nil, fmt.Errorf("imagesource: azblob scheme requires an azure storage_account in agent config")
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.Azure.StorageAccount)

	var cred azcore.TokenCredential
	var err error
	if cfg.Azure.TenantID != "" && cfg.Azure.ClientID != "" && cfg.Azure.ClientSecret != "" {
		cred, err = azidentity.NewClientSecretCredential(cfg.Azure.TenantID, cfg.Azure.ClientID, cfg.Azure.ClientSecret, nil)
	} else {
		cred, err = azidentity.NewDefaultAzureCredential(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("imagesource: azure credential: %w", err)
	}

	client, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("imagesource: new azblob client: %w", err)
	}

	resp, err := client.DownloadStream(ctx, container, blobName, nil)
	if err != nil {
		return nil, fmt.Errorf("imagesource: download azblob://%s/%s: %w", container, blobName, err)
	}

	var size int64
	if resp.ContentLength != nil {
		size = *resp.ContentLength
	}

	return &readCloserSource{rc: resp.Body, size: size}, nil
}
