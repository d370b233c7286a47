// SPDX-License-Identifier: LGPL-3.0-or-later

package imagesource

import (
	"context"
	"fmt"
	"net/http"
)

func openHTTP(ctx context.Context, rawURL string) (Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("imagesource: build request for %q: %w", rawURL, err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("imagesource: fetch %q: %w", rawURL, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("imagesource: fetch %q: unexpected status %s", rawURL, resp.Status)
	}

	if resp.ContentLength < 0 {
		resp.Body.Close()
		return nil, fmt.Errorf("imagesource: fetch %q: server did not report Content-Length", rawURL)
	}

	return &readCloserSource{rc: resp.Body, size: resp.ContentLength}, nil
}
