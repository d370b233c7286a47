// SPDX-License-Identifier: LGPL-3.0-or-later

package imagesource

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// throttledSource wraps a Source with a token-bucket rate limiter so a
// single slow download cannot starve the host of disk or network
// bandwidth during an otherwise-unattended servicing run.
type throttledSource struct {
	Source
	limiter *rate.Limiter
	ctx     context.Context
}

// throttle wraps src to cap its read rate at bytesPerSecond. A
// non-positive rate returns src unchanged.
func throttle(ctx context.Context, src Source, bytesPerSecond int64) Source {
	if bytesPerSecond <= 0 {
		return src
	}

	burst := int(bytesPerSecond / 10)
	if burst < 65536 {
		burst = 65536
	}

	return &throttledSource{
		Source:  src,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
		ctx:     ctx,
	}
}

func (t *throttledSource) Read(p []byte) (int, error) {
	if err := t.limiter.WaitN(t.ctx, len(p)); err != nil {
		return 0, err
	}
	return t.Source.Read(p)
}

var _ io.ReadCloser = (*throttledSource)(nil)
