// SPDX-License-Identifier: LGPL-3.0-or-later

package imagesource

import "io"

// readCloserSource adapts any io.ReadCloser of known length into a
// Source. The cloud scheme handlers all end up with an SDK-provided
// stream plus a size fetched from a separate metadata call, so they
// share this adapter instead of each defining their own.
type readCloserSource struct {
	rc   io.ReadCloser
	size int64
}

func (s *readCloserSource) Read(p []byte) (int, error) { return s.rc.Read(p) }
func (s *readCloserSource) Close() error               { return s.rc.Close() }
func (s *readCloserSource) Len() int64                 { return s.size }
