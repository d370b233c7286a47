// SPDX-License-Identifier: LGPL-3.0-or-later

package imagesource

import (
	"fmt"
	"net/url"
	"os"
)

type fileSource struct {
	f    *os.File
	size int64
}

func (s *fileSource) Read(p []byte) (int, error) { return s.f.Read(p) }
func (s *fileSource) Close() error               { return s.f.Close() }
func (s *fileSource) Len() int64                 { return s.size }

func openFile(u *url.URL) (Source, error) {
	path := u.Path
	if path == "" {
		path = u.Opaque
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("imagesource: open %q: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("imagesource: stat %q: %w", path, err)
	}

	return &fileSource{f: f, size: fi.Size()}, nil
}
