// SPDX-License-Identifier: LGPL-3.0-or-later

package imagesource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenFileReturnsCorrectLength(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.raw")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	src, err := Open(context.Background(), "file://"+path, nil)
	require.NoError(t, err)
	defer src.Close()

	assert.EqualValues(t, 11, src.Len())

	buf := make([]byte, 11)
	n, err := src.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf[:n]))
}

func TestOpenFileMissingReturnsError(t *testing.T) {
	_, err := Open(context.Background(), "file:///no/such/path", nil)
	assert.Error(t, err)
}

func TestOpenHTTPReturnsCorrectLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload-bytes"))
	}))
	defer srv.Close()

	src, err := Open(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	defer src.Close()

	assert.EqualValues(t, len("payload-bytes"), src.Len())
}

func TestOpenUnsupportedSchemeReturnsError(t *testing.T) {
	_, err := Open(context.Background(), "ftp://example.com/image.raw", nil)
	assert.Error(t, err)
}

func TestOpenInvalidURLReturnsError(t *testing.T) {
	_, err := Open(context.Background(), "://bad", nil)
	assert.Error(t, err)
}

func TestOpenAliossMissingBucketReturnsError(t *testing.T) {
	_, err := Open(context.Background(), "alioss:///object-only", nil)
	assert.Error(t, err)
}

func TestOpenAliossMissingConfigReturnsError(t *testing.T) {
	_, err := Open(context.Background(), "alioss://bucket/object", nil)
	assert.Error(t, err)
}

func TestOpenOCIMissingObjectReturnsError(t *testing.T) {
	_, err := Open(context.Background(), "oci://bucket", nil)
	assert.Error(t, err)
}

func TestOpenOCIMissingConfigReturnsError(t *testing.T) {
	_, err := Open(context.Background(), "oci://bucket/object", nil)
	assert.Error(t, err)
}
