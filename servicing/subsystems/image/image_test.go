// SPDX-License-Identifier: LGPL-3.0-or-later

package image

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostagent/blockdevice"
	"hostagent/hostconfig"
	"hostagent/imagesource"
	"hostagent/logger"
	"hostagent/servicing/subsystem"
	"hostagent/status"
)

type fakeSource struct {
	*bytes.Reader
	size int64
}

func (f *fakeSource) Close() error { return nil }
func (f *fakeSource) Len() int64   { return f.size }

type fakeFetcher struct {
	payload []byte
}

func (f *fakeFetcher) Open(ctx context.Context, url string) (imagesource.Source, error) {
	return &fakeSource{Reader: bytes.NewReader(f.payload), size: int64(len(f.payload))}, nil
}

type fakeWriter struct {
	written map[string][]byte
	resized []string
}

func newFakeWriter() *fakeWriter { return &fakeWriter{written: map[string][]byte{}} }

func (w *fakeWriter) WriteStream(ctx context.Context, device string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	w.written[device] = data
	return int64(len(data)), nil
}

func (w *fakeWriter) ResizeFilesystemUpToPartition(ctx context.Context, filesystemID string, fsType hostconfig.FilesystemType) error {
	w.resized = append(w.resized, filesystemID)
	return nil
}

func buildModel(t *testing.T) *blockdevice.Model {
	t.Helper()
	cfg := &hostconfig.Config{
		Disks: []hostconfig.DiskConfig{{
			ID: "disk0", Device: "/dev/sda",
			Partitions: []hostconfig.PartitionConfig{
				{ID: "root", DiscoverableType: hostconfig.DiscoverableRoot, Size: "8589934592"},
			},
		}},
		Filesystems: []hostconfig.FilesystemConfig{
			{ID: "root-fs", Backing: "root", Type: hostconfig.FilesystemExt4,
				Source: hostconfig.FilesystemSource{Kind: hostconfig.SourceImage, URL: "http://provisioning/root.img", Digest: hostconfig.IgnoredDigest}},
		},
	}
	m, err := blockdevice.Build(cfg, status.SideNone)
	require.NoError(t, err)
	return m
}

func TestWriteImagesWritesFilesystemImageAndResizes(t *testing.T) {
	payload := []byte("raw disk bytes")
	writer := newFakeWriter()
	s := NewWithFetcher(&fakeFetcher{payload: payload}, writer)
	sc := &subsystem.StepContext{Log: logger.New("error"), Config: &hostconfig.Config{}, Model: buildModel(t)}

	require.NoError(t, s.WriteImages(context.Background(), sc))

	assert.Equal(t, payload, writer.written["root-fs"])
	assert.Contains(t, writer.resized, "root-fs")
}

func TestWriteImagesVerifiesDigest(t *testing.T) {
	payload := []byte("raw disk bytes")
	sum := sha256.Sum256(payload)
	digest := hex.EncodeToString(sum[:])

	cfg := &hostconfig.Config{
		Disks: []hostconfig.DiskConfig{{
			ID: "disk0", Device: "/dev/sda",
			Partitions: []hostconfig.PartitionConfig{{ID: "root", DiscoverableType: hostconfig.DiscoverableRoot, Size: "8589934592"}},
		}},
		Filesystems: []hostconfig.FilesystemConfig{
			{ID: "root-fs", Backing: "root", Type: hostconfig.FilesystemExt4,
				Source: hostconfig.FilesystemSource{Kind: hostconfig.SourceImage, URL: "http://provisioning/root.img", Digest: digest}},
		},
	}
	m, err := blockdevice.Build(cfg, status.SideNone)
	require.NoError(t, err)

	writer := newFakeWriter()
	s := NewWithFetcher(&fakeFetcher{payload: payload}, writer)
	sc := &subsystem.StepContext{Log: logger.New("error"), Config: &hostconfig.Config{}, Model: m}

	require.NoError(t, s.WriteImages(context.Background(), sc))
	assert.Equal(t, payload, writer.written["root-fs"])
}

func TestWriteImagesFailsOnDigestMismatch(t *testing.T) {
	cfg := &hostconfig.Config{
		Disks: []hostconfig.DiskConfig{{
			ID: "disk0", Device: "/dev/sda",
			Partitions: []hostconfig.PartitionConfig{{ID: "root", DiscoverableType: hostconfig.DiscoverableRoot, Size: "8589934592"}},
		}},
		Filesystems: []hostconfig.FilesystemConfig{
			{ID: "root-fs", Backing: "root", Type: hostconfig.FilesystemExt4,
				Source: hostconfig.FilesystemSource{Kind: hostconfig.SourceImage, URL: "http://provisioning/root.img", Digest: "deadbeef"}},
		},
	}
	m, err := blockdevice.Build(cfg, status.SideNone)
	require.NoError(t, err)

	s := NewWithFetcher(&fakeFetcher{payload: []byte("mismatched content")}, newFakeWriter())
	sc := &subsystem.StepContext{Log: logger.New("error"), Config: &hostconfig.Config{}, Model: m}

	err = s.WriteImages(context.Background(), sc)
	assert.Error(t, err)
}

func TestWriteImagesWritesTopLevelImageRef(t *testing.T) {
	payload := []byte("whole-disk image")
	cfg := &hostconfig.Config{
		Disks: []hostconfig.DiskConfig{{ID: "disk0", Device: "/dev/sda"}},
		Images: []hostconfig.ImageRef{
			{URL: "http://provisioning/disk.img", Digest: hostconfig.IgnoredDigest, TargetDevice: "disk0"},
		},
	}
	m, err := blockdevice.Build(cfg, status.SideNone)
	require.NoError(t, err)

	writer := newFakeWriter()
	s := NewWithFetcher(&fakeFetcher{payload: payload}, writer)
	sc := &subsystem.StepContext{Log: logger.New("error"), Config: cfg, Model: m}

	require.NoError(t, s.WriteImages(context.Background(), sc))
	assert.Equal(t, payload, writer.written["disk0"])
}
