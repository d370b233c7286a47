// SPDX-License-Identifier: LGPL-3.0-or-later

// Package image implements the Image subsystem: download, verify,
// decompress, and block-write images to their target devices (spec
// §4.3 table, row 3). The image container format itself — a tar
// stream carrying a marker file, a metadata JSON, and ordered
// compressed raw images — is out of scope for this engine (spec §6);
// this subsystem consumes it through the Fetcher and BlockWriter
// capability interfaces, mirroring how the Storage subsystem treats
// partitioning and RAID tools as external capabilities rather than
// direct dependencies.
package image

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"hostagent/agentconfig"
	"hostagent/blockdevice"
	"hostagent/hostconfig"
	"hostagent/imagesource"
	"hostagent/progress"
	"hostagent/servicing/subsystem"
	"hostagent/svcerr"
)

// Fetcher resolves an image URL to a readable, sized byte stream.
// imagesource.Open is the production implementation; tests supply a
// fake.
type Fetcher interface {
	Open(ctx context.Context, url string) (imagesource.Source, error)
}

// BlockWriter writes a decompressed image stream to a target device
// and, for filesystem targets, resizes the filesystem up to the
// partition size after the write completes (spec §4.5, write-images).
type BlockWriter interface {
	WriteStream(ctx context.Context, device string, r io.Reader) (written int64, err error)
	ResizeFilesystemUpToPartition(ctx context.Context, filesystemID string, fsType hostconfig.FilesystemType) error
}

type fetcherFunc struct {
	cfg *agentconfig.Config
}

func (f fetcherFunc) Open(ctx context.Context, url string) (imagesource.Source, error) {
	return imagesource.Open(ctx, url, f.cfg)
}

// Subsystem is the Image subsystem.
type Subsystem struct {
	fetcher  Fetcher
	writer   BlockWriter
	progress io.Writer
}

// New builds the Image subsystem with the production imagesource
// fetcher configured against cfg. Progress bars are off by default;
// set WithProgress to render one while writing each image.
func New(cfg *agentconfig.Config, writer BlockWriter) *Subsystem {
	return &Subsystem{fetcher: fetcherFunc{cfg: cfg}, writer: writer}
}

// NewWithFetcher builds the Image subsystem against an explicit
// Fetcher, for tests.
func NewWithFetcher(fetcher Fetcher, writer BlockWriter) *Subsystem {
	return &Subsystem{fetcher: fetcher, writer: writer}
}

// WithProgress renders a byte-count progress bar to w while each image
// is written. Intended for an interactive apply invocation; leave unset
// for serve/commit or any non-interactive run.
func (s *Subsystem) WithProgress(w io.Writer) *Subsystem {
	s.progress = w
	return s
}

func (s *Subsystem) Name() string { return "image" }

// WriteImages writes every image reference that targets a device on
// the servicing target side: the top-level whole-device images in
// Host Configuration, and any filesystem whose content source is an
// image rather than a freshly-created or adopted filesystem.
func (s *Subsystem) WriteImages(ctx context.Context, sc *subsystem.StepContext) error {
	for _, ref := range sc.Config.Images {
		if err := s.writeOne(ctx, ref.URL, ref.Digest, ref.TargetDevice, sc); err != nil {
			return err
		}
	}

	for _, n := range sc.Model.AllNodes() {
		if n.Kind != blockdevice.KindFilesystem {
			continue
		}
		if n.Filesystem.Source.Kind != hostconfig.SourceImage {
			continue
		}
		if !sc.Model.IsOnTargetSide(n.ID) {
			continue
		}
		if err := s.writeOne(ctx, n.Filesystem.Source.URL, n.Filesystem.Source.Digest, n.ID, sc); err != nil {
			return err
		}
		if err := s.writer.ResizeFilesystemUpToPartition(ctx, n.ID, n.Filesystem.Type); err != nil {
			return svcerr.Wrap(svcerr.KindImage, "resize", "failed to grow filesystem "+n.ID+" to partition size", err)
		}
	}
	return nil
}

func (s *Subsystem) writeOne(ctx context.Context, url, digest, targetDevice string, sc *subsystem.StepContext) error {
	if _, err := sc.Model.Resolve(targetDevice); err != nil {
		return svcerr.Wrap(svcerr.KindImage, "resolve-target", "image target device "+targetDevice+" not in device model", err)
	}

	src, err := s.fetcher.Open(ctx, url)
	if err != nil {
		return svcerr.Recoverablef(svcerr.KindImage, "fetch", "failed to open image "+url, err)
	}
	defer src.Close()

	var reader io.Reader = src
	var hasher *verifyingReader
	if digest != hostconfig.IgnoredDigest && digest != "" {
		hasher = newVerifyingReader(src)
		reader = hasher
	}

	reporter := progress.Reporter(progress.Noop)
	if s.progress != nil {
		reporter = progress.NewImageWriteProgress(s.progress, targetDevice, src.Len())
	}
	reporter.Start(src.Len(), "Writing image to "+targetDevice)
	reader = &progressReader{r: reader, reporter: reporter}

	written, err := s.writer.WriteStream(ctx, targetDevice, reader)
	reporter.Finish()
	if err != nil {
		return svcerr.Recoverablef(svcerr.KindImage, "write", "failed to write image to "+targetDevice, err)
	}
	if written != src.Len() {
		return svcerr.New(svcerr.KindImage, "short-write", fmt.Sprintf("wrote %d bytes, expected %d for %s", written, src.Len(), targetDevice))
	}

	if hasher != nil {
		got := hasher.SumHex()
		if got != digest {
			return svcerr.New(svcerr.KindImage, "digest-mismatch", fmt.Sprintf("image %s: expected digest %s, got %s", url, digest, got))
		}
	}
	return nil
}

// verifyingReader computes a running sha256 over every byte read,
// letting digest verification happen inline with the block write
// instead of requiring a second pass over the image.
type verifyingReader struct {
	r io.Reader
	h interface {
		io.Writer
		Sum([]byte) []byte
	}
}

func newVerifyingReader(r io.Reader) *verifyingReader {
	return &verifyingReader{r: r, h: sha256.New()}
}

func (v *verifyingReader) Read(p []byte) (int, error) {
	n, err := v.r.Read(p)
	if n > 0 {
		v.h.Write(p[:n])
	}
	return n, err
}

func (v *verifyingReader) SumHex() string {
	return hex.EncodeToString(v.h.Sum(nil))
}

// progressReader reports every byte it passes through to a
// progress.Reporter, so the bar (or the no-op) advances at exactly the
// rate bytes leave the fetcher and reach the block writer.
type progressReader struct {
	r        io.Reader
	reporter progress.Reporter
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.reporter.Add(int64(n))
	}
	return n, err
}

var _ subsystem.ImageWriter = (*Subsystem)(nil)
