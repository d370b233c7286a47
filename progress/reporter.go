// SPDX-License-Identifier: LGPL-3.0-or-later

// Package progress renders a byte-count progress bar for the Image
// subsystem's block writes. Servicing itself never blocks on a
// terminal, but hostagentd's apply subcommand is commonly run
// interactively against a console, and a multi-gigabyte image write
// with no feedback looks indistinguishable from a hang.
package progress

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Reporter is the narrow interface the Image subsystem depends on. A
// no-op Reporter is used whenever hostagentd is run non-interactively
// (spec's serve/commit paths, and any apply invocation without a TTY).
type Reporter interface {
	Start(total int64, description string)
	Add(n int64)
	Finish()
}

// BarProgress renders a schollz/progressbar bar to an io.Writer;
// hostagentd passes os.Stderr, the stream its logger also writes to by
// default.
type BarProgress struct {
	bar *progressbar.ProgressBar
}

// NewImageWriteProgress builds a byte-count bar for writing an image
// to device, sized against the image's known total length.
func NewImageWriteProgress(writer io.Writer, device string, totalBytes int64) *BarProgress {
	bar := progressbar.NewOptions64(totalBytes,
		progressbar.OptionSetWriter(writer),
		progressbar.OptionSetDescription(fmt.Sprintf("Writing image to %s:", device)),
		progressbar.OptionSetWidth(50),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(writer, "\n")
		}),
	)
	return &BarProgress{bar: bar}
}

func (b *BarProgress) Start(total int64, description string) {
	if b == nil || b.bar == nil {
		return
	}
	b.bar.ChangeMax64(total)
	b.bar.Describe(description)
	_ = b.bar.RenderBlank()
}

func (b *BarProgress) Add(n int64) {
	if b == nil || b.bar == nil {
		return
	}
	_ = b.bar.Add64(n)
}

func (b *BarProgress) Finish() {
	if b == nil || b.bar == nil {
		return
	}
	_ = b.bar.Finish()
}

// noopReporter discards every call. It is the default Reporter for
// any Image subsystem built without an explicit one (metrics-server
// and boot-commit invocations never write images, and tests construct
// the subsystem directly without a terminal to render to).
type noopReporter struct{}

func (noopReporter) Start(int64, string) {}
func (noopReporter) Add(int64)           {}
func (noopReporter) Finish()             {}

// Noop is the shared no-op Reporter.
var Noop Reporter = noopReporter{}
