// SPDX-License-Identifier: LGPL-3.0-or-later

package metricsserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ServicingRunsTotal counts completed servicing runs by the
	// classification the planner assigned and their final outcome.
	ServicingRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostagent_servicing_runs_total",
			Help: "Total number of servicing runs by servicing type and outcome",
		},
		[]string{"servicing_type", "outcome"},
	)

	// StepDuration tracks how long each subsystem step takes.
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hostagent_step_duration_seconds",
			Help:    "Duration of a single stage/finalize step",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"step"},
	)

	// ImageBytesWritten tracks bytes written to target block devices.
	ImageBytesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostagent_image_bytes_written_total",
			Help: "Total bytes written while writing images to target devices",
		},
		[]string{"target_device"},
	)

	// ABRollbacksTotal counts boot-commit verdicts where firmware
	// booted the previous A/B side instead of the finalized target.
	ABRollbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hostagent_ab_rollbacks_total",
			Help: "Total number of A/B rollbacks observed by the boot-commit supervisor",
		},
	)

	// ServicingLockBusyTotal counts rejected attempts to start a
	// servicing run while another is already in progress.
	ServicingLockBusyTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hostagent_servicing_lock_busy_total",
			Help: "Total number of servicing attempts rejected because the servicing lock was held",
		},
	)
)
