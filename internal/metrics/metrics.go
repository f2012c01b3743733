// Package metrics exposes the orchestrator's prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors the session controller feeds.
type Metrics struct {
	Registry *prometheus.Registry

	RecordingsStarted prometheus.Counter
	RecordingsStopped prometheus.Counter
	FilesArchived     prometheus.Counter
	ArchiveFailures   prometheus.Counter
	BufferDeposits    prometheus.Counter
	Uploads           *prometheus.CounterVec
	PendingOps        prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		RecordingsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obsrelay_recordings_started_total",
			Help: "Recordings started through the control channel.",
		}),
		RecordingsStopped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obsrelay_recordings_stopped_total",
			Help: "Recordings stopped through the control channel.",
		}),
		FilesArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obsrelay_files_archived_total",
			Help: "Files moved from the buffer into a session folder.",
		}),
		ArchiveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obsrelay_archive_failures_total",
			Help: "Per-file move or rename failures after retry exhaustion.",
		}),
		BufferDeposits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obsrelay_buffer_deposits_total",
			Help: "Files the recording backend deposited into the buffer folder.",
		}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "obsrelay_uploads_total",
			Help: "Upload attempts by result.",
		}, []string{"result"}),
		PendingOps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "obsrelay_pending_operations",
			Help: "Operations queued while waiting for the idle state.",
		}),
	}

	reg.MustRegister(
		m.RecordingsStarted,
		m.RecordingsStopped,
		m.FilesArchived,
		m.ArchiveFailures,
		m.BufferDeposits,
		m.Uploads,
		m.PendingOps,
	)
	return m
}
