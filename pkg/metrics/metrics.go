// Package metrics exposes Prometheus instrumentation for upload runs.
//
// All methods are safe on a nil *Metrics, which is how callers disable
// instrumentation:
//
//	m := metrics.New(prometheus.NewRegistry())
//	compressor := &core.Compressor{Metrics: m}
//
//	// Without metrics (zero overhead)
//	compressor := &core.Compressor{}
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors for one registry
type Metrics struct {
	bytesRead         prometheus.Counter
	chunksCompressed  prometheus.Counter
	bytesPersisted    prometheus.Counter
	bytesDecompressed prometheus.Counter
	runs              *prometheus.CounterVec
	phaseDuration     *prometheus.HistogramVec
}

// New registers the collectors with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		bytesRead: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkup_source_bytes_read_total",
			Help: "Total source bytes read into chunks",
		}),
		chunksCompressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkup_chunks_compressed_total",
			Help: "Total chunks compressed by workers",
		}),
		bytesPersisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkup_persisted_bytes_total",
			Help: "Total compressed bytes written to durable storage",
		}),
		bytesDecompressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkup_decompressed_bytes_total",
			Help: "Total bytes written to output artifacts",
		}),
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chunkup_runs_total",
				Help: "Total pipeline runs by final state",
			},
			[]string{"outcome"}, // "completed", "failed", "rejected"
		),
		phaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chunkup_phase_duration_seconds",
				Help:    "Duration of pipeline phases",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"phase"},
		),
	}
}

func (m *Metrics) AddBytesRead(n int64) {
	if m == nil {
		return
	}
	m.bytesRead.Add(float64(n))
}

func (m *Metrics) IncChunksCompressed() {
	if m == nil {
		return
	}
	m.chunksCompressed.Inc()
}

func (m *Metrics) AddBytesPersisted(n int64) {
	if m == nil {
		return
	}
	m.bytesPersisted.Add(float64(n))
}

func (m *Metrics) AddBytesDecompressed(n int64) {
	if m == nil {
		return
	}
	m.bytesDecompressed.Add(float64(n))
}

// RecordRun counts a finished run
func (m *Metrics) RecordRun(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

// ObservePhase records how long a phase took
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}
