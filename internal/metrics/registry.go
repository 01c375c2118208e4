// Package metrics provides Prometheus metrics for the telemetry backend.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all Prometheus metrics for the service.
type Registry struct {
	// Ingest metrics
	PayloadsTotal     *prometheus.CounterVec
	RecordsProduced   prometheus.Counter
	ChannelsSkipped   *prometheus.CounterVec
	DecodeErrors      prometheus.Counter
	TransformDuration prometheus.Histogram

	// Store metrics
	RecordsStored  prometheus.Counter
	InsertsTotal   *prometheus.CounterVec
	InsertDuration prometheus.Histogram
	BreakerState   prometheus.Gauge
	RecordsPurged  prometheus.Counter
	QueryDuration  *prometheus.HistogramVec

	// Stream metrics
	StreamClients    prometheus.Gauge
	StreamBroadcasts prometheus.Counter
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	return &Registry{
		PayloadsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "powerlytic",
			Subsystem: "ingest",
			Name:      "payloads_total",
			Help:      "Total telemetry payloads received, by outcome",
		}, []string{"status"}),
		RecordsProduced: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "powerlytic",
			Subsystem: "ingest",
			Name:      "records_produced_total",
			Help:      "Total measurement records produced by the transformer",
		}),
		ChannelsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "powerlytic",
			Subsystem: "ingest",
			Name:      "channels_skipped_total",
			Help:      "Total channel readings skipped during transform, by reason",
		}, []string{"reason"}),
		DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "powerlytic",
			Subsystem: "ingest",
			Name:      "decode_errors_total",
			Help:      "Total register decode failures",
		}),
		TransformDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "powerlytic",
			Subsystem: "ingest",
			Name:      "transform_duration_seconds",
			Help:      "Payload transform duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),

		RecordsStored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "powerlytic",
			Subsystem: "store",
			Name:      "records_stored_total",
			Help:      "Total measurement records persisted",
		}),
		InsertsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "powerlytic",
			Subsystem: "store",
			Name:      "inserts_total",
			Help:      "Total bulk insert operations, by outcome",
		}, []string{"status"}),
		InsertDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "powerlytic",
			Subsystem: "store",
			Name:      "insert_duration_seconds",
			Help:      "Bulk insert latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		BreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "powerlytic",
			Subsystem: "store",
			Name:      "breaker_state",
			Help:      "Insert circuit breaker state (0=closed, 1=half-open, 2=open)",
		}),
		RecordsPurged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "powerlytic",
			Subsystem: "store",
			Name:      "records_purged_total",
			Help:      "Total records removed by the retention sweeper",
		}),
		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "powerlytic",
			Subsystem: "store",
			Name:      "query_duration_seconds",
			Help:      "Read-side query latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"query"}),

		StreamClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "powerlytic",
			Subsystem: "stream",
			Name:      "clients",
			Help:      "Connected live-stream websocket clients",
		}),
		StreamBroadcasts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "powerlytic",
			Subsystem: "stream",
			Name:      "broadcasts_total",
			Help:      "Total measurement batches broadcast to stream clients",
		}),
	}
}

// RecordPayload records one ingest call outcome.
func (r *Registry) RecordPayload(status string, records int, seconds float64) {
	if r == nil {
		return
	}
	r.PayloadsTotal.WithLabelValues(status).Inc()
	r.RecordsProduced.Add(float64(records))
	r.TransformDuration.Observe(seconds)
}

// RecordSkip records a skipped channel reading.
func (r *Registry) RecordSkip(reason string) {
	if r == nil {
		return
	}
	r.ChannelsSkipped.WithLabelValues(reason).Inc()
}

// RecordDecodeError records a register decode failure.
func (r *Registry) RecordDecodeError() {
	if r == nil {
		return
	}
	r.DecodeErrors.Inc()
}

// RecordInsert records a bulk insert attempt.
func (r *Registry) RecordInsert(success bool, records int, seconds float64) {
	if r == nil {
		return
	}
	if success {
		r.InsertsTotal.WithLabelValues("success").Inc()
		r.RecordsStored.Add(float64(records))
	} else {
		r.InsertsTotal.WithLabelValues("error").Inc()
	}
	r.InsertDuration.Observe(seconds)
}

// SetBreakerState updates the circuit breaker state gauge.
func (r *Registry) SetBreakerState(state int) {
	if r == nil {
		return
	}
	r.BreakerState.Set(float64(state))
}

// RecordPurge records a retention sweep result.
func (r *Registry) RecordPurge(removed int64) {
	if r == nil {
		return
	}
	r.RecordsPurged.Add(float64(removed))
}

// RecordQuery records a read-side query latency.
func (r *Registry) RecordQuery(query string, seconds float64) {
	if r == nil {
		return
	}
	r.QueryDuration.WithLabelValues(query).Observe(seconds)
}

// UpdateStreamClients updates the websocket client gauge.
func (r *Registry) UpdateStreamClients(count int) {
	if r == nil {
		return
	}
	r.StreamClients.Set(float64(count))
}

// RecordBroadcast records one batch broadcast to stream clients.
func (r *Registry) RecordBroadcast() {
	if r == nil {
		return
	}
	r.StreamBroadcasts.Inc()
}
