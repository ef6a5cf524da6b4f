// Package metrics exposes Prometheus metrics for signed API calls.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector manages Prometheus metrics for request signing and delivery
type Collector struct {
	attemptsTotal     *prometheus.CounterVec
	retriesTotal      *prometheus.CounterVec
	authFailuresTotal *prometheus.CounterVec

	requestDuration *prometheus.HistogramVec
	signDuration    *prometheus.HistogramVec

	uploadedBytes *prometheus.CounterVec
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		attemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "awsreq_attempts_total",
				Help: "Total request attempts, including retries",
			},
			[]string{"operation", "outcome"},
		),
		retriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "awsreq_retries_total",
				Help: "Total retries after a retriable failure",
			},
			[]string{"operation"},
		),
		authFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "awsreq_auth_failures_total",
				Help: "Total authorization rejections that invalidated cached credentials",
			},
			[]string{"scope"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "awsreq_request_duration_seconds",
				Help:    "Duration of a single request attempt",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "outcome"},
		),
		signDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "awsreq_sign_duration_seconds",
				Help:    "Time spent computing request signatures",
				Buckets: []float64{.00001, .0001, .001, .01, .1},
			},
			[]string{"operation"},
		),
		uploadedBytes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "awsreq_uploaded_bytes_total",
				Help: "Decoded payload bytes uploaded via streaming requests",
			},
			[]string{"operation"},
		),
	}
}

// RecordAttempt records one request attempt and its duration
func (c *Collector) RecordAttempt(operation string, success bool, duration time.Duration) {
	if c == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.attemptsTotal.WithLabelValues(operation, outcome).Inc()
	c.requestDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

// RecordRetry records a retry decision for an operation
func (c *Collector) RecordRetry(operation string) {
	if c == nil {
		return
	}
	c.retriesTotal.WithLabelValues(operation).Inc()
}

// RecordAuthFailure records a credential invalidation for a scope
func (c *Collector) RecordAuthFailure(scope string) {
	if c == nil {
		return
	}
	c.authFailuresTotal.WithLabelValues(scope).Inc()
}

// RecordSign records time spent signing one request
func (c *Collector) RecordSign(operation string, duration time.Duration) {
	if c == nil {
		return
	}
	c.signDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordUpload records decoded bytes sent in a successful streaming upload
func (c *Collector) RecordUpload(operation string, bytes int64) {
	if c == nil {
		return
	}
	c.uploadedBytes.WithLabelValues(operation).Add(float64(bytes))
}
