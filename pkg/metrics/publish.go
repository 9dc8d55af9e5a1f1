package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PublishMetrics records per-platform publish outcomes.
type PublishMetrics struct {
	attempts    *prometheus.CounterVec
	successes   *prometheus.CounterVec
	failures    *prometheus.CounterVec
	callLatency *prometheus.HistogramVec
}

// NewPublishMetrics registers the publish metrics on the provided registerer.
func NewPublishMetrics(reg prometheus.Registerer) *PublishMetrics {
	if reg == nil {
		return &PublishMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "publish_attempts",
		Help: "Publish initiations per platform.",
	}, []string{"platform"})
	successes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "publish_success",
		Help: "Platform targets that reached the published phase.",
	}, []string{"platform"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "publish_failure",
		Help: "Platform targets that reached the error phase.",
	}, []string{"platform"})
	callLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "platform_call_duration_seconds",
		Help:    "Latency of outbound platform API calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"platform", "operation"})
	reg.MustRegister(attempts, successes, failures, callLatency)
	return &PublishMetrics{
		attempts:    attempts,
		successes:   successes,
		failures:    failures,
		callLatency: callLatency,
	}
}

// IncAttempt increments the initiation counter for the platform.
func (p *PublishMetrics) IncAttempt(platform string) {
	if p == nil || p.attempts == nil {
		return
	}
	p.attempts.WithLabelValues(normalizeLabel(platform)).Inc()
}

// IncSuccess increments the published counter for the platform.
func (p *PublishMetrics) IncSuccess(platform string) {
	if p == nil || p.successes == nil {
		return
	}
	p.successes.WithLabelValues(normalizeLabel(platform)).Inc()
}

// IncFailure increments the error counter for the platform.
func (p *PublishMetrics) IncFailure(platform string) {
	if p == nil || p.failures == nil {
		return
	}
	p.failures.WithLabelValues(normalizeLabel(platform)).Inc()
}

// ObserveCall records the latency of one outbound platform call.
func (p *PublishMetrics) ObserveCall(platform, operation string, duration time.Duration) {
	if p == nil || p.callLatency == nil {
		return
	}
	p.callLatency.WithLabelValues(normalizeLabel(platform), normalizeLabel(operation)).Observe(duration.Seconds())
}
