package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPublishMetricsExportsPerPlatformSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPublishMetrics(reg)

	metrics.IncAttempt("facebook")
	metrics.IncAttempt("facebook")
	metrics.IncSuccess("facebook")
	metrics.IncFailure("tiktok")
	metrics.ObserveCall("facebook", "feed_create", 120*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "publish_attempts", "platform", "facebook"); err != nil {
		t.Fatalf("fetch attempts: %v", err)
	} else if got != 2 {
		t.Fatalf("expected attempts=2, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "publish_success", "platform", "facebook"); err != nil {
		t.Fatalf("fetch success: %v", err)
	} else if got != 1 {
		t.Fatalf("expected success=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "publish_failure", "platform", "tiktok"); err != nil {
		t.Fatalf("fetch failure: %v", err)
	} else if got != 1 {
		t.Fatalf("expected failure=1, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "platform_call_duration_seconds", "platform", "facebook"); err != nil {
		t.Fatalf("fetch call latency: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected call latency sum > 0, got %f", got)
	}
}

func TestPublishMetricsNilReceiverIsNoop(t *testing.T) {
	var metrics *PublishMetrics
	metrics.IncAttempt("facebook")
	metrics.IncSuccess("facebook")
	metrics.IncFailure("facebook")
	metrics.ObserveCall("facebook", "feed_create", time.Second)
}
