package instrumentation

import (
	"net/http"
	"time"

	"github.com/cristalhq/hedgedhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const hedgedMetricsPublishDuration = 10 * time.Second

var hedgedRequestsMetrics = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "geoscan",
		Name:      "backend_hedged_roundtrips_total",
		Help:      "Total number of hedged backend requests. Registered as a gauge for code sanity. This is a counter.",
	},
)

// HedgeTransport wraps next with hedged requests when at is non zero. The
// extra round trips are published to a gauge.
func HedgeTransport(next http.RoundTripper, at time.Duration, upTo int) (http.RoundTripper, error) {
	if at == 0 {
		return next, nil
	}
	transport, stats, err := hedgedhttp.NewRoundTripperAndStats(at, upTo, next)
	if err != nil {
		return nil, err
	}
	PublishHedgedMetrics(stats)
	return transport, nil
}

// PublishHedgedMetrics flushes metrics from hedged requests every 10 seconds
func PublishHedgedMetrics(s *hedgedhttp.Stats) {
	ticker := time.NewTicker(hedgedMetricsPublishDuration)
	go func() {
		for range ticker.C {
			snap := s.Snapshot()
			hedged := int64(snap.ActualRoundTrips) - int64(snap.RequestedRoundTrips)
			if hedged < 0 {
				hedged = 0
			}
			hedgedRequestsMetrics.Set(float64(hedged))
		}
	}()
}
