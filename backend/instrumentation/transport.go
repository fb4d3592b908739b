package instrumentation

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "geoscan",
	Name:      "backend_request_duration_seconds",
	Help:      "Time spent doing object storage requests.",
	// Range reads are small, full object writes can be large: 5ms to 80s.
	Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
}, []string{"operation", "status_code"})

type instrumentedTransport struct {
	observer prometheus.ObserverVec
	next     http.RoundTripper
}

// NewTransport records the duration of every request made through next.
func NewTransport(next http.RoundTripper) http.RoundTripper {
	return instrumentedTransport{
		observer: requestDuration,
		next:     next,
	}
}

func (i instrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := i.next.RoundTrip(req)
	status := "500"
	if err == nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	i.observer.WithLabelValues(req.Method, status).Observe(time.Since(start).Seconds())
	return resp, err
}
