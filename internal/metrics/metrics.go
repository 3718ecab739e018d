// Package metrics exposes process-level Prometheus collectors: request pacing
// delays and the operator HTTP endpoint's own traffic.
package metrics

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups the collectors registered against one registry.
type Collectors struct {
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	rateLimitDelays *prometheus.HistogramVec
}

// New registers the collectors against reg (the default registerer when nil).
func New(reg prometheus.Registerer) (*Collectors, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collectors{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_http_requests_total",
			Help: "Requests served by the metrics endpoint, labeled by method and code.",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archiver_http_request_duration_seconds",
			Help:    "Latency of requests served by the metrics endpoint.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"method", "route"}),
		rateLimitDelays: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archiver_rate_limit_delay_seconds",
			Help:    "Time spent waiting on per-host request pacing.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"host"}),
	}
	for _, col := range []prometheus.Collector{c.httpRequests, c.httpDuration, c.rateLimitDelays} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register metrics collector: %w", err)
		}
	}
	return c, nil
}

// SanitizeSite reduces a URL or host to a lowercase hostname label.
// It returns "unknown" if the input cannot be parsed.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObserveHTTPRequest records one served request.
func (c *Collectors) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records a pacing wait. Its signature matches the
// rate limiter's OnDelay hook.
func (c *Collectors) ObserveRateLimitDelay(host string, waited time.Duration) {
	if c == nil {
		return
	}
	c.rateLimitDelays.WithLabelValues(SanitizeSite(host)).Observe(waited.Seconds())
}
