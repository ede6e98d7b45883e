// Package metrics exposes Prometheus instrumentation for httpx transports and
// apiclient credential refreshes.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lgc202/apikit/httpx"
)

// Collector holds the metric vectors. Register it once per registry.
type Collector struct {
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	refreshes *prometheus.CounterVec
}

// NewCollector creates the metrics under namespace and registers them with reg.
// A nil reg skips registration.
func NewCollector(reg prometheus.Registerer, namespace string) (*Collector, error) {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Outbound HTTP attempts by method, status code and origin.",
		}, []string{"method", "code", "origin"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Outbound HTTP attempt latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "origin"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credentials",
			Name:      "refresh_total",
			Help:      "Credential refresh calls by outcome.",
		}, []string{"outcome"}),
	}
	if reg == nil {
		return c, nil
	}
	for _, col := range []prometheus.Collector{c.requests, c.duration, c.refreshes} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// AfterHook records every transport attempt. Transport failures are counted
// with code "error".
func (c *Collector) AfterHook() httpx.AfterHook {
	return func(req *http.Request, resp *http.Response, err error, dur time.Duration, _ int) {
		origin := httpx.OriginOf(req)
		if origin != httpx.OriginInternal {
			origin = httpx.OriginExternal
		}
		code := "error"
		if err == nil && resp != nil {
			code = strconv.Itoa(resp.StatusCode)
		}
		c.requests.WithLabelValues(req.Method, code, origin).Inc()
		c.duration.WithLabelValues(req.Method, origin).Observe(dur.Seconds())
	}
}

// ObserveRefresh matches apiclient.RefreshObserver.
func (c *Collector) ObserveRefresh(err error, _ time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.refreshes.WithLabelValues(outcome).Inc()
}
