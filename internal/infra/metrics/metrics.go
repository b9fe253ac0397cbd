// Package metrics exposes authentication and session metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"keystone/config"
	"keystone/internal/domain/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements service.AuthMetrics on Prometheus counters.
type Collector struct {
	authentications *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	reuseDetected   prometheus.Counter
	sessionsRevoked *prometheus.CounterVec
	keyFetches      *prometheus.CounterVec
	keyFetchLatency *prometheus.HistogramVec
}

var _ service.AuthMetrics = (*Collector)(nil)

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authentications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keystone_authentications_total",
			Help: "Sign-in attempts by identity provider and outcome.",
		}, []string{"provider", "outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keystone_refreshes_total",
			Help: "Refresh token rotations by outcome.",
		}, []string{"outcome"}),
		reuseDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keystone_refresh_reuse_detected_total",
			Help: "Superseded refresh tokens presented. Each one revokes a token family.",
		}),
		sessionsRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keystone_sessions_revoked_total",
			Help: "Sessions revoked by reason.",
		}, []string{"reason"}),
		keyFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keystone_provider_key_fetches_total",
			Help: "Provider signing key set downloads by provider and outcome.",
		}, []string{"provider", "outcome"}),
		keyFetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keystone_provider_key_fetch_seconds",
			Help:    "Latency of provider signing key set downloads.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
	}

	reg.MustRegister(
		c.authentications,
		c.refreshes,
		c.reuseDetected,
		c.sessionsRevoked,
		c.keyFetches,
		c.keyFetchLatency,
	)

	return c
}

func (c *Collector) RecordAuthentication(provider string, outcome string) {
	c.authentications.WithLabelValues(provider, outcome).Inc()
}

func (c *Collector) RecordRefresh(outcome string) {
	c.refreshes.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordReuseDetected() {
	c.reuseDetected.Inc()
}

// RecordSessionsRevoked adds count to the reason's counter. Zero counts are
// ignored so idempotent revokes do not create empty series.
func (c *Collector) RecordSessionsRevoked(reason string, count int64) {
	if count <= 0 {
		return
	}
	c.sessionsRevoked.WithLabelValues(reason).Add(float64(count))
}

func (c *Collector) RecordKeyFetch(provider string, duration time.Duration, err error) {
	outcome := service.OutcomeSuccess
	if err != nil {
		outcome = service.OutcomeFailure
	}
	c.keyFetches.WithLabelValues(provider, outcome).Inc()
	c.keyFetchLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// Noop discards every measurement.
type Noop struct{}

func (Noop) RecordAuthentication(string, string)         {}
func (Noop) RecordRefresh(string)                        {}
func (Noop) RecordReuseDetected()                        {}
func (Noop) RecordSessionsRevoked(string, int64)         {}
func (Noop) RecordKeyFetch(string, time.Duration, error) {}

// NewRegistry provides one registry for collectors and the scrape route.
func NewRegistry() (prometheus.Registerer, prometheus.Gatherer) {
	registry := prometheus.NewRegistry()

	return registry, registry
}

// New returns a Collector registered with reg, or Noop when metrics are disabled.
func New(cfg *config.Config, reg prometheus.Registerer) service.AuthMetrics {
	if cfg.Metrics == nil || !cfg.Metrics.Enabled {
		return Noop{}
	}

	return NewCollector(reg)
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
