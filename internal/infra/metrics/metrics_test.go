package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"keystone/config"
	"keystone/internal/domain/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthentication("google", service.OutcomeSuccess)
	c.RecordAuthentication("google", service.OutcomeSuccess)
	c.RecordAuthentication("apple", service.OutcomeFailure)
	c.RecordRefresh(service.OutcomeSuccess)
	c.RecordReuseDetected()
	c.RecordSessionsRevoked("reuse_detected", 3)
	c.RecordSessionsRevoked("logout", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.authentications.WithLabelValues("google", service.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.authentications.WithLabelValues("apple", service.OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.refreshes.WithLabelValues(service.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reuseDetected))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.sessionsRevoked.WithLabelValues("reuse_detected")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.sessionsRevoked), "zero revokes must not create a series")
}

func TestCollector_RecordKeyFetch(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordKeyFetch("apple", 20*time.Millisecond, nil)
	c.RecordKeyFetch("apple", time.Second, assert.AnError)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.keyFetches.WithLabelValues("apple", service.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.keyFetches.WithLabelValues("apple", service.OutcomeFailure)))
	assert.Equal(t, 1, testutil.CollectAndCount(c.keyFetchLatency))
}

func TestHandler_ServesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordReuseDetected()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "keystone_refresh_reuse_detected_total 1")
}

func TestNoop_ImplementsAuthMetrics(t *testing.T) {
	var m service.AuthMetrics = Noop{}

	m.RecordAuthentication("google", service.OutcomeSuccess)
	m.RecordKeyFetch("google", time.Millisecond, nil)
}

func TestNew_FollowsConfig(t *testing.T) {
	reg, gatherer := NewRegistry()

	assert.IsType(t, Noop{}, New(&config.Config{}, reg))
	assert.IsType(t, Noop{}, New(&config.Config{Metrics: &config.MetricsConfig{}}, reg))

	m := New(&config.Config{Metrics: &config.MetricsConfig{Enabled: true}}, reg)
	require.IsType(t, &Collector{}, m)
	m.RecordReuseDetected()

	families, err := gatherer.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
