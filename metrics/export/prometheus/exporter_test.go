package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webshop/shopauth"
)

type fakeSource struct {
	snapshot shopauth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() shopauth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func emptySnapshot() shopauth.MetricsSnapshot {
	return shopauth.MetricsSnapshot{
		Counters:   map[shopauth.MetricID]uint64{},
		Histograms: map[shopauth.MetricID][]uint64{},
	}
}

func TestCollectEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{snapshot: emptySnapshot()})

	assert.Equal(t, 0, testutil.CollectAndCount(exp))
}

func TestCollectCounters(t *testing.T) {
	snapshot := emptySnapshot()
	snapshot.Counters[shopauth.MetricLoginSuccess] = 7
	snapshot.Counters[shopauth.MetricLockoutTriggered] = 2
	exp := NewPrometheusExporterFromSource(fakeSource{snapshot: snapshot, dropped: 3})

	expected := `
# HELP shopauth_login_success_total Successful login attempts.
# TYPE shopauth_login_success_total counter
shopauth_login_success_total 7
# HELP shopauth_lockout_triggered_total Identities moved into the locked state.
# TYPE shopauth_lockout_triggered_total counter
shopauth_lockout_triggered_total 2
# HELP shopauth_audit_dropped_total Dropped audit events due to dispatcher backpressure.
# TYPE shopauth_audit_dropped_total counter
shopauth_audit_dropped_total 3
`
	err := testutil.CollectAndCompare(exp, strings.NewReader(expected),
		"shopauth_login_success_total",
		"shopauth_lockout_triggered_total",
		"shopauth_audit_dropped_total",
	)
	require.NoError(t, err)
}

func TestCollectHistogramCumulative(t *testing.T) {
	snapshot := emptySnapshot()
	snapshot.Histograms[shopauth.MetricLoginLatency] = []uint64{1, 2, 3, 4, 5, 6, 7, 8}
	exp := NewPrometheusExporterFromSource(fakeSource{snapshot: snapshot})

	reg := prom.NewRegistry()
	reg.MustRegister(exp)
	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() != "shopauth_login_latency_seconds" {
			continue
		}
		found = true
		h := mf.GetMetric()[0].GetHistogram()
		assert.Equal(t, uint64(36), h.GetSampleCount())

		buckets := h.GetBucket()
		require.Len(t, buckets, 7)
		assert.InDelta(t, 0.01, buckets[0].GetUpperBound(), 1e-9)
		assert.Equal(t, uint64(1), buckets[0].GetCumulativeCount())
		assert.InDelta(t, 1.0, buckets[6].GetUpperBound(), 1e-9)
		assert.Equal(t, uint64(28), buckets[6].GetCumulativeCount())
	}
	assert.True(t, found, "expected latency histogram family")
}

func TestCollectEngineSnapshot(t *testing.T) {
	m := shopauth.NewMetrics(shopauth.MetricsConfig{Enabled: true})
	m.Inc(shopauth.MetricLoginFailure)
	m.Inc(shopauth.MetricLoginFailure)
	exp := NewPrometheusExporterFromSource(fakeSource{snapshot: m.Snapshot()})

	expected := `
# HELP shopauth_login_failure_total Login attempts rejected as invalid credentials.
# TYPE shopauth_login_failure_total counter
shopauth_login_failure_total 2
`
	require.NoError(t, testutil.CollectAndCompare(exp, strings.NewReader(expected), "shopauth_login_failure_total"))
}

func TestHandlerServesExposition(t *testing.T) {
	snapshot := emptySnapshot()
	snapshot.Counters[shopauth.MetricLoginSuccess] = 1
	exp := NewPrometheusExporterFromSource(fakeSource{snapshot: snapshot})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "shopauth_login_success_total 1")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func BenchmarkCollect(b *testing.B) {
	snapshot := emptySnapshot()
	snapshot.Counters[shopauth.MetricLoginSuccess] = 1000
	snapshot.Counters[shopauth.MetricLoginFailure] = 40
	snapshot.Counters[shopauth.MetricLoginLockedOut] = 8
	snapshot.Histograms[shopauth.MetricLoginLatency] = []uint64{10, 20, 30, 40, 50, 60, 70, 80}
	exp := NewPrometheusExporterFromSource(fakeSource{snapshot: snapshot})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = testutil.CollectAndCount(exp)
	}
}
