package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m Metrics) string {
	t.Helper()

	handler := m.HTTPHandler()
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	return w.Body.String()
}

// TestNewPrometheusMetrics verifies constructor creates valid instance
func TestNewPrometheusMetrics(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
	}{
		{name: "Default namespace", namespace: "authz"},
		{name: "Custom namespace", namespace: "my_app"},
		{name: "Underscored namespace", namespace: "authz_service"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewPrometheusMetrics(tt.namespace)
			require.NotNil(t, m)
			require.NotNil(t, m.HTTPHandler())

			body := scrape(t, m)
			assert.Contains(t, body, tt.namespace+"_")
		})
	}
}

// TestPrometheusMetrics_ChecksByEffectAndLayer verifies labeled counters
func TestPrometheusMetrics_ChecksByEffectAndLayer(t *testing.T) {
	m := NewPrometheusMetrics("authz_test")

	m.RecordCheck("allow", "direct", 5*time.Microsecond)
	m.RecordCheck("allow", "direct", 7*time.Microsecond)
	m.RecordCheck("allow", "super_admin", 2*time.Microsecond)
	m.RecordCheck("deny", "tenant_policy", 3*time.Microsecond)

	body := scrape(t, m)

	assert.Contains(t, body, `authz_test_checks_total{effect="allow",layer="direct"} 2`)
	assert.Contains(t, body, `authz_test_checks_total{effect="allow",layer="super_admin"} 1`)
	assert.Contains(t, body, `authz_test_checks_total{effect="deny",layer="tenant_policy"} 1`)
}

// TestPrometheusMetrics_CheckDurationHistogram verifies histogram recording
func TestPrometheusMetrics_CheckDurationHistogram(t *testing.T) {
	m := NewPrometheusMetrics("authz_test")

	durations := []time.Duration{
		1 * time.Microsecond,
		5 * time.Microsecond,
		10 * time.Microsecond,
		25 * time.Microsecond,
		50 * time.Microsecond,
		100 * time.Microsecond,
		500 * time.Microsecond,
		1000 * time.Microsecond,
	}
	for _, d := range durations {
		m.RecordCheck("allow", "direct", d)
	}

	body := scrape(t, m)

	assert.Contains(t, body, "authz_test_check_duration_microseconds_count 8")
	// 1+5+10+25+50+100+500+1000 = 1691
	assert.Contains(t, body, "authz_test_check_duration_microseconds_sum 1691")
	assert.Contains(t, body, "authz_test_check_duration_microseconds_bucket")
	assert.Contains(t, body, `le="5"`)
	assert.Contains(t, body, `le="1000"`)
}

// TestPrometheusMetrics_CacheCounters verifies cache hit/miss counters
func TestPrometheusMetrics_CacheCounters(t *testing.T) {
	m := NewPrometheusMetrics("authz_test")

	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheMiss()

	body := scrape(t, m)

	assert.Contains(t, body, "authz_test_cache_hits_total 2")
	assert.Contains(t, body, "authz_test_cache_misses_total 1")
}

// TestPrometheusMetrics_ActiveRequests verifies gauge increment/decrement
func TestPrometheusMetrics_ActiveRequests(t *testing.T) {
	m := NewPrometheusMetrics("authz_test")

	body := scrape(t, m)
	assert.Contains(t, body, "authz_test_active_requests 0")

	for i := 0; i < 5; i++ {
		m.IncActiveRequests()
	}
	body = scrape(t, m)
	assert.Contains(t, body, "authz_test_active_requests 5")

	m.DecActiveRequests()
	m.DecActiveRequests()
	m.DecActiveRequests()
	body = scrape(t, m)
	assert.Contains(t, body, "authz_test_active_requests 2")
}

// TestPrometheusMetrics_PolicyEvaluations verifies per-type outcome counters
func TestPrometheusMetrics_PolicyEvaluations(t *testing.T) {
	m := NewPrometheusMetrics("authz_test")

	m.RecordPolicyEvaluation("TIME_BASED", "ALLOW")
	m.RecordPolicyEvaluation("TIME_BASED", "NOT_APPLICABLE")
	m.RecordPolicyEvaluation("ATTRIBUTE_BASED", "DENY")

	body := scrape(t, m)

	assert.Contains(t, body, `authz_test_policy_evaluations_total{outcome="ALLOW",type="TIME_BASED"} 1`)
	assert.Contains(t, body, `authz_test_policy_evaluations_total{outcome="NOT_APPLICABLE",type="TIME_BASED"} 1`)
	assert.Contains(t, body, `authz_test_policy_evaluations_total{outcome="DENY",type="ATTRIBUTE_BASED"} 1`)
}

// TestPrometheusMetrics_EventCounters verifies publish/consume counters
func TestPrometheusMetrics_EventCounters(t *testing.T) {
	m := NewPrometheusMetrics("authz_test")

	m.RecordEventPublished("nnipa.events.authz.checked", "published")
	m.RecordEventPublished("nnipa.events.authz.checked", "dropped")
	m.RecordEventConsumed("nnipa.events.tenant.created", "processed")
	m.RecordEventConsumed("nnipa.events.tenant.created", "dead_lettered")

	body := scrape(t, m)

	assert.Contains(t, body, `authz_test_events_published_total{status="published",topic="nnipa.events.authz.checked"} 1`)
	assert.Contains(t, body, `authz_test_events_published_total{status="dropped",topic="nnipa.events.authz.checked"} 1`)
	assert.Contains(t, body, `authz_test_events_consumed_total{status="processed",topic="nnipa.events.tenant.created"} 1`)
	assert.Contains(t, body, `authz_test_events_consumed_total{status="dead_lettered",topic="nnipa.events.tenant.created"} 1`)
}

// TestPrometheusMetrics_GaugeSet verifies gauge set operations
func TestPrometheusMetrics_GaugeSet(t *testing.T) {
	m := NewPrometheusMetrics("authz_test")

	m.UpdatePublishQueueDepth(100)
	m.UpdateCacheEntries(2500)

	body := scrape(t, m)
	assert.Contains(t, body, "authz_test_events_publish_queue_depth 100")
	assert.Contains(t, body, "authz_test_cache_entries 2500")

	m.UpdatePublishQueueDepth(75)

	body = scrape(t, m)
	assert.Contains(t, body, "authz_test_events_publish_queue_depth 75")
}

// TestPrometheusMetrics_SweeperCounters verifies sweeps accumulate by kind
func TestPrometheusMetrics_SweeperCounters(t *testing.T) {
	m := NewPrometheusMetrics("authz_test")

	m.RecordSweep("policies", 3)
	m.RecordSweep("policies", 2)
	m.RecordSweep("user_roles", 7)
	m.RecordSweep("cross_tenant_grants", 0)

	body := scrape(t, m)

	assert.Contains(t, body, `authz_test_sweeper_removed_total{kind="policies"} 5`)
	assert.Contains(t, body, `authz_test_sweeper_removed_total{kind="user_roles"} 7`)
	assert.Contains(t, body, `authz_test_sweeper_removed_total{kind="cross_tenant_grants"} 0`)
}

// TestPrometheusMetrics_Registry_StandardCollectors verifies Go runtime metrics
func TestPrometheusMetrics_Registry_StandardCollectors(t *testing.T) {
	m := NewPrometheusMetrics("authz_test")

	body := scrape(t, m)

	assert.Contains(t, body, "go_goroutines")
	assert.Contains(t, body, "go_memstats_alloc_bytes")
	assert.Contains(t, body, "process_cpu_seconds_total")
	assert.Contains(t, body, "process_resident_memory_bytes")
}

// TestPrometheusMetrics_MetricNamingConventions verifies snake_case naming
func TestPrometheusMetrics_MetricNamingConventions(t *testing.T) {
	m := NewPrometheusMetrics("authz_test")

	m.RecordCheck("allow", "direct", 5*time.Microsecond)
	m.RecordError("store_unavailable")
	m.RecordPolicyEvaluation("CONDITIONAL", "ALLOW")
	m.RecordEventPublished("nnipa.events.authz.checked", "published")
	m.RecordEventConsumed("nnipa.events.tenant.created", "processed")
	m.RecordSweep("policies", 1)

	body := scrape(t, m)

	expectedMetrics := []string{
		"authz_test_checks_total",
		"authz_test_check_duration_microseconds",
		"authz_test_cache_hits_total",
		"authz_test_cache_misses_total",
		"authz_test_cache_entries",
		"authz_test_errors_total",
		"authz_test_active_requests",
		"authz_test_policy_evaluations_total",
		"authz_test_events_published_total",
		"authz_test_events_consumed_total",
		"authz_test_events_publish_queue_depth",
		"authz_test_sweeper_removed_total",
	}

	for _, metric := range expectedMetrics {
		assert.Contains(t, body, metric,
			"Expected metric to be present: %s", metric)
	}
}

// TestPrometheusMetrics_TypeAnnotations verifies TYPE annotations
func TestPrometheusMetrics_TypeAnnotations(t *testing.T) {
	m := NewPrometheusMetrics("authz_test")

	body := scrape(t, m)

	assert.Contains(t, body, "# TYPE authz_test_checks_total counter")
	assert.Contains(t, body, "# TYPE authz_test_active_requests gauge")
	assert.Contains(t, body, "# TYPE authz_test_check_duration_microseconds histogram")
}
