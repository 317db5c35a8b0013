// Package metrics provides observability for the authorization service
package metrics

import (
	"net/http"
	"time"
)

// Metrics records what the service does: authorization checks, cache
// behavior, policy evaluations, event traffic and sweeper activity.
type Metrics interface {
	// Authorization checks
	RecordCheck(effect, layer string, duration time.Duration)
	RecordCacheHit()
	RecordCacheMiss()
	RecordError(errorType string)
	IncActiveRequests()
	DecActiveRequests()

	// Policy evaluation
	RecordPolicyEvaluation(policyType, outcome string)

	// Event bus
	RecordEventPublished(topic, status string) // published, dropped, failed
	RecordEventConsumed(topic, status string)  // processed, retried, dead_lettered
	UpdatePublishQueueDepth(depth int)

	// Expiry sweeper and decision cache occupancy
	RecordSweep(kind string, removed int)
	UpdateCacheEntries(count int)

	// HTTP handler for Prometheus scraping
	HTTPHandler() http.Handler
}

// NoOpMetrics provides a no-op implementation for testing/disabled monitoring
type NoOpMetrics struct{}

// NewNoOpMetrics creates a new no-op metrics instance
func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

func (n *NoOpMetrics) RecordCheck(effect, layer string, duration time.Duration) {}
func (n *NoOpMetrics) RecordCacheHit()                                          {}
func (n *NoOpMetrics) RecordCacheMiss()                                         {}
func (n *NoOpMetrics) RecordError(errorType string)                             {}
func (n *NoOpMetrics) IncActiveRequests()                                       {}
func (n *NoOpMetrics) DecActiveRequests()                                       {}

func (n *NoOpMetrics) RecordPolicyEvaluation(policyType, outcome string) {}

func (n *NoOpMetrics) RecordEventPublished(topic, status string) {}
func (n *NoOpMetrics) RecordEventConsumed(topic, status string)  {}
func (n *NoOpMetrics) UpdatePublishQueueDepth(depth int)         {}

func (n *NoOpMetrics) RecordSweep(kind string, removed int) {}
func (n *NoOpMetrics) UpdateCacheEntries(count int)         {}

// HTTPHandler returns a no-op handler
func (n *NoOpMetrics) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("# NoOp metrics - monitoring disabled\n"))
	})
}
