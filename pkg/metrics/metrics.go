package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

const (
	// Namespace is the Prometheus metrics namespace for kuberbac
	Namespace = "kuberbac"
)

// Decision label values for AuthorizerRequestsTotal.
const (
	AuthorizerDecisionAllowed = "allowed"
	AuthorizerDecisionDenied  = "denied"
	AuthorizerDecisionError   = "error"
)

var (
	// AuthorizerRequestsTotal counts SubjectAccessReview requests by decision
	AuthorizerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "authorizer_requests_total",
			Help:      "Total number of SubjectAccessReview requests by decision",
		},
		[]string{"decision"},
	)

	// AuthorizerRequestDuration measures end-to-end SubjectAccessReview
	// handling time in seconds
	AuthorizerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "authorizer_request_duration_seconds",
			Help:      "Duration of SubjectAccessReview handling in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"decision"},
	)

	// AuthorizerRateLimitedTotal counts requests rejected by the rate limiter
	AuthorizerRateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "authorizer_rate_limited_total",
			Help:      "Total number of SubjectAccessReview requests rejected by the rate limiter",
		},
	)

	// StoreObjects tracks the number of loaded RBAC objects per kind
	StoreObjects = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "store_objects",
			Help:      "Number of RBAC objects in the loaded snapshot per kind",
		},
		[]string{"kind"},
	)
)

func init() {
	// Register all metrics with controller-runtime's registry
	metrics.Registry.MustRegister(
		AuthorizerRequestsTotal,
		AuthorizerRequestDuration,
		AuthorizerRateLimitedTotal,
		StoreObjects,
	)
}

// SetStoreObjects publishes per-kind object counts of a loaded snapshot.
func SetStoreObjects(counts map[string]int) {
	for kind, n := range counts {
		StoreObjects.WithLabelValues(kind).Set(float64(n))
	}
}
