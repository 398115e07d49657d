package webhooks

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	authzv1 "k8s.io/api/authorization/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/authzkit/kuberbac/pkg/authorizer"
	"github.com/authzkit/kuberbac/pkg/metrics"
	"github.com/authzkit/kuberbac/pkg/tracing"
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
// This prevents denial-of-service attacks via oversized request bodies.
const maxRequestBodySize = 1 << 20 // 1MB

// Authorizer implements an HTTP handler for SubjectAccessReview requests.
// Evaluation runs against the in-memory store, so no API-server round trip
// happens per request. Limiter may be nil to disable rate limiting.
type Authorizer struct {
	Evaluator *authorizer.Evaluator
	Log       logr.Logger
	Tracer    trace.Tracer
	Limiter   *rate.Limiter
}

func (wa *Authorizer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	if wa.Limiter != nil && !wa.Limiter.Allow() {
		metrics.AuthorizerRateLimitedTotal.Inc()
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	// Limit request body size to prevent OOM from oversized payloads
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() { _ = r.Body.Close() }()

	var sar authzv1.SubjectAccessReview
	if err := json.NewDecoder(r.Body).Decode(&sar); err != nil {
		wa.Log.Error(err, "failed to decode SubjectAccessReview request")
		metrics.AuthorizerRequestsTotal.WithLabelValues(metrics.AuthorizerDecisionError).Inc()
		metrics.AuthorizerRequestDuration.WithLabelValues(metrics.AuthorizerDecisionError).Observe(time.Since(start).Seconds())
		http.Error(w, "failed to decode request body", http.StatusBadRequest)
		return
	}

	attrs := attributesFromSpec(sar.Spec)

	_, span := wa.Tracer.Start(ctx, "authorize")
	defer span.End()
	span.SetAttributes(
		tracing.AttrUser.String(attrs.User),
		tracing.AttrVerb.String(attrs.Verb),
	)
	if attrs.ResourceRequest {
		wa.Log.Info("received SubjectAccessReview",
			"namespace", attrs.Namespace,
			"user", attrs.User,
			"groups", attrs.Groups,
			"verb", attrs.Verb,
			"apiGroup", attrs.APIGroup,
			"resource", attrs.Resource)
		span.SetAttributes(
			tracing.AttrAPIGroup.String(attrs.APIGroup),
			tracing.AttrResource.String(attrs.Resource),
			tracing.AttrNamespace.String(attrs.Namespace),
		)
	} else {
		wa.Log.Info("received SubjectAccessReview",
			"user", attrs.User,
			"groups", attrs.Groups,
			"verb", attrs.Verb,
			"path", attrs.Path)
		span.SetAttributes(tracing.AttrPath.String(attrs.Path))
	}

	result := wa.Evaluator.Authorize(attrs)

	decision := metrics.AuthorizerDecisionDenied
	if result.Allowed {
		decision = metrics.AuthorizerDecisionAllowed
	}
	metrics.AuthorizerRequestsTotal.WithLabelValues(decision).Inc()
	metrics.AuthorizerRequestDuration.WithLabelValues(decision).Observe(time.Since(start).Seconds())
	span.SetAttributes(
		tracing.AttrDecision.String(decision),
		tracing.AttrReason.String(result.Reason),
		tracing.AttrGrantCount.Int(len(result.Grants)),
	)

	response := authzv1.SubjectAccessReview{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "authorization.k8s.io/v1",
			Kind:       "SubjectAccessReview",
		},
		Status: authzv1.SubjectAccessReviewStatus{
			Allowed: result.Allowed,
			Reason:  result.Reason,
		},
	}

	wa.Log.V(1).Info("SubjectAccessReview decision", "allowed", result.Allowed, "reason", result.Reason)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		wa.Log.Error(err, "failed to encode SubjectAccessReview response")
		http.Error(w, "internal evaluation error", http.StatusInternalServerError)
	}
}

// attributesFromSpec translates the review spec into evaluator attributes.
// When neither attribute block is set the result matches nothing, so the
// evaluator denies by default.
func attributesFromSpec(spec authzv1.SubjectAccessReviewSpec) authorizer.Attributes {
	attrs := authorizer.Attributes{
		User:   spec.User,
		Groups: spec.Groups,
	}
	switch {
	case spec.ResourceAttributes != nil:
		ra := spec.ResourceAttributes
		attrs.ResourceRequest = true
		attrs.Verb = ra.Verb
		attrs.APIGroup = ra.Group
		attrs.Resource = ra.Resource
		attrs.Subresource = ra.Subresource
		attrs.Name = ra.Name
		attrs.Namespace = ra.Namespace
	case spec.NonResourceAttributes != nil:
		attrs.Verb = spec.NonResourceAttributes.Verb
		attrs.Path = spec.NonResourceAttributes.Path
	}
	return attrs
}
