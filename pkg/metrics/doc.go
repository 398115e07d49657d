// Package metrics defines and registers Prometheus metrics for kuberbac,
// covering SubjectAccessReview webhook decisions, evaluation latency and the
// size of the loaded RBAC snapshot.
package metrics
