// Package webhooks contains the SubjectAccessReview authorization webhook.
// The handler speaks the authorization.k8s.io/v1 webhook contract: it decodes
// a SubjectAccessReview, evaluates it against the loaded RBAC store and
// answers with the decision in the review's status.
package webhooks
