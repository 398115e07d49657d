// Package authorizer implements Kubernetes RBAC evaluation over an in-memory
// snapshot of Role, ClusterRole, RoleBinding and ClusterRoleBinding objects.
// Authorization is purely additive: a request is allowed iff at least one
// binding attaches a role whose rules match it, and denied otherwise.
package authorizer
