package authorizer

import "strings"

// Well-known usernames and groups synthesized by the Kubernetes
// authentication layer.
const (
	ServiceAccountUsernamePrefix = "system:serviceaccount:"

	GroupServiceAccounts = "system:serviceaccounts"
	GroupAuthenticated   = "system:authenticated"
)

// Attributes describes a single authorization request: who wants to perform
// which verb on what. Exactly one of the resource fields or Path is
// meaningful, selected by ResourceRequest.
type Attributes struct {
	// User is the authenticated username, e.g. "jane" or
	// "system:serviceaccount:kube-system:deployer".
	User string

	// Groups are the groups the user belongs to. Service-account derived
	// groups are added automatically during evaluation.
	Groups []string

	Verb string

	// Resource request fields. APIGroup is "" for the core group.
	APIGroup    string
	Resource    string
	Subresource string
	Name        string

	// Namespace is empty for cluster-scoped resource requests.
	Namespace string

	// Path is the URL path of a non-resource request, e.g. "/healthz".
	Path string

	// ResourceRequest selects between resource and non-resource matching.
	ResourceRequest bool
}

// FullResource returns the resource joined with its subresource, the form
// rules are matched against (e.g. "pods/log").
func (a Attributes) FullResource() string {
	if a.Subresource == "" {
		return a.Resource
	}
	return a.Resource + "/" + a.Subresource
}

// ServiceAccountUsername returns the username the apiserver assigns to a
// service account.
func ServiceAccountUsername(namespace, name string) string {
	return ServiceAccountUsernamePrefix + namespace + ":" + name
}

// ParseServiceAccountUsername splits a "system:serviceaccount:<ns>:<name>"
// username. ok is false for any other username shape.
func ParseServiceAccountUsername(username string) (namespace, name string, ok bool) {
	rest, found := strings.CutPrefix(username, ServiceAccountUsernamePrefix)
	if !found {
		return "", "", false
	}
	namespace, name, ok = strings.Cut(rest, ":")
	if !ok || namespace == "" || name == "" || strings.Contains(name, ":") {
		return "", "", false
	}
	return namespace, name, true
}

// DefaultGroups returns the groups the authentication layer would add for
// the given username. For service-account usernames this is
// system:serviceaccounts, system:serviceaccounts:<ns> and
// system:authenticated; for anything else the caller is expected to supply
// groups explicitly and nil is returned.
func DefaultGroups(username string) []string {
	ns, _, ok := ParseServiceAccountUsername(username)
	if !ok {
		return nil
	}
	return []string{
		GroupServiceAccounts,
		GroupServiceAccounts + ":" + ns,
		GroupAuthenticated,
	}
}
