package authorizer

import (
	"fmt"
	"slices"
	"strings"

	rbacv1 "k8s.io/api/rbac/v1"
)

// RuleAllows reports whether a single policy rule matches the request.
// Matching follows the apiserver's RBAC semantics: "*" is a full wildcard
// for verbs, apiGroups and resources, "*/sub" matches the subresource of any
// resource, an empty resourceNames list matches every object name, and
// nonResourceURLs may end in "/*" for prefix matching.
func RuleAllows(rule rbacv1.PolicyRule, a Attributes) bool {
	if a.ResourceRequest {
		return verbMatches(rule.Verbs, a.Verb) &&
			apiGroupMatches(rule.APIGroups, a.APIGroup) &&
			resourceMatches(rule.Resources, a.Resource, a.Subresource) &&
			resourceNameMatches(rule.ResourceNames, a.Name)
	}
	return verbMatches(rule.Verbs, a.Verb) &&
		nonResourceURLMatches(rule.NonResourceURLs, a.Path)
}

func verbMatches(verbs []string, verb string) bool {
	for _, v := range verbs {
		if v == rbacv1.VerbAll || v == verb {
			return true
		}
	}
	return false
}

func apiGroupMatches(groups []string, group string) bool {
	for _, g := range groups {
		if g == rbacv1.APIGroupAll || g == group {
			return true
		}
	}
	return false
}

func resourceMatches(resources []string, resource, subresource string) bool {
	combined := resource
	if subresource != "" {
		combined = resource + "/" + subresource
	}
	for _, r := range resources {
		if r == rbacv1.ResourceAll || r == combined {
			return true
		}
		// "*/status" grants the status subresource of every resource.
		if subresource != "" && r == rbacv1.ResourceAll+"/"+subresource {
			return true
		}
	}
	return false
}

func resourceNameMatches(names []string, name string) bool {
	if len(names) == 0 {
		return true
	}
	// A rule constrained to specific object names never matches collection
	// verbs where no name is available.
	if name == "" {
		return false
	}
	return slices.Contains(names, name)
}

// RuleString is a compact one-line rendering of a policy rule, e.g.
// `get,list pods "web-0" (apps)`.
func RuleString(rule rbacv1.PolicyRule) string {
	result := strings.Join(rule.Verbs, ",")
	if len(rule.Resources) > 0 {
		result += " " + strings.Join(rule.Resources, ",")
	}
	if len(rule.ResourceNames) > 0 {
		result += fmt.Sprintf(" %q", strings.Join(rule.ResourceNames, ","))
	}
	if len(rule.NonResourceURLs) > 0 {
		result += " " + strings.Join(rule.NonResourceURLs, ",")
	}
	if len(rule.APIGroups) > 1 || (len(rule.APIGroups) == 1 && rule.APIGroups[0] != "") {
		result += fmt.Sprintf(" (%s)", strings.Join(rule.APIGroups, ","))
	}
	return result
}

func nonResourceURLMatches(urls []string, path string) bool {
	for _, u := range urls {
		if u == rbacv1.NonResourceAll || u == path {
			return true
		}
		if prefix, found := strings.CutSuffix(u, "/*"); found && strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}
