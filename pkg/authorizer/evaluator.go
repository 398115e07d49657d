package authorizer

import (
	"fmt"
	"sort"

	"github.com/go-logr/logr"
	rbacv1 "k8s.io/api/rbac/v1"
)

// Scope records whether a grant came through a namespaced RoleBinding or a
// ClusterRoleBinding.
type Scope string

const (
	ScopeNamespace Scope = "namespace"
	ScopeCluster   Scope = "cluster"
)

// ObjectRef identifies an RBAC object in decision output.
type ObjectRef struct {
	Kind      string
	Namespace string
	Name      string
}

func (r ObjectRef) String() string {
	if r.Namespace == "" {
		return r.Kind + "/" + r.Name
	}
	return r.Kind + "/" + r.Namespace + "/" + r.Name
}

// Grant is one path by which a request is allowed: the binding that attaches
// the subject, the role it references and the specific rule that matched.
type Grant struct {
	Binding ObjectRef
	Role    ObjectRef
	Rule    rbacv1.PolicyRule
	Scope   Scope
}

// Decision is the outcome of evaluating one request. Grants holds every
// matching path, not just the first, so callers can explain the decision.
type Decision struct {
	Allowed bool
	Reason  string
	Grants  []Grant
}

// SubjectGrant pairs a binding subject with the grants that give it the
// queried permission.
type SubjectGrant struct {
	Subject rbacv1.Subject
	Grants  []Grant
}

// Evaluator answers authorization queries against a Store.
type Evaluator struct {
	store *Store
	log   logr.Logger
}

// NewEvaluator returns an Evaluator over the given store.
func NewEvaluator(store *Store, log logr.Logger) *Evaluator {
	return &Evaluator{store: store, log: log}
}

// Authorize evaluates the request against every applicable binding and
// returns the decision with all matching grants. ClusterRoleBindings apply
// to every request; RoleBindings only to resource requests inside their own
// namespace. Nothing can deny: an empty grant list is the only path to a
// denied decision.
func (e *Evaluator) Authorize(a Attributes) Decision {
	groups := effectiveGroups(a)
	var grants []Grant

	for _, crb := range e.store.ClusterRoleBindings() {
		if !anySubjectMatches(crb.Subjects, a.User, groups) {
			continue
		}
		rules, found := e.store.RoleRefRules("", crb.RoleRef)
		if !found {
			e.log.V(1).Info("skipping binding with unresolvable roleRef",
				"clusterRoleBinding", crb.Name, "roleRef", crb.RoleRef.Name)
			continue
		}
		grants = append(grants, matchingGrants(rules, a,
			ObjectRef{Kind: KindClusterRoleBinding, Name: crb.Name},
			ObjectRef{Kind: crb.RoleRef.Kind, Name: crb.RoleRef.Name},
			ScopeCluster)...)
	}

	if a.ResourceRequest && a.Namespace != "" {
		for _, rb := range e.store.RoleBindings(a.Namespace) {
			if !anySubjectMatches(rb.Subjects, a.User, groups) {
				continue
			}
			rules, found := e.store.RoleRefRules(rb.Namespace, rb.RoleRef)
			if !found {
				e.log.V(1).Info("skipping binding with unresolvable roleRef",
					"roleBinding", rb.Namespace+"/"+rb.Name, "roleRef", rb.RoleRef.Name)
				continue
			}
			roleRef := ObjectRef{Kind: rb.RoleRef.Kind, Name: rb.RoleRef.Name}
			if rb.RoleRef.Kind == KindRole {
				roleRef.Namespace = rb.Namespace
			}
			grants = append(grants, matchingGrants(rules, a,
				ObjectRef{Kind: KindRoleBinding, Namespace: rb.Namespace, Name: rb.Name},
				roleRef,
				ScopeNamespace)...)
		}
	}

	if len(grants) == 0 {
		return Decision{Allowed: false, Reason: "no RBAC policy matched"}
	}
	first := grants[0]
	return Decision{
		Allowed: true,
		Reason:  fmt.Sprintf("allowed by %s via %s", first.Binding, first.Role),
		Grants:  grants,
	}
}

// WhoCan returns every subject that some binding and role path allows to
// perform the request, ignoring the User/Groups fields of the attributes.
// Results are sorted by subject key; each subject lists all of its grants.
func (e *Evaluator) WhoCan(a Attributes) []SubjectGrant {
	bySubject := map[string]*SubjectGrant{}

	collect := func(subjects []rbacv1.Subject, grant Grant) {
		for _, subject := range subjects {
			key := SubjectKey(subject)
			sg, ok := bySubject[key]
			if !ok {
				sg = &SubjectGrant{Subject: subject}
				bySubject[key] = sg
			}
			sg.Grants = append(sg.Grants, grant)
		}
	}

	for _, crb := range e.store.ClusterRoleBindings() {
		rules, found := e.store.RoleRefRules("", crb.RoleRef)
		if !found {
			continue
		}
		for _, grant := range matchingGrants(rules, a,
			ObjectRef{Kind: KindClusterRoleBinding, Name: crb.Name},
			ObjectRef{Kind: crb.RoleRef.Kind, Name: crb.RoleRef.Name},
			ScopeCluster) {
			collect(crb.Subjects, grant)
		}
	}

	if a.ResourceRequest && a.Namespace != "" {
		for _, rb := range e.store.RoleBindings(a.Namespace) {
			rules, found := e.store.RoleRefRules(rb.Namespace, rb.RoleRef)
			if !found {
				continue
			}
			roleRef := ObjectRef{Kind: rb.RoleRef.Kind, Name: rb.RoleRef.Name}
			if rb.RoleRef.Kind == KindRole {
				roleRef.Namespace = rb.Namespace
			}
			for _, grant := range matchingGrants(rules, a,
				ObjectRef{Kind: KindRoleBinding, Namespace: rb.Namespace, Name: rb.Name},
				roleRef,
				ScopeNamespace) {
				collect(rb.Subjects, grant)
			}
		}
	}

	out := make([]SubjectGrant, 0, len(bySubject))
	for _, sg := range bySubject {
		out = append(out, *sg)
	}
	sort.Slice(out, func(i, j int) bool {
		return SubjectKey(out[i].Subject) < SubjectKey(out[j].Subject)
	})
	return out
}

func matchingGrants(rules []rbacv1.PolicyRule, a Attributes, binding, role ObjectRef, scope Scope) []Grant {
	var grants []Grant
	for _, rule := range rules {
		if RuleAllows(rule, a) {
			grants = append(grants, Grant{Binding: binding, Role: role, Rule: rule, Scope: scope})
		}
	}
	return grants
}

func anySubjectMatches(subjects []rbacv1.Subject, user string, groups []string) bool {
	for _, subject := range subjects {
		if SubjectMatches(subject, user, groups) {
			return true
		}
	}
	return false
}

func effectiveGroups(a Attributes) []string {
	defaults := DefaultGroups(a.User)
	if len(defaults) == 0 {
		return a.Groups
	}
	return MergeStrings(a.Groups, defaults)
}

// MergeStrings returns the deduplicated union of two string slices,
// preserving first-seen order.
func MergeStrings(a, b []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
