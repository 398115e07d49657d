package authorizer

import (
	"fmt"
	"slices"
	"sort"

	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
)

// Kind names as stored in Counts and used by lint findings.
const (
	KindRole               = "Role"
	KindClusterRole        = "ClusterRole"
	KindRoleBinding        = "RoleBinding"
	KindClusterRoleBinding = "ClusterRoleBinding"
	KindServiceAccount     = "ServiceAccount"
)

// Store holds a point-in-time snapshot of the RBAC objects authorization is
// evaluated against. It is not safe for concurrent mutation; populate it
// fully before sharing it between goroutines.
type Store struct {
	roles               map[string]map[string]*rbacv1.Role // namespace -> name
	clusterRoles        map[string]*rbacv1.ClusterRole
	roleBindings        map[string]map[string]*rbacv1.RoleBinding // namespace -> name
	clusterRoleBindings map[string]*rbacv1.ClusterRoleBinding
	serviceAccounts     map[string]map[string]*corev1.ServiceAccount

	counts map[string]int
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		roles:               map[string]map[string]*rbacv1.Role{},
		clusterRoles:        map[string]*rbacv1.ClusterRole{},
		roleBindings:        map[string]map[string]*rbacv1.RoleBinding{},
		clusterRoleBindings: map[string]*rbacv1.ClusterRoleBinding{},
		serviceAccounts:     map[string]map[string]*corev1.ServiceAccount{},
		counts:              map[string]int{},
	}
}

// Add stores one of the supported object kinds. Adding an object with the
// same namespace/name as an existing one replaces it, mirroring a
// declarative re-apply.
func (s *Store) Add(obj runtime.Object) error {
	switch o := obj.(type) {
	case *rbacv1.Role:
		if s.roles[o.Namespace] == nil {
			s.roles[o.Namespace] = map[string]*rbacv1.Role{}
		}
		if _, exists := s.roles[o.Namespace][o.Name]; !exists {
			s.counts[KindRole]++
		}
		s.roles[o.Namespace][o.Name] = o
	case *rbacv1.ClusterRole:
		if _, exists := s.clusterRoles[o.Name]; !exists {
			s.counts[KindClusterRole]++
		}
		s.clusterRoles[o.Name] = o
	case *rbacv1.RoleBinding:
		if s.roleBindings[o.Namespace] == nil {
			s.roleBindings[o.Namespace] = map[string]*rbacv1.RoleBinding{}
		}
		if _, exists := s.roleBindings[o.Namespace][o.Name]; !exists {
			s.counts[KindRoleBinding]++
		}
		s.roleBindings[o.Namespace][o.Name] = o
	case *rbacv1.ClusterRoleBinding:
		if _, exists := s.clusterRoleBindings[o.Name]; !exists {
			s.counts[KindClusterRoleBinding]++
		}
		s.clusterRoleBindings[o.Name] = o
	case *corev1.ServiceAccount:
		if s.serviceAccounts[o.Namespace] == nil {
			s.serviceAccounts[o.Namespace] = map[string]*corev1.ServiceAccount{}
		}
		if _, exists := s.serviceAccounts[o.Namespace][o.Name]; !exists {
			s.counts[KindServiceAccount]++
		}
		s.serviceAccounts[o.Namespace][o.Name] = o
	default:
		return fmt.Errorf("unsupported object type %T", obj)
	}
	return nil
}

// Counts returns how many objects of each kind were added.
func (s *Store) Counts() map[string]int {
	out := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

// Role looks up a namespaced Role.
func (s *Store) Role(namespace, name string) (*rbacv1.Role, bool) {
	r, ok := s.roles[namespace][name]
	return r, ok
}

// ClusterRole looks up a ClusterRole by name.
func (s *Store) ClusterRole(name string) (*rbacv1.ClusterRole, bool) {
	cr, ok := s.clusterRoles[name]
	return cr, ok
}

// ServiceAccount looks up a ServiceAccount.
func (s *Store) ServiceAccount(namespace, name string) (*corev1.ServiceAccount, bool) {
	sa, ok := s.serviceAccounts[namespace][name]
	return sa, ok
}

// HasServiceAccounts reports whether any ServiceAccount objects were loaded,
// so callers can distinguish "none referenced exist" from "none were given".
func (s *Store) HasServiceAccounts() bool {
	return s.counts[KindServiceAccount] > 0
}

// RoleBindings returns the RoleBindings of one namespace, sorted by name.
func (s *Store) RoleBindings(namespace string) []*rbacv1.RoleBinding {
	return sortedValues(s.roleBindings[namespace])
}

// AllRoleBindings returns every RoleBinding, sorted by namespace then name.
func (s *Store) AllRoleBindings() []*rbacv1.RoleBinding {
	var out []*rbacv1.RoleBinding
	for _, ns := range sortedKeys(s.roleBindings) {
		out = append(out, sortedValues(s.roleBindings[ns])...)
	}
	return out
}

// ClusterRoleBindings returns every ClusterRoleBinding, sorted by name.
func (s *Store) ClusterRoleBindings() []*rbacv1.ClusterRoleBinding {
	return sortedValues(s.clusterRoleBindings)
}

// Roles returns the Roles of one namespace, sorted by name.
func (s *Store) Roles(namespace string) []*rbacv1.Role {
	return sortedValues(s.roles[namespace])
}

// AllRoles returns every Role, sorted by namespace then name.
func (s *Store) AllRoles() []*rbacv1.Role {
	var out []*rbacv1.Role
	for _, ns := range sortedKeys(s.roles) {
		out = append(out, sortedValues(s.roles[ns])...)
	}
	return out
}

// ClusterRoles returns every ClusterRole, sorted by name.
func (s *Store) ClusterRoles() []*rbacv1.ClusterRole {
	return sortedValues(s.clusterRoles)
}

// Namespaces returns the sorted union of namespaces that hold any Role,
// RoleBinding or ServiceAccount.
func (s *Store) Namespaces() []string {
	seen := map[string]struct{}{}
	for ns := range s.roles {
		seen[ns] = struct{}{}
	}
	for ns := range s.roleBindings {
		seen[ns] = struct{}{}
	}
	for ns := range s.serviceAccounts {
		seen[ns] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for ns := range seen {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// RoleRefRules resolves a binding's roleRef to the effective rule list.
// Role refs resolve in the binding's namespace, ClusterRole refs resolve
// cluster-wide including aggregation. found is false for dangling refs and
// unknown ref kinds, which grant nothing.
func (s *Store) RoleRefRules(namespace string, ref rbacv1.RoleRef) (rules []rbacv1.PolicyRule, found bool) {
	switch ref.Kind {
	case KindRole:
		r, ok := s.Role(namespace, ref.Name)
		if !ok {
			return nil, false
		}
		return r.Rules, true
	case KindClusterRole:
		if _, ok := s.ClusterRole(ref.Name); !ok {
			return nil, false
		}
		return s.ResolveClusterRoleRules(ref.Name), true
	default:
		return nil, false
	}
}

// ResolveClusterRoleRules returns the rules of a ClusterRole with its
// aggregationRule expanded: the union of its own rules and those of every
// ClusterRole whose labels match one of the aggregation selectors. In a live
// cluster the controller manager materializes this union into the Rules
// field; an offline snapshot has to compute it. Resolution is cycle-safe.
func (s *Store) ResolveClusterRoleRules(name string) []rbacv1.PolicyRule {
	return s.resolveClusterRoleRules(name, map[string]struct{}{})
}

func (s *Store) resolveClusterRoleRules(name string, visited map[string]struct{}) []rbacv1.PolicyRule {
	if _, seen := visited[name]; seen {
		return nil
	}
	visited[name] = struct{}{}

	cr, ok := s.clusterRoles[name]
	if !ok {
		return nil
	}
	rules := slices.Clone(cr.Rules)
	if cr.AggregationRule == nil {
		return rules
	}

	for _, sel := range cr.AggregationRule.ClusterRoleSelectors {
		selector, err := metav1.LabelSelectorAsSelector(&sel)
		if err != nil {
			// An unparsable selector selects nothing, matching the
			// controller manager's behavior.
			continue
		}
		for _, candidate := range sortedKeys(s.clusterRoles) {
			if candidate == name {
				continue
			}
			if selector.Matches(labels.Set(s.clusterRoles[candidate].Labels)) {
				rules = append(rules, s.resolveClusterRoleRules(candidate, visited)...)
			}
		}
	}
	return rules
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedValues[V any](m map[string]V) []V {
	out := make([]V, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, m[k])
	}
	return out
}
