package authorizer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func TestStoreAddAndCounts(t *testing.T) {
	s := NewStore()

	if err := s.Add(&rbacv1.Role{ObjectMeta: metav1.ObjectMeta{Namespace: "dev", Name: "pod-reader"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(&rbacv1.ClusterRole{ObjectMeta: metav1.ObjectMeta{Name: "node-viewer"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(&rbacv1.RoleBinding{ObjectMeta: metav1.ObjectMeta{Namespace: "dev", Name: "read-pods"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(&rbacv1.ClusterRoleBinding{ObjectMeta: metav1.ObjectMeta{Name: "view-nodes"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(&corev1.ServiceAccount{ObjectMeta: metav1.ObjectMeta{Namespace: "dev", Name: "ci"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(&corev1.ConfigMap{}); err == nil {
		t.Error("Add(ConfigMap) should be rejected")
	}

	want := map[string]int{
		KindRole:               1,
		KindClusterRole:        1,
		KindRoleBinding:        1,
		KindClusterRoleBinding: 1,
		KindServiceAccount:     1,
	}
	if diff := cmp.Diff(want, s.Counts()); diff != "" {
		t.Errorf("Counts() mismatch (-want +got):\n%s", diff)
	}

	if _, ok := s.Role("dev", "pod-reader"); !ok {
		t.Error("Role(dev, pod-reader) not found")
	}
	if _, ok := s.Role("prod", "pod-reader"); ok {
		t.Error("Role lookup must be namespace-scoped")
	}
	if got := s.Namespaces(); len(got) != 1 || got[0] != "dev" {
		t.Errorf("Namespaces() = %v, want [dev]", got)
	}
}

func TestRoleRefRules(t *testing.T) {
	s := NewStore()
	podRules := []rbacv1.PolicyRule{{Verbs: []string{"get"}, APIGroups: []string{""}, Resources: []string{"pods"}}}
	nodeRules := []rbacv1.PolicyRule{{Verbs: []string{"list"}, APIGroups: []string{""}, Resources: []string{"nodes"}}}

	if err := s.Add(&rbacv1.Role{
		ObjectMeta: metav1.ObjectMeta{Namespace: "dev", Name: "pod-reader"},
		Rules:      podRules,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(&rbacv1.ClusterRole{
		ObjectMeta: metav1.ObjectMeta{Name: "node-viewer"},
		Rules:      nodeRules,
	}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		namespace string
		ref       rbacv1.RoleRef
		wantRules []rbacv1.PolicyRule
		wantFound bool
	}{
		{
			name:      "role in same namespace",
			namespace: "dev",
			ref:       rbacv1.RoleRef{Kind: "Role", Name: "pod-reader"},
			wantRules: podRules,
			wantFound: true,
		},
		{
			name:      "role does not leak across namespaces",
			namespace: "prod",
			ref:       rbacv1.RoleRef{Kind: "Role", Name: "pod-reader"},
			wantFound: false,
		},
		{
			name:      "cluster role from any namespace",
			namespace: "dev",
			ref:       rbacv1.RoleRef{Kind: "ClusterRole", Name: "node-viewer"},
			wantRules: nodeRules,
			wantFound: true,
		},
		{
			name:      "dangling ref",
			namespace: "dev",
			ref:       rbacv1.RoleRef{Kind: "ClusterRole", Name: "missing"},
			wantFound: false,
		},
		{
			name:      "unknown ref kind",
			namespace: "dev",
			ref:       rbacv1.RoleRef{Kind: "Group", Name: "pod-reader"},
			wantFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, found := s.RoleRefRules(tt.namespace, tt.ref)
			if found != tt.wantFound {
				t.Fatalf("found = %v, want %v", found, tt.wantFound)
			}
			if diff := cmp.Diff(tt.wantRules, rules); tt.wantFound && diff != "" {
				t.Errorf("rules mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveClusterRoleRules_Aggregation(t *testing.T) {
	s := NewStore()

	base := &rbacv1.ClusterRole{
		ObjectMeta: metav1.ObjectMeta{Name: "monitoring"},
		AggregationRule: &rbacv1.AggregationRule{
			ClusterRoleSelectors: []metav1.LabelSelector{
				{MatchLabels: map[string]string{"rbac.example.com/aggregate-to-monitoring": "true"}},
			},
		},
	}
	endpoints := &rbacv1.ClusterRole{
		ObjectMeta: metav1.ObjectMeta{
			Name:   "monitoring-endpoints",
			Labels: map[string]string{"rbac.example.com/aggregate-to-monitoring": "true"},
		},
		Rules: []rbacv1.PolicyRule{{Verbs: []string{"get", "list"}, APIGroups: []string{""}, Resources: []string{"endpoints"}}},
	}
	unrelated := &rbacv1.ClusterRole{
		ObjectMeta: metav1.ObjectMeta{Name: "unrelated"},
		Rules:      []rbacv1.PolicyRule{{Verbs: []string{"*"}, APIGroups: []string{"*"}, Resources: []string{"*"}}},
	}
	for _, cr := range []*rbacv1.ClusterRole{base, endpoints, unrelated} {
		if err := s.Add(cr); err != nil {
			t.Fatal(err)
		}
	}

	rules := s.ResolveClusterRoleRules("monitoring")
	if diff := cmp.Diff(endpoints.Rules, rules); diff != "" {
		t.Errorf("aggregated rules mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveClusterRoleRules_AggregationCycle(t *testing.T) {
	s := NewStore()

	a := &rbacv1.ClusterRole{
		ObjectMeta: metav1.ObjectMeta{
			Name:   "a",
			Labels: map[string]string{"aggregate": "true"},
		},
		Rules: []rbacv1.PolicyRule{{Verbs: []string{"get"}, APIGroups: []string{""}, Resources: []string{"pods"}}},
		AggregationRule: &rbacv1.AggregationRule{
			ClusterRoleSelectors: []metav1.LabelSelector{
				{MatchLabels: map[string]string{"aggregate": "true"}},
			},
		},
	}
	b := &rbacv1.ClusterRole{
		ObjectMeta: metav1.ObjectMeta{
			Name:   "b",
			Labels: map[string]string{"aggregate": "true"},
		},
		Rules: []rbacv1.PolicyRule{{Verbs: []string{"list"}, APIGroups: []string{""}, Resources: []string{"pods"}}},
		AggregationRule: &rbacv1.AggregationRule{
			ClusterRoleSelectors: []metav1.LabelSelector{
				{MatchLabels: map[string]string{"aggregate": "true"}},
			},
		},
	}
	if err := s.Add(a); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(b); err != nil {
		t.Fatal(err)
	}

	// Must terminate and include both rule sets exactly once.
	rules := s.ResolveClusterRoleRules("a")
	if len(rules) != 2 {
		t.Errorf("ResolveClusterRoleRules() returned %d rules, want 2: %v", len(rules), rules)
	}
}
