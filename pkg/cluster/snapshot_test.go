package cluster

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/utils/ptr"

	"github.com/authzkit/kuberbac/pkg/authorizer"
	"github.com/authzkit/kuberbac/pkg/awsauth"
)

func seedObjects() []runtime.Object {
	return []runtime.Object{
		&rbacv1.Role{
			ObjectMeta: metav1.ObjectMeta{Name: "pod-reader", Namespace: "development"},
			Rules: []rbacv1.PolicyRule{
				{APIGroups: []string{""}, Resources: []string{"pods"}, Verbs: []string{"get", "list"}},
			},
		},
		&rbacv1.ClusterRole{
			ObjectMeta: metav1.ObjectMeta{Name: "node-viewer"},
			Rules: []rbacv1.PolicyRule{
				{APIGroups: []string{""}, Resources: []string{"nodes"}, Verbs: []string{"get", "list", "watch"}},
			},
		},
		&rbacv1.ClusterRole{
			ObjectMeta: metav1.ObjectMeta{Name: "system:basic-user"},
		},
		&rbacv1.RoleBinding{
			ObjectMeta: metav1.ObjectMeta{Name: "read-pods", Namespace: "development"},
			Subjects:   []rbacv1.Subject{{Kind: rbacv1.UserKind, APIGroup: rbacv1.GroupName, Name: "rbac-user"}},
			RoleRef:    rbacv1.RoleRef{APIGroup: rbacv1.GroupName, Kind: "Role", Name: "pod-reader"},
		},
		&rbacv1.ClusterRoleBinding{
			ObjectMeta: metav1.ObjectMeta{Name: "view-nodes"},
			Subjects:   []rbacv1.Subject{{Kind: rbacv1.GroupKind, APIGroup: rbacv1.GroupName, Name: "ops-team"}},
			RoleRef:    rbacv1.RoleRef{APIGroup: rbacv1.GroupName, Kind: "ClusterRole", Name: "node-viewer"},
		},
		&corev1.ServiceAccount{
			ObjectMeta:                   metav1.ObjectMeta{Name: "ci", Namespace: "development"},
			AutomountServiceAccountToken: ptr.To(false),
		},
	}
}

func TestFetch(t *testing.T) {
	client := fake.NewClientset(seedObjects()...)

	snap, err := Fetch(context.Background(), client, logr.Discard(), nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if snap.AWSAuth != nil {
		t.Error("expected nil AWSAuth without an aws-auth ConfigMap")
	}

	counts := snap.Store.Counts()
	want := map[string]int{
		authorizer.KindRole:               1,
		authorizer.KindClusterRole:        2,
		authorizer.KindRoleBinding:        1,
		authorizer.KindClusterRoleBinding: 1,
		authorizer.KindServiceAccount:     1,
	}
	for kind, n := range want {
		if counts[kind] != n {
			t.Errorf("counts[%s] = %d, want %d", kind, counts[kind], n)
		}
	}

	ev := authorizer.NewEvaluator(snap.Store, logr.Discard())
	d := ev.Authorize(authorizer.Attributes{
		User:            "rbac-user",
		Verb:            "get",
		Resource:        "pods",
		Namespace:       "development",
		ResourceRequest: true,
	})
	if !d.Allowed {
		t.Errorf("expected rbac-user to read pods in development: %s", d.Reason)
	}
}

func TestFetch_IgnorePrefixes(t *testing.T) {
	client := fake.NewClientset(seedObjects()...)

	snap, err := Fetch(context.Background(), client, logr.Discard(), []string{"system:"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if _, ok := snap.Store.ClusterRole("system:basic-user"); ok {
		t.Error("system: prefixed ClusterRole should have been dropped")
	}
	if _, ok := snap.Store.ClusterRole("node-viewer"); !ok {
		t.Error("node-viewer should have been kept")
	}
}

func TestFetch_AWSAuth(t *testing.T) {
	objs := append(seedObjects(), &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: awsauth.Name, Namespace: awsauth.Namespace},
		Data: map[string]string{
			awsauth.RolesKey: `- rolearn: arn:aws:iam::111122223333:role/ops
  username: ops-bot
  groups: ["ops-team"]`,
		},
	})
	client := fake.NewClientset(objs...)

	snap, err := Fetch(context.Background(), client, logr.Discard(), nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if snap.AWSAuth == nil {
		t.Fatal("expected the aws-auth ConfigMap in the snapshot")
	}

	mapper, err := awsauth.NewMapper(snap.AWSAuth)
	if err != nil {
		t.Fatalf("NewMapper: %v", err)
	}
	id, err := mapper.Map("arn:aws:iam::111122223333:role/ops")
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if id.Username != "ops-bot" {
		t.Errorf("Username = %q, want ops-bot", id.Username)
	}
}
