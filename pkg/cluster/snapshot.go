// Package cluster captures a point-in-time RBAC snapshot from a live
// cluster: every Role, ClusterRole, RoleBinding, ClusterRoleBinding and
// ServiceAccount, plus the kube-system/aws-auth ConfigMap when present.
// Everything is read-only; the snapshot is evaluated offline afterwards.
package cluster

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	// Auth provider plugins for EKS/GKE/OIDC kubeconfigs.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/authzkit/kuberbac/pkg/authorizer"
	"github.com/authzkit/kuberbac/pkg/awsauth"
)

// Snapshot is the result of one fetch.
type Snapshot struct {
	Store *authorizer.Store

	// AWSAuth is the kube-system/aws-auth ConfigMap, nil outside EKS.
	AWSAuth *corev1.ConfigMap
}

// NewClientset builds a clientset from an explicit kubeconfig path or, when
// empty, the standard loading rules (KUBECONFIG, ~/.kube/config, in-cluster).
func NewClientset(kubeconfig string) (kubernetes.Interface, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		loadingRules.ExplicitPath = kubeconfig
	}
	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, nil).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("loading kubeconfig: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("building clientset: %w", err)
	}
	return clientset, nil
}

// Fetch lists all RBAC object kinds concurrently and assembles a Store.
// ignorePrefixes drops objects by name prefix, typically "system:".
func Fetch(ctx context.Context, client kubernetes.Interface, log logr.Logger, ignorePrefixes []string) (*Snapshot, error) {
	var (
		mu   sync.Mutex
		objs []runtime.Object
	)
	keep := func(name string) bool {
		for _, prefix := range ignorePrefixes {
			if strings.HasPrefix(name, prefix) {
				return false
			}
		}
		return true
	}
	add := func(obj runtime.Object, name string) {
		if !keep(name) {
			return
		}
		mu.Lock()
		objs = append(objs, obj)
		mu.Unlock()
	}

	snapshot := &Snapshot{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		list, err := client.RbacV1().Roles(metav1.NamespaceAll).List(gctx, metav1.ListOptions{})
		if err != nil {
			return fmt.Errorf("listing roles: %w", err)
		}
		for i := range list.Items {
			add(&list.Items[i], list.Items[i].Name)
		}
		return nil
	})
	g.Go(func() error {
		list, err := client.RbacV1().ClusterRoles().List(gctx, metav1.ListOptions{})
		if err != nil {
			return fmt.Errorf("listing cluster roles: %w", err)
		}
		for i := range list.Items {
			add(&list.Items[i], list.Items[i].Name)
		}
		return nil
	})
	g.Go(func() error {
		list, err := client.RbacV1().RoleBindings(metav1.NamespaceAll).List(gctx, metav1.ListOptions{})
		if err != nil {
			return fmt.Errorf("listing role bindings: %w", err)
		}
		for i := range list.Items {
			add(&list.Items[i], list.Items[i].Name)
		}
		return nil
	})
	g.Go(func() error {
		list, err := client.RbacV1().ClusterRoleBindings().List(gctx, metav1.ListOptions{})
		if err != nil {
			return fmt.Errorf("listing cluster role bindings: %w", err)
		}
		for i := range list.Items {
			add(&list.Items[i], list.Items[i].Name)
		}
		return nil
	})
	g.Go(func() error {
		list, err := client.CoreV1().ServiceAccounts(metav1.NamespaceAll).List(gctx, metav1.ListOptions{})
		if err != nil {
			return fmt.Errorf("listing service accounts: %w", err)
		}
		for i := range list.Items {
			add(&list.Items[i], list.Items[i].Name)
		}
		return nil
	})
	g.Go(func() error {
		cm, err := client.CoreV1().ConfigMaps(awsauth.Namespace).Get(gctx, awsauth.Name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			log.V(1).Info("aws-auth ConfigMap not found, skipping IAM mapping")
			return nil
		}
		if err != nil {
			return fmt.Errorf("getting aws-auth ConfigMap: %w", err)
		}
		snapshot.AWSAuth = cm
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	store := authorizer.NewStore()
	for _, obj := range objs {
		if err := store.Add(obj); err != nil {
			return nil, err
		}
	}
	snapshot.Store = store

	counts := store.Counts()
	log.Info("fetched cluster RBAC snapshot",
		"roles", counts[authorizer.KindRole],
		"clusterRoles", counts[authorizer.KindClusterRole],
		"roleBindings", counts[authorizer.KindRoleBinding],
		"clusterRoleBindings", counts[authorizer.KindClusterRoleBinding],
		"serviceAccounts", counts[authorizer.KindServiceAccount],
		"awsAuth", snapshot.AWSAuth != nil,
	)
	return snapshot, nil
}
