package cmd

import (
	"context"
	"fmt"
	"os"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"

	"github.com/authzkit/kuberbac/internal/config"
	"github.com/authzkit/kuberbac/pkg/authorizer"
	"github.com/authzkit/kuberbac/pkg/awsauth"
	"github.com/authzkit/kuberbac/pkg/cluster"
	"github.com/authzkit/kuberbac/pkg/manifest"
)

// loadConfig merges the config file with command-line flags. Flags win.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg.Sources = append(cfg.Sources, sources...)
	cfg.IgnorePrefixes = append(cfg.IgnorePrefixes, ignorePrefixes...)
	if awsAuthPath != "" {
		cfg.AWSAuthPath = awsAuthPath
	}
	return cfg, nil
}

// loadStore assembles the RBAC store from a live cluster or from manifests,
// plus the aws-auth ConfigMap when one is available.
func loadStore(ctx context.Context, cfg *config.Config) (*authorizer.Store, *corev1.ConfigMap, error) {
	log := klog.NewKlogr().WithName("loader")

	if fromCluster {
		client, err := cluster.NewClientset(kubeconfig)
		if err != nil {
			return nil, nil, err
		}
		snap, err := cluster.Fetch(ctx, client, log, cfg.IgnorePrefixes)
		if err != nil {
			return nil, nil, err
		}
		return snap.Store, snap.AWSAuth, nil
	}

	if len(cfg.Sources) == 0 {
		return nil, nil, fmt.Errorf("no input: pass -f or --from-cluster")
	}
	result, err := manifest.NewLoader(log, cfg.IgnorePrefixes).Load(cfg.Sources)
	if err != nil {
		return nil, nil, err
	}

	var awsAuth *corev1.ConfigMap
	if cfg.AWSAuthPath != "" {
		awsAuth, err = readAWSAuth(cfg.AWSAuthPath)
		if err != nil {
			return nil, nil, err
		}
	}
	return result.Store, awsAuth, nil
}

// readAWSAuth loads an aws-auth ConfigMap manifest from disk.
func readAWSAuth(path string) (*corev1.ConfigMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading aws-auth manifest: %w", err)
	}
	var cm corev1.ConfigMap
	if err := yaml.Unmarshal(data, &cm); err != nil {
		return nil, fmt.Errorf("parsing aws-auth manifest %s: %w", path, err)
	}
	return &cm, nil
}

// resolveIdentity turns the --as/--as-group/--as-arn flags into the username
// and group list fed to the evaluator. --as-arn requires an aws-auth mapping
// and overrides --as.
func resolveIdentity(asUser string, asGroups []string, asARN string, awsAuth *corev1.ConfigMap) (string, []string, error) {
	if asARN == "" {
		return asUser, asGroups, nil
	}
	if awsAuth == nil {
		return "", nil, fmt.Errorf("--as-arn requires an aws-auth ConfigMap (--aws-auth or --from-cluster on EKS)")
	}
	mapper, err := awsauth.NewMapper(awsAuth)
	if err != nil {
		return "", nil, err
	}
	id, err := mapper.Map(asARN)
	if err != nil {
		return "", nil, fmt.Errorf("mapping %s: %w", asARN, err)
	}
	return id.Username, append(id.Groups, asGroups...), nil
}
