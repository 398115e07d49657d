package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/authzkit/kuberbac/pkg/authorizer"
)

var (
	caniNamespace string
	caniAsUser    string
	caniAsGroups  []string
	caniAsARN     string
	caniExplain   bool
)

// caniCmd answers a single authorization question the way the API server's
// RBAC authorizer would.
var caniCmd = &cobra.Command{
	Use:   "can-i VERB RESOURCE|PATH [NAME]",
	Short: "Check whether a subject can perform an action",
	Long: `Check whether a subject can perform an action against the loaded RBAC
objects. RESOURCE accepts the kubectl forms pods, pods/log and
deployments.apps. A PATH starting with / checks a non-resource URL.

Examples:
  kuberbac can-i get pods -n development --as rbac-user -f manifests/
  kuberbac can-i list deployments.apps --as-group ops-team --from-cluster
  kuberbac can-i get /healthz --as system:anonymous -f manifests/
  kuberbac can-i delete pods web-0 --as-arn arn:aws:iam::111122223333:role/ops --aws-auth aws-auth.yaml`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, awsAuth, err := loadStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		user, groups, err := resolveIdentity(caniAsUser, caniAsGroups, caniAsARN, awsAuth)
		if err != nil {
			return err
		}
		if user == "" && len(groups) == 0 {
			return fmt.Errorf("no subject: pass --as, --as-group or --as-arn")
		}

		attrs := parseAction(args)
		attrs.User = user
		attrs.Groups = groups
		attrs.Namespace = caniNamespace

		ev := authorizer.NewEvaluator(store, ctrl.Log.WithName("evaluator"))
		decision := ev.Authorize(attrs)

		out := cmd.OutOrStdout()
		if decision.Allowed {
			fmt.Fprintln(out, "yes")
		} else {
			fmt.Fprintln(out, "no")
		}
		if caniExplain {
			if len(decision.Grants) == 0 {
				fmt.Fprintf(out, "  %s\n", decision.Reason)
			}
			for _, grant := range decision.Grants {
				fmt.Fprintf(out, "  %s -> %s: %s\n", grant.Binding, grant.Role, authorizer.RuleString(grant.Rule))
			}
		}

		if !decision.Allowed {
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true
			return fmt.Errorf("denied")
		}
		return nil
	},
}

// parseAction maps the positional arguments onto evaluator attributes.
// A target starting with / is a non-resource URL, anything else a resource
// in kubectl notation (pods, pods/log, deployments.apps).
func parseAction(args []string) authorizer.Attributes {
	verb, target := args[0], args[1]

	if strings.HasPrefix(target, "/") {
		return authorizer.Attributes{Verb: verb, Path: target}
	}

	attrs := authorizer.Attributes{Verb: verb, ResourceRequest: true}
	if len(args) == 3 {
		attrs.Name = args[2]
	}

	if resource, subresource, found := strings.Cut(target, "/"); found {
		target = resource
		attrs.Subresource = subresource
	}
	if resource, group, found := strings.Cut(target, "."); found {
		attrs.Resource = resource
		attrs.APIGroup = group
	} else {
		attrs.Resource = target
	}
	return attrs
}

func init() {
	rootCmd.AddCommand(caniCmd)

	caniCmd.Flags().StringVarP(&caniNamespace, "namespace", "n", "", "namespace of the request")
	caniCmd.Flags().StringVar(&caniAsUser, "as", "", "username to check")
	caniCmd.Flags().StringSliceVar(&caniAsGroups, "as-group", nil, "group to check (repeatable)")
	caniCmd.Flags().StringVar(&caniAsARN, "as-arn", "", "AWS IAM ARN mapped through aws-auth")
	caniCmd.Flags().BoolVar(&caniExplain, "explain", false, "print the bindings and rules behind the decision")
}
