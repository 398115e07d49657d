// Package lint checks a loaded RBAC snapshot for consistency problems that a
// live apiserver would either reject at admission time or silently tolerate:
// bindings whose roleRef points nowhere, subjects that cannot match anyone,
// and roles that are never bound. RBAC is additive, so none of these make a
// cluster less secure on their own; most findings flag granted-nothing or
// granted-too-much situations.
package lint

import (
	"fmt"
	"slices"

	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"

	"github.com/authzkit/kuberbac/pkg/authorizer"
)

// Severity of a finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Check identifiers, stable for suppression and CI grepping.
const (
	CheckDanglingRoleRef       = "dangling-role-ref"
	CheckInvalidRoleRef        = "invalid-role-ref"
	CheckInvalidSubject        = "invalid-subject"
	CheckDuplicateSubject      = "duplicate-subject"
	CheckMissingServiceAccount = "missing-service-account"
	CheckNoSubjects            = "no-subjects"
	CheckNoRules               = "no-rules"
	CheckUnusedRole            = "unused-role"
	CheckWildcardRule          = "wildcard-rule"
)

// Finding is one lint result.
type Finding struct {
	Severity Severity
	Check    string
	Object   authorizer.ObjectRef
	Message  string
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %s: %s: %s", f.Severity, f.Check, f.Object, f.Message)
}

// HasErrors reports whether any finding is error severity, for exit codes.
func HasErrors(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Linter runs all checks against one store.
type Linter struct {
	store *authorizer.Store
}

// New returns a Linter over the given store.
func New(store *authorizer.Store) *Linter {
	return &Linter{store: store}
}

// Run executes every check and returns findings in deterministic order:
// cluster-scoped bindings, namespaced bindings, then roles.
func (l *Linter) Run() []Finding {
	var findings []Finding

	boundRoles := map[string]struct{}{}
	markBound := func(namespace string, ref rbacv1.RoleRef) {
		if ref.Kind == authorizer.KindRole {
			boundRoles[authorizer.ObjectRef{Kind: ref.Kind, Namespace: namespace, Name: ref.Name}.String()] = struct{}{}
		} else {
			boundRoles[authorizer.ObjectRef{Kind: ref.Kind, Name: ref.Name}.String()] = struct{}{}
		}
	}

	for _, crb := range l.store.ClusterRoleBindings() {
		ref := authorizer.ObjectRef{Kind: authorizer.KindClusterRoleBinding, Name: crb.Name}
		findings = append(findings, l.checkBinding(ref, "", crb.RoleRef, crb.Subjects, true)...)
		markBound("", crb.RoleRef)
	}
	for _, rb := range l.store.AllRoleBindings() {
		ref := authorizer.ObjectRef{Kind: authorizer.KindRoleBinding, Namespace: rb.Namespace, Name: rb.Name}
		findings = append(findings, l.checkBinding(ref, rb.Namespace, rb.RoleRef, rb.Subjects, false)...)
		markBound(rb.Namespace, rb.RoleRef)
	}

	for _, role := range l.store.AllRoles() {
		ref := authorizer.ObjectRef{Kind: authorizer.KindRole, Namespace: role.Namespace, Name: role.Name}
		findings = append(findings, l.checkRules(ref, role.Rules, false)...)
		if _, bound := boundRoles[ref.String()]; !bound {
			findings = append(findings, Finding{
				Severity: SeverityInfo,
				Check:    CheckUnusedRole,
				Object:   ref,
				Message:  "role is not referenced by any binding",
			})
		}
	}
	for _, cr := range l.store.ClusterRoles() {
		ref := authorizer.ObjectRef{Kind: authorizer.KindClusterRole, Name: cr.Name}
		findings = append(findings, l.checkRules(ref, cr.Rules, cr.AggregationRule != nil)...)
		if _, bound := boundRoles[ref.String()]; !bound && !isAggregationSource(l.store, cr) {
			findings = append(findings, Finding{
				Severity: SeverityInfo,
				Check:    CheckUnusedRole,
				Object:   ref,
				Message:  "cluster role is not referenced by any binding",
			})
		}
	}

	return findings
}

func (l *Linter) checkBinding(ref authorizer.ObjectRef, namespace string, roleRef rbacv1.RoleRef, subjects []rbacv1.Subject, clusterScoped bool) []Finding {
	var findings []Finding

	switch {
	case roleRef.APIGroup != rbacv1.GroupName:
		findings = append(findings, Finding{
			Severity: SeverityError,
			Check:    CheckInvalidRoleRef,
			Object:   ref,
			Message:  fmt.Sprintf("roleRef.apiGroup %q must be %q", roleRef.APIGroup, rbacv1.GroupName),
		})
	case clusterScoped && roleRef.Kind != authorizer.KindClusterRole:
		findings = append(findings, Finding{
			Severity: SeverityError,
			Check:    CheckInvalidRoleRef,
			Object:   ref,
			Message:  fmt.Sprintf("a ClusterRoleBinding can only reference a ClusterRole, not %q", roleRef.Kind),
		})
	case roleRef.Kind != authorizer.KindRole && roleRef.Kind != authorizer.KindClusterRole:
		findings = append(findings, Finding{
			Severity: SeverityError,
			Check:    CheckInvalidRoleRef,
			Object:   ref,
			Message:  fmt.Sprintf("unknown roleRef kind %q", roleRef.Kind),
		})
	default:
		if _, found := l.store.RoleRefRules(namespace, roleRef); !found {
			findings = append(findings, Finding{
				Severity: SeverityError,
				Check:    CheckDanglingRoleRef,
				Object:   ref,
				Message:  fmt.Sprintf("roleRef %s %q does not exist", roleRef.Kind, roleRef.Name),
			})
		}
	}

	if len(subjects) == 0 {
		findings = append(findings, Finding{
			Severity: SeverityInfo,
			Check:    CheckNoSubjects,
			Object:   ref,
			Message:  "binding has no subjects and grants nothing",
		})
	}

	var seen []rbacv1.Subject
	for i, subject := range subjects {
		findings = append(findings, l.checkSubject(ref, i, subject)...)
		if authorizer.SubjectExists(seen, subject) {
			findings = append(findings, Finding{
				Severity: SeverityWarning,
				Check:    CheckDuplicateSubject,
				Object:   ref,
				Message:  fmt.Sprintf("subject %s %q is listed more than once", subject.Kind, subject.Name),
			})
			continue
		}
		seen = append(seen, subject)
	}

	return findings
}

func (l *Linter) checkSubject(ref authorizer.ObjectRef, index int, subject rbacv1.Subject) []Finding {
	var findings []Finding
	invalid := func(msg string) {
		findings = append(findings, Finding{
			Severity: SeverityError,
			Check:    CheckInvalidSubject,
			Object:   ref,
			Message:  fmt.Sprintf("subjects[%d]: %s", index, msg),
		})
	}

	switch subject.Kind {
	case rbacv1.UserKind, rbacv1.GroupKind:
		if subject.APIGroup != rbacv1.GroupName {
			invalid(fmt.Sprintf("%s subject apiGroup must be %q, got %q", subject.Kind, rbacv1.GroupName, subject.APIGroup))
		}
	case rbacv1.ServiceAccountKind:
		if subject.APIGroup != "" {
			invalid(fmt.Sprintf("ServiceAccount subject apiGroup must be empty, got %q", subject.APIGroup))
		}
		if subject.Namespace == "" {
			invalid("ServiceAccount subject requires a namespace")
		} else if l.store.HasServiceAccounts() {
			if _, ok := l.store.ServiceAccount(subject.Namespace, subject.Name); !ok {
				findings = append(findings, Finding{
					Severity: SeverityWarning,
					Check:    CheckMissingServiceAccount,
					Object:   ref,
					Message:  fmt.Sprintf("bound ServiceAccount %s/%s does not exist", subject.Namespace, subject.Name),
				})
			}
		}
	default:
		invalid(fmt.Sprintf("unknown subject kind %q", subject.Kind))
	}
	return findings
}

func (l *Linter) checkRules(ref authorizer.ObjectRef, rules []rbacv1.PolicyRule, aggregated bool) []Finding {
	var findings []Finding

	// An aggregated ClusterRole legitimately carries no rules of its own.
	if len(rules) == 0 && !aggregated {
		findings = append(findings, Finding{
			Severity: SeverityInfo,
			Check:    CheckNoRules,
			Object:   ref,
			Message:  "role has no rules and grants nothing",
		})
	}

	for i, rule := range rules {
		if slices.Contains(rule.Verbs, rbacv1.VerbAll) && slices.Contains(rule.Resources, rbacv1.ResourceAll) {
			findings = append(findings, Finding{
				Severity: SeverityWarning,
				Check:    CheckWildcardRule,
				Object:   ref,
				Message:  fmt.Sprintf("rules[%d] grants every verb on every resource", i),
			})
		}
	}
	return findings
}

// isAggregationSource reports whether some aggregated ClusterRole selects
// this one by labels; such roles are "used" without any binding.
func isAggregationSource(store *authorizer.Store, cr *rbacv1.ClusterRole) bool {
	if len(cr.Labels) == 0 {
		return false
	}
	for _, other := range store.ClusterRoles() {
		if other.Name == cr.Name || other.AggregationRule == nil {
			continue
		}
		for _, sel := range other.AggregationRule.ClusterRoleSelectors {
			selector, err := metav1.LabelSelectorAsSelector(&sel)
			if err != nil {
				continue
			}
			if selector.Matches(labels.Set(cr.Labels)) {
				return true
			}
		}
	}
	return false
}
