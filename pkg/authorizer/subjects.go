package authorizer

import (
	"slices"

	rbacv1 "k8s.io/api/rbac/v1"
)

// SubjectMatches reports whether a binding subject covers the given user and
// group set. ServiceAccount subjects match against the synthesized
// system:serviceaccount:<ns>:<name> username.
func SubjectMatches(subject rbacv1.Subject, user string, groups []string) bool {
	switch subject.Kind {
	case rbacv1.UserKind:
		return subject.Name == user
	case rbacv1.GroupKind:
		return slices.Contains(groups, subject.Name)
	case rbacv1.ServiceAccountKind:
		if subject.Namespace == "" {
			return false
		}
		return ServiceAccountUsername(subject.Namespace, subject.Name) == user
	default:
		return false
	}
}

// SubjectKey returns a stable identity key for deduplication and sorting.
func SubjectKey(subject rbacv1.Subject) string {
	return subject.Kind + "|" + subject.APIGroup + "|" + subject.Namespace + "|" + subject.Name
}

// SubjectExists reports whether subject is already present in list, compared
// by kind, apiGroup, namespace and name.
func SubjectExists(list []rbacv1.Subject, subject rbacv1.Subject) bool {
	for _, existing := range list {
		if SubjectKey(existing) == SubjectKey(subject) {
			return true
		}
	}
	return false
}

// MergeSubjects returns the deduplicated union of two subject lists, sorted
// for deterministic output.
func MergeSubjects(a, b []rbacv1.Subject) []rbacv1.Subject {
	merged := map[string]rbacv1.Subject{}
	for _, s := range a {
		merged[SubjectKey(s)] = s
	}
	for _, s := range b {
		merged[SubjectKey(s)] = s
	}
	out := make([]rbacv1.Subject, 0, len(merged))
	for _, k := range sortedKeys(merged) {
		out = append(out, merged[k])
	}
	return out
}
