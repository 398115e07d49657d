// Package awsauth maps AWS IAM identities to Kubernetes usernames and groups
// the way the EKS authentication layer consumes the kube-system/aws-auth
// ConfigMap: mapRoles for IAM roles (including STS assumed-role sessions),
// mapUsers for IAM users and mapAccounts for whole AWS accounts. The
// resulting username/group pair feeds directly into RBAC evaluation.
package awsauth

import (
	"errors"
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/yaml"
)

// Location of the ConfigMap inside an EKS cluster.
const (
	Namespace = "kube-system"
	Name      = "aws-auth"

	RolesKey    = "mapRoles"
	UsersKey    = "mapUsers"
	AccountsKey = "mapAccounts"
)

// Username template placeholders substituted during mapping.
const (
	placeholderSessionName    = "{{SessionName}}"
	placeholderSessionNameRaw = "{{SessionNameRaw}}"
	placeholderAccountID      = "{{AccountID}}"
)

// ErrNotMapped is returned (wrapped) when an ARN has no mapping.
var ErrNotMapped = errors.New("identity is not mapped in aws-auth")

// RoleMapping is one mapRoles entry.
type RoleMapping struct {
	RoleARN  string   `json:"rolearn"`
	Username string   `json:"username"`
	Groups   []string `json:"groups,omitempty"`
}

// UserMapping is one mapUsers entry.
type UserMapping struct {
	UserARN  string   `json:"userarn"`
	Username string   `json:"username"`
	Groups   []string `json:"groups,omitempty"`
}

// Identity is the Kubernetes-side result of a successful mapping.
type Identity struct {
	Username string
	Groups   []string
}

// Mapper resolves IAM ARNs against a parsed aws-auth ConfigMap.
type Mapper struct {
	roles    map[string]RoleMapping
	users    map[string]UserMapping
	accounts map[string]struct{}
}

// NewMapper parses the data sections of an aws-auth ConfigMap. The object's
// own namespace/name are not checked so snapshots renamed on disk still load.
func NewMapper(cm *corev1.ConfigMap) (*Mapper, error) {
	m := &Mapper{
		roles:    map[string]RoleMapping{},
		users:    map[string]UserMapping{},
		accounts: map[string]struct{}{},
	}

	if raw, ok := cm.Data[RolesKey]; ok && strings.TrimSpace(raw) != "" {
		var mappings []RoleMapping
		if err := yaml.Unmarshal([]byte(raw), &mappings); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", RolesKey, err)
		}
		for _, rm := range mappings {
			arn, err := canonicalARN(rm.RoleARN)
			if err != nil {
				return nil, fmt.Errorf("parsing %s entry: %w", RolesKey, err)
			}
			m.roles[strings.ToLower(arn)] = rm
		}
	}

	if raw, ok := cm.Data[UsersKey]; ok && strings.TrimSpace(raw) != "" {
		var mappings []UserMapping
		if err := yaml.Unmarshal([]byte(raw), &mappings); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", UsersKey, err)
		}
		for _, um := range mappings {
			m.users[strings.ToLower(um.UserARN)] = um
		}
	}

	if raw, ok := cm.Data[AccountsKey]; ok && strings.TrimSpace(raw) != "" {
		var accounts []string
		if err := yaml.Unmarshal([]byte(raw), &accounts); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", AccountsKey, err)
		}
		for _, acct := range accounts {
			m.accounts[acct] = struct{}{}
		}
	}

	return m, nil
}

// Map resolves an IAM or STS ARN to its Kubernetes identity. STS
// assumed-role ARNs canonicalize to the underlying IAM role ARN, capturing
// the session name for username templates. Matching precedence follows EKS:
// mapRoles/mapUsers first, then mapAccounts, then ErrNotMapped.
func (m *Mapper) Map(arn string) (Identity, error) {
	parsed, err := parseARN(arn)
	if err != nil {
		return Identity{}, err
	}

	canonical := parsed.canonical()
	if rm, ok := m.roles[strings.ToLower(canonical)]; ok {
		return Identity{
			Username: expandTemplate(rm.Username, parsed),
			Groups:   expandTemplates(rm.Groups, parsed),
		}, nil
	}
	if um, ok := m.users[strings.ToLower(canonical)]; ok {
		return Identity{
			Username: expandTemplate(um.Username, parsed),
			Groups:   expandTemplates(um.Groups, parsed),
		}, nil
	}
	if _, ok := m.accounts[parsed.accountID]; ok {
		// Account mappings admit the identity with its ARN as username and
		// no groups; any permissions must come from explicit RBAC bindings.
		return Identity{Username: canonical}, nil
	}
	return Identity{}, fmt.Errorf("%s: %w", arn, ErrNotMapped)
}

// arnParts is the decomposed form of an IAM/STS ARN.
type arnParts struct {
	partition    string
	service      string
	accountID    string
	resourceType string // "role", "user", "assumed-role"
	resourceName string // path stripped
	sessionName  string // assumed-role only
}

// canonical returns the IAM ARN form used for map lookups. Assumed-role
// ARNs become the underlying role ARN; role paths are stripped because EKS
// requires path-free ARNs in aws-auth.
func (p arnParts) canonical() string {
	service := p.service
	resourceType := p.resourceType
	if resourceType == "assumed-role" {
		service = "iam"
		resourceType = "role"
	}
	return fmt.Sprintf("arn:%s:%s::%s:%s/%s", p.partition, service, p.accountID, resourceType, p.resourceName)
}

// canonicalARN parses and re-renders an ARN in the lookup form used for
// the mapRoles index.
func canonicalARN(arn string) (string, error) {
	p, err := parseARN(arn)
	if err != nil {
		return "", err
	}
	return p.canonical(), nil
}

func parseARN(arn string) (arnParts, error) {
	// arn:partition:service:region:account-id:resource
	fields := strings.SplitN(arn, ":", 6)
	if len(fields) != 6 || fields[0] != "arn" {
		return arnParts{}, fmt.Errorf("malformed ARN %q", arn)
	}
	p := arnParts{
		partition: fields[1],
		service:   fields[2],
		accountID: fields[4],
	}
	if p.service != "iam" && p.service != "sts" {
		return arnParts{}, fmt.Errorf("unsupported ARN service %q in %q", p.service, arn)
	}

	resource := fields[5]
	resourceType, rest, ok := strings.Cut(resource, "/")
	if !ok || rest == "" {
		return arnParts{}, fmt.Errorf("malformed ARN resource %q", resource)
	}
	p.resourceType = resourceType

	switch resourceType {
	case "assumed-role":
		// assumed-role/RoleName/SessionName
		roleName, session, ok := strings.Cut(rest, "/")
		if !ok || session == "" {
			return arnParts{}, fmt.Errorf("malformed assumed-role ARN %q", arn)
		}
		p.resourceName = roleName
		p.sessionName = session
	case "role", "user":
		// The name may carry a path: role/path/to/RoleName.
		segments := strings.Split(rest, "/")
		p.resourceName = segments[len(segments)-1]
	default:
		return arnParts{}, fmt.Errorf("unsupported ARN resource type %q in %q", resourceType, arn)
	}
	return p, nil
}

func expandTemplate(s string, p arnParts) string {
	// EKS replaces dots in session names so the result is a valid username
	// in group position too; the raw form stays available.
	s = strings.ReplaceAll(s, placeholderSessionName, strings.ReplaceAll(p.sessionName, ".", "-"))
	s = strings.ReplaceAll(s, placeholderSessionNameRaw, p.sessionName)
	s = strings.ReplaceAll(s, placeholderAccountID, p.accountID)
	return s
}

func expandTemplates(in []string, p arnParts) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = expandTemplate(s, p)
	}
	return out
}
