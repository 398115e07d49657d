// NOTE: These tests access package-level cobra command singletons and
// package-level flag variables. They are NOT safe for t.Parallel().
package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/authzkit/kuberbac/pkg/authorizer"
)

const manifestFixture = `apiVersion: rbac.authorization.k8s.io/v1
kind: Role
metadata:
  name: pod-reader
  namespace: development
rules:
  - apiGroups: [""]
    resources: ["pods"]
    verbs: ["get", "list"]
---
apiVersion: rbac.authorization.k8s.io/v1
kind: RoleBinding
metadata:
  name: read-pods
  namespace: development
subjects:
  - kind: User
    name: rbac-user
    apiGroup: rbac.authorization.k8s.io
roleRef:
  kind: Role
  name: pod-reader
  apiGroup: rbac.authorization.k8s.io
`

func writeManifest(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rbac.yaml")
	if err := os.WriteFile(path, []byte(manifestFixture), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// runCommand executes the root command with the given args and returns the
// combined output. Package-level flag variables persist between runs, so each
// test passes every flag it depends on.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	// Slice-valued flags accumulate across Execute calls, so clear the
	// backing variables before each run.
	sources = nil
	ignorePrefixes = nil
	cfgFile = ""
	awsAuthPath = ""
	fromCluster = false

	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestCanI_Allowed(t *testing.T) {
	path := writeManifest(t)

	out, err := runCommand(t, "can-i", "get", "pods", "-n", "development", "--as", "rbac-user", "-f", path)
	if err != nil {
		t.Fatalf("unexpected error: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, "yes") {
		t.Errorf("output = %q, want yes", out)
	}
}

func TestCanI_DeniedExitsNonZero(t *testing.T) {
	path := writeManifest(t)

	out, err := runCommand(t, "can-i", "delete", "pods", "-n", "development", "--as", "rbac-user", "-f", path)
	if err == nil {
		t.Fatalf("expected error for denied request, output: %s", out)
	}
	if !strings.Contains(out, "no") {
		t.Errorf("output = %q, want no", out)
	}
}

func TestCanI_Explain(t *testing.T) {
	path := writeManifest(t)

	out, err := runCommand(t, "can-i", "get", "pods", "-n", "development", "--as", "rbac-user", "-f", path, "--explain")
	if err != nil {
		t.Fatalf("unexpected error: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, "read-pods") || !strings.Contains(out, "pod-reader") {
		t.Errorf("explain output should name the binding and role, got: %s", out)
	}
}

func TestWhoCan(t *testing.T) {
	path := writeManifest(t)

	out, err := runCommand(t, "who-can", "get", "pods", "-n", "development", "-f", path)
	if err != nil {
		t.Fatalf("unexpected error: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, "rbac-user") {
		t.Errorf("output should list rbac-user, got: %s", out)
	}
}

func TestLint_CleanManifests(t *testing.T) {
	path := writeManifest(t)

	out, err := runCommand(t, "lint", "-f", path)
	if err != nil {
		t.Fatalf("unexpected error: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, "0 findings") {
		t.Errorf("output = %q, want 0 findings", out)
	}
}

func TestGraph(t *testing.T) {
	path := writeManifest(t)

	out, err := runCommand(t, "graph", "-f", path)
	if err != nil {
		t.Fatalf("unexpected error: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, "digraph") || !strings.Contains(out, "read-pods") {
		t.Errorf("output should be a dot graph with the binding, got: %s", out)
	}
}

func TestVersion(t *testing.T) {
	out, err := runCommand(t, "version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "kuberbac") {
		t.Errorf("output = %q, want application name", out)
	}
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want authorizer.Attributes
	}{
		{
			name: "plain resource",
			args: []string{"get", "pods"},
			want: authorizer.Attributes{Verb: "get", Resource: "pods", ResourceRequest: true},
		},
		{
			name: "resource with group",
			args: []string{"list", "deployments.apps"},
			want: authorizer.Attributes{Verb: "list", Resource: "deployments", APIGroup: "apps", ResourceRequest: true},
		},
		{
			name: "subresource",
			args: []string{"get", "pods/log"},
			want: authorizer.Attributes{Verb: "get", Resource: "pods", Subresource: "log", ResourceRequest: true},
		},
		{
			name: "named object",
			args: []string{"delete", "pods", "web-0"},
			want: authorizer.Attributes{Verb: "delete", Resource: "pods", Name: "web-0", ResourceRequest: true},
		},
		{
			name: "non-resource path",
			args: []string{"get", "/healthz"},
			want: authorizer.Attributes{Verb: "get", Path: "/healthz"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseAction(tt.args)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parseAction(%v) mismatch (-want +got):\n%s", tt.args, diff)
			}
		})
	}
}
