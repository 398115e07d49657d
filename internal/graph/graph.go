// Package graph renders the subject -> binding -> role -> rules chain of an
// RBAC store as a Graphviz dot graph. Namespaced objects live in dashed
// cluster subgraphs; referents that do not exist in the store are drawn
// dotted and red so dangling bindings stand out.
package graph

import (
	"fmt"
	"strings"

	"github.com/emicklei/dot"
	rbacv1 "k8s.io/api/rbac/v1"

	"github.com/authzkit/kuberbac/pkg/authorizer"
)

// Options narrow what gets rendered.
type Options struct {
	// Namespaces limits RoleBindings to these namespaces. Empty means all.
	Namespaces []string

	// ShowRules attaches a note node with the human-readable rules of each
	// role.
	ShowRules bool
}

// Renderer builds a dot graph from a store.
type Renderer struct {
	store *authorizer.Store
	opts  Options
}

func New(store *authorizer.Store, opts Options) *Renderer {
	return &Renderer{store: store, opts: opts}
}

// Render walks every binding in the store and returns the assembled graph.
func (r *Renderer) Render() *dot.Graph {
	g := dot.NewGraph(dot.Directed)
	// Global ranking keeps rule notes aligned across namespace subgraphs.
	g.Attr("newrank", "true")

	for _, crb := range r.store.ClusterRoleBindings() {
		bindingNode := clusterRoleBindingNode(g, crb.Name)
		_, exists := r.store.ClusterRole(crb.RoleRef.Name)
		roleNode := clusterRoleNode(g, crb.RoleRef.Name, exists)
		edge(bindingNode, roleNode)
		r.attachRules(g, "", crb.RoleRef, roleNode)
		r.attachSubjects(g, crb.Subjects, bindingNode)
	}

	for _, rb := range r.store.AllRoleBindings() {
		if !r.namespaceSelected(rb.Namespace) {
			continue
		}
		gns := namespaceSubgraph(g, rb.Namespace)
		bindingNode := roleBindingNode(gns, rb.Namespace, rb.Name)

		var roleNode dot.Node
		switch rb.RoleRef.Kind {
		case authorizer.KindClusterRole:
			_, exists := r.store.ClusterRole(rb.RoleRef.Name)
			roleNode = clusterRoleNode(g, rb.RoleRef.Name, exists)
		default:
			_, exists := r.store.Role(rb.Namespace, rb.RoleRef.Name)
			roleNode = roleNode0(gns, rb.Namespace, rb.RoleRef.Name, exists)
		}
		edge(bindingNode, roleNode)
		r.attachRules(g, rb.Namespace, rb.RoleRef, roleNode)
		r.attachSubjects(g, rb.Subjects, bindingNode)
	}

	// Roles and ServiceAccounts nothing binds still show up so orphans are
	// visible.
	for _, ns := range r.store.Namespaces() {
		if !r.namespaceSelected(ns) {
			continue
		}
		for _, role := range r.store.Roles(ns) {
			gns := namespaceSubgraph(g, ns)
			roleNode0(gns, ns, role.Name, true)
		}
	}

	return g
}

func (r *Renderer) namespaceSelected(ns string) bool {
	if len(r.opts.Namespaces) == 0 {
		return true
	}
	for _, want := range r.opts.Namespaces {
		if ns == want {
			return true
		}
	}
	return false
}

func (r *Renderer) attachSubjects(g *dot.Graph, subjects []rbacv1.Subject, bindingNode dot.Node) {
	for _, subject := range subjects {
		target := g
		if subject.Kind == rbacv1.ServiceAccountKind && subject.Namespace != "" {
			target = namespaceSubgraph(g, subject.Namespace)
		}
		node := subjectNode(target, subject, r.subjectExists(subject))
		edge(node, bindingNode).Attr("dir", "back")
	}
}

func (r *Renderer) subjectExists(subject rbacv1.Subject) bool {
	if subject.Kind != rbacv1.ServiceAccountKind {
		// Users and groups have no cluster-side object to check.
		return true
	}
	if !r.store.HasServiceAccounts() {
		return true
	}
	_, ok := r.store.ServiceAccount(subject.Namespace, subject.Name)
	return ok
}

func (r *Renderer) attachRules(g *dot.Graph, namespace string, ref rbacv1.RoleRef, roleNode dot.Node) {
	if !r.opts.ShowRules {
		return
	}
	rules, found := r.store.RoleRefRules(namespace, ref)
	if !found || len(rules) == 0 {
		return
	}
	var html strings.Builder
	for _, rule := range rules {
		html.WriteString(escapeHTML(authorizer.RuleString(rule)) + `<br align="left"/>`)
	}
	rulesNode := g.Node("rules-"+namespace+"/"+ref.Name).
		Attr("label", dot.HTML(html.String())).
		Attr("shape", "note")
	edge(roleNode, rulesNode)
}

func namespaceSubgraph(g *dot.Graph, ns string) *dot.Graph {
	if ns == "" {
		return g
	}
	gns := g.Subgraph(ns, dot.ClusterOption{})
	gns.Attr("style", "dashed")
	return gns
}

func subjectNode(g *dot.Graph, subject rbacv1.Subject, exists bool) dot.Node {
	id := subject.Kind + "-" + subject.Namespace + "/" + subject.Name
	return g.Node(id).
		Box().
		Attr("label", fmt.Sprintf("%s\n(%s)", subject.Name, subject.Kind)).
		Attr("style", iff(exists, "filled", "dotted")).
		Attr("color", iff(exists, "black", "red")).
		Attr("fillcolor", "#2f6de1").
		Attr("fontcolor", iff(exists, "#f0f0f0", "#030303"))
}

func roleBindingNode(g *dot.Graph, namespace, name string) dot.Node {
	return g.Node("rb-"+namespace+"/"+name).
		Attr("label", name).
		Attr("shape", "octagon").
		Attr("style", "filled").
		Attr("fillcolor", "#ffcc00").
		Attr("fontcolor", "#030303")
}

func clusterRoleBindingNode(g *dot.Graph, name string) dot.Node {
	return g.Node("crb-"+name).
		Attr("label", name).
		Attr("shape", "doubleoctagon").
		Attr("style", "filled").
		Attr("fillcolor", "#ffcc00").
		Attr("fontcolor", "#030303")
}

func roleNode0(g *dot.Graph, namespace, name string, exists bool) dot.Node {
	return g.Node("r-"+namespace+"/"+name).
		Attr("label", name).
		Attr("shape", "octagon").
		Attr("style", iff(exists, "filled", "dotted")).
		Attr("color", iff(exists, "black", "red")).
		Attr("fillcolor", "#ff9900").
		Attr("fontcolor", "#030303")
}

func clusterRoleNode(g *dot.Graph, name string, exists bool) dot.Node {
	return g.Node("cr-"+name).
		Attr("label", name).
		Attr("shape", "doubleoctagon").
		Attr("style", iff(exists, "filled", "dotted")).
		Attr("color", iff(exists, "black", "red")).
		Attr("fillcolor", "#ff9900").
		Attr("fontcolor", "#030303")
}

func escapeHTML(str string) string {
	str = strings.ReplaceAll(str, `<`, `&lt;`)
	str = strings.ReplaceAll(str, `>`, `&gt;`)
	str = strings.ReplaceAll(str, ` `, `&nbsp;`)
	return str
}

// edge connects two nodes unless an edge already exists between them.
func edge(from, to dot.Node) dot.Edge {
	if existing := from.EdgesTo(to); len(existing) > 0 {
		return existing[0]
	}
	return from.Edge(to)
}

func iff(cond bool, a, b string) string {
	if cond {
		return a
	}
	return b
}
