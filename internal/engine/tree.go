package engine

import (
	"fmt"
	"strings"
)

type NodeKind string

const (
	NodeRule  NodeKind = "rule"
	NodeGroup NodeKind = "group"
)

// Node is an execution tree node: either a *RuleRef or a *Group.
type Node interface {
	NodeName() string
	Kind() NodeKind
	ThresholdOverride() (float64, bool)
	node()
}

// RuleRef points at a registered rule. Rule is the registry key and defaults
// to Name, so the same rule can be mounted under several node names.
type RuleRef struct {
	Name      string
	Rule      string
	Threshold *float64
}

type Group struct {
	Name      string
	Threshold *float64
	Children  []Node
}

func Ref(name string) *RuleRef {
	return &RuleRef{Name: name}
}

func RefWithThreshold(name string, threshold float64) *RuleRef {
	return &RuleRef{Name: name, Threshold: Float(threshold)}
}

func NewGroup(name string, children ...Node) *Group {
	return &Group{Name: name, Children: children}
}

func (r *RuleRef) NodeName() string { return r.Name }
func (r *RuleRef) Kind() NodeKind   { return NodeRule }
func (r *RuleRef) ThresholdOverride() (float64, bool) {
	if r.Threshold == nil {
		return 0, false
	}
	return *r.Threshold, true
}
func (r *RuleRef) node() {}

func (r *RuleRef) RuleName() string {
	if r.Rule != "" {
		return r.Rule
	}
	return r.Name
}

func (g *Group) NodeName() string { return g.Name }
func (g *Group) Kind() NodeKind   { return NodeGroup }
func (g *Group) ThresholdOverride() (float64, bool) {
	if g.Threshold == nil {
		return 0, false
	}
	return *g.Threshold, true
}
func (g *Group) node() {}

// Validate rejects trees that cannot be executed: nil nodes, empty or
// slash-containing names, invalid thresholds, nodes mounted twice and trees
// deeper than maxDepth (0 disables the depth check).
func Validate(root Node, maxDepth int) error {
	if root == nil {
		return fmt.Errorf("%w: root is nil", ErrInvalidTree)
	}
	seen := map[Node]struct{}{}
	return validateNode(root, "", 1, maxDepth, seen)
}

func validateNode(n Node, parent string, depth, maxDepth int, seen map[Node]struct{}) error {
	if isNilNode(n) {
		return fmt.Errorf("%w: nil child under %q", ErrInvalidTree, parent)
	}
	name := n.NodeName()
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty node name under %q", ErrInvalidTree, parent)
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("%w: node name %q must not contain '/'", ErrInvalidTree, name)
	}
	path := joinPath(parent, name)
	if maxDepth > 0 && depth > maxDepth {
		return fmt.Errorf("%w: %q exceeds max depth %d", ErrInvalidTree, path, maxDepth)
	}
	if _, dup := seen[n]; dup {
		return fmt.Errorf("%w: node %q appears more than once", ErrInvalidTree, path)
	}
	seen[n] = struct{}{}

	if t, ok := n.ThresholdOverride(); ok {
		if err := validThreshold(t); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidTree, path, err)
		}
	}

	g, ok := n.(*Group)
	if !ok {
		return nil
	}
	for _, child := range g.Children {
		if err := validateNode(child, path, depth+1, maxDepth, seen); err != nil {
			return err
		}
	}
	return nil
}

func isNilNode(n Node) bool {
	switch v := n.(type) {
	case nil:
		return true
	case *RuleRef:
		return v == nil
	case *Group:
		return v == nil
	}
	return false
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func pathDepth(path string) int {
	if path == "" {
		return 0
	}
	return strings.Count(path, "/") + 1
}
