package tree

import (
	"strconv"
	"strings"

	"github.com/awalterschulze/gographviz"
	"github.com/awalterschulze/gographviz/ast"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/engine"
)

type dotNode struct {
	id       string
	attrs    map[string]string
	children []string
	parents  int
}

// ParseDOT compiles a digraph into a tree. Node attributes: type (rule or
// group, inferred from outgoing edges when absent), rule (registry key,
// defaults to the node id) and threshold. Each node has at most one parent
// and exactly one node has none.
func ParseDOT(src string) (engine.Node, error) {
	g, err := gographviz.ParseString(src)
	if err != nil {
		return nil, invalid("parse dot: %v", err)
	}
	if g.Type != ast.DIGRAPH {
		return nil, invalid("dot tree must be a digraph")
	}

	nodes := map[string]*dotNode{}
	var order []string
	declare := func(id string) *dotNode {
		if n, ok := nodes[id]; ok {
			return n
		}
		n := &dotNode{id: id, attrs: map[string]string{}}
		nodes[id] = n
		order = append(order, id)
		return n
	}

	for _, stmt := range g.StmtList {
		switch s := stmt.(type) {
		case *ast.NodeStmt:
			n := declare(unquote(s.NodeID.ID.String()))
			for k, v := range s.Attrs.GetMap() {
				n.attrs[k] = unquote(v)
			}
		case *ast.EdgeStmt:
			from, err := locationID(s.Source)
			if err != nil {
				return nil, err
			}
			parent := declare(from)
			for _, rh := range s.EdgeRHS {
				to, err := locationID(rh.Destination)
				if err != nil {
					return nil, err
				}
				child := declare(to)
				parent.children = append(parent.children, to)
				child.parents++
				parent = child
			}
		case *ast.SubGraph:
			return nil, invalid("subgraphs are not supported")
		}
	}

	if len(order) == 0 {
		return nil, invalid("dot tree has no nodes")
	}

	var roots []string
	for _, id := range order {
		n := nodes[id]
		if n.parents > 1 {
			return nil, invalid("node %q has %d parents", id, n.parents)
		}
		if n.parents == 0 {
			roots = append(roots, id)
		}
	}
	if len(roots) != 1 {
		return nil, invalid("dot tree needs exactly one root (found %d)", len(roots))
	}

	visited := map[string]bool{}
	root, err := buildDOT(nodes, roots[0], visited)
	if err != nil {
		return nil, err
	}
	if len(visited) != len(nodes) {
		return nil, invalid("dot tree has nodes unreachable from %q", roots[0])
	}
	return root, nil
}

func buildDOT(nodes map[string]*dotNode, id string, visited map[string]bool) (engine.Node, error) {
	if visited[id] {
		return nil, invalid("cycle through %q", id)
	}
	visited[id] = true
	n := nodes[id]

	var threshold *float64
	if raw, ok := n.attrs["threshold"]; ok {
		t, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, invalid("node %q: threshold %q is not a number", id, raw)
		}
		threshold = engine.Float(t)
	}

	kind := n.attrs["type"]
	if kind == "" {
		kind = string(engine.NodeRule)
		if len(n.children) > 0 {
			kind = string(engine.NodeGroup)
		}
	}

	switch engine.NodeKind(kind) {
	case engine.NodeRule:
		if len(n.children) > 0 {
			return nil, invalid("rule %q cannot have children", id)
		}
		return &engine.RuleRef{Name: id, Rule: n.attrs["rule"], Threshold: threshold}, nil
	case engine.NodeGroup:
		if n.attrs["rule"] != "" {
			return nil, invalid("group %q cannot reference rule %q", id, n.attrs["rule"])
		}
		g := &engine.Group{Name: id, Threshold: threshold, Children: make([]engine.Node, 0, len(n.children))}
		for _, c := range n.children {
			child, err := buildDOT(nodes, c, visited)
			if err != nil {
				return nil, err
			}
			g.Children = append(g.Children, child)
		}
		return g, nil
	}
	return nil, invalid("node %q has unknown type %q", id, kind)
}

func locationID(loc ast.Location) (string, error) {
	id, ok := loc.(*ast.NodeID)
	if !ok {
		return "", invalid("edges must connect plain nodes")
	}
	return unquote(id.ID.String()), nil
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
		return s[1 : len(s)-1]
	}
	return s
}
