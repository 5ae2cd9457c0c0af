package tree

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/engine"
)

//go:embed schema.json
var schemaSource string

var schema = jsonschema.MustCompileString("tree.schema.json", schemaSource)

// Definition is the JSON form of a node. Type may be omitted: a node with
// children is a group, anything else a rule.
type Definition struct {
	Name      string       `json:"name"`
	Type      string       `json:"type,omitempty"`
	Rule      string       `json:"rule,omitempty"`
	Threshold *float64     `json:"threshold,omitempty"`
	Children  []Definition `json:"children,omitempty"`
}

func ParseJSON(raw []byte) (engine.Node, error) {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, invalid("decode json: %v", err)
	}
	if err := schema.Validate(payload); err != nil {
		return nil, invalid("schema: %v", err)
	}

	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, invalid("decode json: %v", err)
	}
	return def.Build()
}

func (d Definition) Build() (engine.Node, error) {
	isGroup := d.Type == string(engine.NodeGroup) || (d.Type == "" && d.Children != nil)
	if !isGroup {
		if d.Children != nil {
			return nil, invalid("rule %q cannot have children", d.Name)
		}
		return &engine.RuleRef{Name: d.Name, Rule: d.Rule, Threshold: d.Threshold}, nil
	}

	if d.Rule != "" {
		return nil, invalid("group %q cannot reference rule %q", d.Name, d.Rule)
	}
	g := &engine.Group{Name: d.Name, Threshold: d.Threshold, Children: make([]engine.Node, 0, len(d.Children))}
	for _, c := range d.Children {
		child, err := c.Build()
		if err != nil {
			return nil, err
		}
		g.Children = append(g.Children, child)
	}
	return g, nil
}

// Describe converts a node back to its JSON form.
func Describe(n engine.Node) (Definition, error) {
	switch v := n.(type) {
	case *engine.RuleRef:
		d := Definition{Name: v.Name, Type: string(engine.NodeRule), Threshold: v.Threshold}
		if v.Rule != v.Name {
			d.Rule = v.Rule
		}
		return d, nil
	case *engine.Group:
		d := Definition{Name: v.Name, Type: string(engine.NodeGroup), Threshold: v.Threshold, Children: []Definition{}}
		for _, c := range v.Children {
			cd, err := Describe(c)
			if err != nil {
				return Definition{}, err
			}
			d.Children = append(d.Children, cd)
		}
		return d, nil
	}
	return Definition{}, fmt.Errorf("%w: unsupported node %T", engine.ErrInvalidTree, n)
}
