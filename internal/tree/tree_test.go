package tree

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/engine"
)

func pipeline() engine.Node {
	return &engine.Group{Name: "main", Children: []engine.Node{
		&engine.Group{Name: "prep", Threshold: engine.Float(0.5), Children: []engine.Node{
			&engine.RuleRef{Name: "A_Init"},
			&engine.RuleRef{Name: "scale", Rule: "B_Scale", Threshold: engine.Float(0.4)},
		}},
		&engine.RuleRef{Name: "C_Normalize"},
		&engine.RuleRef{Name: "D_Transform"},
	}}
}

func readFile(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(name)
	require.NoError(t, err)
	return b
}

func TestParseJSON(t *testing.T) {
	got, err := ParseJSON(readFile(t, "testdata/pipeline.json"))
	require.NoError(t, err)
	if diff := cmp.Diff(pipeline(), got); diff != "" {
		t.Fatalf("tree mismatch (-want +got):\n%s", diff)
	}
	require.NoError(t, engine.Validate(got, 64))
}

func TestParseDOT(t *testing.T) {
	got, err := ParseDOT(string(readFile(t, "testdata/pipeline.dot")))
	require.NoError(t, err)
	if diff := cmp.Diff(pipeline(), got); diff != "" {
		t.Fatalf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDispatch(t *testing.T) {
	n, err := Parse(FormatOf("tree.dot"), readFile(t, "testdata/pipeline.dot"))
	require.NoError(t, err)
	assert.Equal(t, "main", n.NodeName())

	n, err = Parse(FormatOf("tree.JSON"), readFile(t, "testdata/pipeline.json"))
	require.NoError(t, err)
	assert.Equal(t, "main", n.NodeName())

	_, err = Parse("yaml", nil)
	assert.ErrorIs(t, err, engine.ErrInvalidTree)
}

func TestParseJSONRejects(t *testing.T) {
	tests := map[string]string{
		"not json":            `{`,
		"missing name":        `{"children": []}`,
		"empty name":          `{"name": ""}`,
		"slash in name":       `{"name": "a/b"}`,
		"rule with children":  `{"name": "r", "type": "rule", "children": []}`,
		"unknown type":        `{"name": "r", "type": "task"}`,
		"negative threshold":  `{"name": "r", "threshold": -0.1}`,
		"unknown field":       `{"name": "r", "weight": 1}`,
		"group with rule key": `{"name": "g", "rule": "A_Init", "children": [{"name": "x"}]}`,
		"nested violation":    `{"name": "g", "children": [{"name": 3}]}`,
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseJSON([]byte(src))
			assert.ErrorIs(t, err, engine.ErrInvalidTree)
		})
	}
}

func TestParseJSONEmptyGroup(t *testing.T) {
	n, err := ParseJSON([]byte(`{"name": "g", "children": []}`))
	require.NoError(t, err)
	g, ok := n.(*engine.Group)
	require.True(t, ok)
	assert.Empty(t, g.Children)
}

func TestParseDOTRejects(t *testing.T) {
	tests := map[string]string{
		"syntax":             `digraph {`,
		"undirected":         `graph g { a -- b; }`,
		"two roots":          `digraph g { a -> b; c -> d; }`,
		"shared child":       `digraph g { a -> c; b -> c; r -> a; r -> b; }`,
		"cycle":              `digraph g { r -> a; a -> b; b -> a; }`,
		"rule with children": `digraph g { r [type=rule]; r -> a; }`,
		"bad threshold":      `digraph g { r [threshold=high]; }`,
		"unknown type":       `digraph g { r [type=task]; }`,
		"subgraph":           `digraph g { r -> { a b }; }`,
		"empty":              `digraph g { }`,
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDOT(src)
			assert.ErrorIs(t, err, engine.ErrInvalidTree)
		})
	}
}

func TestParseDOTSingleRule(t *testing.T) {
	n, err := ParseDOT(`digraph g { "E_Finalize" [threshold=0.9]; }`)
	require.NoError(t, err)
	assert.Equal(t, &engine.RuleRef{Name: "E_Finalize", Threshold: engine.Float(0.9)}, n)
}

func TestDefault(t *testing.T) {
	root := Default()
	require.NoError(t, engine.Validate(root, 64))
	g, ok := root.(*engine.Group)
	require.True(t, ok)
	var names []string
	for _, c := range g.Children {
		names = append(names, c.NodeName())
	}
	assert.Equal(t, []string{"A_Init", "B_Scale", "C_Normalize", "D_Transform", "E_Finalize"}, names)
}

func TestDescribeRoundTrip(t *testing.T) {
	def, err := Describe(pipeline())
	require.NoError(t, err)
	raw, err := json.Marshal(def)
	require.NoError(t, err)

	back, err := ParseJSON(raw)
	require.NoError(t, err)
	if diff := cmp.Diff(pipeline(), back); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}
