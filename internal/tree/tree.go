// Package tree builds execution trees from their wire formats: a JSON
// document validated against an embedded schema, or a Graphviz DOT digraph
// whose edges run from a group to its children in text order.
package tree

import (
	"fmt"
	"strings"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/engine"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatDOT  Format = "dot"
)

// Parse dispatches on format.
func Parse(format Format, src []byte) (engine.Node, error) {
	switch format {
	case FormatJSON:
		return ParseJSON(src)
	case FormatDOT:
		return ParseDOT(string(src))
	}
	return nil, fmt.Errorf("%w: unknown tree format %q", engine.ErrInvalidTree, format)
}

// FormatOf guesses the format from a file name.
func FormatOf(name string) Format {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".dot") || strings.HasSuffix(lower, ".gv") {
		return FormatDOT
	}
	return FormatJSON
}

// Default is the five-stage pipeline over the default rule catalog.
func Default() engine.Node {
	return engine.NewGroup("main",
		engine.Ref("A_Init"),
		engine.Ref("B_Scale"),
		engine.Ref("C_Normalize"),
		engine.Ref("D_Transform"),
		engine.Ref("E_Finalize"),
	)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", engine.ErrInvalidTree, fmt.Sprintf(format, args...))
}
