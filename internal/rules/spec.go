package rules

import (
	"fmt"
	"strings"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/engine"
)

// Spec declares a rule. Kind is one of Kinds(); expr rules carry Expr.
type Spec struct {
	Name        string   `yaml:"name" json:"name"`
	Kind        string   `yaml:"kind" json:"kind"`
	Layer       int      `yaml:"layer" json:"layer"`
	Threshold   *float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Factor      *float64 `yaml:"factor,omitempty" json:"factor,omitempty"`
	Expr        string   `yaml:"expr,omitempty" json:"expr,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
}

func (s Spec) Build() (engine.Rule, error) {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return engine.Rule{}, fmt.Errorf("%w: empty name", engine.ErrInvalidRule)
	}

	var (
		t   engine.Transform
		err error
	)
	switch kind := strings.ToLower(strings.TrimSpace(s.Kind)); kind {
	case KindExpr:
		if s.Expr == "" {
			return engine.Rule{}, fmt.Errorf("%w: rule %q: expr kind needs an expression", engine.ErrInvalidRule, name)
		}
		t, err = Expression(s.Expr)
	default:
		if s.Expr != "" {
			return engine.Rule{}, fmt.Errorf("%w: rule %q: expr is only valid for kind %q", engine.ErrInvalidRule, name, KindExpr)
		}
		factor := DefaultFactor
		if s.Factor != nil {
			factor = *s.Factor
		}
		t, err = Builtin(kind, factor)
	}
	if err != nil {
		return engine.Rule{}, fmt.Errorf("rule %q: %w", name, err)
	}

	return engine.Rule{
		Name:      name,
		Transform: t,
		Layer:     engine.Layer(s.Layer),
		Threshold: s.Threshold,
	}, nil
}

// DefaultSpecs is the five-stage catalog every registry starts from.
func DefaultSpecs() []Spec {
	return []Spec{
		{Name: "A_Init", Kind: KindMultiply, Layer: 1, Description: "scale input by 1.1"},
		{Name: "B_Scale", Kind: KindMultiply, Layer: 2, Description: "scale again by 1.1"},
		{Name: "C_Normalize", Kind: KindNormalize, Layer: 3, Description: "unit-length normalization"},
		{Name: "D_Transform", Kind: KindTanh, Layer: 4, Description: "tanh activation"},
		{Name: "E_Finalize", Kind: KindSum, Layer: 5, Description: "collapse to the element sum"},
	}
}

// NewRegistry builds a registry holding the default catalog followed by
// extra. Redeclaring a default name is a duplicate.
func NewRegistry(extra ...Spec) (*engine.Registry, error) {
	reg := engine.NewRegistry()
	for _, s := range append(DefaultSpecs(), extra...) {
		rule, err := s.Build()
		if err != nil {
			return nil, err
		}
		if err := reg.Register(rule); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func DefaultRegistry() *engine.Registry {
	reg, err := NewRegistry()
	if err != nil {
		panic(err)
	}
	return reg
}
