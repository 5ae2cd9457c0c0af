// Package rules provides the built-in transform catalog, expression
// transforms and the declarative rule format used to populate a registry.
package rules

import (
	"fmt"
	"math"
	"sort"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/engine"
	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/rules/eval"
)

const (
	KindMultiply  = "multiply"
	KindNormalize = "normalize"
	KindTanh      = "tanh"
	KindSum       = "sum"
	KindMinMax    = "minmax"
	KindSanitize  = "sanitize"
	KindExpr      = "expr"

	DefaultFactor = 1.1

	normalizeEpsilon = 1e-12
)

func Multiply(factor float64) engine.Transform {
	return engine.TransformFunc(func(in engine.Vector) (engine.Vector, error) {
		out := make(engine.Vector, len(in))
		for i, x := range in {
			out[i] = x * factor
		}
		return out, nil
	})
}

// Normalize scales the vector to unit length. A zero vector is returned as is.
func Normalize() engine.Transform {
	return engine.TransformFunc(func(in engine.Vector) (engine.Vector, error) {
		norm := in.Norm()
		if norm == 0 {
			return in.Clone(), nil
		}
		out := make(engine.Vector, len(in))
		for i, x := range in {
			out[i] = x / (norm + normalizeEpsilon)
		}
		return out, nil
	})
}

func Tanh() engine.Transform {
	return engine.TransformFunc(func(in engine.Vector) (engine.Vector, error) {
		out := make(engine.Vector, len(in))
		for i, x := range in {
			out[i] = math.Tanh(x)
		}
		return out, nil
	})
}

// Sum collapses the vector to a single element.
func Sum() engine.Transform {
	return engine.TransformFunc(func(in engine.Vector) (engine.Vector, error) {
		var s float64
		for _, x := range in {
			s += x
		}
		return engine.Vector{s}, nil
	})
}

// MinMax rescales elements into [0, 1]. A constant vector is returned as is.
func MinMax() engine.Transform {
	return engine.TransformFunc(func(in engine.Vector) (engine.Vector, error) {
		if len(in) == 0 {
			return engine.Vector{}, nil
		}
		lo, hi := in[0], in[0]
		for _, x := range in[1:] {
			lo = math.Min(lo, x)
			hi = math.Max(hi, x)
		}
		if hi == lo || math.IsNaN(hi-lo) || math.IsInf(hi-lo, 0) {
			return in.Clone(), nil
		}
		out := make(engine.Vector, len(in))
		for i, x := range in {
			out[i] = (x - lo) / (hi - lo)
		}
		return out, nil
	})
}

func Sanitize() engine.Transform {
	return engine.TransformFunc(func(in engine.Vector) (engine.Vector, error) {
		return engine.Sanitize(in), nil
	})
}

// Expression applies an eval program to every element.
func Expression(src string) (engine.Transform, error) {
	prog, err := eval.Compile(src)
	if err != nil {
		return nil, err
	}
	return engine.TransformFunc(func(in engine.Vector) (engine.Vector, error) {
		out := make(engine.Vector, len(in))
		for i, x := range in {
			v, err := prog.Eval(x, i, len(in))
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	}), nil
}

var builtins = map[string]func(factor float64) engine.Transform{
	KindMultiply:  Multiply,
	KindNormalize: func(float64) engine.Transform { return Normalize() },
	KindTanh:      func(float64) engine.Transform { return Tanh() },
	KindSum:       func(float64) engine.Transform { return Sum() },
	KindMinMax:    func(float64) engine.Transform { return MinMax() },
	KindSanitize:  func(float64) engine.Transform { return Sanitize() },
}

// Builtin returns the catalog transform for kind. factor only applies to
// multiply.
func Builtin(kind string, factor float64) (engine.Transform, error) {
	mk, ok := builtins[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", engine.ErrInvalidRule, kind)
	}
	return mk(factor), nil
}

// Kinds lists the built-in kinds plus expr.
func Kinds() []string {
	out := make([]string, 0, len(builtins)+1)
	for k := range builtins {
		out = append(out, k)
	}
	out = append(out, KindExpr)
	sort.Strings(out)
	return out
}
