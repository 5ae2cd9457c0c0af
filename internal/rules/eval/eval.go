// Package eval compiles element-wise arithmetic expressions used as rule
// transforms. An expression sees the element x, its index i and the vector
// length n, and must produce a number.
package eval

import (
	"fmt"
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

type Program struct {
	src  string
	prog *vm.Program
}

func (p *Program) Source() string { return p.src }

func Compile(src string) (*Program, error) {
	src = strings.TrimSpace(src)
	if err := Validate(src); err != nil {
		return nil, err
	}

	opts := []expr.Option{
		expr.Env(map[string]any{"x": 0.0, "i": 0, "n": 0}),
		expr.AsFloat64(),
	}
	opts = append(opts, mathFuncs()...)

	prog, err := expr.Compile(src, opts...)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	return &Program{src: src, prog: prog}, nil
}

// Eval runs the program for a single element.
func (p *Program) Eval(x float64, i, n int) (float64, error) {
	out, err := expr.Run(p.prog, map[string]any{"x": x, "i": i, "n": n})
	if err != nil {
		return 0, err
	}
	f, ok := out.(float64)
	if !ok {
		return 0, fmt.Errorf("expression must evaluate to a number (got %T)", out)
	}
	return f, nil
}

func mathFuncs() []expr.Option {
	unary := map[string]func(float64) float64{
		"tanh": math.Tanh,
		"exp":  math.Exp,
		"log":  math.Log,
		"sqrt": math.Sqrt,
	}
	opts := make([]expr.Option, 0, len(unary)+1)
	for name, fn := range unary {
		opts = append(opts, expr.Function(name, func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("%s expects 1 argument", name)
			}
			v, err := toFloat(params[0])
			if err != nil {
				return nil, err
			}
			return fn(v), nil
		}))
	}
	opts = append(opts, expr.Function("pow", func(params ...any) (any, error) {
		if len(params) != 2 {
			return nil, fmt.Errorf("pow expects 2 arguments")
		}
		b, err := toFloat(params[0])
		if err != nil {
			return nil, err
		}
		e, err := toFloat(params[1])
		if err != nil {
			return nil, err
		}
		return math.Pow(b, e), nil
	}))
	return opts
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}
