package eval

import (
	"math"
	"testing"
)

func TestCompile_Arithmetic(t *testing.T) {
	p, err := Compile(`x * 1.5 + i`)
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.Eval(2, 3, 4)
	if err != nil {
		t.Fatal(err)
	}
	if got != 6 {
		t.Fatalf("expected 6, got %v", got)
	}
}

func TestCompile_IntegerResultCoerced(t *testing.T) {
	p, err := Compile(`n`)
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.Eval(0, 0, 5)
	if err != nil {
		t.Fatal(err)
	}
	if got != 5 {
		t.Fatalf("expected 5, got %v", got)
	}
}

func TestCompile_MathFunctions(t *testing.T) {
	p, err := Compile(`tanh(x) + pow(2, i) + abs(-1)`)
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.Eval(0.5, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := math.Tanh(0.5) + 4 + 1
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCompile_Ternary(t *testing.T) {
	p, err := Compile(`x > 0 ? x : 0`)
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.Eval(-3, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestCompile_UnknownVariable(t *testing.T) {
	if _, err := Compile(`y * 2`); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCompile_BoolResultRejected(t *testing.T) {
	if _, err := Compile(`x > 1`); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidate_BlocksMemberAccess(t *testing.T) {
	if err := Validate(`x.foo`); err == nil {
		t.Fatalf("expected error")
	}
	if err := Validate(`(x).y`); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidate_AllowsDecimals(t *testing.T) {
	for _, src := range []string{`x * 0.5`, `x * .5`, `x * 5.`, `1e-3 * x`} {
		if err := Validate(src); err != nil {
			t.Fatalf("%s: %v", src, err)
		}
	}
}

func TestValidate_BlocksFunctionCall(t *testing.T) {
	if err := Validate(`len(x)`); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidate_BlocksCollectionsAndStrings(t *testing.T) {
	for _, src := range []string{`[1, 2]`, `{"a": 1}`, `"x"`, `1..3`, ``} {
		if err := Validate(src); err == nil {
			t.Fatalf("%q: expected error", src)
		}
	}
}
