package engine

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	ErrInvalidTree   = errors.New("invalid execution tree")
	ErrDuplicateRule = errors.New("duplicate rule")
	ErrInvalidLayer  = errors.New("invalid layer")
	ErrInvalidRule   = errors.New("invalid rule")
)

// Vector is the data a rule transforms.
type Vector []float64

func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Norm is the Euclidean length of v.
func (v Vector) Norm() float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Layer classifies how deep a rule sits, from 1 (Quantum) to 7 (Cosmos).
type Layer int

const (
	MinLayer Layer = 1
	MaxLayer Layer = 7
)

func (l Layer) Valid() bool {
	return l >= MinLayer && l <= MaxLayer
}

// Transform is the single capability a rule exposes.
type Transform interface {
	Transform(in Vector) (Vector, error)
}

type TransformFunc func(in Vector) (Vector, error)

func (f TransformFunc) Transform(in Vector) (Vector, error) {
	return f(in)
}

type Rule struct {
	Name      string
	Transform Transform
	Layer     Layer
	Threshold *float64
}

// Registry maps rule names to rules. Registered rules are never replaced.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

func NewRegistry() *Registry {
	return &Registry{rules: map[string]Rule{}}
}

func (r *Registry) Register(rule Rule) error {
	if rule.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidRule)
	}
	if rule.Transform == nil {
		return fmt.Errorf("%w: rule %q has no transform", ErrInvalidRule, rule.Name)
	}
	if !rule.Layer.Valid() {
		return fmt.Errorf("%w: rule %q has layer %d (expected %d..%d)", ErrInvalidLayer, rule.Name, rule.Layer, MinLayer, MaxLayer)
	}
	if rule.Threshold != nil {
		if err := validThreshold(*rule.Threshold); err != nil {
			return fmt.Errorf("%w: rule %q: %v", ErrInvalidRule, rule.Name, err)
		}
		t := *rule.Threshold
		rule.Threshold = &t
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[rule.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateRule, rule.Name)
	}
	r.rules[rule.Name] = rule
	return nil
}

func (r *Registry) MustRegister(rules ...Rule) {
	for _, rule := range rules {
		if err := r.Register(rule); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Lookup(name string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[name]
	return rule, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.rules))
	for name := range r.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// Float returns a pointer to v, for optional thresholds.
func Float(v float64) *float64 {
	return &v
}

func validThreshold(t float64) error {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return fmt.Errorf("threshold must be finite (got %v)", t)
	}
	if t < 0 {
		return fmt.Errorf("threshold must be >= 0 (got %v)", t)
	}
	return nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
