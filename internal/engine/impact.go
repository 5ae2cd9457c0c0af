package engine

import "math"

const (
	DefaultEpsilon = 1e-12

	// ImpactShapeMismatch scores vectors that cannot be compared.
	ImpactShapeMismatch = 0.5
	// ImpactCreation scores output produced from a zero input.
	ImpactCreation = 0.5
	// ImpactFallback is returned when the formula yields a non-finite value.
	ImpactFallback = 0.1

	sanitizeBound = 1e6
)

// ImpactCalculator scores how much a rule changed its input:
//
//	change_rate  = ||after-before|| / (||before||+eps)
//	scale_factor = |tanh(||after|| / (||before||+eps)) - 1|
//	impact       = clamp(0.5*change_rate + 0.5*scale_factor, 0, 1)
//
// An unchanged vector scores 0.
type ImpactCalculator struct {
	Epsilon float64
}

func NewImpactCalculator(epsilon float64) ImpactCalculator {
	return ImpactCalculator{Epsilon: epsilon}
}

func (c ImpactCalculator) Calculate(before, after Vector) float64 {
	eps := c.Epsilon
	if eps <= 0 || math.IsNaN(eps) || math.IsInf(eps, 0) {
		eps = DefaultEpsilon
	}

	if len(before) != len(after) {
		return ImpactShapeMismatch
	}

	b := Sanitize(before)
	a := Sanitize(after)

	beforeNorm := b.Norm()
	afterNorm := a.Norm()
	if beforeNorm < eps {
		if afterNorm > eps {
			return ImpactCreation
		}
		return 0
	}

	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	diffNorm := math.Sqrt(sum)
	if diffNorm == 0 {
		return 0
	}

	changeRate := diffNorm / (beforeNorm + eps)
	scaleFactor := math.Abs(math.Tanh(afterNorm/(beforeNorm+eps)) - 1)

	impact := 0.5*changeRate + 0.5*scaleFactor
	if math.IsNaN(impact) || math.IsInf(impact, 0) {
		return ImpactFallback
	}
	// scale_factor already lies in (0,1]; the clamp bounds change_rate.
	return clamp01(impact)
}

// Sanitize replaces NaN with 0 and ±Inf with ±1e6. The input is not modified.
func Sanitize(v Vector) Vector {
	out := make(Vector, len(v))
	for i, x := range v {
		switch {
		case math.IsNaN(x):
			out[i] = 0
		case math.IsInf(x, 1):
			out[i] = sanitizeBound
		case math.IsInf(x, -1):
			out[i] = -sanitizeBound
		default:
			out[i] = x
		}
	}
	return out
}
