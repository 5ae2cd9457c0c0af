package engine

// FoldImpact applies the noisy-OR update V' = 1 - (1-V)(1-impact).
func FoldImpact(velocity, impact float64) float64 {
	return clamp01(1 - (1-clamp01(velocity))*(1-clamp01(impact)))
}

type CapStatus string

const (
	CapLow         CapStatus = "LOW"
	CapModerate    CapStatus = "MODERATE"
	CapApproaching CapStatus = "APPROACHING_CAP"
	CapReached     CapStatus = "CAP_REACHED"
)

// CumulativeAggregator holds the run-scoped cumulative velocity. Once the cap
// is reached it stops folding.
type CumulativeAggregator struct {
	limit    float64
	velocity float64
	reached  bool
}

func NewCumulativeAggregator(limit float64) *CumulativeAggregator {
	return &CumulativeAggregator{limit: limit}
}

// Fold adds a passed impact. tripped reports whether this fold reached the cap.
func (a *CumulativeAggregator) Fold(impact float64) (velocity float64, tripped bool) {
	if a.reached {
		return a.velocity, false
	}
	a.velocity = FoldImpact(a.velocity, impact)
	if a.velocity >= a.limit {
		a.reached = true
		return a.velocity, true
	}
	return a.velocity, false
}

func (a *CumulativeAggregator) Velocity() float64 { return a.velocity }
func (a *CumulativeAggregator) Cap() float64      { return a.limit }
func (a *CumulativeAggregator) Reached() bool     { return a.reached }

func (a *CumulativeAggregator) Ratio() float64 {
	if a.limit <= 0 {
		return 0
	}
	return a.velocity / a.limit
}

func (a *CumulativeAggregator) Status() CapStatus {
	r := a.Ratio()
	switch {
	case r >= 1:
		return CapReached
	case r >= 0.8:
		return CapApproaching
	case r >= 0.5:
		return CapModerate
	default:
		return CapLow
	}
}
