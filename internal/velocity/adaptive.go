package velocity

import (
	"math"
	"sort"
	"sync"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/engine"
)

const (
	DefaultAlpha           = 0.1
	DefaultTargetBlockRate = 0.05
	MinAdaptiveSamples     = 20
	adaptiveWindow         = 1000
	adaptiveSafetyMargin   = 1.1
)

// AdaptiveThresholds learns per-layer thresholds from observed impacts. Each
// update moves the threshold by an exponential moving average toward the
// impact percentile that would block targetBlockRate of the history, bounded
// to [0.5x, 1.5x] of the layer's base threshold.
type AdaptiveThresholds struct {
	mu      sync.Mutex
	alpha   float64
	history map[engine.Layer][]float64
	current map[engine.Layer]float64
}

func NewAdaptiveThresholds(alpha float64) *AdaptiveThresholds {
	if alpha <= 0 || alpha > 1 || math.IsNaN(alpha) {
		alpha = DefaultAlpha
	}
	a := &AdaptiveThresholds{
		alpha:   alpha,
		history: map[engine.Layer][]float64{},
		current: map[engine.Layer]float64{},
	}
	for _, l := range layers {
		a.current[l.Layer] = l.BaseThreshold
	}
	return a
}

func (a *AdaptiveThresholds) Alpha() float64 { return a.alpha }

// Update records impacts for layer and returns the layer's threshold after
// the update. Fewer than MinAdaptiveSamples recorded impacts leave it unchanged.
func (a *AdaptiveThresholds) Update(layer engine.Layer, impacts []float64, targetBlockRate float64) float64 {
	if !layer.Valid() {
		return 0
	}
	if targetBlockRate <= 0 || targetBlockRate >= 1 || math.IsNaN(targetBlockRate) {
		targetBlockRate = DefaultTargetBlockRate
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	old := a.current[layer]
	if len(impacts) == 0 {
		return old
	}
	for _, v := range impacts {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		a.history[layer] = append(a.history[layer], v)
	}
	if h := a.history[layer]; len(h) > adaptiveWindow {
		a.history[layer] = append([]float64(nil), h[len(h)-adaptiveWindow:]...)
	}

	recent := a.history[layer]
	if len(recent) < MinAdaptiveSamples {
		return old
	}

	sorted := append([]float64(nil), recent...)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * (1 - targetBlockRate))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	target := sorted[idx] * adaptiveSafetyMargin

	next := (1-a.alpha)*old + a.alpha*target
	base := BaseThreshold(layer)
	next = math.Max(base*0.5, math.Min(base*1.5, next))

	a.current[layer] = next
	return next
}

// Threshold implements engine.LayerPolicy.
func (a *AdaptiveThresholds) Threshold(layer engine.Layer) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.current[layer]; ok {
		return t
	}
	return BaseThreshold(layer)
}

type LayerStats struct {
	Samples          int     `json:"samples"`
	CurrentThreshold float64 `json:"current_threshold"`
	DefaultThreshold float64 `json:"default_threshold"`
	MeanImpact       float64 `json:"mean_impact"`
	StdImpact        float64 `json:"std_impact"`
	AdaptationRatio  float64 `json:"adaptation_ratio"`
}

// Stats reports learning progress for every layer that has seen samples,
// keyed by layer name.
func (a *AdaptiveThresholds) Stats() map[string]LayerStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := map[string]LayerStats{}
	for _, l := range layers {
		h := a.history[l.Layer]
		if len(h) == 0 {
			continue
		}
		var sum float64
		for _, v := range h {
			sum += v
		}
		mean := sum / float64(len(h))
		var sq float64
		for _, v := range h {
			sq += (v - mean) * (v - mean)
		}
		out[l.Name] = LayerStats{
			Samples:          len(h),
			CurrentThreshold: a.current[l.Layer],
			DefaultThreshold: l.BaseThreshold,
			MeanImpact:       mean,
			StdImpact:        math.Sqrt(sq / float64(len(h))),
			AdaptationRatio:  a.current[l.Layer] / l.BaseThreshold,
		}
	}
	return out
}
