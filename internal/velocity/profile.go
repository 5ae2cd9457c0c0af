package velocity

import (
	"math"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/engine"
)

const (
	ProfileStandard     = "standard"
	ProfileConservative = "conservative"
	ProfileAggressive   = "aggressive"
)

// Profile maps every layer to a threshold and carries a cumulative cap.
type Profile struct {
	Name          string                   `json:"name" yaml:"name"`
	Thresholds    map[engine.Layer]float64 `json:"thresholds" yaml:"thresholds"`
	CumulativeCap float64                  `json:"cumulative_cap" yaml:"cumulative_cap"`
	Description   string                   `json:"description" yaml:"description"`
}

func Standard() Profile {
	return newProfile(ProfileStandard, 0.50, "Balanced approach for normal operations", func(t float64) float64 {
		return t
	})
}

func Conservative() Profile {
	return newProfile(ProfileConservative, 0.45, "Higher safety margins for critical operations", func(t float64) float64 {
		return t * 0.8
	})
}

// aggressiveCeiling bounds every aggressive layer threshold.
const aggressiveCeiling = 0.5

func Aggressive() Profile {
	return newProfile(ProfileAggressive, 0.60, "More permissive for development and testing", aggressiveScale)
}

func aggressiveScale(t float64) float64 {
	return math.Min(t*1.2, aggressiveCeiling)
}

func newProfile(name string, cumulativeCap float64, description string, scale func(float64) float64) Profile {
	p := Profile{
		Name:          name,
		Thresholds:    make(map[engine.Layer]float64, len(layers)),
		CumulativeCap: cumulativeCap,
		Description:   description,
	}
	for _, l := range layers {
		p.Thresholds[l.Layer] = scale(l.BaseThreshold)
	}
	return p
}

// Threshold implements engine.LayerPolicy.
func (p Profile) Threshold(layer engine.Layer) float64 {
	if t, ok := p.Thresholds[layer]; ok {
		return t
	}
	return BaseThreshold(layer)
}
