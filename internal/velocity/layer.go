// Package velocity holds per-layer threshold profiles and the adaptive
// threshold learner that feed the executor's layer policy.
package velocity

import (
	"fmt"
	"strings"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/engine"
)

// LayerInfo describes one of the seven fixed layers.
type LayerInfo struct {
	Layer         engine.Layer `json:"layer" yaml:"layer"`
	Name          string       `json:"name" yaml:"name"`
	BaseThreshold float64      `json:"base_threshold" yaml:"base_threshold"`
}

var layers = [...]LayerInfo{
	{Layer: 1, Name: "Quantum", BaseThreshold: 0.12},
	{Layer: 2, Name: "Atomic", BaseThreshold: 0.20},
	{Layer: 3, Name: "Molecular", BaseThreshold: 0.26},
	{Layer: 4, Name: "Compound", BaseThreshold: 0.30},
	{Layer: 5, Name: "Organic", BaseThreshold: 0.33},
	{Layer: 6, Name: "Ecosystem", BaseThreshold: 0.35},
	{Layer: 7, Name: "Cosmos", BaseThreshold: 0.38},
}

func Layers() []LayerInfo {
	out := make([]LayerInfo, len(layers))
	copy(out, layers[:])
	return out
}

func Info(layer engine.Layer) (LayerInfo, error) {
	if !layer.Valid() {
		return LayerInfo{}, fmt.Errorf("%w: %d", engine.ErrInvalidLayer, layer)
	}
	return layers[layer-1], nil
}

// BaseThreshold returns the standard threshold of layer, or 0 for an invalid layer.
func BaseThreshold(layer engine.Layer) float64 {
	if !layer.Valid() {
		return 0
	}
	return layers[layer-1].BaseThreshold
}

// ParseLayer accepts a level ("3") or a layer name ("molecular").
func ParseLayer(s string) (engine.Layer, error) {
	s = strings.TrimSpace(s)
	for _, l := range layers {
		if strings.EqualFold(s, l.Name) || s == fmt.Sprint(int(l.Layer)) {
			return l.Layer, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", engine.ErrInvalidLayer, s)
}

var transitionProbabilities = [...]float64{0.8, 0.7, 0.6, 0.5, 0.4, 0.3, 0}

// TransitionProbability is the chance an impact propagates from one layer to
// the next. Only adjacent upward transitions are non-zero.
func TransitionProbability(from, to engine.Layer) float64 {
	if !from.Valid() || !to.Valid() || to != from+1 {
		return 0
	}
	return transitionProbabilities[from-1]
}
