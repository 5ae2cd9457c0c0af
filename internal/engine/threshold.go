package engine

import "fmt"

// ThresholdFilter decides local blocking. The boundary is inclusive.
type ThresholdFilter struct {
	Threshold float64
}

func (f ThresholdFilter) ShouldBlock(impact float64) bool {
	return impact >= f.Threshold
}

func (f ThresholdFilter) Ratio(impact float64) float64 {
	if f.Threshold <= 0 {
		return 0
	}
	return impact / f.Threshold
}

func (f ThresholdFilter) Reason(impact float64) string {
	if f.ShouldBlock(impact) {
		return fmt.Sprintf("impact=%.3f >= threshold=%.3f", impact, f.Threshold)
	}
	return fmt.Sprintf("impact=%.3f < threshold=%.3f (allowed)", impact, f.Threshold)
}
