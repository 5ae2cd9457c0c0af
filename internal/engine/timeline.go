package engine

import (
	"fmt"
	"strings"
)

const (
	TimelineSeparator = " → "
	EmptyTimeline     = "no_execution"
	CapStopMarker     = "(subtree stop by cap)"
)

// RenderTimeline turns the log into a one-line trace, e.g.
//
//	A_Init → [B_Scale blocked: impact=0.15≥threshold=0.10] → C_Normalize
func RenderTimeline(events []LogEvent) string {
	parts := make([]string, 0, len(events))
	for _, ev := range events {
		switch ev.Event {
		case EventCapHit:
			parts = append(parts, CapStopMarker)
		case EventExit:
			if ev.Type == NodeRule {
				parts = append(parts, ev.Node)
			}
		case EventBlock:
			if ev.Type != NodeRule {
				continue
			}
			switch ev.Cause {
			case CauseCap:
				// already rendered by the cap_hit marker
			case CauseThreshold:
				parts = append(parts, fmt.Sprintf("[%s blocked: impact=%.2f≥threshold=%.2f]", ev.Node, ev.Impact, ev.Threshold))
			default:
				parts = append(parts, fmt.Sprintf("[%s blocked: %s]", ev.Node, ev.Note))
			}
		}
	}
	if len(parts) == 0 {
		return EmptyTimeline
	}
	return strings.Join(parts, TimelineSeparator)
}
