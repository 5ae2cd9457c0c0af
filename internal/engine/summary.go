package engine

type Summary struct {
	RulesExecuted      int     `json:"rules_executed"`
	Blocks             int     `json:"blocks"`
	CapHits            int     `json:"cap_hits"`
	MaxDepth           int     `json:"max_depth"`
	DurationMS         float64 `json:"duration_ms"`
	CumulativeVelocity float64 `json:"cumulative_velocity"`
}

// Summarize derives run counters from the log. RulesExecuted counts rules whose
// transform was invoked; Blocks counts blocked rule nodes; DurationMS is the
// duration recorded on the root's closing event.
func Summarize(events []LogEvent, cumulative float64) Summary {
	s := Summary{CumulativeVelocity: cumulative}
	for _, ev := range events {
		if d := pathDepth(ev.Path); d > s.MaxDepth {
			s.MaxDepth = d
		}

		switch ev.Event {
		case EventCapHit:
			s.CapHits++
		case EventExit, EventBlock:
			if pathDepth(ev.Path) == 1 {
				s.DurationMS = ev.DurationMS
			}
			if ev.Type != NodeRule {
				continue
			}
			if ev.Event == EventBlock {
				s.Blocks++
			}
			if ev.Cause != CauseRuleNotFound {
				s.RulesExecuted++
			}
		}
	}
	return s
}
