package main

import (
	"fmt"
	"io"
	"sort"
	"time"
)

type sample struct {
	latency    time.Duration
	status     int
	err        error
	blocked    bool
	ruleBlocks int
	capHit     bool
}

type report struct {
	requests    int
	ok          int
	non2xx      int
	errs        int
	blockedRuns int
	ruleBlocks  int
	capHits     int
	achievedRPS float64
	avg         time.Duration
	p50         time.Duration
	p90         time.Duration
	p99         time.Duration
}

func summarize(samples []sample, duration time.Duration) report {
	var r report
	latencies := make([]time.Duration, 0, len(samples))
	var total time.Duration
	for _, s := range samples {
		if s.latency > 0 || s.err == nil {
			latencies = append(latencies, s.latency)
			total += s.latency
		}
		switch {
		case s.err != nil:
			r.errs++
		case s.status >= 200 && s.status < 300:
			r.ok++
		default:
			r.non2xx++
		}
		if s.blocked {
			r.blockedRuns++
		}
		if s.capHit {
			r.capHits++
		}
		r.ruleBlocks += s.ruleBlocks
	}

	r.requests = len(latencies)
	if r.requests == 0 {
		return r
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	r.avg = total / time.Duration(r.requests)
	r.p50 = percentile(latencies, 50)
	r.p90 = percentile(latencies, 90)
	r.p99 = percentile(latencies, 99)
	r.achievedRPS = float64(r.requests) / duration.Seconds()
	return r
}

func (r report) pass(o options) bool {
	return r.achievedRPS >= float64(o.rps)*0.98 && r.p90 < o.maxP90 && r.errs == 0 && r.non2xx == 0
}

func (r report) print(w io.Writer, o options, launched int) {
	fmt.Fprintln(w, "Load test finished")
	fmt.Fprintf(w, "- target_rps: %d\n", o.rps)
	fmt.Fprintf(w, "- achieved_rps: %.2f\n", r.achievedRPS)
	fmt.Fprintf(w, "- duration: %s\n", o.duration)
	fmt.Fprintf(w, "- launched: %d\n", launched)
	fmt.Fprintf(w, "- requests: %d (2xx %d, non_2xx %d, errors %d)\n", r.requests, r.ok, r.non2xx, r.errs)
	fmt.Fprintf(w, "- blocked_runs: %d\n", r.blockedRuns)
	fmt.Fprintf(w, "- rule_blocks: %d\n", r.ruleBlocks)
	fmt.Fprintf(w, "- cap_hits: %d\n", r.capHits)
	fmt.Fprintf(w, "- latency_ms: avg %.3f p50 %.3f p90 %.3f p99 %.3f\n", ms(r.avg), ms(r.p50), ms(r.p90), ms(r.p99))
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[(len(sorted)-1)*p/100]
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
