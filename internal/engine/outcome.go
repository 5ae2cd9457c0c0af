package engine

import (
	"fmt"
	"time"
)

type outcomeKind int

const (
	outcomeOK outcomeKind = iota
	outcomeError
	outcomePanic
	outcomeTimeout
)

// ruleOutcome is the result of invoking one transform.
type ruleOutcome struct {
	kind   outcomeKind
	output Vector
	err    error
}

// invoke runs t on a copy of in. With a positive timeout a transform that does
// not return in time is reported as outcomeTimeout and its goroutine is left
// to finish on its own.
func invoke(t Transform, in Vector, timeout time.Duration) ruleOutcome {
	input := in.Clone()
	if timeout <= 0 {
		return call(t, input)
	}

	done := make(chan ruleOutcome, 1)
	go func() {
		done <- call(t, input)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out
	case <-timer.C:
		return ruleOutcome{kind: outcomeTimeout, err: fmt.Errorf("transform exceeded %s", timeout)}
	}
}

func call(t Transform, in Vector) (out ruleOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = ruleOutcome{kind: outcomePanic, err: fmt.Errorf("transform panicked: %v", r)}
		}
	}()

	v, err := t.Transform(in)
	if err != nil {
		return ruleOutcome{kind: outcomeError, err: err}
	}
	if v == nil {
		v = Vector{}
	}
	return ruleOutcome{kind: outcomeOK, output: v}
}
