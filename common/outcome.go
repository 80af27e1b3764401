package common

import (
	"fmt"
	"strings"
)

// OutcomeStatus tags the result of one best-effort unit of work
type OutcomeStatus int

const (
	OutcomeDone OutcomeStatus = iota
	OutcomeSkipped
	OutcomeAbsorbed
)

func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeDone:
		return "done"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeAbsorbed:
		return "absorbed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Outcome records what happened to one unit (a quality level, a
// variant, a file/algorithm pair). Failures are kept here instead of
// being returned, and reported once the loop has finished.
type Outcome struct {
	Unit   string
	Status OutcomeStatus
	Err    error
}

// Done, Skipped and Absorbed build outcomes
func Done(unit string) Outcome { return Outcome{Unit: unit, Status: OutcomeDone} }

func Skipped(unit string, err error) Outcome {
	return Outcome{Unit: unit, Status: OutcomeSkipped, Err: err}
}

func Absorbed(unit string, err error) Outcome {
	return Outcome{Unit: unit, Status: OutcomeAbsorbed, Err: err}
}

// Summary counts outcomes per status
type Summary struct {
	Done     int
	Skipped  int
	Absorbed int
}

// Summarize aggregates a completed batch of outcomes
func Summarize(outcomes []Outcome) Summary {
	var s Summary
	for _, o := range outcomes {
		switch o.Status {
		case OutcomeDone:
			s.Done++
		case OutcomeSkipped:
			s.Skipped++
		case OutcomeAbsorbed:
			s.Absorbed++
		}
	}
	return s
}

func (s Summary) String() string {
	parts := []string{fmt.Sprintf("%d done", s.Done)}
	if s.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", s.Skipped))
	}
	if s.Absorbed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", s.Absorbed))
	}
	return strings.Join(parts, ", ")
}
