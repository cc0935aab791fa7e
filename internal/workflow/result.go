package workflow

import (
	"errors"
	"fmt"
	"time"

	"claimer/internal/browser"
	"claimer/internal/step"
)

// ErrSessionSetup means the run could not get a browser session.
var ErrSessionSetup = errors.New("browser session setup failed")

// Status is the terminal state of a run.
type Status int

const (
	StatusSuccess Status = iota
	// StatusFailure means the workflow determined it cannot proceed.
	StatusFailure
	// StatusError means something broke.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// StepError reports a required step that did not resolve or act.
type StepError struct {
	Step   string
	Result step.Result
	Detail string
}

func (e *StepError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Step, e.Result, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Step, e.Result)
}

// Result is the immutable record of one run.
type Result struct {
	RunID    string
	Steps    []step.Outcome
	Status   Status
	Reason   string
	Started  time.Time
	Duration time.Duration
	Err      error
}

func (r Result) Succeeded() bool { return r.Status == StatusSuccess }

// Warnings lists the optional steps that were skipped.
func (r Result) Warnings() []step.Outcome {
	var out []step.Outcome
	for _, o := range r.Steps {
		if o.Warning() {
			out = append(out, o)
		}
	}
	return out
}

// Outcome returns the last outcome recorded for the named step.
func (r Result) Outcome(name string) (step.Outcome, bool) {
	for i := len(r.Steps) - 1; i >= 0; i-- {
		if r.Steps[i].Step == name {
			return r.Steps[i], true
		}
	}
	return step.Outcome{}, false
}

// Executed reports whether the named step has an outcome.
func (r Result) Executed(name string) bool {
	_, ok := r.Outcome(name)
	return ok
}

// classify maps the error that ended a run to its terminal status.
func classify(err error) Status {
	var se *StepError
	switch {
	case err == nil:
		return StatusSuccess
	case errors.As(err, &se):
		return StatusFailure
	case errors.Is(err, browser.ErrNavigation):
		return StatusFailure
	}
	return StatusError
}
