// Package step executes one workflow step: resolve each target through its locator
// chain, act on it, fall back to a script interaction once, then settle.
package step

import (
	"time"

	"claimer/internal/locator"
)

// Action is what is done to a resolved target.
type Action int

const (
	ActionClick Action = iota
	ActionType
	ActionSelect
	// ActionFill types into inputs and selects on dropdowns.
	ActionFill
	ActionConfirm
	// ActionLocate only resolves the target.
	ActionLocate
)

func (a Action) String() string {
	switch a {
	case ActionClick:
		return "click"
	case ActionType:
		return "type"
	case ActionSelect:
		return "select"
	case ActionFill:
		return "fill"
	case ActionConfirm:
		return "confirm"
	case ActionLocate:
		return "locate"
	}
	return "unknown"
}

// Target is one role a step acts on, e.g. a field or a submit control.
type Target struct {
	Role   string
	Chain  locator.Chain
	Action Action
	// Text is typed, or the option value to select.
	Text string
	// Alternates are further option values or labels tried when Text is not an option.
	Alternates []string
	// Confirm presses the confirm key after typing.
	Confirm bool
	// SkipIfFilled leaves inputs that already hold a value untouched.
	SkipIfFilled bool
}

// Step is one unit of workflow behaviour.
type Step struct {
	Name    string
	Targets []Target
	Timeout time.Duration
	// Required steps abort the workflow when a target is missing or rejects its action.
	Required bool
	// Branch marks steps whose outcome selects the following steps.
	Branch bool
	// Settle overrides the action class delay slept after each successful action.
	Settle time.Duration
}

// Result classifies a step outcome.
type Result int

const (
	Resolved Result = iota
	NotFound
	ActionFailed
)

func (r Result) String() string {
	switch r {
	case Resolved:
		return "resolved"
	case NotFound:
		return "not_found"
	case ActionFailed:
		return "action_failed"
	}
	return "unknown"
}

// TargetOutcome is what happened to one target of a step.
type TargetOutcome struct {
	Role     string
	Strategy int
	Intent   string
	Ticks    int
	Trace    []locator.Attempt
	Result   Result
	Fallback bool
	Err      string
}

// Outcome is the record of one executed step.
type Outcome struct {
	Step string
	// Strategy is the index of the winning strategy of the first target, or -1.
	Strategy int
	Duration time.Duration
	Result   Result
	Required bool
	Branch   bool
	Targets  []TargetOutcome
	Note     string
}

// Warning reports an optional step that did not resolve or act.
func (o Outcome) Warning() bool {
	return !o.Required && o.Result != Resolved
}

// Failed reports a required step that did not resolve or act.
func (o Outcome) Failed() bool {
	return o.Required && o.Result != Resolved
}

// Trace is the resolver trace of the last target attempted.
func (o Outcome) Trace() []locator.Attempt {
	if len(o.Targets) == 0 {
		return nil
	}
	return o.Targets[len(o.Targets)-1].Trace
}

// Delays are the settle delays per action class.
type Delays struct {
	Click   time.Duration
	Type    time.Duration
	Select  time.Duration
	Confirm time.Duration
}

// For returns the settle delay after a target's action.
func (d Delays) For(t Target) time.Duration {
	switch t.Action {
	case ActionClick:
		return d.Click
	case ActionType, ActionFill:
		if t.Confirm {
			return d.Confirm
		}
		return d.Type
	case ActionSelect:
		return d.Select
	case ActionConfirm:
		return d.Confirm
	}
	return 0
}
