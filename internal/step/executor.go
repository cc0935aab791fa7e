package step

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"claimer/internal/browser"
	"claimer/internal/locator"
)

// Executor runs steps against one browser session. It is not safe for concurrent
// use; each workflow run owns its own executor.
type Executor struct {
	sess     browser.Session
	resolver *locator.Resolver
	delays   Delays
	log      *log.Logger
}

func NewExecutor(sess browser.Session, resolver *locator.Resolver, delays Delays, logger *log.Logger) *Executor {
	return &Executor{
		sess:     sess,
		resolver: resolver,
		delays:   delays,
		log:      logger,
	}
}

// Execute runs s and reports what happened. Missing targets and rejected actions are
// part of the outcome; the error is reserved for cancellation and lost sessions.
func (e *Executor) Execute(ctx context.Context, s Step) (Outcome, error) {
	clock := e.resolver.Clock()
	start := clock.Now()

	out := Outcome{
		Step:     s.Name,
		Strategy: -1,
		Result:   Resolved,
		Required: s.Required,
		Branch:   s.Branch,
	}

	for i, t := range s.Targets {
		to, skipped, err := e.target(ctx, s, t)
		out.Targets = append(out.Targets, to)
		if i == 0 {
			out.Strategy = to.Strategy
		}
		if skipped {
			out.Note = fmt.Sprintf("%s already filled", t.Role)
		}
		if err != nil {
			out.Duration = clock.Now().Sub(start)
			return out, err
		}
		if to.Result != Resolved {
			out.Result = to.Result
			break
		}
	}
	out.Duration = clock.Now().Sub(start)

	switch {
	case out.Failed():
		e.log.Error("required step failed", "step", s.Name, "result", out.Result, "trace", out.Trace())
	case out.Warning():
		e.log.Warn("optional step skipped", "step", s.Name, "result", out.Result)
	default:
		e.log.Debug("step done", "step", s.Name, "strategy", out.Strategy, "took", out.Duration)
	}
	return out, nil
}

func (e *Executor) target(ctx context.Context, s Step, t Target) (TargetOutcome, bool, error) {
	res, err := e.resolver.Resolve(ctx, e.sess, t.Chain, s.Timeout)
	to := TargetOutcome{
		Role:     t.Role,
		Strategy: res.Index,
		Ticks:    res.Ticks,
		Trace:    res.Trace,
		Result:   Resolved,
	}
	if err != nil {
		to.Result = NotFound
		to.Err = err.Error()
		return to, false, err
	}
	if !res.Found() {
		to.Result = NotFound
		return to, false, nil
	}
	to.Intent = res.Strategy().Intent
	e.log.Debug("target resolved", "step", s.Name, "role", t.Role, "locator", res.Strategy().Locator, "ticks", res.Ticks)

	if t.Action == ActionLocate {
		return to, false, nil
	}

	if t.SkipIfFilled {
		info, err := e.sess.Inspect(ctx, res.Element)
		if err != nil && unexpected(err) {
			return to, false, err
		}
		if err == nil && strings.TrimSpace(info.Value) != "" {
			return to, true, nil
		}
	}

	fallback, err := e.act(ctx, res.Element, t)
	to.Fallback = fallback
	if err != nil {
		if unexpected(err) {
			to.Err = err.Error()
			return to, false, err
		}
		to.Result = ActionFailed
		to.Err = err.Error()
		return to, false, nil
	}

	settle := s.Settle
	if settle <= 0 {
		settle = e.delays.For(t)
	}
	// The action already took effect, so an interrupted settle does not undo it.
	// Cancellation still ends the run at the next resolution.
	if err := e.resolver.Clock().Sleep(ctx, settle); err != nil {
		to.Err = fmt.Sprintf("settle interrupted: %v", err)
		e.log.Debug("settle interrupted", "step", s.Name, "role", t.Role, "err", err)
	}
	return to, false, nil
}

// op is one native interaction and its script equivalent.
type op struct {
	name   string
	native func() error
	script func() error
}

func (e *Executor) ops(ctx context.Context, el browser.Element, t Target) ([]op, error) {
	click := op{
		name:   "click",
		native: func() error { return e.sess.Click(ctx, el) },
		script: func() error { return e.sess.RunScript(ctx, el, browser.ScriptClick) },
	}
	typing := op{
		name:   "type",
		native: func() error { return e.sess.Type(ctx, el, t.Text) },
		script: func() error { return e.sess.RunScript(ctx, el, browser.ScriptSetValue, t.Text) },
	}
	confirm := op{
		name:   "confirm",
		native: func() error { return e.sess.PressConfirmKey(ctx, el) },
		script: func() error { return e.sess.RunScript(ctx, el, browser.ScriptSubmit) },
	}
	candidates := append([]string{t.Text}, t.Alternates...)
	selecting := op{
		name: "select",
		native: func() error {
			return firstOf(candidates, func(c string) error { return e.sess.SelectOption(ctx, el, c) })
		},
		script: func() error {
			return firstOf(candidates, func(c string) error { return e.sess.RunScript(ctx, el, browser.ScriptSelectOption, c) })
		},
	}

	typed := []op{typing}
	if t.Confirm {
		typed = append(typed, confirm)
	}

	switch t.Action {
	case ActionClick:
		return []op{click}, nil
	case ActionType:
		return typed, nil
	case ActionSelect:
		return []op{selecting}, nil
	case ActionConfirm:
		return []op{confirm}, nil
	case ActionFill:
		info, err := e.sess.Inspect(ctx, el)
		if err != nil && unexpected(err) {
			return nil, err
		}
		if err == nil && strings.EqualFold(info.Tag, "select") {
			return []op{selecting}, nil
		}
		return typed, nil
	}
	return nil, fmt.Errorf("unsupported action %s", t.Action)
}

// act performs t's action on el. A rejected native interaction is retried once by
// script; the bool reports whether any script interaction was used.
func (e *Executor) act(ctx context.Context, el browser.Element, t Target) (bool, error) {
	ops, err := e.ops(ctx, el, t)
	if err != nil {
		return false, err
	}

	fallback := false
	for _, o := range ops {
		nerr := o.native()
		if nerr == nil {
			continue
		}
		if unexpected(nerr) {
			return fallback, nerr
		}

		e.log.Debug("native action rejected, retrying by script", "role", t.Role, "op", o.name, "err", nerr)
		fallback = true
		if serr := o.script(); serr != nil {
			if unexpected(serr) {
				return fallback, serr
			}
			return fallback, fmt.Errorf("%s: native: %v; script: %w", o.name, nerr, serr)
		}
	}
	return fallback, nil
}

func firstOf(candidates []string, try func(string) error) error {
	var err error
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if err = try(c); err == nil {
			return nil
		}
		if unexpected(err) {
			return err
		}
	}
	if err == nil {
		err = fmt.Errorf("%w: no option to select", browser.ErrInteraction)
	}
	return err
}

// unexpected reports errors that end the whole run rather than the step.
func unexpected(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, browser.ErrSessionClosed) ||
		errors.Is(err, browser.ErrNoActiveTab)
}
