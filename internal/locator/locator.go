// Package locator resolves one logical page target from an ordered list of
// alternative locators, polling until one matches or the deadline passes.
package locator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"claimer/internal/browser"
)

// DefaultPollInterval is the pause between two ticks of a resolution.
const DefaultPollInterval = 250 * time.Millisecond

// Strategy is one way of finding a target, tagged with what it is meant to hit.
type Strategy struct {
	browser.Locator
	Intent string
}

func XPath(expr, intent string) Strategy {
	return Strategy{Locator: browser.Locator{Kind: browser.XPath, Expr: expr}, Intent: intent}
}

func CSS(expr, intent string) Strategy {
	return Strategy{Locator: browser.Locator{Kind: browser.CSS, Expr: expr}, Intent: intent}
}

// Chain is an ordered list of strategies for one target, highest priority first.
type Chain []Strategy

// XPaths builds a chain of XPath strategies sharing one intent.
func XPaths(intent string, exprs ...string) Chain {
	c := make(Chain, 0, len(exprs))
	for _, e := range exprs {
		c = append(c, XPath(e, intent))
	}
	return c
}

// AttemptResult is the result of trying one strategy once.
type AttemptResult string

const (
	AttemptFound    AttemptResult = "found"
	AttemptNotFound AttemptResult = "not_found"
	AttemptError    AttemptResult = "error"
)

// Attempt records one strategy tried during the final tick of a resolution.
type Attempt struct {
	Index    int
	Strategy Strategy
	Result   AttemptResult
	Matches  int
	Err      string
}

func (a Attempt) String() string {
	if a.Err != "" {
		return fmt.Sprintf("%s:%s (%s)", a.Strategy.Locator, a.Result, a.Err)
	}
	return fmt.Sprintf("%s:%s", a.Strategy.Locator, a.Result)
}

// Resolution is the outcome of resolving a chain. Element is nil and Index is -1
// when nothing matched before the deadline.
type Resolution struct {
	Element browser.Element
	Index   int
	Trace   []Attempt
	Ticks   int
	Elapsed time.Duration
}

func (r Resolution) Found() bool { return r.Element != nil }

// Strategy returns the winning strategy. It must only be called when Found.
func (r Resolution) Strategy() Strategy {
	return r.Trace[len(r.Trace)-1].Strategy
}

// Finder is the part of a browser session the resolver needs.
type Finder interface {
	FindAll(ctx context.Context, loc browser.Locator) ([]browser.Element, error)
}

// Resolver polls a Finder for the first matching strategy of a chain.
type Resolver struct {
	clock  Clock
	policy func() backoff.BackOff
}

type Option func(*Resolver)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(r *Resolver) { r.clock = c }
}

// WithPollInterval polls at a constant interval.
func WithPollInterval(d time.Duration) Option {
	return func(r *Resolver) {
		r.policy = func() backoff.BackOff { return backoff.NewConstantBackOff(d) }
	}
}

// WithBackOff replaces the polling policy. A non-positive interval, backoff.Stop
// included, makes the resolver wait out the rest of the timeout before its last tick.
func WithBackOff(policy func() backoff.BackOff) Option {
	return func(r *Resolver) { r.policy = policy }
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{clock: RealClock()}
	WithPollInterval(DefaultPollInterval)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Clock() Clock { return r.clock }

// Resolve tries every strategy of chain, in order, on each tick until one matches or
// timeout elapses. A zero timeout means a single tick. A chain that never matches is
// not an error; errors are only returned for cancellation and lost sessions.
func (r *Resolver) Resolve(ctx context.Context, f Finder, chain Chain, timeout time.Duration) (Resolution, error) {
	start := r.clock.Now()
	deadline := start.Add(timeout)
	b := r.policy()
	b.Reset()

	res := Resolution{Index: -1}
	for {
		res.Ticks++
		trace := make([]Attempt, 0, len(chain))

		for i, s := range chain {
			found, err := f.FindAll(ctx, s.Locator)
			switch {
			case err != nil && fatal(err):
				res.Trace = append(trace, Attempt{Index: i, Strategy: s, Result: AttemptError, Err: err.Error()})
				res.Elapsed = r.clock.Now().Sub(start)
				return res, err
			case err != nil:
				trace = append(trace, Attempt{Index: i, Strategy: s, Result: AttemptError, Err: err.Error()})
			case len(found) == 0:
				trace = append(trace, Attempt{Index: i, Strategy: s, Result: AttemptNotFound})
			default:
				res.Trace = append(trace, Attempt{Index: i, Strategy: s, Result: AttemptFound, Matches: len(found)})
				res.Element = found[0]
				res.Index = i
				res.Elapsed = r.clock.Now().Sub(start)
				return res, nil
			}
		}
		res.Trace = trace

		now := r.clock.Now()
		remaining := deadline.Sub(now)
		if remaining <= 0 {
			res.Elapsed = now.Sub(start)
			return res, nil
		}

		wait := b.NextBackOff()
		if wait <= 0 || wait > remaining {
			wait = remaining
		}
		if err := r.clock.Sleep(ctx, wait); err != nil {
			res.Elapsed = r.clock.Now().Sub(start)
			return res, err
		}
	}
}

func fatal(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, browser.ErrSessionClosed) ||
		errors.Is(err, browser.ErrNoActiveTab)
}
