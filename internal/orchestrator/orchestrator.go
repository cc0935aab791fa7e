// Package orchestrator runs many independent checkout runs in parallel and
// aggregates their results through a single consumer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"claimer/internal/workflow"
)

// RunFunc performs one complete run. Worker numbers start at 1.
type RunFunc func(ctx context.Context, worker int) workflow.Result

// ClaimResult is what one run unit reports.
type ClaimResult struct {
	Worker int
	RunID  string
	Status workflow.Status
	Reason string
	Result workflow.Result
}

func (c ClaimResult) Succeeded() bool { return c.Status == workflow.StatusSuccess }

// ClaimSummary aggregates the results of one orchestrated batch.
type ClaimSummary struct {
	Requested  int
	Successful int
	// Results are in completion order.
	Results []ClaimResult
	// Cancelled is set when the batch was interrupted; units that had not finished
	// are absent from Results.
	Cancelled bool
	Duration  time.Duration
}

// Failed counts completed runs that did not succeed.
func (s ClaimSummary) Failed() int {
	return len(s.Results) - s.Successful
}

// Observer is told about every completed run.
type Observer interface {
	ObserveClaim(ClaimResult)
}

// Orchestrator runs batches of checkout runs.
type Orchestrator struct {
	run         RunFunc
	maxParallel int
	preflight   func(context.Context) error
	observers   []Observer
	progress    func(ClaimResult)
	log         *log.Logger
}

type Option func(*Orchestrator)

// WithMaxParallel bounds the number of runs in flight. Zero or less means all at once.
func WithMaxParallel(n int) Option {
	return func(o *Orchestrator) { o.maxParallel = n }
}

// WithPreflight checks the environment once before any run starts.
func WithPreflight(check func(context.Context) error) Option {
	return func(o *Orchestrator) { o.preflight = check }
}

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, obs) }
}

// WithProgress is called by the consumer for every completed run, in completion order.
func WithProgress(fn func(ClaimResult)) Option {
	return func(o *Orchestrator) { o.progress = fn }
}

func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

func New(run RunFunc, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		run: run,
		log: log.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ErrPreflight wraps environment faults found before any run started.
var ErrPreflight = errors.New("preflight check failed")

// Run starts count runs and waits for all of them, or for ctx to be cancelled. A run
// that fails is reported in the summary; only an invalid count or a failed preflight
// check is returned as an error.
func (o *Orchestrator) Run(ctx context.Context, count int) (ClaimSummary, error) {
	if count < 1 {
		return ClaimSummary{}, fmt.Errorf("run count must be positive, got %d", count)
	}
	if o.preflight != nil {
		if err := o.preflight(ctx); err != nil {
			return ClaimSummary{}, fmt.Errorf("%w: %v", ErrPreflight, err)
		}
	}

	start := time.Now()
	results := make(chan ClaimResult, count)

	// Workers never return errors, so the group context only ends with ctx.
	g, gctx := errgroup.WithContext(ctx)
	if o.maxParallel > 0 {
		g.SetLimit(o.maxParallel)
	}

	go func() {
		defer close(results)
		for worker := 1; worker <= count; worker++ {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				o.unit(gctx, worker, results)
				return nil
			})
		}
		_ = g.Wait()
	}()

	summary := ClaimSummary{Requested: count}
	for res := range results {
		summary.Results = append(summary.Results, res)
		if res.Succeeded() {
			summary.Successful++
		}
		for _, obs := range o.observers {
			obs.ObserveClaim(res)
		}
		if o.progress != nil {
			o.progress(res)
		}
	}

	summary.Cancelled = ctx.Err() != nil
	summary.Duration = time.Since(start)
	o.log.Info("batch finished",
		"requested", summary.Requested,
		"completed", len(summary.Results),
		"successful", summary.Successful,
		"cancelled", summary.Cancelled,
		"took", summary.Duration.Round(time.Millisecond))
	return summary, nil
}

// unit performs one run and reports it, unless cancellation cut the run short.
func (o *Orchestrator) unit(ctx context.Context, worker int, results chan<- ClaimResult) {
	res := o.safeRun(ctx, worker)
	if interrupted(res) {
		o.log.Debug("run interrupted", "worker", worker, "reason", res.Reason)
		return
	}
	results <- ClaimResult{
		Worker: worker,
		RunID:  res.RunID,
		Status: res.Status,
		Reason: res.Reason,
		Result: res,
	}
}

// interrupted reports runs that ended because their context was done. Runs that
// finished on their own count even when the batch was cancelled meanwhile.
func interrupted(res workflow.Result) bool {
	if res.Status == workflow.StatusSuccess {
		return false
	}
	return errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded)
}

func (o *Orchestrator) safeRun(ctx context.Context, worker int) (res workflow.Result) {
	defer func() {
		if p := recover(); p != nil {
			o.log.Error("run unit panicked", "worker", worker, "panic", p)
			err := fmt.Errorf("panic: %v", p)
			res = workflow.Result{Status: workflow.StatusError, Reason: err.Error(), Err: err}
		}
	}()
	return o.run(ctx, worker)
}
