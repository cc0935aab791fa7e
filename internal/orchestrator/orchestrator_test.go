package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claimer/internal/browser/static"
	"claimer/internal/locator"
	"claimer/internal/step"
	"claimer/internal/workflow"
)

var quiet = WithLogger(log.New(io.Discard))

func resultFor(status workflow.Status, worker int) workflow.Result {
	return workflow.Result{RunID: fmt.Sprintf("run-%d", worker), Status: status, Reason: status.String()}
}

func TestSuccessfulCountMatchesResults(t *testing.T) {
	for _, count := range []int{1, 2, 7, 25} {
		t.Run(fmt.Sprint(count), func(t *testing.T) {
			o := New(func(_ context.Context, worker int) workflow.Result {
				switch worker % 3 {
				case 0:
					return resultFor(workflow.StatusFailure, worker)
				case 1:
					return resultFor(workflow.StatusSuccess, worker)
				}
				return resultFor(workflow.StatusError, worker)
			}, quiet)

			summary, err := o.Run(context.Background(), count)
			require.NoError(t, err)

			successes := 0
			workers := map[int]bool{}
			for _, r := range summary.Results {
				if r.Status == workflow.StatusSuccess {
					successes++
				}
				assert.False(t, workers[r.Worker], "duplicate result for worker %d", r.Worker)
				workers[r.Worker] = true
			}
			assert.Equal(t, count, summary.Requested)
			assert.Len(t, summary.Results, count)
			assert.Equal(t, successes, summary.Successful)
			assert.GreaterOrEqual(t, summary.Successful, 0)
			assert.LessOrEqual(t, summary.Successful, count)
			assert.Equal(t, count-successes, summary.Failed())
			assert.False(t, summary.Cancelled)
		})
	}
}

func TestRunsWithRealWorkflows(t *testing.T) {
	const usage = "https://app.example.com/usage"
	clock := locator.NewSimulatedClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	site := &static.Site{
		Now: clock.Now,
		Pages: map[string]*static.Page{
			usage: {HTML: `<html><body><p>nothing to buy</p></body></html>`},
		},
	}
	cfg := workflow.DefaultConfig()
	cfg.UsageURL = usage
	cfg.PromotionCode = "CODE"
	checkout := workflow.New(cfg, site, workflow.WithClock(clock), workflow.WithLogger(log.New(io.Discard)))

	summary, err := New(func(ctx context.Context, _ int) workflow.Result {
		return checkout.Run(ctx)
	}, quiet).Run(context.Background(), 4)

	require.NoError(t, err)
	assert.Len(t, summary.Results, 4)
	assert.Zero(t, summary.Successful)
	for _, r := range summary.Results {
		assert.Equal(t, workflow.StatusFailure, r.Status)
		assert.Contains(t, r.Reason, workflow.StepInitiatePurchase)
	}
	require.Len(t, site.Sessions(), 4)
	for _, sess := range site.Sessions() {
		assert.Equal(t, 1, sess.Shutdowns())
	}
}

func TestSetupErrorIsReportedAsFailedResult(t *testing.T) {
	o := New(func(_ context.Context, worker int) workflow.Result {
		if worker == 2 {
			err := fmt.Errorf("%w: chrome crashed", workflow.ErrSessionSetup)
			return workflow.Result{Status: workflow.StatusError, Reason: err.Error(), Err: err}
		}
		return resultFor(workflow.StatusSuccess, worker)
	}, quiet)

	summary, err := o.Run(context.Background(), 3)

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Successful)
	assert.Equal(t, 1, summary.Failed())
}

func TestPanickingUnitDoesNotAbortOthers(t *testing.T) {
	o := New(func(_ context.Context, worker int) workflow.Result {
		if worker == 1 {
			panic("boom")
		}
		return resultFor(workflow.StatusSuccess, worker)
	}, quiet)

	summary, err := o.Run(context.Background(), 3)

	require.NoError(t, err)
	require.Len(t, summary.Results, 3)
	assert.Equal(t, 2, summary.Successful)
	for _, r := range summary.Results {
		if r.Worker == 1 {
			assert.Equal(t, workflow.StatusError, r.Status)
			assert.Contains(t, r.Reason, "boom")
		}
	}
}

func TestCancellationReturnsPartialSummary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started, released atomic.Int32
	o := New(func(ctx context.Context, worker int) workflow.Result {
		started.Add(1)
		defer released.Add(1)
		if worker == 1 {
			return resultFor(workflow.StatusSuccess, worker)
		}
		<-ctx.Done()
		return workflow.Result{Status: workflow.StatusError, Reason: ctx.Err().Error(), Err: ctx.Err()}
	}, quiet, WithProgress(func(r ClaimResult) {
		if r.Worker == 1 {
			cancel()
		}
	}))

	summary, err := o.Run(ctx, 5)

	require.NoError(t, err)
	assert.True(t, summary.Cancelled)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, 1, summary.Results[0].Worker)
	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, started.Load(), released.Load(), "every started unit returns before Run does")
}

func TestCancellationKeepsRunsThatFinished(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ready sync.WaitGroup
	ready.Add(3)
	o := New(func(ctx context.Context, worker int) workflow.Result {
		ready.Done()
		ready.Wait()
		switch worker {
		case 1:
			// The order went through just as the interrupt arrived.
			cancel()
			return resultFor(workflow.StatusSuccess, worker)
		case 2:
			<-ctx.Done()
			err := &workflow.StepError{Step: workflow.StepSubmitOrder, Result: step.NotFound}
			return workflow.Result{Status: workflow.StatusFailure, Reason: err.Error(), Err: err}
		}
		<-ctx.Done()
		err := fmt.Errorf("%s: %w", workflow.StepPromotionCode, ctx.Err())
		return workflow.Result{Status: workflow.StatusError, Reason: err.Error(), Err: err}
	}, quiet)

	summary, err := o.Run(ctx, 3)

	require.NoError(t, err)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 1, summary.Successful)

	byWorker := map[int]ClaimResult{}
	for _, r := range summary.Results {
		byWorker[r.Worker] = r
	}
	assert.Len(t, byWorker, 2)
	assert.Equal(t, workflow.StatusSuccess, byWorker[1].Status)
	assert.Equal(t, workflow.StatusFailure, byWorker[2].Status)
	assert.NotContains(t, byWorker, 3)
}

func TestMaxParallel(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0

	o := New(func(_ context.Context, worker int) workflow.Result {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return resultFor(workflow.StatusSuccess, worker)
	}, quiet, WithMaxParallel(2))

	summary, err := o.Run(context.Background(), 8)

	require.NoError(t, err)
	assert.Equal(t, 8, summary.Successful)
	assert.LessOrEqual(t, peak, 2)
}

func TestPreflightFailureAbortsBeforeRuns(t *testing.T) {
	var runs atomic.Int32
	o := New(func(_ context.Context, worker int) workflow.Result {
		runs.Add(1)
		return resultFor(workflow.StatusSuccess, worker)
	}, quiet, WithPreflight(func(context.Context) error {
		return errors.New("no browser binary")
	}))

	_, err := o.Run(context.Background(), 3)

	require.ErrorIs(t, err, ErrPreflight)
	assert.Contains(t, err.Error(), "no browser binary")
	assert.Zero(t, runs.Load())
}

func TestInvalidCount(t *testing.T) {
	o := New(func(context.Context, int) workflow.Result { return workflow.Result{} }, quiet)
	_, err := o.Run(context.Background(), 0)
	assert.Error(t, err)
}

type recordingObserver struct {
	mu      sync.Mutex
	results []ClaimResult
}

func (r *recordingObserver) ObserveClaim(c ClaimResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, c)
}

func TestObserverSeesEveryResult(t *testing.T) {
	obs := &recordingObserver{}
	o := New(func(_ context.Context, worker int) workflow.Result {
		return resultFor(workflow.StatusSuccess, worker)
	}, quiet, WithObserver(obs))

	summary, err := o.Run(context.Background(), 6)

	require.NoError(t, err)
	assert.ElementsMatch(t, summary.Results, obs.results)
}
