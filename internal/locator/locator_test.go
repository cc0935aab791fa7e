package locator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claimer/internal/browser"
	"claimer/internal/browser/static"
)

const pageURL = "https://shop.example.com/checkout"

const checkoutHTML = `<html><body>
<form id="pay">
  <input id="email" name="email" type="email">
  <button id="submit" type="submit">Pay now</button>
</form>
</body></html>`

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func openPage(t *testing.T, clock *SimulatedClock, page *static.Page) browser.Session {
	t.Helper()
	site := &static.Site{Now: clock.Now, Pages: map[string]*static.Page{pageURL: page}}
	sess, err := site.Launch(context.Background(), browser.Options{})
	require.NoError(t, err)
	require.NoError(t, sess.Navigate(context.Background(), pageURL))
	t.Cleanup(func() { _ = sess.Shutdown() })
	return sess
}

func results(trace []Attempt) []AttemptResult {
	out := make([]AttemptResult, 0, len(trace))
	for _, a := range trace {
		out = append(out, a.Result)
	}
	return out
}

func TestResolveLaterStrategyAfterDelay(t *testing.T) {
	clock := NewSimulatedClock(epoch)
	sess := openPage(t, clock, &static.Page{
		HTML:    checkoutHTML,
		Delayed: map[string]time.Duration{"//button[@id='submit']": 2 * time.Second},
	})
	r := NewResolver(WithClock(clock), WithPollInterval(500*time.Millisecond))

	chain := Chain{
		XPath("//button[@id='complete']", "submit"),
		CSS("button.pay", "submit"),
		XPath("//button[@type='submit']", "submit"),
	}
	res, err := r.Resolve(context.Background(), sess, chain, 10*time.Second)

	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, 2, res.Index)
	assert.Equal(t, []AttemptResult{AttemptNotFound, AttemptNotFound, AttemptFound}, results(res.Trace))
	assert.Equal(t, "submit", res.Strategy().Intent)
	assert.Equal(t, 5, res.Ticks)
	assert.Equal(t, 2*time.Second, res.Elapsed)
	assert.Equal(t, "button", static.Node(res.Element).Data)
}

func TestResolveNotFoundAfterTimeout(t *testing.T) {
	clock := NewSimulatedClock(epoch)
	sess := openPage(t, clock, &static.Page{HTML: checkoutHTML})
	r := NewResolver(WithClock(clock), WithPollInterval(time.Second))

	chain := XPaths("promotion input", "//input[@id='promo']", "//input[@name='coupon']")
	res, err := r.Resolve(context.Background(), sess, chain, 3*time.Second)

	require.NoError(t, err)
	assert.False(t, res.Found())
	assert.Equal(t, -1, res.Index)
	assert.Equal(t, []AttemptResult{AttemptNotFound, AttemptNotFound}, results(res.Trace))
	assert.Equal(t, 4, res.Ticks)
	assert.Equal(t, 3*time.Second, res.Elapsed)
	assert.Equal(t, epoch.Add(3*time.Second), clock.Now())
}

func TestResolveZeroTimeoutIsSingleTick(t *testing.T) {
	clock := NewSimulatedClock(epoch)
	sess := openPage(t, clock, &static.Page{HTML: checkoutHTML})
	r := NewResolver(WithClock(clock))

	res, err := r.Resolve(context.Background(), sess, XPaths("x", "//nav"), 0)

	require.NoError(t, err)
	assert.False(t, res.Found())
	assert.Equal(t, 1, res.Ticks)
	assert.Empty(t, clock.Slept())
}

func TestResolveEarlierStrategyWins(t *testing.T) {
	clock := NewSimulatedClock(epoch)
	sess := openPage(t, clock, &static.Page{
		HTML:    checkoutHTML,
		Delayed: map[string]time.Duration{"//input[@id='email']": time.Second},
	})
	r := NewResolver(WithClock(clock), WithPollInterval(250*time.Millisecond))

	chain := Chain{
		XPath("//input[@id='email']", "email by id"),
		CSS("input[type=email]", "email by type"),
	}
	res, err := r.Resolve(context.Background(), sess, chain, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Index, "only the css strategy matches while the id is hidden")

	clock.Advance(time.Second)
	res, err = r.Resolve(context.Background(), sess, chain, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Index)
	assert.Equal(t, []AttemptResult{AttemptFound}, results(res.Trace))
}

func TestResolveIsIdempotent(t *testing.T) {
	clock := NewSimulatedClock(epoch)
	sess := openPage(t, clock, &static.Page{HTML: checkoutHTML})
	r := NewResolver(WithClock(clock))

	chain := Chain{XPath("//input[@id='missing']", "a"), CSS("form#pay input", "b")}
	first, err := r.Resolve(context.Background(), sess, chain, time.Second)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), sess, chain, time.Second)
	require.NoError(t, err)

	require.True(t, first.Found())
	require.True(t, second.Found())
	assert.Equal(t, first.Index, second.Index)
	assert.Same(t, static.Node(first.Element), static.Node(second.Element))
}

type finderFunc func(ctx context.Context, loc browser.Locator) ([]browser.Element, error)

func (f finderFunc) FindAll(ctx context.Context, loc browser.Locator) ([]browser.Element, error) {
	return f(ctx, loc)
}

type fakeElement string

func (e fakeElement) String() string { return string(e) }

func TestResolveRecordsFindErrors(t *testing.T) {
	clock := NewSimulatedClock(epoch)
	r := NewResolver(WithClock(clock))
	f := finderFunc(func(_ context.Context, loc browser.Locator) ([]browser.Element, error) {
		if loc.Expr == "//broken[" {
			return nil, errors.New("invalid xpath")
		}
		return []browser.Element{fakeElement(loc.Expr)}, nil
	})

	res, err := r.Resolve(context.Background(), f, XPaths("t", "//broken[", "//ok"), time.Second)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Index)
	require.Len(t, res.Trace, 2)
	assert.Equal(t, AttemptError, res.Trace[0].Result)
	assert.Equal(t, "invalid xpath", res.Trace[0].Err)
	assert.Contains(t, res.Trace[0].String(), "xpath=//broken[:error")
}

func TestResolveReturnsFatalErrors(t *testing.T) {
	for _, fatalErr := range []error{browser.ErrSessionClosed, browser.ErrNoActiveTab, context.Canceled} {
		t.Run(fatalErr.Error(), func(t *testing.T) {
			clock := NewSimulatedClock(epoch)
			r := NewResolver(WithClock(clock))
			calls := 0
			f := finderFunc(func(context.Context, browser.Locator) ([]browser.Element, error) {
				calls++
				return nil, fatalErr
			})

			_, err := r.Resolve(context.Background(), f, XPaths("t", "//a", "//b"), 5*time.Second)

			assert.ErrorIs(t, err, fatalErr)
			assert.Equal(t, 1, calls)
		})
	}
}

func TestResolveStopsOnCancel(t *testing.T) {
	clock := NewSimulatedClock(epoch)
	r := NewResolver(WithClock(clock))
	ctx, cancel := context.WithCancel(context.Background())
	ticks := 0
	f := finderFunc(func(context.Context, browser.Locator) ([]browser.Element, error) {
		ticks++
		if ticks == 3 {
			cancel()
		}
		return nil, nil
	})

	res, err := r.Resolve(ctx, f, XPaths("t", "//a"), time.Minute)

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Found())
	assert.Equal(t, 3, res.Ticks)
}

func TestResolveWithBackOffPolicy(t *testing.T) {
	clock := NewSimulatedClock(epoch)
	r := NewResolver(WithClock(clock), WithBackOff(func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 100 * time.Millisecond
		b.RandomizationFactor = 0
		b.Multiplier = 2
		return b
	}))
	f := finderFunc(func(context.Context, browser.Locator) ([]browser.Element, error) { return nil, nil })

	res, err := r.Resolve(context.Background(), f, XPaths("t", "//a"), time.Second)

	require.NoError(t, err)
	assert.False(t, res.Found())
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		300 * time.Millisecond,
	}, clock.Slept())
}
