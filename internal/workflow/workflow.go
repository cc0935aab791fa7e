// Package workflow drives one checkout attempt through its fixed sequence of steps,
// with a login branch after navigation and a tab branch after purchase initiation.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"claimer/internal/browser"
	"claimer/internal/locator"
	"claimer/internal/step"
)

// Step names as they appear in results.
const (
	StepNavigate         = "Navigate"
	StepLoginCheck       = "LoginCheck"
	StepLoginEmail       = "PerformLogin/email"
	StepLoginPassword    = "PerformLogin/password"
	StepLoginConfirm     = "PerformLogin/confirm"
	StepRenavigate       = "Navigate(retry)"
	StepInitiatePurchase = "InitiatePurchase"
	StepTabSwitch        = "TabSwitch"
	StepPromotionReveal  = "ApplyPromotionCode/reveal"
	StepPromotionCode    = "ApplyPromotionCode"
	StepPromotionApply   = "ApplyPromotionCode/apply"
	StepBillingName      = "FillBillingFields/name"
	StepAddressTrigger   = "FillBillingFields/address-trigger"
	StepBillingAddress   = "FillBillingFields/address"
	StepBillingCity      = "FillBillingFields/city"
	StepBillingState     = "FillBillingFields/state"
	StepBillingZip       = "FillBillingFields/zip"
	StepSubmitOrder      = "SubmitOrder"
	StepReturnToOrigin   = "ReturnToOriginTab"
)

type state int

const (
	stateNavigate state = iota
	stateLoginCheck
	statePerformLogin
	stateRenavigate
	stateInitiatePurchase
	stateTabSwitch
	statePromotion
	stateBilling
	stateSubmit
	stateReturn
	stateDone
)

// Checkout runs checkout attempts, each in a fresh browser session.
type Checkout struct {
	cfg      Config
	launcher browser.Launcher
	clock    locator.Clock
	log      *log.Logger
}

type Option func(*Checkout)

func WithClock(c locator.Clock) Option {
	return func(co *Checkout) { co.clock = c }
}

func WithLogger(l *log.Logger) Option {
	return func(co *Checkout) { co.log = l }
}

func New(cfg Config, launcher browser.Launcher, opts ...Option) *Checkout {
	co := &Checkout{
		cfg:      cfg,
		launcher: launcher,
		clock:    locator.RealClock(),
		log:      log.Default(),
	}
	for _, opt := range opts {
		opt(co)
	}
	return co
}

// Run performs one checkout attempt. The session it launches is shut down before Run
// returns, whatever the outcome.
func (co *Checkout) Run(ctx context.Context) (res Result) {
	runID := uuid.NewString()
	r := &run{
		cfg:     co.cfg,
		clock:   co.clock,
		log:     co.log.With("run", runID[:8]),
		id:      runID,
		started: co.clock.Now(),
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("run panicked", "panic", p)
			res = r.finish(fmt.Errorf("panic: %v", p))
		}
	}()

	sess, err := co.launcher.Launch(ctx, co.cfg.Browser)
	if err != nil {
		return r.finish(fmt.Errorf("%w: %v", ErrSessionSetup, err))
	}
	defer func() {
		if err := sess.Shutdown(); err != nil {
			r.log.Warn("session shutdown failed", "err", err)
		}
	}()

	resolver := locator.NewResolver(locator.WithClock(co.clock), locator.WithPollInterval(pollInterval(co.cfg)))
	r.sess = sess
	r.exec = step.NewExecutor(sess, resolver, co.cfg.Delays.Delays, r.log)

	return r.finish(r.drive(ctx))
}

func pollInterval(cfg Config) time.Duration {
	if cfg.PollInterval > 0 {
		return cfg.PollInterval
	}
	return locator.DefaultPollInterval
}

type run struct {
	cfg     Config
	sess    browser.Session
	exec    *step.Executor
	clock   locator.Clock
	log     *log.Logger
	id      string
	started time.Time
	origin  browser.TabID
	steps   []step.Outcome
}

func (r *run) finish(err error) Result {
	res := Result{
		RunID:    r.id,
		Steps:    append([]step.Outcome(nil), r.steps...),
		Status:   classify(err),
		Started:  r.started,
		Duration: r.clock.Now().Sub(r.started),
		Err:      err,
	}
	if err != nil {
		res.Reason = err.Error()
	}

	switch res.Status {
	case StatusSuccess:
		r.log.Info("checkout completed", "steps", len(res.Steps), "warnings", len(res.Warnings()))
	case StatusFailure:
		r.log.Error("checkout failed", "reason", res.Reason)
	default:
		r.log.Error("checkout broke", "err", err)
	}
	return res
}

func (r *run) drive(ctx context.Context) error {
	tabs, err := r.sess.Tabs(ctx)
	if err != nil {
		return fmt.Errorf("list tabs: %w", err)
	}
	if len(tabs) > 0 {
		r.origin = tabs[0]
	}

	for st := stateNavigate; st != stateDone; {
		next, err := r.transition(ctx, st)
		if err != nil {
			return err
		}
		st = next
	}
	return nil
}

func (r *run) transition(ctx context.Context, st state) (state, error) {
	switch st {
	case stateNavigate:
		return stateLoginCheck, r.navigate(ctx, StepNavigate)
	case stateLoginCheck:
		return r.loginCheck(ctx)
	case statePerformLogin:
		return stateRenavigate, r.performLogin(ctx)
	case stateRenavigate:
		return stateInitiatePurchase, r.renavigate(ctx)
	case stateInitiatePurchase:
		return stateTabSwitch, r.initiatePurchase(ctx)
	case stateTabSwitch:
		return statePromotion, r.tabSwitch(ctx)
	case statePromotion:
		return stateBilling, r.applyPromotion(ctx)
	case stateBilling:
		return stateSubmit, r.fillBilling(ctx)
	case stateSubmit:
		return stateReturn, r.submit(ctx)
	case stateReturn:
		r.returnToOrigin(ctx)
		return stateDone, nil
	}
	return stateDone, fmt.Errorf("unknown state %d", st)
}

func (r *run) record(o step.Outcome) {
	r.steps = append(r.steps, o)
}

// execute runs s and turns a failed required step into a StepError.
func (r *run) execute(ctx context.Context, s step.Step) (step.Outcome, error) {
	out, err := r.exec.Execute(ctx, s)
	r.record(out)
	if err != nil {
		return out, fmt.Errorf("%s: %w", s.Name, err)
	}
	if out.Failed() {
		detail := ""
		if n := len(out.Targets); n > 0 {
			detail = out.Targets[n-1].Err
		}
		return out, &StepError{Step: s.Name, Result: out.Result, Detail: detail}
	}
	return out, nil
}

func (r *run) settle(ctx context.Context, d time.Duration) error {
	return r.clock.Sleep(ctx, d)
}

func (r *run) navigate(ctx context.Context, name string) error {
	start := r.clock.Now()
	out := step.Outcome{Step: name, Strategy: -1, Required: true, Result: step.Resolved}

	r.log.Info("navigating", "url", r.cfg.UsageURL)
	if err := r.sess.Navigate(ctx, r.cfg.UsageURL); err != nil {
		out.Result = step.ActionFailed
		out.Note = err.Error()
		out.Duration = r.clock.Now().Sub(start)
		r.record(out)
		return fmt.Errorf("%s: %w", name, err)
	}
	err := r.settle(ctx, r.cfg.Delays.Navigation)
	out.Duration = r.clock.Now().Sub(start)
	r.record(out)
	return err
}

func (r *run) onLoginPage(ctx context.Context) (bool, string, error) {
	url, err := r.sess.CurrentURL(ctx)
	if err != nil {
		return false, "", fmt.Errorf("%s: %w", StepLoginCheck, err)
	}
	return r.cfg.LoginPattern.MatchString(url), url, nil
}

func (r *run) loginCheck(ctx context.Context) (state, error) {
	onLogin, url, err := r.onLoginPage(ctx)
	if err != nil {
		return stateDone, err
	}

	out := step.Outcome{Step: StepLoginCheck, Strategy: -1, Required: true, Branch: true, Result: step.Resolved}
	if onLogin {
		out.Note = "authentication page detected: " + url
		r.record(out)
		r.log.Info("login page detected, logging in", "url", url)
		return statePerformLogin, nil
	}
	out.Note = "no authentication redirect"
	r.record(out)
	return stateInitiatePurchase, nil
}

func (r *run) performLogin(ctx context.Context) error {
	if r.cfg.Credential.Identifier == "" || r.cfg.Credential.Secret == "" {
		const detail = "no credential configured"
		r.record(step.Outcome{Step: StepLoginEmail, Strategy: -1, Required: true, Result: step.ActionFailed, Note: detail})
		return &StepError{Step: StepLoginEmail, Result: step.ActionFailed, Detail: detail}
	}

	loc := r.cfg.Locators
	steps := []step.Step{
		{
			Name:     StepLoginEmail,
			Targets:  []step.Target{{Role: string(RoleEmailField), Chain: loc[RoleEmailField], Action: step.ActionType, Text: r.cfg.Credential.Identifier}},
			Timeout:  r.cfg.Timeouts.Login,
			Required: true,
		},
		{
			Name:     StepLoginPassword,
			Targets:  []step.Target{{Role: string(RolePasswordField), Chain: loc[RolePasswordField], Action: step.ActionType, Text: r.cfg.Credential.Secret}},
			Timeout:  r.cfg.Timeouts.Login,
			Required: true,
		},
		{
			Name:     StepLoginConfirm,
			Targets:  []step.Target{{Role: string(RoleLoginButton), Chain: loc[RoleLoginButton], Action: step.ActionClick}},
			Timeout:  r.cfg.Timeouts.Login,
			Required: true,
			Settle:   r.cfg.Delays.Login,
		},
	}
	for _, s := range steps {
		if _, err := r.execute(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) renavigate(ctx context.Context) error {
	if err := r.navigate(ctx, StepRenavigate); err != nil {
		return err
	}
	onLogin, url, err := r.onLoginPage(ctx)
	if err != nil {
		return err
	}
	if onLogin {
		r.record(step.Outcome{
			Step: StepLoginCheck, Strategy: -1, Required: true, Branch: true,
			Result: step.ActionFailed, Note: "still on authentication page: " + url,
		})
		return &StepError{Step: StepLoginCheck, Result: step.ActionFailed, Detail: "login was not accepted"}
	}
	return nil
}

func (r *run) initiatePurchase(ctx context.Context) error {
	_, err := r.execute(ctx, step.Step{
		Name:     StepInitiatePurchase,
		Targets:  []step.Target{{Role: string(RolePurchaseButton), Chain: r.cfg.Locators[RolePurchaseButton], Action: step.ActionClick}},
		Timeout:  r.cfg.Timeouts.Purchase,
		Required: true,
	})
	return err
}

func (r *run) tabSwitch(ctx context.Context) error {
	start := r.clock.Now()
	out := step.Outcome{Step: StepTabSwitch, Strategy: -1, Required: true, Branch: true, Result: step.Resolved}

	tabs, err := r.sess.Tabs(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", StepTabSwitch, err)
	}
	if len(tabs) > 1 {
		newest := tabs[len(tabs)-1]
		if err := r.sess.SwitchTab(ctx, newest); err != nil {
			return fmt.Errorf("%s: %w", StepTabSwitch, err)
		}
		out.Note = fmt.Sprintf("switched to newest of %d tabs", len(tabs))
		r.log.Info("checkout opened in a new tab", "tabs", len(tabs))
	} else {
		out.Note = "stayed on current tab"
	}

	if err := r.settle(ctx, r.cfg.Delays.TabSwitch); err != nil {
		return err
	}

	if frag := r.cfg.CheckoutURLFragment; frag != "" {
		url, err := r.sess.CurrentURL(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", StepTabSwitch, err)
		}
		if !strings.Contains(url, frag) {
			out.Note += fmt.Sprintf("; active tab %s does not contain %q", url, frag)
			r.log.Warn("active tab does not look like the checkout page", "url", url, "expected", frag)
		}
	}

	// Lazy checkout forms only render their lower fields once scrolled into view.
	for _, script := range []string{browser.ScriptScrollBottom, browser.ScriptScrollTop} {
		if err := r.sess.RunScript(ctx, nil, script); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Debug("could not scroll page", "err", err)
		}
	}

	out.Duration = r.clock.Now().Sub(start)
	r.record(out)
	return nil
}

func (r *run) applyPromotion(ctx context.Context) error {
	loc := r.cfg.Locators

	reveal, err := r.execute(ctx, step.Step{
		Name:    StepPromotionReveal,
		Targets: []step.Target{{Role: string(RolePromotionReveal), Chain: loc[RolePromotionReveal], Action: step.ActionClick}},
		Timeout: r.cfg.Timeouts.Promotion,
		Branch:  true,
	})
	if err != nil {
		return err
	}

	input := step.Step{
		Name: StepPromotionCode,
		Targets: []step.Target{{
			Role:    string(RolePromotionInput),
			Chain:   loc[RolePromotionInput],
			Action:  step.ActionType,
			Text:    r.cfg.PromotionCode,
			Confirm: true,
		}},
		Required: true,
		Settle:   r.cfg.Delays.PromotionApply,
	}

	if reveal.Result == step.Resolved {
		input.Timeout = r.cfg.Timeouts.PromotionInput
		_, err := r.execute(ctx, input)
		return err
	}

	r.log.Debug("no promotion reveal control, looking for the input directly")
	input.Timeout = r.cfg.Timeouts.Promotion
	if _, err := r.execute(ctx, input); err != nil {
		return err
	}

	_, err = r.execute(ctx, step.Step{
		Name:    StepPromotionApply,
		Targets: []step.Target{{Role: string(RolePromotionApply), Chain: loc[RolePromotionApply], Action: step.ActionClick}},
		Timeout: r.cfg.Timeouts.Field,
		Settle:  r.cfg.Delays.PromotionApply,
	})
	return err
}

func (r *run) fillBilling(ctx context.Context) error {
	loc := r.cfg.Locators
	b := r.cfg.Billing
	field := func(name string, role Role, t step.Target, settle time.Duration) step.Step {
		t.Role = string(role)
		t.Chain = loc[role]
		return step.Step{Name: name, Targets: []step.Target{t}, Timeout: r.cfg.Timeouts.Field, Settle: settle}
	}

	var steps []step.Step
	if b.Name != "" {
		steps = append(steps, field(StepBillingName, RoleNameField, step.Target{Action: step.ActionType, Text: b.Name, SkipIfFilled: true}, 0))
	}
	if b.Address != "" {
		steps = append(steps,
			field(StepAddressTrigger, RoleAddressTrigger, step.Target{Action: step.ActionClick}, r.cfg.Delays.AddressLookup),
			field(StepBillingAddress, RoleAddressField, step.Target{Action: step.ActionType, Text: b.Address, Confirm: true}, r.cfg.Delays.AddressLookup),
		)
	}
	if b.City != "" {
		steps = append(steps, field(StepBillingCity, RoleCityField, step.Target{Action: step.ActionType, Text: b.City}, 0))
	}
	if b.State != "" {
		var alternates []string
		if b.StateLabel != "" {
			alternates = []string{b.StateLabel}
		}
		steps = append(steps, field(StepBillingState, RoleStateField, step.Target{Action: step.ActionFill, Text: b.State, Alternates: alternates}, 0))
	}
	if b.Zip != "" {
		steps = append(steps, field(StepBillingZip, RoleZipField, step.Target{Action: step.ActionType, Text: b.Zip}, 0))
	}

	for _, s := range steps {
		if _, err := r.execute(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) submit(ctx context.Context) error {
	action := step.ActionClick
	if r.cfg.DryRun {
		action = step.ActionLocate
	}
	out, err := r.execute(ctx, step.Step{
		Name:     StepSubmitOrder,
		Targets:  []step.Target{{Role: string(RoleSubmitButton), Chain: r.cfg.Locators[RoleSubmitButton], Action: action}},
		Timeout:  r.cfg.Timeouts.Submit,
		Required: true,
		Settle:   r.cfg.Delays.Submit,
	})
	if err != nil {
		return err
	}
	if r.cfg.DryRun {
		r.steps[len(r.steps)-1].Note = "dry run: order not submitted"
		r.log.Info("dry run, stopping before submit", "intent", out.Targets[0].Intent)
	}
	return nil
}

// returnToOrigin closes the checkout tab and goes back to the first tab. The order
// has already been attempted, so nothing here can fail the run.
func (r *run) returnToOrigin(ctx context.Context) {
	start := r.clock.Now()
	out := step.Outcome{Step: StepReturnToOrigin, Strategy: -1, Result: step.Resolved}
	defer func() {
		out.Duration = r.clock.Now().Sub(start)
		r.record(out)
	}()

	fail := func(what string, err error) {
		out.Result = step.ActionFailed
		out.Note = fmt.Sprintf("%s: %v", what, err)
		r.log.Warn("could not return to the original tab", "op", what, "err", err)
	}

	tabs, err := r.sess.Tabs(ctx)
	if err != nil {
		fail("list tabs", err)
		return
	}
	if len(tabs) <= 1 {
		out.Note = "single tab, nothing to close"
		return
	}

	if err := r.sess.CloseCurrentTab(ctx); err != nil {
		fail("close tab", err)
		return
	}
	origin := r.origin
	if origin == "" {
		origin = tabs[0]
	}
	if err := r.sess.SwitchTab(ctx, origin); err != nil {
		fail("switch tab", err)
		return
	}
	out.Note = "closed checkout tab"
	if err := r.settle(ctx, r.cfg.Delays.ReturnTab); err != nil {
		r.log.Debug("settle after tab return interrupted", "err", err)
	}
}
