package browser

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const defaultActionTimeout = 5 * time.Second

// RodLauncher starts one Chrome process per session.
type RodLauncher struct {
	log           *log.Logger
	actionTimeout time.Duration
}

func NewRodLauncher(logger *log.Logger) *RodLauncher {
	return &RodLauncher{
		log:           logger,
		actionTimeout: defaultActionTimeout,
	}
}

// Preflight makes sure a browser binary exists before any session is launched,
// downloading the managed Chromium once when no system browser is installed.
func (l *RodLauncher) Preflight(ctx context.Context, opts Options) error {
	if opts.Bin != "" {
		if _, err := os.Stat(opts.Bin); err != nil {
			return fmt.Errorf("browser binary %s: %w", opts.Bin, err)
		}
		return nil
	}

	if path, ok := launcher.LookPath(); ok {
		l.log.Debug("using system browser", "path", path)
		return nil
	}

	l.log.Info("no system browser found, fetching managed Chromium")
	b := launcher.NewBrowser()
	b.Context = ctx
	path, err := b.Get()
	if err != nil {
		return fmt.Errorf("failed to fetch browser: %w", err)
	}
	l.log.Debug("managed browser ready", "path", path)
	return nil
}

func (l *RodLauncher) Launch(ctx context.Context, opts Options) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Leakless deadlocks on Windows, see https://github.com/go-rod/rod/issues/853
	lc := launcher.New().
		Leakless(runtime.GOOS != "windows").
		Headless(opts.Headless)

	if opts.UserDataDir != "" {
		lc = lc.UserDataDir(opts.UserDataDir)
	}

	if opts.Bin != "" {
		lc = lc.Bin(opts.Bin)
	} else if path, ok := launcher.LookPath(); ok {
		lc = lc.Bin(path)
	}

	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		lc = lc.Set("window-size", fmt.Sprintf("%d,%d", opts.ViewportWidth, opts.ViewportHeight))
	}

	u, err := lc.Launch()
	if err != nil {
		lc.Kill()
		return nil, describeLaunchError(err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		lc.Kill()
		lc.Cleanup()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := stealth.Page(b)
	if err != nil {
		_ = b.Close()
		lc.Kill()
		lc.Cleanup()
		return nil, fmt.Errorf("failed to create stealth page: %w", err)
	}

	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             opts.ViewportWidth,
			Height:            opts.ViewportHeight,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			l.log.Debug("failed to set viewport", "err", err)
		}
	}

	s := &rodSession{
		log:           l.log,
		launcher:      lc,
		browser:       b,
		page:          page,
		order:         []TabID{TabID(page.TargetID)},
		actionTimeout: l.actionTimeout,
	}
	return s, nil
}

func describeLaunchError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Opening in existing browser session"),
		strings.Contains(msg, "ProcessSingleton"),
		strings.Contains(msg, "SingletonLock"):
		return fmt.Errorf("browser profile is already in use by another Chrome process: %w", err)
	case strings.Contains(msg, "Access is denied"),
		strings.Contains(msg, "permission denied"):
		return fmt.Errorf("browser could not be started or downloaded (permission denied): %w", err)
	}
	return fmt.Errorf("failed to launch browser: %w", err)
}

type rodElement struct {
	el   *rod.Element
	desc string
}

func (e *rodElement) String() string { return e.desc }

type rodSession struct {
	log           *log.Logger
	launcher      *launcher.Launcher
	browser       *rod.Browser
	page          *rod.Page
	order         []TabID
	actionTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

func (s *rodSession) active(ctx context.Context) (*rod.Page, error) {
	if s.page == nil {
		return nil, ErrNoActiveTab
	}
	return s.page.Context(ctx), nil
}

func (s *rodSession) isAlive() bool {
	if _, err := s.browser.Version(); err != nil {
		s.log.Debug("browser version check failed", "err", err)
		return false
	}
	return true
}

// classify turns a rod error into one of the package sentinels.
func (s *rodSession) classify(ctx context.Context, err error, kind error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if !s.isAlive() {
		return fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}
	if kind == nil {
		return err
	}
	return fmt.Errorf("%w: %v", kind, err)
}

func (s *rodSession) element(el Element) (*rod.Element, error) {
	re, ok := el.(*rodElement)
	if !ok || re == nil {
		return nil, fmt.Errorf("foreign element %v", el)
	}
	return re.el, nil
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	p, err := s.active(ctx)
	if err != nil {
		return err
	}
	if err := p.Navigate(url); err != nil {
		return s.classify(ctx, fmt.Errorf("%s: %v", url, err), ErrNavigation)
	}
	if err := p.WaitLoad(); err != nil {
		return s.classify(ctx, fmt.Errorf("%s: page failed to load: %v", url, err), ErrNavigation)
	}
	return nil
}

func (s *rodSession) CurrentURL(ctx context.Context) (string, error) {
	p, err := s.active(ctx)
	if err != nil {
		return "", err
	}
	info, err := p.Info()
	if err != nil {
		return "", s.classify(ctx, err, nil)
	}
	return info.URL, nil
}

func (s *rodSession) FindAll(ctx context.Context, loc Locator) ([]Element, error) {
	p, err := s.active(ctx)
	if err != nil {
		return nil, err
	}

	var found rod.Elements
	switch loc.Kind {
	case CSS:
		found, err = p.Elements(loc.Expr)
	default:
		found, err = p.ElementsX(loc.Expr)
	}
	if err != nil {
		return nil, s.classify(ctx, err, nil)
	}

	out := make([]Element, 0, len(found))
	for i, el := range found {
		out = append(out, &rodElement{el: el, desc: fmt.Sprintf("%s[%d]", loc, i)})
	}
	return out, nil
}

// act runs fn against el bounded by the action timeout and maps failures to
// ErrInteraction.
func (s *rodSession) act(ctx context.Context, el Element, fn func(*rod.Element) error) error {
	re, err := s.element(el)
	if err != nil {
		return err
	}
	bounded := re.Context(ctx).Timeout(s.actionTimeout)
	defer bounded.CancelTimeout()

	if err := fn(bounded); err != nil {
		return s.classify(ctx, err, ErrInteraction)
	}
	return nil
}

func (s *rodSession) Click(ctx context.Context, el Element) error {
	return s.act(ctx, el, func(e *rod.Element) error {
		return e.Click(proto.InputMouseButtonLeft, 1)
	})
}

func (s *rodSession) Type(ctx context.Context, el Element, text string) error {
	return s.act(ctx, el, func(e *rod.Element) error {
		if err := e.SelectAllText(); err != nil {
			return err
		}
		return e.Input(text)
	})
}

func (s *rodSession) SelectOption(ctx context.Context, el Element, valueOrLabel string) error {
	return s.act(ctx, el, func(e *rod.Element) error {
		byValue := fmt.Sprintf(`option[value=%q]`, valueOrLabel)
		if err := e.Select([]string{byValue}, true, rod.SelectorTypeCSSSector); err == nil {
			return nil
		}
		return e.Select([]string{valueOrLabel}, true, rod.SelectorTypeText)
	})
}

func (s *rodSession) PressConfirmKey(ctx context.Context, el Element) error {
	return s.act(ctx, el, func(e *rod.Element) error {
		return e.Type(input.Enter)
	})
}

func (s *rodSession) RunScript(ctx context.Context, el Element, script string, args ...any) error {
	if el == nil {
		p, err := s.active(ctx)
		if err != nil {
			return err
		}
		if _, err := p.Eval(script, args...); err != nil {
			return s.classify(ctx, err, nil)
		}
		return nil
	}
	return s.act(ctx, el, func(e *rod.Element) error {
		_, err := e.Eval(script, args...)
		return err
	})
}

func (s *rodSession) Inspect(ctx context.Context, el Element) (ElementInfo, error) {
	re, err := s.element(el)
	if err != nil {
		return ElementInfo{}, err
	}
	e := re.Context(ctx)

	node, err := e.Describe(0, false)
	if err != nil {
		return ElementInfo{}, s.classify(ctx, err, nil)
	}
	info := ElementInfo{Tag: strings.ToLower(node.LocalName)}

	if v, err := e.Property("value"); err == nil {
		info.Value = v.Str()
	}
	if text, err := e.Text(); err == nil {
		info.Text = text
	}
	return info, nil
}

func (s *rodSession) Tabs(ctx context.Context) ([]TabID, error) {
	pages, err := s.browser.Context(ctx).Pages()
	if err != nil {
		return nil, s.classify(ctx, err, nil)
	}

	live := make(map[TabID]bool, len(pages))
	for _, p := range pages {
		live[TabID(p.TargetID)] = true
	}

	kept := make([]TabID, 0, len(pages))
	known := make(map[TabID]bool, len(s.order))
	for _, id := range s.order {
		if live[id] {
			kept = append(kept, id)
			known[id] = true
		}
	}
	for _, p := range pages {
		id := TabID(p.TargetID)
		if !known[id] {
			kept = append(kept, id)
			known[id] = true
		}
	}
	s.order = kept

	return append([]TabID(nil), kept...), nil
}

func (s *rodSession) SwitchTab(ctx context.Context, id TabID) error {
	p, err := s.browser.Context(ctx).PageFromTarget(proto.TargetTargetID(id))
	if err != nil {
		return s.classify(ctx, fmt.Errorf("tab %s: %v", id, err), nil)
	}
	if _, err := p.Activate(); err != nil {
		return s.classify(ctx, fmt.Errorf("activate tab %s: %v", id, err), nil)
	}
	s.page = p
	return nil
}

func (s *rodSession) CloseCurrentTab(ctx context.Context) error {
	p, err := s.active(ctx)
	if err != nil {
		return err
	}
	closed := TabID(p.TargetID)
	if err := p.Close(); err != nil {
		return s.classify(ctx, err, nil)
	}
	s.page = nil

	kept := s.order[:0]
	for _, id := range s.order {
		if id != closed {
			kept = append(kept, id)
		}
	}
	s.order = kept
	return nil
}

func (s *rodSession) Shutdown() error {
	s.closeOnce.Do(func() {
		if err := s.browser.Close(); err != nil {
			s.closeErr = fmt.Errorf("failed to close browser: %w", err)
		}
		s.launcher.Kill()
		s.launcher.Cleanup()
		s.log.Debug("browser destroyed")
	})
	return s.closeErr
}

var _ Session = (*rodSession)(nil)
