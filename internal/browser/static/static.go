// Package static is a browser backend over canned HTML documents. XPath locators
// are evaluated with htmlquery and CSS locators with goquery, so locator chains and
// whole checkout workflows can be exercised without launching Chrome.
package static

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"claimer/internal/browser"
)

const blankURL = "about:blank"

// Reaction is what happens when an element is clicked or receives the confirm key.
type Reaction struct {
	// Navigate loads another page into the same tab.
	Navigate string
	// OpenTab opens a page in a new tab without activating it.
	OpenTab string
	// Authenticate marks the session as logged in.
	Authenticate bool
}

// Page is one canned document.
type Page struct {
	HTML string
	// RequiresLogin redirects unauthenticated sessions to Site.LoginURL.
	RequiresLogin bool

	// OnClick and OnConfirm are keyed by an XPath selecting the triggering elements.
	OnClick   map[string]Reaction
	OnConfirm map[string]Reaction

	// Covered lists XPaths of elements whose native actions are intercepted by an
	// overlay. Script interactions still reach them.
	Covered []string
	// Delayed hides the elements matched by each XPath until the tab has shown the
	// page for the given duration.
	Delayed map[string]time.Duration
	// Faults makes FindAll fail for the given locator expressions.
	Faults map[string]error
}

// Site is a set of pages addressed by URL. It implements browser.Launcher and keeps
// every session it launched for inspection.
type Site struct {
	Pages    map[string]*Page
	LoginURL string
	// LaunchErr makes every Launch fail.
	LaunchErr error
	// Now drives Page.Delayed. Defaults to time.Now.
	Now func() time.Time

	mu       sync.Mutex
	sessions []*Session
}

func (s *Site) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Site) Launch(ctx context.Context, _ browser.Options) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.LaunchErr != nil {
		return nil, s.LaunchErr
	}

	sess := &Session{site: s}
	first := sess.openTab()
	first.url = blankURL
	first.doc = &html.Node{Type: html.DocumentNode}
	sess.active = first

	s.mu.Lock()
	s.sessions = append(s.sessions, sess)
	s.mu.Unlock()
	return sess, nil
}

// Sessions returns every session launched so far.
func (s *Site) Sessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Session(nil), s.sessions...)
}

type tab struct {
	id       browser.TabID
	url      string
	page     *Page
	doc      *html.Node
	gen      int
	loadedAt time.Time
	values   map[*html.Node]string
}

type element struct {
	tab  *tab
	gen  int
	node *html.Node
}

func (e *element) String() string {
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(e.node.Data)
	for _, key := range []string{"id", "name", "type"} {
		if v := htmlquery.SelectAttr(e.node, key); v != "" {
			fmt.Fprintf(&b, " %s=%q", key, v)
		}
	}
	b.WriteString(">")
	return b.String()
}

// Node returns the document node behind an element resolved by this backend.
func Node(el browser.Element) *html.Node {
	if e, ok := el.(*element); ok {
		return e.node
	}
	return nil
}

// Session is one simulated browser.
type Session struct {
	site *Site

	mu        sync.Mutex
	tabs      []*tab
	active    *tab
	nextID    int
	authed    bool
	closed    bool
	shutdowns int

	navigations []string
	clicks      []string
	scripts     []string
	filled      []fill
}

type fill struct {
	element string
	value   string
}

func (s *Session) openTab() *tab {
	s.nextID++
	t := &tab{
		id:     browser.TabID(fmt.Sprintf("tab-%d", s.nextID)),
		values: map[*html.Node]string{},
	}
	s.tabs = append(s.tabs, t)
	return t
}

func (s *Session) load(t *tab, url string) error {
	page, ok := s.site.Pages[url]
	if !ok {
		return fmt.Errorf("%w: %s: no such page", browser.ErrNavigation, url)
	}
	if page.RequiresLogin && !s.authed && s.site.LoginURL != "" {
		url = s.site.LoginURL
		if page, ok = s.site.Pages[url]; !ok {
			return fmt.Errorf("%w: %s: no such page", browser.ErrNavigation, url)
		}
	}

	doc, err := htmlquery.Parse(strings.NewReader(page.HTML))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", browser.ErrNavigation, url, err)
	}

	t.url = url
	t.page = page
	t.doc = doc
	t.gen++
	t.loadedAt = s.site.now()
	t.values = map[*html.Node]string{}
	s.navigations = append(s.navigations, url)
	return nil
}

func (s *Session) check(ctx context.Context) (*tab, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed {
		return nil, browser.ErrSessionClosed
	}
	if s.active == nil {
		return nil, browser.ErrNoActiveTab
	}
	return s.active, nil
}

func (s *Session) resolve(ctx context.Context, el browser.Element) (*tab, *element, error) {
	t, err := s.check(ctx)
	if err != nil {
		return nil, nil, err
	}
	e, ok := el.(*element)
	if !ok || e == nil {
		return nil, nil, fmt.Errorf("foreign element %v", el)
	}
	if e.tab != t || e.gen != t.gen {
		return nil, nil, fmt.Errorf("%w: stale element %s", browser.ErrInteraction, e)
	}
	return t, e, nil
}

func matches(doc *html.Node, xpath string, node *html.Node) bool {
	nodes, err := htmlquery.QueryAll(doc, xpath)
	if err != nil {
		return false
	}
	for _, n := range nodes {
		if n == node {
			return true
		}
	}
	return false
}

func (s *Session) covered(t *tab, e *element) error {
	if t.page == nil {
		return nil
	}
	for _, xpath := range t.page.Covered {
		if matches(t.doc, xpath, e.node) {
			return fmt.Errorf("%w: %s is covered by another element", browser.ErrInteraction, e)
		}
	}
	return nil
}

func (s *Session) react(t *tab, e *element, reactions map[string]Reaction) error {
	for xpath, r := range reactions {
		if !matches(t.doc, xpath, e.node) {
			continue
		}
		if r.Authenticate {
			s.authed = true
		}
		if r.OpenTab != "" {
			nt := s.openTab()
			if err := s.load(nt, r.OpenTab); err != nil {
				return err
			}
		}
		if r.Navigate != "" {
			if err := s.load(t, r.Navigate); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

func (s *Session) click(t *tab, e *element) error {
	s.clicks = append(s.clicks, e.String())
	if t.page == nil {
		return nil
	}
	return s.react(t, e, t.page.OnClick)
}

func (s *Session) setValue(t *tab, e *element, text string) error {
	switch e.node.Data {
	case "input", "textarea":
		t.values[e.node] = text
		s.filled = append(s.filled, fill{element: e.String(), value: text})
		return nil
	}
	return fmt.Errorf("%w: %s is not editable", browser.ErrInteraction, e)
}

func (s *Session) selectOption(t *tab, e *element, want string) error {
	if e.node.Data != "select" {
		return fmt.Errorf("%w: %s is not a select", browser.ErrInteraction, e)
	}
	options, _ := htmlquery.QueryAll(e.node, ".//option")
	for _, o := range options {
		value := htmlquery.SelectAttr(o, "value")
		label := strings.TrimSpace(htmlquery.InnerText(o))
		if value == want || label == want {
			if value == "" {
				value = label
			}
			t.values[e.node] = value
			s.filled = append(s.filled, fill{element: e.String(), value: value})
			return nil
		}
	}
	return fmt.Errorf("%w: %s has no option %q", browser.ErrInteraction, e, want)
}

func (s *Session) confirm(t *tab, e *element) error {
	if t.page == nil {
		return nil
	}
	return s.react(t, e, t.page.OnConfirm)
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.check(ctx)
	if err != nil {
		return err
	}
	return s.load(t, url)
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.check(ctx)
	if err != nil {
		return "", err
	}
	return t.url, nil
}

func (s *Session) FindAll(ctx context.Context, loc browser.Locator) ([]browser.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.check(ctx)
	if err != nil {
		return nil, err
	}
	if t.page != nil {
		if fault, ok := t.page.Faults[loc.Expr]; ok {
			return nil, fault
		}
	}

	var nodes []*html.Node
	switch loc.Kind {
	case browser.CSS:
		nodes = goquery.NewDocumentFromNode(t.doc).Find(loc.Expr).Nodes
	default:
		nodes, err = htmlquery.QueryAll(t.doc, loc.Expr)
		if err != nil {
			return nil, fmt.Errorf("invalid xpath %q: %w", loc.Expr, err)
		}
	}

	hidden := s.hidden(t)
	out := make([]browser.Element, 0, len(nodes))
	for _, n := range nodes {
		if hidden[n] {
			continue
		}
		out = append(out, &element{tab: t, gen: t.gen, node: n})
	}
	return out, nil
}

func (s *Session) hidden(t *tab) map[*html.Node]bool {
	if t.page == nil || len(t.page.Delayed) == 0 {
		return nil
	}
	elapsed := s.site.now().Sub(t.loadedAt)
	out := map[*html.Node]bool{}
	for xpath, after := range t.page.Delayed {
		if elapsed >= after {
			continue
		}
		nodes, _ := htmlquery.QueryAll(t.doc, xpath)
		for _, n := range nodes {
			out[n] = true
		}
	}
	return out
}

func (s *Session) Click(ctx context.Context, el browser.Element) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, e, err := s.resolve(ctx, el)
	if err != nil {
		return err
	}
	if err := s.covered(t, e); err != nil {
		return err
	}
	return s.click(t, e)
}

func (s *Session) Type(ctx context.Context, el browser.Element, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, e, err := s.resolve(ctx, el)
	if err != nil {
		return err
	}
	if err := s.covered(t, e); err != nil {
		return err
	}
	return s.setValue(t, e, text)
}

func (s *Session) SelectOption(ctx context.Context, el browser.Element, valueOrLabel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, e, err := s.resolve(ctx, el)
	if err != nil {
		return err
	}
	if err := s.covered(t, e); err != nil {
		return err
	}
	return s.selectOption(t, e, valueOrLabel)
}

func (s *Session) PressConfirmKey(ctx context.Context, el browser.Element) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, e, err := s.resolve(ctx, el)
	if err != nil {
		return err
	}
	if err := s.covered(t, e); err != nil {
		return err
	}
	return s.confirm(t, e)
}

// RunScript understands the fallback scripts of package browser. Page level
// scripts are recorded and otherwise ignored.
func (s *Session) RunScript(ctx context.Context, el browser.Element, script string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el == nil {
		if _, err := s.check(ctx); err != nil {
			return err
		}
		s.scripts = append(s.scripts, script)
		return nil
	}

	t, e, err := s.resolve(ctx, el)
	if err != nil {
		return err
	}
	s.scripts = append(s.scripts, script)

	switch script {
	case browser.ScriptClick:
		return s.click(t, e)
	case browser.ScriptSubmit:
		return s.confirm(t, e)
	case browser.ScriptSetValue, browser.ScriptSelectOption:
		if len(args) != 1 {
			return fmt.Errorf("script expects one argument, got %d", len(args))
		}
		text, ok := args[0].(string)
		if !ok {
			return fmt.Errorf("script argument must be a string, got %T", args[0])
		}
		if script == browser.ScriptSelectOption {
			return s.selectOption(t, e, text)
		}
		return s.setValue(t, e, text)
	}
	return fmt.Errorf("unsupported script %q", script)
}

func (s *Session) Inspect(ctx context.Context, el browser.Element) (browser.ElementInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, e, err := s.resolve(ctx, el)
	if err != nil {
		return browser.ElementInfo{}, err
	}
	value, ok := t.values[e.node]
	if !ok {
		value = htmlquery.SelectAttr(e.node, "value")
	}
	return browser.ElementInfo{
		Tag:   e.node.Data,
		Value: value,
		Text:  strings.TrimSpace(htmlquery.InnerText(e.node)),
	}, nil
}

func (s *Session) Tabs(ctx context.Context) ([]browser.TabID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed {
		return nil, browser.ErrSessionClosed
	}
	ids := make([]browser.TabID, 0, len(s.tabs))
	for _, t := range s.tabs {
		ids = append(ids, t.id)
	}
	return ids, nil
}

func (s *Session) SwitchTab(ctx context.Context, id browser.TabID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return browser.ErrSessionClosed
	}
	for _, t := range s.tabs {
		if t.id == id {
			s.active = t
			return nil
		}
	}
	return fmt.Errorf("no tab %s", id)
}

func (s *Session) CloseCurrentTab(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.check(ctx)
	if err != nil {
		return err
	}
	kept := s.tabs[:0]
	for _, other := range s.tabs {
		if other != t {
			kept = append(kept, other)
		}
	}
	s.tabs = kept
	s.active = nil
	return nil
}

func (s *Session) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shutdowns++
	s.closed = true
	return nil
}

// Shutdowns counts Shutdown calls.
func (s *Session) Shutdowns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdowns
}

// Navigations lists every URL loaded, after login redirects.
func (s *Session) Navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigations...)
}

// Clicks lists every element clicked, natively or by script.
func (s *Session) Clicks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.clicks...)
}

// Scripts lists every script run.
func (s *Session) Scripts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.scripts...)
}

// ActiveURL is the URL of the active tab, or "" when no tab is active.
func (s *Session) ActiveURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.url
}

// Filled returns the last value typed or selected into an element whose description
// contains match, on any tab, open or closed.
func (s *Session) Filled(match string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.filled) - 1; i >= 0; i-- {
		if strings.Contains(s.filled[i].element, match) {
			return s.filled[i].value, true
		}
	}
	return "", false
}

// TabCount is the number of open tabs.
func (s *Session) TabCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tabs)
}

// Value returns what was typed or selected into the first element matching xpath
// on the active tab.
func (s *Session) Value(xpath string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.doc == nil {
		return ""
	}
	n, err := htmlquery.Query(s.active.doc, xpath)
	if err != nil || n == nil {
		return ""
	}
	return s.active.values[n]
}

var _ browser.Session = (*Session)(nil)
var _ browser.Launcher = (*Site)(nil)
