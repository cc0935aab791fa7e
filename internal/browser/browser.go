// Package browser defines the browser session contract the checkout engine drives,
// plus a Chrome backend built on go-rod.
package browser

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInteraction means a resolved element rejected a native action,
	// e.g. because an overlay intercepted the click.
	ErrInteraction = errors.New("element interaction failed")

	// ErrNavigation means a page failed to load.
	ErrNavigation = errors.New("navigation failed")

	// ErrSessionClosed means the browser went away underneath the session.
	ErrSessionClosed = errors.New("browser session closed")

	// ErrNoActiveTab is returned by page operations after the active tab was closed
	// and no other tab was switched to.
	ErrNoActiveTab = errors.New("no active tab")
)

// LocatorKind selects the query language of a Locator.
type LocatorKind string

const (
	XPath LocatorKind = "xpath"
	CSS   LocatorKind = "css"
)

// Locator is a query identifying zero or more elements on the active tab.
type Locator struct {
	Kind LocatorKind
	Expr string
}

func (l Locator) String() string {
	return fmt.Sprintf("%s=%s", l.Kind, l.Expr)
}

// Element is a reference into the live page. It is only valid until the DOM changes,
// so callers must not keep it past the step that resolved it.
type Element interface {
	String() string
}

// ElementInfo is a snapshot of an element's state.
type ElementInfo struct {
	Tag   string
	Value string
	Text  string
}

// TabID identifies one tab of a session.
type TabID string

// Options configures a new session.
type Options struct {
	Headless bool
	// Bin overrides the browser executable. Empty means: system Chrome when found,
	// otherwise the launcher's managed download.
	Bin string
	// UserDataDir pins the profile directory. Concurrent sessions must not share one.
	UserDataDir    string
	ViewportWidth  int
	ViewportHeight int
}

// Launcher creates isolated browser sessions.
type Launcher interface {
	Launch(ctx context.Context, opts Options) (Session, error)
}

// Session is one isolated browser instance with one or more tabs, exactly one of
// which is active. A Session is owned by a single goroutine.
type Session interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)

	// FindAll returns every element matching loc on the active tab, or an empty
	// slice. It never waits.
	FindAll(ctx context.Context, loc Locator) ([]Element, error)

	Click(ctx context.Context, el Element) error
	// Type replaces the element's content with text.
	Type(ctx context.Context, el Element, text string) error
	// SelectOption picks the option of a <select> whose value or visible label
	// equals valueOrLabel.
	SelectOption(ctx context.Context, el Element, valueOrLabel string) error
	PressConfirmKey(ctx context.Context, el Element) error
	// RunScript evaluates a JavaScript function. When el is non-nil the function's
	// this is bound to the element; otherwise it runs against the active tab.
	RunScript(ctx context.Context, el Element, script string, args ...any) error
	Inspect(ctx context.Context, el Element) (ElementInfo, error)

	// Tabs lists open tabs in the order they were opened.
	Tabs(ctx context.Context) ([]TabID, error)
	SwitchTab(ctx context.Context, id TabID) error
	CloseCurrentTab(ctx context.Context) error

	// Shutdown releases every resource held by the session.
	Shutdown() error
}
