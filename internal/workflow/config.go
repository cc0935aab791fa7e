package workflow

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"claimer/internal/browser"
	"claimer/internal/step"
)

// DefaultLoginPattern matches authentication pages by URL.
var DefaultLoginPattern = regexp.MustCompile(`(?i)login`)

type Billing struct {
	Name    string
	Address string
	City    string
	State   string
	// StateLabel is tried when State is not an option value of a state dropdown.
	StateLabel string
	Zip        string
}

type Credential struct {
	Identifier string
	Secret     string
}

// Timeouts bound how long each step polls for its targets.
type Timeouts struct {
	Login     time.Duration
	Purchase  time.Duration
	Promotion time.Duration
	// PromotionInput is the secondary timeout for the input revealed by the reveal control.
	PromotionInput time.Duration
	Field          time.Duration
	Submit         time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Login:          10 * time.Second,
		Purchase:       10 * time.Second,
		Promotion:      10 * time.Second,
		PromotionInput: 10 * time.Second,
		Field:          3 * time.Second,
		Submit:         10 * time.Second,
	}
}

// Delays are the settle delays of the flow. The embedded action class delays apply
// wherever a step does not name its own.
type Delays struct {
	step.Delays
	Navigation     time.Duration
	Login          time.Duration
	TabSwitch      time.Duration
	PromotionApply time.Duration
	AddressLookup  time.Duration
	Submit         time.Duration
	ReturnTab      time.Duration
}

func DefaultDelays() Delays {
	return Delays{
		Delays: step.Delays{
			Click:   2 * time.Second,
			Type:    1 * time.Second,
			Select:  1 * time.Second,
			Confirm: 1 * time.Second,
		},
		Navigation:     3 * time.Second,
		Login:          5 * time.Second,
		TabSwitch:      5 * time.Second,
		PromotionApply: 5 * time.Second,
		AddressLookup:  3 * time.Second,
		Submit:         5 * time.Second,
		ReturnTab:      2 * time.Second,
	}
}

// Config drives one checkout run.
type Config struct {
	UsageURL string
	// CheckoutURLFragment is expected in the checkout tab URL. A mismatch is noted,
	// not fatal.
	CheckoutURLFragment string
	LoginPattern        *regexp.Regexp
	PromotionCode       string
	Billing             Billing
	Credential          Credential
	Locators            Locators
	Timeouts            Timeouts
	Delays              Delays
	PollInterval        time.Duration
	// DryRun locates the submit control without clicking it.
	DryRun  bool
	Browser browser.Options
}

func DefaultConfig() Config {
	return Config{
		LoginPattern: DefaultLoginPattern,
		Locators:     DefaultLocators(),
		Timeouts:     DefaultTimeouts(),
		Delays:       DefaultDelays(),
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.UsageURL == "" {
		errs = append(errs, errors.New("usage URL is required"))
	}
	if c.LoginPattern == nil {
		errs = append(errs, errors.New("login URL pattern is required"))
	}
	if c.PromotionCode == "" {
		errs = append(errs, errors.New("promotion code is required"))
	}
	if err := c.Locators.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid workflow config: %w", err)
	}
	return nil
}
