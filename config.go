package main

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"claimer/internal/browser"
	"claimer/internal/locator"
	"claimer/internal/workflow"
)

// Duration is a time.Duration written as "1.5s" in the config file.
type Duration time.Duration

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, s, err)
	}
	*d = Duration(parsed)
	return nil
}

type Config struct {
	UsageURL            string `yaml:"usage_url"`
	CheckoutURLFragment string `yaml:"checkout_url_fragment"`
	LoginURLPattern     string `yaml:"login_url_pattern"`

	PromotionCode string           `yaml:"promotion_code"`
	Billing       BillingConfig    `yaml:"billing"`
	Credential    CredentialConfig `yaml:"credential"`

	RunCount    int `yaml:"run_count"`
	MaxParallel int `yaml:"max_parallel"`

	BrowserBin     string `yaml:"browser_bin"`
	ViewportWidth  int    `yaml:"viewport_width"`
	ViewportHeight int    `yaml:"viewport_height"`
	Headless       bool   `yaml:"headless"`

	PollInterval Duration      `yaml:"poll_interval"`
	Timeouts     TimeoutConfig `yaml:"timeouts"`
	Delays       DelayConfig   `yaml:"delays"`

	// Selectors replace the built-in locator chain of a role, e.g. zip_field.
	Selectors map[string][]SelectorConfig `yaml:"selectors,omitempty"`

	DryRun    bool `yaml:"dry_run"`
	DebugMode bool `yaml:"debug_mode"`
}

type BillingConfig struct {
	Name       string `yaml:"name"`
	Address    string `yaml:"address"`
	City       string `yaml:"city"`
	State      string `yaml:"state"`
	StateLabel string `yaml:"state_label"`
	Zip        string `yaml:"zip"`
}

type CredentialConfig struct {
	Identifier string `yaml:"identifier"`
	Secret     string `yaml:"secret"`
}

type TimeoutConfig struct {
	Login          Duration `yaml:"login"`
	Purchase       Duration `yaml:"purchase"`
	Promotion      Duration `yaml:"promotion"`
	PromotionInput Duration `yaml:"promotion_input"`
	Field          Duration `yaml:"field"`
	Submit         Duration `yaml:"submit"`
}

type DelayConfig struct {
	Click          Duration `yaml:"click"`
	Type           Duration `yaml:"type"`
	Select         Duration `yaml:"select"`
	Confirm        Duration `yaml:"confirm"`
	Navigation     Duration `yaml:"navigation"`
	Login          Duration `yaml:"login"`
	TabSwitch      Duration `yaml:"tab_switch"`
	PromotionApply Duration `yaml:"promotion_apply"`
	AddressLookup  Duration `yaml:"address_lookup"`
	Submit         Duration `yaml:"submit"`
	ReturnTab      Duration `yaml:"return_tab"`
}

// SelectorConfig is one locator strategy. Exactly one of XPath and CSS is set.
type SelectorConfig struct {
	XPath  string `yaml:"xpath,omitempty"`
	CSS    string `yaml:"css,omitempty"`
	Intent string `yaml:"intent,omitempty"`
}

const (
	envIdentifier = "CLAIMER_IDENTIFIER"
	envSecret     = "CLAIMER_SECRET"
)

func DefaultConfig() *Config {
	timeouts := workflow.DefaultTimeouts()
	delays := workflow.DefaultDelays()

	return &Config{
		UsageURL:            "https://windsurf.com/subscription/usage",
		CheckoutURLFragment: "checkout.stripe.com",
		LoginURLPattern:     workflow.DefaultLoginPattern.String(),
		PromotionCode:       "OPEN-SF",
		Billing: BillingConfig{
			Name:       "kendall",
			Address:    "1200 market street",
			City:       "San Francisco",
			State:      "CA",
			StateLabel: "California",
			Zip:        "94102",
		},
		RunCount:       1,
		MaxParallel:    0,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		Headless:       false,
		PollInterval:   Duration(locator.DefaultPollInterval),
		Timeouts: TimeoutConfig{
			Login:          Duration(timeouts.Login),
			Purchase:       Duration(timeouts.Purchase),
			Promotion:      Duration(timeouts.Promotion),
			PromotionInput: Duration(timeouts.PromotionInput),
			Field:          Duration(timeouts.Field),
			Submit:         Duration(timeouts.Submit),
		},
		Delays: DelayConfig{
			Click:          Duration(delays.Click),
			Type:           Duration(delays.Type),
			Select:         Duration(delays.Select),
			Confirm:        Duration(delays.Confirm),
			Navigation:     Duration(delays.Navigation),
			Login:          Duration(delays.Login),
			TabSwitch:      Duration(delays.TabSwitch),
			PromotionApply: Duration(delays.PromotionApply),
			AddressLookup:  Duration(delays.AddressLookup),
			Submit:         Duration(delays.Submit),
			ReturnTab:      Duration(delays.ReturnTab),
		},
		DryRun:    false,
		DebugMode: false,
	}
}

// LoadConfig reads path, writing the defaults there first when it does not exist.
// Credentials from the environment take precedence over the file.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path); err != nil {
			return nil, err
		}
		config.applyEnv()
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	config.applyEnv()
	return config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envIdentifier); v != "" {
		c.Credential.Identifier = v
	}
	if v := os.Getenv(envSecret); v != "" {
		c.Credential.Secret = v
	}
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Workflow converts the file configuration into the settings of one checkout run.
func (c *Config) Workflow() (workflow.Config, error) {
	wc := workflow.DefaultConfig()

	pattern, err := regexp.Compile(c.LoginURLPattern)
	if err != nil {
		return wc, fmt.Errorf("login_url_pattern: %w", err)
	}
	overrides, err := c.locators()
	if err != nil {
		return wc, err
	}

	wc.UsageURL = c.UsageURL
	wc.CheckoutURLFragment = c.CheckoutURLFragment
	wc.LoginPattern = pattern
	wc.PromotionCode = c.PromotionCode
	wc.Billing = workflow.Billing(c.Billing)
	wc.Credential = workflow.Credential(c.Credential)
	wc.Locators = wc.Locators.Merge(overrides)
	wc.PollInterval = time.Duration(c.PollInterval)
	wc.DryRun = c.DryRun
	wc.Timeouts = workflow.Timeouts{
		Login:          time.Duration(c.Timeouts.Login),
		Purchase:       time.Duration(c.Timeouts.Purchase),
		Promotion:      time.Duration(c.Timeouts.Promotion),
		PromotionInput: time.Duration(c.Timeouts.PromotionInput),
		Field:          time.Duration(c.Timeouts.Field),
		Submit:         time.Duration(c.Timeouts.Submit),
	}
	wc.Delays.Click = time.Duration(c.Delays.Click)
	wc.Delays.Type = time.Duration(c.Delays.Type)
	wc.Delays.Select = time.Duration(c.Delays.Select)
	wc.Delays.Confirm = time.Duration(c.Delays.Confirm)
	wc.Delays.Navigation = time.Duration(c.Delays.Navigation)
	wc.Delays.Login = time.Duration(c.Delays.Login)
	wc.Delays.TabSwitch = time.Duration(c.Delays.TabSwitch)
	wc.Delays.PromotionApply = time.Duration(c.Delays.PromotionApply)
	wc.Delays.AddressLookup = time.Duration(c.Delays.AddressLookup)
	wc.Delays.Submit = time.Duration(c.Delays.Submit)
	wc.Delays.ReturnTab = time.Duration(c.Delays.ReturnTab)
	wc.Browser = browser.Options{
		Headless:       c.Headless,
		Bin:            c.BrowserBin,
		ViewportWidth:  c.ViewportWidth,
		ViewportHeight: c.ViewportHeight,
	}

	if err := wc.Validate(); err != nil {
		return wc, err
	}
	return wc, nil
}

func (c *Config) locators() (workflow.Locators, error) {
	known := map[workflow.Role]bool{}
	for _, role := range workflow.Roles {
		known[role] = true
	}

	out := workflow.Locators{}
	var errs []error
	for name, entries := range c.Selectors {
		role := workflow.Role(name)
		if !known[role] {
			errs = append(errs, fmt.Errorf("selectors: unknown role %q", name))
			continue
		}
		chain := make(locator.Chain, 0, len(entries))
		for i, e := range entries {
			intent := e.Intent
			if intent == "" {
				intent = name
			}
			switch {
			case e.XPath != "" && e.CSS == "":
				chain = append(chain, locator.XPath(e.XPath, intent))
			case e.CSS != "" && e.XPath == "":
				chain = append(chain, locator.CSS(e.CSS, intent))
			default:
				errs = append(errs, fmt.Errorf("selectors.%s[%d]: set exactly one of xpath and css", name, i))
			}
		}
		out[role] = chain
	}
	return out, errors.Join(errs...)
}
