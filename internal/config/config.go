// Package config loads orderbot's YAML configuration, its local override
// file and the secrets kept in the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"orderbot/internal/checkout"
	"orderbot/internal/session"
	"orderbot/internal/settle"
	"orderbot/internal/storefront"
)

type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Settle  SettleConfig  `yaml:"settle"`
	Scrape  ScrapeConfig  `yaml:"scrape"`
	Session SessionConfig `yaml:"session"`

	// Checkout holds the identity typed into checkout forms. Card data is
	// only read from the environment.
	Checkout checkout.Info `yaml:"checkout"`

	// Storefronts maps a name used on the command line to a platform preset
	// plus overrides.
	Storefronts map[string]storefront.Profile `yaml:"storefronts"`

	HistoryDB       string `yaml:"history_db"`
	TracingEndpoint string `yaml:"tracing_endpoint,omitempty"`
	DebugMode       bool   `yaml:"debug_mode"`
}

type BrowserConfig struct {
	ProfilePath     string `yaml:"profile_path"`
	ChromePath      string `yaml:"chrome_path,omitempty"`
	Headless        bool   `yaml:"headless"`
	KeepBrowserOpen bool   `yaml:"keep_browser_open"`
	Leakless        bool   `yaml:"leakless"`
	UserAgent       string `yaml:"user_agent,omitempty"`
	ViewportWidth   int    `yaml:"viewport_width"`
	ViewportHeight  int    `yaml:"viewport_height"`
	// PageLoadTimeout is in seconds.
	PageLoadTimeout int `yaml:"page_load_timeout"`
}

type SettleConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
	IntervalMs     int `yaml:"interval_ms"`
}

type ScrapeConfig struct {
	Workers     int  `yaml:"workers"`
	SkipDetails bool `yaml:"skip_details"`
}

type SessionConfig struct {
	// OnItemFailure is "abort" or "skip". It has no default.
	OnItemFailure string `yaml:"on_item_failure"`
}

// Environment variables holding secrets.
const (
	EnvCardNumber     = "CREDIT_CARD_NUMBER"
	EnvCardExpiry     = "CREDIT_CARD_EXP"
	EnvCardCVC        = "CREDIT_CARD_CCV"
	EnvCardPostalCode = "CREDIT_CARD_ZIP"
)

func DefaultConfig(dataDir string) *Config {
	return &Config{
		Browser: BrowserConfig{
			ProfilePath:     filepath.Join(dataDir, "browser-profile"),
			Headless:        false,
			KeepBrowserOpen: false,
			Leakless:        true,
			ViewportWidth:   1920,
			ViewportHeight:  1080,
			PageLoadTimeout: 30,
		},
		Settle: SettleConfig{
			TimeoutSeconds: int(settle.DefaultTimeout / time.Second),
			IntervalMs:     int(settle.DefaultInterval / time.Millisecond),
		},
		Scrape: ScrapeConfig{
			Workers: 4,
		},
		Storefronts: map[string]storefront.Profile{
			"example": {
				Platform: "toast",
				URL:      "https://www.toasttab.com/example-restaurant",
			},
		},
		HistoryDB: filepath.Join(dataDir, "history.db"),
	}
}

// LocalPath is the override file merged over path: config.yaml becomes
// config.local.yaml.
func LocalPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}

// LoadConfig reads path, creating it with defaults when missing, then merges
// the local override file over it and loads .env from the same directory.
func LoadConfig(path, dataDir string) (*Config, error) {
	config := DefaultConfig(dataDir)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path); err != nil {
			return nil, err
		}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	local := LocalPath(path)
	data, err := os.ReadFile(local)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if len(data) > 0 {
		var override Config
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("parse %s: %w", local, err)
		}
		if err := mergo.Merge(config, override, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge %s: %w", local, err)
		}
		slog.Info("merging config with local overrides", "local", local)
	}

	// A missing .env is fine; the environment may already be set.
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	if config.Browser.ProfilePath != "" {
		if err := os.MkdirAll(config.Browser.ProfilePath, 0755); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// Save writes the configuration. Secrets are never written.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Policy is the settle policy shared by every storefront.
func (c *Config) Policy() settle.Policy {
	return settle.Policy{
		Timeout:  time.Duration(c.Settle.TimeoutSeconds) * time.Second,
		Interval: time.Duration(c.Settle.IntervalMs) * time.Millisecond,
		Clock:    settle.RealClock,
	}
}

// StorefrontNames lists the configured storefronts.
func (c *Config) StorefrontNames() []string {
	names := make([]string, 0, len(c.Storefronts))
	for name := range c.Storefronts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Profile resolves a configured storefront: the platform preset with the
// configured fields merged over it and the account filled from the
// environment.
func (c *Config) Profile(name string) (storefront.Profile, error) {
	entry, ok := c.Storefronts[name]
	if !ok {
		return storefront.Profile{}, fmt.Errorf("unknown storefront %q (configured: %s)", name, strings.Join(c.StorefrontNames(), ", "))
	}

	profile, ok := storefront.Preset(entry.Platform)
	if !ok {
		return storefront.Profile{}, fmt.Errorf("storefront %q: unknown platform %q (known: %s)", name, entry.Platform, strings.Join(storefront.Platforms(), ", "))
	}
	if err := mergo.Merge(&profile, entry, mergo.WithOverride); err != nil {
		return storefront.Profile{}, fmt.Errorf("storefront %q: %w", name, err)
	}
	// mergo never copies a false over a true.
	if entry.NoteRequired != nil {
		profile.NoteRequired = storefront.Bool(*entry.NoteRequired)
	}
	if entry.WaitForGate != nil {
		profile.WaitForGate = storefront.Bool(*entry.WaitForGate)
	}
	profile.Name = name

	prefix := envPrefix(name)
	if v := os.Getenv(prefix + "_EMAIL"); v != "" {
		profile.Account.Email = v
	}
	profile.Account.Password = os.Getenv(prefix + "_PASSWORD")
	return profile, nil
}

// Adapter builds the adapter of a configured storefront.
func (c *Config) Adapter(name string) (storefront.Adapter, error) {
	p, err := c.Profile(name)
	if err != nil {
		return nil, err
	}
	return storefront.New(p, c.Policy())
}

// CheckoutInfo is the configured identity plus card data from the
// environment.
func (c *Config) CheckoutInfo() checkout.Info {
	info := c.Checkout
	info.CardNumber = os.Getenv(EnvCardNumber)
	info.CardExpiry = os.Getenv(EnvCardExpiry)
	info.CardCVC = os.Getenv(EnvCardCVC)
	info.CardPostalCode = os.Getenv(EnvCardPostalCode)
	return info
}

// SessionOptions converts the session section. The failure policy must be
// set explicitly.
func (c *Config) SessionOptions() (session.Options, error) {
	policy, err := session.ParseFailurePolicy(c.Session.OnItemFailure)
	if err != nil {
		return session.Options{}, fmt.Errorf("session.on_item_failure: %w", err)
	}
	return session.Options{
		OnItemFailure: policy,
		Checkout:      c.CheckoutInfo(),
	}, nil
}

// envPrefix turns a storefront name into ORDERBOT_<NAME>.
func envPrefix(name string) string {
	var b strings.Builder
	b.WriteString("ORDERBOT_")
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
