// Package config handles shortshider configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/shortshider/classify"
	"github.com/hazyhaar/shortshider/internal/batch"
)

// Config is the top-level configuration.
type Config struct {
	Browser       BrowserConfig  `yaml:"browser"`
	Pages         []PageConfig   `yaml:"pages"`
	Matches       []string       `yaml:"matches"`
	Throttle      ThrottleConfig `yaml:"throttle"`
	PruneInterval time.Duration  `yaml:"prune_interval"`
	Prefs         PrefsConfig    `yaml:"prefs"`
	HTTP          HTTPConfig     `yaml:"http"`
	Rules         classify.Rules `yaml:"rules"`
	Engine        EngineConfig   `yaml:"engine"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Stealth          string        `yaml:"stealth"` // headless | headful
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
}

// PageConfig is a page the daemon opens and guards.
type PageConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// ThrottleConfig controls mutation batching.
type ThrottleConfig struct {
	Window       time.Duration `yaml:"window"`
	MaxBuffer    int           `yaml:"max_buffer"`
	WatchedAttrs []string      `yaml:"watched_attrs"`
}

// PrefsConfig selects the preference backend.
type PrefsConfig struct {
	Backend      string        `yaml:"backend"` // sqlite | file
	Path         string        `yaml:"path"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// HTTPConfig is the messaging channel listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// EngineConfig overrides the attributes the engine writes.
type EngineConfig struct {
	Marker    string `yaml:"marker"`
	RootClass string `yaml:"root_class"`
}

// Backends.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// DefaultAddr is where the daemon listens and the CLI sends messages.
const DefaultAddr = "127.0.0.1:7717"

// DefaultMatches are the URLs the daemon attaches to.
var DefaultMatches = []string{"https://www.youtube.com/*", "https://m.youtube.com/*"}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Marshal encodes cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("config: marshal: %w", err)
	}
	return data, nil
}

// Validate checks what applyDefaults cannot fix.
func (c *Config) Validate() error {
	switch c.Prefs.Backend {
	case BackendSQLite, BackendFile:
	default:
		return fmt.Errorf("config: prefs.backend: unknown backend %q", c.Prefs.Backend)
	}
	switch c.Browser.Stealth {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.stealth: unknown mode %q", c.Browser.Stealth)
	}
	seen := make(map[string]bool, len(c.Pages))
	for i, p := range c.Pages {
		if p.URL == "" {
			return fmt.Errorf("config: pages[%d]: url is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("config: pages[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
	}
	if _, err := NewMatcher(c.Matches); err != nil {
		return err
	}
	if _, err := classify.New(c.Rules); err != nil {
		return fmt.Errorf("config: rules: %w", err)
	}
	return nil
}

// Batch returns the throttle settings for the batch package. The attributes
// the rules classify on are always watched, whatever throttle.watched_attrs
// lists.
func (c *Config) Batch() batch.Config {
	watched := append([]string(nil), c.Throttle.WatchedAttrs...)
	for _, attr := range []string{c.Rules.FlagAttr, c.Rules.ShelfAttr} {
		if attr != "" && !slices.Contains(watched, attr) {
			watched = append(watched, attr)
		}
	}
	return batch.Config{
		Window:       c.Throttle.Window,
		MaxBuffer:    c.Throttle.MaxBuffer,
		WatchedAttrs: watched,
	}
}

func (c *Config) applyDefaults() {
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if len(c.Matches) == 0 {
		c.Matches = append([]string(nil), DefaultMatches...)
	}
	if c.Throttle.Window <= 0 {
		c.Throttle.Window = 250 * time.Millisecond
	}
	if c.Throttle.MaxBuffer <= 0 {
		c.Throttle.MaxBuffer = 1000
	}
	if len(c.Throttle.WatchedAttrs) == 0 {
		c.Throttle.WatchedAttrs = append([]string(nil), batch.DefaultWatchedAttrs...)
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = 30 * time.Second
	}
	if c.Prefs.Backend == "" {
		c.Prefs.Backend = BackendSQLite
	}
	if c.Prefs.Path == "" {
		c.Prefs.Path = DefaultPrefsPath(c.Prefs.Backend)
	}
	if c.Prefs.PollInterval <= 0 {
		c.Prefs.PollInterval = time.Second
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultAddr
	}
	c.Rules = classify.DefaultRules().Merge(c.Rules)
	for i := range c.Pages {
		if c.Pages[i].ID == "" {
			c.Pages[i].ID = fmt.Sprintf("page%d", i+1)
		}
	}
}

// DefaultPrefsPath is the preference location under the user config
// directory, falling back to the working directory.
func DefaultPrefsPath(backend string) string {
	name := "prefs.db"
	if backend == BackendFile {
		name = "prefs.json"
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return name
	}
	return filepath.Join(dir, "shortshider", name)
}
