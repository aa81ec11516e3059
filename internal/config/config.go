package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"icanban/internal/ics"
	appLog "icanban/internal/log"
	"icanban/internal/model"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

const (
	DefaultListen          = "127.0.0.1:8080"
	DefaultPollFrequencyMs = 60_000
	DefaultStoreTimeout    = 10
	// PollDisabled in poll_frequency_ms turns autosave off.
	PollDisabled = -1
)

// ImportConfig describes an iCalendar task feed imported with
// `icanban import --all`.
type ImportConfig struct {
	// URL is an http(s) endpoint, a file:// URL or a local path.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for logging and the fetch cache.
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// StoreConfig selects where tasks are kept.
type StoreConfig struct {
	// Backend is "memory", "sqlite" (default) or "postgres".
	Backend string `yaml:"backend" json:"backend"`
	// Path is the SQLite file. Relative paths are resolved against the
	// directory of the config file.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Container is the id of the container backing the tree. Empty picks
	// the first task container, creating one on first run.
	Container string `yaml:"container" json:"container"`

	// PollFrequencyMs is the autosave interval in milliseconds; -1
	// disables autosave.
	PollFrequencyMs int `yaml:"poll_frequency_ms" json:"poll_frequency_ms"`

	// StoreTimeoutSeconds bounds every store call.
	StoreTimeoutSeconds int `yaml:"store_timeout_seconds" json:"store_timeout_seconds"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// CacheDir keeps the last good body of each remote import feed.
	// Relative paths are resolved like Store.Path; empty disables caching.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	Store StoreConfig `yaml:"store" json:"store"`

	Imports []ImportConfig `yaml:"imports" json:"imports"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:              DefaultListen,
		PollFrequencyMs:     DefaultPollFrequencyMs,
		StoreTimeoutSeconds: DefaultStoreTimeout,
		LogLevel:            "info",
		CacheDir:            "cache",
		Store: StoreConfig{
			Backend: BackendSQLite,
			Path:    "icanban.db",
		},
		Imports: []ImportConfig{},
	}
}

// Normalize fills zero values with defaults and clamps out-of-range ones.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	switch {
	case c.PollFrequencyMs == 0:
		c.PollFrequencyMs = DefaultPollFrequencyMs
	case c.PollFrequencyMs < 0:
		c.PollFrequencyMs = PollDisabled
	}
	if c.StoreTimeoutSeconds <= 0 {
		c.StoreTimeoutSeconds = DefaultStoreTimeout
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		c.LogLevel = "info"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = BackendSQLite
	}
	if c.Store.Backend == BackendSQLite && c.Store.Path == "" {
		c.Store.Path = "icanban.db"
	}
	if c.Imports == nil {
		c.Imports = []ImportConfig{}
	}
	for i := range c.Imports {
		if c.Imports[i].ID == "" {
			c.Imports[i].ID = fmt.Sprintf("import-%d", i+1)
		}
	}
}

// Validate reports settings Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	seen := map[string]bool{}
	for _, imp := range c.Imports {
		if imp.URL == "" {
			errs = append(errs, fmt.Errorf("import %s has no url", imp.ID))
		}
		if seen[imp.ID] {
			errs = append(errs, fmt.Errorf("duplicate import id %s", imp.ID))
		}
		seen[imp.ID] = true
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" {
		errs = append(errs, errors.New("basic_auth.username is empty"))
	}
	return errors.Join(errs...)
}

// Sources returns the configured import feeds.
func (c *Config) Sources() []ics.Source {
	out := make([]ics.Source, 0, len(c.Imports))
	for _, imp := range c.Imports {
		out = append(out, ics.Source{ID: imp.ID, URL: imp.URL})
	}
	return out
}

// Settings returns the user-editable tracker settings.
func (c *Config) Settings() model.Settings {
	return model.Settings{PollFrequencyMs: c.PollFrequencyMs, Container: c.Container}
}

// ApplySettings copies s into the config. A zero or negative frequency
// disables autosave; anything else under a second is refused.
func (c *Config) ApplySettings(s model.Settings) error {
	if s.PollFrequencyMs > 0 && s.PollFrequencyMs < 1000 {
		return fmt.Errorf("poll_frequency_ms %d is below one second", s.PollFrequencyMs)
	}
	c.PollFrequencyMs = s.PollFrequencyMs
	if c.PollFrequencyMs <= 0 {
		c.PollFrequencyMs = PollDisabled
	}
	c.Container = s.Container
	return nil
}

// ResolvePaths makes relative store and cache paths absolute against the
// directory of the config file at configPath.
func (c *Config) ResolvePaths(configPath string) {
	base := filepath.Dir(configPath)
	if c.Store.Path != "" && c.Store.Path != ":memory:" && !filepath.IsAbs(c.Store.Path) {
		c.Store.Path = filepath.Join(base, c.Store.Path)
	}
	if c.CacheDir != "" && !filepath.IsAbs(c.CacheDir) {
		c.CacheDir = filepath.Join(base, c.CacheDir)
	}
}

// Load reads the YAML config at path. A missing file is created with the
// defaults (parent directory included) and those defaults are returned.
// An existing file is normalized and then validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			appLog.Info("config created", "path", path)
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically via
// a temp file and rename. The parent directory is created with 0700 and the
// file ends up 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".icanban-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
