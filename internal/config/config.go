// Package config loads feedbackd configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/feedbackvos/attach"
	"github.com/hazyhaar/feedbackvos/capture"
	"github.com/hazyhaar/feedbackvos/internal/domain"
	"github.com/hazyhaar/feedbackvos/internal/locales"
)

// Config is the top-level feedbackd configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Widget  WidgetConfig  `yaml:"widget"`
	GitHub  GitHubConfig  `yaml:"github"`
	Uploads attach.Limits `yaml:"uploads"`
	Capture CaptureConfig `yaml:"capture"`
	Sentry  SentryConfig  `yaml:"sentry"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr               string        `yaml:"addr"`
	BasePath           string        `yaml:"base_path"`
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	HTTPTimeout        time.Duration `yaml:"http_timeout"`
	SubmitPerMinute    int           `yaml:"submit_per_minute"`  // per client IP
	CapturePerMinute   int           `yaml:"capture_per_minute"` // per client IP
}

// WidgetConfig is the public appearance of the widget.
type WidgetConfig struct {
	Language string `yaml:"language"` // en | nl
	Theme    string `yaml:"theme"`    // dark | light
	Position string `yaml:"position"` // bottom-right | bottom-left | top-right | top-left
	Enabled  *bool  `yaml:"enabled"`
}

// IsEnabled reports whether the widget accepts new sessions. Unset means
// enabled.
func (w WidgetConfig) IsEnabled() bool { return w.Enabled == nil || *w.Enabled }

// GitHubConfig names the repository receiving issues.
type GitHubConfig struct {
	Token          string `yaml:"token"`
	Owner          string `yaml:"owner"`
	Repo           string `yaml:"repo"`
	ScreenshotPath string `yaml:"screenshot_path"`
	APIBaseURL     string `yaml:"api_base_url"`
	RawBaseURL     string `yaml:"raw_base_url"`
	RateLimit      int    `yaml:"rate_limit"` // requests per second, 0 = unlimited
	Attachments    *bool  `yaml:"attachments"`
}

// Target returns the repository target used by the submitter.
func (g GitHubConfig) Target() domain.RepositoryTarget {
	return domain.RepositoryTarget{
		Token:          g.Token,
		Owner:          g.Owner,
		Repo:           g.Repo,
		ScreenshotPath: g.ScreenshotPath,
	}
}

// UploadAttachments reports whether attachments are committed to the
// repository. Unset means yes.
func (g GitHubConfig) UploadAttachments() bool { return g.Attachments == nil || *g.Attachments }

// CaptureConfig controls the headless browser.
type CaptureConfig struct {
	Disabled        bool          `yaml:"disabled"`
	AllowPrivate    bool          `yaml:"allow_private"` // permit loopback and private hosts
	RemoteURL       string        `yaml:"remote_url"`
	ExcludeSelector string        `yaml:"exclude_selector"`
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`
	RecycleInterval time.Duration `yaml:"recycle_interval"`
}

// SentryConfig enables error reporting when DSN is set.
type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// LogConfig sets the slog level.
type LogConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load reads a YAML configuration file. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// FromEnv overlays environment variables on cfg. A .env file in the working
// directory is loaded first when present; variables already set in the
// process win over it.
func FromEnv(cfg *Config) error {
	_ = godotenv.Load()

	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst **bool) {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = &b
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	size := func(key string, dst *int64) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := humanize.ParseBytes(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = int64(n)
		}
	}

	str("FEEDBACK_ADDR", &cfg.Server.Addr)
	str("FEEDBACK_BASE_PATH", &cfg.Server.BasePath)
	dur("FEEDBACK_SESSION_IDLE_TIMEOUT", &cfg.Server.SessionIdleTimeout)

	str("FEEDBACK_LANGUAGE", &cfg.Widget.Language)
	str("FEEDBACK_THEME", &cfg.Widget.Theme)
	str("FEEDBACK_POSITION", &cfg.Widget.Position)
	boolean("FEEDBACK_ENABLED", &cfg.Widget.Enabled)

	str("GITHUB_TOKEN", &cfg.GitHub.Token)
	str("FEEDBACK_GITHUB_TOKEN", &cfg.GitHub.Token)
	str("FEEDBACK_GITHUB_OWNER", &cfg.GitHub.Owner)
	str("FEEDBACK_GITHUB_REPO", &cfg.GitHub.Repo)
	if owner, repo, ok := strings.Cut(cfg.GitHub.Repo, "/"); ok && cfg.GitHub.Owner == "" {
		cfg.GitHub.Owner, cfg.GitHub.Repo = owner, repo
	}
	str("FEEDBACK_SCREENSHOT_PATH", &cfg.GitHub.ScreenshotPath)
	str("FEEDBACK_GITHUB_API_URL", &cfg.GitHub.APIBaseURL)
	str("FEEDBACK_GITHUB_RAW_URL", &cfg.GitHub.RawBaseURL)
	if v, ok := os.LookupEnv("FEEDBACK_GITHUB_RATE_LIMIT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("FEEDBACK_GITHUB_RATE_LIMIT: %w", err))
		} else {
			cfg.GitHub.RateLimit = n
		}
	}
	boolean("FEEDBACK_GITHUB_ATTACHMENTS", &cfg.GitHub.Attachments)

	size("FEEDBACK_MAX_FILE_SIZE", &cfg.Uploads.MaxFileSize)
	size("FEEDBACK_MAX_TOTAL_SIZE", &cfg.Uploads.MaxTotalSize)
	str("FEEDBACK_ACCEPT", &cfg.Uploads.Accept)

	str("FEEDBACK_CAPTURE_REMOTE_URL", &cfg.Capture.RemoteURL)
	str("FEEDBACK_CAPTURE_EXCLUDE_SELECTOR", &cfg.Capture.ExcludeSelector)
	dur("FEEDBACK_CAPTURE_NAVIGATE_TIMEOUT", &cfg.Capture.NavigateTimeout)
	dur("FEEDBACK_CAPTURE_RECYCLE_INTERVAL", &cfg.Capture.RecycleInterval)
	flag("FEEDBACK_CAPTURE_DISABLED", &cfg.Capture.Disabled)
	flag("FEEDBACK_CAPTURE_ALLOW_PRIVATE", &cfg.Capture.AllowPrivate)

	str("SENTRY_DSN", &cfg.Sentry.DSN)
	str("SENTRY_ENVIRONMENT", &cfg.Sentry.Environment)
	str("LOG_LEVEL", &cfg.Log.Level)

	cfg.applyDefaults()
	return errors.Join(errs...)
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8086"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/feedback"
	}
	if c.Server.SessionIdleTimeout <= 0 {
		c.Server.SessionIdleTimeout = 30 * time.Minute
	}
	if c.Server.SweepInterval <= 0 {
		c.Server.SweepInterval = time.Minute
	}
	if c.Server.HTTPTimeout <= 0 {
		c.Server.HTTPTimeout = 30 * time.Second
	}
	if c.Server.SubmitPerMinute <= 0 {
		c.Server.SubmitPerMinute = 10
	}
	if c.Server.CapturePerMinute <= 0 {
		c.Server.CapturePerMinute = 20
	}
	if c.Widget.Language == "" {
		c.Widget.Language = "en"
	}
	if c.Widget.Theme == "" {
		c.Widget.Theme = "dark"
	}
	if c.Widget.Position == "" {
		c.Widget.Position = "bottom-right"
	}
	if c.GitHub.ScreenshotPath == "" {
		c.GitHub.ScreenshotPath = domain.DefaultStoragePath
	}
	c.Uploads = c.Uploads.WithDefaults()
	if c.Capture.ExcludeSelector == "" {
		c.Capture.ExcludeSelector = capture.DefaultExcludeSelector
	}
	if c.Capture.NavigateTimeout <= 0 {
		c.Capture.NavigateTimeout = 30 * time.Second
	}
	if c.Capture.RecycleInterval <= 0 {
		c.Capture.RecycleInterval = 4 * time.Hour
	}
	if c.Sentry.Environment == "" {
		c.Sentry.Environment = "production"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

var (
	themes    = []string{"dark", "light"}
	positions = []string{"bottom-right", "bottom-left", "top-right", "top-left"}
	levels    = []string{"debug", "info", "warn", "error"}
)

// Validate rejects malformed values. An incomplete GitHub target is not an
// error here: the widget still serves and each submission reports it.
func (c *Config) Validate() error {
	var errs []error
	if !locales.IsSupported(c.Widget.Language) {
		errs = append(errs, fmt.Errorf("widget.language %q: want one of %s", c.Widget.Language, strings.Join(locales.Supported, ", ")))
	}
	if !oneOf(c.Widget.Theme, themes) {
		errs = append(errs, fmt.Errorf("widget.theme %q: want one of %s", c.Widget.Theme, strings.Join(themes, ", ")))
	}
	if !oneOf(c.Widget.Position, positions) {
		errs = append(errs, fmt.Errorf("widget.position %q: want one of %s", c.Widget.Position, strings.Join(positions, ", ")))
	}
	if !oneOf(strings.ToLower(c.Log.Level), levels) {
		errs = append(errs, fmt.Errorf("log.level %q: want one of %s", c.Log.Level, strings.Join(levels, ", ")))
	}
	if c.Uploads.MaxFileSize > c.Uploads.MaxTotalSize {
		errs = append(errs, fmt.Errorf("uploads.max_file_size %s exceeds uploads.max_total_size %s",
			humanize.IBytes(uint64(c.Uploads.MaxFileSize)), humanize.IBytes(uint64(c.Uploads.MaxTotalSize))))
	}
	if c.GitHub.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("github.rate_limit must not be negative"))
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Errorf("server.base_path %q must start with /", c.Server.BasePath))
	}
	return errors.Join(errs...)
}

func oneOf(v string, set []string) bool {
	for _, s := range set {
		if v == s {
			return true
		}
	}
	return false
}
