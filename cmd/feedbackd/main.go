// Command feedbackd serves the feedback widget API and files feedback as
// GitHub issues. It can also capture a page or file an issue from the shell.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/urfave/cli/v2"

	"github.com/hazyhaar/feedbackvos/capture"
	"github.com/hazyhaar/feedbackvos/feedback"
	"github.com/hazyhaar/feedbackvos/github"
	"github.com/hazyhaar/feedbackvos/horosafe"
	"github.com/hazyhaar/feedbackvos/idgen"
	"github.com/hazyhaar/feedbackvos/internal/config"
	"github.com/hazyhaar/feedbackvos/internal/locales"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("feedbackd", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "feedbackd",
		Usage:   "Feedback widget service filing GitHub issues",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, EnvVars: []string{"FEEDBACK_CONFIG"}, Usage: "YAML configuration file"},
		},
		Commands: []*cli.Command{
			serveCmd(),
			captureCmd(),
			submitCmd(),
			checkCmd(),
		},
	}
}

// stack is everything the commands share, built once from the resolved
// configuration.
type stack struct {
	cfg       *config.Config
	logger    *slog.Logger
	bundle    *locales.Bundle
	browser   *capture.Browser // nil when capture is disabled
	engine    *capture.Engine
	submitter *github.Submitter
}

func setup(c *cli.Context) (*stack, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if err := config.FromEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			Release:     "feedbackd@" + Version,
		}); err != nil {
			return nil, fmt.Errorf("sentry.Init: %w", err)
		}
	}

	bundle, err := locales.NewBundle()
	if err != nil {
		return nil, err
	}
	loc := bundle.Localizer(cfg.Widget.Language)

	clientOpts := []github.ClientOption{
		github.WithHTTPClient(&http.Client{Timeout: cfg.Server.HTTPTimeout}),
		github.WithUserAgent("feedbackd/" + Version),
		github.WithRateLimit(cfg.GitHub.RateLimit),
		github.WithLogger(logger),
	}
	if cfg.GitHub.APIBaseURL != "" {
		clientOpts = append(clientOpts, github.WithBaseURL(cfg.GitHub.APIBaseURL))
	}
	if cfg.GitHub.RawBaseURL != "" {
		clientOpts = append(clientOpts, github.WithRawBaseURL(cfg.GitHub.RawBaseURL))
	}
	submitter := github.NewSubmitter(github.NewClient(clientOpts...),
		github.WithLocalizer(loc),
		github.WithAttachmentUploads(cfg.GitHub.UploadAttachments()))

	s := &stack{cfg: cfg, logger: logger, bundle: bundle, submitter: submitter}
	if !cfg.Capture.Disabled {
		s.browser = capture.NewBrowser(capture.BrowserConfig{
			RemoteURL:       cfg.Capture.RemoteURL,
			RecycleInterval: cfg.Capture.RecycleInterval,
			Logger:          logger,
		})
		check := horosafe.ValidateURL
		if cfg.Capture.AllowPrivate {
			check = httpOnly
		}
		s.engine = capture.NewEngine(
			capture.NewRodRasterizer(s.browser, cfg.Capture.NavigateTimeout, logger),
			capture.WithLogger(logger),
			capture.WithURLCheck(check),
			capture.WithExcludeSelector(cfg.Capture.ExcludeSelector),
		)
	}
	return s, nil
}

func (s *stack) Close() {
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.logger.Warn("feedbackd: browser close", "error", err)
		}
	}
	sentry.Flush(2 * time.Second)
}

func (s *stack) integration() *feedback.GitHubIntegration {
	return &feedback.GitHubIntegration{Target: s.cfg.GitHub.Target(), Submitter: s.submitter}
}

func (s *stack) widgetConfig() feedback.Config {
	wc := feedback.Config{
		Integration: s.integration(),
		Limits:      s.cfg.Uploads,
		Appearance: feedback.Appearance{
			Language: s.cfg.Widget.Language,
			Theme:    s.cfg.Widget.Theme,
			Position: s.cfg.Widget.Position,
			Enabled:  s.cfg.Widget.IsEnabled(),
		},
		IdleTimeout: s.cfg.Server.SessionIdleTimeout,
		Bundle:      s.bundle,
		IDGen:       idgen.UUIDv7(),
		Logger:      s.logger,
	}
	if s.engine != nil {
		wc.Capturer = s.engine
	}
	return wc
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// httpOnly accepts any http or https URL, loopback included.
func httpOnly(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return horosafe.ErrUnsafeScheme
	}
	if u.Host == "" {
		return errors.New("url has no host")
	}
	return nil
}

// runCtx is the command context, cancelled on SIGINT or SIGTERM.
func runCtx(c *cli.Context) (context.Context, context.CancelFunc) {
	return signalContext(c.Context)
}
