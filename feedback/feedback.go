// Package feedback is the feedback widget service: form sessions with
// screenshot capture, annotation and attachments, submitted as GitHub
// issues.
//
// It exposes both a chi-compatible [Widget.Handler] and a standard
// [Widget.RegisterMux] so callers can pick whichever router they use.
package feedback

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/feedbackvos/attach"
	"github.com/hazyhaar/feedbackvos/idgen"
	"github.com/hazyhaar/feedbackvos/internal/locales"
)

// Appearance is the public, non-secret part of the widget configuration.
type Appearance struct {
	Language string `json:"language"`
	Theme    string `json:"theme"`
	Position string `json:"position"`
	Enabled  bool   `json:"enabled"`
}

// Config holds what a Widget needs. It is resolved once, at startup.
type Config struct {
	Integration Integration
	Capturer    Capturer // nil disables page capture
	Limits      attach.Limits
	Appearance  Appearance
	IdleTimeout time.Duration
	Bundle      *locales.Bundle
	IDGen       idgen.Generator
	Logger      *slog.Logger
}

// Widget serves the feedback HTTP API.
type Widget struct {
	cfg      Config
	loc      *locales.Localizer
	sessions *Store
	logger   *slog.Logger
}

// New creates a Widget.
func New(cfg Config) (*Widget, error) {
	if cfg.Integration == nil {
		return nil, fmt.Errorf("feedback: integration is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Bundle == nil {
		b, err := locales.NewBundle()
		if err != nil {
			return nil, err
		}
		cfg.Bundle = b
	}
	if cfg.Appearance.Language == "" {
		cfg.Appearance.Language = "en"
	}
	if cfg.Appearance.Theme == "" {
		cfg.Appearance.Theme = "dark"
	}
	if cfg.Appearance.Position == "" {
		cfg.Appearance.Position = "bottom-right"
	}
	loc := cfg.Bundle.Localizer(cfg.Appearance.Language)

	w := &Widget{cfg: cfg, loc: loc, logger: cfg.Logger}
	w.sessions = NewStore(SessionDeps{
		Capturer:    cfg.Capturer,
		Integration: cfg.Integration,
		Limits:      cfg.Limits,
		Localizer:   loc,
		Logger:      cfg.Logger,
	}, cfg.IdleTimeout, cfg.IDGen)
	return w, nil
}

// Sessions returns the session store.
func (w *Widget) Sessions() *Store { return w.sessions }

// Close tears down all sessions.
func (w *Widget) Close() { w.sessions.Close() }

// RegisterMux mounts the widget on a standard ServeMux under basePath.
func (w *Widget) RegisterMux(mux *http.ServeMux, basePath string) {
	bp := strings.TrimRight(basePath, "/")
	mux.Handle(bp+"/", http.StripPrefix(bp, w.Handler()))
}

// PublicConfig is what GET /config returns to the browser.
type PublicConfig struct {
	Appearance
	Integration string            `json:"integration"`
	Capture     bool              `json:"capture"`
	Limits      attach.Limits     `json:"limits"`
	Strings     map[string]string `json:"strings"`
}

func (w *Widget) publicConfig() PublicConfig {
	return PublicConfig{
		Appearance:  w.cfg.Appearance,
		Integration: w.cfg.Integration.Name(),
		Capture:     w.cfg.Capturer != nil,
		Limits:      w.cfg.Limits.WithDefaults(),
		Strings:     w.loc.UI(),
	}
}
