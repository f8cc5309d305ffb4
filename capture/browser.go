package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// BrowserConfig configures the shared Chrome instance.
type BrowserConfig struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local headless Chrome.
	RemoteURL string

	// RecycleInterval is the maximum lifetime of a Chrome process. Default: 4h.
	RecycleInterval time.Duration

	Logger *slog.Logger
}

func (c *BrowserConfig) defaults() {
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser owns one Chrome process shared by all captures. Chrome is started
// on first use and relaunched between captures once RecycleInterval elapses.
type Browser struct {
	cfg     BrowserConfig
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	startAt time.Time
	closed  bool
}

// NewBrowser creates a Browser. Chrome is not started until the first capture.
func NewBrowser(cfg BrowserConfig) *Browser {
	cfg.defaults()
	return &Browser{cfg: cfg}
}

// acquire returns a connected browser, launching or recycling as needed.
func (b *Browser) acquire() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("capture: browser is closed")
	}
	if b.browser != nil && time.Since(b.startAt) > b.cfg.RecycleInterval {
		b.cfg.Logger.Info("capture: recycling chrome", "uptime", time.Since(b.startAt))
		b.cleanup()
	}
	if b.browser == nil {
		rb, err := b.launch()
		if err != nil {
			return nil, err
		}
		b.browser = rb
		b.startAt = time.Now()
	}
	return b.browser, nil
}

func (b *Browser) launch() (*rod.Browser, error) {
	log := b.cfg.Logger

	wsURL := b.cfg.RemoteURL
	if wsURL != "" {
		log.Info("capture: connecting to remote chrome", "url", wsURL)
	} else {
		l := launcher.New().
			Headless(true).
			Set("disable-blink-features", "AutomationControlled").
			Set("hide-scrollbars")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("capture: launch chrome: %w", err)
		}
		wsURL = u
		b.lnch = l
		log.Info("capture: launched local chrome", "url", wsURL)
	}

	rb := rod.New().ControlURL(wsURL)
	if err := rb.Connect(); err != nil {
		if b.lnch != nil {
			b.lnch.Cleanup()
			b.lnch = nil
		}
		return nil, fmt.Errorf("capture: connect chrome: %w", err)
	}
	if err := rb.IgnoreCertErrors(true); err != nil {
		log.Warn("capture: ignore cert errors failed", "error", err)
	}
	return rb, nil
}

// invalidate drops a browser that failed mid-capture so the next capture
// starts a fresh one.
func (b *Browser) invalidate(rb *rod.Browser) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == rb {
		b.cleanup()
	}
}

func (b *Browser) cleanup() {
	if b.browser != nil {
		_ = b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
}

// Close shuts Chrome down. Later captures fail.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cleanup()
	return nil
}

// Ping launches Chrome if needed. Used by readiness checks.
func (b *Browser) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.acquire()
	return err
}
