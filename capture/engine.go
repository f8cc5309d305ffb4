// Package capture turns a web page into a normalized screenshot: the page is
// rendered in headless Chrome without the feedback widget and without media
// that would rasterize to nothing, then fitted into a fixed frame that
// depends on whether the viewport is mobile or desktop.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/getsentry/sentry-go"

	"github.com/hazyhaar/feedbackvos/raster"
)

// DefaultExcludeSelector marks the widget's own DOM subtree.
const DefaultExcludeSelector = "[data-feedback-widget]"

// ErrCaptureFailed wraps any rasterization failure.
var ErrCaptureFailed = errors.New("capture failed")

// Viewport is the CSS viewport the page is rendered at.
type Viewport struct {
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	DeviceScaleFactor float64 `json:"device_scale_factor"`
}

// Request describes one capture.
type Request struct {
	URL             string   `json:"url"`
	Viewport        Viewport `json:"viewport"`
	ExcludeSelector string   `json:"exclude_selector,omitempty"`
}

// Viewport ceilings; larger requests are clamped.
const (
	MaxViewportSide      = 4096
	MaxDeviceScaleFactor = 2
)

func (r *Request) applyDefaults() {
	if r.Viewport.Width <= 0 {
		r.Viewport.Width = 1920
	}
	if r.Viewport.Height <= 0 {
		r.Viewport.Height = 1080
	}
	if r.Viewport.DeviceScaleFactor <= 0 {
		r.Viewport.DeviceScaleFactor = 1
	}
	r.Viewport.Width = min(r.Viewport.Width, MaxViewportSide)
	r.Viewport.Height = min(r.Viewport.Height, MaxViewportSide)
	r.Viewport.DeviceScaleFactor = min(r.Viewport.DeviceScaleFactor, MaxDeviceScaleFactor)
	if r.ExcludeSelector == "" {
		r.ExcludeSelector = DefaultExcludeSelector
	}
}

// Rasterizer renders the visible viewport of a page.
type Rasterizer interface {
	Rasterize(ctx context.Context, req Request) (image.Image, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithURLCheck installs a validator run on every request URL before
// rendering, e.g. horosafe.ValidateURL.
func WithURLCheck(fn func(string) error) Option {
	return func(e *Engine) { e.checkURL = fn }
}

// WithExcludeSelector sets the selector hidden when a request names none.
func WithExcludeSelector(sel string) Option {
	return func(e *Engine) { e.exclude = sel }
}

// Engine captures and normalizes screenshots.
type Engine struct {
	rasterizer Rasterizer
	logger     *slog.Logger
	checkURL   func(string) error
	exclude    string
}

// NewEngine creates an Engine over r.
func NewEngine(r Rasterizer, opts ...Option) *Engine {
	e := &Engine{rasterizer: r, logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Capture renders req and returns a PNG screenshot normalized to the
// device-class frame. A page that renders to an empty raster yields
// (nil, nil).
func (e *Engine) Capture(ctx context.Context, req Request) (*raster.Screenshot, error) {
	if req.ExcludeSelector == "" {
		req.ExcludeSelector = e.exclude
	}
	req.applyDefaults()
	if e.checkURL != nil {
		if err := e.checkURL(req.URL); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
		}
	}

	img, err := e.rasterizer.Rasterize(ctx, req)
	if err != nil {
		e.logger.Error("capture: rasterize failed", "url", req.URL, "error", err)
		sentry.CaptureException(err)
		return nil, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}
	if img == nil || img.Bounds().Dx() <= 0 || img.Bounds().Dy() <= 0 {
		e.logger.Debug("capture: empty raster, nothing captured", "url", req.URL)
		return nil, nil
	}

	norm := Normalize(img, req.Viewport.Width)
	shot, err := raster.Encode(norm, raster.PNG, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}
	e.logger.Debug("capture: done",
		"url", req.URL,
		"device", DeviceClassOf(req.Viewport.Width),
		"source", img.Bounds().Size(),
		"bytes", len(shot.Data))
	return shot, nil
}
