package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/feedbackvos/raster"
)

// measureJS hides the excluded subtree and reports the CSS box of every
// media element. Elements are remembered on window so hideJS can address
// them by index.
const measureJS = `(sel) => {
	if (sel) {
		try {
			document.querySelectorAll(sel).forEach(el => { el.style.visibility = 'hidden'; });
		} catch (e) {}
	}
	const els = Array.from(document.querySelectorAll('img, canvas, video, svg'));
	window.__feedbackMedia = els;
	return JSON.stringify(els.map(el => {
		const r = el.getBoundingClientRect();
		return {tag: el.tagName.toLowerCase(), w: r.width, h: r.height};
	}));
}`

const hideJS = `(idx) => {
	const els = window.__feedbackMedia || [];
	JSON.parse(idx).forEach(i => { if (els[i]) els[i].style.visibility = 'hidden'; });
	return true;
}`

// RodRasterizer renders pages in headless Chrome through go-rod.
type RodRasterizer struct {
	Browser         *Browser
	NavigateTimeout time.Duration
	Logger          *slog.Logger
}

// NewRodRasterizer returns a Rasterizer backed by b.
func NewRodRasterizer(b *Browser, navigateTimeout time.Duration, logger *slog.Logger) *RodRasterizer {
	if navigateTimeout <= 0 {
		navigateTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RodRasterizer{Browser: b, NavigateTimeout: navigateTimeout, Logger: logger}
}

// Rasterize opens a stealth tab, renders req.URL at the requested viewport
// and returns the visible viewport as an image.
func (r *RodRasterizer) Rasterize(ctx context.Context, req Request) (image.Image, error) {
	rb, err := r.Browser.acquire()
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(rb)
	if err != nil {
		r.Browser.invalidate(rb)
		return nil, fmt.Errorf("capture: open tab: %w", err)
	}
	defer page.Close()

	vp := req.Viewport
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: vp.DeviceScaleFactor,
		Mobile:            DeviceClassOf(vp.Width) == Mobile,
	}); err != nil {
		return nil, fmt.Errorf("capture: set viewport: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, r.NavigateTimeout)
	defer cancel()
	p := page.Context(navCtx)
	if err := p.Navigate(req.URL); err != nil {
		return nil, fmt.Errorf("capture: navigate %s: %w", req.URL, err)
	}
	if err := p.WaitLoad(); err != nil {
		r.Logger.Warn("capture: wait load timeout", "url", req.URL, "error", err)
	}

	res, err := p.Eval(measureJS, req.ExcludeSelector)
	if err != nil {
		return nil, fmt.Errorf("capture: measure media: %w", err)
	}
	var media []mediaBox
	if err := json.Unmarshal([]byte(res.Value.Str()), &media); err != nil {
		return nil, fmt.Errorf("capture: decode media boxes: %w", err)
	}
	if hide := degenerateIndexes(media, vp.DeviceScaleFactor); len(hide) > 0 {
		idx, _ := json.Marshal(hide)
		if _, err := p.Eval(hideJS, string(idx)); err != nil {
			return nil, fmt.Errorf("capture: hide media: %w", err)
		}
		r.Logger.Debug("capture: hid degenerate media", "count", len(hide))
	}

	data, err := p.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("capture: screenshot: %w", err)
	}
	if _, _, err := raster.DecodeConfig(data); errors.Is(err, raster.ErrTooLarge) {
		return nil, fmt.Errorf("capture: screenshot: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("capture: decode screenshot: %w", err)
	}
	return img, nil
}
