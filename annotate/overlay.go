// Package annotate implements the screenshot annotation overlay: a freehand
// pen over a working copy of the screenshot, with revert-to-original and
// save/cancel.
//
// The overlay is a two-state machine (Idle, Editing) driven by the host's
// pointer events. Strokes are painted straight into the working raster and
// are not kept as a list, so Undo and Clear both restore the image given to
// Open.
package annotate

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/hazyhaar/feedbackvos/raster"
)

var (
	ErrNotEditing     = errors.New("annotate: overlay is not editing")
	ErrAlreadyEditing = errors.New("annotate: overlay is already editing")
	ErrInvalidColor   = errors.New("annotate: color is not in the palette")
	ErrInvalidWidth   = errors.New("annotate: stroke width out of range")
	ErrTooManyPoints  = errors.New("annotate: stroke has too many points")
)

// Palette lists the pen colors offered to the user.
var Palette = []string{
	"#ef4444", "#f59e0b", "#eab308", "#22c55e",
	"#3b82f6", "#8b5cf6", "#ec4899", "#ffffff", "#000000",
}

const (
	DefaultColor           = "#ef4444"
	DefaultWidth           = 3
	MinWidth               = 1
	MaxWidth               = 10
	DefaultMaxDisplayWidth = 600
	MaxStrokePoints        = 4096
)

// State is the overlay state.
type State int

const (
	Idle State = iota
	Editing
)

func (s State) String() string {
	if s == Editing {
		return "editing"
	}
	return "idle"
}

// Point is a pointer position in display coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is one continuous drag. Width is in raster pixels.
type Stroke struct {
	Points []Point `json:"points"`
	Color  string  `json:"color"`
	Width  int     `json:"width"`
}

// Option configures an Overlay.
type Option func(*Overlay)

// WithMaxDisplayWidth caps the initial display width. Default 600.
func WithMaxDisplayWidth(w int) Option {
	return func(o *Overlay) {
		if w > 0 {
			o.maxDisplayWidth = w
		}
	}
}

// Overlay is the annotation editor. It is safe for concurrent use.
type Overlay struct {
	mu              sync.Mutex
	state           State
	maxDisplayWidth int

	original *raster.Screenshot
	pristine *image.RGBA
	working  *image.RGBA
	displayW int
	displayH int

	color   string
	ink     color.RGBA
	width   int
	drawing bool
	last    image.Point
}

// New returns an idle overlay with the default pen.
func New(opts ...Option) *Overlay {
	o := &Overlay{
		maxDisplayWidth: DefaultMaxDisplayWidth,
		color:           DefaultColor,
		width:           DefaultWidth,
	}
	o.ink, _ = parseHex(DefaultColor)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current state.
func (o *Overlay) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Open starts editing s. The overlay keeps s only to hand it back on Cancel.
func (o *Overlay) Open(s *raster.Screenshot) error {
	if s == nil {
		return fmt.Errorf("annotate: open: nil screenshot")
	}
	img, err := s.Image()
	if err != nil {
		return fmt.Errorf("annotate: open: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == Editing {
		return ErrAlreadyEditing
	}

	b := img.Bounds()
	pristine := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(pristine, pristine.Bounds(), img, b.Min, draw.Src)

	o.original = s
	o.pristine = pristine
	o.working = cloneRGBA(pristine)
	o.displayW = min(o.maxDisplayWidth, b.Dx())
	o.displayH = max(1, b.Dy()*o.displayW/b.Dx())
	o.drawing = false
	o.state = Editing
	return nil
}

// DisplaySize returns the size the editor is drawn at on screen.
func (o *Overlay) DisplaySize() (w, h int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.displayW, o.displayH
}

// SetDisplaySize records the on-screen size used to map pointer coordinates.
func (o *Overlay) SetDisplaySize(w, h int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Editing {
		return ErrNotEditing
	}
	if w <= 0 || h <= 0 {
		return fmt.Errorf("annotate: display size %dx%d", w, h)
	}
	o.displayW, o.displayH = w, h
	return nil
}

// SetPen selects the color and width for subsequent strokes.
func (o *Overlay) SetPen(hex string, width int) error {
	c, err := paletteColor(hex)
	if err != nil {
		return err
	}
	if width < MinWidth || width > MaxWidth {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidWidth, width, MinWidth, MaxWidth)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.color = strings.ToLower(hex)
	o.ink = c
	o.width = width
	return nil
}

// Pen returns the current color and width.
func (o *Overlay) Pen() (string, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.color, o.width
}

// PointerDown begins a stroke and paints a dot at p.
func (o *Overlay) PointerDown(p Point) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Editing {
		return ErrNotEditing
	}
	o.drawing = true
	o.last = o.toRaster(p)
	stamp(o.working, o.last, o.width, o.ink)
	return nil
}

// PointerMove extends the current stroke to p. Moves without a prior
// PointerDown are ignored.
func (o *Overlay) PointerMove(p Point) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Editing {
		return ErrNotEditing
	}
	if !o.drawing {
		return nil
	}
	next := o.toRaster(p)
	segment(o.working, o.last, next, o.width, o.ink)
	o.last = next
	return nil
}

// PointerUp ends the current stroke.
func (o *Overlay) PointerUp() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Editing {
		return ErrNotEditing
	}
	o.drawing = false
	return nil
}

// PointerLeave ends the current stroke when the pointer exits the canvas.
func (o *Overlay) PointerLeave() error { return o.PointerUp() }

// Stroke applies a whole stroke (press, moves, release). An empty Color or
// zero Width falls back to the current pen, which is left unchanged.
func (o *Overlay) Stroke(s Stroke) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Editing {
		return ErrNotEditing
	}
	if len(s.Points) == 0 {
		return nil
	}
	if len(s.Points) > MaxStrokePoints {
		return fmt.Errorf("%w: %d > %d", ErrTooManyPoints, len(s.Points), MaxStrokePoints)
	}
	ink, width := o.ink, o.width
	if s.Color != "" {
		c, err := paletteColor(s.Color)
		if err != nil {
			return err
		}
		ink = c
	}
	if s.Width != 0 {
		if s.Width < MinWidth || s.Width > MaxWidth {
			return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidWidth, s.Width, MinWidth, MaxWidth)
		}
		width = s.Width
	}

	last := o.toRaster(s.Points[0])
	stamp(o.working, last, width, ink)
	for _, p := range s.Points[1:] {
		next := o.toRaster(p)
		segment(o.working, last, next, width, ink)
		last = next
	}
	return nil
}

// Clear reverts the working raster to the image given to Open.
func (o *Overlay) Clear() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Editing {
		return ErrNotEditing
	}
	o.working = cloneRGBA(o.pristine)
	o.drawing = false
	return nil
}

// Undo is the same full revert as Clear; strokes are not kept individually.
func (o *Overlay) Undo() error { return o.Clear() }

// Preview encodes the working raster without leaving the editor.
func (o *Overlay) Preview() (*raster.Screenshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Editing {
		return nil, ErrNotEditing
	}
	return raster.Encode(o.working, raster.PNG, 0)
}

// Save returns the annotated image as a new PNG screenshot and closes the
// editor.
func (o *Overlay) Save() (*raster.Screenshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Editing {
		return nil, ErrNotEditing
	}
	s, err := raster.Encode(o.working, raster.PNG, 0)
	if err != nil {
		return nil, fmt.Errorf("annotate: save: %w", err)
	}
	o.reset()
	return s, nil
}

// Cancel discards all strokes, closes the editor and returns the screenshot
// that was opened, untouched. It returns nil when not editing.
func (o *Overlay) Cancel() *raster.Screenshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Editing {
		return nil
	}
	s := o.original
	o.reset()
	return s
}

func (o *Overlay) reset() {
	o.state = Idle
	o.original = nil
	o.pristine = nil
	o.working = nil
	o.drawing = false
	o.displayW, o.displayH = 0, 0
}

// toRaster maps a display coordinate onto the raster grid. Points off the
// canvas are pinned to its edge.
func (o *Overlay) toRaster(p Point) image.Point {
	b := o.working.Bounds()
	x := clamp(p.X, 0, float64(o.displayW)) * float64(b.Dx()) / float64(o.displayW)
	y := clamp(p.Y, 0, float64(o.displayH)) * float64(b.Dy()) / float64(o.displayH)
	return image.Pt(
		min(b.Min.X+int(x), b.Max.X-1),
		min(b.Min.Y+int(y), b.Max.Y-1),
	)
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case math.IsNaN(v), v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}

func paletteColor(hex string) (color.RGBA, error) {
	hex = strings.ToLower(strings.TrimSpace(hex))
	for _, p := range Palette {
		if p == hex {
			return parseHex(hex)
		}
	}
	return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, hex)
}

func parseHex(hex string) (color.RGBA, error) {
	s := strings.TrimPrefix(hex, "#")
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, hex)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, hex)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}
