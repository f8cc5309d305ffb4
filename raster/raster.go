// Package raster holds the Screenshot value that flows through the capture,
// annotation and upload stages. A Screenshot is an encoded image plus its
// dimensions; every transformation returns a new Screenshot.
package raster

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	_ "image/gif"

	"golang.org/x/image/draw"
)

// Format is the encoding of a Screenshot's Data.
type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
)

// MIMEType returns the media type for f.
func (f Format) MIMEType() string {
	if f == JPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// Ext returns the file extension for f, without the dot.
func (f Format) Ext() string {
	if f == JPEG {
		return "jpg"
	}
	return "png"
}

// MaxPixels bounds the area of any image this package decodes.
const MaxPixels = 8192 * 8192

var (
	// ErrEmptyImage is returned when encoding an image with no pixels.
	ErrEmptyImage = errors.New("raster: image has zero width or height")
	// ErrTooLarge is returned for images whose declared area exceeds MaxPixels.
	ErrTooLarge = errors.New("raster: image dimensions too large")
)

// DecodeConfig reads the dimensions and format name of encoded image bytes
// without decoding pixels, rejecting empty and oversized images.
func DecodeConfig(data []byte) (image.Config, string, error) {
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return cfg, name, fmt.Errorf("raster: decode: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return cfg, name, ErrEmptyImage
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return cfg, name, fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}
	return cfg, name, nil
}

// Screenshot is an encoded raster image.
type Screenshot struct {
	Width  int
	Height int
	Format Format
	Data   []byte
}

// Encode encodes img in the given format. quality applies to JPEG only
// (1-100; 0 selects 70).
func Encode(img image.Image, format Format, quality int) (*Screenshot, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, ErrEmptyImage
	}
	var buf bytes.Buffer
	switch format {
	case JPEG:
		if quality <= 0 || quality > 100 {
			quality = 70
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("raster: encode jpeg: %w", err)
		}
	case PNG, "":
		format = PNG
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("raster: encode png: %w", err)
		}
	default:
		return nil, fmt.Errorf("raster: unsupported format %q", format)
	}
	return &Screenshot{Width: b.Dx(), Height: b.Dy(), Format: format, Data: buf.Bytes()}, nil
}

// Decode parses encoded image bytes (PNG, JPEG or GIF) into a Screenshot.
// GIF input is re-encoded as PNG.
func Decode(data []byte) (*Screenshot, error) {
	cfg, name, err := DecodeConfig(data)
	if err != nil {
		return nil, err
	}
	switch name {
	case "png":
		return &Screenshot{Width: cfg.Width, Height: cfg.Height, Format: PNG, Data: append([]byte(nil), data...)}, nil
	case "jpeg":
		return &Screenshot{Width: cfg.Width, Height: cfg.Height, Format: JPEG, Data: append([]byte(nil), data...)}, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("raster: decode %s: %w", name, err)
	}
	return Encode(img, PNG, 0)
}

// Image decodes the Screenshot's pixels.
func (s *Screenshot) Image() (image.Image, error) {
	if _, _, err := DecodeConfig(s.Data); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(s.Data))
	if err != nil {
		return nil, fmt.Errorf("raster: decode %s: %w", s.Format, err)
	}
	return img, nil
}

// Clone returns a deep copy of s.
func (s *Screenshot) Clone() *Screenshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Data = append([]byte(nil), s.Data...)
	return &c
}

// Equal reports whether a and b hold identical bytes and metadata.
func Equal(a, b *Screenshot) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Width == b.Width && a.Height == b.Height && a.Format == b.Format && bytes.Equal(a.Data, b.Data)
}

// Compress downsizes s to at most maxWidth pixels wide (keeping the aspect
// ratio) and re-encodes it as JPEG at quality. This is the form that gets
// committed to the repository.
func (s *Screenshot) Compress(maxWidth, quality int) (*Screenshot, error) {
	img, err := s.Image()
	if err != nil {
		return nil, err
	}
	w, h := s.Width, s.Height
	if maxWidth > 0 && w > maxWidth {
		h = h * maxWidth / w
		w = maxWidth
		if h < 1 {
			h = 1
		}
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == s.Width && h == s.Height {
		draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	}
	return Encode(dst, JPEG, quality)
}

// DataURL renders s as a data: URL for the browser side of the widget.
func (s *Screenshot) DataURL() string {
	return "data:" + s.Format.MIMEType() + ";base64," + base64.StdEncoding.EncodeToString(s.Data)
}

// ParseDataURL decodes a base64 image data: URL produced by a browser canvas.
func ParseDataURL(u string) (*Screenshot, error) {
	rest, ok := strings.CutPrefix(u, "data:")
	if !ok {
		return nil, fmt.Errorf("raster: not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") || !strings.HasPrefix(meta, "image/") {
		return nil, fmt.Errorf("raster: expected a base64 image data URL")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("raster: data URL payload: %w", err)
	}
	return Decode(data)
}
