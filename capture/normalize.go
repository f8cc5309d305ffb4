package capture

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// DeviceClass selects the normalization target.
type DeviceClass int

const (
	Desktop DeviceClass = iota
	Mobile
)

func (c DeviceClass) String() string {
	if c == Mobile {
		return "mobile"
	}
	return "desktop"
}

// MobileBreakpoint is the viewport width below which a page is treated as mobile.
const MobileBreakpoint = 768

// DeviceClassOf classifies a viewport by its CSS width.
func DeviceClassOf(viewportWidth int) DeviceClass {
	if viewportWidth < MobileBreakpoint {
		return Mobile
	}
	return Desktop
}

// TargetSize returns the normalized raster size for a device class.
func TargetSize(c DeviceClass) (w, h int) {
	if c == Mobile {
		return 1080, 1920
	}
	return 1920, 1080
}

// Normalize scales img into the target frame for viewportWidth, preserving
// its aspect ratio, centering it and filling the margins with white.
func Normalize(img image.Image, viewportWidth int) *image.RGBA {
	tw, th := TargetSize(DeviceClassOf(viewportWidth))
	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	sb := img.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	if sw <= 0 || sh <= 0 {
		return dst
	}

	scale := min(float64(tw)/float64(sw), float64(th)/float64(sh))
	w := max(1, int(float64(sw)*scale+0.5))
	h := max(1, int(float64(sh)*scale+0.5))
	w, h = min(w, tw), min(h, th)
	x := (tw - w) / 2
	y := (th - h) / 2

	draw.CatmullRom.Scale(dst, image.Rect(x, y, x+w, y+h), img, sb, draw.Over, nil)
	return dst
}
