package capture

// mediaBox is the CSS-pixel box of one candidate media element.
type mediaBox struct {
	Tag string  `json:"tag"`
	W   float64 `json:"w"`
	H   float64 `json:"h"`
}

var mediaTags = map[string]bool{"img": true, "canvas": true, "video": true, "svg": true}

// shouldIgnore reports whether an element would rasterize to nothing: a
// media element whose rendered box is under one device pixel on either
// axis. Everything else is kept, however small.
func shouldIgnore(m mediaBox, scale float64) bool {
	if !mediaTags[m.Tag] {
		return false
	}
	if scale <= 0 {
		scale = 1
	}
	return m.W*scale < 1 || m.H*scale < 1
}

func degenerateIndexes(media []mediaBox, scale float64) []int {
	var out []int
	for i, m := range media {
		if shouldIgnore(m, scale) {
			out = append(out, i)
		}
	}
	return out
}
