package feedback

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/feedbackvos/capture"
	"github.com/hazyhaar/feedbackvos/internal/domain"
	"github.com/hazyhaar/feedbackvos/raster"
)

// fakeIntegration records submissions. When block is set, Submit signals on
// started and waits for block to close.
type fakeIntegration struct {
	mu      sync.Mutex
	subs    []domain.Submission
	err     error
	started chan struct{}
	block   chan struct{}
}

func (*fakeIntegration) integration() {}

func (*fakeIntegration) Name() string { return "fake" }

func (f *fakeIntegration) Submit(ctx context.Context, sub domain.Submission) (*Receipt, error) {
	if f.block != nil {
		f.started <- struct{}{}
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.subs = append(f.subs, sub)
	n := len(f.subs)
	return &Receipt{Integration: "fake", IssueNumber: n, IssueURL: "https://issues.test/" + string(rune('0'+n))}, nil
}

func (f *fakeIntegration) submissions() []domain.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Submission(nil), f.subs...)
}

// fakeCapturer returns a fixed white screenshot, or nothing when empty is set.
type fakeCapturer struct {
	w, h  int
	empty bool
	err   error
	reqs  []capture.Request
}

func (f *fakeCapturer) Capture(_ context.Context, req capture.Request) (*raster.Screenshot, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.empty {
		return nil, nil
	}
	return raster.Encode(solid(f.w, f.h, color.White), raster.PNG, 0)
}

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	s, err := raster.Encode(solid(w, h, color.White), raster.PNG, 0)
	require.NoError(t, err)
	return s.Data
}

func newTestSession(t *testing.T, integ Integration, capt Capturer) *Session {
	t.Helper()
	s := NewSession("sess-1", SessionDeps{Capturer: capt, Integration: integ})
	t.Cleanup(s.Close)
	return s
}
