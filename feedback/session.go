package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/hazyhaar/feedbackvos/annotate"
	"github.com/hazyhaar/feedbackvos/attach"
	"github.com/hazyhaar/feedbackvos/capture"
	"github.com/hazyhaar/feedbackvos/governor"
	"github.com/hazyhaar/feedbackvos/internal/domain"
	feedbackerrors "github.com/hazyhaar/feedbackvos/internal/errors"
	"github.com/hazyhaar/feedbackvos/internal/locales"
	"github.com/hazyhaar/feedbackvos/raster"
)

// Capturer produces page screenshots. *capture.Engine implements it.
type Capturer interface {
	Capture(ctx context.Context, req capture.Request) (*raster.Screenshot, error)
}

// SessionDeps are the collaborators shared by every session of a widget.
type SessionDeps struct {
	Capturer    Capturer
	Integration Integration
	Limits      attach.Limits
	Localizer   *locales.Localizer
	Logger      *slog.Logger
	Now         func() time.Time
}

// Session is one open feedback form. It holds at most one live screenshot,
// the annotation editor, and the pending attachments, and allows one
// submission at a time. A successful submit empties the form; a failed one
// leaves it as it was so the user can retry.
type Session struct {
	ID string

	deps SessionDeps

	mu         sync.Mutex
	screenshot *raster.Screenshot
	editor     *annotate.Overlay
	files      *attach.Set
	submitting bool
	closed     bool
	lastActive time.Time
}

// NewSession creates an empty form session.
func NewSession(id string, deps SessionDeps) *Session {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Localizer == nil {
		deps.Localizer = locales.MustBundle().Localizer("en")
	}
	s := &Session{ID: id, deps: deps, editor: annotate.New(), lastActive: deps.Now()}
	s.files = s.newFileSet()
	return s
}

func (s *Session) newFileSet() *attach.Set {
	return attach.NewSet(s.deps.Limits,
		attach.WithLocalizer(s.deps.Localizer),
		attach.WithLogger(s.deps.Logger))
}

// lock takes the session mutex and refreshes the idle clock. Callers must
// unlock.
func (s *Session) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return feedbackerrors.NewNotFound("session", s.ID)
	}
	s.lastActive = s.deps.Now()
	return nil
}

// LastActive returns when the session was last used.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Screenshot returns the live screenshot, or nil.
func (s *Session) Screenshot() *raster.Screenshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screenshot
}

// Editor returns the annotation overlay.
func (s *Session) Editor() *annotate.Overlay { return s.editor }

// TakeScreenshot captures the page and opens the editor on the result. The
// live screenshot is replaced only when the edit is saved. It returns nil
// when the page rendered to nothing.
func (s *Session) TakeScreenshot(ctx context.Context, req capture.Request) (*raster.Screenshot, error) {
	if s.deps.Capturer == nil {
		return nil, feedbackerrors.NewInvalidRequest("screenshot capture is not available")
	}
	if err := s.lock(); err != nil {
		return nil, err
	}
	s.mu.Unlock()

	shot, err := s.deps.Capturer.Capture(ctx, req)
	if err != nil {
		return nil, feedbackerrors.NewCaptureFailed(s.deps.Localizer.T(locales.MsgScreenshotCaptureFailed, nil), err)
	}
	if shot == nil {
		return nil, nil
	}
	if err := s.openEditor(shot); err != nil {
		return nil, err
	}
	return shot, nil
}

// UploadScreenshot opens the editor on an image supplied by the user,
// normalized like a capture taken at the image's own width.
func (s *Session) UploadScreenshot(data []byte) (*raster.Screenshot, error) {
	src, err := raster.Decode(data)
	if errors.Is(err, raster.ErrTooLarge) {
		return nil, feedbackerrors.NewInvalidRequest(fmt.Sprintf("screenshot is larger than %d pixels", raster.MaxPixels))
	}
	if err != nil {
		return nil, feedbackerrors.NewInvalidRequest("screenshot is not a PNG, JPEG or GIF image")
	}
	img, err := src.Image()
	if err != nil {
		return nil, feedbackerrors.NewInvalidRequest(err.Error())
	}
	shot, err := raster.Encode(capture.Normalize(img, src.Width), raster.PNG, 0)
	if err != nil {
		return nil, feedbackerrors.Wrap(err)
	}
	if err := s.openEditor(shot); err != nil {
		return nil, err
	}
	return shot, nil
}

// openEditor starts editing shot, discarding any edit in progress.
func (s *Session) openEditor(shot *raster.Screenshot) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.editor.Cancel()
	if err := s.editor.Open(shot); err != nil {
		return feedbackerrors.Wrap(err)
	}
	return nil
}

// EditScreenshot reopens the editor on the live screenshot.
func (s *Session) EditScreenshot() (*raster.Screenshot, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	if s.screenshot == nil {
		return nil, feedbackerrors.NewInvalidRequest("there is no screenshot to edit")
	}
	s.editor.Cancel()
	if err := s.editor.Open(s.screenshot); err != nil {
		return nil, feedbackerrors.Wrap(err)
	}
	return s.screenshot, nil
}

// maxDrawPoints bounds the pointer samples applied by one Draw call.
const maxDrawPoints = 4 * annotate.MaxStrokePoints

// Draw applies strokes given in display coordinates and returns the
// working image.
func (s *Session) Draw(displayW, displayH int, strokes []annotate.Stroke) (*raster.Screenshot, error) {
	n := 0
	for _, st := range strokes {
		n += len(st.Points)
	}
	if n > maxDrawPoints {
		return nil, feedbackerrors.NewInvalidRequest(fmt.Sprintf("too many points in one request (%d > %d)", n, maxDrawPoints))
	}
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	if displayW > 0 && displayH > 0 {
		if err := s.editor.SetDisplaySize(displayW, displayH); err != nil {
			return nil, editorError(err)
		}
	}
	for _, st := range strokes {
		if err := s.editor.Stroke(st); err != nil {
			return nil, editorError(err)
		}
	}
	shot, err := s.editor.Preview()
	if err != nil {
		return nil, editorError(err)
	}
	return shot, nil
}

// ClearEdit reverts the editor to the image it was opened on.
func (s *Session) ClearEdit() error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return editorError(s.editor.Clear())
}

// SaveEdit closes the editor and makes its image the live screenshot.
func (s *Session) SaveEdit() (*raster.Screenshot, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	shot, err := s.editor.Save()
	if err != nil {
		return nil, editorError(err)
	}
	s.screenshot = shot
	return shot, nil
}

// CancelEdit closes the editor. The live screenshot is unchanged.
func (s *Session) CancelEdit() error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.editor.Cancel()
	return nil
}

// RemoveScreenshot drops the live screenshot.
func (s *Session) RemoveScreenshot() error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.screenshot = nil
	return nil
}

// AddFiles attaches files. Accepted files are kept even when others are
// rejected. Files cannot change while a submission is in flight.
func (s *Session) AddFiles(cands ...attach.Candidate) ([]*attach.File, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	if s.submitting {
		return nil, feedbackerrors.NewSubmissionInFlight()
	}
	return s.files.Add(cands...)
}

// RemoveFile drops one pending attachment.
func (s *Session) RemoveFile(id string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if s.submitting {
		return feedbackerrors.NewSubmissionInFlight()
	}
	if !s.files.Remove(id) {
		return feedbackerrors.NewNotFound("file", id)
	}
	return nil
}

// Files returns the pending attachments.
func (s *Session) Files() *attach.Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files
}

// Preview shows the issue body the current form would produce, with the
// screenshot as a placeholder link.
func (s *Session) Preview(f Form) (*Preview, error) {
	ft, comment, err := parseForm(f)
	if err != nil {
		return nil, err
	}
	if err := s.lock(); err != nil {
		return nil, err
	}
	in := governor.Input{Type: ft, Comment: comment}
	if s.screenshot != nil {
		in.Screenshot = governor.ScreenshotRef{State: governor.ScreenshotUploaded, URL: pendingScreenshotURL}
	}
	for _, file := range s.files.Files() {
		in.Attachments = append(in.Attachments, governor.AttachmentRef{Name: file.Name, URL: pendingScreenshotURL})
	}
	s.mu.Unlock()

	p := renderPreview(governor.Build(in))
	return &p, nil
}

func parseForm(f Form) (domain.FeedbackType, string, error) {
	ft, err := domain.ParseFeedbackType(f.Type)
	if err != nil {
		return "", "", feedbackerrors.NewInvalidRequest(err.Error())
	}
	comment, err := NormalizeComment(f.Comment, f.Format)
	if err != nil {
		return "", "", feedbackerrors.NewInvalidRequest(err.Error())
	}
	return ft, comment, nil
}

// Submit files the form. Only one submission runs at a time, and the
// attachments cannot change while it runs.
func (s *Session) Submit(ctx context.Context, f Form) (*Receipt, error) {
	ft, comment, err := parseForm(f)
	if err != nil {
		return nil, err
	}
	if comment == "" {
		return nil, feedbackerrors.NewInvalidRequest("comment is required")
	}
	if s.deps.Integration == nil {
		return nil, feedbackerrors.NewConfigurationInvalid("no integration configured")
	}

	if err := s.lock(); err != nil {
		return nil, err
	}
	if s.submitting {
		s.mu.Unlock()
		return nil, feedbackerrors.NewSubmissionInFlight()
	}
	s.submitting = true
	sub := domain.NewSubmission(ft, comment, s.screenshot, s.files.Attachments())
	s.mu.Unlock()

	receipt, err := s.deps.Integration.Submit(ctx, sub)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitting = false
	if err != nil {
		s.report(err)
		return nil, err
	}
	s.screenshot = nil
	s.editor.Cancel()
	s.files.Close()
	s.files = s.newFileSet()
	return receipt, nil
}

// report sends failures the user cannot fix from the form to Sentry.
func (s *Session) report(err error) {
	switch feedbackerrors.KindOf(err) {
	case feedbackerrors.KindInvalidRequest, feedbackerrors.KindSubmissionInFlight:
		return
	}
	s.deps.Logger.Error("feedback: submission failed",
		"session", s.ID,
		"integration", s.deps.Integration.Name(),
		"kind", feedbackerrors.KindOf(err),
		"error", err)
	sentry.CaptureException(err)
}

// Close releases the session's screenshot, editor and attachments.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.screenshot = nil
	s.editor.Cancel()
	s.files.Close()
}

func editorError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, annotate.ErrNotEditing) {
		return feedbackerrors.NewInvalidRequest("the screenshot editor is not open")
	}
	return feedbackerrors.NewInvalidRequest(fmt.Sprintf("editor: %v", err))
}
