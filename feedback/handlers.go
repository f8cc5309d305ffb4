package feedback

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/feedbackvos/annotate"
	"github.com/hazyhaar/feedbackvos/attach"
	"github.com/hazyhaar/feedbackvos/capture"
	feedbackerrors "github.com/hazyhaar/feedbackvos/internal/errors"
	"github.com/hazyhaar/feedbackvos/kit"
	"github.com/hazyhaar/feedbackvos/raster"
)

const (
	maxJSONBody       = 1 << 20
	maxScreenshotBody = 16 << 20
	multipartMemory   = 8 << 20
)

// Handler returns the widget API as an http.Handler rooted at "/".
// The caller must strip the URL prefix before passing requests.
//
//	chi:      r.Mount("/feedback", w.Handler())
//	ServeMux: w.RegisterMux(mux, "/feedback")
func (w *Widget) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/config", w.handleConfig)
	r.Post("/sessions", w.handleCreateSession)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Delete("/", w.handleDeleteSession)

		r.Post("/screenshot/capture", w.handleCapture)
		r.Post("/screenshot/upload", w.handleUpload)
		r.Post("/screenshot/edit", w.handleEdit)
		r.Delete("/screenshot", w.handleRemoveScreenshot)

		r.Post("/editor/strokes", w.handleStrokes)
		r.Post("/editor/clear", w.handleClear)
		r.Post("/editor/save", w.handleSave)
		r.Post("/editor/cancel", w.handleCancel)

		r.Post("/files", w.handleAddFiles)
		r.Delete("/files/{fileID}", w.handleRemoveFile)

		r.Post("/preview", w.handlePreview)
		r.Post("/submit", w.handleSubmit)
	})
	r.NotFound(func(wr http.ResponseWriter, r *http.Request) {
		writeError(wr, feedbackerrors.NewNotFound("route", r.URL.Path))
	})
	return r
}

// session resolves {id} and tags the request context with it. It writes
// the error response itself when the session is unknown.
func (w *Widget) session(wr http.ResponseWriter, r *http.Request) (*Session, *http.Request, bool) {
	id := chi.URLParam(r, "id")
	s, err := w.sessions.Get(id)
	if err != nil {
		writeError(wr, err)
		return nil, r, false
	}
	ctx := kit.WithSessionID(kit.WithTransport(r.Context(), "http"), id)
	return s, r.WithContext(ctx), true
}

func (w *Widget) handleConfig(wr http.ResponseWriter, r *http.Request) {
	writeJSON(wr, http.StatusOK, w.publicConfig())
}

func (w *Widget) handleCreateSession(wr http.ResponseWriter, r *http.Request) {
	if !w.cfg.Appearance.Enabled {
		writeError(wr, feedbackerrors.NewConfigurationInvalid("the feedback widget is disabled"))
		return
	}
	s := w.sessions.Create()
	w.logger.Debug("feedback: session opened", "session", s.ID)
	writeJSON(wr, http.StatusCreated, map[string]string{"id": s.ID})
}

func (w *Widget) handleDeleteSession(wr http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !w.sessions.Delete(id) {
		writeError(wr, feedbackerrors.NewNotFound("session", id))
		return
	}
	wr.WriteHeader(http.StatusNoContent)
}

type captureRequest struct {
	URL               string  `json:"url"`
	ViewportWidth     int     `json:"viewport_width"`
	ViewportHeight    int     `json:"viewport_height"`
	DeviceScaleFactor float64 `json:"device_scale_factor"`
	ExcludeSelector   string  `json:"exclude_selector"`
}

func (w *Widget) handleCapture(wr http.ResponseWriter, r *http.Request) {
	s, r, ok := w.session(wr, r)
	if !ok {
		return
	}
	var req captureRequest
	if err := decodeJSON(wr, r, &req); err != nil {
		writeError(wr, err)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(wr, feedbackerrors.NewInvalidRequest("url is required"))
		return
	}

	shot, err := s.TakeScreenshot(r.Context(), capture.Request{
		URL: req.URL,
		Viewport: capture.Viewport{
			Width:             req.ViewportWidth,
			Height:            req.ViewportHeight,
			DeviceScaleFactor: req.DeviceScaleFactor,
		},
		ExcludeSelector: req.ExcludeSelector,
	})
	if err != nil {
		writeError(wr, err)
		return
	}
	if shot == nil {
		writeJSON(wr, http.StatusOK, map[string]any{"captured": false})
		return
	}
	writeJSON(wr, http.StatusOK, editorView(s, shot))
}

// handleUpload accepts either a multipart "file" field or a JSON
// {"data_url": ...} body, the form a canvas export produces.
func (w *Widget) handleUpload(wr http.ResponseWriter, r *http.Request) {
	s, r, ok := w.session(wr, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(wr, r.Body, maxScreenshotBody)

	var data []byte
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			writeError(wr, bodyError(err))
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			writeError(wr, feedbackerrors.NewInvalidRequest("file is required"))
			return
		}
		defer f.Close()
		if data, err = io.ReadAll(f); err != nil {
			writeError(wr, bodyError(err))
			return
		}
	} else {
		var req struct {
			DataURL string `json:"data_url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(wr, bodyError(err))
			return
		}
		shot, err := raster.ParseDataURL(req.DataURL)
		if err != nil {
			writeError(wr, feedbackerrors.NewInvalidRequest(err.Error()))
			return
		}
		data = shot.Data
	}

	shot, err := s.UploadScreenshot(data)
	if err != nil {
		writeError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, editorView(s, shot))
}

func (w *Widget) handleEdit(wr http.ResponseWriter, r *http.Request) {
	s, _, ok := w.session(wr, r)
	if !ok {
		return
	}
	shot, err := s.EditScreenshot()
	if err != nil {
		writeError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, editorView(s, shot))
}

func (w *Widget) handleRemoveScreenshot(wr http.ResponseWriter, r *http.Request) {
	s, _, ok := w.session(wr, r)
	if !ok {
		return
	}
	if err := s.RemoveScreenshot(); err != nil {
		writeError(wr, err)
		return
	}
	wr.WriteHeader(http.StatusNoContent)
}

type strokesRequest struct {
	DisplayWidth  int               `json:"display_width"`
	DisplayHeight int               `json:"display_height"`
	Strokes       []annotate.Stroke `json:"strokes"`
}

func (w *Widget) handleStrokes(wr http.ResponseWriter, r *http.Request) {
	s, r, ok := w.session(wr, r)
	if !ok {
		return
	}
	var req strokesRequest
	if err := decodeJSON(wr, r, &req); err != nil {
		writeError(wr, err)
		return
	}
	shot, err := s.Draw(req.DisplayWidth, req.DisplayHeight, req.Strokes)
	if err != nil {
		writeError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, map[string]any{"screenshot": shot.DataURL()})
}

func (w *Widget) handleClear(wr http.ResponseWriter, r *http.Request) {
	s, _, ok := w.session(wr, r)
	if !ok {
		return
	}
	if err := s.ClearEdit(); err != nil {
		writeError(wr, err)
		return
	}
	wr.WriteHeader(http.StatusNoContent)
}

func (w *Widget) handleSave(wr http.ResponseWriter, r *http.Request) {
	s, _, ok := w.session(wr, r)
	if !ok {
		return
	}
	shot, err := s.SaveEdit()
	if err != nil {
		writeError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, map[string]any{
		"screenshot": shot.DataURL(),
		"width":      shot.Width,
		"height":     shot.Height,
	})
}

func (w *Widget) handleCancel(wr http.ResponseWriter, r *http.Request) {
	s, _, ok := w.session(wr, r)
	if !ok {
		return
	}
	if err := s.CancelEdit(); err != nil {
		writeError(wr, err)
		return
	}
	wr.WriteHeader(http.StatusNoContent)
}

// fileView is an accepted attachment as the browser sees it.
type fileView struct {
	*attach.File
	Preview string `json:"preview,omitempty"`
}

func viewFiles(files []*attach.File) []fileView {
	out := make([]fileView, 0, len(files))
	for _, f := range files {
		v := fileView{File: f}
		if f.HasPreview() {
			v.Preview = (&raster.Screenshot{Format: raster.PNG, Data: f.Preview}).DataURL()
		}
		out = append(out, v)
	}
	return out
}

func (w *Widget) handleAddFiles(wr http.ResponseWriter, r *http.Request) {
	s, _, ok := w.session(wr, r)
	if !ok {
		return
	}
	limits := w.cfg.Limits.WithDefaults()
	r.Body = http.MaxBytesReader(wr, r.Body, limits.MaxTotalSize+(1<<20))
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(wr, bodyError(err))
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(wr, feedbackerrors.NewInvalidRequest("files is required"))
		return
	}
	cands := make([]attach.Candidate, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			writeError(wr, bodyError(err))
			return
		}
		cands = append(cands, attach.Candidate{
			Name:     fh.Filename,
			MIMEType: fh.Header.Get("Content-Type"),
			Data:     data,
		})
	}

	added, err := s.AddFiles(cands...)
	rejections := splitJoined(err)
	if len(added) == 0 && len(rejections) > 0 {
		writeError(wr, rejections[0])
		return
	}
	msgs := make([]string, 0, len(rejections))
	for _, e := range rejections {
		var fe *feedbackerrors.FeedbackError
		if errors.As(e, &fe) {
			msgs = append(msgs, fe.Message)
		} else {
			msgs = append(msgs, e.Error())
		}
	}
	set := s.Files()
	writeJSON(wr, http.StatusOK, map[string]any{
		"files":   viewFiles(set.Files()),
		"errors":  msgs,
		"summary": set.Summary(),
	})
}

func (w *Widget) handleRemoveFile(wr http.ResponseWriter, r *http.Request) {
	s, _, ok := w.session(wr, r)
	if !ok {
		return
	}
	if err := s.RemoveFile(chi.URLParam(r, "fileID")); err != nil {
		writeError(wr, err)
		return
	}
	wr.WriteHeader(http.StatusNoContent)
}

func (w *Widget) handlePreview(wr http.ResponseWriter, r *http.Request) {
	s, r, ok := w.session(wr, r)
	if !ok {
		return
	}
	var req Form
	if err := decodeJSON(wr, r, &req); err != nil {
		writeError(wr, err)
		return
	}
	p, err := s.Preview(req)
	if err != nil {
		writeError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, p)
}

func (w *Widget) handleSubmit(wr http.ResponseWriter, r *http.Request) {
	s, r, ok := w.session(wr, r)
	if !ok {
		return
	}
	var req Form
	if err := decodeJSON(wr, r, &req); err != nil {
		writeError(wr, err)
		return
	}
	receipt, err := s.Submit(r.Context(), req)
	if err != nil {
		writeError(wr, err)
		return
	}
	w.logger.Info("feedback: issue created",
		"session", s.ID,
		"integration", receipt.Integration,
		"issue", receipt.IssueNumber)
	writeJSON(wr, http.StatusOK, map[string]any{
		"status":             "ok",
		"issue_number":       receipt.IssueNumber,
		"issue_url":          receipt.IssueURL,
		"screenshot_url":     receipt.ScreenshotURL,
		"screenshot_warning": receipt.ScreenshotWarning,
	})
}

func editorView(s *Session, shot *raster.Screenshot) map[string]any {
	dw, dh := s.Editor().DisplaySize()
	return map[string]any{
		"editing":        true,
		"screenshot":     shot.DataURL(),
		"width":          shot.Width,
		"height":         shot.Height,
		"display_width":  dw,
		"display_height": dh,
	}
}

func decodeJSON(wr http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(wr, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return bodyError(err)
	}
	return nil
}

func bodyError(err error) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return &feedbackerrors.FeedbackError{
			Kind:    feedbackerrors.KindInvalidRequest,
			Status:  http.StatusRequestEntityTooLarge,
			Message: "request body is too large",
			Cause:   err,
		}
	}
	return feedbackerrors.NewInvalidRequest("invalid request body")
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// splitJoined flattens an errors.Join result.
func splitJoined(err error) []error {
	if err == nil {
		return nil
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	fe := feedbackerrors.Wrap(err)
	status := fe.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	body := map[string]any{
		"error":   fe.Kind,
		"message": fe.Message,
	}
	if fe.Remediation != "" {
		body["remediation"] = fe.Remediation
	}
	if fe.Stage != "" {
		body["stage"] = fe.Stage
	}
	writeJSON(w, status, body)
}
