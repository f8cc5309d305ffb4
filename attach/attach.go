// Package attach manages the files a user attaches to one feedback form:
// type and size limits, PDF validation, and image thumbnails. Each form
// session owns one Set and closes it on teardown.
package attach

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"sync"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/dustin/go-humanize"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/image/draw"

	"github.com/hazyhaar/feedbackvos/idgen"
	"github.com/hazyhaar/feedbackvos/internal/domain"
	feedbackerrors "github.com/hazyhaar/feedbackvos/internal/errors"
	"github.com/hazyhaar/feedbackvos/internal/locales"
	"github.com/hazyhaar/feedbackvos/raster"
)

const (
	DefaultMaxFileSize  int64 = 5 << 20
	DefaultMaxTotalSize int64 = 20 << 20
	DefaultAccept             = "image/*,.pdf,.doc,.docx,.txt"

	// PreviewSize is the longest side of an image thumbnail.
	PreviewSize = 96
)

// Limits bounds what a Set accepts.
type Limits struct {
	MaxFileSize  int64  `yaml:"max_file_size" json:"max_file_size"`
	MaxTotalSize int64  `yaml:"max_total_size" json:"max_total_size"`
	Accept       string `yaml:"accept" json:"accept"`
}

// DefaultLimits returns 5 MiB per file, 20 MiB in total, images and common
// documents.
func DefaultLimits() Limits {
	return Limits{MaxFileSize: DefaultMaxFileSize, MaxTotalSize: DefaultMaxTotalSize, Accept: DefaultAccept}
}

// WithDefaults returns l with unset fields filled from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	l.applyDefaults()
	return l
}

func (l *Limits) applyDefaults() {
	if l.MaxFileSize <= 0 {
		l.MaxFileSize = DefaultMaxFileSize
	}
	if l.MaxTotalSize <= 0 {
		l.MaxTotalSize = DefaultMaxTotalSize
	}
	if strings.TrimSpace(l.Accept) == "" {
		l.Accept = DefaultAccept
	}
}

// Candidate is a file offered for attachment.
type Candidate struct {
	Name     string
	MIMEType string
	Data     []byte
}

// File is an accepted attachment.
type File struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Pages    int    `json:"pages,omitempty"`
	Data     []byte `json:"-"`
	Preview  []byte `json:"-"`
}

// HasPreview reports whether an image thumbnail is held for f.
func (f *File) HasPreview() bool { return len(f.Preview) > 0 }

func (f *File) release() {
	f.Data = nil
	f.Preview = nil
}

// Option configures a Set.
type Option func(*Set)

// WithIDGenerator overrides file ID generation. Default: ULID.
func WithIDGenerator(g idgen.Generator) Option {
	return func(s *Set) { s.newID = g }
}

// WithLocalizer sets the language of rejection messages.
func WithLocalizer(l *locales.Localizer) Option {
	return func(s *Set) { s.loc = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Set) { s.logger = l }
}

// Set is the ordered list of pending attachments of one form session.
// It is safe for concurrent use.
type Set struct {
	mu     sync.Mutex
	limits Limits
	files  []*File
	newID  idgen.Generator
	loc    *locales.Localizer
	logger *slog.Logger
}

// NewSet creates an empty Set.
func NewSet(limits Limits, opts ...Option) *Set {
	limits.applyDefaults()
	s := &Set{limits: limits, newID: idgen.ULID(), logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if s.loc == nil {
		s.loc = locales.MustBundle().Localizer("en")
	}
	return s
}

// Limits returns the effective limits.
func (s *Set) Limits() Limits { return s.limits }

// Add checks each candidate in order and appends the accepted ones. A
// rejected candidate does not stop the others; the returned error joins one
// ATTACHMENT_REJECTED error per rejected file.
func (s *Set) Add(cands ...Candidate) ([]*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		added []*File
		errs  []error
	)
	total := s.totalLocked()
	for _, c := range cands {
		f, err := s.admit(c, total)
		if err != nil {
			s.logger.Debug("attach: rejected", "name", c.Name, "size", len(c.Data), "error", err)
			errs = append(errs, err)
			continue
		}
		total += f.Size
		s.files = append(s.files, f)
		added = append(added, f)
	}
	return added, errors.Join(errs...)
}

func (s *Set) admit(c Candidate, total int64) (*File, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = "file"
	}
	mimeType := detectMIME(name, c.MIMEType, c.Data)
	size := int64(len(c.Data))

	if !Accepts(s.limits.Accept, name, mimeType) {
		return nil, feedbackerrors.NewAttachmentRejected(http.StatusUnsupportedMediaType, name,
			s.loc.T(locales.MsgFileTypeNotAccepted, map[string]any{"Name": name, "Accept": s.limits.Accept}))
	}
	if size > s.limits.MaxFileSize {
		return nil, feedbackerrors.NewAttachmentRejected(http.StatusRequestEntityTooLarge, name,
			s.loc.T(locales.MsgFileTooLarge, map[string]any{
				"Name": name, "Size": formatSize(size), "Max": formatSize(s.limits.MaxFileSize),
			}))
	}
	if total+size > s.limits.MaxTotalSize {
		return nil, feedbackerrors.NewAttachmentRejected(http.StatusRequestEntityTooLarge, name,
			s.loc.T(locales.MsgFileTotalExceeded, map[string]any{
				"Name": name, "Size": formatSize(size), "Max": formatSize(s.limits.MaxTotalSize),
			}))
	}

	f := &File{
		ID:       s.newID(),
		Name:     name,
		MIMEType: mimeType,
		Size:     size,
		Data:     append([]byte(nil), c.Data...),
	}
	switch {
	case mimeType == "application/pdf":
		pages, err := pdfPages(c.Data)
		if err != nil {
			return nil, feedbackerrors.NewAttachmentRejected(http.StatusUnsupportedMediaType, name,
				s.loc.T(locales.MsgFileInvalidPDF, map[string]any{"Name": name}))
		}
		f.Pages = pages
	case strings.HasPrefix(mimeType, "image/"):
		if p, err := thumbnail(c.Data); err == nil {
			f.Preview = p
		} else {
			s.logger.Debug("attach: no preview", "name", name, "error", err)
		}
	}
	return f, nil
}

// Remove drops the file with the given ID and releases its buffers.
func (s *Set) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range s.files {
		if f.ID == id {
			f.release()
			s.files = append(s.files[:i], s.files[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the file with the given ID.
func (s *Set) Get(id string) (*File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.files {
		if f.ID == id {
			return f, true
		}
	}
	return nil, false
}

// Close releases every file.
func (s *Set) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.files {
		f.release()
	}
	s.files = nil
}

// Files returns the pending files in selection order.
func (s *Set) Files() []*File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*File(nil), s.files...)
}

// Len returns the number of pending files.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// TotalSize returns the summed size of the pending files.
func (s *Set) TotalSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalLocked()
}

func (s *Set) totalLocked() int64 {
	var n int64
	for _, f := range s.files {
		n += f.Size
	}
	return n
}

// Summary describes the pending files, e.g. "2 files, 3.1 MB of 20 MB".
func (s *Set) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.files)
	noun := "files"
	if n == 1 {
		noun = "file"
	}
	return fmt.Sprintf("%d %s, %s of %s", n, noun, formatSize(s.totalLocked()), formatSize(s.limits.MaxTotalSize))
}

// Attachments copies the pending files into submission attachments.
func (s *Set) Attachments() []domain.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Attachment, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, domain.Attachment{ID: f.ID, Name: f.Name, MIMEType: f.MIMEType, Data: f.Data})
	}
	return out
}

// Accepts reports whether a file matches an accept list in the HTML
// <input accept> format: ".ext", "type/*" or "type/subtype".
func Accepts(accept, name, mimeType string) bool {
	ext := strings.ToLower(path.Ext(name))
	mimeType = strings.ToLower(mimeType)
	for _, p := range strings.Split(accept, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		switch {
		case p == "":
		case p == "*" || p == "*/*":
			return true
		case strings.HasPrefix(p, "."):
			if ext == p {
				return true
			}
		case strings.HasSuffix(p, "/*"):
			if strings.HasPrefix(mimeType, strings.TrimSuffix(p, "*")) {
				return true
			}
		case p == mimeType:
			return true
		}
	}
	return false
}

func detectMIME(name, declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt
		}
	}
	if mt := mime.TypeByExtension(strings.ToLower(path.Ext(name))); mt != "" {
		if base, _, err := mime.ParseMediaType(mt); err == nil {
			return base
		}
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}

// formatSize renders sizes the way the upload button shows them.
func formatSize(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(n))
}

func pdfPages(data []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return 0, fmt.Errorf("pdfcpu read: %w", err)
	}
	return ctx.PageCount, nil
}

func thumbnail(data []byte) ([]byte, error) {
	if _, _, err := raster.DecodeConfig(data); err != nil {
		return nil, err
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("empty image")
	}
	if w >= h && w > PreviewSize {
		h = max(1, h*PreviewSize/w)
		w = PreviewSize
	} else if h > w && h > PreviewSize {
		w = max(1, w*PreviewSize/h)
		h = PreviewSize
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
