// Package locales holds the widget's user-facing strings in English and
// Dutch. Missing Dutch strings fall back to English, then to the message ID.
package locales

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed *.json
var localeFS embed.FS

// Message IDs.
const (
	MsgFileTooLarge            = "FileTooLarge"
	MsgFileTotalExceeded       = "FileTotalExceeded"
	MsgFileTypeNotAccepted     = "FileTypeNotAccepted"
	MsgFileInvalidPDF          = "FileInvalidPDF"
	MsgRepoNotAccessible       = "RepoNotAccessible"
	MsgIssuesDisabled          = "IssuesDisabled"
	MsgIssueCreate404          = "IssueCreate404"
	MsgIssueCreate401          = "IssueCreate401"
	MsgIssueCreate422          = "IssueCreate422"
	MsgIssueCreate403          = "IssueCreate403"
	MsgScreenshotCaptureFailed = "ScreenshotCaptureFailed"
)

// uiMessages are the strings the browser side renders; they are served with
// the public widget config.
var uiMessages = []string{
	"WidgetButton", "FormHeader", "FormClose",
	"TypeBug", "TypeIdea", "TypeOther",
	"ContentPlaceholder", "ContentSend", "ContentError",
	"SuccessMessage", "SuccessSendAnother",
	"ScreenshotTake", MsgScreenshotCaptureFailed,
}

// Supported lists the languages with a message file.
var Supported = []string{"en", "nl"}

// IsSupported reports whether lang has its own message file.
func IsSupported(lang string) bool {
	for _, s := range Supported {
		if strings.EqualFold(s, lang) {
			return true
		}
	}
	return false
}

// Bundle is the loaded message catalog.
type Bundle struct {
	b      *i18n.Bundle
	logger *slog.Logger
}

// NewBundle loads the embedded message files.
func NewBundle() (*Bundle, error) {
	b := i18n.NewBundle(language.English)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("locales: read embedded files: %w", err)
	}
	loaded := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if _, err := b.LoadMessageFileFS(localeFS, e.Name()); err != nil {
			return nil, fmt.Errorf("locales: load %s: %w", e.Name(), err)
		}
		loaded++
	}
	if loaded == 0 {
		return nil, fmt.Errorf("locales: no message files embedded")
	}
	return &Bundle{b: b, logger: slog.Default()}, nil
}

// MustBundle is NewBundle for package-level defaults; the files are
// embedded, so failure is a build defect.
func MustBundle() *Bundle {
	b, err := NewBundle()
	if err != nil {
		panic(err)
	}
	return b
}

// Localizer returns a localizer for lang (a tag or an Accept-Language value).
func (b *Bundle) Localizer(lang string) *Localizer {
	return &Localizer{
		lang:   lang,
		l:      i18n.NewLocalizer(b.b, lang),
		en:     i18n.NewLocalizer(b.b, language.English.String()),
		logger: b.logger,
	}
}

// Localizer renders messages for one language.
type Localizer struct {
	lang   string
	l      *i18n.Localizer
	en     *i18n.Localizer
	logger *slog.Logger
}

// Lang returns the requested language.
func (l *Localizer) Lang() string { return l.lang }

// T renders message id with data. Unknown IDs render as the ID itself.
func (l *Localizer) T(id string, data map[string]any) string {
	cfg := &i18n.LocalizeConfig{MessageID: id, TemplateData: data}
	msg, err := l.l.Localize(cfg)
	if err == nil {
		return msg
	}
	if msg, enErr := l.en.Localize(cfg); enErr == nil {
		return msg
	}
	l.logger.Warn("locales: missing message", "id", id, "lang", l.lang, "error", err)
	return id
}

// UI returns the strings the browser widget needs, keyed by message ID.
func (l *Localizer) UI() map[string]string {
	out := make(map[string]string, len(uiMessages))
	for _, id := range uiMessages {
		out[id] = l.T(id, nil)
	}
	return out
}
