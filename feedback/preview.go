package feedback

import (
	"bytes"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/hazyhaar/feedbackvos/governor"
)

// pendingScreenshotURL stands in for the screenshot link before upload.
const pendingScreenshotURL = "screenshot-pending-upload"

var previewMarkdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Preview is the issue body as it would be filed now.
type Preview struct {
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
	Length   int    `json:"length"`
	Limit    int    `json:"limit"`
}

// renderPreview renders a governed body to sanitized HTML.
func renderPreview(body governor.Body) Preview {
	var buf bytes.Buffer
	html := ""
	if err := previewMarkdown.Convert([]byte(body), &buf); err == nil {
		html = bluemonday.UGCPolicy().Sanitize(buf.String())
	} else {
		html = bluemonday.StrictPolicy().Sanitize(string(body))
	}
	return Preview{
		Markdown: body.String(),
		HTML:     html,
		Length:   body.Len(),
		Limit:    governor.HardLimit - 1,
	}
}
