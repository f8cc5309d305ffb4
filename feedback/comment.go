package feedback

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// Comment formats a client may declare. An empty format means text.
const (
	FormatText = "text"
	FormatHTML = "html"
)

var (
	commentPolicy = bluemonday.UGCPolicy()
	mdConverter   = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
)

// Form is what the user filled in.
type Form struct {
	Type    string `json:"type"`
	Comment string `json:"comment"`
	Format  string `json:"format,omitempty"`
}

// NormalizeComment trims a comment. Text comments are otherwise kept
// verbatim, markup included. Comments declared as HTML (rich-text editors)
// are sanitized and converted to Markdown.
func NormalizeComment(s, format string) (string, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(format) {
	case "", FormatText, "markdown":
		return s, nil
	case FormatHTML:
	default:
		return "", fmt.Errorf("unknown comment format %q (want text or html)", format)
	}
	clean := commentPolicy.Sanitize(s)
	md, err := mdConverter.ConvertString(clean)
	if err != nil {
		return strings.TrimSpace(bluemonday.StrictPolicy().Sanitize(s)), nil
	}
	return strings.TrimSpace(md), nil
}
