package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeComment_PlainTextUntouched(t *testing.T) {
	in := "Steps:\n1. open *settings*\n2. click save\n\na < b and c > d"
	got, err := NormalizeComment("  "+in+"\n", "")
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestNormalizeComment_TextKeepsMarkup(t *testing.T) {
	// WHAT: markup in a text comment reaches the issue unchanged.
	// WHY: bug reports paste markup repros; rewriting them loses the report.
	for _, in := range []string{
		"XSS repro: <script>alert(1)</script> in the name field",
		"Use <input type=file> accept list",
		"<b>bold</b> literally",
	} {
		got, err := NormalizeComment(in, FormatText)
		require.NoError(t, err)
		assert.Equal(t, in, got)
	}
}

func TestNormalizeComment_HTMLToMarkdown(t *testing.T) {
	// WHAT: comments declared as HTML become Markdown.
	// WHY: issue bodies are Markdown; raw tags would render literally.
	got, err := NormalizeComment("<p>Hello <strong>world</strong></p>", FormatHTML)
	require.NoError(t, err)
	assert.Equal(t, "Hello **world**", got)
}

func TestNormalizeComment_HTMLStripsScripts(t *testing.T) {
	got, err := NormalizeComment(`<p>hi</p><script>alert(1)</script><img src=x onerror="alert(2)">`, FormatHTML)
	require.NoError(t, err)
	assert.NotContains(t, got, "script")
	assert.NotContains(t, got, "onerror")
	assert.Contains(t, got, "hi")
}

func TestNormalizeComment_UnknownFormat(t *testing.T) {
	_, err := NormalizeComment("x", "rtf")
	assert.Error(t, err)
}
