package locales

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalizer_Languages(t *testing.T) {
	b, err := NewBundle()
	require.NoError(t, err)

	assert.Equal(t, "Send feedback", b.Localizer("en").T("ContentSend", nil))
	assert.Equal(t, "Feedback versturen", b.Localizer("nl").T("ContentSend", nil))
	assert.Equal(t, "Feedback versturen", b.Localizer("nl-BE,nl;q=0.9").T("ContentSend", nil))
}

func TestLocalizer_Template(t *testing.T) {
	b := MustBundle()
	msg := b.Localizer("en").T(MsgFileTooLarge, map[string]any{"Name": "a.png", "Size": "6.0 MB", "Max": "5.0 MB"})
	assert.Equal(t, "File is too large: a.png is 6.0 MB, the maximum is 5.0 MB.", msg)
}

func TestLocalizer_Fallback(t *testing.T) {
	b := MustBundle()
	// Dutch has no IssueCreate401 text, so English is used.
	nl := b.Localizer("nl").T(MsgIssueCreate401, nil)
	assert.Contains(t, nl, "Invalid or expired GitHub token")

	// Unknown languages use English.
	assert.Equal(t, "Idea", b.Localizer("fr").T("TypeIdea", nil))

	// Unknown IDs come back as the ID.
	assert.Equal(t, "NoSuchMessage", b.Localizer("en").T("NoSuchMessage", nil))
}

func TestLocalizer_UI(t *testing.T) {
	ui := MustBundle().Localizer("nl").UI()
	assert.Equal(t, "Anders", ui["TypeOther"])
	assert.Len(t, ui, len(uiMessages))
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("NL"))
	assert.False(t, IsSupported("de"))
}
