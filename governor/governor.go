// Package governor composes GitHub issue bodies that always fit under the
// issue body limit. Screenshots and attachments are referenced by URL and
// never inlined; when the text is too long, the comment is truncated first
// and references are dropped only when truncation alone cannot make room.
package governor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/feedbackvos/internal/domain"
	feedbackerrors "github.com/hazyhaar/feedbackvos/internal/errors"
)

const (
	// HardLimit is GitHub's issue body ceiling. A body of exactly HardLimit
	// characters is rejected.
	HardLimit = 65536
	// SafeLimit is the length the governor aims for once truncation kicks in.
	SafeLimit = 65000
)

// Body text fragments.
const (
	TruncationMarker      = "\n\n... (truncated due to size limit)"
	ForceTruncationMarker = "\n\n... (content truncated due to GitHub size limits)"
	ScreenshotFailedNote  = "\n\nScreenshot: Screenshot upload failed. Please describe the issue in detail."
	ScreenshotOmittedNote = "\n\nScreenshot: Screenshot was too large to include."
	AttachmentsOmitted    = "\n\nAttachments: omitted due to size limit."
)

// ScreenshotState says what became of the submission's screenshot.
type ScreenshotState int

const (
	ScreenshotNone ScreenshotState = iota
	ScreenshotUploaded
	ScreenshotFailed
)

// ScreenshotRef is the out-of-band screenshot reference.
type ScreenshotRef struct {
	State ScreenshotState
	URL   string
}

// AttachmentRef is one uploaded (or failed) attachment. An empty URL means
// the upload failed.
type AttachmentRef struct {
	Name string
	URL  string
}

// Input is everything that goes into an issue body.
type Input struct {
	Type        domain.FeedbackType
	Comment     string
	Screenshot  ScreenshotRef
	Attachments []AttachmentRef
}

// Body is a composed issue body.
type Body string

// Len is the body length in characters.
func (b Body) Len() int { return utf8.RuneCountInString(string(b)) }

func (b Body) String() string { return string(b) }

// Step records which fallback produced a body.
type Step int

const (
	StepBaseline Step = iota
	StepTruncatedComment
	StepDroppedAttachments
	StepDroppedReferences
	StepForced
)

func (s Step) String() string {
	switch s {
	case StepTruncatedComment:
		return "truncated_comment"
	case StepDroppedAttachments:
		return "dropped_attachments"
	case StepDroppedReferences:
		return "dropped_references"
	case StepForced:
		return "forced"
	}
	return "baseline"
}

// fallback is one way of shrinking a body: the references it keeps and the
// step it reports.
type fallback struct {
	refs string
	step Step
}

// Build composes the issue body for in.
func Build(in Input) Body {
	b, _ := Plan(in)
	return b
}

// Plan composes the issue body and reports which step produced it.
//
// A baseline over SafeLimit is cut down in order: truncate the comment
// keeping every reference; if the references leave no room, replace the
// attachment list with an omission note but keep the screenshot; if that is
// still too long, replace every reference with omission notes. The comment
// is truncated against whatever room is left. If the result still reaches
// HardLimit, the whole body is cut.
func Plan(in Input) (Body, Step) {
	head := header(in.Type)
	refs := references(in)

	baseline := head + in.Comment + refs
	if runeLen(baseline) <= SafeLimit {
		return Body(baseline), StepBaseline
	}

	fallbacks := []fallback{{refs, StepTruncatedComment}}
	if len(in.Attachments) > 0 {
		fallbacks = append(fallbacks, fallback{screenshotReference(in) + AttachmentsOmitted, StepDroppedAttachments})
	}
	fallbacks = append(fallbacks, fallback{omissionNotes(in), StepDroppedReferences})

	room := SafeLimit - runeLen(head) - runeLen(TruncationMarker)
	var body string
	var step Step
	for i, f := range fallbacks {
		budget := room - runeLen(f.refs)
		if budget < 0 && i < len(fallbacks)-1 {
			continue
		}
		body = head + truncateRunes(in.Comment, budget) + TruncationMarker + f.refs
		step = f.step
		break
	}

	if runeLen(body) >= HardLimit {
		body = truncateRunes(body, SafeLimit) + ForceTruncationMarker
		step = StepForced
	}
	return Body(body), step
}

// Check rejects a body at or above HardLimit.
func Check(b Body) error {
	if n := b.Len(); n >= HardLimit {
		return feedbackerrors.NewBodyTooLarge(HardLimit, n)
	}
	return nil
}

func header(t domain.FeedbackType) string {
	return fmt.Sprintf("Type: %s\n\nComment:\n", t)
}

func screenshotReference(in Input) string {
	switch in.Screenshot.State {
	case ScreenshotUploaded:
		return "\n\nScreenshot:\n![Screenshot](" + in.Screenshot.URL + ")"
	case ScreenshotFailed:
		return ScreenshotFailedNote
	}
	return ""
}

func references(in Input) string {
	var b strings.Builder
	b.WriteString(screenshotReference(in))
	if len(in.Attachments) > 0 {
		b.WriteString("\n\nAttachments:")
		for _, a := range in.Attachments {
			name := escapeLinkText(a.Name)
			if a.URL == "" {
				fmt.Fprintf(&b, "\n- %s (upload failed)", name)
			} else {
				fmt.Fprintf(&b, "\n- [%s](%s)", name, a.URL)
			}
		}
	}
	return b.String()
}

func omissionNotes(in Input) string {
	var notes string
	if in.Screenshot.State != ScreenshotNone {
		notes += ScreenshotOmittedNote
	}
	if len(in.Attachments) > 0 {
		notes += AttachmentsOmitted
	}
	return notes
}

var linkTextEscaper = strings.NewReplacer(`[`, `\[`, `]`, `\]`, "\n", " ", "\r", " ")

func escapeLinkText(s string) string { return linkTextEscaper.Replace(s) }

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// truncateRunes returns the first n runes of s.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
