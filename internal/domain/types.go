// Package domain holds the feedback types shared across packages.
package domain

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/feedbackvos/raster"
)

// FeedbackType is the category the user picks.
type FeedbackType string

const (
	TypeBug   FeedbackType = "BUG"
	TypeIdea  FeedbackType = "IDEA"
	TypeOther FeedbackType = "OTHER"
)

// ParseFeedbackType accepts the type case-insensitively.
func ParseFeedbackType(s string) (FeedbackType, error) {
	switch t := FeedbackType(strings.ToUpper(strings.TrimSpace(s))); t {
	case TypeBug, TypeIdea, TypeOther:
		return t, nil
	}
	return "", fmt.Errorf("unknown feedback type %q (want BUG, IDEA or OTHER)", s)
}

// Label is the issue label derived from the type.
func (t FeedbackType) Label() string { return strings.ToLower(string(t)) }

// Title is the human-readable name of the type.
func (t FeedbackType) Title() string {
	switch t {
	case TypeBug:
		return "Bug"
	case TypeIdea:
		return "Idea"
	}
	return "Other"
}

// Attachment is a user file carried by a submission.
type Attachment struct {
	ID       string
	Name     string
	MIMEType string
	Data     []byte
}

// Submission is one feedback report. Build it with NewSubmission; it is not
// modified afterwards.
type Submission struct {
	Type        FeedbackType
	Comment     string
	Screenshot  *raster.Screenshot
	Attachments []Attachment
}

// NewSubmission copies its inputs so later changes to the form session do
// not leak into a submission in flight.
func NewSubmission(t FeedbackType, comment string, shot *raster.Screenshot, atts []Attachment) Submission {
	var copied []Attachment
	if len(atts) > 0 {
		copied = make([]Attachment, len(atts))
		for i, a := range atts {
			a.Data = append([]byte(nil), a.Data...)
			copied[i] = a
		}
	}
	return Submission{
		Type:        t,
		Comment:     comment,
		Screenshot:  shot.Clone(),
		Attachments: copied,
	}
}

// DefaultStoragePath is where screenshots are committed when the target
// does not name a folder.
const DefaultStoragePath = ".feedback-screenshots"

// RepositoryTarget identifies the GitHub repository receiving issues.
type RepositoryTarget struct {
	Token          string
	Owner          string
	Repo           string
	ScreenshotPath string
}

// Validate rejects targets missing a token, owner or repository name.
func (t RepositoryTarget) Validate() error {
	var missing []string
	if strings.TrimSpace(t.Token) == "" {
		missing = append(missing, "token")
	}
	if strings.TrimSpace(t.Owner) == "" {
		missing = append(missing, "owner")
	}
	if strings.TrimSpace(t.Repo) == "" {
		missing = append(missing, "repo")
	}
	if len(missing) > 0 {
		return fmt.Errorf("GitHub configuration is incomplete: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// FullName is "owner/repo".
func (t RepositoryTarget) FullName() string { return t.Owner + "/" + t.Repo }

// StoragePath returns the configured screenshot folder or the default.
func (t RepositoryTarget) StoragePath() string {
	if p := strings.Trim(strings.TrimSpace(t.ScreenshotPath), "/"); p != "" {
		return p
	}
	return DefaultStoragePath
}
