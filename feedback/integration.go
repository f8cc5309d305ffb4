package feedback

import (
	"context"

	"github.com/hazyhaar/feedbackvos/github"
	"github.com/hazyhaar/feedbackvos/internal/domain"
)

// Integration delivers a submission to an issue tracker. The set of
// integrations is closed; GitHubIntegration is the only one.
type Integration interface {
	Name() string
	Submit(ctx context.Context, sub domain.Submission) (*Receipt, error)
	integration()
}

// Receipt is what the user sees after a successful submission.
type Receipt struct {
	Integration   string `json:"integration"`
	IssueNumber   int    `json:"issue_number"`
	IssueURL      string `json:"issue_url"`
	ScreenshotURL string `json:"screenshot_url,omitempty"`
	// ScreenshotWarning is set when the screenshot could not be stored and
	// the issue was created without it.
	ScreenshotWarning string `json:"screenshot_warning,omitempty"`
}

// GitHubIntegration files feedback as issues in one repository.
type GitHubIntegration struct {
	Target    domain.RepositoryTarget
	Submitter *github.Submitter
}

func (*GitHubIntegration) integration() {}

// Name implements Integration.
func (*GitHubIntegration) Name() string { return "github" }

// Submit implements Integration.
func (g *GitHubIntegration) Submit(ctx context.Context, sub domain.Submission) (*Receipt, error) {
	res, err := g.Submitter.Submit(ctx, g.Target, sub)
	if err != nil {
		return nil, err
	}
	r := &Receipt{
		Integration:   g.Name(),
		IssueNumber:   res.IssueNumber,
		IssueURL:      res.IssueURL,
		ScreenshotURL: res.ScreenshotURL,
	}
	if res.ScreenshotErr != nil {
		r.ScreenshotWarning = res.ScreenshotErr.Error()
	}
	return r, nil
}
