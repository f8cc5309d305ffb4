package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/feedbackvos/governor"
	"github.com/hazyhaar/feedbackvos/horosafe"
	"github.com/hazyhaar/feedbackvos/idgen"
	"github.com/hazyhaar/feedbackvos/internal/domain"
	feedbackerrors "github.com/hazyhaar/feedbackvos/internal/errors"
	"github.com/hazyhaar/feedbackvos/internal/locales"
	"github.com/hazyhaar/feedbackvos/raster"
)

// Stage names a step of the submission protocol.
type Stage string

const (
	StageValidate          Stage = "validate"
	StageVerifyAccess      Stage = "verify_access"
	StageUploadScreenshot  Stage = "upload_screenshot"
	StageUploadAttachments Stage = "upload_attachments"
	StageBuildBody         Stage = "build_body"
	StageCreateIssue       Stage = "create_issue"
)

const (
	// FallbackBranch is used when the repository reports no default branch.
	FallbackBranch = "main"

	gitkeepName    = ".gitkeep"
	gitkeepContent = "# Feedback screenshots folder\n"
	gitkeepMessage = "Create feedback-screenshots folder"

	attachmentsDir = "attachments"
)

// Result describes a created issue.
type Result struct {
	IssueNumber   int                      `json:"issue_number"`
	IssueURL      string                   `json:"issue_url"`
	ScreenshotURL string                   `json:"screenshot_url,omitempty"`
	ScreenshotErr error                    `json:"-"`
	Attachments   []governor.AttachmentRef `json:"-"`
	BodyLength    int                      `json:"body_length"`
	BodyStep      governor.Step            `json:"-"`
	Stages        []Stage                  `json:"stages"`
}

func (r *Result) done(s Stage) { r.Stages = append(r.Stages, s) }

// SubmitterOption configures a Submitter.
type SubmitterOption func(*Submitter)

// WithClock sets the clock used in committed file names.
func WithClock(now func() time.Time) SubmitterOption {
	return func(s *Submitter) { s.now = now }
}

// WithNameSuffix sets the random part of committed screenshot names.
// Default: 7 base-36 characters.
func WithNameSuffix(g idgen.Generator) SubmitterOption {
	return func(s *Submitter) { s.suffix = g }
}

// WithLocalizer sets the language of remediation texts.
func WithLocalizer(l *locales.Localizer) SubmitterOption {
	return func(s *Submitter) { s.loc = l }
}

// WithCompression sets the screenshot width cap and JPEG quality.
// Default: 1920 px, 70.
func WithCompression(maxWidth, quality int) SubmitterOption {
	return func(s *Submitter) {
		s.maxWidth = maxWidth
		s.quality = quality
	}
}

// WithAttachmentUploads turns committing user attachments on or off.
// Default: on.
func WithAttachmentUploads(on bool) SubmitterOption {
	return func(s *Submitter) { s.attachments = on }
}

// Submitter turns a feedback submission into a GitHub issue:
//
//	Validate → VerifyAccess → UploadScreenshot → UploadAttachments → BuildBody → CreateIssue
//
// Nothing is retried. A failed screenshot upload degrades to a note in the
// issue body; every other failure ends the submission.
type Submitter struct {
	client      *Client
	now         func() time.Time
	suffix      idgen.Generator
	loc         *locales.Localizer
	logger      *slog.Logger
	maxWidth    int
	quality     int
	attachments bool
}

// NewSubmitter creates a Submitter over c.
func NewSubmitter(c *Client, opts ...SubmitterOption) *Submitter {
	s := &Submitter{
		client:      c,
		now:         time.Now,
		suffix:      idgen.NanoID(7),
		logger:      c.logger,
		maxWidth:    1920,
		quality:     70,
		attachments: true,
	}
	for _, o := range opts {
		o(s)
	}
	if s.loc == nil {
		s.loc = locales.MustBundle().Localizer("en")
	}
	return s
}

// Submit runs the protocol for sub against t.
func (s *Submitter) Submit(ctx context.Context, t domain.RepositoryTarget, sub domain.Submission) (*Result, error) {
	res := &Result{}
	log := s.logger.With("repo", t.FullName(), "type", string(sub.Type))

	if err := t.Validate(); err != nil {
		return nil, feedbackerrors.NewConfigurationInvalid(err.Error()).WithStage(string(StageValidate))
	}
	res.done(StageValidate)

	repo, err := s.verifyAccess(ctx, t)
	if err != nil {
		log.Warn("github: repository check failed", "error", err)
		return nil, err
	}
	res.done(StageVerifyAccess)

	branch := repo.DefaultBranch
	if branch == "" {
		branch = FallbackBranch
	}

	var shot governor.ScreenshotRef
	if sub.Screenshot != nil {
		u, err := s.uploadScreenshot(ctx, t, branch, sub.Screenshot)
		if err != nil {
			log.Warn("github: screenshot upload failed, continuing without it", "error", err)
			res.ScreenshotErr = err
			shot = governor.ScreenshotRef{State: governor.ScreenshotFailed}
		} else {
			res.ScreenshotURL = u
			shot = governor.ScreenshotRef{State: governor.ScreenshotUploaded, URL: u}
		}
		res.done(StageUploadScreenshot)
	}

	if len(sub.Attachments) > 0 {
		if s.attachments {
			res.Attachments = s.uploadAttachments(ctx, t, branch, sub.Attachments, log)
		} else {
			for _, a := range sub.Attachments {
				res.Attachments = append(res.Attachments, governor.AttachmentRef{Name: a.Name})
			}
		}
		res.done(StageUploadAttachments)
	}

	body, step := governor.Plan(governor.Input{
		Type:        sub.Type,
		Comment:     sub.Comment,
		Screenshot:  shot,
		Attachments: res.Attachments,
	})
	if err := governor.Check(body); err != nil {
		return nil, feedbackerrors.Wrap(err).WithStage(string(StageBuildBody))
	}
	res.BodyLength = body.Len()
	res.BodyStep = step
	if step != governor.StepBaseline {
		log.Info("github: issue body shortened", "step", step.String(), "length", res.BodyLength)
	}
	res.done(StageBuildBody)

	issue, err := s.createIssue(ctx, t, sub.Type, body)
	if err != nil {
		if res.ScreenshotURL != "" {
			log.Warn("github: issue creation failed after screenshot commit", "screenshot", res.ScreenshotURL)
		}
		return nil, err
	}
	res.IssueNumber = issue.Number
	res.IssueURL = issue.HTMLURL
	res.done(StageCreateIssue)

	log.Info("github: issue created", "number", issue.Number, "body_length", res.BodyLength)
	return res, nil
}

// VerifyAccess checks that the token can read the repository and that it
// accepts issues. It performs no writes.
func (s *Submitter) VerifyAccess(ctx context.Context, t domain.RepositoryTarget) (*Repository, error) {
	if err := t.Validate(); err != nil {
		return nil, feedbackerrors.NewConfigurationInvalid(err.Error()).WithStage(string(StageValidate))
	}
	return s.verifyAccess(ctx, t)
}

func (s *Submitter) verifyAccess(ctx context.Context, t domain.RepositoryTarget) (*Repository, error) {
	repo, err := s.client.GetRepository(ctx, t)
	if err != nil {
		status := StatusOf(err)
		msg := err.Error()
		var ae *APIError
		if errors.As(err, &ae) {
			msg = ae.Message
		}
		return nil, feedbackerrors.NewRepositoryNotAccessible(t.FullName(), status,
			fmt.Sprintf("repository %q not found or not accessible", t.FullName()),
			s.loc.T(locales.MsgRepoNotAccessible, map[string]any{"Repo": t.FullName(), "Error": msg}),
		).WithStage(string(StageVerifyAccess))
	}
	if !repo.IssuesEnabled() {
		return nil, feedbackerrors.NewIssuesDisabled(t.FullName(),
			s.loc.T(locales.MsgIssuesDisabled, nil)).WithStage(string(StageVerifyAccess))
	}
	return repo, nil
}

// uploadScreenshot commits the compressed screenshot and returns its URL.
func (s *Submitter) uploadScreenshot(ctx context.Context, t domain.RepositoryTarget, branch string, shot *raster.Screenshot) (string, error) {
	fail := func(status int, msg string, cause error) error {
		return feedbackerrors.NewScreenshotUploadFailed(status, msg, cause).WithStage(string(StageUploadScreenshot))
	}

	jpeg, err := shot.Compress(s.maxWidth, s.quality)
	if err != nil {
		return "", fail(0, "Could not compress screenshot", err)
	}
	folder, err := horosafe.RepoPath(t.StoragePath())
	if err != nil {
		return "", fail(0, fmt.Sprintf("Invalid screenshot path %q", t.StoragePath()), err)
	}
	if err := s.EnsureFolder(ctx, t, folder, branch); err != nil {
		return "", fail(http.StatusConflict, err.Error(), err)
	}

	name := s.fileName(s.suffix) + "." + jpeg.Format.Ext()
	p := folder + "/" + name
	entry, err := s.client.PutContents(ctx, t, p, PutFile{
		Message: "Add feedback screenshot: " + name,
		Content: jpeg.Data,
		Branch:  branch,
	})
	if err != nil {
		return "", classifyUpload(err, fail)
	}
	if entry.DownloadURL != "" {
		return entry.DownloadURL, nil
	}
	return s.client.RawURL(t, branch, p), nil
}

func classifyUpload(err error, fail func(int, string, error) error) error {
	var ae *APIError
	if !errors.As(err, &ae) {
		return fail(0, "Failed to upload screenshot: "+err.Error(), err)
	}
	switch ae.Status {
	case http.StatusConflict:
		return fail(ae.Status, "File already exists. This is unexpected - please try again.", err)
	case http.StatusForbidden:
		return fail(ae.Status, "Permission denied. Make sure your token has write access to the repository.", err)
	case http.StatusUnprocessableEntity:
		return fail(ae.Status, fmt.Sprintf("Validation failed: %s. The file might be too large.", ae.Message), err)
	}
	return fail(ae.Status, fmt.Sprintf("Failed to upload screenshot (%d): %s", ae.Status, ae.Message), err)
}

// ErrFolderIsFile is returned when the storage path exists as a file.
var ErrFolderIsFile = errors.New("storage path exists but is a file, not a folder")

// EnsureFolder makes sure folder exists, creating it with a placeholder
// file when it is missing. It only fails when folder is a file; probe and
// creation errors are logged and the caller carries on.
func (s *Submitter) EnsureFolder(ctx context.Context, t domain.RepositoryTarget, folder, branch string) error {
	c, err := s.client.GetContents(ctx, t, folder)
	switch {
	case err == nil && c.IsDir:
		return nil
	case err == nil:
		return fmt.Errorf("%w: %s", ErrFolderIsFile, folder)
	case StatusOf(err) != http.StatusNotFound:
		s.logger.Warn("github: folder probe failed", "folder", folder, "error", err)
		return nil
	}

	_, err = s.client.PutContents(ctx, t, folder+"/"+gitkeepName, PutFile{
		Message: gitkeepMessage,
		Content: []byte(gitkeepContent),
		Branch:  branch,
	})
	if err != nil {
		s.logger.Warn("github: folder creation failed", "folder", folder, "error", err)
		return nil
	}
	s.logger.Info("github: created storage folder", "folder", folder)
	return nil
}

func (s *Submitter) uploadAttachments(ctx context.Context, t domain.RepositoryTarget, branch string, atts []domain.Attachment, log *slog.Logger) []governor.AttachmentRef {
	refs := make([]governor.AttachmentRef, 0, len(atts))
	folder, err := horosafe.RepoPath(t.StoragePath() + "/" + attachmentsDir)
	for _, a := range atts {
		ref := governor.AttachmentRef{Name: a.Name}
		if err != nil {
			refs = append(refs, ref)
			continue
		}
		id := a.ID
		name := s.fileName(func() string { return id }) + "-" + horosafe.SanitizeFileName(a.Name)
		p := folder + "/" + name
		entry, perr := s.client.PutContents(ctx, t, p, PutFile{
			Message: "Add feedback attachment: " + name,
			Content: a.Data,
			Branch:  branch,
		})
		switch {
		case perr != nil:
			log.Warn("github: attachment upload failed", "name", a.Name, "error", perr)
		case entry.HTMLURL != "":
			ref.URL = entry.HTMLURL
		case entry.DownloadURL != "":
			ref.URL = entry.DownloadURL
		default:
			ref.URL = s.client.RawURL(t, branch, p)
		}
		refs = append(refs, ref)
	}
	return refs
}

func (s *Submitter) createIssue(ctx context.Context, t domain.RepositoryTarget, ft domain.FeedbackType, body governor.Body) (*Issue, error) {
	issue, err := s.client.CreateIssue(ctx, t, IssueRequest{
		Title:  fmt.Sprintf("[%s] Feedback", ft),
		Body:   body.String(),
		Labels: []string{"feedback", ft.Label()},
	})
	if err == nil {
		return issue, nil
	}

	var ae *APIError
	if !errors.As(err, &ae) {
		return nil, feedbackerrors.NewNetworkOrAPI(0, "Failed to create GitHub issue: "+err.Error(), "", err).
			WithStage(string(StageCreateIssue))
	}
	var remediation string
	switch ae.Status {
	case http.StatusNotFound:
		remediation = s.loc.T(locales.MsgIssueCreate404, map[string]any{"Repo": t.FullName()})
	case http.StatusUnauthorized:
		remediation = s.loc.T(locales.MsgIssueCreate401, nil)
	case http.StatusUnprocessableEntity:
		remediation = s.loc.T(locales.MsgIssueCreate422, nil)
	case http.StatusForbidden:
		remediation = s.loc.T(locales.MsgIssueCreate403, nil)
	}
	return nil, feedbackerrors.NewNetworkOrAPI(ae.Status,
		fmt.Sprintf("GitHub API error (%d): %s", ae.Status, ae.Message), remediation, err).
		WithStage(string(StageCreateIssue))
}

// fileName returns "feedback-<unix millis>-<suffix>", the stem of every
// committed file.
func (s *Submitter) fileName(suffix idgen.Generator) string {
	return idgen.Prefixed("feedback-", idgen.Millis(s.now, suffix))()
}
