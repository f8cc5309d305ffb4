package github

import (
	"context"
	"encoding/base64"
	"image"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/feedbackvos/internal/domain"
	feedbackerrors "github.com/hazyhaar/feedbackvos/internal/errors"
	"github.com/hazyhaar/feedbackvos/raster"
)

var target = domain.RepositoryTarget{Token: "tok", Owner: "acme", Repo: "app"}

func fixedClock() time.Time { return time.UnixMilli(1718000000000) }

func testShot(t *testing.T) *raster.Screenshot {
	t.Helper()
	s, err := raster.Encode(image.NewRGBA(image.Rect(0, 0, 2400, 1350)), raster.PNG, 0)
	require.NoError(t, err)
	return s
}

func newTestSubmitter(f *fakeGitHub, opts ...SubmitterOption) *Submitter {
	base := []SubmitterOption{
		WithClock(fixedClock),
		WithNameSuffix(func() string { return "k3j9x2a" }),
	}
	return NewSubmitter(f.client(), append(base, opts...)...)
}

func bug(comment string, shot *raster.Screenshot) domain.Submission {
	return domain.NewSubmission(domain.TypeBug, comment, shot, nil)
}

func TestSubmit_WithScreenshot(t *testing.T) {
	// WHAT: full happy path: verify, bootstrap folder, commit screenshot,
	// create issue referencing it.
	f := newFakeGitHub(t)
	s := newTestSubmitter(f)

	res, err := s.Submit(context.Background(), target, bug("button is broken", testShot(t)))
	require.NoError(t, err)

	assert.Equal(t, 42, res.IssueNumber)
	assert.Equal(t, "https://github.test/acme/app/issues/42", res.IssueURL)
	assert.Equal(t, []Stage{StageValidate, StageVerifyAccess, StageUploadScreenshot, StageBuildBody, StageCreateIssue}, res.Stages)

	shotPath := ".feedback-screenshots/feedback-1718000000000-k3j9x2a.jpg"
	assert.Equal(t, "https://dl.test/"+shotPath, res.ScreenshotURL)
	assert.NoError(t, res.ScreenshotErr)

	reqs := f.requests()
	require.Len(t, reqs, 5)
	want := []string{
		"GET /repos/acme/app",
		"GET /repos/acme/app/contents/.feedback-screenshots",
		"PUT /repos/acme/app/contents/.feedback-screenshots/.gitkeep",
		"PUT /repos/acme/app/contents/" + shotPath,
		"POST /repos/acme/app/issues",
	}
	for i, r := range reqs {
		assert.Equal(t, want[i], r.Method+" "+r.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "feedback-vos", r.Header.Get("User-Agent"))
		assert.Equal(t, "application/vnd.github.v3+json", r.Header.Get("Accept"))
	}

	keep := reqs[2].Body
	assert.Equal(t, "Create feedback-screenshots folder", keep["message"])
	assert.Equal(t, "develop", keep["branch"])
	decoded, err := base64.StdEncoding.DecodeString(keep["content"].(string))
	require.NoError(t, err)
	assert.Equal(t, "# Feedback screenshots folder\n", string(decoded))

	put := reqs[3].Body
	assert.Equal(t, "Add feedback screenshot: feedback-1718000000000-k3j9x2a.jpg", put["message"])
	assert.Equal(t, "develop", put["branch"])
	img, err := base64.StdEncoding.DecodeString(put["content"].(string))
	require.NoError(t, err)
	committed, err := raster.Decode(img)
	require.NoError(t, err)
	assert.Equal(t, raster.JPEG, committed.Format)
	assert.Equal(t, 1920, committed.Width)

	issue := reqs[4].Body
	assert.Equal(t, "[BUG] Feedback", issue["title"])
	assert.Equal(t, []any{"feedback", "bug"}, issue["labels"])
	assert.Equal(t,
		"Type: BUG\n\nComment:\nbutton is broken\n\nScreenshot:\n![Screenshot](https://dl.test/"+shotPath+")",
		issue["body"])
}

func TestSubmit_WithoutScreenshot(t *testing.T) {
	f := newFakeGitHub(t)
	res, err := newTestSubmitter(f).Submit(context.Background(), target,
		domain.NewSubmission(domain.TypeIdea, "dark mode please", nil, nil))
	require.NoError(t, err)
	assert.Equal(t, 42, res.IssueNumber)
	assert.Equal(t, 0, f.count(http.MethodPut))
	assert.Equal(t, "Type: IDEA\n\nComment:\ndark mode please", f.lastIssue()["body"])
	assert.Equal(t, []any{"feedback", "idea"}, f.lastIssue()["labels"])
}

func TestSubmit_ValidateBeforeNetwork(t *testing.T) {
	f := newFakeGitHub(t)
	_, err := newTestSubmitter(f).Submit(context.Background(),
		domain.RepositoryTarget{Owner: "acme", Repo: "app"}, bug("x", nil))
	require.Error(t, err)
	assert.True(t, feedbackerrors.Is(err, feedbackerrors.KindConfigurationInvalid))
	assert.Empty(t, f.requests())
}

func TestSubmit_RepositoryNotFound(t *testing.T) {
	f := newFakeGitHub(t)
	f.repoStatus = http.StatusNotFound

	_, err := newTestSubmitter(f).Submit(context.Background(), target, bug("x", testShot(t)))
	require.Error(t, err)

	fe := feedbackerrors.Wrap(err)
	assert.Equal(t, feedbackerrors.KindRepositoryNotAccessible, fe.Kind)
	assert.Equal(t, 404, fe.APIStatus)
	assert.Equal(t, string(StageVerifyAccess), fe.Stage)
	assert.Contains(t, fe.Remediation, "Repository exists at https://github.com/acme/app")
	assert.Contains(t, fe.Remediation, "Error: Not Found")
	assert.Equal(t, 0, f.count(http.MethodPut))
	assert.Equal(t, 0, f.count(http.MethodPost))
}

func TestSubmit_ScenarioB_IssuesDisabled(t *testing.T) {
	// WHAT: issues disabled fails before any write.
	f := newFakeGitHub(t)
	f.repo["has_issues"] = false

	_, err := newTestSubmitter(f).Submit(context.Background(), target, bug("x", testShot(t)))
	require.Error(t, err)
	assert.True(t, feedbackerrors.Is(err, feedbackerrors.KindIssuesDisabled))
	assert.Contains(t, err.Error(), "Settings → General → Features → Issues")
	assert.Equal(t, 0, f.count(http.MethodPut))
	assert.Equal(t, 0, f.count(http.MethodPost))
}

func TestSubmit_MissingHasIssuesMeansEnabled(t *testing.T) {
	f := newFakeGitHub(t)
	delete(f.repo, "has_issues")
	_, err := newTestSubmitter(f).Submit(context.Background(), target, bug("x", nil))
	require.NoError(t, err)
}

func TestSubmit_ScenarioC_UploadForbidden(t *testing.T) {
	// WHAT: a 403 on the screenshot commit still creates the issue, with a
	// note in place of the image.
	f := newFakeGitHub(t)
	f.dirs[".feedback-screenshots"] = true
	f.putStatus[".feedback-screenshots/feedback-"] = http.StatusForbidden

	res, err := newTestSubmitter(f).Submit(context.Background(), target, bug("it crashed", testShot(t)))
	require.NoError(t, err)

	require.Error(t, res.ScreenshotErr)
	fe := feedbackerrors.Wrap(res.ScreenshotErr)
	assert.Equal(t, feedbackerrors.KindScreenshotUploadFailed, fe.Kind)
	assert.Equal(t, 403, fe.APIStatus)
	assert.Equal(t, "Permission denied. Make sure your token has write access to the repository.", fe.Message)

	assert.Empty(t, res.ScreenshotURL)
	assert.Equal(t,
		"Type: BUG\n\nComment:\nit crashed\n\nScreenshot: Screenshot upload failed. Please describe the issue in detail.",
		f.lastIssue()["body"])
}

func TestSubmit_UploadClassification(t *testing.T) {
	cases := map[int]string{
		http.StatusConflict:            "File already exists. This is unexpected - please try again.",
		http.StatusUnprocessableEntity: "Validation failed: upstream says Unprocessable Entity. The file might be too large.",
		http.StatusInternalServerError: "Failed to upload screenshot (500): upstream says Internal Server Error",
	}
	for status, msg := range cases {
		f := newFakeGitHub(t)
		f.dirs[".feedback-screenshots"] = true
		f.putStatus[".feedback-screenshots/"] = status

		res, err := newTestSubmitter(f).Submit(context.Background(), target, bug("x", testShot(t)))
		require.NoError(t, err, "status %d", status)
		assert.Equal(t, msg, feedbackerrors.Wrap(res.ScreenshotErr).Message)
	}
}

func TestEnsureFolder_Idempotent(t *testing.T) {
	// WHAT: the placeholder is committed once; later submissions find the
	// folder and skip it.
	f := newFakeGitHub(t)
	s := newTestSubmitter(f)

	for i := 0; i < 3; i++ {
		_, err := s.Submit(context.Background(), target, bug("x", testShot(t)))
		require.NoError(t, err)
	}
	keeps := 0
	for _, r := range f.requests() {
		if r.Method == http.MethodPut && strings.HasSuffix(r.Path, "/.gitkeep") {
			keeps++
		}
	}
	assert.Equal(t, 1, keeps)
	assert.Equal(t, 3, f.count(http.MethodPost))
}

func TestEnsureFolder_FileConflict(t *testing.T) {
	f := newFakeGitHub(t)
	f.files[".feedback-screenshots"] = true

	res, err := newTestSubmitter(f).Submit(context.Background(), target, bug("x", testShot(t)))
	require.NoError(t, err)
	require.Error(t, res.ScreenshotErr)
	assert.ErrorIs(t, res.ScreenshotErr, ErrFolderIsFile)
	assert.Equal(t, 0, f.count(http.MethodPut))
	assert.Contains(t, f.lastIssue()["body"], "Screenshot upload failed")
}

func TestEnsureFolder_CreationFailureIsNotFatal(t *testing.T) {
	f := newFakeGitHub(t)
	f.putStatus[".feedback-screenshots/.gitkeep"] = http.StatusInternalServerError

	res, err := newTestSubmitter(f).Submit(context.Background(), target, bug("x", testShot(t)))
	require.NoError(t, err)
	assert.NoError(t, res.ScreenshotErr)
	assert.NotEmpty(t, res.ScreenshotURL)
}

func TestSubmit_RawURLFallbackAndMainBranch(t *testing.T) {
	f := newFakeGitHub(t)
	f.noDownloadURL = true
	delete(f.repo, "default_branch")

	res, err := newTestSubmitter(f).Submit(context.Background(),
		domain.RepositoryTarget{Token: "tok", Owner: "acme", Repo: "app", ScreenshotPath: "docs/shots"},
		bug("x", testShot(t)))
	require.NoError(t, err)
	assert.Equal(t, "https://raw.test/acme/app/main/docs/shots/feedback-1718000000000-k3j9x2a.jpg", res.ScreenshotURL)
	for _, r := range f.requests() {
		if r.Method == http.MethodPut {
			assert.Equal(t, "main", r.Body["branch"])
		}
	}
}

func TestSubmit_Attachments(t *testing.T) {
	f := newFakeGitHub(t)
	f.putStatus[".feedback-screenshots/attachments/feedback-1718000000000-02-"] = http.StatusForbidden

	sub := domain.NewSubmission(domain.TypeOther, "logs attached", nil, []domain.Attachment{
		{ID: "01", Name: "app log.txt", MIMEType: "text/plain", Data: []byte("boom")},
		{ID: "02", Name: "trace.pdf", MIMEType: "application/pdf", Data: []byte("%PDF")},
	})
	res, err := newTestSubmitter(f).Submit(context.Background(), target, sub)
	require.NoError(t, err)
	require.Len(t, res.Attachments, 2)
	assert.Contains(t, res.Stages, StageUploadAttachments)

	body := f.lastIssue()["body"].(string)
	assert.Contains(t, body, "\n\nAttachments:\n- [app log.txt](https://github.test/acme/app/blob/.feedback-screenshots/attachments/feedback-1718000000000-01-app_log.txt)")
	assert.Contains(t, body, "\n- trace.pdf (upload failed)")
}

func TestSubmit_AttachmentUploadsDisabled(t *testing.T) {
	f := newFakeGitHub(t)
	sub := domain.NewSubmission(domain.TypeOther, "x", nil, []domain.Attachment{{ID: "01", Name: "a.txt", Data: []byte("a")}})
	_, err := newTestSubmitter(f, WithAttachmentUploads(false)).Submit(context.Background(), target, sub)
	require.NoError(t, err)
	assert.Equal(t, 0, f.count(http.MethodPut))
	assert.Contains(t, f.lastIssue()["body"], "- a.txt (upload failed)")
}

func TestSubmit_LongCommentKeepsScreenshot(t *testing.T) {
	f := newFakeGitHub(t)
	res, err := newTestSubmitter(f).Submit(context.Background(), target, bug(strings.Repeat("x", 70000), testShot(t)))
	require.NoError(t, err)
	body := f.lastIssue()["body"].(string)
	assert.LessOrEqual(t, len(body), 65000)
	assert.Contains(t, body, "... (truncated due to size limit)")
	assert.True(t, strings.HasSuffix(body, "("+res.ScreenshotURL+")"))
}

func TestCreateIssue_Classification(t *testing.T) {
	cases := []struct {
		status      int
		remediation string
	}{
		{http.StatusNotFound, "does not exist or is not accessible"},
		{http.StatusUnauthorized, "Invalid or expired GitHub token"},
		{http.StatusUnprocessableEntity, "maximum is 65536 characters"},
		{http.StatusForbidden, "Rate limit exceeded"},
		{http.StatusInternalServerError, ""},
	}
	for _, c := range cases {
		f := newFakeGitHub(t)
		f.issueStatus = c.status

		_, err := newTestSubmitter(f).Submit(context.Background(), target, bug("x", nil))
		require.Error(t, err)
		fe := feedbackerrors.Wrap(err)
		assert.Equal(t, feedbackerrors.KindNetworkOrAPI, fe.Kind, "status %d", c.status)
		assert.Equal(t, c.status, fe.APIStatus)
		assert.Equal(t, string(StageCreateIssue), fe.Stage)
		assert.Contains(t, fe.Message, "GitHub API error (")
		if c.remediation == "" {
			assert.Empty(t, fe.Remediation)
		} else {
			assert.Contains(t, fe.Remediation, c.remediation)
		}
	}
}

func TestCreateIssue_TransportError(t *testing.T) {
	f := newFakeGitHub(t)
	s := newTestSubmitter(f)
	repo, err := s.VerifyAccess(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, "develop", repo.DefaultBranch)

	f.srv.Close()
	_, err = s.createIssue(context.Background(), target, domain.TypeBug, "body")
	require.Error(t, err)
	fe := feedbackerrors.Wrap(err)
	assert.Equal(t, feedbackerrors.KindNetworkOrAPI, fe.Kind)
	assert.Equal(t, 0, fe.APIStatus)
	assert.True(t, strings.HasPrefix(fe.Message, "Failed to create GitHub issue: "))
}

func TestClient_GetContents(t *testing.T) {
	f := newFakeGitHub(t)
	f.dirs["a"] = true
	f.files["b.txt"] = true
	c := f.client()

	dir, err := c.GetContents(context.Background(), target, "a")
	require.NoError(t, err)
	assert.True(t, dir.IsDir)
	assert.Len(t, dir.Entries, 1)

	file, err := c.GetContents(context.Background(), target, "b.txt")
	require.NoError(t, err)
	assert.False(t, file.IsDir)
	assert.Equal(t, "b.txt", file.File.Path)

	_, err = c.GetContents(context.Background(), target, "missing")
	assert.Equal(t, http.StatusNotFound, StatusOf(err))
}

func TestClient_RateLimited(t *testing.T) {
	f := newFakeGitHub(t)
	c := f.client(WithRateLimit(1000))
	for i := 0; i < 3; i++ {
		_, err := c.GetRepository(context.Background(), target)
		require.NoError(t, err)
	}
	assert.Len(t, f.requests(), 3)
}
