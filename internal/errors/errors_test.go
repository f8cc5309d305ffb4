package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestFeedbackError_Error(t *testing.T) {
	err := &FeedbackError{Kind: KindIssuesDisabled, Message: "issues are disabled"}
	if got := err.Error(); got != "ISSUES_DISABLED: issues are disabled" {
		t.Errorf("Error() = %q", got)
	}

	err.Remediation = "Enable Issues in Settings"
	if !strings.HasSuffix(err.Error(), "\n\nEnable Issues in Settings") {
		t.Errorf("Error() should end with remediation, got %q", err.Error())
	}
}

func TestConstructors_Status(t *testing.T) {
	tests := []struct {
		err    *FeedbackError
		kind   Kind
		status int
	}{
		{NewConfigurationInvalid("token missing"), KindConfigurationInvalid, 400},
		{NewRepositoryNotAccessible("o/r", 404, "not found", ""), KindRepositoryNotAccessible, 502},
		{NewIssuesDisabled("o/r", ""), KindIssuesDisabled, 409},
		{NewScreenshotUploadFailed(403, "denied", nil), KindScreenshotUploadFailed, 502},
		{NewBodyTooLarge(65536, 70000), KindBodyTooLarge, 413},
		{NewNetworkOrAPI(401, "bad token", "", nil), KindNetworkOrAPI, 502},
		{NewAttachmentRejected(415, "a.exe", "type"), KindAttachmentRejected, 415},
		{NewCaptureFailed("chrome crashed", nil), KindCaptureFailed, 502},
		{NewInvalidRequest("comment is required"), KindInvalidRequest, 400},
		{NewSubmissionInFlight(), KindSubmissionInFlight, 409},
		{NewNotFound("session", "x"), KindNotFound, 404},
	}
	for _, tt := range tests {
		if tt.err.Kind != tt.kind {
			t.Errorf("Kind = %q, want %q", tt.err.Kind, tt.kind)
		}
		if tt.err.Status != tt.status {
			t.Errorf("%s: Status = %d, want %d", tt.kind, tt.err.Status, tt.status)
		}
	}
}

func TestIs_ThroughWrapping(t *testing.T) {
	base := NewIssuesDisabled("o/r", "")
	wrapped := fmt.Errorf("submit: %w", base)

	if !Is(wrapped, KindIssuesDisabled) {
		t.Error("Is should see through fmt.Errorf wrapping")
	}
	if Is(wrapped, KindBodyTooLarge) {
		t.Error("Is matched the wrong kind")
	}
	if Is(stderrors.New("plain"), KindUnknown) {
		t.Error("plain errors are not FeedbackErrors")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil) != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
	plain := stderrors.New("boom")
	fe := Wrap(plain)
	if fe.Kind != KindUnknown || fe.Status != 500 {
		t.Fatalf("Wrap(plain) = %+v", fe)
	}
	if !stderrors.Is(fe, plain) {
		t.Fatal("Wrap should keep the cause")
	}

	typed := NewInvalidRequest("x")
	if Wrap(fmt.Errorf("ctx: %w", typed)) != typed {
		t.Fatal("Wrap should return the existing FeedbackError")
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(NewSubmissionInFlight()) != KindSubmissionInFlight {
		t.Fatal("KindOf typed")
	}
	if KindOf(stderrors.New("x")) != KindUnknown {
		t.Fatal("KindOf plain")
	}
}

func TestWithStage(t *testing.T) {
	err := NewIssuesDisabled("o/r", "").WithStage("verify_access")
	if err.Stage != "verify_access" {
		t.Fatalf("Stage = %q", err.Stage)
	}
}
