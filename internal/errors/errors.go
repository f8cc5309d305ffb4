// Package errors defines the feedback error taxonomy shared by the capture,
// attachment and submission layers, and its mapping to HTTP statuses.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a feedback failure.
type Kind string

const (
	KindConfigurationInvalid    Kind = "CONFIGURATION_INVALID"     // 400
	KindRepositoryNotAccessible Kind = "REPOSITORY_NOT_ACCESSIBLE" // 502
	KindIssuesDisabled          Kind = "ISSUES_DISABLED"           // 409
	KindScreenshotUploadFailed  Kind = "SCREENSHOT_UPLOAD_FAILED"  // 502, degrades
	KindBodyTooLarge            Kind = "BODY_TOO_LARGE"            // 413
	KindNetworkOrAPI            Kind = "NETWORK_OR_API"            // 502
	KindAttachmentRejected      Kind = "ATTACHMENT_REJECTED"       // 413 / 415
	KindCaptureFailed           Kind = "CAPTURE_FAILED"            // 502
	KindInvalidRequest          Kind = "INVALID_REQUEST"           // 400
	KindSubmissionInFlight      Kind = "SUBMISSION_IN_FLIGHT"      // 409
	KindNotFound                Kind = "NOT_FOUND"                 // 404
	KindUnknown                 Kind = "UNKNOWN"                   // 500
)

// FeedbackError is a classified failure. Status is the HTTP status the widget
// answers with; APIStatus is the upstream GitHub status when there was one.
type FeedbackError struct {
	Kind        Kind
	Status      int
	APIStatus   int
	Message     string
	Remediation string
	Stage       string
	Details     map[string]any
	Cause       error
}

// Error implements the error interface.
func (e *FeedbackError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Remediation != "" {
		msg += "\n\n" + e.Remediation
	}
	return msg
}

func (e *FeedbackError) Unwrap() error { return e.Cause }

// WithStage records the protocol stage that failed and returns e.
func (e *FeedbackError) WithStage(stage string) *FeedbackError {
	e.Stage = stage
	return e
}

// NewConfigurationInvalid creates a 400 error for missing or malformed configuration.
func NewConfigurationInvalid(msg string) *FeedbackError {
	return &FeedbackError{Kind: KindConfigurationInvalid, Status: 400, Message: msg}
}

// NewRepositoryNotAccessible creates an error for a repository the token cannot read.
func NewRepositoryNotAccessible(repo string, apiStatus int, msg, remediation string) *FeedbackError {
	return &FeedbackError{
		Kind:        KindRepositoryNotAccessible,
		Status:      502,
		APIStatus:   apiStatus,
		Message:     msg,
		Remediation: remediation,
		Details:     map[string]any{"repository": repo},
	}
}

// NewIssuesDisabled creates a 409 error for a repository with issues turned off.
func NewIssuesDisabled(repo, remediation string) *FeedbackError {
	return &FeedbackError{
		Kind:        KindIssuesDisabled,
		Status:      409,
		Message:     fmt.Sprintf("issues are disabled for repository %q", repo),
		Remediation: remediation,
		Details:     map[string]any{"repository": repo},
	}
}

// NewScreenshotUploadFailed creates the non-fatal screenshot upload error.
func NewScreenshotUploadFailed(apiStatus int, msg string, cause error) *FeedbackError {
	return &FeedbackError{
		Kind:      KindScreenshotUploadFailed,
		Status:    502,
		APIStatus: apiStatus,
		Message:   msg,
		Cause:     cause,
	}
}

// NewBodyTooLarge creates a 413 error when an issue body exceeds the hard limit.
func NewBodyTooLarge(max, actual int) *FeedbackError {
	return &FeedbackError{
		Kind:    KindBodyTooLarge,
		Status:  413,
		Message: fmt.Sprintf("issue body is %d characters, exceeds limit of %d", actual, max),
		Details: map[string]any{"max_chars": max, "actual_chars": actual},
	}
}

// NewNetworkOrAPI creates an error for a failed GitHub call. apiStatus is 0
// when the request never got a response.
func NewNetworkOrAPI(apiStatus int, msg, remediation string, cause error) *FeedbackError {
	return &FeedbackError{
		Kind:        KindNetworkOrAPI,
		Status:      502,
		APIStatus:   apiStatus,
		Message:     msg,
		Remediation: remediation,
		Cause:       cause,
	}
}

// NewAttachmentRejected creates an error for a file refused by the upload limits.
func NewAttachmentRejected(status int, name, msg string) *FeedbackError {
	return &FeedbackError{
		Kind:    KindAttachmentRejected,
		Status:  status,
		Message: msg,
		Details: map[string]any{"file": name},
	}
}

// NewCaptureFailed creates a 502 error for a page that could not be rendered.
func NewCaptureFailed(msg string, cause error) *FeedbackError {
	return &FeedbackError{Kind: KindCaptureFailed, Status: 502, Message: msg, Cause: cause}
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *FeedbackError {
	return &FeedbackError{Kind: KindInvalidRequest, Status: 400, Message: msg}
}

// NewSubmissionInFlight creates a 409 error for a second concurrent submit.
func NewSubmissionInFlight() *FeedbackError {
	return &FeedbackError{
		Kind:    KindSubmissionInFlight,
		Status:  409,
		Message: "a submission is already in progress",
	}
}

// NewNotFound creates a 404 error for an unknown session or file.
func NewNotFound(what, id string) *FeedbackError {
	return &FeedbackError{
		Kind:    KindNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", what, id),
		Details: map[string]any{"id": id},
	}
}

// Wrap classifies err. FeedbackErrors pass through; anything else becomes UNKNOWN.
func Wrap(err error) *FeedbackError {
	if err == nil {
		return nil
	}
	var fe *FeedbackError
	if stderrors.As(err, &fe) {
		return fe
	}
	return &FeedbackError{Kind: KindUnknown, Status: 500, Message: err.Error(), Cause: err}
}

// Is reports whether err, or anything it wraps, is a FeedbackError of kind.
func Is(err error, kind Kind) bool {
	var fe *FeedbackError
	if stderrors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var fe *FeedbackError
	if stderrors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}
