// Package examerr defines the error taxonomy shared by the session controller and
// the Remote Session API client.
package examerr

import (
	"errors"
	"fmt"

	"github.com/stemsi/exstem-client/internal/response"
)

// Sentinel errors raised locally by the controller. None of them reach the network.
var (
	// ErrTooSoon rejects a flush of the same question inside the minimum resubmit window.
	// Callers should treat it as silent: it is not a user-facing error.
	ErrTooSoon = errors.New("answer submitted too recently")
	// ErrTransitionInFlight rejects a navigation request while another is pending.
	ErrTransitionInFlight = errors.New("question transition already in flight")
	// ErrSubmissionInProgress rejects flushes and submits while a terminal submit runs.
	ErrSubmissionInProgress = errors.New("submission in progress")
	// ErrStaleSnapshot marks a server response that belongs to another session.
	ErrStaleSnapshot = errors.New("snapshot belongs to a different session")
	// ErrNoSession is returned when an operation needs a session that was never started.
	ErrNoSession = errors.New("no exam session")
	// ErrSessionClosed is returned for answer edits after the session was submitted.
	ErrSessionClosed = errors.New("exam session already submitted")
)

// ValidationError is a fail-fast input problem detected before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// Validation builds a ValidationError.
func Validation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// NetworkError wraps a transport failure (timeout, refused connection, undecodable reply).
// It is retryable; nothing retries it automatically.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Cause is the user-facing category of a server rejection.
type Cause string

const (
	CauseCredentials       Cause = "credentials"
	CauseSessionElsewhere  Cause = "session_elsewhere"
	CauseNotEnrolled       Cause = "not_enrolled"
	CauseExamNotFound      Cause = "exam_not_found"
	CausePasswordIncorrect Cause = "password_incorrect"
	CauseTimeExpired       Cause = "time_expired"
	CauseSessionClosed     Cause = "session_closed"
	CauseUnknown           Cause = "unknown"
)

// Rejection is a server 4xx/5xx answer carrying an error code.
type Rejection struct {
	Op      string
	Status  int
	Code    response.ErrCode
	Cause   Cause
	Message string
}

func (e *Rejection) Error() string {
	return fmt.Sprintf("%s: rejected (%d %s): %s", e.Op, e.Status, e.Code, e.Message)
}

// Retryable reports whether repeating the same request could succeed.
func (e *Rejection) Retryable() bool {
	return e.Status >= 500 || e.Code == response.ErrRateLimitExceeded
}

// Reject builds a Rejection and categorizes its code.
func Reject(op string, status int, code response.ErrCode, message string) *Rejection {
	return &Rejection{Op: op, Status: status, Code: code, Cause: CauseFromCode(code), Message: message}
}

// CauseFromCode maps a server error code to a user-facing cause.
func CauseFromCode(code response.ErrCode) Cause {
	switch code {
	case response.ErrInvalidCredentials, response.ErrTokenRequired, response.ErrTokenInvalid,
		response.ErrTokenExpired, response.ErrSessionInvalidated:
		return CauseCredentials
	case response.ErrSessionActive:
		return CauseSessionElsewhere
	case response.ErrNotEnrolled, response.ErrForbidden, response.ErrStudentAccessOnly:
		return CauseNotEnrolled
	case response.ErrExamNotFound, response.ErrExamNotAvailable, response.ErrExamNotPublished:
		return CauseExamNotFound
	case response.ErrInvalidEntryToken:
		return CausePasswordIncorrect
	case response.ErrTimeExpired:
		return CauseTimeExpired
	case response.ErrSessionSubmitted:
		return CauseSessionClosed
	default:
		return CauseUnknown
	}
}

// IsRetryable reports whether err is a transient condition the caller may retry.
func IsRetryable(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Retryable()
	}
	return false
}

// CauseOf extracts the rejection cause from err, or CauseUnknown.
func CauseOf(err error) Cause {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Cause
	}
	return CauseUnknown
}

// IsSilent reports whether err should not be shown to the student.
func IsSilent(err error) bool {
	return errors.Is(err, ErrTooSoon)
}
