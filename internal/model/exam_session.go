package model

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusNotStarted     SessionStatus = "NOT_STARTED"
	SessionStatusActive         SessionStatus = "ACTIVE"
	SessionStatusCompletedLocal SessionStatus = "COMPLETED_LOCAL"
	SessionStatusSubmitted      SessionStatus = "SUBMITTED"
)

// rank orders statuses so transitions can only move forward.
func (s SessionStatus) rank() int {
	switch s {
	case SessionStatusActive:
		return 1
	case SessionStatusCompletedLocal:
		return 2
	case SessionStatusSubmitted:
		return 3
	default:
		return 0
	}
}

// Advances reports whether moving from s to next is a forward transition.
func (s SessionStatus) Advances(next SessionStatus) bool {
	return next.rank() > s.rank()
}

// Terminal reports whether no further transition is possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusSubmitted
}

// Finished reports whether the student is done answering (locally or on the server).
func (s SessionStatus) Finished() bool {
	return s == SessionStatusCompletedLocal || s == SessionStatusSubmitted
}

// ExamSession represents a student's attempt at one exam as tracked by the server.
type ExamSession struct {
	ID                   string        `json:"id"`
	ExamID               string        `json:"exam_id"`
	StudentID            string        `json:"student_id"`
	CurrentIndex         int           `json:"current_index"`
	TotalQuestions       int           `json:"total_questions"`
	Status               SessionStatus `json:"status"`
	TimeRemainingSeconds *int          `json:"time_remaining_seconds,omitempty"`
	FocusLossCount       int           `json:"focus_loss_count"`
}

// LastIndex returns the index of the final question, or -1 when the size is unknown.
func (s ExamSession) LastIndex() int {
	return s.TotalQuestions - 1
}

// StartSessionRequest is the payload for starting (or resuming) an exam session.
type StartSessionRequest struct {
	ExamID   string `json:"-" validate:"required,max=64"`
	Password string `json:"password" binding:"required,min=1,max=64" validate:"required,max=64"`
}
