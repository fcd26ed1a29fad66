package model

// Snapshot is a canonical server view of a session. Every Remote Session API response
// that describes session state decodes into it; absent fields leave local state as is.
type Snapshot struct {
	SessionID        string          `json:"session_id"`
	ExamID           string          `json:"exam_id,omitempty"`
	StudentID        string          `json:"student_id,omitempty"`
	Status           SessionStatus   `json:"status,omitempty"`
	CurrentIndex     *int            `json:"current_index,omitempty"`
	TotalQuestions   *int            `json:"total_questions,omitempty"`
	RemainingSeconds *int            `json:"remaining_seconds,omitempty"`
	Question         *Question       `json:"question,omitempty"`
	Answer           *string         `json:"answer,omitempty"`
	QuestionStates   []QuestionState `json:"question_states,omitempty"`
	IsLastQuestion   bool            `json:"is_last_question,omitempty"`
	FocusLossCount   *int            `json:"focus_loss_count,omitempty"`
}

// FocusLossReport is the response of report-focus-loss.
type FocusLossReport struct {
	SessionID      string `json:"session_id"`
	FocusLossCount int    `json:"focus_loss_count"`
}

// IntPtr returns a pointer to v. Convenience for building partial snapshots.
func IntPtr(v int) *int {
	return &v
}

// StringPtr returns a pointer to v.
func StringPtr(v string) *string {
	return &v
}
