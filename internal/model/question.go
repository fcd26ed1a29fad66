package model

// QuestionType enumerates how a question is answered.
type QuestionType string

const (
	QuestionTypeSingleChoice   QuestionType = "SINGLE_CHOICE"
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeEssay          QuestionType = "ESSAY"
)

// Option is a selectable answer of a choice question.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Question is a single exam question as delivered to the student.
// It is immutable once fetched.
type Question struct {
	ID       string       `json:"id"`
	Index    int          `json:"index"`
	Type     QuestionType `json:"type"`
	Prompt   string       `json:"prompt"`
	ImageURL string       `json:"image_url,omitempty"`
	Options  []Option     `json:"options"`
}

// Option looks up an option by id.
func (q *Question) Option(optionID string) (Option, bool) {
	for _, o := range q.Options {
		if o.ID == optionID {
			return o, true
		}
	}
	return Option{}, false
}

// QuestionState is the per-question progress marker shown in the navigation grid.
type QuestionState struct {
	QuestionID string `json:"question_id"`
	Index      int    `json:"index"`
	Answered   bool   `json:"answered"`
	ReviewFlag bool   `json:"review_flag"`
}

// SubmitAnswerRequest is the payload for saving one answer.
type SubmitAnswerRequest struct {
	QuestionID   string `json:"question_id" binding:"required,max=64" validate:"required,max=64"`
	Answer       string `json:"answer" binding:"max=10000" validate:"max=10000"`
	CurrentIndex int    `json:"current_index" binding:"min=0" validate:"min=0"`
}
