package session

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/examerr"
	"github.com/stemsi/exstem-client/internal/model"
)

// AnswerSource supplies the local answer view used to derive question states.
type AnswerSource interface {
	// SeedConfirmed records text the server reports as the saved answer of a question.
	SeedConfirmed(questionID, text string)
	// Answered reports whether the question currently holds a non-empty answer.
	Answered(questionID string) bool
}

// ApplyListener is notified after a snapshot was merged, outside the store lock.
type ApplyListener func(snap model.Snapshot)

// StateStore is the single owner of the ExamSession aggregate. Every change to the
// session, the question list or the question states goes through ApplySnapshot.
type StateStore struct {
	mu        sync.RWMutex
	session   model.ExamSession
	questions []*model.Question // sparse: nil until fetched
	states    []model.QuestionState
	lastQ     bool
	flags     map[int]bool // local review flag overrides, by index
	confirmed map[int]bool // `answered` as last reported by the server, by index

	answers   AnswerSource
	listeners []ApplyListener
	log       zerolog.Logger
}

// NewStateStore returns an empty store in NOT_STARTED.
func NewStateStore(log zerolog.Logger) *StateStore {
	return &StateStore{
		session:   model.ExamSession{Status: model.SessionStatusNotStarted},
		flags:     make(map[int]bool),
		confirmed: make(map[int]bool),
		log:       log.With().Str("component", "state_store").Logger(),
	}
}

// SetAnswerSource wires the answer cache used to derive `answered`.
func (s *StateStore) SetAnswerSource(src AnswerSource) {
	s.mu.Lock()
	s.answers = src
	s.mu.Unlock()
}

// OnApply registers a listener.
func (s *StateStore) OnApply(fn ApplyListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Reset drops all session state and pins the store to sessionID, so snapshots of any
// other session are rejected from here on. Listeners and the answer source stay
// registered.
func (s *StateStore) Reset(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = model.ExamSession{ID: sessionID, Status: model.SessionStatusNotStarted}
	s.questions = nil
	s.states = nil
	s.lastQ = false
	s.flags = make(map[int]bool)
	s.confirmed = make(map[int]bool)
}

// ApplySnapshot merges a server snapshot into local state:
//   - the question list grows to total_questions with placeholders
//   - the returned question is slotted at current_index
//   - question states are replaced wholesale when the server sends them, derived otherwise
//   - status only moves forward; COMPLETED_LOCAL is recomputed after every merge
//
// A snapshot naming a different session than the one held is rejected with ErrStaleSnapshot.
func (s *StateStore) ApplySnapshot(snap *model.Snapshot) error {
	if snap == nil {
		return nil
	}

	s.mu.Lock()
	if snap.SessionID != "" && s.session.ID != "" && snap.SessionID != s.session.ID {
		held := s.session.ID
		s.mu.Unlock()
		s.log.Warn().Str("session_id", snap.SessionID).Str("held", held).Msg("Discarding stale snapshot")
		return examerr.ErrStaleSnapshot
	}
	s.merge(snap)
	listeners := append([]ApplyListener(nil), s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(*snap)
	}
	return nil
}

// merge applies snap. Callers hold s.mu.
func (s *StateStore) merge(snap *model.Snapshot) {
	if s.session.ID == "" {
		s.session.ID = snap.SessionID
	}
	if snap.ExamID != "" {
		s.session.ExamID = snap.ExamID
	}
	if snap.StudentID != "" {
		s.session.StudentID = snap.StudentID
	}
	if snap.TotalQuestions != nil && *snap.TotalQuestions >= 0 {
		s.session.TotalQuestions = *snap.TotalQuestions
	}
	if snap.CurrentIndex != nil {
		s.session.CurrentIndex = clampIndex(*snap.CurrentIndex, s.session.TotalQuestions)
	}
	if snap.Status != "" && s.session.Status.Advances(snap.Status) {
		s.session.Status = snap.Status
	}
	if snap.RemainingSeconds != nil {
		v := *snap.RemainingSeconds
		if v < 0 {
			v = 0
		}
		s.session.TimeRemainingSeconds = &v
	}
	if snap.FocusLossCount != nil {
		s.session.FocusLossCount = *snap.FocusLossCount
	}

	s.grow(s.session.TotalQuestions)

	if snap.Question != nil {
		idx := s.session.CurrentIndex
		s.grow(idx + 1)
		q := *snap.Question
		q.Index = idx
		s.questions[idx] = &q
		s.lastQ = snap.IsLastQuestion
		if snap.Answer != nil && s.answers != nil {
			s.answers.SeedConfirmed(q.ID, *snap.Answer)
		}
	}

	if len(snap.QuestionStates) > 0 {
		states := append([]model.QuestionState(nil), snap.QuestionStates...)
		sort.SliceStable(states, func(i, j int) bool { return states[i].Index < states[j].Index })
		s.states = states
		s.confirmed = make(map[int]bool, len(states))
		for _, st := range states {
			s.confirmed[st.Index] = st.Answered
		}
		s.grow(s.session.TotalQuestions)
	} else {
		s.derive()
	}

	s.recomputeCompletion()
}

// grow extends questions and states to n entries.
func (s *StateStore) grow(n int) {
	for len(s.questions) < n {
		s.questions = append(s.questions, nil)
	}
	for len(s.states) < n {
		s.states = append(s.states, model.QuestionState{Index: len(s.states)})
	}
}

// derive fills states of fetched questions from the answer source. A question the
// server reported as answered stays answered; local text can only add to that.
// Placeholders keep whatever the server last said about them.
func (s *StateStore) derive() {
	for i, q := range s.questions {
		if q == nil || i >= len(s.states) {
			continue
		}
		st := &s.states[i]
		st.QuestionID = q.ID
		st.Index = i
		local := s.answers != nil && s.answers.Answered(q.ID)
		st.Answered = s.confirmed[i] || local
	}
}

// Confirm records that the server accepted text for questionID. Blank text clears the
// confirmation. The states are re-derived on the next merge or Refresh.
func (s *StateStore) Confirm(questionID string, answered bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, q := range s.questions {
		if q != nil && q.ID == questionID {
			s.confirmed[i] = answered
			return
		}
	}
}

func (s *StateStore) recomputeCompletion() {
	if s.session.Status != model.SessionStatusActive || s.session.TotalQuestions <= 0 {
		return
	}
	if len(s.states) < s.session.TotalQuestions {
		return
	}
	for _, st := range s.states[:s.session.TotalQuestions] {
		if !st.Answered {
			return
		}
	}
	s.session.Status = model.SessionStatusCompletedLocal
	s.log.Info().Str("session_id", s.session.ID).Msg("All questions answered")
}

// Refresh re-derives question states after a local answer edit.
func (s *StateStore) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.derive()
	s.recomputeCompletion()
}

// ToggleReviewFlag flips the local review flag of the question at index.
func (s *StateStore) ToggleReviewFlag(index int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.ID == "" {
		return false, examerr.ErrNoSession
	}
	if index < 0 || index >= s.session.TotalQuestions {
		return false, examerr.Validation("index", "is out of range")
	}
	current, ok := s.flags[index]
	if !ok && index < len(s.states) {
		current = s.states[index].ReviewFlag
	}
	s.flags[index] = !current
	return !current, nil
}

// Session returns a copy of the aggregate.
func (s *StateStore) Session() model.ExamSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.session
	if s.session.TimeRemainingSeconds != nil {
		v := *s.session.TimeRemainingSeconds
		out.TimeRemainingSeconds = &v
	}
	return out
}

// Question returns the fetched question at index.
func (s *StateStore) Question(index int) (*model.Question, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.questions) || s.questions[index] == nil {
		return nil, false
	}
	q := *s.questions[index]
	return &q, true
}

// CurrentQuestion returns the question at the current index, if fetched.
func (s *StateStore) CurrentQuestion() (*model.Question, bool) {
	return s.Question(s.Session().CurrentIndex)
}

// QuestionByID looks a fetched question up by id.
func (s *StateStore) QuestionByID(id string) (*model.Question, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, q := range s.questions {
		if q != nil && q.ID == id {
			c := *q
			return &c, true
		}
	}
	return nil, false
}

// States returns the question states with local review flags layered on top.
func (s *StateStore) States() []model.QuestionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]model.QuestionState(nil), s.states...)
	for i := range out {
		if flag, ok := s.flags[out[i].Index]; ok {
			out[i].ReviewFlag = flag
		}
	}
	return out
}

// IsLastQuestion reports the server's last-question flag for the current question.
func (s *StateStore) IsLastQuestion() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastQ
}

func clampIndex(i, total int) int {
	if i < 0 {
		return 0
	}
	if total > 0 && i >= total {
		return total - 1
	}
	return i
}
