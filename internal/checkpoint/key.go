package checkpoint

import (
	"fmt"
	"net/url"
)

// Kind names what a checkpoint entry holds.
type Kind string

const (
	KindCurrentSession Kind = "current_session"
	KindCurrentIndex   Kind = "current_index"
	KindTimer          Kind = "timer"
	KindSubmitting     Kind = "submitting"
	KindLastAnswer     Kind = "last_answer"
	KindFlushStamp     Kind = "flush_stamp"
)

// Key is a structured checkpoint key. Scope fields that do not apply to a Kind stay empty:
// KindCurrentSession is global, session-scoped kinds set SessionID, and per-question
// kinds set both SessionID and QuestionID.
type Key struct {
	Kind       Kind
	SessionID  string
	QuestionID string
}

// CurrentSessionKey addresses the id of the session the client last worked on.
func CurrentSessionKey() Key {
	return Key{Kind: KindCurrentSession}
}

// CurrentIndexKey addresses the last confirmed question index of a session.
func CurrentIndexKey(sessionID string) Key {
	return Key{Kind: KindCurrentIndex, SessionID: sessionID}
}

// TimerKey addresses the timer checkpoint of a session.
func TimerKey(sessionID string) Key {
	return Key{Kind: KindTimer, SessionID: sessionID}
}

// SubmittingKey addresses the "terminal submit in progress" marker of a session.
func SubmittingKey(sessionID string) Key {
	return Key{Kind: KindSubmitting, SessionID: sessionID}
}

// LastAnswerKey addresses the last answer text the server accepted for a question.
func LastAnswerKey(sessionID, questionID string) Key {
	return Key{Kind: KindLastAnswer, SessionID: sessionID, QuestionID: questionID}
}

// FlushStampKey addresses the de-duplication timestamp of a question's last flush.
func FlushStampKey(sessionID, questionID string) Key {
	return Key{Kind: KindFlushStamp, SessionID: sessionID, QuestionID: questionID}
}

// keyPrefix namespaces every checkpoint key in shared key-value stores.
const keyPrefix = "exstem:checkpoint"

// String renders the key for flat key-value stores. Components are escaped so an id
// containing the separator cannot collide with another key.
func (k Key) String() string {
	switch {
	case k.SessionID == "":
		return fmt.Sprintf("%s:%s", keyPrefix, k.Kind)
	case k.QuestionID == "":
		return fmt.Sprintf("%s:session:%s:%s", keyPrefix, url.PathEscape(k.SessionID), k.Kind)
	default:
		return fmt.Sprintf("%s:session:%s:question:%s:%s",
			keyPrefix, url.PathEscape(k.SessionID), url.PathEscape(k.QuestionID), k.Kind)
	}
}

// sessionPattern matches every flat key scoped to sessionID.
func sessionPattern(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:*", keyPrefix, url.PathEscape(sessionID))
}
