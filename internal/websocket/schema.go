// Package websocket holds the message schema shared by the sandbox's session
// stream and the exam client's focus-loss reporter.
package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing  Action = "ping"
	ActionCheat Action = "cheat"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// CheatRequest reports that the exam tab lost visibility or focus.
type CheatRequest struct {
	Action  Action `json:"action"`
	Payload string `json:"payload,omitempty"` // Free-form detail, stored as-is
}

// PingRequest keeps the stream alive.
type PingRequest struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventFocusLoss Event = "focus_loss_recorded"
	EventPong      Event = "pong"
)

// ResponseEnvelope is used to peek at the event before full parsing.
type ResponseEnvelope struct {
	Event Event  `json:"event"`
	Error string `json:"error,omitempty"`
}

type FocusLossResponse struct {
	Event          Event  `json:"event"`
	SessionID      string `json:"session_id"`
	FocusLossCount int    `json:"focus_loss_count"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
