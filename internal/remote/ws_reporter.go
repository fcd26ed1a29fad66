package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/examerr"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/response"
	ws "github.com/stemsi/exstem-client/internal/websocket"
)

// TokenSource supplies the current student token.
type TokenSource interface {
	Token() string
}

// WSReporter reports focus loss over the session stream instead of plain HTTP.
// It keeps one connection per session and redials after any failure.
type WSReporter struct {
	baseURL string
	tokens  TokenSource
	dialer  *websocket.Dialer
	log     zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
}

// NewWSReporter creates a reporter for the stream rooted at baseURL (e.g. ws://localhost:8080/ws/v1).
func NewWSReporter(baseURL string, tokens TokenSource, log zerolog.Logger) *WSReporter {
	return &WSReporter{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:     log.With().Str("component", "ws_reporter").Logger(),
	}
}

// ReportFocusLoss sends one cheat action and waits for the server's acknowledgement.
// Calls are serialized over the shared connection.
func (r *WSReporter) ReportFocusLoss(ctx context.Context, sessionID string) (*model.FocusLossReport, error) {
	const op = "report focus loss"
	if sessionID == "" {
		return nil, examerr.Validation("session_id", "is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.connect(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	wait := 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}

	if err := ws.WriteTyped(conn, ws.CheatRequest{Action: ws.ActionCheat, Payload: "visibility_hidden"}); err != nil {
		r.dropLocked()
		return nil, &examerr.NetworkError{Op: op, Err: err}
	}

	for {
		raw, err := ws.ReadRaw(conn, wait)
		if err != nil {
			r.dropLocked()
			return nil, &examerr.NetworkError{Op: op, Err: err}
		}

		var env ws.ResponseEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			r.dropLocked()
			return nil, &examerr.NetworkError{Op: op, Err: fmt.Errorf("decode event: %w", err)}
		}

		switch env.Event {
		case ws.EventFocusLoss:
			var ack ws.FocusLossResponse
			if err := json.Unmarshal(raw, &ack); err != nil {
				return nil, &examerr.NetworkError{Op: op, Err: fmt.Errorf("decode ack: %w", err)}
			}
			if ack.SessionID == "" {
				ack.SessionID = sessionID
			}
			return &model.FocusLossReport{SessionID: ack.SessionID, FocusLossCount: ack.FocusLossCount}, nil
		case ws.EventError:
			r.dropLocked()
			return nil, examerr.Reject(op, 0, response.ErrCode(env.Error), env.Error)
		default:
			// Pongs and other events are not ours to handle.
			r.log.Debug().Str("event", string(env.Event)).Msg("Skipping stream event")
		}
	}
}

// Close closes the stream, if open.
func (r *WSReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := r.conn.Close()
	r.conn = nil
	return err
}

func (r *WSReporter) connect(ctx context.Context, sessionID string) (*websocket.Conn, error) {
	if r.conn != nil && r.sessionID == sessionID {
		return r.conn, nil
	}
	r.dropLocked()

	token := r.tokens.Token()
	if token == "" {
		return nil, examerr.Reject("report focus loss", http.StatusUnauthorized, response.ErrTokenRequired, response.GetMessage(response.ErrTokenRequired))
	}

	target := r.baseURL + "/student/sessions/" + url.PathEscape(sessionID) + "/stream?token=" + url.QueryEscape(token)
	conn, resp, err := r.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			code, msg := response.ErrInternal, resp.Status
			var env response.Envelope
			if resp.Body != nil && json.NewDecoder(resp.Body).Decode(&env) == nil && env.Error != nil {
				code, msg = env.Error.Code, env.Error.Message
			}
			return nil, examerr.Reject("report focus loss", resp.StatusCode, code, msg)
		}
		return nil, &examerr.NetworkError{Op: "report focus loss", Err: err}
	}

	r.log.Debug().Str("session_id", sessionID).Msg("Stream connected")
	r.conn = conn
	r.sessionID = sessionID
	return conn, nil
}

func (r *WSReporter) dropLocked() {
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	r.sessionID = ""
}
