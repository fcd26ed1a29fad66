package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/middleware"
	"github.com/stemsi/exstem-client/internal/response"
	"github.com/stemsi/exstem-client/internal/service"
	ws "github.com/stemsi/exstem-client/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler handles the per-session WebSocket stream.
type WSHandler struct {
	sessionService *service.ExamSessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.ExamSessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/student/sessions/:session_id/stream
// Upgrades to WebSocket for focus-loss ("cheat") reports and keepalive pings.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessionID := c.Param("session_id")
	studentID := claims.UserID

	// SECURITY: Validate the student owns an active session before upgrading.
	if err := h.sessionService.VerifyActiveSession(c.Request.Context(), sessionID, studentID); err != nil {
		status, code := sessionErrCode(err)
		response.Fail(c, status, code)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("session_id", sessionID).
		Logger()

	wsLog.Info().Msg("Student connected")

	for {
		var raw json.RawMessage
		if err := ws.ReadJSON(conn, &raw); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			ws.WriteError(conn, string(response.ErrInvalidPayload))
			continue
		}

		switch env.Action {
		case ws.ActionCheat:
			h.handleCheat(c, conn, wsLog, sessionID, studentID, raw)
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			ws.WriteError(conn, string(response.ErrInvalidPayload))
		}
	}
}

// handleCheat records a focus-loss event and acknowledges it with the new count.
func (h *WSHandler) handleCheat(c *gin.Context, conn *websocket.Conn, wsLog zerolog.Logger, sessionID string, studentID int, raw json.RawMessage) {
	var req ws.CheatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		ws.WriteError(conn, string(response.ErrInvalidPayload))
		return
	}

	count, err := h.sessionService.RecordFocusLoss(c.Request.Context(), sessionID, studentID)
	if err != nil {
		_, code := sessionErrCode(err)
		if !errors.Is(err, service.ErrSessionSubmitted) {
			wsLog.Error().Err(err).Msg("Record focus loss failed")
		}
		ws.WriteError(conn, string(code))
		return
	}

	wsLog.Debug().Str("payload", req.Payload).Int("count", count).Msg("Cheat event")
	ws.WriteTyped(conn, ws.FocusLossResponse{
		Event:          ws.EventFocusLoss,
		SessionID:      sessionID,
		FocusLossCount: count,
	})
}
