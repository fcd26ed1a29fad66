// Package remote implements the Remote Session API over HTTP (and a websocket stream for
// focus-loss reports), speaking the exstem `{data, error, metadata}` envelope.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/config"
	"github.com/stemsi/exstem-client/internal/examerr"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/response"
	"github.com/stemsi/exstem-client/internal/validator"
)

// Client talks to the exam server on behalf of one student.
type Client struct {
	baseURL string
	hc      *http.Client
	now     func() time.Time
	log     zerolog.Logger

	mu    sync.RWMutex
	token string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithToken sets the student bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithClock replaces the clock used for the local token expiry check.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a client for the API rooted at baseURL (e.g. http://localhost:8050/api/v1).
func New(baseURL string, timeout time.Duration, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: timeout},
		now:     time.Now,
		log:     log.With().Str("component", "remote").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig creates a client from the client configuration.
func NewFromConfig(cfg *config.Config, log zerolog.Logger) *Client {
	return New(cfg.APIBaseURL, cfg.HTTPTimeout, log, WithToken(cfg.StudentToken))
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login exchanges student credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, nisn, password string) (*model.StudentLoginResponse, error) {
	req := model.StudentLoginRequest{NISN: nisn, Password: password}
	if err := validator.Check(&req); err != nil {
		return nil, err
	}

	var out model.StudentLoginResponse
	if err := c.call(ctx, "login", http.MethodPost, "/auth/student/login", req, false, &out); err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

// Logout releases the student's login so another device may sign in.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.call(ctx, "logout", http.MethodPost, "/auth/student/logout", nil, true, nil); err != nil {
		return err
	}
	c.SetToken("")
	return nil
}

func (c *Client) StartSession(ctx context.Context, examID, password string) (*model.Snapshot, error) {
	req := model.StartSessionRequest{ExamID: examID, Password: password}
	if err := validator.Check(&req); err != nil {
		return nil, err
	}
	var snap model.Snapshot
	path := "/student/exams/" + url.PathEscape(examID) + "/sessions"
	if err := c.call(ctx, "start session", http.MethodPost, path, req, true, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) FetchQuestion(ctx context.Context, sessionID string, index int) (*model.Snapshot, error) {
	if sessionID == "" {
		return nil, examerr.Validation("session_id", "is required")
	}
	if index < 0 {
		return nil, examerr.Validation("index", "must be 0 or greater")
	}
	var snap model.Snapshot
	path := "/student/sessions/" + url.PathEscape(sessionID) + "/questions/" + strconv.Itoa(index)
	if err := c.call(ctx, "fetch question", http.MethodGet, path, nil, true, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) SubmitAnswer(ctx context.Context, sessionID string, req model.SubmitAnswerRequest) (*model.Snapshot, error) {
	if sessionID == "" {
		return nil, examerr.Validation("session_id", "is required")
	}
	if err := validator.Check(&req); err != nil {
		return nil, err
	}
	var snap model.Snapshot
	path := "/student/sessions/" + url.PathEscape(sessionID) + "/answers"
	if err := c.call(ctx, "submit answer", http.MethodPut, path, req, true, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SubmitSession returns the raw result payload for model.ParseResult.
func (c *Client) SubmitSession(ctx context.Context, sessionID string) (json.RawMessage, error) {
	if sessionID == "" {
		return nil, examerr.Validation("session_id", "is required")
	}
	var raw json.RawMessage
	path := "/student/sessions/" + url.PathEscape(sessionID) + "/submit"
	if err := c.call(ctx, "submit session", http.MethodPost, path, nil, true, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) ReportFocusLoss(ctx context.Context, sessionID string) (*model.FocusLossReport, error) {
	if sessionID == "" {
		return nil, examerr.Validation("session_id", "is required")
	}
	var rep model.FocusLossReport
	path := "/student/sessions/" + url.PathEscape(sessionID) + "/focus-loss"
	if err := c.call(ctx, "report focus loss", http.MethodPost, path, nil, true, &rep); err != nil {
		return nil, err
	}
	if rep.SessionID == "" {
		rep.SessionID = sessionID
	}
	return &rep, nil
}

// call performs one request and decodes the envelope's data into out (when non-nil).
func (c *Client) call(ctx context.Context, op, method, path string, body interface{}, auth bool, out interface{}) error {
	var token string
	if auth {
		token = c.Token()
		if err := c.checkToken(op, token); err != nil {
			return err
		}
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	reqID := uuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "br")
	req.Header.Set(response.HeaderRequestID, reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("op", op).Str("request_id", reqID).Msg("Request failed")
		return &examerr.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	var payload io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "br") {
		payload = brotli.NewReader(resp.Body)
	}

	var env response.Envelope
	if err := json.NewDecoder(payload).Decode(&env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return examerr.Reject(op, resp.StatusCode, response.ErrInternal, http.StatusText(resp.StatusCode))
		}
		return &examerr.NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}

	c.log.Debug().
		Str("op", op).
		Str("request_id", reqID).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("Request completed")

	if env.Error != nil || resp.StatusCode >= http.StatusBadRequest {
		code, msg := response.ErrInternal, http.StatusText(resp.StatusCode)
		if env.Error != nil {
			code, msg = env.Error.Code, env.Error.Message
		}
		return examerr.Reject(op, resp.StatusCode, code, msg)
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &examerr.NetworkError{Op: op, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}

// checkToken rejects a missing or expired token locally, without a round trip.
// The signature is not verified; that is the server's job.
func (c *Client) checkToken(op, token string) error {
	if token == "" {
		return examerr.Reject(op, http.StatusUnauthorized, response.ErrTokenRequired, response.GetMessage(response.ErrTokenRequired))
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return examerr.Reject(op, http.StatusUnauthorized, response.ErrTokenInvalid, response.GetMessage(response.ErrTokenInvalid))
	}
	if claims.ExpiresAt != nil && !c.now().Before(claims.ExpiresAt.Time) {
		return examerr.Reject(op, http.StatusUnauthorized, response.ErrTokenExpired, response.GetMessage(response.ErrTokenExpired))
	}
	return nil
}
