package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-client/internal/middleware"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/response"
	"github.com/stemsi/exstem-client/internal/service"
	"github.com/stemsi/exstem-client/internal/validator"
)

// StudentPortalHandler serves the Remote Session API for exam taking.
type StudentPortalHandler struct {
	sessionService *service.ExamSessionService
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(sessionService *service.ExamSessionService) *StudentPortalHandler {
	return &StudentPortalHandler{sessionService: sessionService}
}

// StartSession godoc
// POST /api/v1/student/exams/:exam_id/sessions
// Validates the exam password and starts (or resumes) the student's session.
func (h *StudentPortalHandler) StartSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID := c.Param("exam_id")
	if examID == "" {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.StartSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	snap, err := h.sessionService.JoinExam(c.Request.Context(), examID, claims.UserID, req.Password)
	if err != nil {
		failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, snap)
}

// GetQuestion godoc
// GET /api/v1/student/sessions/:session_id/questions/:index
// Returns the question at index with the saved answer and moves the session there.
func (h *StudentPortalHandler) GetQuestion(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	snap, err := h.sessionService.GetQuestion(c.Request.Context(), c.Param("session_id"), claims.UserID, index)
	if err != nil {
		failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, snap)
}

// SubmitAnswer godoc
// PUT /api/v1/student/sessions/:session_id/answers
// Saves one answer.
func (h *StudentPortalHandler) SubmitAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	snap, err := h.sessionService.SaveAnswer(c.Request.Context(), c.Param("session_id"), claims.UserID, req)
	if err != nil {
		failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, snap)
}

// SubmitSession godoc
// POST /api/v1/student/sessions/:session_id/submit
// Finishes and grades the exam. Repeating it returns the same result.
func (h *StudentPortalHandler) SubmitSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	report, err := h.sessionService.Submit(c.Request.Context(), c.Param("session_id"), claims.UserID)
	if err != nil {
		failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, report)
}

// ReportFocusLoss godoc
// POST /api/v1/student/sessions/:session_id/focus-loss
// Records that the exam tab lost visibility.
func (h *StudentPortalHandler) ReportFocusLoss(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID := c.Param("session_id")
	count, err := h.sessionService.RecordFocusLoss(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, model.FocusLossReport{SessionID: sessionID, FocusLossCount: count})
}

// sessionErrCode maps exam session service errors to a status and error code.
func sessionErrCode(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrExamNotFound):
		return http.StatusNotFound, response.ErrExamNotFound
	case errors.Is(err, service.ErrInvalidEntryToken):
		return http.StatusBadRequest, response.ErrInvalidEntryToken
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, response.ErrSessionNotFound
	case errors.Is(err, service.ErrSessionSubmitted):
		return http.StatusConflict, response.ErrSessionSubmitted
	case errors.Is(err, service.ErrTimeExpired):
		return http.StatusForbidden, response.ErrTimeExpired
	case errors.Is(err, service.ErrIndexOutOfRange):
		return http.StatusBadRequest, response.ErrIndexOutOfRange
	case errors.Is(err, service.ErrUnknownQuestion):
		return http.StatusBadRequest, response.ErrInvalidID
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

func failSession(c *gin.Context, err error) {
	status, code := sessionErrCode(err)
	response.Fail(c, status, code)
}
