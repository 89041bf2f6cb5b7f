package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/DeepStacker/dsba-lms-sub001/internal/middleware"
	"github.com/DeepStacker/dsba-lms-sub001/internal/model"
	"github.com/DeepStacker/dsba-lms-sub001/internal/response"
	"github.com/DeepStacker/dsba-lms-sub001/internal/service"
	"github.com/DeepStacker/dsba-lms-sub001/internal/session"
)

// AttemptHandler exposes the attempt lifecycle over REST. The WebSocket
// stream is the primary surface; these endpoints cover the exam list, the
// reconnect state reload and submission from clients without a live socket.
type AttemptHandler struct {
	registry       *session.Registry
	attemptService *service.AttemptService
	log            zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(registry *session.Registry, attemptService *service.AttemptService, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		registry:       registry,
		attemptService: attemptService,
		log:            log.With().Str("component", "attempt_handler").Logger(),
	}
}

// ListExams godoc
// GET /api/v1/student/exams
func (h *AttemptHandler) ListExams(c *gin.Context) {
	exams, err := h.attemptService.ListAvailableExams(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("List exams failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, exams)
}

// attemptStateBody is the student-facing snapshot of a live attempt.
type attemptStateBody struct {
	Attempt      model.Attempt    `json:"attempt"`
	Questions    []model.Question `json:"questions,omitempty"`
	Drafts       []session.Draft  `json:"drafts"`
	RemainingSec float64          `json:"remaining_sec"`
}

// JoinExam godoc
// POST /api/v1/student/exams/:exam_id/join
// Creates or resumes the student's attempt and returns the full state needed
// to render the runner: questions, restored drafts and the remaining time.
func (h *AttemptHandler) JoinExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	sess, _, err := h.registry.Join(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		if session.IsJoinRejected(err) {
			h.log.Info().Err(err).Int("student_id", claims.UserID).Msg("Join rejected")
			response.Fail(c, http.StatusConflict, joinRejectionCode(err))
			return
		}
		h.log.Error().Err(err).Msg("Join failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, attemptStateBody{
		Attempt:      sess.Attempt(),
		Questions:    sess.Questions(),
		Drafts:       sess.Drafts(),
		RemainingSec: sess.Remaining().Seconds(),
	})
}

// GetState godoc
// GET /api/v1/student/attempts/:attempt_id/state
// Serves the live session when one exists; falls back to the persisted row
// for terminal attempts.
func (h *AttemptHandler) GetState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if sess, _, ok := h.registry.Get(attemptID); ok {
		if sess.Attempt().StudentID != claims.UserID {
			response.Fail(c, http.StatusForbidden, response.ErrForbidden)
			return
		}
		response.Success(c, http.StatusOK, attemptStateBody{
			Attempt:      sess.Attempt(),
			Drafts:       sess.Drafts(),
			RemainingSec: sess.Remaining().Seconds(),
		})
		return
	}

	attempt, err := h.attemptService.GetAttempt(c.Request.Context(), attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		h.log.Error().Err(err).Msg("Get attempt failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if attempt.StudentID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}

	response.Success(c, http.StatusOK, attemptStateBody{Attempt: *attempt, Drafts: []session.Draft{}})
}

// Submit godoc
// POST /api/v1/student/attempts/:attempt_id/submit
func (h *AttemptHandler) Submit(c *gin.Context) {
	sess, ok := h.ownedLiveSession(c)
	if !ok {
		return
	}

	if err := sess.Submit(c.Request.Context()); err != nil {
		// Input is locked and the local state is terminal; only the network
		// confirmation is missing.
		h.log.Warn().Err(err).Str("attempt_id", sess.Attempt().ID.String()).Msg("Submit call failed")
		response.Fail(c, http.StatusBadGateway, response.ErrSubmitUnconfirmed)
		return
	}
	response.Success(c, http.StatusOK, sess.Attempt())
}

// RetrySubmit godoc
// POST /api/v1/student/attempts/:attempt_id/retry-submit
func (h *AttemptHandler) RetrySubmit(c *gin.Context) {
	sess, ok := h.ownedLiveSession(c)
	if !ok {
		return
	}

	err := sess.RetrySubmit(c.Request.Context())
	switch {
	case errors.Is(err, session.ErrNoFailedSubmit):
		response.Fail(c, http.StatusConflict, response.ErrNothingToRetry)
	case err != nil:
		response.Fail(c, http.StatusBadGateway, response.ErrSubmitUnconfirmed)
	default:
		response.Success(c, http.StatusOK, sess.Attempt())
	}
}

type signalRequest struct {
	Kind   string `json:"kind" binding:"required"`
	Detail string `json:"detail"`
}

// Signal godoc
// POST /api/v1/student/attempts/:attempt_id/signals
// REST fallback for integrity signals, e.g. a network_drop beacon fired
// right after reconnecting when the socket is not yet re-established.
func (h *AttemptHandler) Signal(c *gin.Context) {
	sess, ok := h.ownedLiveSession(c)
	if !ok {
		return
	}

	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	if err := sess.Signal(session.Signal{Kind: model.ProctorEventKind(req.Kind), Detail: req.Detail}); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrUnknownSignal)
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"risk_score": sess.RiskScore()})
}

// ownedLiveSession resolves :attempt_id to a live session owned by the
// caller, writing the failure response itself when there is none.
func (h *AttemptHandler) ownedLiveSession(c *gin.Context) (*session.Session, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, false
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, false
	}

	sess, _, ok := h.registry.Get(attemptID)
	if !ok {
		// No live session: either never joined or already torn down after a
		// terminal state.
		attempt, err := h.attemptService.GetAttempt(c.Request.Context(), attemptID)
		if err == nil && attempt.Status.Terminal() {
			response.Fail(c, http.StatusConflict, response.ErrAttemptSubmitted)
			return nil, false
		}
		response.Fail(c, http.StatusNotFound, response.ErrAttemptNotActive)
		return nil, false
	}

	if sess.Attempt().StudentID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return nil, false
	}
	return sess, true
}

func joinRejectionCode(err error) response.ErrCode {
	var jre *session.JoinRejectedError
	if !errors.As(err, &jre) {
		return response.ErrExamNotAvailable
	}
	switch jre.Reason {
	case "exam is not published":
		return response.ErrExamNotPublished
	case "join window has not opened yet", "join window has closed":
		return response.ErrJoinWindowClosed
	case "attempt has already been submitted":
		return response.ErrAttemptSubmitted
	default:
		return response.ErrExamNotAvailable
	}
}
