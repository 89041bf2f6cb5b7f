package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/DeepStacker/dsba-lms-sub001/internal/config"
	"github.com/DeepStacker/dsba-lms-sub001/internal/response"
	"github.com/DeepStacker/dsba-lms-sub001/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler streams the proctor dashboard: a snapshot of the exam's
// attempts plus live join/submit/proctor events relayed from Redis Pub/Sub.
type MonitorHandler struct {
	rdb            *redis.Client
	attemptService *service.AttemptService
	log            zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(rdb *redis.Client, attemptService *service.AttemptService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:            rdb,
		attemptService: attemptService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// ListAttempts godoc
// GET /api/v1/admin/exams/:id/attempts
func (h *MonitorHandler) ListAttempts(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempts, err := h.attemptService.ListExamAttempts(c.Request.Context(), examID)
	if err != nil {
		h.log.Error().Err(err).Msg("List attempts failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, attempts)
}

// GetAttemptDetail godoc
// GET /api/v1/admin/attempts/:id
func (h *MonitorHandler) GetAttemptDetail(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	detail, err := h.attemptService.GetAttemptDetail(c.Request.Context(), attemptID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	response.Success(c, http.StatusOK, detail)
}

// MonitorExamSSE godoc
// GET /api/v1/admin/exams/:id/monitor
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendSnapshot(c, reqCtx, examID)

	channelName := config.CacheKey.ExamMonitorChannel(examID.String())
	pubsub := h.rdb.Subscribe(reqCtx, channelName)
	defer pubsub.Close()

	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	h.log.Info().Str("exam_id", examID.String()).Msg("Proctor attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Proctor disconnected from live monitor SSE")
			return

		case msg := <-ch:
			// Forward raw JSON directly, no deserialization needed.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()

		case <-refreshTicker.C:
			h.sendSnapshot(c, reqCtx, examID)

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

// sendSnapshot writes the current attempt list as one SSE event. Scoped
// timeout so a slow query cannot stall the loop.
func (h *MonitorHandler) sendSnapshot(c *gin.Context, parentCtx context.Context, examID uuid.UUID) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	attempts, err := h.attemptService.ListExamAttempts(ctx, examID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to fetch attempts for snapshot")
		return
	}

	inProgress := 0
	submitted := 0
	for _, a := range attempts {
		if a.Status.Terminal() {
			submitted++
		} else {
			inProgress++
		}
	}

	c.SSEvent("message", map[string]interface{}{
		"type": "snapshot",
		"stats": map[string]interface{}{
			"total_joined":      len(attempts),
			"total_in_progress": inProgress,
			"total_submitted":   submitted,
		},
		"attempts": attempts,
	})
	c.Writer.Flush()
}
