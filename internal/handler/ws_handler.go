package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/DeepStacker/dsba-lms-sub001/internal/middleware"
	"github.com/DeepStacker/dsba-lms-sub001/internal/model"
	"github.com/DeepStacker/dsba-lms-sub001/internal/session"
	ws "github.com/DeepStacker/dsba-lms-sub001/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins slice permits all origins (development mode).
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

// WSHandler streams a live attempt session over WebSocket. The session
// itself lives in the registry and survives disconnects; a connection is
// just one subscriber pumping events out and actions in.
type WSHandler struct {
	registry *session.Registry
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(registry *session.Registry, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		registry: registry,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/exams/:exam_id/stream
// Joins (or resumes) the attempt and streams ticks, warnings and state
// changes while accepting answer edits, integrity signals and submission.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exam ID"})
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	sess, hub, err := h.registry.Join(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		if session.IsJoinRejected(err) {
			conn.WriteError(err.Error())
		} else {
			h.log.Error().Err(err).Msg("Join failed")
			conn.WriteError("join failed")
		}
		return
	}

	log := h.log.With().
		Int("student_id", claims.UserID).
		Str("attempt_id", sess.Attempt().ID.String()).
		Logger()
	log.Info().Msg("Student connected")

	events, cancel := hub.Subscribe(32)
	defer cancel()

	// Writer pump: hub events out. Broadcasts never block, so a dead
	// connection only kills this goroutine. Writes share the connection's
	// lock with the read loop's acks.
	go func() {
		for ev := range events {
			if err := conn.WriteTyped(ev); err != nil {
				return
			}
		}
	}()

	// Initial state snapshot so a reconnecting client re-syncs immediately.
	conn.WriteTyped(session.Event{
		Type:         session.EventState,
		Status:       sess.Status(),
		RemainingSec: sess.Remaining().Seconds(),
	})

	for {
		var msg ws.RequestPayload
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Unexpected close")
			} else {
				log.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionAnswer:
			h.handleAnswer(conn, sess, &msg)
		case ws.ActionFlush:
			h.handleFlush(conn, sess)
		case ws.ActionSignal:
			h.handleSignal(conn, sess, &msg)
		case ws.ActionSubmit:
			h.handleSubmit(conn, log, sess)
		case ws.ActionRetrySubmit:
			h.handleRetrySubmit(conn, log, sess)
		case ws.ActionPing:
			conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			conn.WriteError("unknown action: " + string(msg.Action))
		}
	}
}

func (h *WSHandler) handleAnswer(conn *ws.Conn, sess *session.Session, msg *ws.RequestPayload) {
	if msg.QID == "" || len(msg.Payload) == 0 {
		conn.WriteError("q_id and payload are required")
		return
	}

	questionID, err := uuid.Parse(msg.QID)
	if err != nil {
		conn.WriteError("invalid q_id format")
		return
	}

	if err := sess.SetAnswer(questionID, msg.Payload); err != nil {
		conn.WriteError("attempt is no longer in progress")
		return
	}
	conn.WriteAck(ws.ActionAnswer)
}

func (h *WSHandler) handleFlush(conn *ws.Conn, sess *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sess.Flush(ctx); err != nil {
		conn.WriteError("flush incomplete")
		return
	}
	conn.WriteAck(ws.ActionFlush)
}

func (h *WSHandler) handleSignal(conn *ws.Conn, sess *session.Session, msg *ws.RequestPayload) {
	sig := session.Signal{Kind: model.ProctorEventKind(msg.Kind), Detail: msg.Detail}
	if err := sess.Signal(sig); err != nil {
		conn.WriteError("unknown signal kind: " + msg.Kind)
		return
	}
	conn.WriteAck(ws.ActionSignal)
}

func (h *WSHandler) handleSubmit(conn *ws.Conn, log zerolog.Logger, sess *session.Session) {
	if err := sess.Submit(context.Background()); err != nil {
		// Locally terminal but unconfirmed; the client may retry.
		log.Warn().Err(err).Msg("Submit call failed")
		conn.WriteError("submission recorded locally but not confirmed, retry")
		return
	}
	conn.WriteAck(ws.ActionSubmit)
}

func (h *WSHandler) handleRetrySubmit(conn *ws.Conn, log zerolog.Logger, sess *session.Session) {
	if err := sess.RetrySubmit(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Retry submit failed")
		conn.WriteError("retry failed")
		return
	}
	conn.WriteAck(ws.ActionRetrySubmit)
}
