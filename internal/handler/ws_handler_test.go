package handler

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeepStacker/dsba-lms-sub001/internal/middleware"
	"github.com/DeepStacker/dsba-lms-sub001/internal/model"
	"github.com/DeepStacker/dsba-lms-sub001/internal/service"
	"github.com/DeepStacker/dsba-lms-sub001/internal/session"
	ws "github.com/DeepStacker/dsba-lms-sub001/internal/websocket"
)

type stubGateway struct {
	questionID uuid.UUID
}

func (g *stubGateway) Join(_ context.Context, examID uuid.UUID, studentID int) (*session.JoinResult, error) {
	now := time.Now()
	return &session.JoinResult{
		Attempt: model.Attempt{
			ID:        uuid.New(),
			ExamID:    examID,
			StudentID: studentID,
			Status:    model.AttemptStatusInProgress,
			StartedAt: now,
			Deadline:  now.Add(time.Minute),
		},
		Questions: []model.Question{
			{ID: g.questionID, Kind: model.QuestionMCQ, Order: 1},
		},
	}, nil
}

func (g *stubGateway) SaveResponse(context.Context, uuid.UUID, uuid.UUID, json.RawMessage, uint64) error {
	return nil
}

func (g *stubGateway) Submit(context.Context, uuid.UUID, model.EndReason) error { return nil }

func (g *stubGateway) LogProctorEvent(context.Context, uuid.UUID, model.ProctorEvent) error {
	return nil
}

func newStreamServer(t *testing.T, registry *session.Registry) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewWSHandler(registry, zerolog.Nop(), nil)
	router.GET("/ws/v1/student/exams/:exam_id/stream", func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{
			TokenType: service.TokenTypeStudent,
			UserID:    9001,
		})
	}, h.AttemptStream)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dialStream(t *testing.T, srv *httptest.Server, examID uuid.UUID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/ws/v1/student/exams/" + examID.String() + "/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// The hub pump and the read loop write to the same connection. A fast tick
// cadence keeps the pump busy while the client hammers answer actions;
// gorilla panics the whole process on a concurrent write, so surviving the
// barrage with acks still flowing is the assertion.
func TestAttemptStreamConcurrentTicksAndAcks(t *testing.T) {
	gw := &stubGateway{questionID: uuid.New()}
	registry := session.NewRegistry(session.Config{
		TickInterval:     time.Millisecond,
		AutosaveInterval: time.Hour,
		Logger:           zerolog.Nop(),
	}, gw, zerolog.Nop())
	defer registry.CloseAll()

	srv := newStreamServer(t, registry)
	conn := dialStream(t, srv, uuid.New())

	msg, err := json.Marshal(ws.RequestPayload{
		Action:  ws.ActionAnswer,
		QID:     gw.questionID.String(),
		Payload: json.RawMessage(`{"selected_option":"B"}`),
	})
	require.NoError(t, err)

	acks := 0
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))

		// Ticks and the state snapshot interleave freely; read until the
		// ack for this edit shows up.
		for {
			var frame map[string]interface{}
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
			require.NoError(t, conn.ReadJSON(&frame))
			if frame["event"] == "ack" {
				acks++
				break
			}
			require.NotEqual(t, "error", frame["event"])
		}
	}
	assert.Greater(t, acks, 10)
}

func TestAttemptStreamSendsStateSnapshotFirst(t *testing.T) {
	gw := &stubGateway{questionID: uuid.New()}
	registry := session.NewRegistry(session.Config{
		TickInterval:     time.Hour,
		AutosaveInterval: time.Hour,
		Logger:           zerolog.Nop(),
	}, gw, zerolog.Nop())
	defer registry.CloseAll()

	srv := newStreamServer(t, registry)
	conn := dialStream(t, srv, uuid.New())

	var frame struct {
		Type   session.EventType   `json:"type"`
		Status model.AttemptStatus `json:"status"`
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, session.EventState, frame.Type)
	assert.Equal(t, model.AttemptStatusInProgress, frame.Status)
}
