package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ProctorEventMessage is the broker payload emitted for every integrity
// event. Downstream consumers (audit trail, analytics) subscribe to it; the
// session engine never depends on them.
type ProctorEventMessage struct {
	AttemptID  uuid.UUID `json:"attempt_id"`
	ExamID     uuid.UUID `json:"exam_id"`
	StudentID  int       `json:"student_id"`
	Kind       string    `json:"kind"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	RiskScore  int       `json:"risk_score"`
}

// Publisher emits proctor events to the message broker. Publishing is
// best-effort from the caller's point of view: a broker outage must never
// affect a running attempt.
type Publisher interface {
	PublishProctorEvent(ctx context.Context, msg ProctorEventMessage) error
	Close() error
}

// KafkaPublisher publishes proctor events to a Kafka topic via watermill.
type KafkaPublisher struct {
	pub   message.Publisher
	topic string
	log   zerolog.Logger
}

// NewKafkaPublisher connects to the given brokers.
func NewKafkaPublisher(brokers []string, topic string, log zerolog.Logger) (*KafkaPublisher, error) {
	pub, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		newWatermillLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka publisher: %w", err)
	}

	log.Info().Strs("brokers", brokers).Str("topic", topic).Msg("Kafka proctor event publisher ready")
	return &KafkaPublisher{pub: pub, topic: topic, log: log}, nil
}

func (p *KafkaPublisher) PublishProctorEvent(ctx context.Context, msg ProctorEventMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal proctor event: %w", err)
	}

	m := message.NewMessage(watermill.NewUUID(), payload)
	m.Metadata.Set("attempt_id", msg.AttemptID.String())
	m.Metadata.Set("exam_id", msg.ExamID.String())
	m.Metadata.Set("student_id", strconv.Itoa(msg.StudentID))
	m.Metadata.Set("kind", msg.Kind)
	m.SetContext(ctx)

	if err := p.pub.Publish(p.topic, m); err != nil {
		return fmt.Errorf("publish proctor event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.pub.Close()
}

// NopPublisher discards events. Used when event publishing is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishProctorEvent(context.Context, ProctorEventMessage) error { return nil }
func (NopPublisher) Close() error                                                   { return nil }

// MockPublisher records published events for tests.
type MockPublisher struct {
	mu        sync.Mutex
	Published []ProctorEventMessage
	Err       error
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishProctorEvent(ctx context.Context, msg ProctorEventMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Published = append(m.Published, msg)
	return nil
}

func (m *MockPublisher) Close() error { return nil }

// Events returns a snapshot of everything published so far.
func (m *MockPublisher) Events() []ProctorEventMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ProctorEventMessage, len(m.Published))
	copy(out, m.Published)
	return out
}
