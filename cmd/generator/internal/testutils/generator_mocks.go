package testutils

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/shubham-shewale/market-cache/cmd/generator/internal/generator"
	"github.com/shubham-shewale/market-cache/pkg/models"
)

type MockKafkaWriter struct {
	Messages   []kafka.Message
	Mu         sync.Mutex
	ShouldFail bool
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.ShouldFail {
		return errors.New("kafka error")
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

func (m *MockKafkaWriter) Close() error { return nil }

// Feed decodes every written message, skipping undecodable ones.
func (m *MockKafkaWriter) Feed() []models.FeedMessage {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	out := make([]models.FeedMessage, 0, len(m.Messages))
	for _, msg := range m.Messages {
		var fm models.FeedMessage
		if err := json.Unmarshal(msg.Value, &fm); err == nil {
			out = append(out, fm)
		}
	}
	return out
}

type MockClock struct {
	CurrentTime time.Time
}

func (m *MockClock) Now() time.Time        { return m.CurrentTime }
func (m *MockClock) Sleep(d time.Duration) { m.CurrentTime = m.CurrentTime.Add(d) }

// MockRand returns fixed choices. Ticks is clamped to the caller's bound.
type MockRand struct {
	Index int
	Ticks int
	Lot   int
	Buy   bool
}

func (m *MockRand) Pick(n int) int { return m.Index % n }

func (m *MockRand) Drift(maxTicks int) int {
	return max(-maxTicks, min(m.Ticks, maxTicks))
}

func (m *MockRand) Lots(limit int) int {
	if m.Lot < 1 {
		return 1
	}
	return min(m.Lot, limit)
}

func (m *MockRand) BuyerInitiated() bool { return m.Buy }

type MockKafkaConn struct {
	CreatedTopics []kafka.TopicConfig
	CreateErr     error
	// NotReady makes ReadPartitions report no partitions
	NotReady bool
}

func (m *MockKafkaConn) Controller() (kafka.Broker, error) {
	return kafka.Broker{Host: "localhost", Port: 9092}, nil
}
func (m *MockKafkaConn) Close() error { return nil }
func (m *MockKafkaConn) CreateTopics(topics ...kafka.TopicConfig) error {
	m.CreatedTopics = append(m.CreatedTopics, topics...)
	return m.CreateErr
}
func (m *MockKafkaConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	if m.NotReady {
		return nil, nil
	}
	return []kafka.Partition{{ID: 0}}, nil
}

type MockKafkaDialer struct {
	ConnSpy *MockKafkaConn
	DialErr error
	Dialed  []string
}

func (m *MockKafkaDialer) DialContext(ctx context.Context, network, address string) (generator.BrokerConn, error) {
	m.Dialed = append(m.Dialed, address)
	if m.DialErr != nil {
		return nil, m.DialErr
	}
	if m.ConnSpy == nil {
		m.ConnSpy = &MockKafkaConn{}
	}
	return m.ConnSpy, nil
}
