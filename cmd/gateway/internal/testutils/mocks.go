package testutils

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/shubham-shewale/market-cache/pkg/models"
	"github.com/shubham-shewale/market-cache/pkg/protocol"
)

// MockClock is a settable clock shared between tests and the code under test.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MockClient simulates a connected websocket client
type MockClient struct {
	IDVal    string
	Messages []protocol.WSResponse // Stores decoded JSON messages
	RawBytes []string              // Stores raw bytes
	Closed   bool
	Mu       sync.Mutex
}

func NewMockClient(id string) *MockClient {
	return &MockClient{IDVal: id, Messages: make([]protocol.WSResponse, 0)}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockClient) SendJSON(v interface{}) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	if resp, ok := v.(protocol.WSResponse); ok {
		m.Messages = append(m.Messages, resp)
	}
}

func (m *MockClient) SendBytes(b []byte) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.RawBytes = append(m.RawBytes, string(b))
}

func (m *MockClient) LastMsgType() string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return ""
	}
	return m.Messages[len(m.Messages)-1].Type
}

// Responses returns a copy of the responses of the given type.
func (m *MockClient) Responses(typ string) []protocol.WSResponse {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var out []protocol.WSResponse
	for _, r := range m.Messages {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

// Events decodes the pushed event frames.
func (m *MockClient) Events() []map[string]any {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var out []map[string]any
	for _, raw := range m.RawBytes {
		var frame struct {
			Type string         `json:"type"`
			Data map[string]any `json:"data"`
		}
		if json.Unmarshal([]byte(raw), &frame) == nil && frame.Type == protocol.TypeEvent {
			out = append(out, frame.Data)
		}
	}
	return out
}

// MockFeed simulates the real-time feed. Deliver pushes a message to the
// consumer registered by Run.
type MockFeed struct {
	Mu            sync.Mutex
	Subscriptions map[string]int // instrument -> active subscribe calls
	SubscribeErr  error
	// Hold, when non-nil, makes Subscribe wait until it is closed.
	Hold chan struct{}
	// Entered receives the instrument of each Subscribe call when non-nil.
	Entered chan string

	handler func(models.FeedMessage)
	ready   chan struct{}
	once    sync.Once
}

func NewMockFeed() *MockFeed {
	return &MockFeed{Subscriptions: make(map[string]int), ready: make(chan struct{})}
}

func (m *MockFeed) Subscribe(ctx context.Context, instrument string) error {
	m.Mu.Lock()
	hold, entered := m.Hold, m.Entered
	m.Mu.Unlock()
	if entered != nil {
		entered <- instrument
	}
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.SubscribeErr != nil {
		return m.SubscribeErr
	}
	m.Subscriptions[instrument]++
	return nil
}

func (m *MockFeed) Unsubscribe(ctx context.Context, instrument string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Subscriptions[instrument]--
	if m.Subscriptions[instrument] <= 0 {
		delete(m.Subscriptions, instrument)
	}
	return nil
}

func (m *MockFeed) Run(ctx context.Context, onMessage func(models.FeedMessage)) error {
	m.Mu.Lock()
	m.handler = onMessage
	m.Mu.Unlock()
	m.once.Do(func() { close(m.ready) })
	<-ctx.Done()
	return nil
}

// Deliver hands msg to the consumer, waiting until Run has been called.
func (m *MockFeed) Deliver(msg models.FeedMessage) {
	<-m.ready
	m.Mu.Lock()
	h := m.handler
	m.Mu.Unlock()
	h(msg)
}

func (m *MockFeed) Active(instrument string) bool {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Subscriptions[instrument] > 0
}

// ErrUpstream is returned by MockFetcher while FailTimes is positive.
var ErrUpstream = errors.New("upstream unavailable")

// MockFetcher is a scripted fetch source.
type MockFetcher struct {
	Mu      sync.Mutex
	Quotes  map[string]models.Quote
	Books   map[string]models.OrderBookSnapshot
	Candles map[string][]models.Candle // keyed by instrument

	// FailTimes makes the next n calls fail with ErrUpstream.
	FailTimes int
	// Err, when set, is returned by every call.
	Err error
	// Block makes calls wait for ctx to be done.
	Block bool
	// Started receives the instrument of each call when non-nil.
	Started chan string
	// Gate, when non-nil, makes calls wait until it is closed.
	Gate chan struct{}

	calls map[string]int
}

func NewMockFetcher() *MockFetcher {
	return &MockFetcher{
		Quotes:  make(map[string]models.Quote),
		Books:   make(map[string]models.OrderBookSnapshot),
		Candles: make(map[string][]models.Candle),
		calls:   make(map[string]int),
	}
}

// Calls returns how many times op:instrument was requested, e.g. "quote:AAPL".
func (m *MockFetcher) Calls(key string) int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.calls[key]
}

func (m *MockFetcher) begin(ctx context.Context, op, instrument string) error {
	m.Mu.Lock()
	m.calls[op+":"+instrument]++
	block, started, gate := m.Block, m.Started, m.Gate
	var err error
	switch {
	case m.Err != nil:
		err = m.Err
	case m.FailTimes > 0:
		m.FailTimes--
		err = ErrUpstream
	}
	m.Mu.Unlock()

	if started != nil {
		started <- instrument
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (m *MockFetcher) FetchQuote(ctx context.Context, instrument string) (models.Quote, error) {
	if err := m.begin(ctx, "quote", instrument); err != nil {
		return models.Quote{}, err
	}
	m.Mu.Lock()
	defer m.Mu.Unlock()
	q, ok := m.Quotes[instrument]
	if !ok {
		return models.Quote{}, models.ErrNotFound
	}
	return q, nil
}

func (m *MockFetcher) FetchCandles(ctx context.Context, instrument string, tf models.Timeframe, r models.Range) ([]models.Candle, error) {
	if err := m.begin(ctx, "candles", instrument); err != nil {
		return nil, err
	}
	m.Mu.Lock()
	defer m.Mu.Unlock()
	cs, ok := m.Candles[instrument]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := make([]models.Candle, len(cs))
	copy(out, cs)
	return out, nil
}

func (m *MockFetcher) FetchOrderBook(ctx context.Context, instrument string) (models.OrderBookSnapshot, error) {
	if err := m.begin(ctx, "book", instrument); err != nil {
		return models.OrderBookSnapshot{}, err
	}
	m.Mu.Lock()
	defer m.Mu.Unlock()
	b, ok := m.Books[instrument]
	if !ok {
		return models.OrderBookSnapshot{}, models.ErrNotFound
	}
	return b.Clone(), nil
}
