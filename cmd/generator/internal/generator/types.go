package generator

import (
	"context"
	"math/rand"
	"time"

	"github.com/segmentio/kafka-go"
)

// Clock paces ticks and topic readiness polls.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Rand makes the random choices of one tick.
type Rand interface {
	// Pick chooses one of n instruments.
	Pick(n int) int
	// Drift is the distance of the mid from the base price, in ticks, within
	// [-maxTicks, maxTicks].
	Drift(maxTicks int) int
	// Lots is a size multiplier in [1, limit] for a print or a book level.
	Lots(limit int) int
	// BuyerInitiated decides the aggressor side of a print.
	BuyerInitiated() bool
}

// Publisher writes feed messages. *kafka.Writer satisfies it.
type Publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// BrokerConn is the part of a broker connection topic setup needs.
// *kafka.Conn satisfies it.
type BrokerConn interface {
	Controller() (kafka.Broker, error)
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

// Dialer opens the broker and controller connections used by TopicCreator.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (BrokerConn, error)
}

var (
	_ Publisher  = (*kafka.Writer)(nil)
	_ BrokerConn = (*kafka.Conn)(nil)
)

type SystemClock struct{}

func (SystemClock) Now() time.Time        { return time.Now() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

// NewRand returns a Rand backed by a seeded math/rand source.
func NewRand(seed int64) Rand {
	return seededRand{r: rand.New(rand.NewSource(seed))}
}

type seededRand struct{ r *rand.Rand }

func (s seededRand) Pick(n int) int         { return s.r.Intn(n) }
func (s seededRand) Drift(maxTicks int) int { return s.r.Intn(2*maxTicks+1) - maxTicks }
func (s seededRand) Lots(limit int) int     { return 1 + s.r.Intn(limit) }
func (s seededRand) BuyerInitiated() bool   { return s.r.Intn(2) == 0 }

// BrokerDialer dials with a *kafka.Dialer.
type BrokerDialer struct{ *kafka.Dialer }

func (d BrokerDialer) DialContext(ctx context.Context, network, address string) (BrokerConn, error) {
	conn, err := d.Dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
