package generator

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// TopicCreator makes sure the feed topic exists before publishing starts.
type TopicCreator struct {
	logger *zap.Logger
	dialer Dialer
	clock  Clock
}

func NewTopicCreator(logger *zap.Logger, dialer Dialer, clock Clock) *TopicCreator {
	return &TopicCreator{
		logger: logger,
		dialer: dialer,
		clock:  clock,
	}
}

// Create asks the controller for the topic and waits until partitions are
// visible. An already existing topic is not an error.
func (tc *TopicCreator) Create(ctx context.Context, brokers []string, topic kafka.TopicConfig) error {
	var conn BrokerConn
	err := fmt.Errorf("no brokers configured")

	for _, addr := range brokers {
		conn, err = tc.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("dial brokers: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("find controller: %w", err)
	}

	controllerAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	controllerConn, err := tc.dialer.DialContext(ctx, "tcp", controllerAddr)
	if err != nil {
		return fmt.Errorf("dial controller %s: %w", controllerAddr, err)
	}
	defer controllerConn.Close()

	if err := controllerConn.CreateTopics(topic); err != nil {
		tc.logger.Info("Topic creation finished (might already exist)", zap.String("topic", topic.Topic), zap.Error(err))
	} else {
		tc.logger.Info("Topic creation request sent", zap.String("topic", topic.Topic), zap.Int("partitions", topic.NumPartitions))
	}

	return tc.waitForTopic(conn, topic.Topic)
}

func (tc *TopicCreator) waitForTopic(conn BrokerConn, topicName string) error {
	tc.logger.Info("Waiting for topic initialization...", zap.String("topic", topicName))
	for i := 0; i < 5; i++ {
		tc.clock.Sleep(200 * time.Millisecond)
		partitions, err := conn.ReadPartitions(topicName)
		if err == nil && len(partitions) > 0 {
			tc.logger.Info("Topic is ready!", zap.Int("partitions", len(partitions)))
			return nil
		}
	}
	return fmt.Errorf("topic %s not ready after 5 attempts", topicName)
}
