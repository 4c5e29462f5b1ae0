package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Sink receives raw event payloads, e.g. the websocket hub
type Sink interface {
	BroadcastMessage(message []byte)
}

// StockFeedConsumer reads the event topic and forwards every event to a sink,
// so that websocket clients of every instance see changes made by any instance.
type StockFeedConsumer struct {
	reader *kafka.Reader
	sink   Sink
	log    logrus.FieldLogger
}

// NewStockFeedConsumer creates a consumer in its own group starting at the newest offset
func NewStockFeedConsumer(brokers []string, topic, groupID string, auth KafkaAuth, sink Sink, log logrus.FieldLogger) *StockFeedConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     1 * time.Second,
		Dialer:      CreateKafkaDialer(auth, log),
	})
	return &StockFeedConsumer{reader: reader, sink: sink, log: log}
}

// Run blocks until ctx is cancelled
func (c *StockFeedConsumer) Run(ctx context.Context) {
	c.log.WithField("topic", c.reader.Config().Topic).Info("kafka.feed.started")
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				c.log.Info("kafka.feed.stopped")
				return
			}
			c.log.WithError(err).Warn("kafka.feed.read_failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var e Event
		if err := json.Unmarshal(msg.Value, &e); err != nil || e.Type == "" {
			c.log.WithFields(logrus.Fields{"offset": msg.Offset, "partition": msg.Partition}).Debug("kafka.feed.skipped")
			continue
		}
		c.sink.BroadcastMessage(msg.Value)
	}
}

// Close closes the reader
func (c *StockFeedConsumer) Close() error {
	return c.reader.Close()
}
