package feed

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Message is the JSON envelope of one inbound transaction. Submit and
// cancel share the envelope; cancels reference the original order by its
// (TargetHeight, TargetIndex) key.
type Message struct {
	Kind     string `json:"kind"` // "submit" or "cancel"
	Height   uint64 `json:"height"`
	Index    uint32 `json:"index"`
	Addr     string `json:"addr"`
	MarketID string `json:"market_id"`
	Side     string `json:"side"` // "buy" or "sell"
	Price    int64  `json:"price"`
	Amount   int64  `json:"amount"`
	Leverage int64  `json:"leverage"`

	TargetHeight uint64 `json:"target_height,omitempty"`
	TargetIndex  uint32 `json:"target_index,omitempty"`
}

const (
	KindSubmit = "submit"
	KindCancel = "cancel"
)

// Consumer pulls the ordered transaction stream from Kafka and hands each
// message to the handler in offset order. Offsets are committed only
// after the handler returns, so a crash replays from the last applied
// message.
type Consumer struct {
	reader *kafka.Reader
	log    *logrus.Entry
}

func NewConsumer(brokers []string, topic, groupID string, log *logrus.Entry) *Consumer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10 << 20,
		}),
		log: log,
	}
}

// Run consumes until ctx is cancelled. Undecodable messages are logged
// and skipped; handler errors stop the loop.
func (c *Consumer) Run(ctx context.Context, handle func(Message) error) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		var msg Message
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			c.log.WithError(err).WithField("offset", m.Offset).Warn("undecodable feed message, skipping")
		} else if err := handle(msg); err != nil {
			return err
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			return err
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
