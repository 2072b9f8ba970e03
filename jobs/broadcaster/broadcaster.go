package broadcaster

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"clearline/infra/history"
)

// Broadcaster publishes matched-trade records to Kafka by draining the
// history store's outbox. Publishing is at-least-once: a record is marked
// SENT before the attempt and ACKED only after the broker confirms, so a
// crash between the two republishes.
type Broadcaster struct {
	store    *history.Store
	producer sarama.SyncProducer
	topic    string
	interval time.Duration
	log      *logrus.Entry
}

func New(store *history.Store, brokers []string, topic string, log *logrus.Entry) (*Broadcaster, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Broadcaster{
		store:    store,
		producer: producer,
		topic:    topic,
		interval: 250 * time.Millisecond,
		log:      log,
	}, nil
}

func (b *Broadcaster) Start(ctx context.Context) {
	b.log.Info("broadcaster started")

	go func() {
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.drainOnce()
			}
		}
	}()
}

func (b *Broadcaster) drainOnce() {
	err := b.store.ScanPending(func(key, payload []byte) error {
		_ = b.store.MarkSent(key)

		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			Key:   sarama.ByteEncoder(key),
			Value: sarama.ByteEncoder(payload),
		}
		if _, _, err := b.producer.SendMessage(msg); err != nil {
			b.log.WithError(err).Warn("publish failed, will retry")
			return nil
		}

		return b.store.MarkAcked(key)
	})
	if err != nil {
		b.log.WithError(err).Error("outbox drain failed")
		return
	}
	if err := b.store.DeleteAcked(); err != nil {
		b.log.WithError(err).Warn("outbox cleanup failed")
	}
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
