package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const defaultReplayInterval = 250 * time.Millisecond

// Broadcaster drains the outbox into a Kafka topic. Records are acknowledged
// (deleted) only after the broker accepts the write, so a crash between send
// and ack replays the record: at-least-once, never lost.
type Broadcaster struct {
	outbox   *Outbox
	writer   *kafka.Writer
	interval time.Duration
	log      *zap.SugaredLogger
}

func NewBroadcaster(outbox *Outbox, brokers []string, topic string, log *zap.SugaredLogger) *Broadcaster {
	return &Broadcaster{
		outbox: outbox,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		},
		interval: defaultReplayInterval,
		log:      log,
	}
}

// Start launches the replay loop; it stops when ctx is cancelled.
func (b *Broadcaster) Start(ctx context.Context) {
	b.log.Infow("broadcaster_started", "topic", b.writer.Topic)
	go func() {
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.replayOnce(ctx)
			}
		}
	}()
}

func (b *Broadcaster) replayOnce(ctx context.Context) {
	err := b.outbox.ScanPending(func(env *Envelope) error {
		value, err := json.Marshal(env)
		if err != nil {
			return err
		}
		if err := b.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(env.Symbol),
			Value: value,
		}); err != nil {
			// Broker unavailable: keep the record, retry next tick.
			b.log.Warnw("event_broadcast_failed", "seq", env.Seq, "event", env.Name, "err", err)
			return err
		}
		return b.outbox.MarkAcked(env.Seq)
	})
	if err != nil && ctx.Err() == nil {
		b.log.Debugw("broadcast_replay_interrupted", "err", err)
	}
}

func (b *Broadcaster) Close() error {
	return b.writer.Close()
}
