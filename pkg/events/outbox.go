// Package events provides durable, at-least-once delivery of domain events:
// a pebble-backed outbox that the intake path appends to synchronously, and a
// broadcaster that replays pending records to Kafka and acknowledges them
// only after the broker accepts the write. Delivery never blocks and never
// rolls back a settlement that already committed.
package events

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openspot/openspot/pkg/core"
)

// Envelope is the wire form of one outbox record. ID lets consumers
// deduplicate the at-least-once stream.
type Envelope struct {
	Seq     uint64          `json:"seq"`
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Symbol  string          `json:"symbol"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// Outbox is an append-only pebble log of undelivered events. Appends are
// synced to disk before Publish returns; records are deleted once delivery is
// acknowledged.
type Outbox struct {
	db  *pebble.DB
	log *zap.SugaredLogger

	mu      sync.Mutex
	nextSeq uint64
}

// OpenOutbox opens (or creates) the outbox at path and recovers the next
// sequence number from the highest surviving record.
func OpenOutbox(path string, log *zap.SugaredLogger) (*Outbox, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	o := &Outbox{db: db, log: log, nextSeq: 1}

	iter, err := db.NewIter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open outbox iterator: %w", err)
	}
	if iter.Last() {
		o.nextSeq = binary.BigEndian.Uint64(iter.Key()) + 1
	}
	if err := iter.Close(); err != nil {
		db.Close()
		return nil, err
	}
	return o, nil
}

// Publish implements core.EventSink: the event is serialized and synced into
// the outbox. The broadcaster delivers it later.
func (o *Outbox) Publish(_ context.Context, ev core.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	o.mu.Lock()
	seq := o.nextSeq
	o.nextSeq++
	o.mu.Unlock()

	env := Envelope{
		Seq:     seq,
		ID:      uuid.NewString(),
		Name:    ev.Name(),
		Symbol:  ev.Symbol(),
		At:      time.Now().UTC(),
		Payload: payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := o.db.Set(seqKey(seq), data, pebble.Sync); err != nil {
		return fmt.Errorf("append outbox: %w", err)
	}
	return nil
}

// ScanPending visits undelivered records in sequence order. Returning an
// error from fn stops the scan.
func (o *Outbox) ScanPending(fn func(env *Envelope) error) error {
	iter, err := o.db.NewIter(nil)
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var env Envelope
		if err := json.Unmarshal(iter.Value(), &env); err != nil {
			// A corrupt record would wedge the stream; drop it loudly.
			o.log.Errorw("outbox_record_corrupt", "key", iter.Key(), "err", err)
			_ = o.db.Delete(append([]byte(nil), iter.Key()...), pebble.Sync)
			continue
		}
		if err := fn(&env); err != nil {
			return err
		}
	}
	return iter.Error()
}

// MarkAcked removes a delivered record.
func (o *Outbox) MarkAcked(seq uint64) error {
	return o.db.Delete(seqKey(seq), pebble.Sync)
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

func seqKey(seq uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], seq)
	return key[:]
}
