package events

import (
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"github.com/openspot/openspot/pkg/core"
)

func openTestOutbox(t *testing.T, path string) *Outbox {
	t.Helper()
	o, err := OpenOutbox(path, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("open outbox: %v", err)
	}
	t.Cleanup(func() { o.Close() })
	return o
}

func createdEvent(id int64, symbol string) core.Event {
	return core.OrderCreated{Order: core.OrderView{
		ID: id, Owner: 1, Symbol: symbol, Side: core.SideBuy,
		Price: "100.00000000", Amount: "1.00000000", Status: "open",
	}}
}

func collect(t *testing.T, o *Outbox) []Envelope {
	t.Helper()
	var out []Envelope
	if err := o.ScanPending(func(env *Envelope) error {
		out = append(out, *env)
		return nil
	}); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestOutbox_PublishScanAck(t *testing.T) {
	o := openTestOutbox(t, t.TempDir())
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		if err := o.Publish(ctx, createdEvent(i, "BTC")); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	pending := collect(t, o)
	if len(pending) != 3 {
		t.Fatalf("pending = %d, want 3", len(pending))
	}
	for i, env := range pending {
		if env.Seq != uint64(i+1) {
			t.Errorf("env %d seq = %d, want %d", i, env.Seq, i+1)
		}
		if env.Name != "order.created" || env.Symbol != "BTC" {
			t.Errorf("env %d = %s/%s, want order.created/BTC", i, env.Name, env.Symbol)
		}
		if env.ID == "" {
			t.Errorf("env %d missing dedup id", i)
		}
		var payload core.OrderCreated
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if payload.Order.ID != int64(i+1) {
			t.Errorf("env %d payload order id = %d, want %d", i, payload.Order.ID, i+1)
		}
	}

	if err := o.MarkAcked(2); err != nil {
		t.Fatalf("ack: %v", err)
	}
	pending = collect(t, o)
	if len(pending) != 2 || pending[0].Seq != 1 || pending[1].Seq != 3 {
		t.Fatalf("after ack: %+v, want seqs 1 and 3", pending)
	}
}

func TestOutbox_SequenceSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := OpenOutbox(dir, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("open outbox: %v", err)
	}
	for i := int64(1); i <= 2; i++ {
		if err := first.Publish(ctx, createdEvent(i, "ETH")); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := openTestOutbox(t, dir)
	if err := second.Publish(ctx, createdEvent(3, "ETH")); err != nil {
		t.Fatalf("publish after reopen: %v", err)
	}

	pending := collect(t, second)
	if len(pending) != 3 {
		t.Fatalf("pending = %d, want 3", len(pending))
	}
	if pending[2].Seq != 3 {
		t.Errorf("reopened outbox continued at seq %d, want 3", pending[2].Seq)
	}
}

func TestOutbox_ScanStopsOnError(t *testing.T) {
	o := openTestOutbox(t, t.TempDir())
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		if err := o.Publish(ctx, createdEvent(i, "BTC")); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	var seen int
	stop := context.Canceled
	err := o.ScanPending(func(env *Envelope) error {
		seen++
		if seen == 2 {
			return stop
		}
		return nil
	})
	if err != stop {
		t.Fatalf("err = %v, want sentinel", err)
	}
	if seen != 2 {
		t.Errorf("visited %d records, want scan to stop at 2", seen)
	}
}
