package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"lifeops/internal/amqp"
	"lifeops/internal/budget"
	"lifeops/internal/core"
	"lifeops/internal/events"
	"lifeops/internal/log"
	sheetsmem "lifeops/internal/sheets/memory"
	"lifeops/internal/storage"
)

type fakePublisher struct {
	failOn map[string]bool
	sent   []*amqp.EventMessage
}

func (p *fakePublisher) Publish(_ context.Context, msg *amqp.EventMessage) error {
	if p.failOn[msg.Type] {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, msg)
	return nil
}

func appendEvent(t *testing.T, store storage.Store, eventType string) {
	t.Helper()
	err := store.Atomically(context.Background(), func(tx storage.Tx) error {
		return events.Record(context.Background(), tx, eventType, "fam", "agg", map[string]string{"k": "v"})
	})
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
}

func TestDefaultRelayConfig(t *testing.T) {
	config := DefaultRelayConfig()
	if config.PollInterval != 5*time.Second {
		t.Errorf("expected PollInterval 5s, got %v", config.PollInterval)
	}
	if config.BatchSize != 50 {
		t.Errorf("expected BatchSize 50, got %d", config.BatchSize)
	}

	r := NewRelay(nil, nil, RelayConfig{}, log.Discard())
	if r.config != config {
		t.Errorf("zero config should fall back to defaults, got %+v", r.config)
	}
}

func TestRelayFlushPublishesInOrder(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	appendEvent(t, store, events.TransactionCreated)
	appendEvent(t, store, events.BudgetRecalculated)

	pub := &fakePublisher{}
	r := NewRelay(store, pub, RelayConfig{BatchSize: 10, PollInterval: time.Second}, log.Discard())
	if n := r.Flush(ctx); n != 2 {
		t.Fatalf("expected 2 published, got %d", n)
	}
	if pub.sent[0].Type != events.TransactionCreated || pub.sent[1].Type != events.BudgetRecalculated {
		t.Fatalf("unexpected order: %s, %s", pub.sent[0].Type, pub.sent[1].Type)
	}
	if pub.sent[0].Family != "fam" || pub.sent[0].AggregateKey != "agg" {
		t.Fatalf("message lost envelope fields: %+v", pub.sent[0])
	}

	pending, _ := store.PendingOutbox(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("expected empty outbox, got %d", len(pending))
	}
	if n := r.Flush(ctx); n != 0 {
		t.Fatalf("second flush should publish nothing, got %d", n)
	}
}

func TestRelayFlushStopsAtFailure(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	appendEvent(t, store, events.TransactionCreated)
	appendEvent(t, store, events.BillPaid)
	appendEvent(t, store, events.TransactionDeleted)

	pub := &fakePublisher{failOn: map[string]bool{events.BillPaid: true}}
	r := NewRelay(store, pub, RelayConfig{BatchSize: 10, PollInterval: time.Second}, log.Discard())
	if n := r.Flush(ctx); n != 1 {
		t.Fatalf("expected 1 published before the failure, got %d", n)
	}

	pending, _ := store.PendingOutbox(ctx, 10)
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	if pending[0].Attempts != 1 || pending[0].LastError == "" {
		t.Fatalf("failure not recorded: %+v", pending[0])
	}

	pub.failOn = nil
	if n := r.Flush(ctx); n != 2 {
		t.Fatalf("expected retry to publish 2, got %d", n)
	}
}

func TestRelayLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewRelay(storage.NewMemoryStore(), &fakePublisher{}, RelayConfig{PollInterval: 10 * time.Millisecond, BatchSize: 1}, log.Discard())
	if r.IsRunning() {
		t.Fatal("relay should not be running initially")
	}
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(ctx); err == nil {
		t.Error("expected error when starting already running relay")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if r.IsRunning() {
		t.Error("relay should not be running after stop")
	}
	if err := r.Stop(stopCtx); err != nil {
		t.Errorf("stopping a stopped relay should be a no-op, got %v", err)
	}
}

func TestBalanceExportWorker(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := budget.NewService(store, log.Discard())

	group, err := svc.CreateGroup(ctx, "fam", budget.GroupInput{Name: "Living", Type: core.GroupExpense})
	if err != nil {
		t.Fatal(err)
	}
	cat, err := svc.CreateCategory(ctx, "fam", budget.CategoryInput{GroupKey: group.Key, Name: "Rent"})
	if err != nil {
		t.Fatal(err)
	}
	p, err := svc.CreatePeriod(ctx, "fam", budget.PeriodInput{Start: core.NewDate(2025, 1, 1), End: core.NewDate(2025, 1, 14)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AssignMoney(ctx, "fam", p.Key, cat.Key, core.NewMoney(90000)); err != nil {
		t.Fatal(err)
	}

	out := sheetsmem.New()
	w := NewBalanceExportWorker(svc, out, log.Discard())

	payload, _ := json.Marshal(events.RecalculatedPayload{StartPeriodKey: p.Key, PeriodKeys: []string{p.Key, "pp-gone"}, AffectedPeriods: 2})
	msg := amqp.NewEventMessage(1, events.BudgetRecalculated, "fam", p.Key, payload, time.Time{})
	if err := w.HandleMessage(ctx, msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	table, ok := out.Table("fam", p.Key)
	if !ok || len(table) != 3 || table[1][3] != "900.00" {
		t.Fatalf("unexpected exported table %v", table)
	}

	other := amqp.NewEventMessage(2, events.TransactionCreated, "fam", "tx", []byte(`{}`), time.Time{})
	if err := w.HandleMessage(ctx, other); err != nil {
		t.Fatalf("unrelated events must be ignored, got %v", err)
	}
	bad := amqp.NewEventMessage(3, events.BudgetRecalculated, "fam", "x", []byte(`not json`), time.Time{})
	if err := w.HandleMessage(ctx, bad); err != nil {
		t.Fatalf("malformed events must be dropped, got %v", err)
	}
	if out.Exports() != 1 {
		t.Fatalf("expected exactly one export, got %d", out.Exports())
	}
}
