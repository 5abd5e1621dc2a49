// Package worker holds the background processes of the ledger worker: the
// outbox relay that publishes committed events and the consumer that
// exports recalculated budgets.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lifeops/internal/amqp"
	"lifeops/internal/log"
	"lifeops/internal/storage"
)

// Publisher sends one event message to the broker.
type Publisher interface {
	Publish(ctx context.Context, msg *amqp.EventMessage) error
}

// Outbox is the part of the store the relay drains.
type Outbox interface {
	PendingOutbox(ctx context.Context, limit int) ([]storage.OutboxEvent, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkPublishError(ctx context.Context, id int64, cause string) error
}

// RelayConfig holds configuration for the outbox relay
type RelayConfig struct {
	// PollInterval is how often to check for unpublished events (default: 5s)
	PollInterval time.Duration

	// BatchSize is the max number of events published per poll cycle (default: 50)
	BatchSize int
}

// DefaultRelayConfig returns sensible defaults
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    50,
	}
}

// Relay publishes outbox events in id order. An event that fails to publish
// stays pending with its attempt count raised and is retried on the next
// cycle; events behind it in the same batch are not published until it
// succeeds, so consumers see each family's events in commit order.
type Relay struct {
	outbox    Outbox
	publisher Publisher
	config    RelayConfig
	logger    *log.Logger

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewRelay(outbox Outbox, publisher Publisher, config RelayConfig, logger *log.Logger) *Relay {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultRelayConfig().PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultRelayConfig().BatchSize
	}
	if logger == nil {
		logger = log.Default(log.ComponentWorker)
	}
	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		config:    config,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

// Start begins the relay loop. Returns an error if already running.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("outbox relay is already running")
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	go r.runLoop(ctx)

	r.logger.InfoContext(ctx, "Outbox relay started",
		"poll_interval", r.config.PollInterval,
		"batch_size", r.config.BatchSize)
	return nil
}

// Stop gracefully stops the relay and waits for the current batch.
func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	close(r.stopCh)

	select {
	case <-r.doneCh:
		r.logger.InfoContext(ctx, "Outbox relay stopped gracefully")
	case <-ctx.Done():
		r.logger.WarnContext(ctx, "Outbox relay stop timed out")
		return ctx.Err()
	}

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	return nil
}

// IsRunning returns whether the relay is currently running
func (r *Relay) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Relay) runLoop(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	// Drain immediately on startup
	r.Flush(ctx)

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Flush(ctx)
		}
	}
}

// Flush publishes one batch of pending events and returns how many were
// published.
func (r *Relay) Flush(ctx context.Context) int {
	events, err := r.outbox.PendingOutbox(ctx, r.config.BatchSize)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to read outbox", log.FieldError, err)
		return 0
	}
	if len(events) == 0 {
		return 0
	}
	r.logger.DebugContext(ctx, "Publishing outbox batch", log.FieldCount, len(events))

	published := 0
	for _, ev := range events {
		if ctx.Err() != nil {
			return published
		}
		msg := amqp.NewEventMessage(ev.ID, ev.Type, ev.Family, ev.AggregateKey, ev.Payload, ev.CreatedAt)
		if err := r.publisher.Publish(ctx, msg); err != nil {
			r.logger.WarnContext(ctx, "Outbox publish failed",
				log.FieldEventID, ev.ID,
				log.FieldEventType, ev.Type,
				"attempt", ev.Attempts+1,
				log.FieldError, err)
			if markErr := r.outbox.MarkPublishError(ctx, ev.ID, err.Error()); markErr != nil {
				r.logger.ErrorContext(ctx, "Failed to record publish error", log.FieldEventID, ev.ID, log.FieldError, markErr)
			}
			return published
		}
		if err := r.outbox.MarkPublished(ctx, ev.ID); err != nil {
			// the event was delivered; it may be delivered again after a restart
			r.logger.ErrorContext(ctx, "Failed to mark event published", log.FieldEventID, ev.ID, log.FieldError, err)
			continue
		}
		published++
	}
	r.logger.InfoContext(ctx, "Published outbox events", log.FieldCount, published)
	return published
}
