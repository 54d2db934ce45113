/*
notify.go - Fire-and-forget event publishing

PURPOSE:
  Ledger components announce cost.created, payment.completed,
  payment.failed and invoice.generated after their transaction commits.
  Publishing never blocks the caller and never reports an error back:
  the ledger mutation already succeeded and must not be rolled back.

DESIGN:
  - Dispatcher owns a buffered queue and one worker goroutine
  - Each sink gets bounded exponential-backoff retries per event
  - A full queue or exhausted retries is logged and counted, nothing more
  - Close drains what is queued, bounded by the caller's context

SINKS:
  - LogSink:   structured log line per event
  - StoreSink: one notifications row per recipient

SEE ALSO:
  - obligation/ledger.go, payment/reconciler.go, invoice/aggregator.go: publishers
*/
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/warp/costledger/core"
	"github.com/warp/costledger/metrics"
)

// EventType names an event on the bus.
type EventType string

const (
	EventCostCreated      EventType = "cost.created"
	EventPaymentCompleted EventType = "payment.completed"
	EventPaymentFailed    EventType = "payment.failed"
	EventInvoiceGenerated EventType = "invoice.generated"
)

// Event is what publishers hand to the bus.
type Event struct {
	ID         string
	Type       EventType
	OccurredAt time.Time
	Recipients []core.UserID
	EntityType string
	EntityID   string
	Message    string
	Data       map[string]string
}

// Publisher is the boundary components publish through.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Sink delivers events somewhere.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e Event) error
}

// =============================================================================
// DISPATCHER
// =============================================================================

// Dispatcher fans events out to sinks asynchronously.
type Dispatcher struct {
	sinks        []Sink
	queue        chan Event
	maxTries     uint
	initialDelay time.Duration
	timeout      time.Duration
	logger       *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSinks sets the delivery targets.
func WithSinks(sinks ...Sink) Option {
	return func(d *Dispatcher) { d.sinks = append(d.sinks, sinks...) }
}

// WithQueueSize sets the buffered queue capacity.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) { d.queue = make(chan Event, n) }
}

// WithRetry sets the per-sink attempt count and first backoff delay.
func WithRetry(maxTries uint, initialDelay time.Duration) Option {
	return func(d *Dispatcher) {
		d.maxTries = maxTries
		d.initialDelay = initialDelay
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a dispatcher and starts its worker.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:        make(chan Event, 1024),
		maxTries:     3,
		initialDelay: 200 * time.Millisecond,
		timeout:      5 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.wg.Add(1)
	go d.run()
	return d
}

// Publish enqueues e without blocking. Events published after Close,
// or while the queue is full, are dropped and logged.
func (d *Dispatcher) Publish(_ context.Context, e Event) {
	if e.ID == "" {
		e.ID = core.NewID()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(e, errors.New("dispatcher closed"))
		return
	}

	select {
	case d.queue <- e:
	default:
		d.drop(e, errors.New("queue full"))
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notify: close: %w", ctx.Err())
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for e := range d.queue {
		for _, sink := range d.sinks {
			d.deliver(sink, e)
		}
	}
}

func (d *Dispatcher) deliver(sink Sink, e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout*time.Duration(d.maxTries))
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.initialDelay

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		return struct{}{}, sink.Deliver(attemptCtx, e)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(d.maxTries))

	if err != nil {
		metrics.EventsDropped.WithLabelValues(string(e.Type)).Inc()
		d.logger.Error("event delivery failed",
			"sink", sink.Name(),
			"event", e.Type,
			"event_id", e.ID,
			"entity_id", e.EntityID,
			"error", err,
		)
	}
}

func (d *Dispatcher) drop(e Event, reason error) {
	metrics.EventsDropped.WithLabelValues(string(e.Type)).Inc()
	d.logger.Error("event dropped",
		"event", e.Type,
		"event_id", e.ID,
		"entity_id", e.EntityID,
		"reason", reason,
	)
}
