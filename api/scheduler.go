/*
scheduler.go - Periodic ledger sweeps

PURPOSE:
  Time moves obligations forward without anyone calling the API: splits
  pass their due date, invoices pass theirs, and external payments whose
  provider never called back go stale. The scheduler runs those sweeps on
  a ticker. It keeps no ledger state of its own; every sweep is an
  idempotent component operation.

SWEEPS (in order):
  1. obligation.MarkOverdue  - pending/partial splits past due_date
  2. invoice.MarkOverdue     - unpaid invoices past due_date
  3. payment.ExpireStale     - pending/processing payments older than the TTL

CONFIGURATION:
  - CheckInterval: How often to sweep (SCHEDULER_INTERVAL, default 1 hour)
  - Enabled: Whether the ticker runs (default: true)

USAGE:
  scheduler := NewScheduler(obligations, invoices, payments, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Sweep endpoint (manual run)
*/
package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/costledger/invoice"
	"github.com/warp/costledger/obligation"
	"github.com/warp/costledger/payment"
)

// SweepResult reports what one sweep changed.
type SweepResult struct {
	OverdueSplits   int       `json:"overdue_splits"`
	OverdueInvoices int       `json:"overdue_invoices"`
	ExpiredPayments int       `json:"expired_payments"`
	RanAt           time.Time `json:"ran_at"`
}

// Scheduler runs the ledger sweeps periodically.
type Scheduler struct {
	Obligations   *obligation.Ledger
	Invoices      *invoice.Aggregator
	Payments      *payment.Reconciler
	CheckInterval time.Duration
	Enabled       bool

	logger  *slog.Logger
	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	sweepMu sync.Mutex
}

// NewScheduler creates a new scheduler.
func NewScheduler(obligations *obligation.Ledger, invoices *invoice.Aggregator, payments *payment.Reconciler, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		Obligations:   obligations,
		Invoices:      invoices,
		Payments:      payments,
		CheckInterval: time.Hour,
		Enabled:       true,
		logger:        logger.With("component", "scheduler"),
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.logger.Info("scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	s.logger.Info("scheduler started", "interval", s.CheckInterval)
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.logger.Info("scheduler stopped")
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.sweep()

	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.CheckInterval)
	defer cancel()

	if _, err := s.RunNow(ctx); err != nil {
		s.logger.Error("sweep failed", "error", err)
	}
}

// RunNow runs every sweep once. A failing sweep does not stop the others;
// their errors are joined.
func (s *Scheduler) RunNow(ctx context.Context) (SweepResult, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	var (
		res  = SweepResult{RanAt: time.Now().UTC()}
		errs []error
		err  error
	)

	if res.OverdueSplits, err = s.Obligations.MarkOverdue(ctx); err != nil {
		errs = append(errs, err)
	}
	if res.OverdueInvoices, err = s.Invoices.MarkOverdue(ctx); err != nil {
		errs = append(errs, err)
	}
	if res.ExpiredPayments, err = s.Payments.ExpireStale(ctx); err != nil {
		errs = append(errs, err)
	}

	s.logger.Info("sweep finished",
		"overdue_splits", res.OverdueSplits,
		"overdue_invoices", res.OverdueInvoices,
		"expired_payments", res.ExpiredPayments)
	return res, errors.Join(errs...)
}

// NextRunTime returns when the next scheduled sweep will occur.
func (s *Scheduler) NextRunTime() time.Time {
	return time.Now().Add(s.CheckInterval)
}
