// Package audit delivers ledger notifications to their sinks off the
// request path.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mr1hm/go-relief-ledger/internal/metrics"
	"github.com/mr1hm/go-relief-ledger/internal/models"
	"github.com/mr1hm/go-relief-ledger/internal/worker"
)

// Sink receives notifications from the dispatcher. Deliver is called from a
// single worker per aggregate, in commit order.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n models.Notification) error
}

type Config struct {
	Workers         int
	BufferSize      int
	DeliveryTimeout time.Duration
}

// Dispatcher implements ledger.Notifier on top of a keyed worker pool.
// Notify never blocks; when the aggregate's queue is full the notification
// is dropped and counted.
type Dispatcher struct {
	pool    *worker.WorkerPool
	sinks   []Sink
	metrics *metrics.Metrics
	timeout time.Duration
}

func NewDispatcher(cfg Config, m *metrics.Metrics, sinks ...Sink) *Dispatcher {
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 5 * time.Second
	}
	d := &Dispatcher{
		sinks:   sinks,
		metrics: m,
		timeout: cfg.DeliveryTimeout,
	}
	d.pool = worker.NewWorkerPool(cfg.Workers, cfg.BufferSize, d.process)
	return d
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.pool.Start(ctx)
}

// Stop delivers what is already queued and waits for the workers.
func (d *Dispatcher) Stop() {
	d.pool.Stop()
}

func (d *Dispatcher) Notify(n models.Notification) {
	if d.pool.TrySubmit(n.AggregateKey(), n) {
		return
	}
	d.metrics.AuditDropped.Inc()
	slog.Warn("audit queue full, notification dropped",
		"kind", n.Kind,
		"aggregate", n.AggregateKey(),
	)
}

func (d *Dispatcher) Dropped() int64 {
	return d.pool.Dropped()
}

func (d *Dispatcher) process(ctx context.Context, job worker.Job) error {
	n, ok := job.(models.Notification)
	if !ok {
		return fmt.Errorf("unexpected audit job %T", job)
	}

	var errs []error
	for _, sink := range d.sinks {
		deliverCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := sink.Deliver(deliverCtx, n)
		cancel()
		if err != nil {
			d.metrics.AuditDeliveryErrors.WithLabelValues(sink.Name()).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
