package monnifywebhook

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"golang.org/x/sync/errgroup"
)

var ErrDispatcherClosed = errors.New("dispatcher closed")

// Job is one persisted callback waiting to be reconciled.
type Job struct {
	ReceiptID uuid.UUID
	Callback  PaymentCallback
}

type queued struct {
	ctx context.Context
	job Job
}

type jobHandler interface {
	Handle(ctx context.Context, receiptID uuid.UUID, cb PaymentCallback) error
}

type DispatcherParams struct {
	Handler    jobHandler
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
	Logger     *logger.Logger
}

// Dispatcher runs reconciliation off the request path on a fixed pool of
// workers. Submit never blocks: a full queue rejects the job, and the
// receipt stays RECEIVED for the stale replay sweep.
type Dispatcher struct {
	handler jobHandler
	timeout time.Duration
	logg    *logger.Logger
	jobs    chan queued
	group   *errgroup.Group

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Handler == nil {
		return nil, errors.New("handler required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	workers := params.Workers
	if workers <= 0 {
		workers = 4
	}
	queue := params.QueueSize
	if queue <= 0 {
		queue = 256
	}
	timeout := params.JobTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	d := &Dispatcher{
		handler: params.Handler,
		timeout: timeout,
		logg:    params.Logger,
		jobs:    make(chan queued, queue),
		group:   &errgroup.Group{},
	}
	for i := 0; i < workers; i++ {
		d.group.Go(d.work)
	}
	return d, nil
}

// Submit enqueues the job, carrying request-scoped log fields but not the
// request's cancellation.
func (d *Dispatcher) Submit(ctx context.Context, job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.jobs <- queued{ctx: context.WithoutCancel(ctx), job: job}:
		return nil
	default:
		d.logg.Warn(d.logg.WithPaymentEvent(ctx, job.Callback.TransactionReference, job.Callback.EventType), "webhook queue full; leaving receipt for replay")
		return errors.New("webhook queue full")
	}
}

func (d *Dispatcher) work() error {
	for item := range d.jobs {
		d.run(item.ctx, item.job)
	}
	return nil
}

func (d *Dispatcher) run(parent context.Context, job Job) {
	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			d.logg.Error(d.logg.WithField(ctx, "panic", rec), "webhook job panicked", errors.New("panic"))
		}
	}()
	if err := d.handler.Handle(ctx, job.ReceiptID, job.Callback); err != nil {
		d.logg.Warn(d.logg.WithPaymentEvent(ctx, job.Callback.TransactionReference, job.Callback.EventType), "webhook job finished with error")
	}
}

// Shutdown stops accepting jobs and waits for queued ones to drain, or for
// ctx to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- d.group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
