package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const (
	notificationEventQueued  = "notification.queued"
	notificationEventSent    = "notification.sent"
	notificationEventFailed  = "notification.failed"
	notificationEventDropped = "notification.dropped"
	notificationEventSkipped = "notification.skipped"
	notificationEventPanic   = "notification.panic"

	defaultNotificationQueueSize   = 256
	defaultNotificationWorkers     = 2
	defaultNotificationSendTimeout = 10 * time.Second
)

// ErrDispatcherClosed is returned by Close when called twice.
var ErrDispatcherClosed = errors.New("notification dispatcher: closed")

// NotificationDispatcherDeps configures the asynchronous confirmation dispatcher.
type NotificationDispatcherDeps struct {
	Sender      OrderNotificationSender
	Builder     *ConfirmationBuilder
	QueueSize   int
	Workers     int
	SendTimeout time.Duration
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type notificationJob struct {
	ctx   context.Context
	order Order
}

// AsyncNotificationDispatcher buffers confirmations in a bounded queue drained by a fixed
// worker pool. Enqueueing never blocks; a full queue drops the confirmation.
type AsyncNotificationDispatcher struct {
	sender      OrderNotificationSender
	builder     *ConfirmationBuilder
	workers     int
	sendTimeout time.Duration
	logger      func(context.Context, string, map[string]any)

	queue     chan notificationJob
	dropped   atomic.Int64
	failed    atomic.Int64
	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
	wg        sync.WaitGroup
}

var _ NotificationDispatcher = (*AsyncNotificationDispatcher)(nil)

// NewNotificationDispatcher validates deps and allocates the queue. Workers start with Start.
func NewNotificationDispatcher(deps NotificationDispatcherDeps) (*AsyncNotificationDispatcher, error) {
	if deps.Sender == nil {
		return nil, errors.New("notification dispatcher: sender is required")
	}
	builder := deps.Builder
	if builder == nil {
		builder = NewConfirmationBuilder("", "fr")
	}
	queueSize := deps.QueueSize
	if queueSize <= 0 {
		queueSize = defaultNotificationQueueSize
	}
	workers := deps.Workers
	if workers <= 0 {
		workers = defaultNotificationWorkers
	}
	timeout := deps.SendTimeout
	if timeout <= 0 {
		timeout = defaultNotificationSendTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &AsyncNotificationDispatcher{
		sender:      deps.Sender,
		builder:     builder,
		workers:     workers,
		sendTimeout: timeout,
		logger:      logger,
		queue:       make(chan notificationJob, queueSize),
	}, nil
}

// Start launches the worker pool. Calling it more than once has no effect.
func (d *AsyncNotificationDispatcher) Start() {
	d.startOnce.Do(func() {
		d.wg.Add(d.workers)
		for i := 0; i < d.workers; i++ {
			go d.work()
		}
	})
}

// NotifyOrderConfirmed schedules a confirmation for the order's contact address.
func (d *AsyncNotificationDispatcher) NotifyOrderConfirmed(ctx context.Context, order Order) {
	fields := map[string]any{"orderId": order.ID}
	if order.Purchaser.ContactEmail() == "" {
		fields["reason"] = "no_recipient"
		d.logger(ctx, notificationEventSkipped, fields)
		return
	}

	order.Items = slices.Clone(order.Items)
	job := notificationJob{ctx: context.WithoutCancel(ctx), order: order}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		fields["reason"] = "closed"
		d.logger(ctx, notificationEventDropped, fields)
		return
	}
	select {
	case d.queue <- job:
		d.logger(ctx, notificationEventQueued, fields)
	default:
		d.dropped.Add(1)
		fields["reason"] = "queue_full"
		fields["capacity"] = cap(d.queue)
		d.logger(ctx, notificationEventDropped, fields)
	}
}

// Close stops accepting work and waits for queued confirmations to drain or ctx to end.
func (d *AsyncNotificationDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	// Drain synchronously when Start was never called.
	d.startOnce.Do(func() {
		d.wg.Add(1)
		go d.work()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notification dispatcher: drain: %w", ctx.Err())
	}
}

// QueueStats reports the current backlog and the confirmations lost since start.
func (d *AsyncNotificationDispatcher) QueueStats() NotificationQueueStats {
	return NotificationQueueStats{
		Depth:    len(d.queue),
		Capacity: cap(d.queue),
		Dropped:  d.dropped.Load(),
		Failed:   d.failed.Load(),
	}
}

func (d *AsyncNotificationDispatcher) work() {
	defer d.wg.Done()
	for job := range d.queue {
		d.deliver(job)
	}
}

func (d *AsyncNotificationDispatcher) deliver(job notificationJob) {
	fields := map[string]any{"orderId": job.order.ID}
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			fields["panic"] = fmt.Sprint(r)
			fields["stack"] = string(debug.Stack())
			d.logger(job.ctx, notificationEventPanic, fields)
		}
	}()

	confirmation, err := d.builder.Build(job.order)
	if err != nil {
		d.failed.Add(1)
		fields["error"] = err.Error()
		d.logger(job.ctx, notificationEventFailed, fields)
		return
	}

	ctx, cancel := context.WithTimeout(job.ctx, d.sendTimeout)
	defer cancel()
	if err := d.sender.SendOrderConfirmation(ctx, confirmation); err != nil {
		d.failed.Add(1)
		fields["error"] = err.Error()
		d.logger(job.ctx, notificationEventFailed, fields)
		return
	}
	fields["orderNumber"] = confirmation.OrderNumber
	fields["locale"] = confirmation.Locale
	d.logger(job.ctx, notificationEventSent, fields)
}
