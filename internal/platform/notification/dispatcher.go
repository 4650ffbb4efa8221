package notification

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Request is a template send queued on a Dispatcher.
type Request struct {
	TemplateID string
	Recipient  string
	Data       map[string]string
	Metadata   map[string]string
}

// Dispatcher sends notifications from a bounded queue on one goroutine so
// callers never wait on the broker. A full queue drops the request.
type Dispatcher struct {
	manager *NotificationManager
	logger  zerolog.Logger
	timeout time.Duration

	queue  chan Request
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(manager *NotificationManager, logger zerolog.Logger, size int) *Dispatcher {
	if size <= 0 {
		size = 256
	}
	return &Dispatcher{
		manager: manager,
		logger:  logger.With().Str("component", "notification_dispatcher").Logger(),
		timeout: 5 * time.Second,
		queue:   make(chan Request, size),
		done:    make(chan struct{}),
	}
}

// Start runs the send loop until Close drains the queue.
func (d *Dispatcher) Start() {
	go func() {
		defer close(d.done)
		for req := range d.queue {
			d.send(req)
		}
	}()
}

func (d *Dispatcher) send(req Request) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	n, err := d.manager.SendFromTemplate(ctx, req.TemplateID, req.Data, req.Recipient, req.Metadata)
	if err != nil {
		evt := d.logger.Error().Err(err).Str("template", req.TemplateID).Str("recipient", req.Recipient)
		if n != nil {
			evt = evt.Str("notification_id", n.ID)
		}
		evt.Msg("notification delivery failed")
		return
	}
	d.logger.Debug().Str("notification_id", n.ID).Str("template", req.TemplateID).Msg("notification sent")
}

// Enqueue queues req without blocking and reports whether it was accepted.
func (d *Dispatcher) Enqueue(req Request) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- req:
		return true
	default:
		d.logger.Warn().Str("template", req.TemplateID).Str("recipient", req.Recipient).Msg("notification queue full, dropping")
		return false
	}
}

// RetryFailed re-sends every failed notification still in history.
func (d *Dispatcher) RetryFailed(ctx context.Context) int {
	sent := 0
	for _, id := range d.manager.Failed() {
		if err := d.manager.Retry(ctx, id); err != nil {
			d.logger.Warn().Err(err).Str("notification_id", id).Msg("notification retry failed")
			continue
		}
		sent++
	}
	return sent
}

// Close stops accepting requests and waits for the queue to drain or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
