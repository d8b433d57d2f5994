package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opentreehole/treehole/internal/models"
	"github.com/opentreehole/treehole/internal/push"
	"github.com/opentreehole/treehole/internal/realtime"
	"github.com/opentreehole/treehole/internal/services"
	"github.com/opentreehole/treehole/pkg/logger"
	"github.com/opentreehole/treehole/pkg/metrics"
)

var (
	// ErrPersistence wraps a failed message insert; nothing was broadcast or pushed.
	ErrPersistence = errors.New("notifications: persist message")
	// ErrQueueFull is returned by Notify when the dispatch queue has no room.
	ErrQueueFull = errors.New("notifications: dispatch queue full")
	// ErrStopped is returned by Notify after Stop.
	ErrStopped = errors.New("notifications: dispatcher stopped")
)

const (
	defaultWorkers     = 4
	defaultQueueSize   = 1024
	defaultPushTimeout = 15 * time.Second
)

// MessageStore persists messages.
type MessageStore interface {
	Create(ctx context.Context, input services.CreateMessageInput) (*services.MessageDTO, error)
}

// TokenSource reads the current device tokens of a user.
type TokenSource interface {
	Tokens(ctx context.Context, userID string, service models.PushService) ([]string, error)
}

// DispatcherConfig tunes the worker pool and push deadline.
type DispatcherConfig struct {
	Workers     int
	QueueSize   int
	PushTimeout time.Duration
}

// Dispatcher persists a message per event, broadcasts it to the recipient's
// realtime channel and fans it out to push providers in the background.
type Dispatcher struct {
	store     MessageStore
	tokens    TokenSource
	publisher realtime.Publisher
	adapters  []push.Adapter
	cfg       DispatcherConfig
	log       *zap.Logger

	queue chan Event

	mu      sync.RWMutex
	started bool
	stopped bool

	workers  sync.WaitGroup
	inflight sync.WaitGroup
}

// NewDispatcher wires a dispatcher. publisher and tokens may be nil to disable
// broadcast and push respectively.
func NewDispatcher(store MessageStore, tokens TokenSource, publisher realtime.Publisher, adapters []push.Adapter, cfg DispatcherConfig) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("notifications: message store is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = defaultPushTimeout
	}

	return &Dispatcher{
		store:     store,
		tokens:    tokens,
		publisher: publisher,
		adapters:  adapters,
		cfg:       cfg,
		log:       logger.WithModule("dispatcher"),
		queue:     make(chan Event, cfg.QueueSize),
	}, nil
}

// Start launches the worker pool. Calling it more than once is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startLocked()
}

func (d *Dispatcher) startLocked() {
	if d.started || d.stopped {
		return
	}
	d.started = true
	for i := 0; i < d.cfg.Workers; i++ {
		d.workers.Add(1)
		go d.work()
	}
	d.log.Info("dispatcher started", zap.Int("workers", d.cfg.Workers), zap.Int("queue_size", d.cfg.QueueSize))
}

// Stop refuses new events, drains the queue and waits for in-flight pushes
// until ctx expires.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.startLocked()
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.workers.Wait()
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notifications: stop dispatcher: %w", ctx.Err())
	}
}

// Wait blocks until every push fan-out started so far has finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// Accepting reports whether Notify currently takes events.
func (d *Dispatcher) Accepting() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.started && !d.stopped
}

// Backlog returns the number of queued events and the queue capacity.
func (d *Dispatcher) Backlog() (queued, capacity int) {
	return len(d.queue), cap(d.queue)
}

// Notify enqueues event for a worker and returns immediately.
func (d *Dispatcher) Notify(_ context.Context, event Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		return ErrStopped
	}

	select {
	case d.queue <- event:
		metrics.DispatchQueueDepth.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

// NotifyAll enqueues every event or none of them.
func (d *Dispatcher) NotifyAll(_ context.Context, events []Event) error {
	// Workers only drain the queue, so free space cannot shrink while the
	// write lock keeps Notify out.
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrStopped
	}
	if cap(d.queue)-len(d.queue) < len(events) {
		return ErrQueueFull
	}
	for _, event := range events {
		d.queue <- event
		metrics.DispatchQueueDepth.Inc()
	}
	return nil
}

func (d *Dispatcher) work() {
	defer d.workers.Done()
	for event := range d.queue {
		metrics.DispatchQueueDepth.Dec()
		if err := d.Dispatch(context.Background(), event.RecipientID, event.Text, event.Code, event.Payload); err != nil {
			d.log.Error("dispatch failed",
				zap.String("recipient_id", event.RecipientID),
				zap.String("code", string(event.Code)),
				zap.Error(err),
			)
		}
	}
}

// Dispatch persists one message and broadcasts it. Pushes continue in the
// background after Dispatch returns. Only the insert can fail the call.
func (d *Dispatcher) Dispatch(ctx context.Context, recipientID, text string, code Code, payload Payload) error {
	if ctx == nil {
		ctx = context.Background()
	}
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" || recipientID == "0" {
		return nil
	}

	message, err := d.store.Create(ctx, services.CreateMessageInput{
		UserID: recipientID,
		Text:   text,
		Code:   string(code),
		Data:   payload,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	metrics.MessagesCreated.WithLabelValues(code.metricLabel()).Inc()

	d.broadcast(ctx, recipientID, message)
	d.fanOut(recipientID, text, code, payload, message)
	return nil
}

func (d *Dispatcher) broadcast(ctx context.Context, recipientID string, message *services.MessageDTO) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.Publish(ctx, realtime.UserChannel(recipientID), message); err != nil {
		metrics.RealtimePublish.WithLabelValues("failure").Inc()
		d.log.Warn("realtime publish failed",
			zap.String("recipient_id", recipientID),
			zap.Uint("message_id", message.ID),
			zap.Error(err),
		)
		return
	}
	metrics.RealtimePublish.WithLabelValues("success").Inc()
}

func (d *Dispatcher) fanOut(recipientID, text string, code Code, payload Payload, message *services.MessageDTO) {
	if d.tokens == nil || len(d.adapters) == 0 {
		return
	}

	encoded, err := json.Marshal(message)
	if err != nil {
		d.log.Error("encode push payload", zap.Uint("message_id", message.ID), zap.Error(err))
		return
	}
	notification := push.Notification{
		RecipientID: recipientID,
		Title:       text,
		Subtitle:    Subtitle(code, payload),
		Code:        string(code),
		Message:     encoded,
	}

	for _, adapter := range d.adapters {
		if adapter == nil || !adapter.Enabled() {
			continue
		}
		d.inflight.Add(1)
		go d.push(adapter, notification)
	}
}

func (d *Dispatcher) push(adapter push.Adapter, n push.Notification) {
	defer d.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PushTimeout)
	defer cancel()

	service := adapter.Service()
	tokens, err := d.tokens.Tokens(ctx, n.RecipientID, service)
	if err != nil {
		d.log.Warn("load device tokens failed",
			zap.String("service", string(service)),
			zap.String("recipient_id", n.RecipientID),
			zap.Error(err),
		)
		return
	}
	if len(tokens) == 0 {
		return
	}

	if err := adapter.Push(ctx, n, tokens); err != nil {
		d.log.Warn("push delivery failed",
			zap.String("service", string(service)),
			zap.String("recipient_id", n.RecipientID),
			zap.Int("tokens", len(tokens)),
			zap.Error(err),
		)
	}
}
