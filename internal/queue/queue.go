// Package queue is the hand-off between discovery and processing. Delivery
// is at-least-once: a message whose handler fails is delivered again, so
// handlers must tolerate seeing the same item more than once.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"webmetrics/internal/logger"
)

// WorkItem is one export file to process.
type WorkItem struct {
	Site       string     `json:"site"`
	FilePath   string     `json:"file_path"`
	ReportDate time.Time  `json:"report_date"`
	EndDate    *time.Time `json:"end_date,omitempty"`
}

// Message wraps a WorkItem for delivery. ID is kept across redeliveries;
// Attempt starts at 1.
type Message struct {
	ID      string
	Item    WorkItem
	Attempt int
}

// Handler processes one delivery. A non-nil error asks for redelivery.
type Handler func(ctx context.Context, msg Message) error

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("queue: closed")

// Options configure a Memory queue. Zero values get defaults.
type Options struct {
	Size            int
	Workers         int
	MaxDeliveries   int
	RedeliveryDelay time.Duration

	// OnRedeliver is called each time a failed message is scheduled again.
	OnRedeliver func(msg Message, err error)
	// OnDeadLetter is called once a message has used up its deliveries.
	OnDeadLetter func(msg Message, err error)
}

// Memory is an in-process queue with a bounded consumer pool.
type Memory struct {
	opts   Options
	logger *logger.Logger

	ch chan Message

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

func NewMemory(opts Options, log *logger.Logger) *Memory {
	if opts.Size <= 0 {
		opts.Size = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 12
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = 5
	}
	if opts.RedeliveryDelay < 0 {
		opts.RedeliveryDelay = 0
	}
	return &Memory{
		opts:   opts,
		logger: log,
		ch:     make(chan Message, opts.Size),
	}
}

// Publish enqueues item as a new message.
func (q *Memory) Publish(ctx context.Context, item WorkItem) error {
	return q.send(ctx, Message{ID: uuid.NewString(), Item: item, Attempt: 1})
}

func (q *Memory) send(ctx context.Context, msg Message) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.pending.Add(1)
	q.mu.Unlock()

	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		q.pending.Done()
		return ctx.Err()
	}
}

// Len is the number of messages waiting for a consumer.
func (q *Memory) Len() int {
	return len(q.ch)
}

// Subscribe runs Workers consumers until ctx is cancelled, then returns
// ctx.Err(). Messages still buffered at that point are dropped; the next
// discovery pass publishes them again.
func (q *Memory) Subscribe(ctx context.Context, h Handler) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < q.opts.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case msg := <-q.ch:
					q.deliver(gctx, h, msg)
				}
			}
		})
	}
	return g.Wait()
}

func (q *Memory) deliver(ctx context.Context, h Handler, msg Message) {
	defer q.pending.Done()

	err := h(ctx, msg)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		return
	}

	if msg.Attempt >= q.opts.MaxDeliveries {
		q.logger.Error("[queue] message %s for %s dead-lettered after %d attempts: %v",
			msg.ID, msg.Item.FilePath, msg.Attempt, err)
		if q.opts.OnDeadLetter != nil {
			q.opts.OnDeadLetter(msg, err)
		}
		return
	}

	next := msg
	next.Attempt++
	q.logger.Warn("[queue] message %s for %s failed (attempt %d/%d): %v; redelivering in %v",
		msg.ID, msg.Item.FilePath, msg.Attempt, q.opts.MaxDeliveries, err, q.opts.RedeliveryDelay)
	if q.opts.OnRedeliver != nil {
		q.opts.OnRedeliver(msg, err)
	}

	q.pending.Add(1)
	go func() {
		defer q.pending.Done()
		if q.opts.RedeliveryDelay > 0 {
			t := time.NewTimer(q.opts.RedeliveryDelay)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return
			}
		}
		if err := q.send(ctx, next); err != nil {
			q.logger.Error("[queue] redelivery of %s for %s failed: %v", next.ID, next.Item.FilePath, err)
		}
	}()
}

// Drain blocks until every published message, including scheduled
// redeliveries, has been handled. Only call it while Subscribe is running.
func (q *Memory) Drain() {
	q.pending.Wait()
}

// Close rejects further publishes.
func (q *Memory) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
