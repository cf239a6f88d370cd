package queue

import (
	"context"
	"fmt"
	"sync"

	"cv-backend/internal/shared/telemetry"
)

// Handler processes one message taken off a LocalQueue.
type Handler func(ctx context.Context, msg Message) error

// LocalQueue is an in-process Client backed by a buffered channel.
// Send never blocks: a full buffer yields ErrFull.
type LocalQueue struct {
	ch     chan Message
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewLocalQueue constructs a LocalQueue holding up to buffer pending messages.
func NewLocalQueue(buffer int) *LocalQueue {
	if buffer <= 0 {
		buffer = 1
	}
	return &LocalQueue{ch: make(chan Message, buffer)}
}

// Send enqueues msg without blocking.
func (q *LocalQueue) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrFull
	}
}

// Start launches workers consumer goroutines. They stop when ctx ends or the queue is closed.
func (q *LocalQueue) Start(ctx context.Context, workers int, handle Handler) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func(worker int) {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-q.ch:
					if !ok {
						return
					}
					q.dispatch(ctx, worker, handle, msg)
				}
			}
		}(i)
	}
}

func (q *LocalQueue) dispatch(ctx context.Context, worker int, handle Handler, msg Message) {
	defer func() {
		if rec := recover(); rec != nil {
			telemetry.Error("queue.local.panic", map[string]any{
				"worker":        worker,
				"generation_id": msg.GenerationID,
				"request_id":    msg.RequestID,
				"panic":         fmt.Sprint(rec),
			})
		}
	}()
	if err := handle(ctx, msg); err != nil {
		telemetry.Error("queue.local.handle_failed", map[string]any{
			"worker":        worker,
			"generation_id": msg.GenerationID,
			"request_id":    msg.RequestID,
			"error":         err,
		})
	}
}

// Len returns the number of pending messages.
func (q *LocalQueue) Len() int {
	return len(q.ch)
}

// Close stops accepting messages and waits for consumers to drain the buffer.
func (q *LocalQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

var _ Client = (*LocalQueue)(nil)
