package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/google/uuid"
)

// MemoryQueue is the process local revoke queue used when no Redis URL is
// configured. Messages with an idempotency key are dropped while an equal key
// is pending. Nothing survives a restart.
type MemoryQueue struct {
	mu          sync.Mutex
	pending     []*memoryEntry
	keys        map[string]struct{}
	deadLetters []*job.ExecutionMessage
	notify      chan struct{}
	closed      bool
}

type memoryEntry struct {
	id       string
	msg      *job.ExecutionMessage
	attempts int
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		keys:   map[string]struct{}{},
		notify: make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	if msg == nil {
		return queue.EnqueueReceipt{}, fmt.Errorf("gojob: message is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.EnqueueReceipt{}, fmt.Errorf("gojob: queue is closed")
	}
	receipt := queue.EnqueueReceipt{DispatchID: uuid.NewString(), EnqueuedAt: time.Now().UTC()}
	key := strings.TrimSpace(msg.IdempotencyKey)
	if key != "" {
		if _, ok := q.keys[key]; ok {
			return receipt, nil
		}
		q.keys[key] = struct{}{}
	}
	q.pending = append(q.pending, &memoryEntry{id: receipt.DispatchID, msg: msg})
	q.signalLocked()
	return receipt, nil
}

// Dequeue blocks until a message is available or ctx is done.
func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, fmt.Errorf("gojob: queue is closed")
		}
		if len(q.pending) > 0 {
			entry := q.pending[0]
			q.pending = q.pending[1:]
			entry.attempts++
			if len(q.pending) > 0 {
				q.signalLocked()
			}
			q.mu.Unlock()
			return &memoryDelivery{queue: q, entry: entry}, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *MemoryQueue) DeadLetters() []*job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*job.ExecutionMessage(nil), q.deadLetters...)
}

func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.signalLocked()
}

func (q *MemoryQueue) settle(entry *memoryEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.keys, strings.TrimSpace(entry.msg.IdempotencyKey))
}

func (q *MemoryQueue) requeue(entry *memoryEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pending = append(q.pending, entry)
	q.signalLocked()
}

func (q *MemoryQueue) deadLetter(entry *memoryEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.keys, strings.TrimSpace(entry.msg.IdempotencyKey))
	q.deadLetters = append(q.deadLetters, entry.msg)
}

func (q *MemoryQueue) signalLocked() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

type memoryDelivery struct {
	queue   *MemoryQueue
	entry   *memoryEntry
	settled sync.Once
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.entry.msg
}

// Attempts lets the go-job worker feed the delivery count to its retry policy.
func (d *memoryDelivery) Attempts() int {
	return d.entry.attempts
}

func (d *memoryDelivery) Ack(context.Context) error {
	d.settled.Do(func() {
		d.queue.settle(d.entry)
	})
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	if err := queue.ValidateNackOptions(opts); err != nil {
		return err
	}
	d.settled.Do(func() {
		switch opts.Disposition {
		case queue.NackDispositionRetry:
			if opts.Delay > 0 {
				time.AfterFunc(opts.Delay, func() { d.queue.requeue(d.entry) })
				return
			}
			d.queue.requeue(d.entry)
		case queue.NackDispositionDeadLetter:
			d.queue.deadLetter(d.entry)
		default:
			d.queue.settle(d.entry)
		}
	})
	return nil
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
