// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package queue implements the generic bounded retry queue shared by the
// Evaluator and Submitter pipeline stages. It is intentionally
// domain-agnostic: callers plug in handleOrder, handleFailedOrder, and
// onOrderCompletion.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Handler is the pluggable behavior of a ProcessingQueue.
type Handler[T any] interface {
	// HandleOrder attempts to process order. A nil result with a nil error
	// means "skip without retrying". A non-nil error triggers HandleFailedOrder.
	HandleOrder(ctx context.Context, order T, retryCount int) (result any, err error)

	// HandleFailedOrder is called after HandleOrder returns an error. It
	// returns whether the order should be retried.
	HandleFailedOrder(ctx context.Context, order T, retryCount int, cause error) bool

	// OnOrderCompletion is called exactly once per order, with success=true
	// only when HandleOrder produced a terminal non-nil result.
	OnOrderCompletion(order T, success bool, result any, retryCount int)
}

// Keyed is implemented by order types that carry a stable identity used for
// Requeue, so re-adding the same logical order updates it in place instead
// of creating a duplicate entry.
type Keyed interface {
	QueueKey() string
}

// RequeueCounter is implemented by order types that want to observe how many
// times they have folded into an already-tracked entry. WithRequeueCount
// returns a copy stamped with the queue's running count, so HandleOrder can
// tell a first submission from a resubmission of the same logical delivery.
type RequeueCounter[T any] interface {
	WithRequeueCount(n int) T
}

type entry[T any] struct {
	order        T
	key          string
	correlation  string
	processAt    time.Time
	retryCount   int
	requeueCount int
	index        int // heap index, maintained by container/heap
}

type entryHeap[T any] []*entry[T]

func (h entryHeap[T]) Len() int           { return len(h) }
func (h entryHeap[T]) Less(i, j int) bool { return h[i].processAt.Before(h[j].processAt) }
func (h entryHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap[T]) Push(x any) {
	e := x.(*entry[T])
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Options configure retry scheduling.
type Options struct {
	RetryInterval time.Duration
	MaxTries      int
}

// ProcessingQueue is a bounded FIFO of pending orders with per-order retry
// state. It is safe for concurrent use by one producer (Add/Requeue) and
// one consumer goroutine (Run).
type ProcessingQueue[T any] struct {
	logger  *zap.Logger
	handler Handler[T]
	opts    Options

	mu      sync.Mutex
	pending entryHeap[T]
	byKey   map[string]*entry[T]
	notify  chan struct{}

	depth atomic.Int64
}

func New[T any](logger *zap.Logger, handler Handler[T], opts Options) *ProcessingQueue[T] {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Second
	}
	if opts.MaxTries <= 0 {
		opts.MaxTries = 1
	}
	q := &ProcessingQueue[T]{
		logger:  logger,
		handler: handler,
		opts:    opts,
		byKey:   make(map[string]*entry[T]),
		notify:  make(chan struct{}, 1),
	}
	heap.Init(&q.pending)
	return q
}

// Depth returns the number of orders currently queued (pending retry or
// awaiting first attempt). Exposed for the Prometheus queue-depth gauge.
func (q *ProcessingQueue[T]) Depth() int64 { return q.depth.Load() }

// Add enqueues a brand-new order for immediate processing.
func (q *ProcessingQueue[T]) Add(order T) {
	q.enqueue(order, "", true)
}

// Requeue adds order back onto the queue, incrementing RequeueCount and
// resetting retry state if the order (by QueueKey) is already tracked. This
// is how the Submitter pipeline composes its three stages: a SubmitOrder
// that advances from evaluation to submission is Requeue'd onto the next
// ProcessingQueue rather than Add'd fresh.
func (q *ProcessingQueue[T]) Requeue(order T) {
	q.enqueue(order, "", false)
}

// AddWithCorrelation behaves like Add but stamps the given correlation id
// into the log fields emitted for this order; it does not affect queueing
// semantics (messageIdentifier/QueueKey remains the only identity).
func (q *ProcessingQueue[T]) AddWithCorrelation(order T, correlationID string) {
	q.enqueue(order, correlationID, true)
}

func (q *ProcessingQueue[T]) enqueue(order T, correlationID string, fresh bool) {
	_ = fresh // Add and Requeue currently share identical dedup-by-key semantics.
	key := ""
	if k, ok := any(order).(Keyed); ok {
		key = k.QueueKey()
	} else {
		key = uuid.NewString()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.byKey[key]; ok {
		// Already tracked (still pending or mid-retry): fold in as a
		// requeue rather than create a duplicate entry, preserving
		// at-most-one-delivery per messageIdentifier.
		existing.order = order
		existing.requeueCount++
		if rc, ok := any(existing.order).(RequeueCounter[T]); ok {
			existing.order = rc.WithRequeueCount(existing.requeueCount)
		}
		existing.retryCount = 0
		existing.processAt = time.Now()
		if correlationID != "" {
			existing.correlation = correlationID
		}
		heap.Fix(&q.pending, existing.index)
		q.signal()
		return
	}

	e := &entry[T]{
		order:       order,
		key:         key,
		correlation: correlationID,
		processAt:   time.Now(),
	}
	q.byKey[key] = e
	heap.Push(&q.pending, e)
	q.depth.Add(1)
	q.signal()
}

func (q *ProcessingQueue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is cancelled, calling handler hooks as
// orders become eligible (processAt <= now). Run is meant to be the body of
// a single dedicated goroutine per queue.
func (q *ProcessingQueue[T]) Run(ctx context.Context) {
	timer := time.NewTimer(q.opts.RetryInterval)
	defer timer.Stop()

	for {
		next, ok := q.popEligible()
		if ok {
			q.process(ctx, next)
			continue
		}

		wait := q.opts.RetryInterval
		if d, ok := q.nextWait(); ok && d < wait {
			wait = d
		}
		if wait < 0 {
			wait = 0
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-q.notify:
		case <-timer.C:
		}
	}
}

func (q *ProcessingQueue[T]) nextWait() (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return 0, false
	}
	return time.Until(q.pending[0].processAt), true
}

func (q *ProcessingQueue[T]) popEligible() (*entry[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false
	}
	if q.pending[0].processAt.After(time.Now()) {
		return nil, false
	}
	e := heap.Pop(&q.pending).(*entry[T])
	delete(q.byKey, e.key)
	q.depth.Add(-1)
	return e, true
}

func (q *ProcessingQueue[T]) process(ctx context.Context, e *entry[T]) {
	result, err := q.handler.HandleOrder(ctx, e.order, e.retryCount)
	if err != nil {
		q.logger.Debug("order processing failed",
			zap.String("queueKey", e.key),
			zap.String("correlationId", e.correlation),
			zap.Int("retryCount", e.retryCount),
			zap.Error(err),
		)
		if e.retryCount+1 >= q.opts.MaxTries {
			q.handler.OnOrderCompletion(e.order, false, nil, e.retryCount)
			return
		}
		if q.handler.HandleFailedOrder(ctx, e.order, e.retryCount, err) {
			q.reinsert(e)
			return
		}
		q.handler.OnOrderCompletion(e.order, false, nil, e.retryCount)
		return
	}
	if result == nil {
		// Skip without retrying: the order completes unsuccessfully.
		q.handler.OnOrderCompletion(e.order, false, nil, e.retryCount)
		return
	}
	q.handler.OnOrderCompletion(e.order, true, result, e.retryCount)
}

func (q *ProcessingQueue[T]) reinsert(e *entry[T]) {
	e.retryCount++
	e.processAt = time.Now().Add(q.opts.RetryInterval)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.byKey[e.key] = e
	heap.Push(&q.pending, e)
	q.depth.Add(1)
	q.signal()
}
