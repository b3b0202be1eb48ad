// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testOrder struct {
	id string
}

func (o testOrder) QueueKey() string { return o.id }

type recordingHandler struct {
	mu          sync.Mutex
	completed   []string
	successes   map[string]bool
	failUntil   map[string]int
	attempts    map[string]int
	requeueSeen map[string]int
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		successes:   make(map[string]bool),
		failUntil:   make(map[string]int),
		attempts:    make(map[string]int),
		requeueSeen: make(map[string]int),
	}
}

func (h *recordingHandler) HandleOrder(_ context.Context, order testOrder, retryCount int) (any, error) {
	h.mu.Lock()
	h.attempts[order.id]++
	threshold := h.failUntil[order.id]
	h.mu.Unlock()

	if retryCount < threshold {
		return nil, errTransient
	}
	return "ok", nil
}

var errTransient = &transientError{}

type transientError struct{}

func (e *transientError) Error() string { return "transient" }

func (h *recordingHandler) HandleFailedOrder(_ context.Context, _ testOrder, _ int, _ error) bool {
	return true
}

func (h *recordingHandler) OnOrderCompletion(order testOrder, success bool, _ any, _ int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.completed = append(h.completed, order.id)
	h.successes[order.id] = success
}

func TestQueueLiveness(t *testing.T) {
	handler := newRecordingHandler()
	q := New[testOrder](zap.NewNop(), handler, Options{RetryInterval: 10 * time.Millisecond, MaxTries: 5})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	q.Add(testOrder{id: "a"})
	q.Add(testOrder{id: "b"})

	require.Eventually(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.completed) == 2
	}, time.Second, time.Millisecond, "every enqueued order must reach OnOrderCompletion exactly once")

	handler.mu.Lock()
	defer handler.mu.Unlock()
	require.True(t, handler.successes["a"])
	require.True(t, handler.successes["b"])
}

func TestQueueRetryThenSucceed(t *testing.T) {
	handler := newRecordingHandler()
	handler.failUntil["a"] = 2 // fails on retryCount 0 and 1, succeeds on 2

	q := New[testOrder](zap.NewNop(), handler, Options{RetryInterval: 5 * time.Millisecond, MaxTries: 5})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	q.Add(testOrder{id: "a"})

	require.Eventually(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.completed) == 1
	}, time.Second, time.Millisecond)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	require.True(t, handler.successes["a"])
	require.GreaterOrEqual(t, handler.attempts["a"], 3)
}

func TestQueueMaxTriesExhausted(t *testing.T) {
	handler := newRecordingHandler()
	handler.failUntil["a"] = 100 // never succeeds

	q := New[testOrder](zap.NewNop(), handler, Options{RetryInterval: 2 * time.Millisecond, MaxTries: 3})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	q.Add(testOrder{id: "a"})

	require.Eventually(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.completed) == 1
	}, time.Second, time.Millisecond)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	require.False(t, handler.successes["a"])
	require.Equal(t, 3, handler.attempts["a"])
}

func TestQueueRequeueIncrementsCount(t *testing.T) {
	var seen int32
	handler := newRecordingHandler()
	q := New[testOrder](zap.NewNop(), handler, Options{RetryInterval: 5 * time.Millisecond, MaxTries: 2})

	q.Add(testOrder{id: "a"})
	q.mu.Lock()
	e, ok := q.byKey["a"]
	q.mu.Unlock()
	require.True(t, ok)
	require.Equal(t, 0, e.requeueCount)

	q.Requeue(testOrder{id: "a"})
	q.mu.Lock()
	e, ok = q.byKey["a"]
	q.mu.Unlock()
	require.True(t, ok)
	require.Equal(t, 1, e.requeueCount)
	atomic.AddInt32(&seen, 1)
	require.EqualValues(t, 1, seen)
}

func TestQueueDepthTracksPending(t *testing.T) {
	handler := newRecordingHandler()
	handler.failUntil["a"] = 100
	q := New[testOrder](zap.NewNop(), handler, Options{RetryInterval: time.Hour, MaxTries: 100})

	require.EqualValues(t, 0, q.Depth())
	q.Add(testOrder{id: "a"})
	require.EqualValues(t, 1, q.Depth())
}
