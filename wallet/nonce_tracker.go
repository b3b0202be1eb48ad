// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package wallet

import "container/heap"

// nonceHeap is a min-heap of pending (uncommitted) nonces, the same
// container/heap-backed bookkeeping the relayer has historically used to
// track out-of-order confirmations, here tracking nonces instead of block
// heights.
type nonceHeap []uint64

func (h nonceHeap) Len() int            { return len(h) }
func (h nonceHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h nonceHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nonceHeap) Push(x interface{}) { *h = append(*h, x.(uint64)) }
func (h *nonceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// nonceTracker tracks the highest contiguously-confirmed nonce for a single
// chain's wallet. A transaction's nonce only advances committedNonce once
// every lower nonce has also confirmed, so the Wallet never believes a
// gap-filled nonce is safe to reuse.
type nonceTracker struct {
	committedNonce uint64
	pendingCommits *nonceHeap

	// nextToAssign is a separate monotonic counter handed out to new
	// outgoing transactions; it is independent of committedNonce, which
	// only tracks how far confirmations have caught up.
	nextToAssign uint64
}

func newNonceTracker(startingNonce uint64) *nonceTracker {
	h := &nonceHeap{}
	heap.Init(h)
	return &nonceTracker{
		committedNonce: startingNonce,
		pendingCommits: h,
		nextToAssign:   startingNonce + 1,
	}
}

// commitNonce records that nonce has confirmed, advancing committedNonce
// past every contiguous run of previously-pending nonces it completes.
func (t *nonceTracker) commitNonce(nonce uint64) {
	heap.Push(t.pendingCommits, nonce)
	for t.pendingCommits.Len() > 0 && (*t.pendingCommits)[0] == t.committedNonce+1 {
		t.committedNonce = heap.Pop(t.pendingCommits).(uint64)
	}
}

// assignNonce hands out the next nonce for a new outgoing transaction.
func (t *nonceTracker) assignNonce() uint64 {
	n := t.nextToAssign
	t.nextToAssign++
	return n
}

// pendingCount reports how many nonces have confirmed out of order and are
// still waiting for the gap below them to fill in.
func (t *nonceTracker) pendingCount() int {
	return t.pendingCommits.Len()
}
