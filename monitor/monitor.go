// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package monitor broadcasts the latest observed block height of a single
// chain to any number of subscribers (the Getter and the Collectors all
// need it, and none of them should poll the RPC endpoint itself).
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bountyrelay/relayer/chainclient"
)

// Height is a single tick of the monitor's broadcast.
type Height struct {
	ChainID uint64
	Block   uint64
}

// Monitor polls client.BlockNumber on a fixed interval and fans the result
// out to every port registered with Subscribe. Subscribers that fail to
// keep up are dropped from a tick rather than blocking the rest.
type Monitor struct {
	chainID  uint64
	client   chainclient.ChainClient
	interval time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	ports    map[chan Height]struct{}
	lastSeen uint64
}

func New(chainID uint64, client chainclient.ChainClient, interval time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		chainID:  chainID,
		client:   client,
		interval: interval,
		logger:   logger,
		ports:    make(map[chan Height]struct{}),
	}
}

// Subscribe registers a new port and returns it along with an unsubscribe
// func. The returned channel is buffered by one so a slow reader never
// blocks the broadcast loop for longer than a single tick.
func (m *Monitor) Subscribe() (<-chan Height, func()) {
	port := make(chan Height, 1)
	m.mu.Lock()
	m.ports[port] = struct{}{}
	m.mu.Unlock()

	unsubscribe := func() {
		m.mu.Lock()
		delete(m.ports, port)
		m.mu.Unlock()
		close(port)
	}
	return port, unsubscribe
}

// LastSeen returns the most recently broadcast height, or 0 if none yet.
func (m *Monitor) LastSeen() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeen
}

// PollOnce fetches and broadcasts the current height a single time, outside
// of Run's ticker loop. It exists for callers (tests, and a one-shot warm-up
// before Run's first tick fires) that need a height available immediately.
func (m *Monitor) PollOnce(ctx context.Context) { m.poll(ctx) }

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	block, err := m.client.BlockNumber(ctx)
	if err != nil {
		m.logger.Warn("failed to fetch block height", zap.Uint64("chainID", m.chainID), zap.Error(err))
		return
	}

	m.mu.Lock()
	if block <= m.lastSeen {
		m.mu.Unlock()
		return
	}
	m.lastSeen = block
	height := Height{ChainID: m.chainID, Block: block}
	for port := range m.ports {
		select {
		case port <- height:
		default:
			m.logger.Debug("dropped height tick for slow subscriber", zap.Uint64("chainID", m.chainID))
		}
	}
	m.mu.Unlock()
}
