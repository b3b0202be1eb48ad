// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package getter scans a source chain's escrow-contract logs in bounded
// windows and registers the decoded events with the Store.
package getter

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/bountyrelay/relayer/chainclient"
	"github.com/bountyrelay/relayer/monitor"
	"github.com/bountyrelay/relayer/store"
	"github.com/bountyrelay/relayer/vms/evm"
)

// Config controls a single Getter instance.
type Config struct {
	ChainID            uint64
	ContractAddress    common.Address
	RetryInterval      time.Duration
	ProcessingInterval time.Duration
	MaxBlocks          uint64
	StartingBlock      uint64 // 0 means "chain tip at startup"
	StoppingBlock      uint64 // 0 means "run forever"
}

// Getter scans a single source chain for escrow-contract logs, decodes them
// and writes the resulting events into the Store. It never polls the RPC
// for the chain tip itself; it tracks tip via the chain's Monitor.
type Getter struct {
	cfg     Config
	client  chainclient.ChainClient
	monitor *monitor.Monitor
	decoder contractDecoder
	store   *store.Store
	logger  *zap.Logger
}

// contractDecoder is the subset of vms/evm.contractMessage the Getter
// depends on; kept as its own small interface so tests can stub decoding
// without constructing real logs.
type contractDecoder interface {
	DecodeBountyPlaced(types.Log) (store.BountyPlacedEvent, error)
	DecodeMessageDelivered(types.Log) (store.MessageDeliveredEvent, error)
	DecodeBountyClaimed(types.Log) (store.BountyClaimedEvent, error)
	DecodeBountyIncreased(types.Log) (store.BountyIncreasedEvent, error)
}

func New(cfg Config, client chainclient.ChainClient, mon *monitor.Monitor, s *store.Store, logger *zap.Logger) *Getter {
	return &Getter{
		cfg:     cfg,
		client:  client,
		monitor: mon,
		decoder: evm.NewContractMessage(logger),
		store:   s,
		logger:  logger,
	}
}

// Run scans in MaxBlocks-sized windows until ctx is cancelled or
// StoppingBlock is reached. A window that errors is retried after
// RetryInterval rather than advancing past it, so no block range is ever
// silently skipped.
func (g *Getter) Run(ctx context.Context) error {
	heights, unsubscribe := g.monitor.Subscribe()
	defer unsubscribe()

	tip, err := g.waitForFirstTip(ctx, heights)
	if err != nil {
		return err
	}

	from, err := g.resolveStart(tip)
	if err != nil {
		return err
	}

	for {
		if g.cfg.StoppingBlock != 0 && from > g.cfg.StoppingBlock {
			return nil
		}

		tip = g.latestTip(tip, heights)

		to := min(tip, from+g.cfg.MaxBlocks)
		if g.cfg.StoppingBlock != 0 {
			to = min(to, g.cfg.StoppingBlock)
		}
		if to < from {
			if !g.sleep(ctx, g.cfg.ProcessingInterval) {
				return ctx.Err()
			}
			continue
		}

		if err := g.processWindow(ctx, from, to); err != nil {
			g.logger.Error("failed processing block window",
				zap.Uint64("chainID", g.cfg.ChainID),
				zap.Uint64("from", from), zap.Uint64("to", to), zap.Error(err))
			if !g.sleep(ctx, g.cfg.RetryInterval) {
				return ctx.Err()
			}
			continue
		}

		from = to + 1
		if !g.sleep(ctx, g.cfg.ProcessingInterval) {
			return ctx.Err()
		}
	}
}

// waitForFirstTip blocks until the Monitor has broadcast at least one
// height, per the requirement that Getters never observe a tip of their
// own making.
func (g *Getter) waitForFirstTip(ctx context.Context, heights <-chan monitor.Height) (uint64, error) {
	if seen := g.monitor.LastSeen(); seen != 0 {
		return seen, nil
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case h := <-heights:
		return h.Block, nil
	}
}

// latestTip drains any buffered height ticks without blocking, so a Getter
// mid-window never stalls waiting on the Monitor; it simply keeps the last
// tip it already knows about until the next broadcast arrives.
func (g *Getter) latestTip(current uint64, heights <-chan monitor.Height) uint64 {
	for {
		select {
		case h := <-heights:
			current = h.Block
		default:
			return current
		}
	}
}

func (g *Getter) resolveStart(tip uint64) (uint64, error) {
	if g.cfg.StartingBlock != 0 {
		return g.cfg.StartingBlock, nil
	}
	return tip, nil
}

func (g *Getter) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (g *Getter) processWindow(ctx context.Context, from, to uint64) error {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{g.cfg.ContractAddress},
		Topics: [][]common.Hash{{
			evm.BountyPlacedTopic,
			evm.MessageDeliveredTopic,
			evm.BountyClaimedTopic,
			evm.BountyIncreasedTopic,
		}},
	}

	logs, err := g.client.FilterLogs(ctx, query)
	if err != nil {
		return err
	}

	for _, log := range logs {
		if len(log.Topics) == 0 {
			continue
		}
		if err := g.handleLog(ctx, log); err != nil {
			return err
		}
	}
	return nil
}

func (g *Getter) handleLog(ctx context.Context, log types.Log) error {
	switch log.Topics[0] {
	case evm.BountyPlacedTopic:
		event, err := g.decoder.DecodeBountyPlaced(log)
		if err != nil {
			return err
		}
		return g.store.RegisterBountyPlaced(ctx, event)
	case evm.MessageDeliveredTopic:
		event, err := g.decoder.DecodeMessageDelivered(log)
		if err != nil {
			return err
		}
		return g.store.RegisterMessageDelivered(ctx, event)
	case evm.BountyClaimedTopic:
		event, err := g.decoder.DecodeBountyClaimed(log)
		if err != nil {
			return err
		}
		return g.store.RegisterBountyClaimed(ctx, event)
	case evm.BountyIncreasedTopic:
		event, err := g.decoder.DecodeBountyIncreased(log)
		if err != nil {
			return err
		}
		return g.store.RegisterBountyIncreased(ctx, event)
	default:
		g.logger.Debug("ignoring log with unrecognized topic", zap.Uint64("chainID", g.cfg.ChainID))
		return nil
	}
}
