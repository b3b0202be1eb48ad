// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package layerzero implements the LayerZero AMB: proof readiness is
// determined by sniffing PacketSent events on the LayerZero V2 endpoint
// contract rather than by collecting signatures ourselves, since the
// DVN/executor infrastructure performs attestation off-chain.
package layerzero

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/bountyrelay/relayer/monitor"
	"github.com/bountyrelay/relayer/store"
	bountytypes "github.com/bountyrelay/relayer/types"
)

const ambName = "layerzero"

// eventScanner is the subset of chainclient.ChainClient this collector's
// self-scanning loop depends on.
type eventScanner interface {
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

// Config controls a single chain's LayerZero collector.
type Config struct {
	ChainID            uint64
	Endpoint           common.Address // the LayerZero V2 endpoint contract to scan
	IncentivesAddress  common.Address // only packets sent by this address are ours
	RetryInterval      time.Duration
	ProcessingInterval time.Duration
	MaxBlocks          uint64
	StartingBlock      uint64
	StoppingBlock      uint64
}

// Collector scans the LayerZero endpoint contract for PacketSent events
// sent on our behalf, decodes the inner application message, and indexes
// it under both its messageIdentifier and its payload hash so a later
// PayloadVerified sighting (handled by a separate endpoint-log poller, not
// implemented here since the attestation path itself is out of scope) can
// correlate back to it and submit the delivery proof.
type Collector struct {
	cfg     Config
	client  eventScanner
	monitor *monitor.Monitor
	store   *store.Store
	logger  *zap.Logger
}

func New(cfg Config, client eventScanner, mon *monitor.Monitor, s *store.Store, logger *zap.Logger) *Collector {
	return &Collector{cfg: cfg, client: client, monitor: mon, store: s, logger: logger}
}

func (c *Collector) Name() string { return ambName }

// Run scans in MaxBlocks-sized windows until ctx is cancelled, using the
// same Monitor-driven tip tracking as the Getter and the Mock collector.
func (c *Collector) Run(ctx context.Context) error {
	heights, unsubscribe := c.monitor.Subscribe()
	defer unsubscribe()

	tip, err := c.waitForFirstTip(ctx, heights)
	if err != nil {
		return err
	}

	from := c.cfg.StartingBlock
	if from == 0 {
		from = tip
	}

	for {
		if c.cfg.StoppingBlock != 0 && from > c.cfg.StoppingBlock {
			return nil
		}

		tip = c.latestTip(tip, heights)

		to := min(tip, from+c.cfg.MaxBlocks)
		if c.cfg.StoppingBlock != 0 {
			to = min(to, c.cfg.StoppingBlock)
		}
		if to < from {
			if !c.sleep(ctx, c.cfg.ProcessingInterval) {
				return ctx.Err()
			}
			continue
		}

		if err := c.processWindow(ctx, from, to); err != nil {
			c.logger.Error("layerzero collector failed processing block window",
				zap.Uint64("chainID", c.cfg.ChainID),
				zap.Uint64("from", from), zap.Uint64("to", to), zap.Error(err))
			if !c.sleep(ctx, c.cfg.RetryInterval) {
				return ctx.Err()
			}
			continue
		}

		from = to + 1
		if !c.sleep(ctx, c.cfg.ProcessingInterval) {
			return ctx.Err()
		}
	}
}

func (c *Collector) waitForFirstTip(ctx context.Context, heights <-chan monitor.Height) (uint64, error) {
	if seen := c.monitor.LastSeen(); seen != 0 {
		return seen, nil
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case h := <-heights:
		return h.Block, nil
	}
}

func (c *Collector) latestTip(current uint64, heights <-chan monitor.Height) uint64 {
	for {
		select {
		case h := <-heights:
			current = h.Block
		default:
			return current
		}
	}
}

func (c *Collector) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Collector) processWindow(ctx context.Context, from, to uint64) error {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.cfg.Endpoint},
		Topics:    [][]common.Hash{{PacketSentTopic}},
	}

	logs, err := c.client.FilterLogs(ctx, query)
	if err != nil {
		return err
	}

	for _, log := range logs {
		if err := c.handleLog(ctx, log); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) handleLog(ctx context.Context, log types.Log) error {
	pkt, err := decodePacketSentLog(log.Data)
	if err != nil {
		return err
	}
	if pkt.Sender != c.cfg.IncentivesAddress {
		return nil
	}

	garp, err := decodeGARP(pkt.Message)
	if err != nil {
		return err
	}

	msg := bountytypes.AmbMessage{
		MessageIdentifier: garp.MessageIdentifier,
		AMB:               ambName,
		SourceChain:       bountytypes.NewBigInt(new(big.Int).SetUint64(c.cfg.ChainID)),
		DestinationChain:  bountytypes.NewBigInt(new(big.Int).SetUint64(uint64(pkt.DstEID))),
		SourceEscrow:      c.cfg.IncentivesAddress,
		Payload:           garp.Payload,
		SourceBlockNumber: log.BlockNumber,
		SourceTxHash:      log.TxHash,
		SourceLogIndex:    log.Index,
	}
	return c.index(ctx, msg, pkt.GUID, pkt.Message)
}

func (c *Collector) index(ctx context.Context, msg bountytypes.AmbMessage, guid common.Hash, rawMessage []byte) error {
	if err := c.store.SetAmb(ctx, msg); err != nil {
		return err
	}
	return c.store.SetPayloadLayerZeroAmb(ctx, payloadHashOf(guid, rawMessage), msg)
}

// HandlePayloadVerified looks up the original message for payloadHash via
// the secondary index and submits the delivery proof. No PayloadVerified
// poller exists in this repository, so nothing in the relayer calls it.
func (c *Collector) HandlePayloadVerified(ctx context.Context, payloadHash common.Hash) error {
	msg, found, err := c.store.GetAmbByPayloadHash(ctx, payloadHash)
	if err != nil {
		return err
	}
	if !found {
		c.logger.Debug("PayloadVerified for unknown payload hash, message not yet indexed")
		return nil
	}

	payload := bountytypes.AmbPayload{
		MessageIdentifier:  msg.MessageIdentifier,
		AMB:                ambName,
		DestinationChainID: msg.DestinationChain,
		Message:            msg.Payload,
		Priority:           msg.Priority,
	}
	return c.store.SubmitProof(ctx, msg.DestinationChain, payload)
}
