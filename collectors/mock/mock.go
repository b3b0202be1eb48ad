// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package mock implements the "Mock" AMB: the reference bridge where a
// single off-chain key attests to each application message, and the
// signature itself (over the incentives contract's address concatenated
// with the message) is the delivery proof — no separate attestation
// contract to poll.
package mock

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/bountyrelay/relayer/monitor"
	"github.com/bountyrelay/relayer/store"
	bountytypes "github.com/bountyrelay/relayer/types"
	"github.com/bountyrelay/relayer/vms/evm"
)

const ambName = "mock"

// Signer produces the Mock AMB's signature over a message digest. The
// relayer and the tests both use LocalSigner, backed by a single in-process
// key.
type Signer interface {
	Sign(ctx context.Context, digest common.Hash) ([]byte, error)
}

// LocalSigner signs with an in-process ECDSA key.
type LocalSigner struct {
	key *ecdsa.PrivateKey
}

func NewLocalSigner(key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key}
}

func (s *LocalSigner) Sign(_ context.Context, digest common.Hash) ([]byte, error) {
	return crypto.Sign(digest.Bytes(), s.key)
}

// Config controls a single chain's Mock collector.
type Config struct {
	ChainID            uint64
	ContractAddress    common.Address // the escrow contract this collector scans for Message events
	IncentivesAddress  common.Address // signed into every digest; identifies the escrow to the verifier
	RetryInterval      time.Duration
	ProcessingInterval time.Duration
	MaxBlocks          uint64
	StartingBlock      uint64
	StoppingBlock      uint64
}

// eventScanner is the subset of chainclient.ChainClient the collector's
// self-scanning loop depends on.
type eventScanner interface {
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

// messageDecoder narrows vms/evm.contractMessage to the single event this
// collector cares about.
type messageDecoder interface {
	DecodeMessage(types.Log) (evm.MessageEvent, error)
}

// Collector implements collectors.Collector for the Mock AMB. It scans its
// own chain for Message events using the same bounded block-window loop the
// Getter uses, signs each one, and publishes the resulting AmbPayload.
type Collector struct {
	cfg     Config
	client  eventScanner
	monitor *monitor.Monitor
	decoder messageDecoder
	signer  Signer
	store   *store.Store
	logger  *zap.Logger
}

func New(cfg Config, client eventScanner, mon *monitor.Monitor, signer Signer, s *store.Store, logger *zap.Logger) *Collector {
	return &Collector{
		cfg:     cfg,
		client:  client,
		monitor: mon,
		decoder: evm.NewContractMessage(logger),
		signer:  signer,
		store:   s,
		logger:  logger,
	}
}

func (c *Collector) Name() string { return ambName }

// Run scans in MaxBlocks-sized windows until ctx is cancelled, mirroring
// the Getter's tip-tracking loop: it never polls the RPC endpoint for the
// chain tip directly, consuming the chain's Monitor instead.
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
			c.logger.Error("mock collector failed processing block window",
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
		Addresses: []common.Address{c.cfg.ContractAddress},
		Topics:    [][]common.Hash{{evm.MessageTopic}},
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

// handleLog decodes a Message event, stores the AmbMessage and the
// recipient's destination address, signs the digest, and publishes the
// resulting AmbPayload for the Submitter on the destination chain to pick
// up. A single message's failure (a signing RPC blip, say) fails the whole
// window so it is retried rather than silently dropped.
func (c *Collector) handleLog(ctx context.Context, log types.Log) error {
	event, err := c.decoder.DecodeMessage(log)
	if err != nil {
		return err
	}

	amb := bountytypes.AmbMessage{
		MessageIdentifier: event.MessageIdentifier,
		AMB:               ambName,
		SourceChain:       bountytypes.NewBigInt(new(big.Int).SetUint64(c.cfg.ChainID)),
		DestinationChain:  event.DestinationChainID,
		SourceEscrow:      c.cfg.ContractAddress,
		Payload:           event.Message,
		SourceBlockNumber: log.BlockNumber,
		SourceTxHash:      log.TxHash,
		SourceLogIndex:    log.Index,
	}
	if err := c.store.SetAmb(ctx, amb); err != nil {
		return err
	}
	if err := c.store.RegisterDestinationAddress(ctx, event.MessageIdentifier, event.Recipient); err != nil {
		return err
	}

	payload, err := c.sign(ctx, amb)
	if err != nil {
		return err
	}
	return c.store.SubmitProof(ctx, event.DestinationChainID, payload)
}

func (c *Collector) sign(ctx context.Context, amb bountytypes.AmbMessage) (bountytypes.AmbPayload, error) {
	digest := evm.MockMessageDigest(c.cfg.IncentivesAddress, amb.Payload)
	sig, err := c.signer.Sign(ctx, digest)
	if err != nil {
		return bountytypes.AmbPayload{}, err
	}
	messageCtx, err := evm.EncodeMockSignature(sig)
	if err != nil {
		return bountytypes.AmbPayload{}, err
	}

	return bountytypes.AmbPayload{
		MessageIdentifier:  amb.MessageIdentifier,
		AMB:                ambName,
		DestinationChainID: amb.DestinationChain,
		Message:            amb.Payload,
		MessageCtx:         messageCtx,
		Priority:           amb.Priority,
	}, nil
}
