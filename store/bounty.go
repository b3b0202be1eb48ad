// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bountyrelay/relayer/types"
)

// BountyPlacedEvent is the decoded on-chain BountyPlaced event.
type BountyPlacedEvent struct {
	MessageIdentifier  types.MessageIdentifier
	FromChainID        types.BigInt
	MaxGasDelivery     types.BigInt
	MaxGasAck          types.BigInt
	RefundGasTo        common.Address
	PriceOfDeliveryGas types.BigInt
	PriceOfAckGas      types.BigInt
	TargetDelta        types.BigInt
	SourceAddress      common.Address
}

// MessageDeliveredEvent is the decoded on-chain MessageDelivered event,
// observed on the destination chain.
type MessageDeliveredEvent struct {
	MessageIdentifier   types.MessageIdentifier
	ToChainID           types.BigInt
	ExecTransactionHash common.Hash
}

// BountyClaimedEvent is the decoded on-chain BountyClaimed event, observed
// on the source chain after the ack leg completes.
type BountyClaimedEvent struct {
	MessageIdentifier  types.MessageIdentifier
	AckTransactionHash common.Hash
}

// BountyIncreasedEvent is the decoded on-chain BountyIncreased event.
type BountyIncreasedEvent struct {
	MessageIdentifier     types.MessageIdentifier
	NewPriceOfDeliveryGas types.BigInt
	NewPriceOfAckGas      types.BigInt
}

// RegisterBountyPlaced creates-or-merges the Bounty record for event. On
// conflict the on-disk version's non-null fields win over the freshly
// constructed one (types.Bounty.Merge implements this).
func (s *Store) RegisterBountyPlaced(ctx context.Context, event BountyPlacedEvent) error {
	key := bountyKey(event.MessageIdentifier)

	var existing types.Bounty
	found, err := s.get(ctx, key, &existing)
	if err != nil {
		return err
	}

	incoming := types.Bounty{
		MessageIdentifier:  event.MessageIdentifier,
		FromChainID:        event.FromChainID,
		MaxGasDelivery:     event.MaxGasDelivery,
		MaxGasAck:          event.MaxGasAck,
		RefundGasTo:        event.RefundGasTo,
		PriceOfDeliveryGas: event.PriceOfDeliveryGas,
		PriceOfAckGas:      event.PriceOfAckGas,
		TargetDelta:        event.TargetDelta,
		SourceAddress:      event.SourceAddress,
		Status:             types.BountyPlaced,
	}

	merged := incoming
	if found {
		merged = existing.Merge(incoming)
	}
	return s.set(ctx, key, merged)
}

// RegisterMessageDelivered advances status to at least MessageDelivered and
// fills execTransactionHash/toChainId, creating a sparse Bounty if the
// source-side BountyPlaced was never observed.
func (s *Store) RegisterMessageDelivered(ctx context.Context, event MessageDeliveredEvent) error {
	key := bountyKey(event.MessageIdentifier)

	var existing types.Bounty
	found, err := s.get(ctx, key, &existing)
	if err != nil {
		return err
	}

	toChainID := event.ToChainID
	execHash := event.ExecTransactionHash
	incoming := types.Bounty{
		MessageIdentifier:   event.MessageIdentifier,
		ToChainID:           &toChainID,
		ExecTransactionHash: &execHash,
		Status:              types.MessageDelivered,
	}

	merged := incoming
	if found {
		merged = existing.Merge(incoming)
	}
	return s.set(ctx, key, merged)
}

// RegisterBountyClaimed advances status to at least BountyClaimed and fills
// ackTransactionHash, creating a sparse Bounty if needed.
func (s *Store) RegisterBountyClaimed(ctx context.Context, event BountyClaimedEvent) error {
	key := bountyKey(event.MessageIdentifier)

	var existing types.Bounty
	found, err := s.get(ctx, key, &existing)
	if err != nil {
		return err
	}

	ackHash := event.AckTransactionHash
	incoming := types.Bounty{
		MessageIdentifier:  event.MessageIdentifier,
		AckTransactionHash: &ackHash,
		Status:             types.BountyClaimed,
	}

	merged := incoming
	if found {
		merged = existing.Merge(incoming)
	}
	return s.set(ctx, key, merged)
}

// RegisterBountyIncreased takes the field-wise max of
// priceOfDeliveryGas/priceOfAckGas against the stored record, writing only
// if at least one strictly increased.
func (s *Store) RegisterBountyIncreased(ctx context.Context, event BountyIncreasedEvent) error {
	key := bountyKey(event.MessageIdentifier)

	var existing types.Bounty
	found, err := s.get(ctx, key, &existing)
	if err != nil {
		return err
	}
	if !found {
		// Nothing to increase yet; a bare BountyIncreased with no prior
		// placement is stored as a sparse record so the eventual
		// BountyPlaced merge still sees the higher price.
		incoming := types.Bounty{
			MessageIdentifier:  event.MessageIdentifier,
			PriceOfDeliveryGas: event.NewPriceOfDeliveryGas,
			PriceOfAckGas:      event.NewPriceOfAckGas,
		}
		return s.set(ctx, key, incoming)
	}

	newDelivery := existing.PriceOfDeliveryGas.Max(event.NewPriceOfDeliveryGas)
	newAck := existing.PriceOfAckGas.Max(event.NewPriceOfAckGas)
	if newDelivery.Cmp(existing.PriceOfDeliveryGas.Int) == 0 && newAck.Cmp(existing.PriceOfAckGas.Int) == 0 {
		return nil // strictly unchanged; avoid a needless write+publish
	}

	existing.PriceOfDeliveryGas = newDelivery
	existing.PriceOfAckGas = newAck
	return s.set(ctx, key, existing)
}

// RegisterDestinationAddress fills in the Bounty's destinationAddress
// field, used by the Mock collector once it decodes the recipient.
func (s *Store) RegisterDestinationAddress(ctx context.Context, id types.MessageIdentifier, addr common.Address) error {
	key := bountyKey(id)
	var existing types.Bounty
	found, err := s.get(ctx, key, &existing)
	if err != nil {
		return err
	}
	incoming := types.Bounty{MessageIdentifier: id, DestinationAddress: &addr}
	merged := incoming
	if found {
		merged = existing.Merge(incoming)
	}
	return s.set(ctx, key, merged)
}

// RegisterDeliveryCost records the gas actually spent delivering the
// message, called only by the Submitter's ConfirmQueue for delivery orders
// (acks have no separate cost field to record against).
func (s *Store) RegisterDeliveryCost(ctx context.Context, id types.MessageIdentifier, gasCost types.BigInt) error {
	key := bountyKey(id)
	var existing types.Bounty
	found, err := s.get(ctx, key, &existing)
	if err != nil {
		return err
	}
	incoming := types.Bounty{MessageIdentifier: id, DeliveryGasCost: &gasCost}
	merged := incoming
	if found {
		merged = existing.Merge(incoming)
	}
	return s.set(ctx, key, merged)
}

// GetBounty returns the current Bounty for id, or found=false if none has
// been observed yet.
func (s *Store) GetBounty(ctx context.Context, id types.MessageIdentifier) (types.Bounty, bool, error) {
	var b types.Bounty
	found, err := s.get(ctx, bountyKey(id), &b)
	return b, found, err
}
