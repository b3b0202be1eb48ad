// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package evm decodes the bounty-escrow and AMB contract events a Getter or
// Collector observes on an EVM chain.
package evm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/bountyrelay/relayer/store"
	bountytypes "github.com/bountyrelay/relayer/types"
)

// Event signatures for the escrow contract's ABI, keccak256'd over the
// canonical event declaration the way go-ethereum's abi.Events does. The
// Getter uses these as FilterQuery topics.
var (
	BountyPlacedTopic     = crypto.Keccak256Hash([]byte("BountyPlaced(bytes32,uint256,uint256,uint256,address,uint256,uint256,uint256,address)"))
	MessageDeliveredTopic = crypto.Keccak256Hash([]byte("MessageDelivered(bytes32,uint256,bytes32)"))
	BountyClaimedTopic    = crypto.Keccak256Hash([]byte("BountyClaimed(bytes32,bytes32)"))
	BountyIncreasedTopic  = crypto.Keccak256Hash([]byte("BountyIncreased(bytes32,uint256,uint256)"))
	MessageTopic          = crypto.Keccak256Hash([]byte("Message(bytes32,uint256,address,bytes)"))
)

// contractMessage decodes the raw logs a FilterLogs call returns into the
// Store's typed event structs. It carries no state of its own; the Getter
// constructs one per source chain and reuses it across poll windows.
type contractMessage struct {
	logger *zap.Logger
}

func NewContractMessage(logger *zap.Logger) *contractMessage {
	return &contractMessage{logger: logger}
}

// DecodeBountyPlaced parses a BountyPlaced log. Indexed fields live in
// log.Topics[1:]; the remainder is ABI-packed in log.Data in declaration
// order, standard Solidity event-encoding convention.
func (m *contractMessage) DecodeBountyPlaced(log types.Log) (store.BountyPlacedEvent, error) {
	if len(log.Topics) < 2 {
		m.logger.Error("BountyPlaced log missing indexed messageIdentifier topic")
		return store.BountyPlacedEvent{}, errMalformedLog
	}

	values, err := bountyPlacedArgs.Unpack(log.Data)
	if err != nil {
		m.logger.Error("failed unpacking BountyPlaced data", zap.Error(err))
		return store.BountyPlacedEvent{}, err
	}
	if len(values) != 8 {
		return store.BountyPlacedEvent{}, errMalformedLog
	}

	return store.BountyPlacedEvent{
		MessageIdentifier:  log.Topics[1],
		FromChainID:        bountytypes.NewBigInt(values[0].(*big.Int)),
		MaxGasDelivery:     bountytypes.NewBigInt(values[1].(*big.Int)),
		MaxGasAck:          bountytypes.NewBigInt(values[2].(*big.Int)),
		RefundGasTo:        values[3].(common.Address),
		PriceOfDeliveryGas: bountytypes.NewBigInt(values[4].(*big.Int)),
		PriceOfAckGas:      bountytypes.NewBigInt(values[5].(*big.Int)),
		TargetDelta:        bountytypes.NewBigInt(values[6].(*big.Int)),
		SourceAddress:      values[7].(common.Address),
	}, nil
}

// DecodeMessageDelivered parses a MessageDelivered log, observed on the
// destination chain once the relayer's own delivery transaction executes.
func (m *contractMessage) DecodeMessageDelivered(log types.Log) (store.MessageDeliveredEvent, error) {
	if len(log.Topics) < 2 {
		return store.MessageDeliveredEvent{}, errMalformedLog
	}
	values, err := messageDeliveredArgs.Unpack(log.Data)
	if err != nil {
		m.logger.Error("failed unpacking MessageDelivered data", zap.Error(err))
		return store.MessageDeliveredEvent{}, err
	}
	if len(values) != 2 {
		return store.MessageDeliveredEvent{}, errMalformedLog
	}
	return store.MessageDeliveredEvent{
		MessageIdentifier:   log.Topics[1],
		ToChainID:           bountytypes.NewBigInt(values[0].(*big.Int)),
		ExecTransactionHash: values[1].(common.Hash),
	}, nil
}

// DecodeBountyClaimed parses a BountyClaimed log, observed on the source
// chain once the ack leg of a message completes.
func (m *contractMessage) DecodeBountyClaimed(log types.Log) (store.BountyClaimedEvent, error) {
	if len(log.Topics) < 2 {
		return store.BountyClaimedEvent{}, errMalformedLog
	}
	values, err := bountyClaimedArgs.Unpack(log.Data)
	if err != nil {
		m.logger.Error("failed unpacking BountyClaimed data", zap.Error(err))
		return store.BountyClaimedEvent{}, err
	}
	if len(values) != 1 {
		return store.BountyClaimedEvent{}, errMalformedLog
	}
	return store.BountyClaimedEvent{
		MessageIdentifier:  log.Topics[1],
		AckTransactionHash: values[0].(common.Hash),
	}, nil
}

// DecodeBountyIncreased parses a BountyIncreased log.
func (m *contractMessage) DecodeBountyIncreased(log types.Log) (store.BountyIncreasedEvent, error) {
	if len(log.Topics) < 2 {
		return store.BountyIncreasedEvent{}, errMalformedLog
	}
	values, err := bountyIncreasedArgs.Unpack(log.Data)
	if err != nil {
		m.logger.Error("failed unpacking BountyIncreased data", zap.Error(err))
		return store.BountyIncreasedEvent{}, err
	}
	if len(values) != 2 {
		return store.BountyIncreasedEvent{}, errMalformedLog
	}
	return store.BountyIncreasedEvent{
		MessageIdentifier:     log.Topics[1],
		NewPriceOfDeliveryGas: bountytypes.NewBigInt(values[0].(*big.Int)),
		NewPriceOfAckGas:      bountytypes.NewBigInt(values[1].(*big.Int)),
	}, nil
}

// MessageEvent is the decoded on-chain Message event, emitted by the source
// escrow whenever an application message becomes ready to relay.
type MessageEvent struct {
	MessageIdentifier  bountytypes.MessageIdentifier
	DestinationChainID bountytypes.BigInt
	Recipient          common.Address
	Message            []byte
}

// DecodeMessage parses a Message log, the event the Mock collector watches
// for on the source chain's escrow contract.
func (m *contractMessage) DecodeMessage(log types.Log) (MessageEvent, error) {
	if len(log.Topics) < 2 {
		m.logger.Error("Message log missing indexed messageIdentifier topic")
		return MessageEvent{}, errMalformedLog
	}

	values, err := messageArgs.Unpack(log.Data)
	if err != nil {
		m.logger.Error("failed unpacking Message data", zap.Error(err))
		return MessageEvent{}, err
	}
	if len(values) != 3 {
		return MessageEvent{}, errMalformedLog
	}

	return MessageEvent{
		MessageIdentifier:  log.Topics[1],
		DestinationChainID: bountytypes.NewBigInt(values[0].(*big.Int)),
		Recipient:          values[1].(common.Address),
		Message:            values[2].([]byte),
	}, nil
}
