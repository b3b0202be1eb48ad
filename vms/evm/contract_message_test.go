// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package evm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDecodeBountyPlacedRoundTrips(t *testing.T) {
	messageID := common.HexToHash("0x01")
	refundTo := common.HexToAddress("0x02")
	sourceAddr := common.HexToAddress("0x03")

	data, err := bountyPlacedArgs.Pack(
		big.NewInt(1),   // fromChainId
		big.NewInt(100), // maxGasDelivery
		big.NewInt(50),  // maxGasAck
		refundTo,
		big.NewInt(10), // priceOfDeliveryGas
		big.NewInt(5),  // priceOfAckGas
		big.NewInt(30), // targetDelta
		sourceAddr,
	)
	require.NoError(t, err)

	log := types.Log{
		Topics: []common.Hash{BountyPlacedTopic, messageID},
		Data:   data,
	}

	m := NewContractMessage(zap.NewNop())
	event, err := m.DecodeBountyPlaced(log)
	require.NoError(t, err)

	require.Equal(t, messageID, event.MessageIdentifier)
	require.Equal(t, big.NewInt(1), event.FromChainID.Int)
	require.Equal(t, big.NewInt(100), event.MaxGasDelivery.Int)
	require.Equal(t, big.NewInt(50), event.MaxGasAck.Int)
	require.Equal(t, refundTo, event.RefundGasTo)
	require.Equal(t, big.NewInt(10), event.PriceOfDeliveryGas.Int)
	require.Equal(t, big.NewInt(5), event.PriceOfAckGas.Int)
	require.Equal(t, big.NewInt(30), event.TargetDelta.Int)
	require.Equal(t, sourceAddr, event.SourceAddress)
}

func TestDecodeBountyPlacedRejectsMissingTopic(t *testing.T) {
	m := NewContractMessage(zap.NewNop())
	_, err := m.DecodeBountyPlaced(types.Log{Topics: []common.Hash{BountyPlacedTopic}})
	require.ErrorIs(t, err, errMalformedLog)
}

func TestDecodeMessageDeliveredRoundTrips(t *testing.T) {
	messageID := common.HexToHash("0x01")
	execHash := common.HexToHash("0x04")

	data, err := messageDeliveredArgs.Pack(big.NewInt(7), execHash)
	require.NoError(t, err)

	log := types.Log{
		Topics: []common.Hash{MessageDeliveredTopic, messageID},
		Data:   data,
	}

	m := NewContractMessage(zap.NewNop())
	event, err := m.DecodeMessageDelivered(log)
	require.NoError(t, err)
	require.Equal(t, messageID, event.MessageIdentifier)
	require.Equal(t, big.NewInt(7), event.ToChainID.Int)
	require.Equal(t, execHash, event.ExecTransactionHash)
}

func TestDecodeBountyClaimedRoundTrips(t *testing.T) {
	messageID := common.HexToHash("0x01")
	ackHash := common.HexToHash("0x05")

	data, err := bountyClaimedArgs.Pack(ackHash)
	require.NoError(t, err)

	log := types.Log{
		Topics: []common.Hash{BountyClaimedTopic, messageID},
		Data:   data,
	}

	m := NewContractMessage(zap.NewNop())
	event, err := m.DecodeBountyClaimed(log)
	require.NoError(t, err)
	require.Equal(t, messageID, event.MessageIdentifier)
	require.Equal(t, ackHash, event.AckTransactionHash)
}

func TestDecodeBountyIncreasedRoundTrips(t *testing.T) {
	messageID := common.HexToHash("0x01")

	data, err := bountyIncreasedArgs.Pack(big.NewInt(20), big.NewInt(15))
	require.NoError(t, err)

	log := types.Log{
		Topics: []common.Hash{BountyIncreasedTopic, messageID},
		Data:   data,
	}

	m := NewContractMessage(zap.NewNop())
	event, err := m.DecodeBountyIncreased(log)
	require.NoError(t, err)
	require.Equal(t, messageID, event.MessageIdentifier)
	require.Equal(t, big.NewInt(20), event.NewPriceOfDeliveryGas.Int)
	require.Equal(t, big.NewInt(15), event.NewPriceOfAckGas.Int)
}
