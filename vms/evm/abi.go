// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package evm

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/pkg/errors"
)

var errMalformedLog = errors.New("evm: log missing required indexed topic")

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		args[i] = abi.Argument{Type: typ}
	}
	return args
}

var (
	bountyPlacedArgs = mustArguments(
		"uint256", // fromChainId
		"uint256", // maxGasDelivery
		"uint256", // maxGasAck
		"address", // refundGasTo
		"uint256", // priceOfDeliveryGas
		"uint256", // priceOfAckGas
		"uint256", // targetDelta
		"address", // sourceAddress
	)
	messageDeliveredArgs = mustArguments(
		"uint256", // toChainId
		"bytes32", // execTransactionHash
	)
	bountyClaimedArgs = mustArguments(
		"bytes32", // ackTransactionHash
	)
	bountyIncreasedArgs = mustArguments(
		"uint256", // newPriceOfDeliveryGas
		"uint256", // newPriceOfAckGas
	)
	messageArgs = mustArguments(
		"uint256", // destinationIdentifier
		"address", // recipient
		"bytes",   // message
	)
	mockSignatureArgs = mustArguments(
		"uint8",   // v
		"uint256", // r
		"uint256", // s
	)
)
