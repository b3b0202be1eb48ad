// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package evaluator decides whether delivering or acking a bounty is
// currently profitable, given the relaying chain's present gas price.
package evaluator

import (
	"context"
	"math/big"

	"go.uber.org/zap"

	"github.com/bountyrelay/relayer/chainclient"
	"github.com/bountyrelay/relayer/types"
)

// Evaluator estimates relay cost against the bounty's posted price and
// gates submission on the result.
type Evaluator struct {
	client chainclient.ChainClient
	logger *zap.Logger

	// PriorityGasCeilingWei caps the gas price used for a priority order's
	// cost estimate: priority orders relay even at a loss up to this
	// ceiling, matching the "never drop a priority order for profitability
	// alone" requirement.
	PriorityGasCeilingWei *big.Int
}

func New(client chainclient.ChainClient, logger *zap.Logger, priorityGasCeilingWei *big.Int) *Evaluator {
	return &Evaluator{client: client, logger: logger, PriorityGasCeilingWei: priorityGasCeilingWei}
}

// ShouldRelay returns true when the bounty's price-of-gas, multiplied by
// the maximum gas the caller allowed, covers the relaying chain's current
// gas price times gasLimit; no extra margin is applied:
//
//	priceOfGas * maxGas >= currentGasPrice * gasLimit
//
// Priority orders bypass the profitability check entirely but are still
// rejected if the current gas price exceeds PriorityGasCeilingWei, so a
// single pathological gas spike cannot drain the wallet on a priority
// order that will never be profitable to submit.
func (e *Evaluator) ShouldRelay(ctx context.Context, priceOfGas, maxGas types.BigInt, gasLimit uint64, priority bool) (bool, error) {
	currentGasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return false, err
	}

	if priority {
		if e.PriorityGasCeilingWei != nil && currentGasPrice.Cmp(e.PriorityGasCeilingWei) > 0 {
			e.logger.Warn("priority order rejected: gas price above ceiling",
				zap.String("currentGasPrice", currentGasPrice.String()))
			return false, nil
		}
		return true, nil
	}

	bountyValue := new(big.Int).Mul(priceOfGas.Int, maxGas.Int)
	cost := new(big.Int).Mul(currentGasPrice, new(big.Int).SetUint64(gasLimit))

	relay := bountyValue.Cmp(cost) >= 0
	if !relay {
		e.logger.Debug("order not currently profitable",
			zap.String("bountyValue", bountyValue.String()),
			zap.String("estimatedCost", cost.String()))
	}
	return relay, nil
}
