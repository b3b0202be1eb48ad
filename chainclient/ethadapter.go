// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package chainclient

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthClientAdapter narrows *ethclient.Client to ChainClient. The two
// methods that differ (NonceAt/BalanceAt take an optional historical block
// number upstream) are pinned to "latest" here, which is all the relayer
// ever needs.
type EthClientAdapter struct {
	*ethclient.Client
}

func NewEthClientAdapter(client *ethclient.Client) ChainClient {
	return EthClientAdapter{Client: client}
}

func (a EthClientAdapter) NonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return a.Client.NonceAt(ctx, account, nil)
}

func (a EthClientAdapter) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return a.Client.BalanceAt(ctx, account, nil)
}
