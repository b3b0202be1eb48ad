// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package signer abstracts the private key backing a chain's Wallet so it
// can be a local ECDSA key or an AWS KMS-held key interchangeably.
package signer

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer produces a signed transaction and exposes the address it signs
// for, without the caller needing to know whether the key is local or
// remote.
type Signer interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Local signs with an in-process ECDSA private key.
type Local struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewLocal(key *ecdsa.PrivateKey) *Local {
	return &Local{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func (l *Local) Address() common.Address { return l.address }

func (l *Local) SignTx(_ context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), l.key)
}
