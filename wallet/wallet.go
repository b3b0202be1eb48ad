// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wallet owns the single signing key for one destination chain and
// serializes every outgoing transaction through it, assigning nonces,
// pricing gas and repricing/cancelling transactions that stall.
package wallet

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/bountyrelay/relayer/chainclient"
	"github.com/bountyrelay/relayer/wallet/signer"
)

// GasPolicy controls fee selection and repricing behavior.
type GasPolicy struct {
	// EIP-1559 path.
	MaxFeePerGas                   *big.Int
	MaxAllowedPriorityFeePerGas    *big.Int
	MaxPriorityFeeAdjustmentFactor float64 // applied to the initial suggested tip, e.g. 1.0

	// Legacy path, used when Legacy is set.
	Legacy                   bool
	GasPriceAdjustmentFactor float64 // applied to the initial suggested gas price, e.g. 1.0
	MaxAllowedGasPrice       *big.Int

	PriorityAdjustmentFactor float64 // multiplier applied on reprice, default 1.1
	LowBalanceWarning        *big.Int
}

// Wallet submits transactions for a single chain/key pair. A chain with N
// configured AMBs still gets exactly one Wallet, since nonce ordering is
// per-account, not per-AMB.
type Wallet struct {
	chainID uint64
	client  chainclient.ChainClient
	signer  signer.Signer
	policy  GasPolicy
	logger  *zap.Logger

	mu      sync.Mutex
	nonces  *nonceTracker
	pending map[uint64]*types.Transaction // nonce -> last-sent tx, for repricing

	lowBalance atomic.Bool
	stalled    atomic.Bool
}

// Address returns the account this wallet signs with.
func (w *Wallet) Address() common.Address { return w.signer.Address() }

// New constructs a Wallet, seeding the nonce tracker from the chain's
// current account nonce.
func New(ctx context.Context, chainID uint64, client chainclient.ChainClient, s signer.Signer, policy GasPolicy, logger *zap.Logger) (*Wallet, error) {
	nonce, err := client.NonceAt(ctx, s.Address())
	if err != nil {
		return nil, errors.Wrap(err, "wallet: fetching starting nonce")
	}

	var startingNonce uint64
	if nonce > 0 {
		startingNonce = nonce - 1
	}
	nonces := newNonceTracker(startingNonce)
	nonces.nextToAssign = nonce

	return &Wallet{
		chainID: chainID,
		client:  client,
		signer:  s,
		policy:  policy,
		logger:  logger,
		nonces:  nonces,
		pending: make(map[uint64]*types.Transaction),
	}, nil
}

// Submit signs and sends a new transaction, assigning it the next nonce. It
// returns the signed transaction's hash and assigned nonce immediately;
// confirmation is the caller's (Submitter's ConfirmQueue) responsibility.
func (w *Wallet) Submit(ctx context.Context, to common.Address, data []byte, value *big.Int, gasLimit uint64) (common.Hash, uint64, error) {
	if w.Stalled() {
		return common.Hash{}, 0, errors.New("wallet: stalled after a failed cancellation, refusing new orders")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkBalance(ctx); err != nil {
		w.logger.Warn("wallet balance check failed", zap.Error(err))
	}

	nonce := w.nonces.assignNonce()

	var tx *types.Transaction
	if w.policy.Legacy {
		gasPrice, err := w.suggestLegacyGasPrice(ctx)
		if err != nil {
			return common.Hash{}, 0, err
		}
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gasLimit,
			To:       &to,
			Value:    value,
			Data:     data,
		})
	} else {
		gasFeeCap, gasTipCap, err := w.suggestFees(ctx)
		if err != nil {
			return common.Hash{}, 0, err
		}
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   new(big.Int).SetUint64(w.chainID),
			Nonce:     nonce,
			GasTipCap: gasTipCap,
			GasFeeCap: gasFeeCap,
			Gas:       gasLimit,
			To:        &to,
			Value:     value,
			Data:      data,
		})
	}

	signed, err := w.signer.SignTx(ctx, tx, new(big.Int).SetUint64(w.chainID))
	if err != nil {
		return common.Hash{}, 0, errors.Wrap(err, "wallet: signing transaction")
	}

	if err := w.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, 0, errors.Wrap(err, "wallet: sending transaction")
	}

	w.pending[nonce] = signed
	return signed.Hash(), nonce, nil
}

// Reprice resends the transaction at nonce with fees bumped by
// PriorityAdjustmentFactor, used when ConfirmQueue decides a submission has
// stalled.
func (w *Wallet) Reprice(ctx context.Context, nonce uint64) (common.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	prior, ok := w.pending[nonce]
	if !ok {
		return common.Hash{}, errors.Errorf("wallet: no pending transaction at nonce %d", nonce)
	}

	factor := w.policy.PriorityAdjustmentFactor
	if factor <= 1 {
		factor = 1.1
	}

	bump := func(v *big.Int) *big.Int {
		f := new(big.Float).Mul(new(big.Float).SetInt(v), big.NewFloat(factor))
		out, _ := f.Int(nil)
		return out
	}

	var tx *types.Transaction
	if prior.Type() == types.LegacyTxType {
		newGasPrice := bump(prior.GasPrice())
		if w.policy.MaxAllowedGasPrice != nil && newGasPrice.Cmp(w.policy.MaxAllowedGasPrice) > 0 {
			newGasPrice = new(big.Int).Set(w.policy.MaxAllowedGasPrice)
		}
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: newGasPrice,
			Gas:      prior.Gas(),
			To:       prior.To(),
			Value:    prior.Value(),
			Data:     prior.Data(),
		})
	} else {
		newTipCap := bump(prior.GasTipCap())
		newFeeCap := bump(prior.GasFeeCap())

		if w.policy.MaxAllowedGasPrice != nil && newFeeCap.Cmp(w.policy.MaxAllowedGasPrice) > 0 {
			newFeeCap = new(big.Int).Set(w.policy.MaxAllowedGasPrice)
		}
		if w.policy.MaxAllowedPriorityFeePerGas != nil && newTipCap.Cmp(w.policy.MaxAllowedPriorityFeePerGas) > 0 {
			newTipCap = new(big.Int).Set(w.policy.MaxAllowedPriorityFeePerGas)
		}

		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   new(big.Int).SetUint64(w.chainID),
			Nonce:     nonce,
			GasTipCap: newTipCap,
			GasFeeCap: newFeeCap,
			Gas:       prior.Gas(),
			To:        prior.To(),
			Value:     prior.Value(),
			Data:      prior.Data(),
		})
	}

	signed, err := w.signer.SignTx(ctx, tx, new(big.Int).SetUint64(w.chainID))
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "wallet: signing repriced transaction")
	}
	if err := w.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, errors.Wrap(err, "wallet: sending repriced transaction")
	}

	w.pending[nonce] = signed
	return signed.Hash(), nil
}

// Cancel replaces the stuck transaction at nonce with a zero-value
// self-transfer at a gas price sufficient to displace it, used once
// repricing has been exhausted. If the cancellation itself fails to send,
// the wallet stalls: Stalled reports true and Submit refuses further work
// until an operator intervenes.
func (w *Wallet) Cancel(ctx context.Context, nonce uint64) (common.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	prior, ok := w.pending[nonce]
	if !ok {
		return common.Hash{}, errors.Errorf("wallet: no pending transaction at nonce %d", nonce)
	}

	factor := w.policy.PriorityAdjustmentFactor
	if factor <= 1 {
		factor = 1.1
	}
	bump := func(v *big.Int) *big.Int {
		f := new(big.Float).Mul(new(big.Float).SetInt(v), big.NewFloat(factor))
		out, _ := f.Int(nil)
		return out
	}

	self := w.signer.Address()
	var tx *types.Transaction
	if prior.Type() == types.LegacyTxType {
		newGasPrice := bump(prior.GasPrice())
		if w.policy.MaxAllowedGasPrice != nil && newGasPrice.Cmp(w.policy.MaxAllowedGasPrice) > 0 {
			newGasPrice = new(big.Int).Set(w.policy.MaxAllowedGasPrice)
		}
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: newGasPrice,
			Gas:      21000,
			To:       &self,
			Value:    big.NewInt(0),
		})
	} else {
		newTipCap := bump(prior.GasTipCap())
		newFeeCap := bump(prior.GasFeeCap())
		if w.policy.MaxAllowedGasPrice != nil && newFeeCap.Cmp(w.policy.MaxAllowedGasPrice) > 0 {
			newFeeCap = new(big.Int).Set(w.policy.MaxAllowedGasPrice)
		}
		if w.policy.MaxAllowedPriorityFeePerGas != nil && newTipCap.Cmp(w.policy.MaxAllowedPriorityFeePerGas) > 0 {
			newTipCap = new(big.Int).Set(w.policy.MaxAllowedPriorityFeePerGas)
		}
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   new(big.Int).SetUint64(w.chainID),
			Nonce:     nonce,
			GasTipCap: newTipCap,
			GasFeeCap: newFeeCap,
			Gas:       21000,
			To:        &self,
			Value:     big.NewInt(0),
		})
	}

	signed, err := w.signer.SignTx(ctx, tx, new(big.Int).SetUint64(w.chainID))
	if err != nil {
		w.stalled.Store(true)
		return common.Hash{}, errors.Wrap(err, "wallet: signing cancellation transaction")
	}
	if err := w.client.SendTransaction(ctx, signed); err != nil {
		w.stalled.Store(true)
		return common.Hash{}, errors.Wrap(err, "wallet: sending cancellation transaction, wallet stalled")
	}

	w.pending[nonce] = signed
	return signed.Hash(), nil
}

// Stalled reports whether a cancellation transaction has failed to send,
// the fatal condition spec.md's wallet state machine surfaces when
// repricing and cancellation have both been exhausted.
func (w *Wallet) Stalled() bool { return w.stalled.Load() }

// Confirm marks nonce as confirmed, advancing the tracker and releasing
// the pending-transaction record.
func (w *Wallet) Confirm(nonce uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nonces.commitNonce(nonce)
	delete(w.pending, nonce)
}

// Backlog returns how many submitted transactions have not yet confirmed.
func (w *Wallet) Backlog() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// LowBalance reports the outcome of the most recent balance check against
// GasPolicy.LowBalanceWarning, for the metrics reporter to export as a
// gauge. It is always false when no warning threshold is configured.
func (w *Wallet) LowBalance() bool { return w.lowBalance.Load() }

func (w *Wallet) suggestFees(ctx context.Context) (feeCap, tipCap *big.Int, err error) {
	rpcTipCap, err := w.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "wallet: suggest gas tip cap")
	}
	gasPrice, err := w.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "wallet: suggest gas price")
	}

	factor := w.policy.MaxPriorityFeeAdjustmentFactor
	if factor <= 0 {
		factor = 1
	}
	f := new(big.Float).Mul(new(big.Float).SetInt(rpcTipCap), big.NewFloat(factor))
	tipCap, _ = f.Int(nil)
	if w.policy.MaxAllowedPriorityFeePerGas != nil && tipCap.Cmp(w.policy.MaxAllowedPriorityFeePerGas) > 0 {
		tipCap = new(big.Int).Set(w.policy.MaxAllowedPriorityFeePerGas)
	}

	feeCap = new(big.Int).Add(gasPrice, tipCap)
	if w.policy.MaxFeePerGas != nil && feeCap.Cmp(w.policy.MaxFeePerGas) > 0 {
		feeCap = new(big.Int).Set(w.policy.MaxFeePerGas)
	}
	return feeCap, tipCap, nil
}

func (w *Wallet) suggestLegacyGasPrice(ctx context.Context) (*big.Int, error) {
	rpcGasPrice, err := w.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "wallet: suggest gas price")
	}

	factor := w.policy.GasPriceAdjustmentFactor
	if factor <= 0 {
		factor = 1
	}
	f := new(big.Float).Mul(new(big.Float).SetInt(rpcGasPrice), big.NewFloat(factor))
	gasPrice, _ := f.Int(nil)
	if w.policy.MaxAllowedGasPrice != nil && gasPrice.Cmp(w.policy.MaxAllowedGasPrice) > 0 {
		gasPrice = new(big.Int).Set(w.policy.MaxAllowedGasPrice)
	}
	return gasPrice, nil
}

func (w *Wallet) checkBalance(ctx context.Context) error {
	if w.policy.LowBalanceWarning == nil {
		return nil
	}
	balance, err := w.client.BalanceAt(ctx, w.signer.Address())
	if err != nil {
		return err
	}
	low := balance.Cmp(w.policy.LowBalanceWarning) < 0
	w.lowBalance.Store(low)
	if low {
		w.logger.Warn("wallet balance below configured warning threshold",
			zap.Uint64("chainID", w.chainID), zap.String("balance", balance.String()))
	}
	return nil
}
