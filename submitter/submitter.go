// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package submitter chains the three-stage EvalQueue -> SubmitQueue ->
// ConfirmQueue pipeline that turns an assembled AmbPayload into a confirmed
// on-chain delivery (or ack) transaction.
package submitter

import (
	"context"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/bountyrelay/relayer/chainclient"
	"github.com/bountyrelay/relayer/config"
	"github.com/bountyrelay/relayer/evaluator"
	"github.com/bountyrelay/relayer/internal/metrics"
	"github.com/bountyrelay/relayer/queue"
	"github.com/bountyrelay/relayer/store"
	"github.com/bountyrelay/relayer/types"
	"github.com/bountyrelay/relayer/wallet"
)

// ContractEncoder builds the calldata for a delivery or ack transaction; it
// is chain/AMB specific and supplied by the caller rather than implemented
// here, since the escrow contract's ABI is outside this package's concern.
type ContractEncoder interface {
	EncodeDelivery(order types.SubmitOrder) (types.TransactionRequest, error)
	EncodeAck(order types.SubmitOrder) (types.TransactionRequest, error)
}

// Submitter owns one destination chain's three queues and its Wallet.
type Submitter struct {
	chainID         uint64
	chainLabel      string
	logger          *zap.Logger
	store           *store.Store
	evaluationDelay time.Duration
	evalQ           *queue.ProcessingQueue[types.EvalOrder]
	submitQ         *queue.ProcessingQueue[types.SubmitOrder]
	confirmQ        *queue.ProcessingQueue[confirmEntry]
	wallet          *wallet.Wallet
	met             *metrics.Metrics
	inFlight        atomic.Int64
	maxInFlight     int64
}

// reportInterval is how often Run polls queue depths, wallet backlog and
// low-balance state into the Prometheus gauges.
const reportInterval = 5 * time.Second

// confirmMaxTries is effectively "unlimited" for the confirmation queue: a
// transaction keeps being polled for its receipt until it lands, however
// long that takes.
const confirmMaxTries = math.MaxInt32

// confirmEntry tracks one submitted transaction awaiting confirmation.
type confirmEntry struct {
	order  types.SubmitOrder
	nonce  uint64
	txHash common.Hash
}

func (c confirmEntry) QueueKey() string { return c.order.QueueKey() }

// New wires the three stages together: evalHandler decides profitability
// and hands to submitQ; submitHandler builds+sends the transaction via w
// and hands to confirmQ; confirmHandler polls for the receipt.
func New(
	chainID uint64,
	logger *zap.Logger,
	s *store.Store,
	eval *evaluator.Evaluator,
	w *wallet.Wallet,
	client chainclient.ChainClient,
	encoder ContractEncoder,
	cfg config.SubmitterDefaults,
	met *metrics.Metrics,
) *Submitter {
	maxInFlight := cfg.MaxPendingTransactions
	if maxInFlight <= 0 {
		maxInFlight = 64
	}

	chainLabel := strconv.FormatUint(chainID, 10)
	sub := &Submitter{
		chainID:         chainID,
		chainLabel:      chainLabel,
		logger:          logger,
		store:           s,
		evaluationDelay: cfg.NewOrdersDelay,
		wallet:          w,
		met:             met,
		maxInFlight:     int64(maxInFlight),
	}

	evalOpts := queue.Options{RetryInterval: cfg.RetryInterval, MaxTries: cfg.MaxTries}
	submitOpts := queue.Options{RetryInterval: cfg.RetryInterval, MaxTries: cfg.MaxTries}
	// confirmMaxTries stands in for "retries forever": ProcessingQueue treats
	// a zero/negative MaxTries as 1 (no retry), so confirmation needs an
	// explicit large ceiling instead.
	confirmOpts := queue.Options{RetryInterval: cfg.RetryInterval, MaxTries: confirmMaxTries}

	sub.submitQ = queue.New[types.SubmitOrder](logger, &submitHandler{
		logger: logger, store: s, wallet: w, client: client, encoder: encoder, submitter: sub, met: met, chainLabel: chainLabel,
	}, submitOpts)

	sub.evalQ = queue.New[types.EvalOrder](logger, &evalHandler{
		logger: logger, eval: eval, store: s, submitQ: sub.submitQ, met: met, chainLabel: chainLabel,
	}, evalOpts)

	sub.confirmQ = queue.New[confirmEntry](logger, &confirmHandler{
		logger: logger, store: s, wallet: w, client: client, submitter: sub, met: met, chainLabel: chainLabel,
	}, confirmOpts)

	return sub
}

// AddEvalOrder admits a freshly-assembled order into the EvalQueue.
func (s *Submitter) AddEvalOrder(order types.EvalOrder) { s.evalQ.Add(order) }

// Depths exposes queue depths for the metrics gauges.
func (s *Submitter) Depths() (eval, submit, confirm int64) {
	return s.evalQ.Depth(), s.submitQ.Depth(), s.confirmQ.Depth()
}

// InFlight reports how many transactions have been sent but not confirmed.
func (s *Submitter) InFlight() int64 { return s.inFlight.Load() }

// Run starts all three queue loops, the submit-<chainId> dispatcher and the
// metrics reporter, and blocks until ctx is cancelled.
func (s *Submitter) Run(ctx context.Context) {
	done := make(chan struct{}, 5)
	go func() { s.evalQ.Run(ctx); done <- struct{}{} }()
	go func() { s.submitQ.Run(ctx); done <- struct{}{} }()
	go func() { s.confirmQ.Run(ctx); done <- struct{}{} }()
	go func() { s.reportLoop(ctx); done <- struct{}{} }()
	go func() { s.dispatchLoop(ctx); done <- struct{}{} }()
	<-ctx.Done()
	<-done
	<-done
	<-done
	<-done
	<-done
}

// dispatchLoop is the single consumer of submit-<chainId>: every AmbPayload
// a Collector publishes for this chain is admitted into the EvalQueue as a
// fresh EvalOrder. It retries the subscription indefinitely, since a
// transport blip here must never silently stop ingesting proofs.
func (s *Submitter) dispatchLoop(ctx context.Context) {
	for {
		err := s.store.SubscribeSubmit(ctx, types.BigIntFromInt64(int64(s.chainID)), func(payload types.AmbPayload) {
			s.AddEvalOrder(s.toEvalOrder(payload))
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warn("submit-channel subscription failed, resubscribing", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (s *Submitter) toEvalOrder(payload types.AmbPayload) types.EvalOrder {
	deadline := s.evaluationDelay
	if deadline <= 0 {
		deadline = 10 * time.Minute
	}
	return types.EvalOrder{
		Order: types.Order{
			AMB:               payload.AMB,
			MessageIdentifier: payload.MessageIdentifier,
			Message:           payload.Message,
			MessageCtx:        payload.MessageCtx,
		},
		IsDelivery:         true,
		Priority:           payload.Priority,
		EvaluationDeadline: time.Now().Add(deadline).Unix(),
	}
}

// reportLoop exports queue depths and wallet health into the Prometheus
// gauges until ctx is cancelled. It is a no-op when met is nil, which
// callers that don't care about metrics (e.g. unit tests) rely on.
func (s *Submitter) reportLoop(ctx context.Context) {
	if s.met == nil {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()

	report := func() {
		eval, submit, confirm := s.Depths()
		s.met.QueueDepth.WithLabelValues(s.chainLabel, "eval").Set(float64(eval))
		s.met.QueueDepth.WithLabelValues(s.chainLabel, "submit").Set(float64(submit))
		s.met.QueueDepth.WithLabelValues(s.chainLabel, "confirm").Set(float64(confirm))
		if s.wallet != nil {
			s.met.WalletBacklog.WithLabelValues(s.chainLabel).Set(float64(s.wallet.Backlog()))
			low := 0.0
			if s.wallet.LowBalance() {
				low = 1.0
			}
			s.met.WalletLowBalance.WithLabelValues(s.chainLabel).Set(low)
		}
	}

	report()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report()
		}
	}
}

// evalHandler implements queue.Handler[types.EvalOrder].
type evalHandler struct {
	logger     *zap.Logger
	eval       *evaluator.Evaluator
	store      *store.Store
	submitQ    *queue.ProcessingQueue[types.SubmitOrder]
	met        *metrics.Metrics
	chainLabel string
}

func (h *evalHandler) HandleOrder(ctx context.Context, order types.EvalOrder, retryCount int) (any, error) {
	bounty, found, err := h.store.GetBounty(ctx, order.MessageIdentifier)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil // placement not observed yet; the order is dropped
	}

	priceOfGas, maxGas, gasLimit := bounty.PriceOfDeliveryGas, bounty.MaxGasDelivery, uint64(bounty.MaxGasDelivery.Int64())
	if !order.IsDelivery {
		priceOfGas, maxGas, gasLimit = bounty.PriceOfAckGas, bounty.MaxGasAck, uint64(bounty.MaxGasAck.Int64())
	}

	should, err := h.eval.ShouldRelay(ctx, priceOfGas, maxGas, gasLimit, order.Priority)
	if err != nil {
		return nil, err
	}
	if !should {
		return nil, nil // not profitable now; the order is dropped
	}

	h.submitQ.Requeue(types.SubmitOrder{Order: order.Order, IsDelivery: order.IsDelivery, Priority: order.Priority})
	return true, nil
}

func (h *evalHandler) HandleFailedOrder(ctx context.Context, order types.EvalOrder, retryCount int, cause error) bool {
	return retryCount < 5
}

func (h *evalHandler) OnOrderCompletion(order types.EvalOrder, success bool, result any, retryCount int) {
	if !success {
		h.logger.Warn("order dropped from eval queue",
			zap.String("messageIdentifier", order.MessageIdentifier.Hex()), zap.Int("retryCount", retryCount))
		if h.met != nil {
			h.met.OrdersDropped.WithLabelValues(h.chainLabel, order.AMB).Inc()
		}
	}
}

// submitHandler implements queue.Handler[types.SubmitOrder].
type submitHandler struct {
	logger     *zap.Logger
	store      *store.Store
	wallet     *wallet.Wallet
	client     chainclient.ChainClient
	encoder    ContractEncoder
	submitter  *Submitter
	met        *metrics.Metrics
	chainLabel string
}

func (h *submitHandler) HandleOrder(ctx context.Context, order types.SubmitOrder, retryCount int) (any, error) {
	if h.submitter.inFlight.Load() >= h.submitter.maxInFlight {
		return nil, errBacklogFull
	}

	var req types.TransactionRequest
	var err error
	if order.IsDelivery {
		req, err = h.encoder.EncodeDelivery(order)
	} else {
		req, err = h.encoder.EncodeAck(order)
	}
	if err != nil {
		return nil, err
	}

	// A resubmission (either a retry after a transient failure or a
	// requeue of a message the SubmitQueue still tracks) must simulate first: a
	// competing relayer may already have delivered this message, which
	// manifests as the call reverting. Dropping here, rather than
	// retrying, is what keeps delivery at-most-once per messageIdentifier.
	if retryCount > 0 || order.RequeueCount > 0 {
		if _, simErr := h.client.EstimateGas(ctx, ethereum.CallMsg{
			From:  h.wallet.Address(),
			To:    &req.To,
			Data:  req.Data,
			Value: req.Value.Int,
		}); simErr != nil {
			h.logger.Info("dropping resubmission after simulation collision",
				zap.String("messageIdentifier", order.MessageIdentifier.Hex()),
				zap.Int("retryCount", retryCount), zap.Int("requeueCount", order.RequeueCount),
				zap.Error(simErr))
			return nil, nil
		}
	}

	txHash, nonce, err := h.wallet.Submit(ctx, req.To, req.Data, req.Value.Int, req.GasLimit)
	if err != nil {
		return nil, err
	}

	h.submitter.inFlight.Add(1)
	h.submitter.confirmQ.Add(confirmEntry{order: order, nonce: nonce, txHash: txHash})
	return true, nil
}

// HandleFailedOrder retries every submission failure (a suggest-fee RPC
// blip, an encoding error) until the queue's MaxTries. A collision with a competing
// relayer's delivery is not an error here — HandleOrder detects it via
// simulation and drops the order without ever reaching this path.
func (h *submitHandler) HandleFailedOrder(ctx context.Context, order types.SubmitOrder, retryCount int, cause error) bool {
	return true
}

func (h *submitHandler) OnOrderCompletion(order types.SubmitOrder, success bool, result any, retryCount int) {
	if !success {
		h.logger.Error("order permanently failed to submit",
			zap.String("messageIdentifier", order.MessageIdentifier.Hex()))
		if h.met != nil {
			h.met.OrdersDropped.WithLabelValues(h.chainLabel, order.AMB).Inc()
		}
	}
}

// confirmHandler implements queue.Handler[confirmEntry].
type confirmHandler struct {
	logger     *zap.Logger
	store      *store.Store
	wallet     *wallet.Wallet
	client     chainclient.ChainClient
	submitter  *Submitter
	met        *metrics.Metrics
	chainLabel string
}

func (h *confirmHandler) HandleOrder(ctx context.Context, entry confirmEntry, retryCount int) (any, error) {
	receipt, err := h.client.TransactionReceipt(ctx, entry.txHash)
	if err != nil {
		return nil, errNotYetMined
	}

	h.wallet.Confirm(entry.nonce)
	h.submitter.inFlight.Add(-1)

	if entry.order.IsDelivery {
		gasCost := types.NewBigInt(new(big.Int).Mul(
			new(big.Int).SetUint64(receipt.GasUsed), receipt.EffectiveGasPrice))
		if err := h.store.RegisterDeliveryCost(ctx, entry.order.MessageIdentifier, gasCost); err != nil {
			h.logger.Error("failed recording delivery cost", zap.Error(err))
		}
	}
	return true, nil
}

// confirmRepriceEvery is how many confirmation-poll retries elapse between
// reprice attempts for a transaction that has not yet been mined.
const confirmRepriceEvery = 10

// confirmMaxReprices bounds how many times a stalled transaction is
// repriced before the wallet gives up and emits a cancellation instead.
const confirmMaxReprices = 3

func (h *confirmHandler) HandleFailedOrder(ctx context.Context, entry confirmEntry, retryCount int, cause error) bool {
	if cause != errNotYetMined {
		return true
	}
	if retryCount <= 0 || retryCount%confirmRepriceEvery != 0 {
		return true
	}

	attempt := retryCount / confirmRepriceEvery
	if attempt > confirmMaxReprices {
		if _, err := h.wallet.Cancel(ctx, entry.nonce); err != nil {
			h.logger.Error("failed cancelling stalled transaction", zap.Error(err))
		}
		return true
	}

	if _, err := h.wallet.Reprice(ctx, entry.nonce); err != nil {
		h.logger.Warn("failed repricing stalled transaction", zap.Error(err))
	}
	return true
}

func (h *confirmHandler) OnOrderCompletion(entry confirmEntry, success bool, result any, retryCount int) {
	if !success {
		h.submitter.inFlight.Add(-1)
		h.logger.Error("transaction never confirmed", zap.String("txHash", entry.txHash.Hex()))
		if h.met != nil {
			h.met.OrdersDropped.WithLabelValues(h.chainLabel, entry.order.AMB).Inc()
		}
		return
	}
	if h.met != nil {
		h.met.OrdersProcessed.WithLabelValues(h.chainLabel, entry.order.AMB).Inc()
	}
}

var (
	errBacklogFull = queueBacklogFullError{}
	errNotYetMined = notYetMinedError{}
)

type queueBacklogFullError struct{}

func (queueBacklogFullError) Error() string { return "submitter: in-flight transaction limit reached" }

type notYetMinedError struct{}

func (notYetMinedError) Error() string { return "submitter: transaction not yet mined" }
