// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package submitter

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/bountyrelay/relayer/chainclient/mocks"
	"github.com/bountyrelay/relayer/database"
	dbmocks "github.com/bountyrelay/relayer/database/mocks"
	"github.com/bountyrelay/relayer/evaluator"
	"github.com/bountyrelay/relayer/internal/metrics"
	"github.com/bountyrelay/relayer/queue"
	"github.com/bountyrelay/relayer/store"
	"github.com/bountyrelay/relayer/types"
	"github.com/bountyrelay/relayer/wallet"
	"github.com/bountyrelay/relayer/wallet/signer"
)

var errRPCFailure = errors.New("submitter_test: rpc failure")

// noopHandler satisfies queue.Handler[T] for queues that exist in these
// tests only to observe Add/Requeue via Depth, never via Run.
type noopHandler[T any] struct{}

func (noopHandler[T]) HandleOrder(context.Context, T, int) (any, error)      { return nil, nil }
func (noopHandler[T]) HandleFailedOrder(context.Context, T, int, error) bool { return false }
func (noopHandler[T]) OnOrderCompletion(T, bool, any, int)                   {}

type fakeEncoder struct {
	req types.TransactionRequest
	err error
}

func (f *fakeEncoder) EncodeDelivery(types.SubmitOrder) (types.TransactionRequest, error) {
	return f.req, f.err
}

func (f *fakeEncoder) EncodeAck(types.SubmitOrder) (types.TransactionRequest, error) {
	return f.req, f.err
}

func newTestWallet(t *testing.T, client *mocks.MockChainClient) *wallet.Wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	client.EXPECT().NonceAt(gomock.Any(), gomock.Any()).Return(uint64(0), nil)
	w, err := wallet.New(context.Background(), 1, client, signer.NewLocal(key), wallet.GasPolicy{}, zap.NewNop())
	require.NoError(t, err)
	return w
}

func marshalBounty(t *testing.T, b types.Bounty) []byte {
	t.Helper()
	raw, err := json.Marshal(b)
	require.NoError(t, err)
	return raw
}

func TestEvalHandlerRequeuesWhenProfitable(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := dbmocks.NewMockKVBackend(ctrl)
	client := mocks.NewMockChainClient(ctrl)

	bounty := types.Bounty{
		MaxGasDelivery:     types.BigIntFromInt64(1_000_000),
		PriceOfDeliveryGas: types.BigIntFromInt64(100),
	}
	backend.EXPECT().Get(gomock.Any(), gomock.Any()).Return(marshalBounty(t, bounty), nil)
	client.EXPECT().SuggestGasPrice(gomock.Any()).Return(big.NewInt(1), nil)

	s := store.New(backend, zap.NewNop())
	eval := evaluator.New(client, zap.NewNop(), nil)
	submitQ := queue.New[types.SubmitOrder](zap.NewNop(), noopHandler[types.SubmitOrder]{}, queue.Options{})

	h := &evalHandler{logger: zap.NewNop(), eval: eval, store: s, submitQ: submitQ}
	order := types.EvalOrder{Order: types.Order{MessageIdentifier: common.HexToHash("0x01")}, IsDelivery: true}

	result, err := h.HandleOrder(context.Background(), order, 0)
	require.NoError(t, err)
	require.Equal(t, true, result)
	require.Equal(t, int64(1), submitQ.Depth())
}

func TestEvalHandlerSkipsWhenBountyNotObserved(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := dbmocks.NewMockKVBackend(ctrl)
	backend.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, database.ErrDataKeyNotFound)

	s := store.New(backend, zap.NewNop())
	h := &evalHandler{logger: zap.NewNop(), store: s}

	result, err := h.HandleOrder(context.Background(), types.EvalOrder{}, 0)
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestEvalHandlerSkipsWhenUnprofitable(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := dbmocks.NewMockKVBackend(ctrl)
	client := mocks.NewMockChainClient(ctrl)

	bounty := types.Bounty{
		MaxGasDelivery:     types.BigIntFromInt64(1),
		PriceOfDeliveryGas: types.BigIntFromInt64(1),
	}
	backend.EXPECT().Get(gomock.Any(), gomock.Any()).Return(marshalBounty(t, bounty), nil)
	client.EXPECT().SuggestGasPrice(gomock.Any()).Return(big.NewInt(1_000_000), nil)

	s := store.New(backend, zap.NewNop())
	eval := evaluator.New(client, zap.NewNop(), nil)
	submitQ := queue.New[types.SubmitOrder](zap.NewNop(), noopHandler[types.SubmitOrder]{}, queue.Options{})

	h := &evalHandler{logger: zap.NewNop(), eval: eval, store: s, submitQ: submitQ}
	result, err := h.HandleOrder(context.Background(), types.EvalOrder{IsDelivery: true}, 0)
	require.NoError(t, err)
	require.Nil(t, result)
	require.Equal(t, int64(0), submitQ.Depth())
}

func TestSubmitHandlerRejectsWhenBacklogFull(t *testing.T) {
	h := &submitHandler{logger: zap.NewNop(), submitter: &Submitter{maxInFlight: 1}}
	h.submitter.inFlight.Store(1)

	_, err := h.HandleOrder(context.Background(), types.SubmitOrder{}, 0)
	require.ErrorIs(t, err, errBacklogFull)
}

func TestSubmitHandlerSubmitsAndQueuesConfirm(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockChainClient(ctrl)
	w := newTestWallet(t, client)

	client.EXPECT().SuggestGasTipCap(gomock.Any()).Return(big.NewInt(1), nil)
	client.EXPECT().SuggestGasPrice(gomock.Any()).Return(big.NewInt(10), nil)
	client.EXPECT().BalanceAt(gomock.Any(), gomock.Any()).Return(big.NewInt(0), nil).AnyTimes()
	client.EXPECT().SendTransaction(gomock.Any(), gomock.Any()).Return(nil)

	encoder := &fakeEncoder{req: types.TransactionRequest{
		To:       common.HexToAddress("0x02"),
		GasLimit: 21000,
		Value:    types.BigIntFromInt64(0),
	}}

	confirmQ := queue.New[confirmEntry](zap.NewNop(), noopHandler[confirmEntry]{}, queue.Options{})
	sub := &Submitter{maxInFlight: 4, confirmQ: confirmQ}
	h := &submitHandler{logger: zap.NewNop(), wallet: w, encoder: encoder, submitter: sub}

	order := types.SubmitOrder{Order: types.Order{MessageIdentifier: common.HexToHash("0x01")}, IsDelivery: true}
	result, err := h.HandleOrder(context.Background(), order, 0)
	require.NoError(t, err)
	require.Equal(t, true, result)
	require.Equal(t, int64(1), sub.InFlight())
	require.Equal(t, int64(1), sub.confirmQ.Depth())
}

// TestSubmitHandlerDropsResubmissionOnSimulationCollision exercises the
// at-most-once guarantee: a resubmission (retryCount > 0) whose static call
// reverts — because a competing relayer already delivered the message — is
// dropped rather than retried or resent.
func TestSubmitHandlerDropsResubmissionOnSimulationCollision(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockChainClient(ctrl)
	client.EXPECT().EstimateGas(gomock.Any(), gomock.Any()).Return(uint64(0), errors.New("execution reverted"))

	encoder := &fakeEncoder{req: types.TransactionRequest{
		To:       common.HexToAddress("0x02"),
		GasLimit: 21000,
		Value:    types.BigIntFromInt64(0),
	}}

	confirmQ := queue.New[confirmEntry](zap.NewNop(), noopHandler[confirmEntry]{}, queue.Options{})
	sub := &Submitter{maxInFlight: 4, confirmQ: confirmQ}
	h := &submitHandler{logger: zap.NewNop(), client: client, encoder: encoder, submitter: sub}

	order := types.SubmitOrder{Order: types.Order{MessageIdentifier: common.HexToHash("0x01")}, IsDelivery: true}
	result, err := h.HandleOrder(context.Background(), order, 2)
	require.NoError(t, err)
	require.Nil(t, result)
	require.Equal(t, int64(0), sub.InFlight())
	require.Equal(t, int64(0), sub.confirmQ.Depth())
}

// TestSubmitHandlerRequeueAlsoTriggersSimulation exercises the same
// collision path for an order folded back in via Requeue rather than a
// queue-internal retry: RequeueCount > 0 must simulate exactly like
// retryCount > 0.
func TestSubmitHandlerRequeueAlsoTriggersSimulation(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockChainClient(ctrl)
	client.EXPECT().EstimateGas(gomock.Any(), gomock.Any()).Return(uint64(0), errors.New("execution reverted"))

	encoder := &fakeEncoder{req: types.TransactionRequest{
		To:       common.HexToAddress("0x02"),
		GasLimit: 21000,
		Value:    types.BigIntFromInt64(0),
	}}

	confirmQ := queue.New[confirmEntry](zap.NewNop(), noopHandler[confirmEntry]{}, queue.Options{})
	sub := &Submitter{maxInFlight: 4, confirmQ: confirmQ}
	h := &submitHandler{logger: zap.NewNop(), client: client, encoder: encoder, submitter: sub}

	order := types.SubmitOrder{
		Order:        types.Order{MessageIdentifier: common.HexToHash("0x01")},
		IsDelivery:   true,
		RequeueCount: 1,
	}
	result, err := h.HandleOrder(context.Background(), order, 0)
	require.NoError(t, err)
	require.Nil(t, result)
	require.Equal(t, int64(0), sub.confirmQ.Depth())
}

// capturingConfirmHandler records every confirmEntry handed to it so a test
// can assert on the nonce the submitHandler assigned, rather than only its
// count via Depth.
type capturingConfirmHandler struct {
	out chan<- confirmEntry
}

func (c capturingConfirmHandler) HandleOrder(_ context.Context, e confirmEntry, _ int) (any, error) {
	c.out <- e
	return true, nil
}
func (capturingConfirmHandler) HandleFailedOrder(context.Context, confirmEntry, int, error) bool {
	return false
}
func (capturingConfirmHandler) OnOrderCompletion(confirmEntry, bool, any, int) {}

// TestSubmitHandlerThreadsWalletNonceIntoConfirmEntry guards against the
// confirmEntry being built with its zero-value nonce: the nonce Wallet.Submit
// assigns must be the exact one confirmHandler later polls for.
func TestSubmitHandlerThreadsWalletNonceIntoConfirmEntry(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockChainClient(ctrl)
	w := newTestWallet(t, client)

	client.EXPECT().SuggestGasTipCap(gomock.Any()).Return(big.NewInt(1), nil)
	client.EXPECT().SuggestGasPrice(gomock.Any()).Return(big.NewInt(10), nil)
	client.EXPECT().BalanceAt(gomock.Any(), gomock.Any()).Return(big.NewInt(0), nil).AnyTimes()
	client.EXPECT().SendTransaction(gomock.Any(), gomock.Any()).Return(nil)

	encoder := &fakeEncoder{req: types.TransactionRequest{
		To:       common.HexToAddress("0x02"),
		GasLimit: 21000,
		Value:    types.BigIntFromInt64(0),
	}}

	captured := make(chan confirmEntry, 1)
	confirmQ := queue.New[confirmEntry](zap.NewNop(), capturingConfirmHandler{out: captured}, queue.Options{})
	sub := &Submitter{maxInFlight: 4, confirmQ: confirmQ}
	h := &submitHandler{logger: zap.NewNop(), wallet: w, encoder: encoder, submitter: sub}

	order := types.SubmitOrder{Order: types.Order{MessageIdentifier: common.HexToHash("0x01")}, IsDelivery: true}
	_, err := h.HandleOrder(context.Background(), order, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go confirmQ.Run(ctx)

	select {
	case entry := <-captured:
		require.Equal(t, uint64(0), entry.nonce)
	case <-time.After(time.Second):
		t.Fatal("confirm handler was never invoked with the submitted entry")
	}
}

func TestConfirmHandlerRecordsDeliveryCostOnSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockChainClient(ctrl)
	backend := dbmocks.NewMockKVBackend(ctrl)

	txHash := common.HexToHash("0xabc")
	client.EXPECT().TransactionReceipt(gomock.Any(), txHash).Return(&gethtypes.Receipt{
		GasUsed:           21000,
		EffectiveGasPrice: big.NewInt(5),
	}, nil)
	backend.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, database.ErrDataKeyNotFound)
	backend.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	backend.EXPECT().Publish(gomock.Any(), "relayer:key", gomock.Any()).Return(nil)

	w := newTestWallet(t, client)
	s := store.New(backend, zap.NewNop())
	sub := &Submitter{}
	sub.inFlight.Store(1)

	h := &confirmHandler{logger: zap.NewNop(), store: s, wallet: w, client: client, submitter: sub}
	entry := confirmEntry{
		order:  types.SubmitOrder{Order: types.Order{MessageIdentifier: common.HexToHash("0x01")}, IsDelivery: true},
		nonce:  0,
		txHash: txHash,
	}

	result, err := h.HandleOrder(context.Background(), entry, 0)
	require.NoError(t, err)
	require.Equal(t, true, result)
	require.Equal(t, int64(0), sub.InFlight())
}

func TestConfirmHandlerNotYetMinedRetriesWithoutReprice(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockChainClient(ctrl)
	client.EXPECT().TransactionReceipt(gomock.Any(), gomock.Any()).Return(nil, errRPCFailure)

	w := newTestWallet(t, client)
	h := &confirmHandler{logger: zap.NewNop(), wallet: w, client: client, submitter: &Submitter{}}

	entry := confirmEntry{nonce: 0}
	_, err := h.HandleOrder(context.Background(), entry, 0)
	require.ErrorIs(t, err, errNotYetMined)

	retry := h.HandleFailedOrder(context.Background(), entry, 3, errNotYetMined)
	require.True(t, retry)
}

func TestConfirmHandlerRepricesOnTenthRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockChainClient(ctrl)
	w := newTestWallet(t, client)

	client.EXPECT().SuggestGasTipCap(gomock.Any()).Return(big.NewInt(1), nil)
	client.EXPECT().SuggestGasPrice(gomock.Any()).Return(big.NewInt(10), nil)
	client.EXPECT().BalanceAt(gomock.Any(), gomock.Any()).Return(big.NewInt(0), nil).AnyTimes()
	client.EXPECT().SendTransaction(gomock.Any(), gomock.Any()).Return(nil).Times(2) // initial submit + reprice

	_, _, err := w.Submit(context.Background(), common.HexToAddress("0x02"), nil, big.NewInt(0), 21000)
	require.NoError(t, err)

	h := &confirmHandler{logger: zap.NewNop(), wallet: w, client: client, submitter: &Submitter{}}
	entry := confirmEntry{nonce: 0}

	retry := h.HandleFailedOrder(context.Background(), entry, 10, errNotYetMined)
	require.True(t, retry)
}

// TestConfirmHandlerCancelsAfterRepriceBudgetExhausted exercises the
// escalation path: once a stalled transaction has already been repriced
// confirmMaxReprices times, the next reprice tick issues a cancellation
// instead of yet another fee bump.
func TestConfirmHandlerCancelsAfterRepriceBudgetExhausted(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockChainClient(ctrl)
	w := newTestWallet(t, client)

	client.EXPECT().SuggestGasTipCap(gomock.Any()).Return(big.NewInt(1), nil)
	client.EXPECT().SuggestGasPrice(gomock.Any()).Return(big.NewInt(10), nil)
	client.EXPECT().BalanceAt(gomock.Any(), gomock.Any()).Return(big.NewInt(0), nil).AnyTimes()
	client.EXPECT().SendTransaction(gomock.Any(), gomock.Any()).Return(nil).Times(2) // initial submit + cancellation

	_, _, err := w.Submit(context.Background(), common.HexToAddress("0x02"), nil, big.NewInt(0), 21000)
	require.NoError(t, err)

	h := &confirmHandler{logger: zap.NewNop(), wallet: w, client: client, submitter: &Submitter{}}
	entry := confirmEntry{nonce: 0}

	retryCount := confirmRepriceEvery * (confirmMaxReprices + 1)
	retry := h.HandleFailedOrder(context.Background(), entry, retryCount, errNotYetMined)
	require.True(t, retry)
	require.False(t, w.Stalled())
}

func TestConfirmHandlerIncrementsOrdersProcessedOnSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockChainClient(ctrl)
	backend := dbmocks.NewMockKVBackend(ctrl)
	backend.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, database.ErrDataKeyNotFound)
	backend.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	backend.EXPECT().Publish(gomock.Any(), "relayer:key", gomock.Any()).Return(nil)

	txHash := common.HexToHash("0xabc")
	client.EXPECT().TransactionReceipt(gomock.Any(), txHash).Return(&gethtypes.Receipt{
		GasUsed:           21000,
		EffectiveGasPrice: big.NewInt(5),
	}, nil)

	w := newTestWallet(t, client)
	s := store.New(backend, zap.NewNop())
	met := metrics.New(prometheus.NewRegistry())

	h := &confirmHandler{
		logger: zap.NewNop(), store: s, wallet: w, client: client,
		submitter: &Submitter{}, met: met, chainLabel: "5",
	}
	entry := confirmEntry{
		order:  types.SubmitOrder{Order: types.Order{AMB: "mock"}, IsDelivery: true},
		txHash: txHash,
	}

	result, err := h.HandleOrder(context.Background(), entry, 0)
	require.NoError(t, err)
	h.OnOrderCompletion(entry, true, result, 0)

	require.Equal(t, float64(1), testutil.ToFloat64(met.OrdersProcessed.WithLabelValues("5", "mock")))
}

func TestEvalHandlerIncrementsOrdersDroppedWhenExhausted(t *testing.T) {
	met := metrics.New(prometheus.NewRegistry())
	h := &evalHandler{logger: zap.NewNop(), met: met, chainLabel: "5"}

	order := types.EvalOrder{Order: types.Order{AMB: "mock"}}
	h.OnOrderCompletion(order, false, nil, 5)

	require.Equal(t, float64(1), testutil.ToFloat64(met.OrdersDropped.WithLabelValues("5", "mock")))
}

func TestReportLoopPublishesQueueDepthsAndWalletHealth(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockChainClient(ctrl)
	w := newTestWallet(t, client)

	met := metrics.New(prometheus.NewRegistry())
	sub := &Submitter{
		chainLabel: "5",
		wallet:     w,
		met:        met,
		evalQ:      queue.New[types.EvalOrder](zap.NewNop(), noopHandler[types.EvalOrder]{}, queue.Options{}),
		submitQ:    queue.New[types.SubmitOrder](zap.NewNop(), noopHandler[types.SubmitOrder]{}, queue.Options{}),
		confirmQ:   queue.New[confirmEntry](zap.NewNop(), noopHandler[confirmEntry]{}, queue.Options{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { sub.reportLoop(ctx); close(done) }()
	cancel()
	<-done

	require.Equal(t, float64(0), testutil.ToFloat64(met.QueueDepth.WithLabelValues("5", "eval")))
	require.Equal(t, float64(0), testutil.ToFloat64(met.WalletBacklog.WithLabelValues("5")))
}
