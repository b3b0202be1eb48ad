// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import "github.com/ethereum/go-ethereum/common"

// MessageIdentifier is the 32-byte opaque identifier chosen by the escrow
// contract. It is the primary key joining all per-message state.
type MessageIdentifier = common.Hash

// BountyStatus is a monotonically-advancing enum. A merge into an existing
// Bounty record never lowers it.
type BountyStatus int

const (
	BountyPlaced BountyStatus = iota
	MessageDelivered
	BountyClaimed
)

func (s BountyStatus) String() string {
	switch s {
	case BountyPlaced:
		return "BountyPlaced"
	case MessageDelivered:
		return "MessageDelivered"
	case BountyClaimed:
		return "BountyClaimed"
	default:
		return "Unknown"
	}
}

// Max returns the larger (further advanced) of the two statuses.
func (s BountyStatus) Max(other BountyStatus) BountyStatus {
	if other > s {
		return other
	}
	return s
}

// Bounty is the per-message bounty record. Fields are pointers/zero-values
// where the spec marks them optional, so that Merge can distinguish
// "never observed" from "observed as zero".
type Bounty struct {
	MessageIdentifier MessageIdentifier `json:"messageIdentifier"`
	FromChainID       BigInt            `json:"fromChainId"`
	ToChainID         *BigInt           `json:"toChainId,omitempty"`

	MaxGasDelivery     BigInt         `json:"maxGasDelivery"`
	MaxGasAck          BigInt         `json:"maxGasAck"`
	RefundGasTo        common.Address `json:"refundGasTo"`
	PriceOfDeliveryGas BigInt         `json:"priceOfDeliveryGas"`
	PriceOfAckGas      BigInt         `json:"priceOfAckGas"`
	TargetDelta        BigInt         `json:"targetDelta"`

	Status BountyStatus `json:"status"`

	SourceAddress      common.Address  `json:"sourceAddress"`
	DestinationAddress *common.Address `json:"destinationAddress,omitempty"`

	Finalised bool `json:"finalised"`

	SubmitTransactionHash *common.Hash `json:"submitTransactionHash,omitempty"`
	ExecTransactionHash   *common.Hash `json:"execTransactionHash,omitempty"`
	AckTransactionHash    *common.Hash `json:"ackTransactionHash,omitempty"`

	DeliveryGasCost *BigInt `json:"deliveryGasCost,omitempty"`
}

// Merge combines incoming into the receiver's existing state, taking the
// field-wise maximum of Status and the monotonic gas prices, and otherwise
// preferring whichever side already has a non-zero/non-nil value. Merge
// never drops information the on-disk record already had; it is the only
// way Store.registerXxx should ever mutate a Bounty.
func (b Bounty) Merge(incoming Bounty) Bounty {
	merged := b

	merged.Status = b.Status.Max(incoming.Status)

	if merged.FromChainID.IsZero() {
		merged.FromChainID = incoming.FromChainID
	}
	if merged.ToChainID == nil {
		merged.ToChainID = incoming.ToChainID
	}
	if merged.MaxGasDelivery.IsZero() {
		merged.MaxGasDelivery = incoming.MaxGasDelivery
	}
	if merged.MaxGasAck.IsZero() {
		merged.MaxGasAck = incoming.MaxGasAck
	}
	if (merged.RefundGasTo == common.Address{}) {
		merged.RefundGasTo = incoming.RefundGasTo
	}

	merged.PriceOfDeliveryGas = merged.PriceOfDeliveryGas.Max(incoming.PriceOfDeliveryGas)
	merged.PriceOfAckGas = merged.PriceOfAckGas.Max(incoming.PriceOfAckGas)

	if merged.TargetDelta.IsZero() {
		merged.TargetDelta = incoming.TargetDelta
	}
	if (merged.SourceAddress == common.Address{}) {
		merged.SourceAddress = incoming.SourceAddress
	}
	if merged.DestinationAddress == nil {
		merged.DestinationAddress = incoming.DestinationAddress
	}
	merged.Finalised = merged.Finalised || incoming.Finalised

	if merged.SubmitTransactionHash == nil {
		merged.SubmitTransactionHash = incoming.SubmitTransactionHash
	}
	if merged.ExecTransactionHash == nil {
		merged.ExecTransactionHash = incoming.ExecTransactionHash
	}
	if merged.AckTransactionHash == nil {
		merged.AckTransactionHash = incoming.AckTransactionHash
	}
	if merged.DeliveryGasCost == nil {
		merged.DeliveryGasCost = incoming.DeliveryGasCost
	}

	return merged
}

// AmbMessage is the raw cross-chain message as observed at the source.
type AmbMessage struct {
	MessageIdentifier MessageIdentifier `json:"messageIdentifier"`
	AMB               string            `json:"amb"`
	SourceChain       BigInt            `json:"sourceChain"`
	DestinationChain  BigInt            `json:"destinationChain"`
	SourceEscrow      common.Address    `json:"sourceEscrow"`
	Payload           []byte            `json:"payload"`
	RecoveryContext   []byte            `json:"recoveryContext,omitempty"`
	Priority          bool              `json:"priority"`

	SourceBlockNumber uint64      `json:"sourceBlockNumber"`
	SourceTxHash      common.Hash `json:"sourceTransactionHash"`
	SourceLogIndex    uint        `json:"sourceLogIndex"`
}

// AmbPayload is the delivery-ready tuple a Collector publishes on
// submit-<chainId>.
type AmbPayload struct {
	MessageIdentifier  MessageIdentifier `json:"messageIdentifier"`
	AMB                string            `json:"amb"`
	DestinationChainID BigInt            `json:"destinationChainId"`
	Message            []byte            `json:"message"`
	MessageCtx         []byte            `json:"messageCtx,omitempty"`
	Priority           bool              `json:"priority,omitempty"`
}

// Order is the queue record shared by Evaluator and Submitter.
type Order struct {
	AMB               string            `json:"amb"`
	FromChainID       BigInt            `json:"fromChainId"`
	MessageIdentifier MessageIdentifier `json:"messageIdentifier"`
	Message           []byte            `json:"message"`
	MessageCtx        []byte            `json:"messageCtx,omitempty"`
	IncentivesPayload []byte            `json:"incentivesPayload,omitempty"`

	// CorrelationID travels with the Order through every queue stage.
	// Nothing in this repository sets it, and it is never used as a lookup
	// key; messageIdentifier remains that.
	CorrelationID string `json:"correlationId,omitempty"`
}

// EvalOrder is an Order queued for evaluation.
type EvalOrder struct {
	Order
	IsDelivery         bool  `json:"isDelivery"`
	Priority           bool  `json:"priority"`
	EvaluationDeadline int64 `json:"evaluationDeadline"` // unix seconds
	RetryEvaluation    bool  `json:"retryEvaluation"`
}

// QueueKey identifies an EvalOrder by its messageIdentifier, so a repeated
// AmbPayload for the same message folds into the pending entry rather
// than queueing a duplicate evaluation.
func (o EvalOrder) QueueKey() string { return o.MessageIdentifier.Hex() }

// SubmitOrder is an EvalOrder that has passed evaluation and carries a
// built transaction request.
type SubmitOrder struct {
	Order
	IsDelivery         bool               `json:"isDelivery"`
	Priority           bool               `json:"priority"`
	TransactionRequest TransactionRequest `json:"transactionRequest"`
	RequeueCount       int                `json:"requeueCount"`
}

// QueueKey identifies a SubmitOrder by messageIdentifier plus leg (delivery
// vs ack), since a single message can have both legs in flight at once.
func (o SubmitOrder) QueueKey() string {
	leg := "ack"
	if o.IsDelivery {
		leg = "delivery"
	}
	return o.MessageIdentifier.Hex() + ":" + leg
}

// WithRequeueCount returns a copy of o stamped with n, so the SubmitQueue can
// tell submitHandler apart a fresh submission from a resubmission of the
// same delivery (see queue.RequeueCounter).
func (o SubmitOrder) WithRequeueCount(n int) SubmitOrder {
	o.RequeueCount = n
	return o
}

// TransactionRequest is the unsigned call the Wallet is asked to submit.
type TransactionRequest struct {
	To       common.Address `json:"to"`
	Data     []byte         `json:"data"`
	Value    BigInt         `json:"value"`
	GasLimit uint64         `json:"gasLimit"`
}
