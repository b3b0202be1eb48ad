// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bountyrelay/relayer/database"
	"github.com/bountyrelay/relayer/types"
)

// SetAmb stores amb by its messageIdentifier.
func (s *Store) SetAmb(ctx context.Context, amb types.AmbMessage) error {
	return s.set(ctx, ambKey(amb.MessageIdentifier), amb)
}

// GetAmb returns the AmbMessage for id, if one has been observed.
func (s *Store) GetAmb(ctx context.Context, id types.MessageIdentifier) (types.AmbMessage, bool, error) {
	var amb types.AmbMessage
	found, err := s.get(ctx, ambKey(id), &amb)
	return amb, found, err
}

// SetPayloadLayerZeroAmb stores amb under the secondary payloadHash index
// used only by the LayerZero collector: a later attestation event
// correlated by payloadHash can look the message back up without
// re-deriving messageIdentifier.
func (s *Store) SetPayloadLayerZeroAmb(ctx context.Context, payloadHash common.Hash, amb types.AmbMessage) error {
	return s.set(ctx, ambPayloadHashKey(payloadHash), amb)
}

// GetAmbByPayloadHash looks up the secondary LayerZero index.
func (s *Store) GetAmbByPayloadHash(ctx context.Context, payloadHash common.Hash) (types.AmbMessage, bool, error) {
	var amb types.AmbMessage
	found, err := s.get(ctx, ambPayloadHashKey(payloadHash), &amb)
	return amb, found, err
}

// SubmitProof persists payload under the proof midfix and publishes it on
// submit-<destinationChainId>. The durable write happens first: pub-sub
// delivery is best-effort, so the proof stays readable through GetProof
// even when no subscriber received the publish.
func (s *Store) SubmitProof(ctx context.Context, destinationChainID types.BigInt, payload types.AmbPayload) error {
	if err := s.set(ctx, proofKey(payload.MessageIdentifier), payload); err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "store: marshal AmbPayload")
	}
	return s.backend.Publish(ctx, submitChannel(destinationChainID), raw)
}

// GetProof returns the durably-stored AmbPayload for id. The Submitter does
// not call it; proofs reach the Submitter only through submit-<chainId>.
func (s *Store) GetProof(ctx context.Context, id types.MessageIdentifier) (types.AmbPayload, bool, error) {
	var payload types.AmbPayload
	found, err := s.get(ctx, proofKey(id), &payload)
	return payload, found, err
}

// SubscribeSubmit subscribes to submit-<chainId>, the Submitter's proof
// intake stream.
func (s *Store) SubscribeSubmit(ctx context.Context, chainID types.BigInt, handler func(types.AmbPayload)) error {
	return s.backend.Subscribe(ctx, submitChannel(chainID), func(msg database.Message) {
		var payload types.AmbPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			s.logger.Error("malformed AmbPayload on submit channel", zap.Error(err))
			return
		}
		handler(payload)
	})
}
