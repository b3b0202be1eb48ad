// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

//go:generate mockgen -source=$GOFILE -destination=./mocks/mock_collector.go -package=mocks

// Package collectors is specific to each cross-chain message protocol (AMB).
// Each Collector watches its own wire format for proof-of-delivery evidence
// and, once assembled, hands the destination-chain payload to the Store.
package collectors

import (
	"context"

	"github.com/bountyrelay/relayer/types"
)

// Collector watches one AMB's proof stream and submits assembled payloads
// to the Store as they become deliverable.
type Collector interface {
	// Name identifies the AMB this collector implements, matching the
	// AMB field on types.AmbMessage/types.Bounty.SourceAddress lookups.
	Name() string

	// Run blocks, collecting proofs until ctx is cancelled.
	Run(ctx context.Context) error
}

// AMBHandler receives a single AmbMessage once the originating chain's
// Getter has observed the corresponding send, and decides whether the
// proof needed to deliver it is ready yet.
type AMBHandler interface {
	// HandleMessage is invoked once per observed AmbMessage. It returns
	// ready=true once the full delivery payload has been assembled and
	// is safe to hand to the Submitter.
	HandleMessage(ctx context.Context, msg types.AmbMessage) (payload types.AmbPayload, ready bool, err error)
}
