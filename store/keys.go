// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store is the typed facade over package database: key layout,
// channel names, JSON codecs for Bounty/AmbMessage/AmbPayload, and the
// merge-safe register* operations.
package store

import "fmt"

// Key midfixes: "relayer:<midfix>:<id>[:<sub>]".
const (
	midfixBounty = "bounty"
	midfixAmb    = "amb"
	midfixProof  = "proof"
)

// Well-known pub-sub channels.
const (
	channelAMB = "amb"
	channelKey = "key"
)

func bountyKey(id fmt.Stringer) string {
	return fmt.Sprintf("relayer:%s:%s", midfixBounty, id.String())
}

func ambKey(id fmt.Stringer) string {
	return fmt.Sprintf("relayer:%s:%s", midfixAmb, id.String())
}

// ambPayloadHashKey is the LayerZero secondary index: amb records keyed by
// payloadHash instead of messageIdentifier.
func ambPayloadHashKey(payloadHash fmt.Stringer) string {
	return fmt.Sprintf("relayer:%s:%s:payloadHash", midfixAmb, payloadHash.String())
}

func proofKey(id fmt.Stringer) string {
	return fmt.Sprintf("relayer:%s:%s", midfixProof, id.String())
}

func submitChannel(chainID fmt.Stringer) string {
	return fmt.Sprintf("relayer:submit-%s", chainID.String())
}

func channelName(name string) string {
	return fmt.Sprintf("relayer:%s", name)
}
