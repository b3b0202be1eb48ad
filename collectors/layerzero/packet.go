// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package layerzero

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

var errMalformedPacket = errors.New("layerzero: malformed packet or inner message")

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		args[i] = abi.Argument{Type: typ}
	}
	return args
}

var (
	packetSentArgs = mustArguments(
		"bytes",   // encodedPacket
		"bytes",   // options
		"address", // sendLibrary
	)
	encodedPacketArgs = mustArguments(
		"uint64",  // nonce
		"uint32",  // srcEid
		"address", // sender
		"uint32",  // dstEid
		"address", // receiver
		"bytes32", // guid
		"bytes",   // message
	)
	payloadHashArgs = mustArguments(
		"bytes32", // guid
		"bytes",   // message
	)
)

// PacketSentTopic is the LayerZero V2 endpoint's PacketSent event
// signature, keccak256'd the way go-ethereum's abi.Events does.
var PacketSentTopic = crypto.Keccak256Hash([]byte("PacketSent(bytes,bytes,address)"))

// packet is the decoded LayerZero V2 wire envelope.
type packet struct {
	Nonce    uint64
	SrcEID   uint32
	Sender   common.Address
	DstEID   uint32
	Receiver common.Address
	GUID     common.Hash
	Message  []byte
}

// decodePacketSentLog unpacks a PacketSent log's data, then decodes the
// encodedPacket field into its seven components.
func decodePacketSentLog(data []byte) (packet, error) {
	values, err := packetSentArgs.Unpack(data)
	if err != nil {
		return packet{}, err
	}
	if len(values) != 3 {
		return packet{}, errMalformedPacket
	}
	encoded, ok := values[0].([]byte)
	if !ok {
		return packet{}, errMalformedPacket
	}
	return decodePacket(encoded)
}

func decodePacket(encoded []byte) (packet, error) {
	values, err := encodedPacketArgs.Unpack(encoded)
	if err != nil {
		return packet{}, err
	}
	if len(values) != 7 {
		return packet{}, errMalformedPacket
	}
	return packet{
		Nonce:    values[0].(uint64),
		SrcEID:   values[1].(uint32),
		Sender:   values[2].(common.Address),
		DstEID:   values[3].(uint32),
		Receiver: values[4].(common.Address),
		GUID:     common.Hash(values[5].([32]byte)),
		Message:  values[6].([]byte),
	}, nil
}

// garpMessage is the inner "GARP" envelope carried as a packet's message:
// byte 0 is a context tag, followed by a 32-byte messageIdentifier, a
// 20-byte sender, a 20-byte destination, and the remaining application
// payload.
type garpMessage struct {
	MessageIdentifier common.Hash
	Sender            common.Address
	Destination       common.Address
	Payload           []byte
}

const garpHeaderLength = 1 + common.HashLength + common.AddressLength + common.AddressLength

func decodeGARP(msg []byte) (garpMessage, error) {
	if len(msg) < garpHeaderLength {
		return garpMessage{}, errMalformedPacket
	}
	return garpMessage{
		MessageIdentifier: common.BytesToHash(msg[1:33]),
		Sender:            common.BytesToAddress(msg[33:53]),
		Destination:       common.BytesToAddress(msg[53:73]),
		Payload:           msg[73:],
	}, nil
}

// payloadHashOf computes the secondary index key a later PayloadVerified
// sighting is correlated by: keccak256(abi.encode(bytes32 guid, bytes
// message)).
func payloadHashOf(guid common.Hash, message []byte) common.Hash {
	packed, err := payloadHashArgs.Pack(guid, message)
	if err != nil {
		// Arguments are fixed-arity and statically typed; Pack only fails
		// on a type mismatch, which would be a programming error here.
		panic(err)
	}
	return crypto.Keccak256Hash(packed)
}
