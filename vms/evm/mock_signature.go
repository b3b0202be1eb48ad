// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package evm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// MockMessageDigest is the hash the Mock AMB's signer signs: the
// incentives contract's address, left-padded to 32 bytes the way a
// Solidity verifier recovers it from `abi.encodePacked`, concatenated with
// the raw application message.
func MockMessageDigest(incentivesAddress common.Address, message []byte) common.Hash {
	prefixed := make([]byte, 0, common.HashLength+len(message))
	prefixed = append(prefixed, common.LeftPadBytes(incentivesAddress.Bytes(), common.HashLength)...)
	prefixed = append(prefixed, message...)
	return crypto.Keccak256Hash(prefixed)
}

// EncodeMockSignature packs a 65-byte [R || S || V] secp256k1 signature
// (crypto.Sign's output format) into the verifier's expected
// abi.encode(uint8 v, uint256 r, uint256 s), with v shifted into Ethereum's
// 27/28 convention.
func EncodeMockSignature(sig []byte) ([]byte, error) {
	if len(sig) != 65 {
		return nil, errors.Errorf("evm: mock signature must be 65 bytes, got %d", len(sig))
	}
	v := uint8(sig[64])
	if v < 27 {
		v += 27
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	return mockSignatureArgs.Pack(v, r, s)
}

// DecodeMockSignature reverses EncodeMockSignature, returning the 65-byte
// [R || S || V] form crypto.Ecrecover expects, with v shifted back to 0/1.
func DecodeMockSignature(packed []byte) ([]byte, error) {
	values, err := mockSignatureArgs.Unpack(packed)
	if err != nil {
		return nil, err
	}
	if len(values) != 3 {
		return nil, errMalformedLog
	}
	v := values[0].(uint8)
	r := values[1].(*big.Int)
	s := values[2].(*big.Int)
	if v >= 27 {
		v -= 27
	}

	sig := make([]byte, 65)
	copy(sig[32-len(r.Bytes()):32], r.Bytes())
	copy(sig[64-len(s.Bytes()):64], s.Bytes())
	sig[64] = v
	return sig, nil
}
