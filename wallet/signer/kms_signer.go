// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/asn1"
	"math/big"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// KMSClient is the subset of *kms.Client the KMS signer depends on.
type KMSClient interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

// KMS signs with a secp256k1 key held in AWS KMS, used when the operator
// configures kmsKeyId instead of privateKey.
type KMS struct {
	client  KMSClient
	keyID   string
	address common.Address
	pubKey  *ecdsa.PublicKey
}

// NewKMS resolves keyID's public key and derives its Ethereum address up
// front, so a misconfigured keyID is caught at startup rather than on the
// first signing attempt.
func NewKMS(ctx context.Context, client KMSClient, keyID string) (*KMS, error) {
	out, err := client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(keyID)})
	if err != nil {
		return nil, errors.Wrap(err, "signer: fetching KMS public key")
	}

	pub, err := x509.ParsePKIXPublicKey(out.PublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "signer: parsing KMS public key")
	}
	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("signer: KMS key is not an EC public key")
	}

	return &KMS{
		client:  client,
		keyID:   keyID,
		address: crypto.PubkeyToAddress(*ecdsaPub),
		pubKey:  ecdsaPub,
	}, nil
}

func (k *KMS) Address() common.Address { return k.address }

func (k *KMS) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signer := types.LatestSignerForChainID(chainID)
	digest := signer.Hash(tx)

	out, err := k.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(k.keyID),
		Message:          digest[:],
		MessageType:      kmstypes.MessageTypeDigest,
		SigningAlgorithm: kmstypes.SigningAlgorithmSpecEcdsaSha256,
	})
	if err != nil {
		return nil, errors.Wrap(err, "signer: KMS Sign")
	}

	sig, err := asnToRecoverableSignature(out.Signature, digest[:], k.pubKey)
	if err != nil {
		return nil, err
	}
	return tx.WithSignature(signer, sig)
}

// asnToRecoverableSignature converts KMS's ASN.1 DER-encoded (r, s) pair
// into the 65-byte [R || S || V] form go-ethereum expects, trying both
// recovery IDs against the known public key since KMS does not return one.
func asnToRecoverableSignature(der []byte, digest []byte, pubKey *ecdsa.PublicKey) ([]byte, error) {
	var parsed struct {
		R, S *big.Int
	}
	if _, err := asn1.Unmarshal(der, &parsed); err != nil {
		return nil, errors.Wrap(err, "signer: parsing KMS ASN.1 signature")
	}

	curveOrder := crypto.S256().Params().N
	if parsed.S.Cmp(new(big.Int).Rsh(curveOrder, 1)) > 0 {
		parsed.S = new(big.Int).Sub(curveOrder, parsed.S)
	}

	sig := make([]byte, 65)
	copy(sig[32-len(parsed.R.Bytes()):32], parsed.R.Bytes())
	copy(sig[64-len(parsed.S.Bytes()):64], parsed.S.Bytes())

	for recID := byte(0); recID < 2; recID++ {
		sig[64] = recID
		recovered, err := crypto.SigToPub(digest, sig)
		if err == nil && recovered.X.Cmp(pubKey.X) == 0 && recovered.Y.Cmp(pubKey.Y) == 0 {
			return sig, nil
		}
	}
	return nil, errors.New("signer: could not determine recovery id for KMS signature")
}
