// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package utils provides the black-box harness the e2e suite uses to
// launch the built relayer binary against a local Redis and a local chain,
// and to generate the YAML config it reads on startup.
package utils

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	. "github.com/onsi/gomega"

	"github.com/bountyrelay/relayer/config"
)

var storageLocation = fmt.Sprintf("%s/.bountyrelay-e2e-storage", os.TempDir())

// RunRelayerExecutable launches the built relayer binary against
// configPath, streaming its stdout/stderr into the test log the same way
// the CI harness tails a long-running process.
func RunRelayerExecutable(ctx context.Context, configPath string) (*exec.Cmd, context.CancelFunc) {
	relayerCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(relayerCtx, "./build/relayer", "--config", configPath)

	stdout, err := cmd.StdoutPipe()
	Expect(err).Should(BeNil())
	stderr, err := cmd.StderrPipe()
	Expect(err).Should(BeNil())

	log.Info("starting the relayer executable", "configPath", configPath)
	Expect(cmd.Start()).Should(BeNil())

	go streamLines(stdout, log.Info)
	go streamLines(stderr, log.Error)

	return cmd, cancel
}

func streamLines(r io.Reader, sink func(string, ...interface{})) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		sink(scanner.Text())
	}
}

// NewFundedKey generates a fresh ECDSA key for a test relayer wallet.
func NewFundedKey() *ecdsa.PrivateKey {
	key, err := crypto.GenerateKey()
	Expect(err).Should(BeNil())
	return key
}

// WriteRelayerConfig constructs a single-chain config pointing at rpcURL
// with incentivesAddress escrowAddress, signs with relayerKey, and writes
// it to a temp YAML file, returning the path the binary should be started
// with.
func WriteRelayerConfig(rpcURL string, chainID uint64, escrowAddress common.Address, relayerKey *ecdsa.PrivateKey) string {
	cfg := config.Config{
		Relayer: config.RelayerConfig{
			PrivateKey: fmt.Sprintf("%x", crypto.FromECDSA(relayerKey)),
			LogLevel:   "debug",
		},
		AMBs: map[string]config.AMBConfig{
			"mock": {
				IncentivesAddress: escrowAddress.Hex(),
				Settings:          map[string]any{"privateKey": fmt.Sprintf("%x", crypto.FromECDSA(relayerKey))},
			},
		},
		Chains: []config.ChainConfig{
			{ChainID: chainID, RPC: rpcURL},
		},
	}

	if err := os.MkdirAll(storageLocation, 0o755); err != nil {
		Expect(err).Should(BeNil())
	}
	path := fmt.Sprintf("%s/config.e2e.yaml", storageLocation)

	raw, err := yaml.Marshal(cfg)
	Expect(err).Should(BeNil())
	Expect(os.WriteFile(path, raw, 0o644)).Should(BeNil())

	return path
}
