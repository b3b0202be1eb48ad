// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package tests

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/bountyrelay/relayer/tests/utils"
)

func TestE2E(t *testing.T) {
	if os.Getenv("RUN_E2E") == "" {
		t.Skip("Environment variable RUN_E2E not set; skipping E2E tests")
	}

	RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "Relayer e2e test")
}

// This suite starts a miniredis instance (the relayer binary does not use
// it: it reaches Redis at localhost:6379, or at "redis" under USE_DOCKER),
// generates a fresh local key, writes a single-chain config pointing at
// whatever RPC endpoint RUN_E2E_RPC_URL names, launches the built relayer
// binary against it, and asserts on its externally observable behavior
// (the getAMBs HTTP surface) rather than its internals.
var _ = ginkgo.Describe("relayer e2e", func() {
	var (
		mr         *miniredis.Miniredis
		cancelFunc context.CancelFunc
	)

	ginkgo.BeforeEach(func() {
		var err error
		mr, err = miniredis.Run()
		Expect(err).Should(BeNil())
	})

	ginkgo.AfterEach(func() {
		mr.Close()
		if cancelFunc != nil {
			cancelFunc()
		}
	})

	ginkgo.It("serves getAMBs for a message that was never observed", func() {
		rpcURL := os.Getenv("RUN_E2E_RPC_URL")
		if rpcURL == "" {
			ginkgo.Skip("RUN_E2E_RPC_URL not set")
		}

		key := utils.NewFundedKey()
		escrow := common.HexToAddress("0x1111111111111111111111111111111111111111")
		configPath := utils.WriteRelayerConfig(rpcURL, 1, escrow, key)

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		cancelFunc = cancel
		cmd, relayerCancel := utils.RunRelayerExecutable(ctx, configPath)
		defer relayerCancel()
		defer cmd.Process.Kill()

		Eventually(func() error {
			resp, err := http.Get("http://localhost:9090/getAMBs?transactionHash=" +
				"0x0000000000000000000000000000000000000000000000000000000000000000"[:66])
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			return nil
		}, 30*time.Second, time.Second).Should(Succeed())
	})
})
