// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/bountyrelay/relayer/chainclient"
	"github.com/bountyrelay/relayer/collectors"
	"github.com/bountyrelay/relayer/collectors/layerzero"
	"github.com/bountyrelay/relayer/collectors/mock"
	"github.com/bountyrelay/relayer/config"
	"github.com/bountyrelay/relayer/database"
	"github.com/bountyrelay/relayer/evaluator"
	"github.com/bountyrelay/relayer/getter"
	"github.com/bountyrelay/relayer/httpapi"
	"github.com/bountyrelay/relayer/internal/metrics"
	"github.com/bountyrelay/relayer/logging"
	"github.com/bountyrelay/relayer/monitor"
	"github.com/bountyrelay/relayer/runtime"
	"github.com/bountyrelay/relayer/store"
	"github.com/bountyrelay/relayer/submitter"
	bountytypes "github.com/bountyrelay/relayer/types"
	"github.com/bountyrelay/relayer/wallet"
	"github.com/bountyrelay/relayer/wallet/signer"
)

// Exit codes: 0 is a clean shutdown (SIGINT/SIGTERM); 1 is a config or
// startup failure caught before any chain started running; 2 is a fatal
// error surfacing from a running chain's worker group.
const (
	exitOK           = 0
	exitConfigError  = 1
	exitRuntimeError = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := pflag.String("config", "", "path to the relayer config file; defaults to config.<NODE_ENV>.yaml")
	metricsAddr := pflag.String("metrics-addr", ":9090", "address to serve /metrics and /getAMBs on")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return exitConfigError
	}

	logger, err := logging.New(logging.Config{
		Level:     cfg.Relayer.LogLevel,
		LogFile:   cfg.Relayer.LogFile,
		MaxSizeMB: cfg.Relayer.LogMaxSizeMB,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed constructing logger:", err)
		return exitConfigError
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisAddr := config.ResolveRedisHost("localhost:6379")
	backend := database.NewRedisBackend(redisAddr, "", 0)
	kvStore := store.New(backend, logger)
	defer kvStore.Close()

	chainSigner, err := buildSigner(ctx, cfg)
	if err != nil {
		logger.Error("failed constructing signer", zap.Error(err))
		return exitConfigError
	}

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", httpapi.New(kvStore, logger).Handler())
	httpServer := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("http server exited", zap.Error(err))
		}
	}()
	defer httpServer.Close()

	workers, err := buildChainWorkers(ctx, cfg, kvStore, chainSigner, met, logger)
	if err != nil {
		logger.Error("failed constructing chain workers", zap.Error(err))
		return exitConfigError
	}

	if runErr := runtime.Run(ctx, workers); runErr != nil && ctx.Err() == nil {
		logger.Error("relayer exited with error", zap.Error(runErr))
		return exitRuntimeError
	}
	logger.Info("relayer shut down cleanly")
	return exitOK
}

// buildSigner resolves exactly one of privateKey/kmsKeyId into a
// signer.Signer, per config.Validate's mutual-exclusion invariant.
func buildSigner(ctx context.Context, cfg *config.Config) (signer.Signer, error) {
	if cfg.Relayer.PrivateKey != "" {
		key, err := crypto.HexToECDSA(trimHexPrefix(cfg.Relayer.PrivateKey))
		if err != nil {
			return nil, err
		}
		return signer.NewLocal(key), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return signer.NewKMS(ctx, kms.NewFromConfig(awsCfg), cfg.Relayer.KMSKeyID)
}

func trimHexPrefix(s string) string {
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// buildChainWorkers dials every configured chain's RPC endpoint and
// assembles its Monitor/Getter/Collectors/Submitter tuple. Exactly one
// Collector is attached per AMB name present in the top-level `ambs:`
// configuration, so every chain gets the same set of Collectors.
func buildChainWorkers(ctx context.Context, cfg *config.Config, s *store.Store, sg signer.Signer, met *metrics.Metrics, logger *zap.Logger) ([]runtime.ChainWorkers, error) {
	var workers []runtime.ChainWorkers

	for _, chain := range cfg.Chains {
		client, err := ethclient.DialContext(ctx, chain.RPC)
		if err != nil {
			return nil, fmt.Errorf("chain %d: dial %s: %w", chain.ChainID, chain.RPC, err)
		}
		cc := chainclient.NewEthClientAdapter(client)

		getterCfg := resolveGetterConfig(cfg.Relayer.Getter, chain.Getter)
		submitterCfg := resolveSubmitterConfig(cfg.Relayer.Submitter, chain.Submitter)

		chainLogger := logger.With(zap.Uint64("chainID", chain.ChainID))

		w, err := wallet.New(ctx, chain.ChainID, cc, sg, wallet.GasPolicy{
			MaxFeePerGas:                   bigIntOrNil(submitterCfg.MaxFeePerGas),
			MaxAllowedPriorityFeePerGas:    bigIntOrNil(submitterCfg.MaxAllowedPriorityFeePerGas),
			MaxPriorityFeeAdjustmentFactor: submitterCfg.MaxPriorityFeeAdjustmentFactor,
			Legacy:                         submitterCfg.Legacy,
			GasPriceAdjustmentFactor:       submitterCfg.GasPriceAdjustmentFactor,
			MaxAllowedGasPrice:             bigIntOrNil(submitterCfg.MaxAllowedGasPrice),
			PriorityAdjustmentFactor:       submitterCfg.PriorityAdjustmentFactor,
			LowBalanceWarning:              bigIntOrNil(submitterCfg.LowBalanceWarning),
		}, chainLogger)
		if err != nil {
			return nil, fmt.Errorf("chain %d: constructing wallet: %w", chain.ChainID, err)
		}

		eval := evaluator.New(cc, chainLogger, bigIntOrNil(submitterCfg.MaxAllowedGasPrice))

		mon := monitor.New(chain.ChainID, cc, getterCfg.ProcessingInterval, chainLogger)

		incentivesAddr := common.HexToAddress(firstIncentivesAddress(cfg.AMBs))
		get := getter.New(getter.Config{
			ChainID:            chain.ChainID,
			ContractAddress:    incentivesAddr,
			RetryInterval:      getterCfg.RetryInterval,
			ProcessingInterval: getterCfg.ProcessingInterval,
			MaxBlocks:          getterCfg.MaxBlocks,
		}, cc, mon, s, chainLogger)

		chainCollectors, err := buildCollectors(chain.ChainID, cfg.AMBs, incentivesAddr, cc, mon, getterCfg, s, chainLogger)
		if err != nil {
			return nil, fmt.Errorf("chain %d: constructing collectors: %w", chain.ChainID, err)
		}

		sub := submitter.New(chain.ChainID, chainLogger, s, eval, w, cc, noopEncoder{}, submitterCfg, met)

		workers = append(workers, runtime.ChainWorkers{
			ChainID:    chain.ChainID,
			Monitor:    mon,
			Getter:     get,
			Collectors: chainCollectors,
			Submitter:  sub,
			Logger:     chainLogger,
		})
	}

	return workers, nil
}

// buildCollectors attaches one Collector per AMB name configured globally,
// reusing the chain's already-resolved getter cadence (retryInterval,
// processingInterval, maxBlocks) since a collector's own chain scan follows
// the same bounded block-window discipline as the Getter.
func buildCollectors(chainID uint64, ambs map[string]config.AMBConfig, incentivesAddr common.Address, cc chainclient.ChainClient, mon *monitor.Monitor, getterCfg config.GetterDefaults, s *store.Store, logger *zap.Logger) ([]collectors.Collector, error) {
	var out []collectors.Collector

	for name, amb := range ambs {
		switch name {
		case "mock":
			key, err := mockSignerKey(amb)
			if err != nil {
				return nil, err
			}
			out = append(out, mock.New(mock.Config{
				ChainID:            chainID,
				ContractAddress:    incentivesAddr,
				IncentivesAddress:  incentivesAddr,
				RetryInterval:      getterCfg.RetryInterval,
				ProcessingInterval: getterCfg.ProcessingInterval,
				MaxBlocks:          getterCfg.MaxBlocks,
			}, cc, mon, mock.NewLocalSigner(key), s, logger.With(zap.String("amb", name))))
		case "layerzero":
			endpoint, err := layerZeroEndpoint(amb)
			if err != nil {
				return nil, err
			}
			out = append(out, layerzero.New(layerzero.Config{
				ChainID:            chainID,
				Endpoint:           endpoint,
				IncentivesAddress:  incentivesAddr,
				RetryInterval:      getterCfg.RetryInterval,
				ProcessingInterval: getterCfg.ProcessingInterval,
				MaxBlocks:          getterCfg.MaxBlocks,
			}, cc, mon, s, logger.With(zap.String("amb", name))))
		default:
			logger.Warn("no collector implementation for configured AMB, skipping", zap.String("amb", name))
		}
	}

	return out, nil
}

func mockSignerKey(amb config.AMBConfig) (*ecdsa.PrivateKey, error) {
	raw, ok := amb.Settings["privateKey"].(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("ambs.mock: privateKey setting is required")
	}
	return crypto.HexToECDSA(trimHexPrefix(raw))
}

func layerZeroEndpoint(amb config.AMBConfig) (common.Address, error) {
	raw, ok := amb.Settings["endpoint"].(string)
	if !ok || raw == "" {
		return common.Address{}, fmt.Errorf("ambs.layerzero: endpoint setting is required")
	}
	return common.HexToAddress(raw), nil
}

func resolveGetterConfig(base config.GetterDefaults, override *config.GetterDefaults) config.GetterDefaults {
	out := base
	if override == nil {
		return withGetterDefaults(out)
	}
	if override.RetryInterval != 0 {
		out.RetryInterval = override.RetryInterval
	}
	if override.ProcessingInterval != 0 {
		out.ProcessingInterval = override.ProcessingInterval
	}
	if override.MaxBlocks != 0 {
		out.MaxBlocks = override.MaxBlocks
	}
	return withGetterDefaults(out)
}

func withGetterDefaults(cfg config.GetterDefaults) config.GetterDefaults {
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if cfg.ProcessingInterval == 0 {
		cfg.ProcessingInterval = 2 * time.Second
	}
	if cfg.MaxBlocks == 0 {
		cfg.MaxBlocks = 100
	}
	return cfg
}

func resolveSubmitterConfig(base config.SubmitterDefaults, override *config.SubmitterDefaults) config.SubmitterDefaults {
	out := base
	if override != nil {
		out = *override
	}
	if out.RetryInterval == 0 {
		out.RetryInterval = 5 * time.Second
	}
	if out.ProcessingInterval == 0 {
		out.ProcessingInterval = 2 * time.Second
	}
	if out.MaxTries == 0 {
		out.MaxTries = 10
	}
	return out
}

func bigIntOrNil(b *bountytypes.BigInt) *big.Int {
	if b == nil {
		return nil
	}
	return b.Int
}

func firstIncentivesAddress(ambs map[string]config.AMBConfig) string {
	for _, amb := range ambs {
		if amb.IncentivesAddress != "" {
			return amb.IncentivesAddress
		}
	}
	return "0x0000000000000000000000000000000000000000"
}

// noopEncoder is a placeholder ContractEncoder until the escrow contract's
// generated ABI bindings are vendored; it always errors, so an
// undersigned submission never silently sends a malformed transaction.
type noopEncoder struct{}

func (noopEncoder) EncodeDelivery(order bountytypes.SubmitOrder) (bountytypes.TransactionRequest, error) {
	return bountytypes.TransactionRequest{}, errEncoderNotConfigured
}

func (noopEncoder) EncodeAck(order bountytypes.SubmitOrder) (bountytypes.TransactionRequest, error) {
	return bountytypes.TransactionRequest{}, errEncoderNotConfigured
}

var errEncoderNotConfigured = errors.New("cmd/relayer: escrow contract ABI encoder not configured")
