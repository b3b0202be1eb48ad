// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config resolves and validates the relayer's YAML configuration.
// The file is located NODE_ENV-selected through a viper-resolved path, but
// decoded with yaml.v3 into concrete structs so that the nested ambs/chains
// sections and big-integer fields get real Go types instead of viper's
// loose maps.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bountyrelay/relayer/types"
)

// GetterDefaults are the getter's tunable polling/windowing knobs.
type GetterDefaults struct {
	RetryInterval      time.Duration `yaml:"retryInterval"`
	ProcessingInterval time.Duration `yaml:"processingInterval"`
	MaxBlocks          uint64        `yaml:"maxBlocks"`
	StartingBlock      *uint64       `yaml:"startingBlock,omitempty"`
	StoppingBlock      *uint64       `yaml:"stoppingBlock,omitempty"`
}

// GasLimitBuffer maps an AMB name (or "default") to a buffer added atop the
// simulated gas estimate before submission.
type GasLimitBuffer map[string]uint64

// SubmitterDefaults are the submitter/wallet's tunable retry and gas knobs.
type SubmitterDefaults struct {
	Enabled                        bool           `yaml:"enabled"`
	NewOrdersDelay                 time.Duration  `yaml:"newOrdersDelay"`
	RetryInterval                  time.Duration  `yaml:"retryInterval"`
	ProcessingInterval             time.Duration  `yaml:"processingInterval"`
	MaxTries                       int            `yaml:"maxTries"`
	MaxPendingTransactions         int            `yaml:"maxPendingTransactions"`
	GasLimitBuffer                 GasLimitBuffer `yaml:"gasLimitBuffer"`
	Legacy                         bool           `yaml:"legacy,omitempty"`
	MaxFeePerGas                   *types.BigInt  `yaml:"maxFeePerGas,omitempty"`
	MaxPriorityFeeAdjustmentFactor float64        `yaml:"maxPriorityFeeAdjustmentFactor,omitempty"`
	MaxAllowedPriorityFeePerGas    *types.BigInt  `yaml:"maxAllowedPriorityFeePerGas,omitempty"`
	GasPriceAdjustmentFactor       float64        `yaml:"gasPriceAdjustmentFactor,omitempty"`
	MaxAllowedGasPrice             *types.BigInt  `yaml:"maxAllowedGasPrice,omitempty"`
	PriorityAdjustmentFactor       float64        `yaml:"priorityAdjustmentFactor,omitempty"`
	LowBalanceWarning              *types.BigInt  `yaml:"lowBalanceWarning,omitempty"`
}

// RelayerConfig is the top-level `relayer:` section.
type RelayerConfig struct {
	PrivateKey string `yaml:"privateKey,omitempty"`
	KMSKeyID   string `yaml:"kmsKeyId,omitempty"`

	LogLevel     string `yaml:"logLevel"`
	LogFile      string `yaml:"logFile,omitempty"`
	LogMaxSizeMB int    `yaml:"logMaxSizeMB,omitempty"`

	Getter    GetterDefaults    `yaml:"getter"`
	Submitter SubmitterDefaults `yaml:"submitter"`
}

// AMBConfig is a single entry of the `ambs:` map.
type AMBConfig struct {
	IncentivesAddress string         `yaml:"incentivesAddress,omitempty"`
	Settings          map[string]any `yaml:",inline"`
}

// ChainConfig is a single entry of the `chains:` list.
type ChainConfig struct {
	ChainID   uint64               `yaml:"chainId"`
	RPC       string               `yaml:"rpc"`
	Getter    *GetterDefaults      `yaml:"getter,omitempty"`
	Submitter *SubmitterDefaults   `yaml:"submitter,omitempty"`
	AMBs      map[string]AMBConfig `yaml:"-"`
	Extra     map[string]yaml.Node `yaml:",inline"`
}

// Config is the full resolved configuration document.
type Config struct {
	Relayer RelayerConfig        `yaml:"relayer"`
	AMBs    map[string]AMBConfig `yaml:"ambs"`
	Chains  []ChainConfig        `yaml:"chains"`
}

// EnvFile returns the config file name for the given NODE_ENV tag:
// "config.<env>.yaml".
func EnvFile(env string) string {
	if env == "" {
		env = "development"
	}
	return fmt.Sprintf("config.%s.yaml", env)
}

// Load resolves NODE_ENV (or explicitPath, if non-empty) through viper and
// decodes the result with yaml.v3.
func Load(explicitPath string) (*Config, error) {
	path := explicitPath
	if path == "" {
		v := viper.New()
		v.AutomaticEnv()
		env := v.GetString("NODE_ENV")
		path = EnvFile(env)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: reading %s", path)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrapf(err, "config: parsing %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config: invalid configuration")
	}
	return &cfg, nil
}

// Validate enforces the invariants that must be caught at startup; the
// process refuses to start rather than run with an ambiguous signer or an
// unreachable chain.
func (c *Config) Validate() error {
	if c.Relayer.PrivateKey == "" && c.Relayer.KMSKeyID == "" {
		return errors.New("relayer: exactly one of privateKey or kmsKeyId must be set")
	}
	if c.Relayer.PrivateKey != "" && c.Relayer.KMSKeyID != "" {
		return errors.New("relayer: privateKey and kmsKeyId are mutually exclusive")
	}
	if len(c.Chains) == 0 {
		return errors.New("chains: at least one chain must be configured")
	}
	for _, chain := range c.Chains {
		if chain.RPC == "" {
			return errors.Errorf("chains: chain %d missing rpc", chain.ChainID)
		}
	}
	return nil
}

// ResolveRedisHost applies the USE_DOCKER convention: when set, the backing
// store host is "redis" regardless of what is otherwise configured (the
// Docker Compose service name).
func ResolveRedisHost(configured string) string {
	if os.Getenv("USE_DOCKER") != "" {
		return "redis"
	}
	return configured
}

// GasLimitBufferFor resolves the configured buffer for amb, falling back to
// the "default" entry when amb has no specific override.
func (b GasLimitBuffer) GasLimitBufferFor(amb string) uint64 {
	if v, ok := b[amb]; ok {
		return v
	}
	return b["default"]
}
