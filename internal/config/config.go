// Package config loads service configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"github.com/atmx/staking-ledger/internal/ledger"
	"github.com/atmx/staking-ledger/internal/model"
	"github.com/atmx/staking-ledger/internal/units"
)

// DefaultPath is used when CONFIG_PATH is unset.
const DefaultPath = "configs/config.yaml"

// DefaultLedgerAddress is the ledger's own account when none is configured.
const DefaultLedgerAddress = "0x000000000000000000000000000000005374616B"

// Allocation credits a holder at startup. Amount is in human units of the
// asset ("1000", "0.5").
type Allocation struct {
	Holder string `yaml:"holder"`
	Amount string `yaml:"amount"`
}

// AssetConfig declares one asset of the bank.
type AssetConfig struct {
	Address  string       `yaml:"address"`
	Symbol   string       `yaml:"symbol"`
	Decimals int32        `yaml:"decimals"`
	Genesis  []Allocation `yaml:"genesis"`
}

// Config holds all application configuration.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		URL        string        `yaml:"url"`
		RedisURL   string        `yaml:"redis_url"`
		CacheTTL   time.Duration `yaml:"cache_ttl"`
		SQLitePath string        `yaml:"sqlite_path"`
	} `yaml:"database"`
	Ledger struct {
		Address        string `yaml:"address"`
		StakingAsset   string `yaml:"staking_asset"`
		RewardAsset    string `yaml:"reward_asset"`
		RewardRate     uint64 `yaml:"reward_rate"`
		AutoInitialize bool   `yaml:"auto_initialize"`
		TransferPolicy string `yaml:"transfer_policy"`
	} `yaml:"ledger"`
	Assets []AssetConfig `yaml:"assets"`
	Audit  struct {
		Disabled bool   `yaml:"disabled"`
		Cron     string `yaml:"cron"`
	} `yaml:"audit"`
	Faucet struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"faucet"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Database.RedisURL = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("LEDGER_ADDRESS"); v != "" {
		cfg.Ledger.Address = v
	}
	if v := os.Getenv("TRANSFER_POLICY"); v != "" {
		cfg.Ledger.TransferPolicy = v
	}
	if v := os.Getenv("AUDIT_CRON"); v != "" {
		cfg.Audit.Cron = v
	}
	if v := os.Getenv("FAUCET_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("FAUCET_ENABLED: %w", err)
		}
		cfg.Faucet.Enabled = enabled
	}

	// Defaults
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Database.CacheTTL == 0 {
		cfg.Database.CacheTTL = 30 * time.Second
	}
	if cfg.Ledger.Address == "" {
		cfg.Ledger.Address = DefaultLedgerAddress
	}
	if cfg.Ledger.TransferPolicy == "" {
		cfg.Ledger.TransferPolicy = string(ledger.PolicyStrict)
	}
	if cfg.Audit.Cron == "" {
		cfg.Audit.Cron = "0 * * * * *"
	}

	return cfg, nil
}

// Validate checks addresses, amounts and cross-references.
func (c *Config) Validate() error {
	if !common.IsHexAddress(c.Ledger.Address) {
		return fmt.Errorf("ledger.address %q is not a hex address", c.Ledger.Address)
	}
	if _, err := ledger.ParseTransferPolicy(c.Ledger.TransferPolicy); err != nil {
		return fmt.Errorf("ledger.transfer_policy: %w", err)
	}

	seen := make(map[common.Address]bool)
	for i, a := range c.Assets {
		if !common.IsHexAddress(a.Address) {
			return fmt.Errorf("assets[%d].address %q is not a hex address", i, a.Address)
		}
		if a.Symbol == "" {
			return fmt.Errorf("assets[%d].symbol is required", i)
		}
		seen[common.HexToAddress(a.Address)] = true
		for j, g := range a.Genesis {
			if !common.IsHexAddress(g.Holder) {
				return fmt.Errorf("assets[%d].genesis[%d].holder %q is not a hex address", i, j, g.Holder)
			}
			if _, err := units.ParseAmount(g.Amount, a.Decimals); err != nil {
				return fmt.Errorf("assets[%d].genesis[%d].amount: %w", i, j, err)
			}
		}
	}

	if c.Ledger.AutoInitialize {
		for _, f := range []struct{ name, addr string }{
			{"ledger.staking_asset", c.Ledger.StakingAsset},
			{"ledger.reward_asset", c.Ledger.RewardAsset},
		} {
			if !common.IsHexAddress(f.addr) {
				return fmt.Errorf("%s %q is not a hex address", f.name, f.addr)
			}
			if !seen[common.HexToAddress(f.addr)] {
				return fmt.Errorf("%s %s is not a configured asset", f.name, f.addr)
			}
		}
		if c.Ledger.RewardRate == 0 || c.Ledger.RewardRate > ledger.MaxRewardRate {
			return fmt.Errorf("ledger.reward_rate must be in 1..%d", ledger.MaxRewardRate)
		}
	}
	return nil
}

// LedgerAddress returns the ledger's own account.
func (c *Config) LedgerAddress() common.Address {
	return common.HexToAddress(c.Ledger.Address)
}

// TransferPolicy returns the parsed policy. Call Validate first.
func (c *Config) TransferPolicy() ledger.TransferPolicy {
	p, _ := ledger.ParseTransferPolicy(c.Ledger.TransferPolicy)
	return p
}

// AssetList converts the asset section for the registry.
func (c *Config) AssetList() []model.Asset {
	assets := make([]model.Asset, 0, len(c.Assets))
	for _, a := range c.Assets {
		assets = append(assets, model.Asset{
			Address:  common.HexToAddress(a.Address),
			Symbol:   a.Symbol,
			Decimals: a.Decimals,
		})
	}
	return assets
}

// GenesisCredit is one parsed genesis allocation.
type GenesisCredit struct {
	Asset  common.Address
	Holder common.Address
	Amount *uint256.Int
}

// Genesis returns all genesis allocations in base units. Call Validate first.
func (c *Config) Genesis() []GenesisCredit {
	var credits []GenesisCredit
	for _, a := range c.Assets {
		for _, g := range a.Genesis {
			amount, err := units.ParseAmount(g.Amount, a.Decimals)
			if err != nil {
				continue
			}
			credits = append(credits, GenesisCredit{
				Asset:  common.HexToAddress(a.Address),
				Holder: common.HexToAddress(g.Holder),
				Amount: amount,
			})
		}
	}
	return credits
}
