package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"lendpool/core/types"
)

// Config is the on-disk service configuration. Monetary amounts are decimal
// strings in wei; ratios are expressed in basis points or as fractions of one.
type Config struct {
	RPCAddress   string `toml:"RPCAddress"`
	MetricsPath  string `toml:"MetricsPath"`
	DataDir      string `toml:"DataDir"`
	Environment  string `toml:"Environment"`
	LogFile      string `toml:"LogFile"`
	RPCToken     string `toml:"RPCToken"`
	RPCRateLimit int    `toml:"RPCRateLimit"`

	Governance string `toml:"Governance"`

	AccrualEnabled     bool   `toml:"AccrualEnabled"`
	LiquidityReserve   string `toml:"LiquidityReserveWei"`
	GracePeriodSeconds int64  `toml:"GracePeriodSeconds"`
	OracleMaxAgeSecs   int64  `toml:"OracleMaxAgeSeconds"`
	UpkeepPollSeconds  int64  `toml:"UpkeepPollSeconds"`

	RateModel RateModel     `toml:"RateModel"`
	Assets    []AssetConfig `toml:"Assets"`
	Tiers     []TierConfig  `toml:"Tiers"`
	Prices    []PriceConfig `toml:"Prices"`
}

// RateModel carries the kink-curve parameters as fractions of one.
type RateModel struct {
	Base          float64 `toml:"Base"`
	Slope1        float64 `toml:"Slope1"`
	Slope2        float64 `toml:"Slope2"`
	Kink          float64 `toml:"Kink"`
	ReserveFactor float64 `toml:"ReserveFactor"`
}

// AssetConfig registers one collateral asset with its risk parameters.
type AssetConfig struct {
	AssetID                 string `toml:"AssetID"`
	IsStable                bool   `toml:"IsStable"`
	LTVBps                  uint64 `toml:"LTVBps"`
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
}

// TierConfig maps a minimum credit score to a borrow capacity in wei.
type TierConfig struct {
	MinScore uint64 `toml:"MinScore"`
	CapWei   string `toml:"CapWei"`
}

// PriceConfig seeds the static price feed used for local development runs.
// Rate is a decimal string, e.g. "1.25".
type PriceConfig struct {
	AssetID string `toml:"AssetID"`
	Rate    string `toml:"Rate"`
}

// Cap parses the tier capacity in wei.
func (t TierConfig) Cap() (*big.Int, bool) {
	return parseWei(t.CapWei)
}

// Price parses the decimal rate.
func (p PriceConfig) Price() (*big.Rat, bool) {
	rate, ok := new(big.Rat).SetString(strings.TrimSpace(p.Rate))
	if !ok || rate.Sign() < 0 {
		return nil, false
	}
	return rate, true
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8545"
	}
	if strings.TrimSpace(cfg.MetricsPath) == "" {
		cfg.MetricsPath = "/metrics"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./lendpool-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if cfg.RPCRateLimit <= 0 {
		cfg.RPCRateLimit = 50
	}
	if cfg.GracePeriodSeconds <= 0 {
		cfg.GracePeriodSeconds = int64((72 * time.Hour).Seconds())
	}
	if cfg.OracleMaxAgeSecs <= 0 {
		cfg.OracleMaxAgeSecs = int64(time.Hour.Seconds())
	}
	if cfg.UpkeepPollSeconds <= 0 {
		cfg.UpkeepPollSeconds = 60
	}
	if cfg.LiquidityReserve == "" {
		cfg.LiquidityReserve = "0"
	}
	if cfg.RateModel == (RateModel{}) {
		cfg.RateModel = RateModel{
			Base:          0.02,
			Slope1:        0.20,
			Slope2:        1.00,
			Kink:          0.80,
			ReserveFactor: 0.10,
		}
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = []TierConfig{{MinScore: 0, CapWei: "1000000000000000000000"}}
	}
}

// Validate rejects configurations the engine cannot run with.
func (cfg *Config) Validate() error {
	if _, err := cfg.GovernanceAddress(); err != nil {
		return err
	}
	if cfg.RateModel.Kink <= 0 || cfg.RateModel.Kink >= 1 {
		return fmt.Errorf("config: RateModel.Kink must lie strictly between 0 and 1, got %v", cfg.RateModel.Kink)
	}
	if cfg.RateModel.ReserveFactor < 0 || cfg.RateModel.ReserveFactor > 1 {
		return fmt.Errorf("config: RateModel.ReserveFactor must lie in [0,1], got %v", cfg.RateModel.ReserveFactor)
	}
	for _, asset := range cfg.Assets {
		if strings.TrimSpace(asset.AssetID) == "" {
			return fmt.Errorf("config: asset with empty AssetID")
		}
		if asset.LTVBps > 10_000 || asset.LiquidationThresholdBps > 10_000 {
			return fmt.Errorf("config: asset %s ratios exceed 100%%", asset.AssetID)
		}
		if asset.LiquidationThresholdBps < asset.LTVBps {
			return fmt.Errorf("config: asset %s liquidation threshold below LTV", asset.AssetID)
		}
	}
	for i, tier := range cfg.Tiers {
		if _, ok := parseWei(tier.CapWei); !ok {
			return fmt.Errorf("config: tier %d has invalid CapWei %q", i, tier.CapWei)
		}
	}
	if _, ok := parseWei(cfg.LiquidityReserve); !ok {
		return fmt.Errorf("config: invalid LiquidityReserveWei %q", cfg.LiquidityReserve)
	}
	for _, price := range cfg.Prices {
		if _, ok := price.Price(); !ok {
			return fmt.Errorf("config: invalid price %q for asset %s", price.Rate, price.AssetID)
		}
	}
	return nil
}

// LiquidityReserveWei parses the configured holdback amount.
func (cfg *Config) LiquidityReserveWei() *big.Int {
	if wei, ok := parseWei(cfg.LiquidityReserve); ok {
		return wei
	}
	return big.NewInt(0)
}

func parseWei(s string) (*big.Int, bool) {
	wei, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || wei.Sign() < 0 {
		return nil, false
	}
	return wei, true
}

// GovernanceAddress parses the configured governance principal.
func (cfg *Config) GovernanceAddress() (types.Address, error) {
	addr, err := types.ParseAddress(strings.TrimSpace(cfg.Governance))
	if err != nil {
		return types.Address{}, fmt.Errorf("config: invalid Governance address: %w", err)
	}
	return addr, nil
}

// GracePeriod returns the liquidation grace period as a duration.
func (cfg *Config) GracePeriod() time.Duration {
	return time.Duration(cfg.GracePeriodSeconds) * time.Second
}

// OracleMaxAge returns the quote staleness window as a duration.
func (cfg *Config) OracleMaxAge() time.Duration {
	return time.Duration(cfg.OracleMaxAgeSecs) * time.Second
}

// UpkeepPollInterval returns the upkeep polling cadence as a duration.
func (cfg *Config) UpkeepPollInterval() time.Duration {
	return time.Duration(cfg.UpkeepPollSeconds) * time.Second
}

// createDefault creates and saves a default configuration file. The default
// file carries the zero governance address; operators are expected to fill in
// their own principal before granting it any real authority.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		Governance: "0x0000000000000000000000000000000000000000",
	}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
