package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const governanceHex = "0x00000000000000000000000000000000000000aa"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config must be written: %v", err)
	}
	if cfg.RPCAddress != ":8545" {
		t.Fatalf("unexpected default RPC address: %s", cfg.RPCAddress)
	}
	if cfg.GracePeriod() != 72*time.Hour {
		t.Fatalf("unexpected default grace period: %s", cfg.GracePeriod())
	}
	if cfg.OracleMaxAge() != time.Hour {
		t.Fatalf("unexpected default oracle max age: %s", cfg.OracleMaxAge())
	}
	if len(cfg.Tiers) == 0 {
		t.Fatalf("default config must carry a tier ladder")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	path := writeConfig(t, `
RPCAddress = ":9000"
DataDir = "/tmp/pool"
Governance = "`+governanceHex+`"
AccrualEnabled = true
LiquidityReserveWei = "250"
GracePeriodSeconds = 3600

[RateModel]
Base = 0.01
Slope1 = 0.15
Slope2 = 0.90
Kink = 0.75
ReserveFactor = 0.05

[[Assets]]
AssetID = "ATOM"
LTVBps = 7000
LiquidationThresholdBps = 8000

[[Tiers]]
MinScore = 0
CapWei = "100"

[[Tiers]]
MinScore = 50
CapWei = "10000"

[[Prices]]
AssetID = "ATOM"
Rate = "1.25"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.AccrualEnabled {
		t.Fatalf("accrual flag must round-trip")
	}
	if cfg.LiquidityReserveWei().Int64() != 250 {
		t.Fatalf("unexpected reserve: %s", cfg.LiquidityReserveWei())
	}
	if cfg.GracePeriod() != time.Hour {
		t.Fatalf("unexpected grace period: %s", cfg.GracePeriod())
	}
	gov, err := cfg.GovernanceAddress()
	if err != nil {
		t.Fatalf("governance: %v", err)
	}
	if gov.Hex() != governanceHex {
		t.Fatalf("unexpected governance address: %s", gov.Hex())
	}
	if len(cfg.Assets) != 1 || cfg.Assets[0].LTVBps != 7_000 {
		t.Fatalf("unexpected assets: %+v", cfg.Assets)
	}
	cap, ok := cfg.Tiers[1].Cap()
	if !ok || cap.Int64() != 10_000 {
		t.Fatalf("unexpected tier cap: %s", cap)
	}
	rate, ok := cfg.Prices[0].Price()
	if !ok || rate.RatString() != "5/4" {
		t.Fatalf("unexpected price: %s", rate)
	}
}

func TestLoadRejectsInvalidConfigs(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad governance", `Governance = "not-an-address"`},
		{"kink out of range", `
Governance = "` + governanceHex + `"
[RateModel]
Base = 0.02
Slope1 = 0.2
Slope2 = 1.0
Kink = 1.5
ReserveFactor = 0.1
`},
		{"threshold below ltv", `
Governance = "` + governanceHex + `"
[[Assets]]
AssetID = "ATOM"
LTVBps = 8000
LiquidationThresholdBps = 7000
`},
		{"bad tier cap", `
Governance = "` + governanceHex + `"
[[Tiers]]
MinScore = 0
CapWei = "lots"
`},
		{"bad price", `
Governance = "` + governanceHex + `"
[[Prices]]
AssetID = "ATOM"
Rate = "-1"
`},
	}
	for _, tc := range cases {
		path := writeConfig(t, tc.body)
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: expected load to fail", tc.name)
		}
	}
}
