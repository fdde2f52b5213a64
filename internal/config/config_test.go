package config

import (
	"testing"

	"github.com/rawblock/launch-sentinel/pkg/models"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Entry.MinScore != 60 || cfg.Entry.ApexScore != 80 {
		t.Errorf("entry defaults = %+v", cfg.Entry)
	}
	if !cfg.DryRun {
		t.Errorf("DryRun must default to true")
	}
	if cfg.MintVerify.Mode != "deferred" {
		t.Errorf("mintVerify mode = %q, want deferred", cfg.MintVerify.Mode)
	}
	if len(cfg.Programs[models.OriginPumpFun]) == 0 {
		t.Errorf("pumpfun program list must have a default")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad int", "ENTRY_MIN_SCORE", "sixty"},
		{"bad float", "TX_LOOKUP_QPS", "fast"},
		{"bad bool", "DRY_RUN", "yep"},
		{"bad verify mode", "MINT_VERIFY_MODE", "lazy"},
		{"bad lookup mode", "TX_LOOKUP_MODE", "sometimes"},
		{"ttl too low", "MINT_VERIFY_TTL_SEC", "10"},
		{"zero qps", "TX_LOOKUP_QPS", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load() accepted %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestSubscribedProgramsDedup(t *testing.T) {
	t.Setenv("PROGRAMS_PUMPFUN", "ProgA,ProgB")
	t.Setenv("PROGRAMS_RAYDIUM", "ProgB,ProgC")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	order, origins := cfg.SubscribedPrograms()
	if len(order) != 3 {
		t.Fatalf("Expected 3 deduplicated programs, got %v", order)
	}
	// ProgB was listed under pumpfun first; that assignment wins.
	if origins["ProgB"] != models.OriginPumpFun {
		t.Errorf("ProgB origin = %s, want pumpfun (first in priority)", origins["ProgB"])
	}
	if origins["ProgC"] != models.OriginRaydium {
		t.Errorf("ProgC origin = %s, want raydium", origins["ProgC"])
	}
}
