package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/topprop/settlement-engine/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("", true)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.App.Mode != config.ModePrinciple {
		t.Errorf("expected principle mode, got %q", cfg.App.Mode)
	}
	if cfg.Settlement.Interval != 10*time.Minute || cfg.Settlement.VoidInterval != 5*time.Minute {
		t.Errorf("unexpected principle intervals %v/%v", cfg.Settlement.Interval, cfg.Settlement.VoidInterval)
	}
	if cfg.Pricing.MaxDifferential != 50 || cfg.Pricing.SpreadShare != 0.85 {
		t.Errorf("unexpected pricing defaults %+v", cfg.Pricing)
	}
	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Server.HTTPAddr)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
app:
  mode: staging
  clock_offset: -168h
settlement:
  interval: 2m
  workers: 16
  season_close_cron: "0 0 6 * * 2"
provider:
  base_url: http://stats.internal
`)
	t.Setenv("SE_SETTLEMENT_WORKERS", "3")
	t.Setenv("SE_DB_DSN", "postgres://localhost/se")

	cfg, err := config.Load(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.App.Mode != config.ModeStaging || cfg.App.ClockOffset != -168*time.Hour {
		t.Errorf("unexpected app section %+v", cfg.App)
	}
	if cfg.Settlement.Interval != 2*time.Minute {
		t.Errorf("expected file interval 2m, got %v", cfg.Settlement.Interval)
	}
	if cfg.Settlement.VoidInterval != time.Minute {
		t.Errorf("expected staging void interval 1m, got %v", cfg.Settlement.VoidInterval)
	}
	if cfg.Settlement.Workers != 3 {
		t.Errorf("expected env override workers=3, got %d", cfg.Settlement.Workers)
	}
	if cfg.DB.DSN != "postgres://localhost/se" {
		t.Errorf("expected env DSN, got %q", cfg.DB.DSN)
	}
	if cfg.Settlement.SeasonCloseCron != "0 0 6 * * 2" || cfg.Provider.BaseURL != "http://stats.internal" {
		t.Errorf("unexpected file values %+v %+v", cfg.Settlement, cfg.Provider)
	}
}

func TestLoad_ClockOffsetOnlyInStaging(t *testing.T) {
	path := writeConfig(t, "app:\n  mode: principle\n  clock_offset: 24h\n")
	cfg, err := config.Load(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.App.ClockOffset != 0 {
		t.Errorf("expected offset ignored outside staging, got %v", cfg.App.ClockOffset)
	}
}

func TestLoad_UnknownMode(t *testing.T) {
	path := writeConfig(t, "app:\n  mode: chaos\n")
	if _, err := config.Load(path, false); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"), false); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestScheduleConfig_Update(t *testing.T) {
	sc := config.NewScheduleConfig(config.SettlementConfig{Interval: time.Minute, VoidInterval: 2 * time.Minute})
	sc.Update(30*time.Second, 0)

	if sc.SettleInterval() != 30*time.Second {
		t.Errorf("expected 30s, got %v", sc.SettleInterval())
	}
	if sc.VoidInterval() != 2*time.Minute {
		t.Errorf("zero update must keep 2m, got %v", sc.VoidInterval())
	}
}
