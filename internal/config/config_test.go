package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Intel.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want 5", cfg.Intel.FailureThreshold)
	}
	if cfg.Intel.PollTimeout != 30*time.Second {
		t.Errorf("PollTimeout = %v, want 30s", cfg.Intel.PollTimeout)
	}
	if cfg.Intel.SLA.For(1) != 2*time.Hour {
		t.Errorf("SLA.For(1) = %v, want 2h", cfg.Intel.SLA.For(1))
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("INTEL_CATEGORY_WEIGHTS", "campaign=2,reputation=0.5")
	t.Setenv("INTEL_ACTION_CATEGORIES", "malware, campaign")
	t.Setenv("SLA_CRITICAL", "90m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Intel.CategoryWeights["campaign"] != 2 {
		t.Errorf("campaign weight = %v, want 2", cfg.Intel.CategoryWeights["campaign"])
	}
	if cfg.Intel.CategoryWeights["ioc"] != 1 {
		t.Errorf("ioc weight should keep its default, got %v", cfg.Intel.CategoryWeights["ioc"])
	}
	if len(cfg.Intel.ActionCategories) != 2 || cfg.Intel.ActionCategories[1] != "campaign" {
		t.Errorf("ActionCategories = %v", cfg.Intel.ActionCategories)
	}
	if cfg.Intel.SLA.Critical != 90*time.Minute {
		t.Errorf("SLA.Critical = %v, want 90m", cfg.Intel.SLA.Critical)
	}
}

func TestIntelConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*IntelConfig)
		wantErr bool
	}{
		{"defaults", func(*IntelConfig) {}, false},
		{"thresholds out of order", func(c *IntelConfig) { c.Thresholds.High = 10 }, true},
		{"zero sla", func(c *IntelConfig) { c.SLA.Low = 0 }, true},
		{"backoff max below base", func(c *IntelConfig) { c.BackoffMax = time.Second }, true},
		{"action priority out of range", func(c *IntelConfig) { c.ActionPriority = 5 }, true},
		{"zero failure threshold", func(c *IntelConfig) { c.FailureThreshold = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultIntel()
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
