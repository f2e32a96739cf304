package domain

import (
	"errors"
	"testing"
)

func TestRecordCountPolicyTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		policy   RecordCountPolicy
		eligible int
		want     int
	}{
		{"all", RecordCountPolicy{Mode: CountAll}, 1000, 1000},
		{"fixed below eligible", RecordCountPolicy{Mode: CountFixed, Count: 10}, 1000, 10},
		{"fixed capped", RecordCountPolicy{Mode: CountFixed, Count: 10}, 4, 4},
		{"percentage", RecordCountPolicy{Mode: CountPercentage, Percentage: 25}, 1000, 250},
		{"percentage rounds up", RecordCountPolicy{Mode: CountPercentage, Percentage: 1}, 5, 1},
		{"percentage of empty", RecordCountPolicy{Mode: CountPercentage, Percentage: 50}, 0, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.policy.Target(tc.eligible); got != tc.want {
				t.Errorf("Target(%d) = %d, want %d", tc.eligible, got, tc.want)
			}
		})
	}
}

func TestGenerationConfigValidate(t *testing.T) {
	t.Parallel()

	valid := DefaultGenerationConfig("gemini")
	if err := valid.Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *GenerationConfig)
		want   error
	}{
		{"unknown strategy", func(c *GenerationConfig) { c.Selection.Strategy = "random" }, ErrInvalidSelection},
		{"tagged without tags", func(c *GenerationConfig) { c.Selection.Strategy = SelectTagged }, ErrInvalidSelection},
		{"fixed zero", func(c *GenerationConfig) { c.RecordCount = RecordCountPolicy{Mode: CountFixed} }, ErrInvalidCountPolicy},
		{"percentage too large", func(c *GenerationConfig) {
			c.RecordCount = RecordCountPolicy{Mode: CountPercentage, Percentage: 150}
		}, ErrInvalidCountPolicy},
		{"missing provider", func(c *GenerationConfig) { c.Provider = "" }, ErrEmptyProvider},
		{"threshold above one", func(c *GenerationConfig) { c.ErrorRateThreshold = 1.5 }, ErrInvalidThreshold},
		{"zero batch", func(c *GenerationConfig) { c.BatchSize = 0 }, ErrInvalidBatchSize},
		{"zero samples", func(c *GenerationConfig) { c.SamplesPerRecord = 0 }, ErrInvalidSampleCount},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultGenerationConfig("gemini")
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, tc.want) {
				t.Errorf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestContentHash(t *testing.T) {
	t.Parallel()

	a := ContentHash("the quick brown fox")
	b := ContentHash("the quick brown fox")
	c := ContentHash("the quick brown fox.")

	if a != b {
		t.Error("Expected equal content to hash equally")
	}
	if a == c {
		t.Error("Expected different content to hash differently")
	}
	if len(a) != 64 {
		t.Errorf("Expected 64 hex characters, got %d", len(a))
	}
}

func TestSyncStateIsSynced(t *testing.T) {
	t.Parallel()

	if !(SyncState{SourceCount: 3, VectorCount: 3}).IsSynced() {
		t.Error("Expected equal counts without degradation to be synced")
	}
	if (SyncState{SourceCount: 3, VectorCount: 2}).IsSynced() {
		t.Error("Expected count drift to be unsynced")
	}
	if (SyncState{SourceCount: 3, VectorCount: 3, DegradedCount: 1}).IsSynced() {
		t.Error("Expected degraded sync to be unsynced")
	}
}
