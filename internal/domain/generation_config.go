package domain

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// SelectionStrategy restricts which source records are eligible for generation.
type SelectionStrategy string

// Supported selection strategies
const (
	// SelectAll makes every record of the dataset eligible.
	SelectAll SelectionStrategy = "all"

	// SelectUnprocessed makes eligible only records without generated samples.
	SelectUnprocessed SelectionStrategy = "unprocessed"

	// SelectTagged makes eligible only records carrying one of the given tags.
	SelectTagged SelectionStrategy = "tagged"
)

// CountMode chooses how many eligible records a task processes.
type CountMode string

// Supported record count modes
const (
	CountAll        CountMode = "all"
	CountFixed      CountMode = "fixed"
	CountPercentage CountMode = "percentage"
)

// Generation config validation errors
var (
	ErrInvalidSelection   = errors.New("invalid selection strategy")
	ErrInvalidCountPolicy = errors.New("invalid record count policy")
	ErrInvalidThreshold   = errors.New("error rate threshold must be within [0, 1]")
	ErrEmptyProvider      = errors.New("provider cannot be empty")
	ErrInvalidBatchSize   = errors.New("batch size must be positive")
	ErrInvalidSampleCount = errors.New("samples per record must be positive")
)

// Selection describes the eligible record set.
type Selection struct {
	Strategy SelectionStrategy `json:"strategy"`
	Tags     []string          `json:"tags,omitempty"`
}

// RecordCountPolicy bounds how many eligible records are processed.
type RecordCountPolicy struct {
	Mode       CountMode `json:"mode"`
	Count      int       `json:"count,omitempty"`
	Percentage float64   `json:"percentage,omitempty"`
}

// Target applies the policy to the number of eligible records.
// Percentages round up so that any non-zero percentage of a non-empty
// dataset processes at least one record.
func (p RecordCountPolicy) Target(eligible int) int {
	switch p.Mode {
	case CountFixed:
		return min(p.Count, eligible)
	case CountPercentage:
		return min(int(math.Ceil(float64(eligible)*p.Percentage/100)), eligible)
	default:
		return eligible
	}
}

// GenerationConfig carries everything a task needs to know about how to run.
type GenerationConfig struct {
	Selection          Selection         `json:"selection"`
	RecordCount        RecordCountPolicy `json:"record_count"`
	Provider           string            `json:"provider"`
	Model              string            `json:"model,omitempty"`
	ErrorRateThreshold float64           `json:"error_rate_threshold"`
	BatchSize          int               `json:"batch_size"`
	SamplesPerRecord   int               `json:"samples_per_record"`
	Temperature        float64           `json:"temperature,omitempty"`
}

// DefaultGenerationConfig returns a config processing every record with the
// given provider.
func DefaultGenerationConfig(provider string) GenerationConfig {
	return GenerationConfig{
		Selection:          Selection{Strategy: SelectAll},
		RecordCount:        RecordCountPolicy{Mode: CountAll},
		Provider:           provider,
		ErrorRateThreshold: 0.2,
		BatchSize:          50,
		SamplesPerRecord:   1,
		Temperature:        0.7,
	}
}

// Validate checks that the configuration is internally consistent.
func (c GenerationConfig) Validate() error {
	switch c.Selection.Strategy {
	case SelectAll, SelectUnprocessed:
	case SelectTagged:
		if len(c.Selection.Tags) == 0 {
			return fmt.Errorf("%w: tagged selection requires at least one tag", ErrInvalidSelection)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSelection, c.Selection.Strategy)
	}

	switch c.RecordCount.Mode {
	case CountAll:
	case CountFixed:
		if c.RecordCount.Count <= 0 {
			return fmt.Errorf("%w: fixed count must be positive", ErrInvalidCountPolicy)
		}
	case CountPercentage:
		if c.RecordCount.Percentage <= 0 || c.RecordCount.Percentage > 100 {
			return fmt.Errorf("%w: percentage must be within (0, 100]", ErrInvalidCountPolicy)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidCountPolicy, c.RecordCount.Mode)
	}

	if c.Provider == "" {
		return ErrEmptyProvider
	}

	if c.ErrorRateThreshold < 0 || c.ErrorRateThreshold > 1 {
		return ErrInvalidThreshold
	}

	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}

	if c.SamplesPerRecord <= 0 {
		return ErrInvalidSampleCount
	}

	return nil
}

// Clone returns a copy that shares no slices with c.
func (c GenerationConfig) Clone() GenerationConfig {
	c.Selection.Tags = slices.Clone(c.Selection.Tags)
	return c
}
