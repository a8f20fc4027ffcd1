// Package matcher implements the deterministic matching cascade at the core
// of statement reconciliation: a candidate index over the counterparty's
// open internal records, a reference normalizer, and an ordered sequence of
// match passes with tolerance windows and fixed confidence scores.
//
// The cascade short-circuits: a line stops at the first pass that produces
// an acceptable candidate set, and ambiguous results are flagged for manual
// confirmation rather than silently resolved.
//
// Example usage:
//
//	cfg := matcher.DefaultToleranceConfig()
//	index := matcher.NewCandidateIndex(records)
//	engine := matcher.NewMatchingEngine(cfg, index)
//
//	proposal, outcome := engine.MatchLine(line)
package matcher

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ToleranceConfig holds the tolerance windows shared by the cascade's
// date-tolerance and amount-tolerance passes and by the sign-off gate.
type ToleranceConfig struct {
	// DateWindowDays is the calendar-day window for the date-tolerance pass
	DateWindowDays int `json:"date_window_days"`

	// AmountAbsoluteLimit is the absolute amount tolerance
	AmountAbsoluteLimit decimal.Decimal `json:"amount_absolute_limit"`

	// AmountPercentLimit is the fractional amount tolerance (0.005 = 0.5%)
	AmountPercentLimit decimal.Decimal `json:"amount_percent_limit"`
}

// DefaultToleranceConfig returns the standard tolerances: a 7-day date
// window, 1.00 absolute amount limit, and 0.5% percentage limit.
func DefaultToleranceConfig() *ToleranceConfig {
	return &ToleranceConfig{
		DateWindowDays:      7,
		AmountAbsoluteLimit: decimal.RequireFromString("1.00"),
		AmountPercentLimit:  decimal.RequireFromString("0.005"),
	}
}

// Validate checks if the tolerance configuration is valid
func (tc *ToleranceConfig) Validate() error {
	if tc.DateWindowDays < 0 {
		return fmt.Errorf("date window days cannot be negative: %d", tc.DateWindowDays)
	}

	if tc.AmountAbsoluteLimit.IsNegative() {
		return fmt.Errorf("amount absolute limit cannot be negative: %s", tc.AmountAbsoluteLimit)
	}

	if tc.AmountPercentLimit.IsNegative() || tc.AmountPercentLimit.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("amount percent limit must be between 0 and 1: %s", tc.AmountPercentLimit)
	}

	return nil
}

// Clone creates a copy of the tolerance configuration
func (tc *ToleranceConfig) Clone() *ToleranceConfig {
	if tc == nil {
		return nil
	}

	return &ToleranceConfig{
		DateWindowDays:      tc.DateWindowDays,
		AmountAbsoluteLimit: tc.AmountAbsoluteLimit,
		AmountPercentLimit:  tc.AmountPercentLimit,
	}
}

// AmountsWithin reports whether two amounts agree under this configuration
func (tc *ToleranceConfig) AmountsWithin(a, b decimal.Decimal) bool {
	return AmountsWithinTolerance(a, b, tc.AmountAbsoluteLimit, tc.AmountPercentLimit)
}

// String returns a human-readable description of the configuration
func (tc *ToleranceConfig) String() string {
	return fmt.Sprintf("ToleranceConfig{DateWindow: %d days, AbsoluteLimit: %s, PercentLimit: %s}",
		tc.DateWindowDays, tc.AmountAbsoluteLimit.StringFixed(2), tc.AmountPercentLimit.String())
}
