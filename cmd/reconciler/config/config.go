// Package config builds component configurations from CLI flag and
// environment values.
package config

import (
	"fmt"

	"statement-reconciliation-engine/internal/matcher"
	"statement-reconciliation-engine/internal/reconciler"
	"statement-reconciliation-engine/internal/reporter"
	"statement-reconciliation-engine/pkg/errors"

	"github.com/shopspring/decimal"
)

// CreateToleranceConfig builds the cascade/sign-off tolerance configuration
// from CLI overrides. Zero-value strings keep the defaults.
func CreateToleranceConfig(dateWindowDays int, absoluteLimit, percentLimit string) (*matcher.ToleranceConfig, error) {
	tc := matcher.DefaultToleranceConfig()
	tc.DateWindowDays = dateWindowDays

	if absoluteLimit != "" {
		d, err := decimal.NewFromString(absoluteLimit)
		if err != nil {
			return nil, errors.ConfigurationError(
				fmt.Sprintf("invalid amount limit %q", absoluteLimit), err)
		}
		tc.AmountAbsoluteLimit = d
	}

	if percentLimit != "" {
		d, err := decimal.NewFromString(percentLimit)
		if err != nil {
			return nil, errors.ConfigurationError(
				fmt.Sprintf("invalid percent limit %q", percentLimit), err)
		}
		tc.AmountPercentLimit = d
	}

	if err := tc.Validate(); err != nil {
		return nil, errors.ConfigurationError("invalid tolerance configuration", err)
	}

	return tc, nil
}

// CreateServiceConfig builds the reconciliation service configuration.
func CreateServiceConfig(tolerances *matcher.ToleranceConfig, autoConfirm bool) *reconciler.Config {
	cfg := reconciler.DefaultConfig()
	cfg.Tolerances = tolerances
	cfg.AutoConfirm = autoConfirm
	return cfg
}

// CreateReportConfig builds the report configuration for an output format.
func CreateReportConfig(format string) (*reporter.ReportConfig, error) {
	cfg := reporter.DefaultReportConfig()

	cfg.Format = reporter.OutputFormat(format)
	if !cfg.Format.IsValid() {
		return nil, errors.ConfigurationError(
			fmt.Sprintf("unsupported output format %q (use console or json)", format), nil)
	}

	return cfg, nil
}
