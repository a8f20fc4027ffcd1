// Package reporter renders reconciliation run results for human and
// programmatic consumption.
//
// Supported output formats:
//   - Console: human-readable sections for terminal display
//   - JSON: structured data for the case/workflow collaborator
package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"statement-reconciliation-engine/internal/models"
	"statement-reconciliation-engine/internal/reconciler"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	IncludeMatches       bool `json:"include_matches"`
	IncludeDiscrepancies bool `json:"include_discrepancies"`
	IncludeLineErrors    bool `json:"include_line_errors"`
}

// DefaultReportConfig returns a configuration with all sections enabled on
// console output.
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:               FormatConsole,
		IncludeMatches:       true,
		IncludeDiscrepancies: true,
		IncludeLineErrors:    true,
	}
}

// RunReport bundles everything a rendered report draws from.
type RunReport struct {
	Run               *models.ReconciliationRun   `json:"run"`
	Summary           *reconciler.MatchSummary    `json:"summary"`
	Matches           []*models.Match             `json:"matches,omitempty"`
	OpenDiscrepancies []*models.Discrepancy       `json:"open_discrepancies,omitempty"`
	LineErrors        []reconciler.LineError      `json:"line_errors,omitempty"`
	SignOff           *reconciler.SignOffResult   `json:"sign_off,omitempty"`
}

// Reporter renders run reports in the configured format.
type Reporter struct {
	config *ReportConfig
}

// NewReporter creates a reporter with the given configuration.
func NewReporter(config *ReportConfig) *Reporter {
	if config == nil {
		config = DefaultReportConfig()
	}
	return &Reporter{config: config}
}

// Write renders the report to w.
func (r *Reporter) Write(w io.Writer, report *RunReport) error {
	switch r.config.Format {
	case FormatJSON:
		return r.writeJSON(w, report)
	case FormatConsole:
		return r.writeConsole(w, report)
	default:
		return fmt.Errorf("unsupported output format: %s", r.config.Format)
	}
}

func (r *Reporter) writeJSON(w io.Writer, report *RunReport) error {
	filtered := *report
	if !r.config.IncludeMatches {
		filtered.Matches = nil
	}
	if !r.config.IncludeDiscrepancies {
		filtered.OpenDiscrepancies = nil
	}
	if !r.config.IncludeLineErrors {
		filtered.LineErrors = nil
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(&filtered)
}

func (r *Reporter) writeConsole(w io.Writer, report *RunReport) error {
	var sb strings.Builder

	sb.WriteString("Reconciliation Run\n")
	sb.WriteString("==================\n")
	sb.WriteString(fmt.Sprintf("Run ID:        %s\n", report.Run.RunID))
	sb.WriteString(fmt.Sprintf("Counterparty:  %s\n", report.Run.CounterpartyID))
	if report.Run.StatementPeriod != "" {
		sb.WriteString(fmt.Sprintf("Period:        %s\n", report.Run.StatementPeriod))
	}
	sb.WriteString(fmt.Sprintf("Status:        %s\n", report.Run.SignoffStatus))
	sb.WriteString(fmt.Sprintf("Total claimed: %s\n", report.Run.TotalClaimed.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("Total matched: %s\n", report.Run.TotalMatched.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("Net variance:  %s\n", report.Run.NetVariance.StringFixed(2)))

	if report.Summary != nil {
		sb.WriteString("\nMatch Summary\n")
		sb.WriteString("-------------\n")
		sb.WriteString(fmt.Sprintf("Lines:     %d\n", report.Summary.TotalLines))
		sb.WriteString(fmt.Sprintf("Exact:     %d\n", report.Summary.MatchedExact))
		sb.WriteString(fmt.Sprintf("Tolerant:  %d\n", report.Summary.MatchedTolerant))
		sb.WriteString(fmt.Sprintf("Partial:   %d\n", report.Summary.MatchedPartial))
		sb.WriteString(fmt.Sprintf("Unmatched: %d\n", report.Summary.Unmatched))
	}

	if r.config.IncludeMatches && len(report.Matches) > 0 {
		sb.WriteString("\nMatches\n")
		sb.WriteString("-------\n")
		for _, m := range report.Matches {
			flags := ""
			if m.RequiresReview {
				flags = " [needs review]"
			}
			pass := fmt.Sprintf("pass %d", m.PassNumber)
			if m.PassNumber == models.PassManual {
				pass = "manual"
			}
			sb.WriteString(fmt.Sprintf("  %-12s %s -> %s (%s, confidence %d, variance %s)%s\n",
				m.Status, m.LineID, strings.Join(m.RecordIDs, "+"), pass,
				m.Confidence, m.VarianceAmount.StringFixed(2), flags))
		}
	}

	if r.config.IncludeDiscrepancies && len(report.OpenDiscrepancies) > 0 {
		sb.WriteString("\nOpen Discrepancies\n")
		sb.WriteString("------------------\n")
		for _, d := range report.OpenDiscrepancies {
			note := ""
			if d.Note != "" {
				note = " (" + d.Note + ")"
			}
			sb.WriteString(fmt.Sprintf("  %-16s line %s amount %s%s\n",
				d.Kind, d.LineID, d.Amount.StringFixed(2), note))
		}
	}

	if r.config.IncludeLineErrors && len(report.LineErrors) > 0 {
		sb.WriteString("\nRejected Lines\n")
		sb.WriteString("--------------\n")
		for _, le := range report.LineErrors {
			sb.WriteString(fmt.Sprintf("  %s: %s\n", le.LineID, le.Detail))
		}
	}

	if report.SignOff != nil {
		sb.WriteString("\nSign-off\n")
		sb.WriteString("--------\n")
		if report.SignOff.BlockingReason != "" {
			sb.WriteString(fmt.Sprintf("  BLOCKED: %s\n", report.SignOff.BlockingReason))
		} else {
			sb.WriteString(fmt.Sprintf("  Signed off by %s at %s\n",
				report.SignOff.SignedOffBy, report.SignOff.SignedOffAt.Format("2006-01-02 15:04:05 MST")))
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}
