package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"statement-reconciliation-engine/cmd/reconciler/config"
	"statement-reconciliation-engine/internal/models"
	"statement-reconciliation-engine/internal/reconciler"
	"statement-reconciliation-engine/internal/reporter"
	"statement-reconciliation-engine/pkg/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the reconcile command
var (
	linesFile      string
	candidatesFile string
	counterpartyID string
	period         string
	outputFormat   string
	outputFile     string
	dateWindow     int
	amountLimit    string
	percentLimit   string
	autoConfirm    bool
	doSignOff      bool
	actor          string
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run the matching cascade over a statement snapshot",
	Long: `Reconcile loads already-normalized statement lines and the counterparty's
candidate record snapshot from JSON files, runs the five-pass matching
cascade, and reports matches, open discrepancies, and the run summary.

Line and candidate files contain JSON arrays of records with string
amounts and YYYY-MM-DD dates; parsing source documents into that shape is
the ingestion collaborator's job, not this tool's.

Examples:
  # Basic reconciliation
  reconciler reconcile --counterparty CP-001 --lines lines.json --candidates candidates.json

  # JSON output with custom tolerances
  reconciler reconcile --counterparty CP-001 --lines lines.json --candidates candidates.json \
    --output-format json --date-window 7 --amount-limit 1.00 --percent-limit 0.005

  # Attempt sign-off in the same invocation
  reconciler reconcile --counterparty CP-001 --lines lines.json --candidates candidates.json \
    --sign-off --actor j.smith`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().StringVarP(&linesFile, "lines", "l", "", "path to statement lines JSON file (required)")
	reconcileCmd.Flags().StringVarP(&candidatesFile, "candidates", "c", "", "path to candidate records JSON file (required)")
	reconcileCmd.Flags().StringVar(&counterpartyID, "counterparty", "", "counterparty ID for the run (required)")
	reconcileCmd.Flags().StringVar(&period, "period", "", "statement period label, e.g. 2024-01")

	reconcileCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json")
	reconcileCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")

	reconcileCmd.Flags().IntVarP(&dateWindow, "date-window", "d", 7, "date tolerance window in calendar days")
	reconcileCmd.Flags().StringVar(&amountLimit, "amount-limit", "", "absolute amount tolerance (default 1.00)")
	reconcileCmd.Flags().StringVar(&percentLimit, "percent-limit", "", "fractional amount tolerance (default 0.005)")
	reconcileCmd.Flags().BoolVar(&autoConfirm, "auto-confirm", true, "auto-confirm unambiguous zero-variance matches")

	reconcileCmd.Flags().BoolVar(&doSignOff, "sign-off", false, "attempt sign-off after the cascade")
	reconcileCmd.Flags().StringVar(&actor, "actor", "", "actor recorded on sign-off (required with --sign-off)")

	reconcileCmd.MarkFlagRequired("lines")
	reconcileCmd.MarkFlagRequired("candidates")
	reconcileCmd.MarkFlagRequired("counterparty")

	viper.BindPFlag("lines", reconcileCmd.Flags().Lookup("lines"))
	viper.BindPFlag("candidates", reconcileCmd.Flags().Lookup("candidates"))
	viper.BindPFlag("counterparty", reconcileCmd.Flags().Lookup("counterparty"))
	viper.BindPFlag("output-format", reconcileCmd.Flags().Lookup("output-format"))
	viper.BindPFlag("date-window", reconcileCmd.Flags().Lookup("date-window"))
	viper.BindPFlag("amount-limit", reconcileCmd.Flags().Lookup("amount-limit"))
	viper.BindPFlag("percent-limit", reconcileCmd.Flags().Lookup("percent-limit"))
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	if doSignOff && actor == "" {
		return errors.ValidationError(errors.CodeMissingField, "actor", actor).
			WithSuggestion("pass --actor with --sign-off")
	}
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	tolerances, err := config.CreateToleranceConfig(dateWindow, amountLimit, percentLimit)
	if err != nil {
		return err
	}

	reportConfig, err := config.CreateReportConfig(outputFormat)
	if err != nil {
		return err
	}

	lines, err := loadStatementLines(linesFile)
	if err != nil {
		return err
	}

	candidates, err := loadCandidateRecords(candidatesFile)
	if err != nil {
		return err
	}

	service := reconciler.NewService(config.CreateServiceConfig(tolerances, autoConfirm))

	run, err := service.StartRun(counterpartyID, period, lines, candidates)
	if err != nil {
		return err
	}

	summary, err := service.RunCascade(context.Background(), run)
	if err != nil {
		return err
	}

	report := &reporter.RunReport{
		Run:               run.Record,
		Summary:           summary,
		Matches:           run.Ledger.AllMatches(),
		OpenDiscrepancies: run.Tracker.OpenDiscrepancies(),
		LineErrors:        run.LineErrors(),
	}

	var signOffErr error
	if doSignOff {
		result, err := service.SignOff(run, actor)
		report.SignOff = result
		if err != nil && !errors.IsNotReady(err) {
			return err
		}
		signOffErr = err
	}

	if err := writeReport(reportConfig, report); err != nil {
		return err
	}

	// Surface the blocked sign-off through the exit code after the report
	// is rendered, so the blocking reason is visible either way.
	return signOffErr
}

func writeReport(reportConfig *reporter.ReportConfig, report *reporter.RunReport) error {
	out := os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return errors.Wrap(err, errors.CategoryConfiguration, errors.CodeInvalidConfig,
				fmt.Sprintf("cannot create output file %s", outputFile))
		}
		defer f.Close()
		out = f
	}

	return reporter.NewReporter(reportConfig).Write(out, report)
}

func loadStatementLines(path string) ([]*models.StatementLine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryConfiguration, errors.CodeInvalidConfig,
			fmt.Sprintf("cannot read statement lines file %s", path))
	}

	var lines []*models.StatementLine
	if err := json.Unmarshal(data, &lines); err != nil {
		return nil, errors.Wrap(err, errors.CategoryValidation, errors.CodeInvalidLine,
			fmt.Sprintf("malformed statement lines file %s", path))
	}

	return lines, nil
}

func loadCandidateRecords(path string) ([]*models.CandidateRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryConfiguration, errors.CodeInvalidConfig,
			fmt.Sprintf("cannot read candidate records file %s", path))
	}

	var records []*models.CandidateRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.Wrap(err, errors.CategoryValidation, errors.CodeInvalidLine,
			fmt.Sprintf("malformed candidate records file %s", path))
	}

	return records, nil
}
