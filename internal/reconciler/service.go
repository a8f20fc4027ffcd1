package reconciler

import (
	"context"
	"fmt"
	"sort"

	"statement-reconciliation-engine/internal/ledger"
	"statement-reconciliation-engine/internal/matcher"
	"statement-reconciliation-engine/internal/models"
	"statement-reconciliation-engine/internal/tracker"
	"statement-reconciliation-engine/pkg/errors"
	"statement-reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
)

// Config holds behavioral options for the reconciliation service.
type Config struct {
	// Tolerances drive the cascade's date/amount passes and the sign-off gate
	Tolerances *matcher.ToleranceConfig `json:"tolerances"`

	// AutoConfirm confirms unambiguous zero-variance cascade proposals
	// (passes 1-3) without manual action. Tolerance and partial matches
	// always wait for a human.
	AutoConfirm bool `json:"auto_confirm"`
}

// DefaultConfig returns the standard service configuration.
func DefaultConfig() *Config {
	return &Config{
		Tolerances:  matcher.DefaultToleranceConfig(),
		AutoConfirm: true,
	}
}

// Validate checks the service configuration.
func (c *Config) Validate() error {
	if c.Tolerances == nil {
		return fmt.Errorf("tolerances must be set")
	}
	return c.Tolerances.Validate()
}

// Service runs reconciliations. It holds no per-run state; everything a run
// needs lives on its Run context, so independent runs proceed in parallel.
type Service struct {
	config *Config
	log    logger.Logger
}

// NewService creates a reconciliation service.
func NewService(config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}

	return &Service{
		config: config,
		log:    logger.GetGlobalLogger().WithComponent("reconciliation_service"),
	}
}

// StartRun creates the run context for one counterparty statement: the
// candidate index over the counterparty's open records, an empty match
// ledger wired to the index and tracker, and per-line validation of the
// statement lines. Malformed lines are recorded as line errors with an
// unmatched discrepancy noted "invalid input"; they never abort the batch.
func (s *Service) StartRun(counterpartyID, statementPeriod string, lines []*models.StatementLine, candidates []*models.CandidateRecord) (*Run, error) {
	if counterpartyID == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "counterparty_id", counterpartyID)
	}

	run := &Run{
		Record:   models.NewReconciliationRun(counterpartyID, statementPeriod),
		Tracker:  tracker.NewTracker(),
		Ledger:   ledger.NewLedger(),
		lineByID: make(map[string]*models.StatementLine),
	}

	scoped := make([]*models.CandidateRecord, 0, len(candidates))
	for _, rec := range candidates {
		if err := rec.Validate(); err != nil {
			s.log.WithError(err).WithField("record_id", rec.RecordID).Warn("skipping invalid candidate record")
			continue
		}
		if rec.CounterpartyID != counterpartyID {
			continue
		}
		scoped = append(scoped, rec)
	}
	run.Index = matcher.NewCandidateIndex(scoped)
	run.engine = matcher.NewMatchingEngine(s.config.Tolerances, run.Index)

	run.Ledger.SetHooks(run.Index.Consume, run.Index.Release, run.Tracker.ResolveForLine)

	totalClaimed := decimal.Zero
	for _, line := range lines {
		if err := s.validateLine(line, counterpartyID); err != nil {
			run.lineErrors = append(run.lineErrors, LineError{
				LineID: line.LineID,
				Err:    err,
				Detail: err.Error(),
			})

			if line.LineID != "" {
				d := run.Tracker.EnsureDiscrepancy(line.LineID, models.DiscrepancyUnmatched, line.ClaimedAmount)
				run.Tracker.Annotate(d.DiscrepancyID, "invalid input")
			}
			continue
		}

		run.lines = append(run.lines, line)
		run.lineByID[line.LineID] = line
		totalClaimed = totalClaimed.Add(line.ClaimedAmount)
	}

	// Deterministic cascade order independent of ingestion order
	sort.Slice(run.lines, func(i, j int) bool {
		return run.lines[i].LineID < run.lines[j].LineID
	})

	run.Record.TotalClaimed = totalClaimed

	s.log.WithFields(logger.Fields{
		"run_id":       run.Record.RunID,
		"counterparty": counterpartyID,
		"lines":        len(run.lines),
		"invalid":      len(run.lineErrors),
		"candidates":   len(scoped),
	}).Info("reconciliation run started")

	return run, nil
}

func (s *Service) validateLine(line *models.StatementLine, counterpartyID string) error {
	if err := line.Validate(); err != nil {
		return err
	}
	if line.CounterpartyID != counterpartyID {
		return fmt.Errorf("statement line %s: counterparty %s does not belong to run counterparty %s",
			line.LineID, line.CounterpartyID, counterpartyID)
	}
	return nil
}

// RunCascade processes every line without an active confirmed match through
// the matching cascade. Rerunning never disturbs confirmed matches; lines
// fully resolved by a confirmed match are skipped, and records consumed by
// confirmed matches stay excluded.
//
// Only one cascade may be in flight per run; a concurrent request fails
// with ConcurrentRun and is retryable once the in-flight cascade completes.
func (s *Service) RunCascade(ctx context.Context, run *Run) (*MatchSummary, error) {
	if !run.cascading.TryLock() {
		return nil, errors.ConcurrentRun(run.Record.RunID)
	}
	defer run.cascading.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryReconciliation, errors.CodeUnexpectedError, "cascade aborted before start")
	}

	log := s.log.WithField("run_id", run.Record.RunID)
	log.Infof("cascade starting over %d lines", len(run.lines))

	for _, line := range run.lines {
		if _, confirmed := run.Ledger.ActiveMatch(line.LineID); confirmed {
			continue
		}

		if err := s.cascadeLine(run, line); err != nil {
			return nil, err
		}
	}

	run.updateAggregates()
	s.refreshSignoffStatus(run)

	summary := s.Summary(run)
	log.WithFields(logger.Fields{
		"exact":     summary.MatchedExact,
		"tolerant":  summary.MatchedTolerant,
		"partial":   summary.MatchedPartial,
		"unmatched": summary.Unmatched,
	}).Info("cascade complete")

	return summary, nil
}

// cascadeLine runs one line through the cascade and records the outcome in
// the ledger and tracker.
func (s *Service) cascadeLine(run *Run, line *models.StatementLine) error {
	proposal, outcome := run.engine.MatchLine(line)

	switch outcome {
	case matcher.OutcomeUnmatched:
		s.recordOutcome(run, line.LineID, models.DiscrepancyUnmatched, line.ClaimedAmount)
		return nil

	case matcher.OutcomeDuplicateClaim:
		s.recordOutcome(run, line.LineID, models.DiscrepancyDuplicateClaim, line.ClaimedAmount)
		return nil
	}

	match, err := run.Ledger.ProposeFromCascade(
		proposal.LineID,
		proposal.RecordIDs,
		proposal.PassNumber,
		proposal.Confidence,
		proposal.VarianceAmount,
		proposal.IsExact,
		proposal.RequiresReview,
	)
	if err != nil {
		return err
	}

	if proposal.RequiresReview {
		// Ambiguous result: never auto-confirmed, the claim stays
		// unaccounted until a human confirms or rejects.
		s.recordOutcome(run, line.LineID, models.DiscrepancyUnmatched, line.ClaimedAmount)
		return nil
	}

	switch proposal.PassNumber {
	case models.PassAmountTolerance, models.PassPartialSettlement:
		s.recordOutcome(run, line.LineID, models.DiscrepancyAmountVariance, proposal.VarianceAmount)
		return nil
	}

	if proposal.DateDriftDays > 0 {
		// Record the date drift; confirmation of the zero-variance match
		// auto-resolves it, leaving the drift in the audit history.
		run.Tracker.EnsureDiscrepancy(line.LineID, models.DiscrepancyDateVariance, decimal.Zero)
	}

	if !s.config.AutoConfirm {
		s.recordOutcome(run, line.LineID, models.DiscrepancyUnmatched, line.ClaimedAmount)
		return nil
	}

	if _, err := run.Ledger.Confirm(match.MatchID, ledger.SystemActor); err != nil {
		// A racing manual action claimed the records; the line keeps its
		// proposal and is accounted as unmatched until resolved.
		s.log.WithError(err).WithField("line_id", line.LineID).Warn("auto-confirm lost candidate records")
		s.recordOutcome(run, line.LineID, models.DiscrepancyDuplicateClaim, line.ClaimedAmount)
	}

	return nil
}

// recordOutcome ensures the line's open discrepancy reflects the latest
// cascade outcome. Open discrepancies of any other kind are resolved so a
// line carries at most one at a time.
func (s *Service) recordOutcome(run *Run, lineID string, kind models.DiscrepancyKind, amount decimal.Decimal) {
	run.Tracker.ResolveAllExcept(lineID, kind, ledger.SystemActor, "superseded by "+kind.String()+" outcome")
	run.Tracker.EnsureDiscrepancy(lineID, kind, amount)
}

// ConfirmMatch applies a manual confirmation to a proposed match.
func (s *Service) ConfirmMatch(run *Run, matchID, actor string) (*models.Match, error) {
	match, err := run.Ledger.Confirm(matchID, actor)
	if err != nil {
		return nil, err
	}

	if !match.VarianceAmount.IsZero() {
		// Confirmed with variance: the residual stays tracked until
		// resolved or waived.
		s.recordOutcome(run, match.LineID, models.DiscrepancyAmountVariance, match.VarianceAmount)
	}

	run.updateAggregates()
	s.refreshSignoffStatus(run)
	return match, nil
}

// RejectMatch applies a manual rejection. Rejecting a confirmed match
// releases its candidate records and the line re-enters discrepancy
// tracking as unmatched until a new proposal cycle resolves it.
func (s *Service) RejectMatch(run *Run, matchID, actor, reason string) (*models.Match, error) {
	match, err := run.Ledger.Reject(matchID, actor, reason)
	if err != nil {
		return nil, err
	}

	if line, ok := run.Line(match.LineID); ok {
		s.recordOutcome(run, line.LineID, models.DiscrepancyUnmatched, line.ClaimedAmount)
	}

	run.updateAggregates()
	s.refreshSignoffStatus(run)
	return match, nil
}

// ProposeManualMatch records a human-proposed match between a line and one
// or more candidate records. Manual proposals carry no pass number or
// cascade confidence and still require explicit confirmation.
func (s *Service) ProposeManualMatch(run *Run, lineID string, recordIDs []string, actor string) (*models.Match, error) {
	line, ok := run.Line(lineID)
	if !ok {
		return nil, errors.New(errors.CategoryReconciliation, errors.CodeUnknownLine, "unknown statement line: "+lineID)
	}

	if len(recordIDs) == 0 {
		return nil, errors.ValidationError(errors.CodeMissingField, "record_ids", recordIDs)
	}

	matchedTotal := decimal.Zero
	for _, recordID := range recordIDs {
		rec, ok := run.Index.Get(recordID)
		if !ok {
			return nil, errors.New(errors.CategoryReconciliation, errors.CodeUnknownRecord, "unknown candidate record: "+recordID)
		}
		matchedTotal = matchedTotal.Add(rec.Amount)
	}

	variance := line.ClaimedAmount.Sub(matchedTotal)
	match, err := run.Ledger.Propose(lineID, recordIDs, models.PassManual, models.PassConfidence(models.PassManual), variance)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logger.Fields{
		"run_id":   run.Record.RunID,
		"line_id":  lineID,
		"match_id": match.MatchID,
		"actor":    actor,
	}).Info("manual match proposed")

	return match, nil
}

// ResolveDiscrepancy manually resolves an open discrepancy.
func (s *Service) ResolveDiscrepancy(run *Run, discrepancyID, actor, reason string) error {
	if err := run.Tracker.Resolve(discrepancyID, actor, reason); err != nil {
		return err
	}

	run.updateAggregates()
	s.refreshSignoffStatus(run)
	return nil
}

// WaiveDiscrepancy manually waives an open discrepancy.
func (s *Service) WaiveDiscrepancy(run *Run, discrepancyID, actor, reason string) error {
	if err := run.Tracker.Waive(discrepancyID, actor, reason); err != nil {
		return err
	}

	run.updateAggregates()
	s.refreshSignoffStatus(run)
	return nil
}

// MatchSummary is the aggregate outcome consumed by the case/workflow
// collaborator to render status and decide whether to open a case.
type MatchSummary struct {
	RunID           string          `json:"run_id"`
	TotalLines      int             `json:"total_lines"`
	MatchedExact    int             `json:"matched_exact"`
	MatchedTolerant int             `json:"matched_tolerant"`
	MatchedPartial  int             `json:"matched_partial"`
	Unmatched       int             `json:"unmatched"`
	NetVariance     decimal.Decimal `json:"net_variance"`
}

// Summary computes the current match summary for a run. A line counts under
// the pass of its active match (confirmed or live proposal); lines with
// neither, including malformed input lines, count as unmatched.
func (s *Service) Summary(run *Run) *MatchSummary {
	summary := &MatchSummary{
		RunID:       run.Record.RunID,
		TotalLines:  len(run.lines) + len(run.lineErrors),
		NetVariance: run.Tracker.AggregateVariance(),
	}

	for _, line := range run.lines {
		match, ok := run.Ledger.ActiveMatch(line.LineID)
		if !ok {
			match, ok = run.Ledger.LiveProposal(line.LineID)
		}
		if !ok {
			summary.Unmatched++
			continue
		}

		switch match.PassNumber {
		case models.PassExact:
			summary.MatchedExact++
		case models.PassDateTolerance, models.PassNormalizedRef, models.PassAmountTolerance:
			summary.MatchedTolerant++
		case models.PassPartialSettlement:
			summary.MatchedPartial++
		default:
			summary.MatchedTolerant++
		}
	}

	summary.Unmatched += len(run.lineErrors)
	return summary
}
