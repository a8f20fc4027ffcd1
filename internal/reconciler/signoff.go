package reconciler

import (
	"fmt"
	"time"

	"statement-reconciliation-engine/internal/models"
	"statement-reconciliation-engine/pkg/errors"
	"statement-reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
)

// ReadinessResult is the sign-off gate's verdict for a run. When not ready,
// BlockingReason names the exact blocking amount and the tolerance limits
// in force.
type ReadinessResult struct {
	Ready             bool            `json:"ready"`
	BlockingReason    string          `json:"blocking_reason,omitempty"`
	AggregateVariance decimal.Decimal `json:"aggregate_variance"`
	AbsoluteLimit     decimal.Decimal `json:"absolute_limit"`
	PercentLimit      decimal.Decimal `json:"percent_limit"`
}

// SignOffResult reports a sign-off attempt: success carries who signed off
// and when; failure carries the blocking reason.
type SignOffResult struct {
	RunID          string    `json:"run_id"`
	SignedOffBy    string    `json:"signed_off_by,omitempty"`
	SignedOffAt    time.Time `json:"signed_off_at,omitempty"`
	BlockingReason string    `json:"blocking_reason,omitempty"`
}

// EvaluateReadiness computes whether a run may be signed off. Readiness
// requires the aggregate open variance to be within tolerance (the same
// absolute/percentage limits as the amount-tolerance pass, with the
// percentage taken against the total claimed), and no single open
// discrepancy to exceed that tolerance on its own.
func (s *Service) EvaluateReadiness(run *Run) *ReadinessResult {
	tc := s.config.Tolerances

	result := &ReadinessResult{
		AggregateVariance: run.Tracker.AggregateVariance(),
		AbsoluteLimit:     tc.AmountAbsoluteLimit,
		PercentLimit:      tc.AmountPercentLimit,
	}

	run.recordMu.Lock()
	totalClaimed := run.Record.TotalClaimed
	run.recordMu.Unlock()

	percentLimit := tc.AmountPercentLimit.Mul(totalClaimed.Abs())

	withinTolerance := func(amount decimal.Decimal) bool {
		abs := amount.Abs()
		return abs.LessThanOrEqual(tc.AmountAbsoluteLimit) || abs.LessThanOrEqual(percentLimit)
	}

	if !withinTolerance(result.AggregateVariance) {
		result.BlockingReason = fmt.Sprintf(
			"aggregate open variance %s exceeds tolerance (absolute limit %s, percent limit %s of total claimed %s)",
			result.AggregateVariance.Abs().StringFixed(2),
			tc.AmountAbsoluteLimit.StringFixed(2),
			tc.AmountPercentLimit.String(),
			totalClaimed.StringFixed(2),
		)
		return result
	}

	for _, d := range run.Tracker.OpenDiscrepancies() {
		if !withinTolerance(d.Amount) {
			result.BlockingReason = fmt.Sprintf(
				"open %s discrepancy on line %s with amount %s exceeds tolerance (absolute limit %s, percent limit %s)",
				d.Kind, d.LineID, d.Amount.Abs().StringFixed(2),
				tc.AmountAbsoluteLimit.StringFixed(2),
				tc.AmountPercentLimit.String(),
			)
			return result
		}
	}

	result.Ready = true
	return result
}

// SignOff closes a reconciliation run. It fails with NotReady while
// residual variance exceeds tolerance. Success is a one-way transition: a
// signed-off run is immutable and corrections require a new run.
func (s *Service) SignOff(run *Run, actor string) (*SignOffResult, error) {
	if actor == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "actor", actor)
	}

	run.recordMu.Lock()
	alreadySigned := run.Record.IsSignedOff()
	run.recordMu.Unlock()

	if alreadySigned {
		return nil, errors.New(errors.CategoryReconciliation, errors.CodeAlreadySignedOff,
			"run "+run.Record.RunID+" is already signed off; corrections require a new run")
	}

	readiness := s.EvaluateReadiness(run)
	if !readiness.Ready {
		return &SignOffResult{
			RunID:          run.Record.RunID,
			BlockingReason: readiness.BlockingReason,
		}, errors.NotReady(run.Record.RunID, readiness.BlockingReason)
	}

	now := time.Now().UTC()

	run.recordMu.Lock()
	run.Record.SignoffStatus = models.SignoffSignedOff
	run.Record.SignedOffBy = actor
	run.Record.SignedOffAt = now
	run.recordMu.Unlock()

	s.log.WithFields(logger.Fields{
		"run_id": run.Record.RunID,
		"actor":  actor,
	}).Info("reconciliation run signed off")

	return &SignOffResult{
		RunID:       run.Record.RunID,
		SignedOffBy: actor,
		SignedOffAt: now,
	}, nil
}

// refreshSignoffStatus moves the run between not_ready and ready as the
// open variance changes. Signed-off runs are never touched.
func (s *Service) refreshSignoffStatus(run *Run) {
	run.recordMu.Lock()
	signedOff := run.Record.IsSignedOff()
	run.recordMu.Unlock()

	if signedOff {
		return
	}

	status := models.SignoffNotReady
	if s.EvaluateReadiness(run).Ready {
		status = models.SignoffReady
	}

	run.recordMu.Lock()
	run.Record.SignoffStatus = status
	run.recordMu.Unlock()
}
