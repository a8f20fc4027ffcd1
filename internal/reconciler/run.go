// Package reconciler orchestrates reconciliation runs: it owns the run
// context (candidate index, match ledger, discrepancy tracker), drives the
// matching cascade over the statement's lines, and gates sign-off on
// residual variance.
//
// Each run is self-contained; there is no engine-level state shared between
// runs, so separate counterparties' statements reconcile fully in parallel.
//
// Example usage:
//
//	service := reconciler.NewService(reconciler.DefaultConfig())
//	run, err := service.StartRun("CP-001", "2024-01", lines, candidates)
//	summary, err := service.RunCascade(ctx, run)
//	result, err := service.SignOff(run, "j.smith")
package reconciler

import (
	"sync"

	"statement-reconciliation-engine/internal/ledger"
	"statement-reconciliation-engine/internal/matcher"
	"statement-reconciliation-engine/internal/models"
	"statement-reconciliation-engine/internal/tracker"

	"github.com/shopspring/decimal"
)

// LineError reports a malformed statement line that was rejected before the
// cascade. The rest of the batch proceeds unaffected.
type LineError struct {
	LineID string `json:"line_id"`
	Err    error  `json:"-"`
	Detail string `json:"detail"`
}

// Run is the working context for one statement reconciliation. It bundles
// the run aggregate with the per-run candidate index, match ledger, and
// discrepancy tracker, and carries the in-flight guard that disallows
// concurrent cascades over the same run.
type Run struct {
	Record  *models.ReconciliationRun
	Index   *matcher.CandidateIndex
	Ledger  *ledger.Ledger
	Tracker *tracker.Tracker

	engine *matcher.MatchingEngine

	lines      []*models.StatementLine
	lineByID   map[string]*models.StatementLine
	lineErrors []LineError

	// cascading guards against concurrent cascades over the same run;
	// recordMu guards the aggregate fields on Record
	cascading sync.Mutex
	recordMu  sync.Mutex
}

// Lines returns the validated statement lines of the run, in cascade order.
func (r *Run) Lines() []*models.StatementLine {
	out := make([]*models.StatementLine, len(r.lines))
	copy(out, r.lines)
	return out
}

// Line returns a validated statement line by ID.
func (r *Run) Line(lineID string) (*models.StatementLine, bool) {
	line, ok := r.lineByID[lineID]
	return line, ok
}

// LineErrors returns the per-line validation failures recorded at run start.
func (r *Run) LineErrors() []LineError {
	out := make([]LineError, len(r.lineErrors))
	copy(out, r.lineErrors)
	return out
}

// updateAggregates recomputes the run record's totals from the ledger and
// tracker state.
func (r *Run) updateAggregates() {
	totalMatched := decimal.Zero
	for _, line := range r.lines {
		if _, ok := r.Ledger.ActiveMatch(line.LineID); ok {
			totalMatched = totalMatched.Add(line.ClaimedAmount)
		}
	}

	r.recordMu.Lock()
	defer r.recordMu.Unlock()

	r.Record.TotalMatched = totalMatched
	r.Record.NetVariance = r.Tracker.AggregateVariance()
}
