// Package tracker derives and manages the residual discrepancies of a
// reconciliation run: lines that exited the cascade unmatched or matched
// with variance. Discrepancies are never deleted; resolving or waiving
// preserves their history for audit.
package tracker

import (
	"sort"
	"sync"
	"time"

	"statement-reconciliation-engine/internal/models"
	"statement-reconciliation-engine/pkg/errors"
	"statement-reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
)

// DiscrepancyCreated is emitted once per discrepancy creation or amount
// update, for the external case system to create or refresh a tracked issue.
type DiscrepancyCreated struct {
	DiscrepancyID string                 `json:"discrepancy_id"`
	LineID        string                 `json:"line_id"`
	Kind          models.DiscrepancyKind `json:"kind"`
	Amount        decimal.Decimal        `json:"amount"`
}

// EventFunc receives DiscrepancyCreated events.
type EventFunc func(DiscrepancyCreated)

// Tracker manages the discrepancy lifecycle for one reconciliation run.
type Tracker struct {
	mu sync.Mutex

	discrepancies map[string]*models.Discrepancy
	byLineKind    map[string]map[models.DiscrepancyKind]*models.Discrepancy

	events []EventFunc

	log logger.Logger
}

// NewTracker creates an empty discrepancy tracker.
func NewTracker() *Tracker {
	return &Tracker{
		discrepancies: make(map[string]*models.Discrepancy),
		byLineKind:    make(map[string]map[models.DiscrepancyKind]*models.Discrepancy),
		log:           logger.GetGlobalLogger().WithComponent("discrepancy_tracker"),
	}
}

// OnDiscrepancyCreated registers a callback for creation and update events.
func (t *Tracker) OnDiscrepancyCreated(fn EventFunc) {
	t.mu.Lock()
	t.events = append(t.events, fn)
	t.mu.Unlock()
}

// EnsureDiscrepancy records a discrepancy for a line. The call is
// idempotent: a line with an existing open discrepancy of the same kind has
// its amount updated rather than a duplicate created.
func (t *Tracker) EnsureDiscrepancy(lineID string, kind models.DiscrepancyKind, amount decimal.Decimal) *models.Discrepancy {
	t.mu.Lock()

	if existing, ok := t.openLocked(lineID, kind); ok {
		changed := !existing.Amount.Equal(amount)
		existing.Amount = amount
		event := t.eventFor(existing)
		t.mu.Unlock()

		if changed {
			t.emit(event)
		}
		return existing
	}

	d := models.NewDiscrepancy(lineID, kind, amount)
	t.discrepancies[d.DiscrepancyID] = d
	if t.byLineKind[lineID] == nil {
		t.byLineKind[lineID] = make(map[models.DiscrepancyKind]*models.Discrepancy)
	}
	t.byLineKind[lineID][kind] = d

	t.log.WithFields(logger.Fields{
		"line_id": lineID,
		"kind":    kind.String(),
		"amount":  amount.StringFixed(2),
	}).Debug("discrepancy opened")

	event := t.eventFor(d)
	t.mu.Unlock()

	t.emit(event)
	return d
}

// Annotate attaches a free-form note to a discrepancy, used for invalid
// input markers and similar context.
func (t *Tracker) Annotate(discrepancyID, note string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if d, ok := t.discrepancies[discrepancyID]; ok {
		d.Note = note
	}
}

// Resolve closes an open discrepancy. A non-empty reason is required.
func (t *Tracker) Resolve(discrepancyID, actor, reason string) error {
	return t.close(discrepancyID, actor, reason, models.DiscrepancyResolved)
}

// Waive closes an open discrepancy as accepted-as-is. A non-empty reason is
// required.
func (t *Tracker) Waive(discrepancyID, actor, reason string) error {
	return t.close(discrepancyID, actor, reason, models.DiscrepancyWaived)
}

func (t *Tracker) close(discrepancyID, actor, reason string, status models.DiscrepancyStatus) error {
	if reason == "" {
		return errors.ValidationError(errors.CodeEmptyReason, "resolution_reason", reason)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.discrepancies[discrepancyID]
	if !ok {
		return errors.New(errors.CategoryReconciliation, errors.CodeUnknownDiscrepancy,
			"unknown discrepancy: "+discrepancyID)
	}

	if !d.IsOpen() {
		return errors.New(errors.CategoryReconciliation, errors.CodeUnknownDiscrepancy,
			"discrepancy "+discrepancyID+" is already "+d.Status.String())
	}

	d.Status = status
	d.ResolutionReason = reason
	d.ResolvedBy = actor
	d.ResolvedAt = time.Now().UTC()
	delete(t.byLineKind[d.LineID], d.Kind)

	t.log.WithFields(logger.Fields{
		"discrepancy_id": discrepancyID,
		"line_id":        d.LineID,
		"status":         status.String(),
		"actor":          actor,
	}).Debug("discrepancy closed")

	return nil
}

// ResolveForLine resolves every open discrepancy for a line. Used by the
// ledger when a zero-variance match is confirmed.
func (t *Tracker) ResolveForLine(lineID, actor, reason string) {
	t.mu.Lock()
	var ids []string
	for _, d := range t.byLineKind[lineID] {
		ids = append(ids, d.DiscrepancyID)
	}
	t.mu.Unlock()

	for _, id := range ids {
		// reason was validated by the caller's confirm path
		_ = t.Resolve(id, actor, reason)
	}
}

// ResolveAllExcept resolves the line's open discrepancies of every kind
// other than keep. Called when a line's cascade outcome changes kind, so a
// line never carries two open discrepancies at once.
func (t *Tracker) ResolveAllExcept(lineID string, keep models.DiscrepancyKind, actor, reason string) {
	t.mu.Lock()
	var ids []string
	for kind, d := range t.byLineKind[lineID] {
		if kind != keep {
			ids = append(ids, d.DiscrepancyID)
		}
	}
	t.mu.Unlock()

	for _, id := range ids {
		_ = t.Resolve(id, actor, reason)
	}
}

// OpenForLine returns the line's open discrepancies, ordered by kind.
func (t *Tracker) OpenForLine(lineID string) []*models.Discrepancy {
	t.mu.Lock()
	defer t.mu.Unlock()

	var open []*models.Discrepancy
	for _, d := range t.byLineKind[lineID] {
		open = append(open, d)
	}
	sortDiscrepancies(open)
	return open
}

// OpenDiscrepancies returns every open discrepancy, ordered by line then kind.
func (t *Tracker) OpenDiscrepancies() []*models.Discrepancy {
	t.mu.Lock()
	defer t.mu.Unlock()

	var open []*models.Discrepancy
	for _, d := range t.discrepancies {
		if d.IsOpen() {
			open = append(open, d)
		}
	}
	sortDiscrepancies(open)
	return open
}

// AllDiscrepancies returns every discrepancy ever recorded, including
// resolved and waived ones, ordered by line then kind.
func (t *Tracker) AllDiscrepancies() []*models.Discrepancy {
	t.mu.Lock()
	defer t.mu.Unlock()

	all := make([]*models.Discrepancy, 0, len(t.discrepancies))
	for _, d := range t.discrepancies {
		all = append(all, d)
	}
	sortDiscrepancies(all)
	return all
}

// AggregateVariance sums the amounts of all open discrepancies. This is the
// residual variance the sign-off gate checks against tolerance.
func (t *Tracker) AggregateVariance() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := decimal.Zero
	for _, d := range t.discrepancies {
		if d.IsOpen() {
			total = total.Add(d.Amount)
		}
	}
	return total
}

func (t *Tracker) openLocked(lineID string, kind models.DiscrepancyKind) (*models.Discrepancy, bool) {
	d, ok := t.byLineKind[lineID][kind]
	return d, ok
}

func (t *Tracker) eventFor(d *models.Discrepancy) DiscrepancyCreated {
	return DiscrepancyCreated{
		DiscrepancyID: d.DiscrepancyID,
		LineID:        d.LineID,
		Kind:          d.Kind,
		Amount:        d.Amount,
	}
}

func (t *Tracker) emit(event DiscrepancyCreated) {
	t.mu.Lock()
	callbacks := make([]EventFunc, len(t.events))
	copy(callbacks, t.events)
	t.mu.Unlock()

	for _, fn := range callbacks {
		fn(event)
	}
}

func sortDiscrepancies(ds []*models.Discrepancy) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].LineID != ds[j].LineID {
			return ds[i].LineID < ds[j].LineID
		}
		return ds[i].Kind < ds[j].Kind
	})
}
