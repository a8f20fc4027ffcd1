// Package ledger maintains the append-only record of proposed, confirmed,
// and rejected matches for one reconciliation run. It enforces the
// at-most-one-confirmed-match-per-line invariant and retains the full
// mutation history for audit; nothing is ever overwritten or deleted.
package ledger

import (
	"sort"
	"sync"
	"time"

	"statement-reconciliation-engine/internal/models"
	"statement-reconciliation-engine/pkg/errors"
	"statement-reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
)

// AuditEntry records one match mutation: who did it, when, and the state
// transition that occurred.
type AuditEntry struct {
	MatchID        string             `json:"match_id"`
	LineID         string             `json:"line_id"`
	Actor          string             `json:"actor"`
	Timestamp      time.Time          `json:"timestamp"`
	PreviousStatus models.MatchStatus `json:"previous_status"`
	NewStatus      models.MatchStatus `json:"new_status"`
	Reason         string             `json:"reason,omitempty"`
}

// SystemActor is recorded for mutations performed by the cascade itself
// rather than a human.
const SystemActor = "system"

// ConsumeFunc marks a candidate record consumed when a match referencing it
// is confirmed. It must fail if the record was already claimed, so racing
// confirmations have a single winner.
type ConsumeFunc func(recordID string) error

// ReleaseFunc frees a candidate record when the confirmed match holding it
// is rejected.
type ReleaseFunc func(recordID string)

// ResolveFunc auto-resolves any open discrepancy for a line once a
// zero-variance match is confirmed.
type ResolveFunc func(lineID, actor, reason string)

// Ledger is the per-run match ledger. All mutations are serialized by a
// single mutex, which is sufficient to preserve the at-most-one-confirmed
// invariant under concurrent manual actions.
type Ledger struct {
	mu sync.Mutex

	matches map[string]*models.Match
	byLine  map[string][]*models.Match
	audit   []AuditEntry

	consume ConsumeFunc
	release ReleaseFunc
	resolve ResolveFunc

	log logger.Logger
}

// NewLedger creates an empty match ledger.
func NewLedger() *Ledger {
	return &Ledger{
		matches: make(map[string]*models.Match),
		byLine:  make(map[string][]*models.Match),
		log:     logger.GetGlobalLogger().WithComponent("match_ledger"),
	}
}

// SetHooks wires the ledger to its run: record consumption and release
// against the candidate index, and discrepancy auto-resolution against the
// tracker. Any hook may be nil.
func (l *Ledger) SetHooks(consume ConsumeFunc, release ReleaseFunc, resolve ResolveFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.consume = consume
	l.release = release
	l.resolve = resolve
}

// Propose creates a new Match in proposed status. It fails with
// DuplicateActiveMatch if the line already has a confirmed match; that is a
// caller defect, not a user outcome. Any earlier proposal for the line is
// rejected as superseded so the line carries at most one live proposal.
func (l *Ledger) Propose(lineID string, recordIDs []string, passNumber, confidence int, variance decimal.Decimal) (*models.Match, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.activeMatchLocked(lineID) != nil {
		return nil, errors.DuplicateActiveMatch(lineID)
	}

	for _, prior := range l.byLine[lineID] {
		if prior.Status == models.MatchStatusProposed {
			l.transitionLocked(prior, models.MatchStatusRejected, SystemActor, "superseded by new proposal")
		}
	}

	match := models.NewMatch(lineID, recordIDs, passNumber, confidence, variance)
	l.matches[match.MatchID] = match
	l.byLine[lineID] = append(l.byLine[lineID], match)
	l.audit = append(l.audit, AuditEntry{
		MatchID:   match.MatchID,
		LineID:    lineID,
		Actor:     SystemActor,
		Timestamp: match.CreatedAt,
		NewStatus: models.MatchStatusProposed,
	})

	return match, nil
}

// ProposeFromCascade records a cascade proposal, carrying its review flag
// and exactness through to the stored match.
func (l *Ledger) ProposeFromCascade(lineID string, recordIDs []string, passNumber, confidence int, variance decimal.Decimal, isExact, requiresReview bool) (*models.Match, error) {
	match, err := l.Propose(lineID, recordIDs, passNumber, confidence, variance)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	match.IsExact = isExact
	match.RequiresReview = requiresReview
	l.mu.Unlock()

	return match, nil
}

// Confirm transitions a proposed match to confirmed, consuming its
// candidate records and auto-resolving the line's open discrepancy when the
// variance is zero. Confirmation of a match whose records were claimed by a
// racing line fails, leaving the match proposed.
func (l *Ledger) Confirm(matchID, actor string) (*models.Match, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	match, ok := l.matches[matchID]
	if !ok {
		return nil, errors.New(errors.CategoryLedger, errors.CodeUnknownMatch, "unknown match: "+matchID)
	}

	if match.Status != models.MatchStatusProposed {
		return nil, errors.New(errors.CategoryLedger, errors.CodeInvalidTransition,
			"only proposed matches can be confirmed, match "+matchID+" is "+match.Status.String())
	}

	if l.activeMatchLocked(match.LineID) != nil {
		return nil, errors.DuplicateActiveMatch(match.LineID)
	}

	if l.consume != nil {
		consumed := make([]string, 0, len(match.RecordIDs))
		for _, recordID := range match.RecordIDs {
			if err := l.consume(recordID); err != nil {
				// Roll back partial consumption; the loser of the race
				// keeps its proposal and the caller re-enters the cascade.
				if l.release != nil {
					for _, id := range consumed {
						l.release(id)
					}
				}
				return nil, errors.Wrap(err, errors.CategoryLedger, errors.CodeInvalidTransition,
					"candidate record unavailable for match "+matchID)
			}
			consumed = append(consumed, recordID)
		}
	}

	l.transitionLocked(match, models.MatchStatusConfirmed, actor, "")

	if match.VarianceAmount.IsZero() && l.resolve != nil {
		l.resolve(match.LineID, actor, "resolved by confirmed exact match "+match.MatchID)
	}

	return match, nil
}

// Reject transitions a proposed or confirmed match to rejected. A rejected
// confirmed match releases its candidate records so a new proposal cycle
// can claim them. The match remains addressable for audit.
func (l *Ledger) Reject(matchID, actor, reason string) (*models.Match, error) {
	if reason == "" {
		return nil, errors.ValidationError(errors.CodeEmptyReason, "reject_reason", reason)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	match, ok := l.matches[matchID]
	if !ok {
		return nil, errors.New(errors.CategoryLedger, errors.CodeUnknownMatch, "unknown match: "+matchID)
	}

	if match.Status == models.MatchStatusRejected {
		return nil, errors.New(errors.CategoryLedger, errors.CodeInvalidTransition,
			"match "+matchID+" is already rejected")
	}

	wasConfirmed := match.Status == models.MatchStatusConfirmed
	l.transitionLocked(match, models.MatchStatusRejected, actor, reason)

	if wasConfirmed && l.release != nil {
		for _, recordID := range match.RecordIDs {
			l.release(recordID)
		}
	}

	return match, nil
}

// ActiveMatch returns the line's confirmed match, if any.
func (l *Ledger) ActiveMatch(lineID string) (*models.Match, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	match := l.activeMatchLocked(lineID)
	return match, match != nil
}

// LiveProposal returns the line's current proposed match, if any.
func (l *Ledger) LiveProposal(lineID string) (*models.Match, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, match := range l.byLine[lineID] {
		if match.Status == models.MatchStatusProposed {
			return match, true
		}
	}
	return nil, false
}

// History returns every match ever recorded for a line, oldest first.
func (l *Ledger) History(lineID string) []*models.Match {
	l.mu.Lock()
	defer l.mu.Unlock()

	history := make([]*models.Match, len(l.byLine[lineID]))
	copy(history, l.byLine[lineID])
	return history
}

// AllMatches returns every match in the ledger ordered by line then
// creation time.
func (l *Ledger) AllMatches() []*models.Match {
	l.mu.Lock()
	defer l.mu.Unlock()

	all := make([]*models.Match, 0, len(l.matches))
	for _, match := range l.matches {
		all = append(all, match)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].LineID != all[j].LineID {
			return all[i].LineID < all[j].LineID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	return all
}

// AuditLog returns a copy of the full mutation history.
func (l *Ledger) AuditLog() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	log := make([]AuditEntry, len(l.audit))
	copy(log, l.audit)
	return log
}

func (l *Ledger) activeMatchLocked(lineID string) *models.Match {
	for _, match := range l.byLine[lineID] {
		if match.IsActive() {
			return match
		}
	}
	return nil
}

func (l *Ledger) transitionLocked(match *models.Match, to models.MatchStatus, actor, reason string) {
	l.audit = append(l.audit, AuditEntry{
		MatchID:        match.MatchID,
		LineID:         match.LineID,
		Actor:          actor,
		Timestamp:      time.Now().UTC(),
		PreviousStatus: match.Status,
		NewStatus:      to,
		Reason:         reason,
	})
	match.Status = to

	l.log.WithFields(logger.Fields{
		"match_id": match.MatchID,
		"line_id":  match.LineID,
		"status":   to.String(),
		"actor":    actor,
	}).Debug("match status transition")
}
