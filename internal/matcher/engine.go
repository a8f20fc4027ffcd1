package matcher

import (
	"sort"

	"statement-reconciliation-engine/internal/models"
	"statement-reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
)

// Outcome classifies how a line exited the cascade.
type Outcome int

const (
	// OutcomeMatched means a pass produced a proposal for the line
	OutcomeMatched Outcome = iota

	// OutcomeUnmatched means all five passes yielded zero candidates
	OutcomeUnmatched

	// OutcomeDuplicateClaim means the only plausible candidates were
	// already consumed by confirmed matches for other lines this run
	OutcomeDuplicateClaim
)

// String returns the string representation of Outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeMatched:
		return "matched"
	case OutcomeUnmatched:
		return "unmatched"
	case OutcomeDuplicateClaim:
		return "duplicate_claim"
	default:
		return "unknown"
	}
}

// Proposal is the cascade's verdict for one statement line before it enters
// the ledger. RequiresReview marks an ambiguous pass result that must never
// be auto-confirmed. DateDriftDays is nonzero only for date-tolerance
// matches, where the claimed and record dates differ within the window.
type Proposal struct {
	LineID         string
	RecordIDs      []string
	PassNumber     int
	Confidence     int
	IsExact        bool
	RequiresReview bool
	VarianceAmount decimal.Decimal
	DateDriftDays  int
}

// MatchingEngine runs the ordered cascade of match passes for one
// reconciliation run. It is read-only with respect to its inputs; candidate
// consumption happens in the index when a match is confirmed, not here.
type MatchingEngine struct {
	config *ToleranceConfig
	index  *CandidateIndex
	log    logger.Logger
}

// NewMatchingEngine creates a cascade engine over a run's candidate index.
func NewMatchingEngine(config *ToleranceConfig, index *CandidateIndex) *MatchingEngine {
	if config == nil {
		config = DefaultToleranceConfig()
	}

	return &MatchingEngine{
		config: config,
		index:  index,
		log:    logger.GetGlobalLogger().WithComponent("matching_engine"),
	}
}

// Config returns the engine's tolerance configuration.
func (e *MatchingEngine) Config() *ToleranceConfig {
	return e.config
}

// MatchLine runs a statement line through the cascade. Passes are evaluated
// in order and the line stops at the first pass with at least one candidate;
// lower-confidence passes are never evaluated once a higher one succeeds.
//
// Given the same line and the same index state, MatchLine always returns the
// same proposal: candidate selection is fully ordered (highest amount first,
// then record ID) so two runs produce identical output.
func (e *MatchingEngine) MatchLine(line *models.StatementLine) (*Proposal, Outcome) {
	type pass struct {
		number int
		eval   func(*models.StatementLine) []*models.CandidateRecord
	}

	passes := []pass{
		{models.PassExact, e.passExact},
		{models.PassDateTolerance, e.passDateTolerance},
		{models.PassNormalizedRef, e.passNormalizedReference},
		{models.PassAmountTolerance, e.passAmountTolerance},
		{models.PassPartialSettlement, e.passPartialSettlement},
	}

	// Lower passes are never evaluated once a higher one yields candidates.
	for _, p := range passes {
		candidates := p.eval(line)
		if len(candidates) == 0 {
			continue
		}

		proposal := e.buildProposal(line, p.number, candidates)
		e.log.WithFields(logger.Fields{
			"line_id":   line.LineID,
			"pass":      proposal.PassNumber,
			"record_id": proposal.RecordIDs[0],
			"review":    proposal.RequiresReview,
		}).Debug("cascade produced proposal")

		return proposal, OutcomeMatched
	}

	normRef := NormalizeReference(line.DocumentReference)
	if e.index.HasConsumed(normRef, line.Currency) {
		e.log.WithField("line_id", line.LineID).Debug("candidates consumed by earlier confirmed matches")
		return nil, OutcomeDuplicateClaim
	}

	e.log.WithField("line_id", line.LineID).Debug("line exited cascade unmatched")
	return nil, OutcomeUnmatched
}

// passExact: raw reference, amount to 2 decimals, currency, and calendar
// date all equal.
func (e *MatchingEngine) passExact(line *models.StatementLine) []*models.CandidateRecord {
	candidates := e.index.LookupExact(line.DocumentReference, line.Currency, line.ClaimedAmount)

	var result []*models.CandidateRecord
	for _, rec := range candidates {
		if SameCalendarDay(line.ClaimedDate, rec.RecordDate) {
			result = append(result, rec)
		}
	}
	return result
}

// passDateTolerance: same as the exact pass but the record date may drift
// within the configured window.
func (e *MatchingEngine) passDateTolerance(line *models.StatementLine) []*models.CandidateRecord {
	candidates := e.index.LookupExact(line.DocumentReference, line.Currency, line.ClaimedAmount)

	var result []*models.CandidateRecord
	for _, rec := range candidates {
		if DatesWithinWindow(line.ClaimedDate, rec.RecordDate, e.config.DateWindowDays) {
			result = append(result, rec)
		}
	}
	return result
}

// passNormalizedReference: normalized references equal, amount and currency
// equal, dates ignored.
func (e *MatchingEngine) passNormalizedReference(line *models.StatementLine) []*models.CandidateRecord {
	normRef := NormalizeReference(line.DocumentReference)
	candidates := e.index.LookupNormalized(normRef, line.Currency)

	var result []*models.CandidateRecord
	for _, rec := range candidates {
		if rec.Amount.Equal(line.ClaimedAmount) {
			result = append(result, rec)
		}
	}
	return result
}

// passAmountTolerance: normalized references and currency equal, amounts
// within the configured absolute or percentage tolerance.
func (e *MatchingEngine) passAmountTolerance(line *models.StatementLine) []*models.CandidateRecord {
	normRef := NormalizeReference(line.DocumentReference)
	candidates := e.index.LookupNormalized(normRef, line.Currency)

	var result []*models.CandidateRecord
	for _, rec := range candidates {
		if e.config.AmountsWithin(line.ClaimedAmount, rec.Amount) {
			result = append(result, rec)
		}
	}
	return result
}

// passPartialSettlement: normalized references and currency equal, claimed
// amount strictly below the record amount, indicating a partial payment
// against a larger obligation.
func (e *MatchingEngine) passPartialSettlement(line *models.StatementLine) []*models.CandidateRecord {
	normRef := NormalizeReference(line.DocumentReference)
	candidates := e.index.LookupNormalized(normRef, line.Currency)

	var result []*models.CandidateRecord
	for _, rec := range candidates {
		if line.ClaimedAmount.LessThan(rec.Amount) {
			result = append(result, rec)
		}
	}
	return result
}

// buildProposal selects the candidate and computes confidence and variance
// for the pass that succeeded. With more than one candidate the highest
// amount wins (ties broken by record ID) and the proposal is flagged for
// mandatory manual confirmation.
func (e *MatchingEngine) buildProposal(line *models.StatementLine, passNumber int, candidates []*models.CandidateRecord) *Proposal {
	selected := candidates[0]
	requiresReview := false

	if len(candidates) > 1 {
		ranked := make([]*models.CandidateRecord, len(candidates))
		copy(ranked, candidates)
		sort.Slice(ranked, func(i, j int) bool {
			if !ranked[i].Amount.Equal(ranked[j].Amount) {
				return ranked[i].Amount.GreaterThan(ranked[j].Amount)
			}
			return ranked[i].RecordID < ranked[j].RecordID
		})
		selected = ranked[0]
		requiresReview = true
	}

	proposal := &Proposal{
		LineID:         line.LineID,
		RecordIDs:      []string{selected.RecordID},
		PassNumber:     passNumber,
		Confidence:     models.PassConfidence(passNumber),
		IsExact:        true,
		RequiresReview: requiresReview,
		VarianceAmount: decimal.Zero,
	}

	switch passNumber {
	case models.PassDateTolerance:
		proposal.DateDriftDays = CalendarDaysApart(line.ClaimedDate, selected.RecordDate)
	case models.PassAmountTolerance:
		proposal.VarianceAmount = line.ClaimedAmount.Sub(selected.Amount)
		proposal.IsExact = proposal.VarianceAmount.IsZero()
	case models.PassPartialSettlement:
		proposal.VarianceAmount = selected.Amount.Sub(line.ClaimedAmount)
		proposal.IsExact = false
	}

	return proposal
}
