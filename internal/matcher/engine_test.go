package matcher

import (
	"testing"
	"time"

	"statement-reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLine(lineID, documentReference, amount string, date time.Time) *models.StatementLine {
	return &models.StatementLine{
		LineID:            lineID,
		DocumentReference: documentReference,
		ClaimedDate:       date,
		ClaimedAmount:     decimal.RequireFromString(amount),
		Currency:          "EUR",
		CounterpartyID:    "CP-001",
	}
}

func testRecordOn(recordID, documentReference, amount string, date time.Time) *models.CandidateRecord {
	rec := testRecord(recordID, documentReference, amount, models.RecordStatusOpen)
	rec.RecordDate = date
	return rec
}

func newTestEngine(records ...*models.CandidateRecord) *MatchingEngine {
	return NewMatchingEngine(DefaultToleranceConfig(), NewCandidateIndex(records))
}

var baseDate = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func TestMatchLineExactPass(t *testing.T) {
	engine := newTestEngine(
		testRecordOn("REC-001", "INV-1000", "100.00", baseDate),
	)

	proposal, outcome := engine.MatchLine(testLine("L-001", "INV-1000", "100.00", baseDate))

	require.Equal(t, OutcomeMatched, outcome)
	assert.Equal(t, models.PassExact, proposal.PassNumber)
	assert.Equal(t, 100, proposal.Confidence)
	assert.Equal(t, []string{"REC-001"}, proposal.RecordIDs)
	assert.True(t, proposal.IsExact)
	assert.False(t, proposal.RequiresReview)
	assert.True(t, proposal.VarianceAmount.IsZero())
}

func TestMatchLineDateTolerancePass(t *testing.T) {
	tests := []struct {
		name       string
		daysApart  int
		wantPass   int
		wantDrift  int
		confidence int
	}{
		{"one day apart", 1, models.PassDateTolerance, 1, 95},
		{"exactly at the window edge", 7, models.PassDateTolerance, 7, 95},
		// Beyond the window the identical reference and amount still match
		// under the normalized-reference pass, at lower confidence.
		{"one day beyond the window", 8, models.PassNormalizedRef, 0, 90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(
				testRecordOn("REC-001", "INV-1000", "100.00", baseDate.AddDate(0, 0, tt.daysApart)),
			)

			proposal, outcome := engine.MatchLine(testLine("L-001", "INV-1000", "100.00", baseDate))

			require.Equal(t, OutcomeMatched, outcome)
			assert.Equal(t, tt.wantPass, proposal.PassNumber)
			assert.Equal(t, tt.confidence, proposal.Confidence)
			assert.Equal(t, tt.wantDrift, proposal.DateDriftDays)
			assert.True(t, proposal.IsExact)
		})
	}
}

func TestMatchLineNormalizedReferencePass(t *testing.T) {
	engine := newTestEngine(
		testRecordOn("REC-001", "INV-1000", "100.00", baseDate),
	)

	proposal, outcome := engine.MatchLine(testLine("L-001", "INV 1000", "100.00", baseDate))

	require.Equal(t, OutcomeMatched, outcome)
	assert.Equal(t, models.PassNormalizedRef, proposal.PassNumber)
	assert.Equal(t, 90, proposal.Confidence)
	assert.True(t, proposal.IsExact)
	assert.True(t, proposal.VarianceAmount.IsZero())
}

func TestMatchLineAmountTolerancePass(t *testing.T) {
	tests := []struct {
		name     string
		claimed  string
		record   string
		wantPass int
		variance string
	}{
		{"within absolute limit", "100.50", "100.00", models.PassAmountTolerance, "0.50"},
		{"exactly at absolute limit", "101.00", "100.00", models.PassAmountTolerance, "1.00"},
		{"negative variance when record is larger", "999.50", "1000.00", models.PassAmountTolerance, "-0.50"},
		{"within percent limit on large amounts", "1004.00", "1000.00", models.PassAmountTolerance, "4.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(
				testRecordOn("REC-001", "INV-1000", tt.record, baseDate),
			)

			proposal, outcome := engine.MatchLine(testLine("L-001", "INV-1000", tt.claimed, baseDate))

			require.Equal(t, OutcomeMatched, outcome)
			assert.Equal(t, tt.wantPass, proposal.PassNumber)
			assert.Equal(t, 85, proposal.Confidence)
			assert.True(t, proposal.VarianceAmount.Equal(decimal.RequireFromString(tt.variance)))
		})
	}
}

func TestMatchLineAmountJustOverToleranceIsUnmatched(t *testing.T) {
	// Claimed exceeds the record by 1.01: too far for the tolerance pass,
	// and not a partial settlement since the claim is the larger side.
	engine := newTestEngine(
		testRecordOn("REC-001", "INV-1000", "100.00", baseDate),
	)

	proposal, outcome := engine.MatchLine(testLine("L-001", "INV-1000", "101.01", baseDate))

	assert.Equal(t, OutcomeUnmatched, outcome)
	assert.Nil(t, proposal)
}

func TestMatchLinePartialSettlementPass(t *testing.T) {
	engine := newTestEngine(
		testRecordOn("REC-001", "INV-1000", "1000.00", baseDate),
	)

	proposal, outcome := engine.MatchLine(testLine("L-001", "INV-1000", "500.00", baseDate))

	require.Equal(t, OutcomeMatched, outcome)
	assert.Equal(t, models.PassPartialSettlement, proposal.PassNumber)
	assert.Equal(t, 75, proposal.Confidence)
	assert.False(t, proposal.IsExact)
	// Variance is the unsettled remainder of the record.
	assert.True(t, proposal.VarianceAmount.Equal(decimal.RequireFromString("500.00")))
}

func TestMatchLineStopsAtHighestPass(t *testing.T) {
	// Exact, date-drifted, and amount-drifted candidates coexist; the exact
	// one wins and the single-candidate result needs no review.
	engine := newTestEngine(
		testRecordOn("REC-001", "INV-1000", "100.00", baseDate),
		testRecordOn("REC-002", "INV-1000", "100.00", baseDate.AddDate(0, 0, 3)),
		testRecordOn("REC-003", "INV-1000", "100.40", baseDate),
	)

	proposal, outcome := engine.MatchLine(testLine("L-001", "INV-1000", "100.00", baseDate))

	require.Equal(t, OutcomeMatched, outcome)
	assert.Equal(t, models.PassExact, proposal.PassNumber)
	assert.Equal(t, []string{"REC-001"}, proposal.RecordIDs)
	assert.False(t, proposal.RequiresReview)
}

func TestMatchLineAmbiguousCandidatesRequireReview(t *testing.T) {
	engine := newTestEngine(
		testRecordOn("REC-001", "INV-1000", "100.00", baseDate),
		testRecordOn("REC-002", "INV-1000", "100.00", baseDate),
	)

	proposal, outcome := engine.MatchLine(testLine("L-001", "INV-1000", "100.00", baseDate))

	require.Equal(t, OutcomeMatched, outcome)
	assert.True(t, proposal.RequiresReview)
	// Equal amounts tie-break on record ID.
	assert.Equal(t, []string{"REC-001"}, proposal.RecordIDs)
}

func TestMatchLineAmbiguousTieBreakPrefersLargerAmount(t *testing.T) {
	engine := newTestEngine(
		testRecordOn("REC-001", "INV-1000", "400.00", baseDate),
		testRecordOn("REC-002", "INV-1000", "900.00", baseDate),
	)

	proposal, outcome := engine.MatchLine(testLine("L-001", "INV-1000", "300.00", baseDate))

	require.Equal(t, OutcomeMatched, outcome)
	assert.Equal(t, models.PassPartialSettlement, proposal.PassNumber)
	assert.True(t, proposal.RequiresReview)
	assert.Equal(t, []string{"REC-002"}, proposal.RecordIDs)
	assert.True(t, proposal.VarianceAmount.Equal(decimal.RequireFromString("600.00")))
}

func TestMatchLineUnmatched(t *testing.T) {
	engine := newTestEngine(
		testRecordOn("REC-001", "INV-2000", "100.00", baseDate),
	)

	proposal, outcome := engine.MatchLine(testLine("L-001", "INV-1000", "100.00", baseDate))

	assert.Equal(t, OutcomeUnmatched, outcome)
	assert.Nil(t, proposal)
}

func TestMatchLineDuplicateClaim(t *testing.T) {
	index := NewCandidateIndex([]*models.CandidateRecord{
		testRecordOn("REC-001", "INV-1000", "100.00", baseDate),
	})
	engine := NewMatchingEngine(DefaultToleranceConfig(), index)

	require.NoError(t, index.Consume("REC-001"))

	proposal, outcome := engine.MatchLine(testLine("L-002", "INV-1000", "100.00", baseDate))

	assert.Equal(t, OutcomeDuplicateClaim, outcome)
	assert.Nil(t, proposal)
}

func TestMatchLineCurrencyMismatchNeverMatches(t *testing.T) {
	engine := newTestEngine(
		testRecordOn("REC-001", "INV-1000", "100.00", baseDate),
	)

	line := testLine("L-001", "INV-1000", "100.00", baseDate)
	line.Currency = "USD"

	_, outcome := engine.MatchLine(line)
	assert.Equal(t, OutcomeUnmatched, outcome)
}

func TestMatchLineIsDeterministic(t *testing.T) {
	records := []*models.CandidateRecord{
		testRecordOn("REC-003", "INV-1000", "100.00", baseDate),
		testRecordOn("REC-001", "INV-1000", "100.00", baseDate),
		testRecordOn("REC-002", "INV-1000", "100.00", baseDate),
	}
	reversed := []*models.CandidateRecord{records[2], records[1], records[0]}

	line := testLine("L-001", "INV-1000", "100.00", baseDate)

	first, _ := newTestEngine(records...).MatchLine(line)
	second, _ := newTestEngine(reversed...).MatchLine(line)

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, first.RecordIDs, second.RecordIDs)
	assert.Equal(t, first.PassNumber, second.PassNumber)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Equal(t, first.RequiresReview, second.RequiresReview)

	// The same line through the same engine repeats the identical verdict.
	engine := newTestEngine(records...)
	for i := 0; i < 5; i++ {
		p, _ := engine.MatchLine(line)
		assert.Equal(t, first.RecordIDs, p.RecordIDs)
	}
}
