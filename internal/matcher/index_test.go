package matcher

import (
	"testing"
	"time"

	"statement-reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(recordID, documentReference, amount string, status models.RecordStatus) *models.CandidateRecord {
	return &models.CandidateRecord{
		RecordID:          recordID,
		DocumentReference: documentReference,
		RecordDate:        time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Amount:            decimal.RequireFromString(amount),
		Currency:          "EUR",
		Status:            status,
		CounterpartyID:    "CP-001",
	}
}

func TestCandidateIndexLookupExact(t *testing.T) {
	idx := NewCandidateIndex([]*models.CandidateRecord{
		testRecord("REC-002", "INV-1000", "100.00", models.RecordStatusOpen),
		testRecord("REC-001", "INV-1000", "100.00", models.RecordStatusOpen),
		testRecord("REC-003", "INV-1000", "250.00", models.RecordStatusOpen),
		testRecord("REC-004", "INV-2000", "100.00", models.RecordStatusOpen),
	})

	recs := idx.LookupExact("INV-1000", "EUR", decimal.RequireFromString("100.00"))
	require.Len(t, recs, 2)

	// Deterministic order regardless of snapshot order.
	assert.Equal(t, "REC-001", recs[0].RecordID)
	assert.Equal(t, "REC-002", recs[1].RecordID)

	assert.Empty(t, idx.LookupExact("INV-1000", "USD", decimal.RequireFromString("100.00")))
	assert.Empty(t, idx.LookupExact("INV-9999", "EUR", decimal.RequireFromString("100.00")))
}

func TestCandidateIndexLookupNormalized(t *testing.T) {
	idx := NewCandidateIndex([]*models.CandidateRecord{
		testRecord("REC-001", "INV-1000", "100.00", models.RecordStatusOpen),
		testRecord("REC-002", "INV 1000", "250.00", models.RecordStatusOpen),
		testRecord("REC-003", "inv_1000", "400.00", models.RecordStatusOpen),
	})

	// Reference variants land under one normalized key.
	recs := idx.LookupNormalized("INV1000", "EUR")
	require.Len(t, recs, 3)
	assert.Equal(t, "REC-001", recs[0].RecordID)
	assert.Equal(t, "REC-003", recs[2].RecordID)
}

func TestCandidateIndexExcludesNonOpenRecords(t *testing.T) {
	idx := NewCandidateIndex([]*models.CandidateRecord{
		testRecord("REC-001", "INV-1000", "100.00", models.RecordStatusSettled),
		testRecord("REC-002", "INV-1000", "100.00", models.RecordStatusVoided),
	})

	assert.Empty(t, idx.LookupExact("INV-1000", "EUR", decimal.RequireFromString("100.00")))
	assert.Empty(t, idx.LookupNormalized("INV1000", "EUR"))

	// Non-open records stay reachable for audit lookups.
	rec, ok := idx.Get("REC-001")
	require.True(t, ok)
	assert.Equal(t, models.RecordStatusSettled, rec.Status)
}

func TestCandidateIndexConsumeAndRelease(t *testing.T) {
	idx := NewCandidateIndex([]*models.CandidateRecord{
		testRecord("REC-001", "INV-1000", "100.00", models.RecordStatusOpen),
	})

	require.NoError(t, idx.Consume("REC-001"))
	assert.True(t, idx.IsConsumed("REC-001"))
	assert.Empty(t, idx.LookupExact("INV-1000", "EUR", decimal.RequireFromString("100.00")))
	assert.Empty(t, idx.LookupNormalized("INV1000", "EUR"))
	assert.True(t, idx.HasConsumed("INV1000", "EUR"))

	// Double consumption must fail so racing claimants have one winner.
	assert.Error(t, idx.Consume("REC-001"))

	idx.Release("REC-001")
	assert.False(t, idx.IsConsumed("REC-001"))
	assert.Len(t, idx.LookupNormalized("INV1000", "EUR"), 1)
	assert.False(t, idx.HasConsumed("INV1000", "EUR"))
}

func TestCandidateIndexConsumeUnknownRecord(t *testing.T) {
	idx := NewCandidateIndex(nil)
	assert.Error(t, idx.Consume("REC-404"))
}

func TestCandidateIndexStats(t *testing.T) {
	idx := NewCandidateIndex([]*models.CandidateRecord{
		testRecord("REC-001", "INV-1000", "100.00", models.RecordStatusOpen),
		testRecord("REC-002", "INV-2000", "200.00", models.RecordStatusOpen),
		testRecord("REC-003", "INV-3000", "300.00", models.RecordStatusSettled),
	})
	require.NoError(t, idx.Consume("REC-001"))

	stats := idx.Stats()
	assert.Equal(t, 3, stats.TotalRecords)
	assert.Equal(t, 2, stats.OpenRecords)
	assert.Equal(t, 1, stats.ConsumedRecords)
	assert.Equal(t, 2, stats.UniqueReferences)
}

func TestCandidateIndexRebuildResetsConsumption(t *testing.T) {
	snapshot := []*models.CandidateRecord{
		testRecord("REC-001", "INV-1000", "100.00", models.RecordStatusOpen),
	}

	idx := NewCandidateIndex(snapshot)
	require.NoError(t, idx.Consume("REC-001"))

	idx.Rebuild(snapshot)
	assert.False(t, idx.IsConsumed("REC-001"))
	assert.Len(t, idx.LookupNormalized("INV1000", "EUR"), 1)
}
