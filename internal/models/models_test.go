package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validLine() *StatementLine {
	return &StatementLine{
		LineID:            "L-001",
		DocumentReference: "INV-1000",
		ClaimedDate:       time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		ClaimedAmount:     decimal.RequireFromString("100.00"),
		Currency:          "EUR",
		CounterpartyID:    "CP-001",
	}
}

func TestStatementLineValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*StatementLine)
		wantErr bool
	}{
		{"valid line", func(l *StatementLine) {}, false},
		{"missing line ID", func(l *StatementLine) { l.LineID = " " }, true},
		{"missing reference", func(l *StatementLine) { l.DocumentReference = "" }, true},
		{"zero amount", func(l *StatementLine) { l.ClaimedAmount = decimal.Zero }, true},
		{"negative amount valid", func(l *StatementLine) {
			l.ClaimedAmount = decimal.RequireFromString("-50.00")
		}, false},
		{"missing currency", func(l *StatementLine) { l.Currency = "" }, true},
		{"zero date", func(l *StatementLine) { l.ClaimedDate = time.Time{} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := validLine()
			tt.mutate(line)

			err := line.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCandidateRecordValidate(t *testing.T) {
	rec := &CandidateRecord{
		RecordID:          "REC-001",
		DocumentReference: "INV-1000",
		RecordDate:        time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Amount:            decimal.RequireFromString("100.00"),
		Currency:          "EUR",
		Status:            RecordStatusOpen,
		CounterpartyID:    "CP-001",
	}
	assert.NoError(t, rec.Validate())
	assert.True(t, rec.IsOpen())

	rec.Status = "pending"
	assert.Error(t, rec.Validate())

	rec.Status = RecordStatusSettled
	assert.NoError(t, rec.Validate())
	assert.False(t, rec.IsOpen())
}

func TestPassConfidence(t *testing.T) {
	assert.Equal(t, 100, PassConfidence(PassExact))
	assert.Equal(t, 95, PassConfidence(PassDateTolerance))
	assert.Equal(t, 90, PassConfidence(PassNormalizedRef))
	assert.Equal(t, 85, PassConfidence(PassAmountTolerance))
	assert.Equal(t, 75, PassConfidence(PassPartialSettlement))
	assert.Equal(t, 0, PassConfidence(PassManual))
}

func TestEnumValidity(t *testing.T) {
	assert.True(t, RecordStatusOpen.IsValid())
	assert.False(t, RecordStatus("pending").IsValid())

	assert.True(t, MatchStatusConfirmed.IsValid())
	assert.False(t, MatchStatus("cancelled").IsValid())

	assert.True(t, DiscrepancyDuplicateClaim.IsValid())
	assert.False(t, DiscrepancyKind("mystery").IsValid())

	assert.True(t, SignoffReady.IsValid())
	assert.False(t, SignoffStatus("closed").IsValid())

	assert.True(t, IsValidPass(PassManual))
	assert.True(t, IsValidPass(PassPartialSettlement))
	assert.False(t, IsValidPass(6))
	assert.False(t, IsValidPass(-1))
}

func TestNewMatch(t *testing.T) {
	exact := NewMatch("L-001", []string{"REC-001"}, PassExact, 100, decimal.Zero)
	assert.NotEmpty(t, exact.MatchID)
	assert.Equal(t, MatchStatusProposed, exact.Status)
	assert.True(t, exact.IsExact)
	assert.False(t, exact.IsActive())

	variant := NewMatch("L-002", []string{"REC-002"}, PassAmountTolerance, 85, decimal.RequireFromString("0.50"))
	assert.False(t, variant.IsExact)
}

func TestNewDiscrepancy(t *testing.T) {
	d := NewDiscrepancy("L-001", DiscrepancyUnmatched, decimal.RequireFromString("50.00"))
	assert.NotEmpty(t, d.DiscrepancyID)
	assert.Equal(t, DiscrepancyOpen, d.Status)
	assert.True(t, d.IsOpen())
}

func TestNewReconciliationRun(t *testing.T) {
	run := NewReconciliationRun("CP-001", "2024-01")
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, SignoffNotReady, run.SignoffStatus)
	assert.False(t, run.IsSignedOff())
	assert.True(t, run.TotalClaimed.IsZero())
}

func TestStatementLineJSON(t *testing.T) {
	data := []byte(`{
		"line_id": "L-001",
		"document_reference": "INV-1000",
		"claimed_date": "2024-01-15",
		"claimed_amount": "100.50",
		"currency": "EUR",
		"counterparty_id": "CP-001"
	}`)

	var line StatementLine
	require.NoError(t, json.Unmarshal(data, &line))

	assert.Equal(t, "L-001", line.LineID)
	assert.True(t, line.ClaimedAmount.Equal(decimal.RequireFromString("100.50")))
	assert.Equal(t, 2024, line.ClaimedDate.Year())

	// Amounts and dates render as strings, never as floats.
	out, err := json.Marshal(&line)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"claimed_amount":"100.50"`)
	assert.Contains(t, string(out), `"claimed_date":"2024-01-15"`)
}

func TestStatementLineJSONRejectsBadAmount(t *testing.T) {
	data := []byte(`{
		"line_id": "L-001",
		"document_reference": "INV-1000",
		"claimed_date": "2024-01-15",
		"claimed_amount": "one hundred",
		"currency": "EUR",
		"counterparty_id": "CP-001"
	}`)

	var line StatementLine
	assert.Error(t, json.Unmarshal(data, &line))
}

func TestCandidateRecordJSON(t *testing.T) {
	data := []byte(`{
		"record_id": "REC-001",
		"document_reference": "INV-1000",
		"record_date": "2024-01-12",
		"amount": "-250.00",
		"currency": "EUR",
		"status": "open",
		"counterparty_id": "CP-001"
	}`)

	var rec CandidateRecord
	require.NoError(t, json.Unmarshal(data, &rec))

	assert.True(t, rec.Amount.Equal(decimal.RequireFromString("-250.00")))
	assert.Equal(t, RecordStatusOpen, rec.Status)
}

func TestParseCalendarDate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"calendar date", "2024-01-15", false},
		{"RFC3339", "2024-01-15T10:30:00Z", false},
		{"datetime", "2024-01-15 10:30:00", false},
		{"padded input", "  2024-01-15  ", false},
		{"empty", "", true},
		{"garbage", "15/01/2024", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseCalendarDate(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 15, parsed.Day())
		})
	}
}
