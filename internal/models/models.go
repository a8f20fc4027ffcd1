// Package models defines the record shapes flowing through the
// reconciliation engine: statement lines claimed by a counterparty,
// candidate records from the internal system of record, the matches
// linking them, the discrepancies left behind, and the reconciliation
// run aggregate.
//
// All monetary values use decimal.Decimal fixed to 2 places; floating
// point is never used for money. Lines and candidate records are
// immutable once created so the audit trail stays intact.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RecordStatus represents the settlement status of a candidate record
type RecordStatus string

const (
	RecordStatusOpen    RecordStatus = "open"
	RecordStatusSettled RecordStatus = "settled"
	RecordStatusVoided  RecordStatus = "voided"
)

// String returns the string representation of RecordStatus
func (s RecordStatus) String() string {
	return string(s)
}

// IsValid checks if the record status is valid
func (s RecordStatus) IsValid() bool {
	switch s {
	case RecordStatusOpen, RecordStatusSettled, RecordStatusVoided:
		return true
	default:
		return false
	}
}

// MatchStatus represents the lifecycle state of a match
type MatchStatus string

const (
	MatchStatusProposed  MatchStatus = "proposed"
	MatchStatusConfirmed MatchStatus = "confirmed"
	MatchStatusRejected  MatchStatus = "rejected"
)

// String returns the string representation of MatchStatus
func (s MatchStatus) String() string {
	return string(s)
}

// IsValid checks if the match status is valid
func (s MatchStatus) IsValid() bool {
	switch s {
	case MatchStatusProposed, MatchStatusConfirmed, MatchStatusRejected:
		return true
	default:
		return false
	}
}

// Cascade pass numbers. PassManual marks matches proposed by a human
// rather than the cascade.
const (
	PassManual            = 0
	PassExact             = 1
	PassDateTolerance     = 2
	PassNormalizedRef     = 3
	PassAmountTolerance   = 4
	PassPartialSettlement = 5
)

// PassConfidence returns the confidence score produced by a cascade pass.
// Manual proposals carry zero confidence; a human vouched for them instead.
func PassConfidence(pass int) int {
	switch pass {
	case PassExact:
		return 100
	case PassDateTolerance:
		return 95
	case PassNormalizedRef:
		return 90
	case PassAmountTolerance:
		return 85
	case PassPartialSettlement:
		return 75
	default:
		return 0
	}
}

// IsValidPass checks if the pass number is within the cascade range or manual
func IsValidPass(pass int) bool {
	return pass >= PassManual && pass <= PassPartialSettlement
}

// DiscrepancyKind classifies a residual issue left by the cascade
type DiscrepancyKind string

const (
	DiscrepancyUnmatched      DiscrepancyKind = "unmatched"
	DiscrepancyAmountVariance DiscrepancyKind = "amount_variance"
	DiscrepancyDateVariance   DiscrepancyKind = "date_variance"
	DiscrepancyDuplicateClaim DiscrepancyKind = "duplicate_claim"
)

// String returns the string representation of DiscrepancyKind
func (k DiscrepancyKind) String() string {
	return string(k)
}

// IsValid checks if the discrepancy kind is valid
func (k DiscrepancyKind) IsValid() bool {
	switch k {
	case DiscrepancyUnmatched, DiscrepancyAmountVariance, DiscrepancyDateVariance, DiscrepancyDuplicateClaim:
		return true
	default:
		return false
	}
}

// DiscrepancyStatus represents the resolution state of a discrepancy
type DiscrepancyStatus string

const (
	DiscrepancyOpen     DiscrepancyStatus = "open"
	DiscrepancyResolved DiscrepancyStatus = "resolved"
	DiscrepancyWaived   DiscrepancyStatus = "waived"
)

// String returns the string representation of DiscrepancyStatus
func (s DiscrepancyStatus) String() string {
	return string(s)
}

// IsValid checks if the discrepancy status is valid
func (s DiscrepancyStatus) IsValid() bool {
	switch s {
	case DiscrepancyOpen, DiscrepancyResolved, DiscrepancyWaived:
		return true
	default:
		return false
	}
}

// SignoffStatus represents the closure state of a reconciliation run
type SignoffStatus string

const (
	SignoffNotReady  SignoffStatus = "not_ready"
	SignoffReady     SignoffStatus = "ready"
	SignoffSignedOff SignoffStatus = "signed_off"
)

// String returns the string representation of SignoffStatus
func (s SignoffStatus) String() string {
	return string(s)
}

// IsValid checks if the sign-off status is valid
func (s SignoffStatus) IsValid() bool {
	switch s {
	case SignoffNotReady, SignoffReady, SignoffSignedOff:
		return true
	default:
		return false
	}
}

// StatementLine is one claimed transaction from a counterparty's statement
// of account. Lines are immutable after ingestion; corrections arrive as
// new lines, never in-place edits.
type StatementLine struct {
	LineID            string          `json:"line_id"`
	DocumentReference string          `json:"document_reference"`
	ClaimedDate       time.Time       `json:"claimed_date"`
	ClaimedAmount     decimal.Decimal `json:"claimed_amount"`
	Currency          string          `json:"currency"`
	CounterpartyID    string          `json:"counterparty_id"`
}

// Validate checks a statement line before it may enter the cascade.
// Malformed lines are rejected here and reported per-line; they never
// abort the batch.
func (l *StatementLine) Validate() error {
	if strings.TrimSpace(l.LineID) == "" {
		return fmt.Errorf("statement line ID cannot be empty")
	}

	if strings.TrimSpace(l.DocumentReference) == "" {
		return fmt.Errorf("statement line %s: document reference cannot be empty", l.LineID)
	}

	if l.ClaimedAmount.IsZero() {
		return fmt.Errorf("statement line %s: claimed amount cannot be zero", l.LineID)
	}

	if strings.TrimSpace(l.Currency) == "" {
		return fmt.Errorf("statement line %s: currency cannot be empty", l.LineID)
	}

	if l.ClaimedDate.IsZero() {
		return fmt.Errorf("statement line %s: claimed date cannot be zero", l.LineID)
	}

	return nil
}

// String returns a string representation of the StatementLine
func (l *StatementLine) String() string {
	return fmt.Sprintf("StatementLine{ID: %s, Ref: %s, Amount: %s %s, Date: %s}",
		l.LineID, l.DocumentReference, l.ClaimedAmount.StringFixed(2), l.Currency,
		l.ClaimedDate.Format("2006-01-02"))
}

// MarshalJSON implements custom JSON marshaling for StatementLine
func (l *StatementLine) MarshalJSON() ([]byte, error) {
	type Alias StatementLine
	return json.Marshal(&struct {
		ClaimedDate   string `json:"claimed_date"`
		ClaimedAmount string `json:"claimed_amount"`
		*Alias
	}{
		ClaimedDate:   l.ClaimedDate.Format("2006-01-02"),
		ClaimedAmount: l.ClaimedAmount.StringFixed(2),
		Alias:         (*Alias)(l),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for StatementLine
func (l *StatementLine) UnmarshalJSON(data []byte) error {
	type Alias StatementLine
	aux := &struct {
		ClaimedDate   string `json:"claimed_date"`
		ClaimedAmount string `json:"claimed_amount"`
		*Alias
	}{
		Alias: (*Alias)(l),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	l.ClaimedAmount, err = decimal.NewFromString(aux.ClaimedAmount)
	if err != nil {
		return fmt.Errorf("invalid claimed amount format: %w", err)
	}

	l.ClaimedDate, err = ParseCalendarDate(aux.ClaimedDate)
	if err != nil {
		return fmt.Errorf("invalid claimed date format: %w", err)
	}

	return nil
}

// CandidateRecord is a known internal record eligible for matching: an
// invoice, credit note, or payment. The amount is signed: positive for
// invoice/debit, negative for credit/payment. The engine never mutates a
// candidate record; status changes belong to the external system of record.
type CandidateRecord struct {
	RecordID          string          `json:"record_id"`
	DocumentReference string          `json:"document_reference"`
	RecordDate        time.Time       `json:"record_date"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Status            RecordStatus    `json:"status"`
	CounterpartyID    string          `json:"counterparty_id"`
}

// Validate performs basic validation on the CandidateRecord
func (r *CandidateRecord) Validate() error {
	if strings.TrimSpace(r.RecordID) == "" {
		return fmt.Errorf("candidate record ID cannot be empty")
	}

	if strings.TrimSpace(r.DocumentReference) == "" {
		return fmt.Errorf("candidate record %s: document reference cannot be empty", r.RecordID)
	}

	if strings.TrimSpace(r.Currency) == "" {
		return fmt.Errorf("candidate record %s: currency cannot be empty", r.RecordID)
	}

	if !r.Status.IsValid() {
		return fmt.Errorf("candidate record %s: invalid status %q", r.RecordID, r.Status)
	}

	if r.RecordDate.IsZero() {
		return fmt.Errorf("candidate record %s: record date cannot be zero", r.RecordID)
	}

	return nil
}

// IsOpen reports whether the record is still eligible for matching
func (r *CandidateRecord) IsOpen() bool {
	return r.Status == RecordStatusOpen
}

// String returns a string representation of the CandidateRecord
func (r *CandidateRecord) String() string {
	return fmt.Sprintf("CandidateRecord{ID: %s, Ref: %s, Amount: %s %s, Status: %s}",
		r.RecordID, r.DocumentReference, r.Amount.StringFixed(2), r.Currency, r.Status)
}

// MarshalJSON implements custom JSON marshaling for CandidateRecord
func (r *CandidateRecord) MarshalJSON() ([]byte, error) {
	type Alias CandidateRecord
	return json.Marshal(&struct {
		RecordDate string `json:"record_date"`
		Amount     string `json:"amount"`
		*Alias
	}{
		RecordDate: r.RecordDate.Format("2006-01-02"),
		Amount:     r.Amount.StringFixed(2),
		Alias:      (*Alias)(r),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for CandidateRecord
func (r *CandidateRecord) UnmarshalJSON(data []byte) error {
	type Alias CandidateRecord
	aux := &struct {
		RecordDate string `json:"record_date"`
		Amount     string `json:"amount"`
		*Alias
	}{
		Alias: (*Alias)(r),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	r.Amount, err = decimal.NewFromString(aux.Amount)
	if err != nil {
		return fmt.Errorf("invalid amount format: %w", err)
	}

	r.RecordDate, err = ParseCalendarDate(aux.RecordDate)
	if err != nil {
		return fmt.Errorf("invalid record date format: %w", err)
	}

	return nil
}

// Match links a statement line to one or more candidate records. RecordIDs
// has length 1 except for partial-settlement matches. PassNumber is 1..5
// for cascade matches and PassManual for human proposals. A match flagged
// RequiresReview came out of an ambiguous pass and is never auto-confirmed.
type Match struct {
	MatchID        string          `json:"match_id"`
	LineID         string          `json:"line_id"`
	RecordIDs      []string        `json:"record_ids"`
	PassNumber     int             `json:"pass_number"`
	Confidence     int             `json:"confidence_score"`
	IsExact        bool            `json:"is_exact"`
	RequiresReview bool            `json:"requires_review"`
	VarianceAmount decimal.Decimal `json:"variance_amount"`
	Status         MatchStatus     `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewMatch creates a new proposed Match
func NewMatch(lineID string, recordIDs []string, passNumber int, confidence int, variance decimal.Decimal) *Match {
	return &Match{
		MatchID:        uuid.NewString(),
		LineID:         lineID,
		RecordIDs:      recordIDs,
		PassNumber:     passNumber,
		Confidence:     confidence,
		IsExact:        variance.IsZero(),
		VarianceAmount: variance,
		Status:         MatchStatusProposed,
		CreatedAt:      time.Now().UTC(),
	}
}

// IsActive reports whether the match counts against the
// at-most-one-confirmed invariant
func (m *Match) IsActive() bool {
	return m.Status == MatchStatusConfirmed
}

// String returns a string representation of the Match
func (m *Match) String() string {
	return fmt.Sprintf("Match{ID: %s, Line: %s, Records: %v, Pass: %d, Confidence: %d, Status: %s}",
		m.MatchID, m.LineID, m.RecordIDs, m.PassNumber, m.Confidence, m.Status)
}

// Discrepancy is a tracked variance or unmatched condition requiring
// resolution. Discrepancies are never deleted; resolved and waived states
// preserve history.
type Discrepancy struct {
	DiscrepancyID    string            `json:"discrepancy_id"`
	LineID           string            `json:"line_id"`
	Kind             DiscrepancyKind   `json:"kind"`
	Amount           decimal.Decimal   `json:"amount"`
	Status           DiscrepancyStatus `json:"status"`
	ResolutionReason string            `json:"resolution_reason,omitempty"`
	ResolvedBy       string            `json:"resolved_by,omitempty"`
	ResolvedAt       time.Time         `json:"resolved_at,omitempty"`
	Note             string            `json:"note,omitempty"`
}

// NewDiscrepancy creates a new open Discrepancy
func NewDiscrepancy(lineID string, kind DiscrepancyKind, amount decimal.Decimal) *Discrepancy {
	return &Discrepancy{
		DiscrepancyID: uuid.NewString(),
		LineID:        lineID,
		Kind:          kind,
		Amount:        amount,
		Status:        DiscrepancyOpen,
	}
}

// IsOpen reports whether the discrepancy still requires resolution
func (d *Discrepancy) IsOpen() bool {
	return d.Status == DiscrepancyOpen
}

// String returns a string representation of the Discrepancy
func (d *Discrepancy) String() string {
	return fmt.Sprintf("Discrepancy{ID: %s, Line: %s, Kind: %s, Amount: %s, Status: %s}",
		d.DiscrepancyID, d.LineID, d.Kind, d.Amount.StringFixed(2), d.Status)
}

// ReconciliationRun is the aggregate over one statement. Sign-off is a
// one-way transition; a signed-off run is immutable and corrections
// require a new run.
type ReconciliationRun struct {
	RunID           string          `json:"run_id"`
	CounterpartyID  string          `json:"counterparty_id"`
	StatementPeriod string          `json:"statement_period"`
	TotalClaimed    decimal.Decimal `json:"total_claimed"`
	TotalMatched    decimal.Decimal `json:"total_matched"`
	NetVariance     decimal.Decimal `json:"net_variance"`
	SignoffStatus   SignoffStatus   `json:"signoff_status"`
	SignedOffBy     string          `json:"signed_off_by,omitempty"`
	SignedOffAt     time.Time       `json:"signed_off_at,omitempty"`
}

// NewReconciliationRun creates a run aggregate for one counterparty statement
func NewReconciliationRun(counterpartyID, statementPeriod string) *ReconciliationRun {
	return &ReconciliationRun{
		RunID:           uuid.NewString(),
		CounterpartyID:  counterpartyID,
		StatementPeriod: statementPeriod,
		TotalClaimed:    decimal.Zero,
		TotalMatched:    decimal.Zero,
		NetVariance:     decimal.Zero,
		SignoffStatus:   SignoffNotReady,
	}
}

// IsSignedOff reports whether the run has been closed
func (r *ReconciliationRun) IsSignedOff() bool {
	return r.SignoffStatus == SignoffSignedOff
}

// ParseCalendarDate parses a calendar date from the formats accepted at the
// engine boundary. Time-of-day and timezone are not significant for
// matching; dates compare by calendar day.
func ParseCalendarDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date string cannot be empty")
	}

	formats := []string{
		"2006-01-02",
		time.RFC3339,
		"2006-01-02 15:04:05",
	}

	var lastErr error
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date %q: %w", s, lastErr)
}
