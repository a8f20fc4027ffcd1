package matcher

import (
	"fmt"
	"sort"
	"sync"

	"statement-reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
)

// CandidateIndex provides fast lookup over the candidate records eligible
// for matching in one reconciliation run. It is built once per run from the
// counterparty's full record snapshot; only records in open status are
// indexed for matching, while settled and voided records remain reachable
// through Get for audit lookups.
//
// Consumption is serialized through the index: a record claimed by a
// confirmed match is excluded from every later lookup until released. Two
// lines racing for the same record are resolved by the single writer lock.
type CandidateIndex struct {
	mu sync.RWMutex

	// exactIndex maps reference|currency|amount keys to open records
	exactIndex map[string][]*models.CandidateRecord

	// normalizedIndex maps normalized-reference|currency keys to open records
	normalizedIndex map[string][]*models.CandidateRecord

	// all holds every supplied record by ID, including settled and voided
	all map[string]*models.CandidateRecord

	// consumed marks records claimed by confirmed matches this run
	consumed map[string]bool
}

// NewCandidateIndex builds an index from a candidate record snapshot.
// Building is idempotent: the same snapshot always yields the same index.
func NewCandidateIndex(records []*models.CandidateRecord) *CandidateIndex {
	idx := &CandidateIndex{}
	idx.rebuild(records)
	return idx
}

// Rebuild replaces the index contents from a fresh snapshot. Consumption
// state is reset; callers rebuilding mid-run must re-consume confirmed
// records via Consume.
func (idx *CandidateIndex) Rebuild(records []*models.CandidateRecord) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.rebuild(records)
}

func (idx *CandidateIndex) rebuild(records []*models.CandidateRecord) {
	idx.exactIndex = make(map[string][]*models.CandidateRecord)
	idx.normalizedIndex = make(map[string][]*models.CandidateRecord)
	idx.all = make(map[string]*models.CandidateRecord, len(records))
	idx.consumed = make(map[string]bool)

	for _, rec := range records {
		idx.all[rec.RecordID] = rec

		if !rec.IsOpen() {
			continue
		}

		exactKey := exactLookupKey(rec.DocumentReference, rec.Currency, rec.Amount)
		idx.exactIndex[exactKey] = append(idx.exactIndex[exactKey], rec)

		normKey := normalizedLookupKey(NormalizeReference(rec.DocumentReference), rec.Currency)
		idx.normalizedIndex[normKey] = append(idx.normalizedIndex[normKey], rec)
	}

	// Deterministic lookup order regardless of snapshot order
	for _, recs := range idx.exactIndex {
		sortByRecordID(recs)
	}
	for _, recs := range idx.normalizedIndex {
		sortByRecordID(recs)
	}
}

// LookupExact returns open, unconsumed records whose raw document reference,
// currency, and amount all match, ordered by record ID.
func (idx *CandidateIndex) LookupExact(documentReference, currency string, amount decimal.Decimal) []*models.CandidateRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.filterConsumed(idx.exactIndex[exactLookupKey(documentReference, currency, amount)])
}

// LookupNormalized returns open, unconsumed records whose normalized
// document reference and currency match, ordered by record ID.
func (idx *CandidateIndex) LookupNormalized(normalizedReference, currency string) []*models.CandidateRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.filterConsumed(idx.normalizedIndex[normalizedLookupKey(normalizedReference, currency)])
}

// HasConsumed reports whether any record under the normalized key has
// already been claimed by a confirmed match this run. The cascade uses this
// to classify an exhausted line as a duplicate claim rather than unmatched.
func (idx *CandidateIndex) HasConsumed(normalizedReference, currency string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for _, rec := range idx.normalizedIndex[normalizedLookupKey(normalizedReference, currency)] {
		if idx.consumed[rec.RecordID] {
			return true
		}
	}
	return false
}

// Get returns a record by ID, including settled and voided records.
func (idx *CandidateIndex) Get(recordID string) (*models.CandidateRecord, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	rec, ok := idx.all[recordID]
	return rec, ok
}

// Consume marks a record as claimed by a confirmed match, excluding it from
// future lookups within the run. Returns an error if the record is unknown
// or already consumed, so racing claimants cannot both win.
func (idx *CandidateIndex) Consume(recordID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.all[recordID]; !ok {
		return fmt.Errorf("unknown candidate record: %s", recordID)
	}

	if idx.consumed[recordID] {
		return fmt.Errorf("candidate record already consumed: %s", recordID)
	}

	idx.consumed[recordID] = true
	return nil
}

// Release returns a consumed record to the eligible pool, used when the
// confirmed match holding it is rejected.
func (idx *CandidateIndex) Release(recordID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	delete(idx.consumed, recordID)
}

// IsConsumed reports whether a record has been claimed this run.
func (idx *CandidateIndex) IsConsumed(recordID string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.consumed[recordID]
}

// Stats returns counts describing the index contents.
func (idx *CandidateIndex) Stats() IndexStats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	open := 0
	for _, rec := range idx.all {
		if rec.IsOpen() {
			open++
		}
	}

	return IndexStats{
		TotalRecords:     len(idx.all),
		OpenRecords:      open,
		ConsumedRecords:  len(idx.consumed),
		UniqueReferences: len(idx.normalizedIndex),
	}
}

// IndexStats provides statistics about index contents
type IndexStats struct {
	TotalRecords     int
	OpenRecords      int
	ConsumedRecords  int
	UniqueReferences int
}

func (idx *CandidateIndex) filterConsumed(recs []*models.CandidateRecord) []*models.CandidateRecord {
	if len(recs) == 0 {
		return nil
	}

	result := make([]*models.CandidateRecord, 0, len(recs))
	for _, rec := range recs {
		if !idx.consumed[rec.RecordID] {
			result = append(result, rec)
		}
	}
	return result
}

func exactLookupKey(documentReference, currency string, amount decimal.Decimal) string {
	return documentReference + "|" + currency + "|" + amount.StringFixed(2)
}

func normalizedLookupKey(normalizedReference, currency string) string {
	return normalizedReference + "|" + currency
}

func sortByRecordID(recs []*models.CandidateRecord) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].RecordID < recs[j].RecordID
	})
}
