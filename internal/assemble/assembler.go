// Package assemble validates, deduplicates and bounds the records a session
// extracts.
package assemble

import (
	"strings"
	"time"
)

// Record is one validated legal-filing record. Data holds every resolved
// field by name; ExtractedAt is when the assembler accepted it.
type Record struct {
	Data        map[string]string `json:"data"`
	ExtractedAt time.Time         `json:"extracted_at"`
}

// Outcome classifies what happened to a candidate row. Rejections are
// expected filtering outcomes, not errors; the assembler counts them for run
// metadata.
type Outcome int

const (
	Accepted Outcome = iota
	RejectedMissingRequired
	RejectedDuplicate
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case RejectedMissingRequired:
		return "rejected_missing_required"
	case RejectedDuplicate:
		return "rejected_duplicate"
	default:
		return "unknown"
	}
}

// DefaultIdentityField is the case-number-equivalent field used as the
// per-run dedup key when the caller does not name one.
const DefaultIdentityField = "case_number"

// Assembler accumulates accepted records for a single run.
//
// It is owned exclusively by one session state machine and is not safe for
// concurrent use; per-run isolation is the concurrency model.
type Assembler struct {
	required []string
	identity string
	cap      int // 0 = unbounded

	records []Record
	byKey   map[string]int // normalized identity key -> index into records

	missingCount int
	dupCount     int

	// now is injected for deterministic tests. Production uses time.Now.
	now func() time.Time
}

// New constructs an Assembler.
//
// required lists the field names every accepted record must carry non-empty.
// identityField defaults to DefaultIdentityField when empty. cap is the
// effective record limit; 0 means unbounded.
func New(required []string, identityField string, cap int) *Assembler {
	if identityField == "" {
		identityField = DefaultIdentityField
	}
	return &Assembler{
		required: required,
		identity: identityField,
		cap:      cap,
		byKey:    make(map[string]int),
		now:      time.Now,
	}
}

// Accept judges one candidate row.
//
// Order of evaluation:
//  1. Duplicate identity key: the candidate is rejected, but any field the
//     already-accepted record is missing and the candidate supplies is
//     merged in (fill-missing-on-duplicate). First accepted values are
//     otherwise retained. A duplicate never grows the accepted count.
//  2. Required fields: any required name mapping to an empty value rejects
//     the candidate.
//  3. Otherwise the candidate is appended in extraction order.
func (a *Assembler) Accept(candidate map[string]string) Outcome {
	key := NormalizeKey(candidate[a.identity])

	if key != "" {
		if idx, ok := a.byKey[key]; ok {
			a.mergeMissing(idx, candidate)
			a.dupCount++
			return RejectedDuplicate
		}
	}

	for _, name := range a.required {
		if strings.TrimSpace(candidate[name]) == "" {
			a.missingCount++
			return RejectedMissingRequired
		}
	}

	data := make(map[string]string, len(candidate))
	for k, v := range candidate {
		data[k] = v
	}
	a.records = append(a.records, Record{Data: data, ExtractedAt: a.now()})
	if key != "" {
		a.byKey[key] = len(a.records) - 1
	}
	return Accepted
}

// mergeMissing copies candidate values into the accepted record at idx, but
// only for fields the accepted record does not already carry non-empty.
func (a *Assembler) mergeMissing(idx int, candidate map[string]string) {
	data := a.records[idx].Data
	for k, v := range candidate {
		if v == "" {
			continue
		}
		if strings.TrimSpace(data[k]) == "" {
			data[k] = v
		}
	}
}

// Done reports whether the accepted count has reached the record cap. The
// session checks this after every page (and mid-page after each acceptance)
// as its primary stop condition.
func (a *Assembler) Done() bool {
	return a.cap > 0 && len(a.records) >= a.cap
}

// Records returns the accepted records in acceptance order.
func (a *Assembler) Records() []Record { return a.records }

// Counts returns (accepted, rejected-missing-required, rejected-duplicate).
func (a *Assembler) Counts() (accepted, missing, dups int) {
	return len(a.records), a.missingCount, a.dupCount
}

// NormalizeKey canonicalizes an identity value for dedup comparison: outer
// whitespace trimmed, inner runs collapsed, case folded. Sites render the
// same case number with inconsistent spacing and casing across pages.
func NormalizeKey(v string) string {
	return strings.ToUpper(strings.Join(strings.Fields(v), " "))
}
