package session

import "lienharvest/internal/assemble"

// TaskParams are the run inputs: the values to push into the search form and
// the record bounds for this run. Task parameters tighten the config's
// limits, never loosen them.
type TaskParams struct {
	DateFrom    string   `json:"date_from,omitempty"`
	DateTo      string   `json:"date_to,omitempty"`
	SearchTerms []string `json:"search_terms,omitempty"`

	// TargetCount is the number of records the caller wants; 0 means "as
	// many as the site yields within max_records".
	TargetCount int `json:"target_count,omitempty"`

	// MaxRecords overrides the config cap downward when smaller; 0 defers
	// to the config.
	MaxRecords int `json:"max_records,omitempty"`
}

// Logical search-field names TaskParams values are mapped through. A site
// config only binds the names its form actually has; unbound names are
// skipped, which is expected while a jurisdiction is being onboarded.
const (
	FieldDateFrom   = "date_from"
	FieldDateTo     = "date_to"
	FieldSearchTerm = "search_term"
)

// ScrapeResult is the terminal artifact of one run, immutable once returned.
//
// Success is reserved for runs that reached DONE. A failed run still carries
// every record assembled up to the failure, so the caller can decide whether
// a partial result is usable. Fewer records than requested due to natural
// exhaustion is success, not failure.
type ScrapeResult struct {
	Success bool   `json:"success"`
	RunID   string `json:"run_id"`
	Site    string `json:"site"`

	Records           []assemble.Record `json:"records"`
	TotalPagesScraped int               `json:"total_pages_scraped"`

	ErrorMessage string `json:"error_message,omitempty"`

	RejectedMissingRequired int `json:"rejected_missing_required"`
	RejectedDuplicates      int `json:"rejected_duplicates"`
}
