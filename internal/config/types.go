package config

// ScraperKind selects the session variant the factory constructs.
type ScraperKind string

const (
	// KindStaticHTML targets sites whose results are served on a fixed page,
	// with no search form to drive.
	KindStaticHTML ScraperKind = "static_html"

	// KindSearchForm targets sites that require filling and submitting a
	// search form before results appear.
	KindSearchForm ScraperKind = "search_form"

	// KindAuthenticated is a search-form site behind a login wall. The login
	// sub-flow consumes externally supplied credentials; they are never part
	// of the site config file.
	KindAuthenticated ScraperKind = "authenticated"
)

// FieldType is a loose classification of an extracted field. The engine does
// not interpret it beyond logging/metrics tags; downstream consumers use it
// for typed parsing.
type FieldType string

const (
	FieldText       FieldType = "text"
	FieldDate       FieldType = "date"
	FieldCaseNumber FieldType = "case_number"
	FieldAddress    FieldType = "address"
	FieldDocType    FieldType = "document_type"
)

// SelectorSpec is one locator plus the attribute to read from the matched
// element.
//
// Attribute semantics:
//   - "" or "text": the element's text content, trimmed and
//     whitespace-collapsed.
//   - anything else: the named DOM attribute (e.g. "href", "title").
type SelectorSpec struct {
	Locator   string `json:"locator"`
	Attribute string `json:"attribute,omitempty"`
}

// FieldMapping describes how to extract one named output field from a result
// row.
//
// Selectors are tried in order; the first non-empty result wins and later
// selectors are never evaluated. When RequiresOCR is set, the first selector
// is expected to yield a URL to a linked document/image and the field value
// comes from the OCR address pipeline instead of literal node text.
type FieldMapping struct {
	FieldName   string         `json:"field_name"`
	FieldType   FieldType      `json:"field_type,omitempty"`
	Selectors   []SelectorSpec `json:"selectors"`
	RequiresOCR bool           `json:"requires_ocr,omitempty"`
}

// SearchConfig describes the site's search form.
//
// Fields maps logical task-parameter names (e.g. "date_from", "date_to",
// "search_term") to form-field locators. Task parameters with no matching
// logical name here are ignored; partial maps are expected while a new
// jurisdiction is being onboarded.
type SearchConfig struct {
	// SearchURL, when set, is opened instead of the site BaseURL.
	SearchURL string `json:"search_url,omitempty"`

	FormLocator             string            `json:"form_locator,omitempty"`
	Fields                  map[string]string `json:"fields"`
	SubmitLocator           string            `json:"submit_locator,omitempty"`
	ResultsContainerLocator string            `json:"results_container_locator"`

	// RowLocator selects result rows inside the results container. When
	// empty, the engine falls back to the striped-table pair
	// "tr.odd, tr.even" and then to "tbody tr".
	RowLocator string `json:"row_locator,omitempty"`
}

// PaginationKind names the mechanism for advancing between result pages.
type PaginationKind string

const (
	PaginationNone         PaginationKind = "none"
	PaginationNextPrevious PaginationKind = "next_previous"
	PaginationNumbered     PaginationKind = "numbered"
)

// PaginationConfig bounds and drives the pagination loop. A nil
// PaginationConfig on SiteConfig means a single-page run.
type PaginationConfig struct {
	Kind              PaginationKind `json:"kind"`
	NextButtonLocator string         `json:"next_button_locator,omitempty"`
	MaxPages          int            `json:"max_pages,omitempty"`
}

// LoginConfig describes the login sub-flow for authenticated sites.
// Credentials themselves are injected at run time, never stored here.
type LoginConfig struct {
	LoginURL        string `json:"login_url"`
	UsernameLocator string `json:"username_locator"`
	PasswordLocator string `json:"password_locator"`
	SubmitLocator   string `json:"submit_locator"`

	// SuccessLocator, when set, must appear after login for the sub-flow to
	// be considered successful.
	SuccessLocator string `json:"success_locator,omitempty"`
}

// CurrentSchemaVersion is the only schema_version the loader accepts.
const CurrentSchemaVersion = 1

// SiteConfig is the immutable descriptor of one target site: its search
// form, pagination strategy and field layout. It is constructed from a
// persisted definition at run start, never mutated during a run, and safe to
// share read-only across concurrent runs.
type SiteConfig struct {
	SchemaVersion int `json:"schema_version"`

	Name         string      `json:"name"`
	Jurisdiction string      `json:"jurisdiction"`
	BaseURL      string      `json:"base_url"`
	ScraperKind  ScraperKind `json:"scraper_kind"`

	Headless                    bool    `json:"headless"`
	RequestTimeoutSeconds       int     `json:"request_timeout_seconds"`
	DelayBetweenRequestsSeconds float64 `json:"delay_between_requests_seconds"`

	RequiredFields []string `json:"required_fields"`
	MaxRecords     int      `json:"max_records"`

	FieldMappings []FieldMapping `json:"field_mappings"`

	SearchConfig     *SearchConfig     `json:"search_config,omitempty"`
	PaginationConfig *PaginationConfig `json:"pagination_config,omitempty"`
	LoginConfig      *LoginConfig      `json:"login_config,omitempty"`
}

// Mapping returns the field mapping for name, or nil if the config does not
// extract that field.
func (c *SiteConfig) Mapping(name string) *FieldMapping {
	for i := range c.FieldMappings {
		if c.FieldMappings[i].FieldName == name {
			return &c.FieldMappings[i]
		}
	}
	return nil
}

// NeedsOCR reports whether any configured field escalates to the OCR
// pipeline. The factory uses this to fail fast when no recognizer was
// injected.
func (c *SiteConfig) NeedsOCR() bool {
	for _, m := range c.FieldMappings {
		if m.RequiresOCR {
			return true
		}
	}
	return false
}
