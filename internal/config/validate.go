package config

import "fmt"

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path points at the offending part of the
// config using a dotted notation (e.g. "field_mappings[2].selectors").
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

// Error is a fatal configuration error. It is raised before a run starts,
// never at run time.
type Error struct {
	Site   string
	Reason string
}

func (e *Error) Error() string {
	if e.Site == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config %q: %s", e.Site, e.Reason)
}

// Validate checks a SiteConfig and returns every issue found.
//
// Error-severity issues make the config unusable; the factory refuses to
// construct a session from it. Warnings flag likely onboarding gaps (e.g. an
// empty search-field map) that the engine tolerates at run time.
func Validate(c *SiteConfig) []Issue {
	var issues []Issue

	errf := func(path, format string, args ...any) {
		issues = append(issues, Issue{SeverityError, path, fmt.Sprintf(format, args...)})
	}
	warnf := func(path, format string, args ...any) {
		issues = append(issues, Issue{SeverityWarning, path, fmt.Sprintf(format, args...)})
	}

	if c.Name == "" {
		errf("name", "site name is required")
	}
	if c.BaseURL == "" {
		errf("base_url", "base_url is required")
	}

	switch c.ScraperKind {
	case KindStaticHTML:
		// search_config is meaningless here but not harmful.
		if c.SearchConfig != nil {
			warnf("search_config", "ignored for scraper_kind=static_html")
		}
	case KindSearchForm, KindAuthenticated:
		if c.SearchConfig == nil {
			errf("search_config", "required for scraper_kind=%s", c.ScraperKind)
		}
	case "":
		errf("scraper_kind", "scraper_kind is required")
	default:
		errf("scraper_kind", "unknown scraper_kind %q", c.ScraperKind)
	}

	if c.ScraperKind == KindAuthenticated {
		if c.LoginConfig == nil {
			errf("login_config", "required for scraper_kind=authenticated")
		} else {
			if c.LoginConfig.LoginURL == "" {
				errf("login_config.login_url", "login_url is required")
			}
			if c.LoginConfig.UsernameLocator == "" || c.LoginConfig.PasswordLocator == "" {
				errf("login_config", "username_locator and password_locator are required")
			}
		}
	}

	if c.SearchConfig != nil && c.ScraperKind != KindStaticHTML {
		if c.SearchConfig.ResultsContainerLocator == "" {
			errf("search_config.results_container_locator", "results_container_locator is required")
		}
		if len(c.SearchConfig.Fields) == 0 {
			warnf("search_config.fields", "no search fields mapped; task parameters will be ignored")
		}
	}

	if len(c.FieldMappings) == 0 {
		errf("field_mappings", "at least one field mapping is required")
	}
	seen := make(map[string]bool, len(c.FieldMappings))
	for i, m := range c.FieldMappings {
		path := fmt.Sprintf("field_mappings[%d]", i)
		if m.FieldName == "" {
			errf(path+".field_name", "field_name is required")
		}
		if seen[m.FieldName] {
			errf(path+".field_name", "duplicate field_name %q", m.FieldName)
		}
		seen[m.FieldName] = true
		if len(m.Selectors) == 0 {
			errf(path+".selectors", "selectors must be non-empty")
		}
		for j, s := range m.Selectors {
			if s.Locator == "" {
				errf(fmt.Sprintf("%s.selectors[%d].locator", path, j), "locator is required")
			}
		}
	}

	for i, name := range c.RequiredFields {
		if c.Mapping(name) == nil {
			errf(fmt.Sprintf("required_fields[%d]", i),
				"required field %q has no field mapping", name)
		}
	}

	if c.PaginationConfig != nil {
		switch c.PaginationConfig.Kind {
		case PaginationNone:
		case PaginationNextPrevious, PaginationNumbered:
			if c.PaginationConfig.NextButtonLocator == "" {
				errf("pagination_config.next_button_locator",
					"required for pagination kind %q", c.PaginationConfig.Kind)
			}
			if c.PaginationConfig.MaxPages <= 0 {
				warnf("pagination_config.max_pages",
					"max_pages is not set; defaulting to a single page")
			}
		default:
			errf("pagination_config.kind", "unknown pagination kind %q", c.PaginationConfig.Kind)
		}
	}

	if c.RequestTimeoutSeconds < 0 {
		errf("request_timeout_seconds", "must be >= 0")
	}
	if c.DelayBetweenRequestsSeconds < 0 {
		errf("delay_between_requests_seconds", "must be >= 0")
	}
	if c.MaxRecords < 0 {
		errf("max_records", "must be >= 0")
	}

	return issues
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}
