package session

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"lienharvest/internal/config"
	"lienharvest/internal/extract"
	"lienharvest/internal/page/pagetest"
)

const baseURL = "https://records.test/search"

func searchFormCfg() *config.SiteConfig {
	return &config.SiteConfig{
		SchemaVersion:  config.CurrentSchemaVersion,
		Name:           "test-county",
		BaseURL:        baseURL,
		ScraperKind:    config.KindSearchForm,
		RequiredFields: []string{"case_number", "file_date", "document_type"},
		FieldMappings: []config.FieldMapping{
			{FieldName: "case_number", Selectors: []config.SelectorSpec{{Locator: "td.case"}}},
			{FieldName: "file_date", Selectors: []config.SelectorSpec{{Locator: "td.date"}}},
			{FieldName: "document_type", Selectors: []config.SelectorSpec{{Locator: "td.doc"}}},
			{FieldName: "grantor", Selectors: []config.SelectorSpec{{Locator: "td.grantor"}}},
		},
		SearchConfig: &config.SearchConfig{
			Fields: map[string]string{
				FieldDateFrom:   "#from",
				FieldDateTo:     "#to",
				FieldSearchTerm: "#search",
			},
			SubmitLocator:           "#go",
			ResultsContainerLocator: "#results",
			RowLocator:              "tr.row",
		},
		PaginationConfig: &config.PaginationConfig{
			Kind:              config.PaginationNextPrevious,
			NextButtonLocator: "a.next",
			MaxPages:          5,
		},
	}
}

const searchFormHTML = `<html><body><form>
  <input id="from"><input id="to"><input id="search">
  <button id="go">Search</button>
</form></body></html>`

func row(caseNo, date, doc, grantor string) string {
	return `<tr class="row"><td class="case">` + caseNo + `</td><td class="date">` + date +
		`</td><td class="doc">` + doc + `</td><td class="grantor">` + grantor + `</td></tr>`
}

// resultsDoc builds one results page; nextHref empty means no next control.
func resultsDoc(nextHref string, rows ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="results"><table><tbody>`)
	for _, r := range rows {
		b.WriteString(r)
	}
	b.WriteString(`</tbody></table></div>`)
	if nextHref != "" {
		b.WriteString(`<a class="next" href="` + nextHref + `">Next</a>`)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

// uniqueRows builds n complete rows with case numbers prefix-0..prefix-n-1.
func uniqueRows(prefix string, n int) []string {
	rows := make([]string, n)
	for i := range rows {
		rows[i] = row(fmt.Sprintf("%s-%d", prefix, i), "2024-05-01", "LIEN", "ACME")
	}
	return rows
}

func newFake(cfg *config.SiteConfig) *pagetest.Fake {
	f := pagetest.New()
	f.Docs[cfg.BaseURL] = searchFormHTML
	f.Clicks[cfg.BaseURL+"|#go"] = "page1"
	return f
}

func newTestSession(cfg *config.SiteConfig, f *pagetest.Fake) *Session {
	return New(Params{
		Config:   cfg,
		Page:     f,
		Resolver: extract.NewResolver(nil, nil),
		RunID:    "run-test",
	})
}

// TestRun_TargetCountStopsPagination: with a target of 10, four rows per page
// and a five-page budget, the run stops after the third page with exactly 10
// records even though more pages are available.
func TestRun_TargetCountStopsPagination(t *testing.T) {
	t.Parallel()

	cfg := searchFormCfg()
	f := newFake(cfg)
	f.Docs["page1"] = resultsDoc("page2", uniqueRows("A", 4)...)
	f.Docs["page2"] = resultsDoc("page3", uniqueRows("B", 4)...)
	f.Docs["page3"] = resultsDoc("page4", uniqueRows("C", 4)...)
	f.Docs["page4"] = resultsDoc("page5", uniqueRows("D", 4)...)

	s := newTestSession(cfg, f)
	res := s.Run(context.Background(), TaskParams{TargetCount: 10})

	if !res.Success {
		t.Fatalf("run failed: %s", res.ErrorMessage)
	}
	if len(res.Records) != 10 {
		t.Fatalf("records = %d, want 10", len(res.Records))
	}
	if res.TotalPagesScraped != 3 {
		t.Fatalf("pages = %d, want 3", res.TotalPagesScraped)
	}
	if s.State() != StateDone {
		t.Fatalf("final state = %s, want %s", s.State(), StateDone)
	}
	// The 11th and 12th rows of page 3 were never assembled.
	if got := res.Records[9].Data["case_number"]; got != "C-1" {
		t.Fatalf("10th record = %q, want C-1", got)
	}
}

// TestRun_PageBudgetBoundsLoop: every page advertises a next control, so only
// max_pages keeps the loop finite.
func TestRun_PageBudgetBoundsLoop(t *testing.T) {
	t.Parallel()

	cfg := searchFormCfg()
	cfg.PaginationConfig.MaxPages = 3
	f := newFake(cfg)
	for i := 1; i <= 10; i++ {
		f.Docs[fmt.Sprintf("page%d", i)] = resultsDoc(fmt.Sprintf("page%d", i+1),
			uniqueRows(fmt.Sprintf("P%d", i), 4)...)
	}

	s := newTestSession(cfg, f)
	res := s.Run(context.Background(), TaskParams{})

	if !res.Success {
		t.Fatalf("run failed: %s", res.ErrorMessage)
	}
	if res.TotalPagesScraped != 3 {
		t.Fatalf("pages = %d, want 3", res.TotalPagesScraped)
	}
	if len(res.Records) != 12 {
		t.Fatalf("records = %d, want 12", len(res.Records))
	}
}

// TestRun_NaturalExhaustion: no next control means a clean single-page run.
func TestRun_NaturalExhaustion(t *testing.T) {
	t.Parallel()

	cfg := searchFormCfg()
	f := newFake(cfg)
	f.Docs["page1"] = resultsDoc("", uniqueRows("A", 3)...)

	s := newTestSession(cfg, f)
	res := s.Run(context.Background(), TaskParams{})

	if !res.Success || res.TotalPagesScraped != 1 || len(res.Records) != 3 {
		t.Fatalf("result = %+v", res)
	}
}

// TestRun_RequiredFieldRejection: a row missing a required field is dropped
// and counted, never assembled.
func TestRun_RequiredFieldRejection(t *testing.T) {
	t.Parallel()

	cfg := searchFormCfg()
	f := newFake(cfg)
	f.Docs["page1"] = resultsDoc("",
		row("R-1", "2024-05-01", "LIEN", ""),
		row("R-2", "2024-05-02", "", ""), // no document_type
		row("R-3", "2024-05-03", "JUDGMENT", ""),
	)

	res := newTestSession(cfg, f).Run(context.Background(), TaskParams{})

	if !res.Success {
		t.Fatalf("run failed: %s", res.ErrorMessage)
	}
	if len(res.Records) != 2 || res.RejectedMissingRequired != 1 {
		t.Fatalf("records = %d, rejected = %d", len(res.Records), res.RejectedMissingRequired)
	}
}

// TestRun_CrossPageDuplicateMerge: the same case number seen on a later page
// is rejected as a duplicate, but fields the first occurrence lacked are
// filled from the newcomer.
func TestRun_CrossPageDuplicateMerge(t *testing.T) {
	t.Parallel()

	cfg := searchFormCfg()
	cfg.PaginationConfig.MaxPages = 2
	f := newFake(cfg)
	f.Docs["page1"] = resultsDoc("page2",
		row("X-1", "2024-05-01", "LIEN", ""), // grantor missing here
	)
	f.Docs["page2"] = resultsDoc("",
		row("X-1", "2024-05-01", "RELEASE", "ACME LLC"), // duplicate of X-1
		row("X-2", "2024-05-02", "LIEN", "BETA INC"),
	)

	res := newTestSession(cfg, f).Run(context.Background(), TaskParams{})

	if !res.Success {
		t.Fatalf("run failed: %s", res.ErrorMessage)
	}
	if len(res.Records) != 2 || res.RejectedDuplicates != 1 {
		t.Fatalf("records = %d, duplicates = %d", len(res.Records), res.RejectedDuplicates)
	}
	first := res.Records[0].Data
	if first["document_type"] != "LIEN" {
		t.Fatalf("duplicate overwrote document_type: %q", first["document_type"])
	}
	if first["grantor"] != "ACME LLC" {
		t.Fatalf("grantor not filled from duplicate: %q", first["grantor"])
	}
}

// TestRun_FormFill verifies task parameters land in the bound form fields and
// multiple search terms are joined.
func TestRun_FormFill(t *testing.T) {
	t.Parallel()

	cfg := searchFormCfg()
	f := newFake(cfg)
	f.Docs["page1"] = resultsDoc("", uniqueRows("A", 1)...)

	task := TaskParams{
		DateFrom:    "2024-01-01",
		DateTo:      "2024-06-30",
		SearchTerms: []string{"smith", "jones"},
	}
	res := newTestSession(cfg, f).Run(context.Background(), task)

	if !res.Success {
		t.Fatalf("run failed: %s", res.ErrorMessage)
	}
	if f.Filled["#from"] != "2024-01-01" || f.Filled["#to"] != "2024-06-30" {
		t.Fatalf("date fields = %v", f.Filled)
	}
	if f.Filled["#search"] != "smith jones" {
		t.Fatalf("search field = %q", f.Filled["#search"])
	}
}

// TestRun_UnboundParameterSkipped: a task parameter with no field binding is
// ignored rather than failing the run.
func TestRun_UnboundParameterSkipped(t *testing.T) {
	t.Parallel()

	cfg := searchFormCfg()
	delete(cfg.SearchConfig.Fields, FieldSearchTerm)
	f := newFake(cfg)
	f.Docs["page1"] = resultsDoc("", uniqueRows("A", 1)...)

	res := newTestSession(cfg, f).Run(context.Background(), TaskParams{SearchTerms: []string{"smith"}})
	if !res.Success {
		t.Fatalf("run failed: %s", res.ErrorMessage)
	}
	if _, ok := f.Filled["#search"]; ok {
		t.Fatal("unbound parameter was filled")
	}
}

// TestRun_NavigationRetry: transient navigation failures within the retry
// budget do not fail the run; one past the budget does.
func TestRun_NavigationRetry(t *testing.T) {
	t.Parallel()

	cfg := searchFormCfg()
	f := newFake(cfg)
	f.Docs["page1"] = resultsDoc("", uniqueRows("A", 2)...)
	f.GotoFailures[baseURL] = 2 // attempts 1 and 2 fail, attempt 3 succeeds

	res := newTestSession(cfg, f).Run(context.Background(), TaskParams{})
	if !res.Success {
		t.Fatalf("run failed despite retries: %s", res.ErrorMessage)
	}

	f2 := newFake(cfg)
	f2.Docs["page1"] = resultsDoc("", uniqueRows("A", 2)...)
	f2.GotoFailures[baseURL] = 3 // exhausts the budget

	s := newTestSession(cfg, f2)
	res = s.Run(context.Background(), TaskParams{})
	if res.Success {
		t.Fatal("run succeeded past the retry budget")
	}
	if !strings.Contains(res.ErrorMessage, "navigation") {
		t.Fatalf("error = %q", res.ErrorMessage)
	}
	if s.State() != StateFailed {
		t.Fatalf("final state = %s, want %s", s.State(), StateFailed)
	}
}

// TestRun_SubmitClickRetry: a flaky submit control is retried.
func TestRun_SubmitClickRetry(t *testing.T) {
	t.Parallel()

	cfg := searchFormCfg()
	f := newFake(cfg)
	f.Docs["page1"] = resultsDoc("", uniqueRows("A", 2)...)
	f.ClickFailures[baseURL+"|#go"] = 1

	res := newTestSession(cfg, f).Run(context.Background(), TaskParams{})
	if !res.Success {
		t.Fatalf("run failed: %s", res.ErrorMessage)
	}
}

// TestRun_FailurePreservesPartialRecords: losing the results container after
// pagination fails the run, but page-one records survive in the result.
func TestRun_FailurePreservesPartialRecords(t *testing.T) {
	t.Parallel()

	cfg := searchFormCfg()
	f := newFake(cfg)
	f.Docs["page1"] = resultsDoc("page2", uniqueRows("A", 4)...)
	f.Docs["page2"] = `<html><body><p>Session expired. Please search again.</p></body></html>`

	s := newTestSession(cfg, f)
	res := s.Run(context.Background(), TaskParams{})

	if res.Success {
		t.Fatal("run succeeded without a results container")
	}
	if !strings.Contains(res.ErrorMessage, "wait for results after paginate") {
		t.Fatalf("error = %q", res.ErrorMessage)
	}
	if len(res.Records) != 4 || res.TotalPagesScraped != 1 {
		t.Fatalf("partials lost: records = %d, pages = %d", len(res.Records), res.TotalPagesScraped)
	}
	if s.State() != StateFailed {
		t.Fatalf("final state = %s, want %s", s.State(), StateFailed)
	}
}

// TestRun_CancellationIsCooperative: a cancellation during the inter-request
// delay is observed at the next transition boundary, failing the run while
// keeping already-assembled records.
func TestRun_CancellationIsCooperative(t *testing.T) {
	t.Parallel()

	cfg := searchFormCfg()
	f := newFake(cfg)
	f.Docs["page1"] = resultsDoc("page2", uniqueRows("A", 4)...)
	f.Docs["page2"] = resultsDoc("", uniqueRows("B", 4)...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newTestSession(cfg, f)
	s.jitter = func(float64) time.Duration { return time.Millisecond }
	sleeps := 0
	s.sleep = func(ctx context.Context, _ time.Duration) error {
		sleeps++
		if sleeps == 2 { // first delay precedes submit, second precedes pagination
			cancel()
		}
		return ctx.Err()
	}

	res := s.Run(ctx, TaskParams{})

	if res.Success {
		t.Fatal("run succeeded after cancellation")
	}
	if !strings.Contains(res.ErrorMessage, "context canceled") {
		t.Fatalf("error = %q", res.ErrorMessage)
	}
	if len(res.Records) != 4 {
		t.Fatalf("partials lost on cancellation: %d records", len(res.Records))
	}
	if s.State() != StateFailed {
		t.Fatalf("final state = %s, want %s", s.State(), StateFailed)
	}
}

// TestRun_StaticSite: static_html kind skips form fill and submit, and row
// enumeration falls back to the striped-table locator pair.
func TestRun_StaticSite(t *testing.T) {
	t.Parallel()

	cfg := &config.SiteConfig{
		SchemaVersion:  config.CurrentSchemaVersion,
		Name:           "static-register",
		BaseURL:        "https://static.test/liens",
		ScraperKind:    config.KindStaticHTML,
		RequiredFields: []string{"case_number"},
		FieldMappings: []config.FieldMapping{
			{FieldName: "case_number", Selectors: []config.SelectorSpec{{Locator: "td.case"}}},
		},
	}
	f := pagetest.New()
	f.Docs[cfg.BaseURL] = `<html><body><table><tbody>
	  <tr class="odd"><td class="case">S-1</td></tr>
	  <tr class="even"><td class="case">S-2</td></tr>
	</tbody></table></body></html>`

	res := newTestSession(cfg, f).Run(context.Background(), TaskParams{})

	if !res.Success {
		t.Fatalf("run failed: %s", res.ErrorMessage)
	}
	if len(res.Records) != 2 || res.TotalPagesScraped != 1 {
		t.Fatalf("records = %d, pages = %d", len(res.Records), res.TotalPagesScraped)
	}
	if len(f.FillLog) != 0 {
		t.Fatalf("static run filled form fields: %v", f.FillLog)
	}
}

// TestRows_FallbackToTbodyRows: with no striped classes, plain tbody rows are
// enumerated.
func TestRows_FallbackToTbodyRows(t *testing.T) {
	t.Parallel()

	cfg := &config.SiteConfig{
		SchemaVersion: config.CurrentSchemaVersion,
		Name:          "plain-table",
		BaseURL:       "https://static.test/liens",
		ScraperKind:   config.KindStaticHTML,
		FieldMappings: []config.FieldMapping{
			{FieldName: "case_number", Selectors: []config.SelectorSpec{{Locator: "td.case"}}},
		},
	}
	f := pagetest.New()
	f.Docs[cfg.BaseURL] = `<html><body><table><tbody>
	  <tr><td class="case">P-1</td></tr>
	  <tr><td class="case">P-2</td></tr>
	  <tr><td class="case">P-3</td></tr>
	</tbody></table></body></html>`

	res := newTestSession(cfg, f).Run(context.Background(), TaskParams{})
	if !res.Success || len(res.Records) != 3 {
		t.Fatalf("result = %+v", res)
	}
}

// TestRows_ConfiguredLocatorMatchingNothingIsEmptyPage: an explicit row
// locator that misses must not fall back to guessing.
func TestRows_ConfiguredLocatorMatchingNothingIsEmptyPage(t *testing.T) {
	t.Parallel()

	cfg := searchFormCfg()
	cfg.SearchConfig.RowLocator = "tr.result-row" // never present
	f := newFake(cfg)
	// Page has tbody rows that the fallback locators would match.
	f.Docs["page1"] = resultsDoc("", `<tr><td class="case">Z-1</td></tr>`)

	res := newTestSession(cfg, f).Run(context.Background(), TaskParams{})
	if !res.Success {
		t.Fatalf("run failed: %s", res.ErrorMessage)
	}
	if len(res.Records) != 0 {
		t.Fatalf("fallback enumeration ran despite a configured locator: %d records", len(res.Records))
	}
}

func TestEffectiveCap(t *testing.T) {
	t.Parallel()

	cases := []struct {
		cfgMax, target, taskMax, want int
	}{
		{0, 0, 0, 0},
		{100, 0, 0, 100},
		{0, 10, 0, 10},
		{100, 10, 0, 10},
		{5, 10, 0, 5},
		{100, 10, 7, 7},
		{100, 0, 50, 50},
	}
	for _, c := range cases {
		cfg := &config.SiteConfig{MaxRecords: c.cfgMax}
		task := TaskParams{TargetCount: c.target, MaxRecords: c.taskMax}
		if got := effectiveCap(cfg, task); got != c.want {
			t.Fatalf("effectiveCap(%d, %d, %d) = %d, want %d",
				c.cfgMax, c.target, c.taskMax, got, c.want)
		}
	}
}

func TestJitterDelay(t *testing.T) {
	t.Parallel()

	if d := jitterDelay(0); d != 0 {
		t.Fatalf("jitterDelay(0) = %v", d)
	}
	for i := 0; i < 100; i++ {
		d := jitterDelay(2.0)
		if d < 1500*time.Millisecond || d > 2500*time.Millisecond {
			t.Fatalf("jitterDelay(2.0) = %v, outside [1.5s, 2.5s]", d)
		}
	}
}

func TestJoinTerms(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"smith"}, "smith"},
		{[]string{"smith", "", "jones"}, "smith jones"},
	}
	for _, c := range cases {
		if got := joinTerms(c.in); got != c.want {
			t.Fatalf("joinTerms(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	pairs := map[State]string{
		StateInit:         "INIT",
		StateNavigated:    "NAVIGATED",
		StateFormFilled:   "FORM_FILLED",
		StateSubmitted:    "SUBMITTED",
		StateResultsReady: "RESULTS_READY",
		StateExtracting:   "EXTRACTING",
		StatePaginating:   "PAGINATING",
		StateDone:         "DONE",
		StateFailed:       "FAILED",
	}
	for st, want := range pairs {
		if got := st.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", st, got, want)
		}
	}
}
