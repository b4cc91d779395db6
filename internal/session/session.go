// Package session drives one scraping run end-to-end for a given site config
// and task parameters: open the search page, fill and submit the form, wait
// for results, extract every configured field from every row, advance
// pagination, and stop when the assembler or the page bounds say so.
//
// One Session owns one page capability exclusively and is single-flow; result
// ordering and pagination state are inherently sequential. Concurrency across
// jurisdictions is achieved by running independent Sessions, each with its
// own page resource.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lienharvest/internal/assemble"
	"lienharvest/internal/config"
	"lienharvest/internal/extract"
	"lienharvest/internal/metrics"
	"lienharvest/internal/page"
)

const (
	// defaultNavTimeout bounds navigation and load waits when the config
	// does not set request_timeout_seconds.
	defaultNavTimeout = 20 * time.Second

	// defaultResultsWait bounds the wait for the results container. Results
	// pages are typically slower than plain navigation, so this is a
	// separate, longer budget.
	defaultResultsWait = 30 * time.Second

	// navRetries is the fixed retry budget for navigation and submission
	// steps. Other driver failures are terminal for the run.
	navRetries = 2
)

// submitFallbacks is tried in order when the configured submit locator does
// not match anything. Server-rendered search pages overwhelmingly use one of
// these shapes.
var submitFallbacks = []string{
	`input[type=submit]`,
	`button[type=submit]`,
	`button`,
	`[onclick*="Search"]`,
}

// Params configures a Session. Config, Page and Resolver are required;
// the factory in internal/scraper is the usual constructor caller.
type Params struct {
	Config   *config.SiteConfig
	Page     page.Page
	Resolver *extract.Resolver

	// PreRun, when set, executes before the first navigation. The factory
	// installs the login sub-flow here for authenticated sites.
	PreRun func(ctx context.Context) error

	Logger *zap.Logger
	RunID  string
}

// Session is one run's state machine. Not safe for concurrent use; run one
// session per page resource.
type Session struct {
	cfg      *config.SiteConfig
	pg       page.Page
	resolver *extract.Resolver
	preRun   func(ctx context.Context) error
	log      *zap.Logger
	runID    string

	state State

	// Test seams. Production uses the defaults set in New.
	sleep       func(ctx context.Context, d time.Duration) error
	jitter      func(baseSeconds float64) time.Duration
	resultsWait time.Duration
}

// New constructs a Session in StateInit.
func New(p Params) *Session {
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	runID := p.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	return &Session{
		cfg:      p.Config,
		pg:       p.Page,
		resolver: p.Resolver,
		preRun:   p.PreRun,
		log: log.With(
			zap.String("site", p.Config.Name),
			zap.String("run_id", runID),
		),
		runID:       runID,
		state:       StateInit,
		sleep:       sleepCtx,
		jitter:      jitterDelay,
		resultsWait: defaultResultsWait,
	}
}

// State returns the current state; useful for tests and monitoring.
func (s *Session) State() State { return s.state }

// Run executes the whole state machine and always returns a ScrapeResult.
//
// Cancellation is cooperative: ctx is checked at every state transition
// boundary, and a cancelled run fails with whatever records were assembled
// up to that point.
func (s *Session) Run(ctx context.Context, task TaskParams) ScrapeResult {
	start := time.Now()
	asm := assemble.New(s.cfg.RequiredFields, assemble.DefaultIdentityField, effectiveCap(s.cfg, task))
	pages := 0

	result := s.run(ctx, task, asm, &pages)

	accepted, missing, dups := asm.Counts()
	result.RunID = s.runID
	result.Site = s.cfg.Name
	result.Records = asm.Records()
	result.TotalPagesScraped = pages
	result.RejectedMissingRequired = missing
	result.RejectedDuplicates = dups

	metrics.ObserveHistogram("scrape_run_duration_seconds", time.Since(start).Seconds(),
		metrics.Labels{"site": s.cfg.Name, "success": fmt.Sprint(result.Success)})
	s.log.Info("run finished",
		zap.Bool("success", result.Success),
		zap.Int("records", accepted),
		zap.Int("pages", pages),
		zap.Int("rejected_missing_required", missing),
		zap.Int("rejected_duplicates", dups),
		zap.String("error", result.ErrorMessage))
	return result
}

// run walks the states and returns a skeleton result; Run fills in the
// record payload and counters.
func (s *Session) run(ctx context.Context, task TaskParams, asm *assemble.Assembler, pages *int) ScrapeResult {
	if s.preRun != nil {
		if err := s.preRun(ctx); err != nil {
			return s.fail(fmt.Errorf("login: %w", err))
		}
	}

	if err := s.transition(ctx, StateNavigated); err != nil {
		return s.fail(err)
	}
	if err := s.navigate(ctx); err != nil {
		return s.fail(fmt.Errorf("navigation: %w", err))
	}

	if s.cfg.ScraperKind != config.KindStaticHTML && s.cfg.SearchConfig != nil {
		if err := s.transition(ctx, StateFormFilled); err != nil {
			return s.fail(err)
		}
		if err := s.fillForm(ctx, task); err != nil {
			return s.fail(fmt.Errorf("fill form: %w", err))
		}

		if err := s.transition(ctx, StateSubmitted); err != nil {
			return s.fail(err)
		}
		if err := s.submit(ctx); err != nil {
			return s.fail(fmt.Errorf("submit: %w", err))
		}
	}

	if err := s.transition(ctx, StateResultsReady); err != nil {
		return s.fail(err)
	}
	if err := s.waitResults(ctx); err != nil {
		return s.fail(fmt.Errorf("wait for results: %w", err))
	}

	for {
		if err := s.transition(ctx, StateExtracting); err != nil {
			return s.fail(err)
		}
		s.extractPage(ctx, asm)
		*pages++
		metrics.IncCounter("scrape_pages_total", 1, metrics.Labels{"site": s.cfg.Name})

		// Stop conditions, first true wins: assembler cap, page budget,
		// natural exhaustion.
		if asm.Done() {
			s.log.Debug("stop: record cap reached")
			break
		}
		if !s.canPaginate(*pages) {
			s.log.Debug("stop: page budget reached", zap.Int("pages", *pages))
			break
		}

		next, err := s.pg.Query(s.cfg.PaginationConfig.NextButtonLocator)
		if err != nil {
			// A malformed next locator cannot improve on retry; treat the
			// run as naturally exhausted rather than failed.
			s.log.Warn("next-page locator fault", zap.Error(err))
			break
		}
		if next == nil {
			s.log.Debug("stop: no next-page control")
			break
		}

		if err := s.transition(ctx, StatePaginating); err != nil {
			return s.fail(err)
		}
		if err := s.delay(ctx); err != nil {
			return s.fail(err)
		}
		if err := s.clickWithRetry(ctx, s.cfg.PaginationConfig.NextButtonLocator); err != nil {
			return s.fail(fmt.Errorf("paginate: %w", err))
		}

		if err := s.transition(ctx, StateResultsReady); err != nil {
			return s.fail(err)
		}
		if err := s.waitResults(ctx); err != nil {
			return s.fail(fmt.Errorf("wait for results after paginate: %w", err))
		}
	}

	s.state = StateDone
	return ScrapeResult{Success: true}
}

// transition advances the state machine, honouring cooperative cancellation:
// the shared signal is checked at every transition boundary, never inside a
// single wait.
func (s *Session) transition(ctx context.Context, next State) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cancelled before %s: %w", next, err)
	}
	s.log.Debug("state transition",
		zap.String("from", s.state.String()),
		zap.String("to", next.String()))
	s.state = next
	return nil
}

func (s *Session) fail(err error) ScrapeResult {
	s.state = StateFailed
	metrics.IncCounter("scrape_runs_failed_total", 1, metrics.Labels{"site": s.cfg.Name})
	return ScrapeResult{Success: false, ErrorMessage: err.Error()}
}

// navigate opens the search page (search_config.search_url when distinct,
// otherwise base_url) and waits for the load signal within the config's
// navigation budget, retrying within the fixed budget.
func (s *Session) navigate(ctx context.Context) error {
	url := s.cfg.BaseURL
	if s.cfg.SearchConfig != nil && s.cfg.SearchConfig.SearchURL != "" {
		url = s.cfg.SearchConfig.SearchURL
	}

	timeout := s.navTimeout()
	var lastErr error
	for attempt := 0; attempt <= navRetries; attempt++ {
		if attempt > 0 {
			s.log.Warn("retrying navigation", zap.Int("attempt", attempt), zap.Error(lastErr))
			if err := s.delay(ctx); err != nil {
				return err
			}
		}
		if err := s.pg.Goto(ctx, url); err != nil {
			lastErr = err
			continue
		}
		if err := s.pg.WaitForReady(ctx, timeout); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// fillForm writes task parameters into the configured search fields by
// logical name. Parameters with no bound locator are skipped; the page
// capability clears each field before writing.
func (s *Session) fillForm(ctx context.Context, task TaskParams) error {
	values := []struct {
		name  string
		value string
	}{
		{FieldDateFrom, task.DateFrom},
		{FieldDateTo, task.DateTo},
		{FieldSearchTerm, joinTerms(task.SearchTerms)},
	}

	for _, v := range values {
		if v.value == "" {
			continue
		}
		locator, ok := s.cfg.SearchConfig.Fields[v.name]
		if !ok {
			s.log.Debug("task parameter has no search field binding",
				zap.String("param", v.name))
			continue
		}
		if err := s.pg.Fill(ctx, locator, v.value); err != nil {
			return err
		}
	}
	return nil
}

// submit clicks the configured submit control, falling back through a small
// list of generic submit locators when the configured one matches nothing.
func (s *Session) submit(ctx context.Context) error {
	locators := submitFallbacks
	if s.cfg.SearchConfig.SubmitLocator != "" {
		locators = append([]string{s.cfg.SearchConfig.SubmitLocator}, submitFallbacks...)
	}

	for _, locator := range locators {
		h, err := s.pg.Query(locator)
		if err != nil || h == nil {
			continue
		}
		if err := s.delay(ctx); err != nil {
			return err
		}
		return s.clickWithRetry(ctx, locator)
	}
	return page.NewDriverError("click", s.cfg.SearchConfig.SubmitLocator,
		fmt.Errorf("no submit control found"))
}

func (s *Session) clickWithRetry(ctx context.Context, locator string) error {
	var lastErr error
	for attempt := 0; attempt <= navRetries; attempt++ {
		if attempt > 0 {
			s.log.Warn("retrying click", zap.String("locator", locator), zap.Int("attempt", attempt))
		}
		if err := s.pg.Click(ctx, locator); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// waitResults blocks until the results container appears, within the longer
// results budget. Static sites without a search config skip straight to a
// plain load wait.
func (s *Session) waitResults(ctx context.Context) error {
	if s.cfg.SearchConfig == nil || s.cfg.SearchConfig.ResultsContainerLocator == "" {
		return s.pg.WaitForReady(ctx, s.navTimeout())
	}
	return s.pg.WaitFor(ctx, s.cfg.SearchConfig.ResultsContainerLocator, s.resultsWait)
}

// extractPage enumerates the current page's result rows and runs the field
// resolver over every configured mapping for every row. Per-field faults are
// logged and counted, never escalated; each row becomes one candidate for
// the assembler. Extraction short-circuits once the assembler reports Done.
func (s *Session) extractPage(ctx context.Context, asm *assemble.Assembler) {
	rows := s.rows()
	s.log.Debug("extracting page", zap.Int("rows", len(rows)))

	for _, row := range rows {
		candidate := make(map[string]string, len(s.cfg.FieldMappings))
		for _, m := range s.cfg.FieldMappings {
			value, err := s.resolver.Resolve(ctx, row, m, s.pg)
			if err != nil {
				metrics.IncCounter("scrape_field_faults_total", 1,
					metrics.Labels{"site": s.cfg.Name, "field": m.FieldName})
				s.log.Warn("field resolution fault", zap.Error(err))
			}
			candidate[m.FieldName] = value
		}

		outcome := asm.Accept(candidate)
		metrics.IncCounter("scrape_records_total", 1,
			metrics.Labels{"site": s.cfg.Name, "outcome": outcome.String()})
		if asm.Done() {
			return
		}
	}
}

// rows enumerates result rows on the current page. The configured row
// locator wins; otherwise the striped-table pair "tr.odd, tr.even" is tried
// (odd and even classes are one row set in server-rendered tables), then
// plain "tbody tr". Enumeration faults yield an empty page, not a failed run.
func (s *Session) rows() []page.Handle {
	var root interface {
		QueryAll(string) ([]page.Handle, error)
	} = s.pg

	var rowLocator string
	if s.cfg.SearchConfig != nil {
		rowLocator = s.cfg.SearchConfig.RowLocator
		if loc := s.cfg.SearchConfig.ResultsContainerLocator; loc != "" {
			container, err := s.pg.Query(loc)
			if err != nil {
				s.log.Warn("results container query fault", zap.Error(err))
				return nil
			}
			if container != nil {
				root = container
			}
		}
	}

	locators := []string{"tr.odd, tr.even", "tbody tr"}
	if rowLocator != "" {
		locators = append([]string{rowLocator}, locators...)
	}

	for _, locator := range locators {
		rows, err := root.QueryAll(locator)
		if err != nil {
			s.log.Warn("row enumeration fault", zap.String("locator", locator), zap.Error(err))
			continue
		}
		if len(rows) > 0 {
			return rows
		}
		if locator == rowLocator {
			// An explicitly configured row locator that matches nothing is
			// an empty page, not a reason to guess with fallbacks.
			return nil
		}
	}
	return nil
}

// canPaginate reports whether another page may be fetched.
func (s *Session) canPaginate(pages int) bool {
	pc := s.cfg.PaginationConfig
	if pc == nil || pc.Kind == config.PaginationNone || pc.NextButtonLocator == "" {
		return false
	}
	maxPages := pc.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	return pages < maxPages
}

// delay suspends for the jittered inter-request delay, honouring
// cancellation. This is a suspension point, never a busy wait.
func (s *Session) delay(ctx context.Context) error {
	d := s.jitter(s.cfg.DelayBetweenRequestsSeconds)
	if d <= 0 {
		return nil
	}
	return s.sleep(ctx, d)
}

func (s *Session) navTimeout() time.Duration {
	if s.cfg.RequestTimeoutSeconds > 0 {
		return time.Duration(s.cfg.RequestTimeoutSeconds) * time.Second
	}
	return defaultNavTimeout
}

// effectiveCap is the record limit for this run: the smallest non-zero value
// among the config's max_records and the task's target_count/max_records.
func effectiveCap(cfg *config.SiteConfig, task TaskParams) int {
	cap := 0
	for _, v := range []int{cfg.MaxRecords, task.TargetCount, task.MaxRecords} {
		if v <= 0 {
			continue
		}
		if cap == 0 || v < cap {
			cap = v
		}
	}
	return cap
}

// jitterDelay spreads requests around the configured base: uniformly within
// [0.75, 1.25] of it, so independent sessions against the same host do not
// fall into lockstep.
func jitterDelay(baseSeconds float64) time.Duration {
	if baseSeconds <= 0 {
		return 0
	}
	factor := 0.75 + rand.Float64()*0.5
	return time.Duration(baseSeconds * factor * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func joinTerms(terms []string) string {
	out := ""
	for _, t := range terms {
		if t == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += t
	}
	return out
}
