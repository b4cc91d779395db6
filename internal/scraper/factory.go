// Package scraper constructs the right session variant for a site config and
// exposes the uniform scrape contract: every variant is a session.Session
// whose Run takes task parameters and returns a ScrapeResult.
package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lienharvest/internal/config"
	"lienharvest/internal/extract"
	"lienharvest/internal/ocr"
	"lienharvest/internal/page"
	"lienharvest/internal/session"
)

// Credentials are externally supplied login credentials for authenticated
// sites. They are injected per run, never stored in a site config.
type Credentials struct {
	Username string
	Password string
}

// Deps carries the injected collaborators a session is built from.
type Deps struct {
	// Page is the browser-like capability the session drives. Required.
	Page page.Page

	// Recognizer is the external OCR engine. Required only when a field
	// mapping sets requires_ocr.
	Recognizer ocr.Recognizer

	// Credentials are required for scraper_kind=authenticated.
	Credentials *Credentials

	Logger *zap.Logger

	// WorkDir scopes OCR artifacts; empty falls back to the system temp dir.
	WorkDir string
}

// New builds the session for cfg, selecting the variant strictly by
// scraper_kind. Configuration problems (unknown kind, missing search config,
// OCR mapping without a recognizer, missing credentials) surface here as
// *config.Error, never at run time.
func New(cfg *config.SiteConfig, deps Deps) (*session.Session, error) {
	if deps.Page == nil {
		return nil, &config.Error{Site: cfg.Name, Reason: "no page capability supplied"}
	}

	if issues := config.Validate(cfg); config.HasErrors(issues) {
		return nil, &config.Error{Site: cfg.Name, Reason: firstError(issues)}
	}

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	runID := uuid.NewString()

	var addrs extract.AddressSource
	if cfg.NeedsOCR() {
		if deps.Recognizer == nil {
			return nil, &config.Error{Site: cfg.Name,
				Reason: "a field mapping requires OCR but no recognizer was supplied"}
		}
		pipeline, err := ocr.NewAddressPipeline(deps.Recognizer, deps.WorkDir, runID, log)
		if err != nil {
			return nil, fmt.Errorf("build ocr pipeline: %w", err)
		}
		addrs = pipeline
	}

	params := session.Params{
		Config:   cfg,
		Page:     deps.Page,
		Resolver: extract.NewResolver(addrs, log),
		Logger:   log,
		RunID:    runID,
	}

	switch cfg.ScraperKind {
	case config.KindStaticHTML, config.KindSearchForm:
		// Plain variants: the state machine itself adapts to the kind.

	case config.KindAuthenticated:
		if deps.Credentials == nil {
			return nil, &config.Error{Site: cfg.Name,
				Reason: "scraper_kind=authenticated requires credentials"}
		}
		params.PreRun = loginFlow(cfg, deps.Page, *deps.Credentials, log)

	default:
		return nil, &config.Error{Site: cfg.Name,
			Reason: fmt.Sprintf("unknown scraper_kind %q", cfg.ScraperKind)}
	}

	return session.New(params), nil
}

// loginFlow returns the login sub-flow that prefixes an authenticated run:
// open the login page, fill credentials, submit, and wait for the success
// marker when one is configured.
func loginFlow(cfg *config.SiteConfig, pg page.Page, creds Credentials, log *zap.Logger) func(ctx context.Context) error {
	lc := cfg.LoginConfig
	timeout := defaultLoginTimeout
	if cfg.RequestTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	}

	return func(ctx context.Context) error {
		log.Debug("login sub-flow starting", zap.String("url", lc.LoginURL))

		if err := pg.Goto(ctx, lc.LoginURL); err != nil {
			return err
		}
		if err := pg.WaitForReady(ctx, timeout); err != nil {
			return err
		}
		if err := pg.Fill(ctx, lc.UsernameLocator, creds.Username); err != nil {
			return err
		}
		if err := pg.Fill(ctx, lc.PasswordLocator, creds.Password); err != nil {
			return err
		}
		if err := pg.Click(ctx, lc.SubmitLocator); err != nil {
			return err
		}
		if lc.SuccessLocator != "" {
			if err := pg.WaitFor(ctx, lc.SuccessLocator, timeout); err != nil {
				return fmt.Errorf("login success marker: %w", err)
			}
		}
		return nil
	}
}

const defaultLoginTimeout = 20 * time.Second

func firstError(issues []config.Issue) string {
	for _, iss := range issues {
		if iss.Severity == config.SeverityError {
			return iss.Path + ": " + iss.Message
		}
	}
	return "invalid config"
}
