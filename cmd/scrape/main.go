package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"lienharvest/internal/config"
	"lienharvest/internal/metrics"
	"lienharvest/internal/metrics/datadog"
	"lienharvest/internal/ocr"
	"lienharvest/internal/page/httppage"
	"lienharvest/internal/scraper"
	"lienharvest/internal/session"
	"lienharvest/internal/storage"

	// register all storage backends with the factory.
	// config selects which to use; the binary supports all of them.
	_ "lienharvest/internal/storage/all"
)

// main is the entry point for one scrape run: load the site config,
// optionally initialize a metrics backend, drive one session, emit the
// ScrapeResult as JSON, and optionally upsert the records.
func main() {
	var (
		cfgPath     string
		dateFrom    string
		dateTo      string
		terms       string
		targetCount int
		maxRecords  int
		tenantID    string
		storeKind   string
		storeDSN    string
		metricsFlg  string
		outPath     string
		validate    bool
		ocrCmd      string
	)

	flag.StringVar(&cfgPath, "config", "configs/sites/sample.json", "site config JSON path")
	flag.StringVar(&dateFrom, "from", "", "search date range start (site-native format)")
	flag.StringVar(&dateTo, "to", "", "search date range end (site-native format)")
	flag.StringVar(&terms, "terms", "", "comma-separated free-text search terms")
	flag.IntVar(&targetCount, "target", 0, "stop after this many accepted records (0 = config limit)")
	flag.IntVar(&maxRecords, "max-records", 0, "hard record cap for this run (0 = config limit)")
	flag.StringVar(&tenantID, "tenant", "", "tenant id for the persistence upsert key")
	flag.StringVar(&storeKind, "store", "", "storage backend kind (postgres, sqlite, mssql); empty disables persistence")
	flag.StringVar(&storeDSN, "dsn", "", "storage DSN (overrides env STORE_DSN)")
	flag.StringVar(&metricsFlg, "metrics-backend", "none", "metrics backend to use (datadog, none)")
	flag.StringVar(&outPath, "out", "", "write the ScrapeResult JSON here instead of stdout")
	flag.BoolVar(&validate, "validate", false, "validate the site config and exit")
	flag.StringVar(&ocrCmd, "ocr-cmd", "tesseract", "external text-recognition command; {image} args receive the asset path")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	log := buildLogger(*verbose)
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf(log, "load config: %v", err)
	}

	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		fatalf(log, "configuration is invalid: %v", cfgPath)
	}
	if validate {
		log.Info("configuration is valid", zap.String("path", cfgPath))
		return
	}

	// Decide metrics backend: flag → env → none.
	backendName := metricsFlg
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "datadog":
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName: cfg.Name,
			Tags:    datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
		})
		if err != nil {
			log.Warn("metrics: datadog init failed; using nop", zap.Error(err))
		} else {
			metrics.SetBackend(b)
			defer func() {
				if err := b.Close(); err != nil {
					log.Warn("metrics: datadog close/flush error", zap.Error(err))
				}
			}()
		}
	case "", "none":
		// metrics disabled; nop backend remains
	default:
		log.Warn("metrics: unknown backend; using nop", zap.String("backend", backendName))
	}

	deps := scraper.Deps{
		Page: httppage.New(httppage.Options{
			Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
			Logger:  log,
		}),
		Logger: log,
	}
	if cfg.NeedsOCR() {
		deps.Recognizer = &ocr.CommandRecognizer{Command: ocrCmd, Args: []string{"{image}", "stdout"}}
	}
	if cfg.ScraperKind == config.KindAuthenticated {
		// Credentials come from the environment, never from the config file.
		deps.Credentials = &scraper.Credentials{
			Username: os.Getenv("SITE_USERNAME"),
			Password: os.Getenv("SITE_PASSWORD"),
		}
	}

	sess, err := scraper.New(cfg, deps)
	if err != nil {
		fatalf(log, "build scraper: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result := sess.Run(ctx, session.TaskParams{
		DateFrom:    dateFrom,
		DateTo:      dateTo,
		SearchTerms: splitTerms(terms),
		TargetCount: targetCount,
		MaxRecords:  maxRecords,
	})

	if err := writeResult(outPath, result); err != nil {
		fatalf(log, "write result: %v", err)
	}

	if storeKind != "" && len(result.Records) > 0 {
		dsn := storeDSN
		if dsn == "" {
			dsn = os.Getenv("STORE_DSN")
		}
		store, err := storage.New(ctx, storage.Config{Kind: storeKind, DSN: dsn})
		if err != nil {
			fatalf(log, "open store: %v", err)
		}
		defer store.Close()

		if err := store.EnsureSchema(ctx); err != nil {
			fatalf(log, "ensure schema: %v", err)
		}
		n, err := store.UpsertRecords(ctx, tenantID, result.Records)
		if err != nil {
			fatalf(log, "upsert records: %v", err)
		}
		log.Info("records persisted",
			zap.String("store", storeKind),
			zap.Int64("rows_affected", n))
	}

	if !result.Success {
		os.Exit(1)
	}
}

func buildLogger(verbose bool) *zap.Logger {
	if verbose {
		log, _ := zap.NewDevelopment()
		return log
	}
	log, _ := zap.NewProduction()
	return log
}

func writeResult(path string, result session.ScrapeResult) error {
	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	if path == "" {
		_, err = os.Stdout.Write(b)
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func splitTerms(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func fatalf(log *zap.Logger, format string, args ...any) {
	log.Error(fmt.Sprintf(format, args...))
	_ = log.Sync()
	os.Exit(1)
}
