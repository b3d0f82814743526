package runner

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/gosom/exposure-monitor/fetcher"
	"github.com/gosom/exposure-monitor/keyword"
	"github.com/gosom/exposure-monitor/notify"
	"github.com/gosom/exposure-monitor/pipeline"
	"github.com/gosom/exposure-monitor/postgres"
	"github.com/gosom/exposure-monitor/report"
	"github.com/gosom/exposure-monitor/serp"
	"github.com/gosom/exposure-monitor/sqlite"
	"github.com/gosom/exposure-monitor/tlmt"
	"github.com/gosom/exposure-monitor/vendors"
)

const dbfname = "exposure.db"

// OpenRepository opens the keyword store: PostgreSQL when a DSN is configured,
// otherwise a sqlite file in the data folder.
func OpenRepository(ctx context.Context, cfg *Config) (keyword.Repository, *sql.DB, error) {
	if cfg.Dsn != "" {
		log.Printf("PostgreSQL configured, using it for keywords and results")

		db, err := postgres.Open(cfg.Dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}

		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()

			return nil, nil, fmt.Errorf("failed to migrate PostgreSQL: %w", err)
		}

		return postgres.NewKeywordRepository(db), db, nil
	}

	log.Printf("no DSN configured, using SQLite in %s", cfg.DataFolder)

	if err := os.MkdirAll(cfg.DataFolder, os.ModePerm); err != nil {
		return nil, nil, err
	}

	db, err := sqlite.InitDB(filepath.Join(cfg.DataFolder, dbfname))
	if err != nil {
		return nil, nil, err
	}

	return sqlite.NewKeywordRepository(db), db, nil
}

// Batch owns everything one evaluation run needs. Both run modes build one
// and call Run once per batch.
type Batch struct {
	cfg      *Config
	db       *sql.DB
	repo     keyword.Repository
	browser  *fetcher.Browser
	orch     *pipeline.Orchestrator
	notifier notify.Notifier
	format   report.Format
}

func NewBatch(ctx context.Context, cfg *Config) (*Batch, error) {
	format, err := report.ParseFormat(cfg.ReportFormat)
	if err != nil {
		return nil, err
	}

	allow, err := LoadAllowList(cfg.AllowListFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load allow-list: %w", err)
	}

	defaults := pipeline.CategoryOptions{
		Permissive:      cfg.Permissive,
		MaxVendorChecks: cfg.MaxVendorChecks,
		CheckDelay:      cfg.CheckDelay,
	}

	categories := map[string]pipeline.CategoryOptions{}

	if cfg.CategoryFile != "" {
		f, err := os.Open(cfg.CategoryFile)
		if err != nil {
			return nil, err
		}

		categories, err = LoadCategoryOptions(f, defaults)

		_ = f.Close()

		if err != nil {
			return nil, fmt.Errorf("failed to load category options: %w", err)
		}
	}

	repo, db, err := OpenRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}

	b := Batch{
		cfg:      cfg,
		db:       db,
		repo:     repo,
		notifier: notify.Nop{},
		format:   format,
	}

	if cfg.Webhook != "" {
		b.notifier = notify.NewWebhook(cfg.Webhook)
	}

	clientOpts := []fetcher.Options{
		fetcher.WithSearchURL(cfg.SearchURL),
		fetcher.WithTimeout(cfg.Timeout),
	}

	if cfg.Session.Valid() && !cfg.ForceAnonymous {
		clientOpts = append(clientOpts, fetcher.WithSession(cfg.Session))
	}

	if cfg.RateLimit > 0 {
		clientOpts = append(clientOpts, fetcher.WithRateLimit(rate.Limit(cfg.RateLimit), 1))
	}

	client := fetcher.New(clientOpts...)
	extractor := serp.NewExtractor()

	var crawler pipeline.Crawler = pipeline.NewHTTPCrawler(client, extractor, cfg.MaxAttempts)

	if cfg.MaxPages > 1 {
		browserOpts := []fetcher.BrowserOptions{
			fetcher.WithBrowserSearchURL(cfg.SearchURL),
		}

		if cfg.Session.Valid() && !cfg.ForceAnonymous {
			browserOpts = append(browserOpts, fetcher.WithBrowserSession(cfg.Session))
		}

		if cfg.Debug {
			browserOpts = append(browserOpts, fetcher.WithHeadful())
		}

		browser, err := fetcher.NewBrowser(browserOpts...)
		if err != nil {
			_ = db.Close()

			return nil, err
		}

		b.browser = browser

		crawler = &pipeline.FallbackCrawler{
			Primary: crawler,
			Deep:    pipeline.NewBrowserCrawler(browser, extractor, allow, cfg.MaxPages),
			Allow:   allow,
		}
	}

	b.orch = pipeline.New(
		crawler,
		vendors.NewResolver(client),
		repo,
		pipeline.WithMode(cfg.Mode()),
		pipeline.WithAllowList(allow),
		pipeline.WithCategoryOptions(categories),
		pipeline.WithDefaultCategoryOptions(defaults),
		pipeline.WithInstantBrands(cfg.InstantBrands...),
		pipeline.WithQueryDelay(cfg.QueryDelayMin, cfg.QueryDelayMax),
		pipeline.WithConcurrency(cfg.Concurrency),
	)

	return &b, nil
}

// Run imports pending keyword input, evaluates the keywords and publishes the
// reports. Failures after evaluation are logged and do not fail the batch.
func (b *Batch) Run(ctx context.Context) (rep *pipeline.Report, err error) {
	t0 := time.Now().UTC()

	defer func() {
		params := map[string]any{
			"duration": time.Now().UTC().Sub(t0).String(),
			"mode":     b.cfg.Mode().String(),
		}

		if rep != nil {
			params["keyword_count"] = rep.Summary.Total
			params["success_count"] = rep.Summary.Success
			params["failure_count"] = rep.Summary.Failed
		}

		if err != nil {
			params["error"] = err.Error()
		}

		_ = Telemetry().Send(ctx, tlmt.NewEvent("batch", params))
	}()

	if b.cfg.InputFile != "" {
		n, err := ImportKeywords(ctx, b.repo, b.cfg.InputFile)
		if err != nil {
			return nil, err
		}

		log.Printf("imported %d new or changed keywords from %s", n, b.cfg.InputFile)
	}

	records, err := b.repo.List(ctx, keyword.Filter{Category: b.cfg.Category})
	if err != nil {
		return nil, fmt.Errorf("failed to list keywords: %w", err)
	}

	if len(records) == 0 {
		log.Printf("no keywords to evaluate")

		return &pipeline.Report{}, nil
	}

	rep, err = b.orch.Run(ctx, records)
	if rep == nil {
		return nil, err
	}

	b.publish(ctx, rep)

	return rep, err
}

func (b *Batch) publish(ctx context.Context, rep *pipeline.Report) {
	paths, err := report.WriteFiles(ctx, b.cfg.ResultsDir, b.format, rep)
	if err != nil {
		log.Printf("batch %s: failed to write reports: %v", rep.BatchID, err)
	}

	for _, p := range paths {
		log.Printf("batch %s: report written to %s", rep.BatchID, p)
	}

	if b.cfg.S3Uploader != nil && b.cfg.S3Bucket != "" {
		for _, p := range paths {
			if err := b.upload(ctx, p); err != nil {
				log.Printf("batch %s: failed to upload %s: %v", rep.BatchID, p, err)
			}
		}
	}

	fmt.Fprint(os.Stderr, SummaryBanner(rep))

	if err := b.notifier.Notify(ctx, SummaryText(rep)); err != nil {
		log.Printf("batch %s: failed to send notification: %v", rep.BatchID, err)
	}
}

func (b *Batch) upload(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer f.Close()

	key := "reports/" + filepath.Base(path)

	return b.cfg.S3Uploader.Upload(ctx, b.cfg.S3Bucket, key, f)
}

func (b *Batch) Close() error {
	var err error

	if b.browser != nil {
		err = b.browser.Close()
	}

	if b.db != nil {
		if cerr := b.db.Close(); err == nil {
			err = cerr
		}
	}

	return err
}

// SummaryText is the one-line batch summary sent to operators.
func SummaryText(rep *pipeline.Report) string {
	return fmt.Sprintf(
		"exposure batch %s (%s): %d keywords, %d visible, %d not visible, %d excluded, %d recovered, single-topic %d, multi-topic %d, took %s",
		rep.BatchID,
		rep.Mode.String(),
		rep.Summary.Total,
		rep.Summary.Success,
		rep.Summary.Failed,
		rep.Summary.Excluded,
		rep.Summary.Recovered,
		rep.Summary.Kinds[serp.KindSingleTopic],
		rep.Summary.Kinds[serp.KindMultiTopic],
		rep.FinishedAt.Sub(rep.StartedAt).Round(time.Second),
	)
}

// SummaryBanner renders the end-of-batch aggregate as a box.
func SummaryBanner(rep *pipeline.Report) string {
	return banner([]string{
		fmt.Sprintf("batch %s", rep.BatchID),
		fmt.Sprintf("mode: %s, queries: %d, keywords: %d", rep.Mode.String(), rep.Queries, rep.Summary.Total),
		fmt.Sprintf("✅ visible: %d  ❌ not visible: %d  ⏭ excluded: %d", rep.Summary.Success, rep.Summary.Failed, rep.Summary.Excluded),
		fmt.Sprintf("recovered via opposite mode: %d", rep.Summary.Recovered),
		fmt.Sprintf("single-topic: %d  multi-topic: %d", rep.Summary.Kinds[serp.KindSingleTopic], rep.Summary.Kinds[serp.KindMultiTopic]),
	}, 0)
}
