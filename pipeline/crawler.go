package pipeline

import (
	"context"

	"github.com/PuerkitoBio/goquery"
	"github.com/gosom/scrapemate"

	"github.com/gosom/exposure-monitor/fetcher"
	"github.com/gosom/exposure-monitor/serp"
)

// Crawler loads and extracts the result page(s) of a query.
type Crawler interface {
	Crawl(ctx context.Context, query string, mode fetcher.Mode) ([]serp.CandidateItem, error)
}

// HTTPCrawler fetches the first result page over plain HTTP.
type HTTPCrawler struct {
	client      *fetcher.Client
	extractor   *serp.Extractor
	maxAttempts int
}

func NewHTTPCrawler(client *fetcher.Client, extractor *serp.Extractor, maxAttempts int) *HTTPCrawler {
	return &HTTPCrawler{
		client:      client,
		extractor:   extractor,
		maxAttempts: maxAttempts,
	}
}

func (c *HTTPCrawler) Crawl(ctx context.Context, query string, mode fetcher.Mode) ([]serp.CandidateItem, error) {
	doc, err := c.client.FetchSearch(ctx, query, mode, c.maxAttempts)
	if err != nil {
		return nil, err
	}

	return c.extractor.Extract(doc), nil
}

// PageFetcher is the browser side used for deep pagination.
type PageFetcher interface {
	FetchPages(ctx context.Context, query string, mode fetcher.Mode, maxPages int, stop func(*goquery.Document) bool) ([]fetcher.ResultPage, error)
}

// BrowserCrawler paginates with a real browser and stops at the first page
// showing an allow-listed publisher.
type BrowserCrawler struct {
	pages     PageFetcher
	extractor *serp.Extractor
	allow     serp.AllowList
	maxPages  int
}

func NewBrowserCrawler(pages PageFetcher, extractor *serp.Extractor, allow serp.AllowList, maxPages int) *BrowserCrawler {
	return &BrowserCrawler{
		pages:     pages,
		extractor: extractor,
		allow:     allow,
		maxPages:  maxPages,
	}
}

func (c *BrowserCrawler) Crawl(ctx context.Context, query string, mode fetcher.Mode) ([]serp.CandidateItem, error) {
	stop := func(doc *goquery.Document) bool {
		return hasAllowListed(c.extractor.Extract(doc), c.allow)
	}

	pages, err := c.pages.FetchPages(ctx, query, mode, c.maxPages, stop)
	if err != nil && len(pages) == 0 {
		return nil, err
	}

	if err != nil {
		log := scrapemate.GetLoggerFromContext(ctx)
		log.Info("pagination interrupted, keeping loaded pages", "query", query, "pages", len(pages), "error", err.Error())
	}

	docs := make([]*goquery.Document, len(pages))
	for i := range pages {
		docs[i] = pages[i].Doc
	}

	return c.extractor.ExtractPages(docs), nil
}

// FallbackCrawler uses Primary and only turns to Deep when the primary page
// has no allow-listed publisher at all.
type FallbackCrawler struct {
	Primary Crawler
	Deep    Crawler
	Allow   serp.AllowList
}

func (c *FallbackCrawler) Crawl(ctx context.Context, query string, mode fetcher.Mode) ([]serp.CandidateItem, error) {
	items, err := c.Primary.Crawl(ctx, query, mode)
	if err == nil && (c.Deep == nil || hasAllowListed(items, c.Allow)) {
		return items, nil
	}

	if c.Deep == nil {
		return nil, err
	}

	log := scrapemate.GetLoggerFromContext(ctx)

	if err != nil {
		log.Info("primary crawl failed, trying browser pagination", "query", query, "error", err.Error())
	} else {
		log.Info("no allow-listed publisher on first page, trying browser pagination", "query", query)
	}

	deep, deepErr := c.Deep.Crawl(ctx, query, mode)
	if deepErr != nil {
		if err == nil {
			return items, nil
		}

		return nil, deepErr
	}

	return deep, nil
}

func hasAllowListed(items []serp.CandidateItem, allow serp.AllowList) bool {
	for i := range items {
		if allow.Contains(items[i].PublisherID) {
			return true
		}
	}

	return false
}
