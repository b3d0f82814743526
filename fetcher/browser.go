package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gosom/scrapemate"
	"github.com/playwright-community/playwright-go"
)

type BrowserOptions func(*Browser)

// Browser drives a real browser for deep pagination of the result page.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser

	session   Session
	searchURL string
	headful   bool

	pageParam       string
	pageSize        int
	blockWait       time.Duration
	maxRecoveries   int
	unblockSelector string
}

// ResultPage is one page of a multi-page crawl; Number starts at 1.
type ResultPage struct {
	Number int
	Doc    *goquery.Document
}

func NewBrowser(opts ...BrowserOptions) (*Browser, error) {
	b := Browser{
		searchURL:       DefaultSearchURL,
		pageParam:       "start",
		pageSize:        10,
		blockWait:       20 * time.Second,
		maxRecoveries:   2,
		unblockSelector: `button#captcha_refresh, a.btn_retry, button.btn_confirm`,
	}

	for _, opt := range opts {
		opt(&b)
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("could not start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(!b.headful),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--no-sandbox",
			"--disable-dev-shm-usage",
		},
	})
	if err != nil {
		_ = pw.Stop()

		return nil, fmt.Errorf("could not launch browser: %w", err)
	}

	b.pw = pw
	b.browser = browser

	return &b, nil
}

func WithBrowserSession(s Session) BrowserOptions {
	return func(b *Browser) {
		b.session = s
	}
}

func WithBrowserSearchURL(u string) BrowserOptions {
	return func(b *Browser) {
		if u != "" {
			b.searchURL = u
		}
	}
}

func WithHeadful() BrowserOptions {
	return func(b *Browser) {
		b.headful = true
	}
}

func WithBlockRecovery(wait time.Duration, attempts int) BrowserOptions {
	return func(b *Browser) {
		b.blockWait = wait
		b.maxRecoveries = attempts
	}
}

func (b *Browser) Close() error {
	if b.browser != nil {
		_ = b.browser.Close()
	}

	if b.pw != nil {
		return b.pw.Stop()
	}

	return nil
}

// PageURL builds the result page URL for page n (1-based).
func (b *Browser) PageURL(query string, n int) string {
	u, err := url.Parse(b.searchURL)
	if err != nil {
		return b.searchURL
	}

	q := u.Query()
	q.Set("query", query)

	if n > 1 {
		q.Set(b.pageParam, strconv.Itoa((n-1)*b.pageSize+1))
	}

	u.RawQuery = q.Encode()

	return u.String()
}

// FetchPages loads up to maxPages result pages and stops early once stop
// returns true for a loaded page.
func (b *Browser) FetchPages(
	ctx context.Context,
	query string,
	mode Mode,
	maxPages int,
	stop func(*goquery.Document) bool,
) ([]ResultPage, error) {
	log := scrapemate.GetLoggerFromContext(ctx)

	bctx, err := b.browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(RandomUserAgent()),
		Locale:    playwright.String("ko-KR"),
	})
	if err != nil {
		return nil, fmt.Errorf("could not create browser context: %w", err)
	}

	defer bctx.Close()

	if mode == ModeAuthenticated && b.session.Valid() {
		if err := bctx.AddCookies(b.cookies()); err != nil {
			return nil, fmt.Errorf("could not set session cookies: %w", err)
		}
	}

	page, err := bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("could not create page: %w", err)
	}

	var pages []ResultPage

	for n := 1; n <= max(maxPages, 1); n++ {
		if err := ctx.Err(); err != nil {
			return pages, err
		}

		pageURL := b.PageURL(query, n)

		doc, err := b.load(ctx, page, pageURL)
		if err != nil {
			return pages, err
		}

		pages = append(pages, ResultPage{Number: n, Doc: doc})

		if stop != nil && stop(doc) {
			log.Info("pagination stopped early", "query", query, "page", n)

			break
		}
	}

	return pages, nil
}

func (b *Browser) load(ctx context.Context, page playwright.Page, pageURL string) (*goquery.Document, error) {
	resp, err := page.Goto(pageURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(30000),
	})
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: err}
	}

	if resp != nil && (resp.Status() < 200 || resp.Status() > 299) {
		return nil, &FetchError{Status: resp.Status(), URL: pageURL}
	}

	for attempt := 0; ; attempt++ {
		doc, err := pageDocument(page)
		if err != nil {
			return nil, &FetchError{URL: pageURL, Err: err}
		}

		if !IsBlocked(doc) {
			return doc, nil
		}

		if attempt >= b.maxRecoveries {
			return nil, &FetchError{Status: 429, URL: pageURL, Err: ErrBlocked}
		}

		if err := b.recoverBlock(ctx, page); err != nil {
			return nil, &FetchError{URL: pageURL, Err: err}
		}
	}
}

// recoverBlock waits, clicks the unblock control when the page offers one and
// reloads.
func (b *Browser) recoverBlock(ctx context.Context, page playwright.Page) error {
	log := scrapemate.GetLoggerFromContext(ctx)
	log.Info("block page detected, waiting before reload", "url", page.URL(), "wait", b.blockWait.String())

	if err := Wait(ctx, b.blockWait); err != nil {
		return err
	}

	unblock := page.Locator(b.unblockSelector)
	if n, err := unblock.Count(); err == nil && n > 0 {
		if err := unblock.First().Click(); err != nil {
			log.Info("unblock click failed", "error", err.Error())
		}
	}

	_, err := page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(30000),
	})

	return err
}

func (b *Browser) cookies() []playwright.OptionalCookie {
	domain := ".naver.com"
	if u, err := url.Parse(b.searchURL); err == nil && u.Hostname() != "" {
		parts := strings.Split(u.Hostname(), ".")
		if len(parts) >= 2 {
			domain = "." + strings.Join(parts[len(parts)-2:], ".")
		}
	}

	cookie := func(name, value string) playwright.OptionalCookie {
		return playwright.OptionalCookie{
			Name:   name,
			Value:  value,
			Domain: playwright.String(domain),
			Path:   playwright.String("/"),
		}
	}

	ans := []playwright.OptionalCookie{
		cookie("NID_AUT", b.session.Aut),
		cookie("NID_SES", b.session.Ses),
	}

	if b.session.Extra != "" {
		ans = append(ans, cookie("NID_JKL", b.session.Extra))
	}

	return ans
}

func pageDocument(page playwright.Page) (*goquery.Document, error) {
	body, err := page.Content()
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}

	if u, err := url.Parse(page.URL()); err == nil {
		doc.Url = u
	}

	return doc, nil
}

// InstallBrowsers downloads the chromium build used by Browser.
func InstallBrowsers() error {
	return playwright.Install(&playwright.RunOptions{
		Browsers: []string{"chromium"},
	})
}
