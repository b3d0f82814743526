package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gosom/scrapemate"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

const DefaultSearchURL = "https://search.naver.com/search.naver?where=nexearch&sm=top_hty&fbm=0&ie=utf8"

// Mode selects whether a request carries the session cookie.
type Mode int

const (
	ModeAnonymous Mode = iota
	ModeAuthenticated
)

func (m Mode) String() string {
	if m == ModeAuthenticated {
		return "authenticated"
	}

	return "anonymous"
}

func (m Mode) Opposite() Mode {
	if m == ModeAuthenticated {
		return ModeAnonymous
	}

	return ModeAuthenticated
}

// Session holds the externally supplied login tokens.
type Session struct {
	Aut   string
	Ses   string
	Extra string
}

func (s Session) Valid() bool {
	return s.Aut != "" && s.Ses != ""
}

func (s Session) Cookie() string {
	if !s.Valid() {
		return ""
	}

	parts := []string{"NID_AUT=" + s.Aut, "NID_SES=" + s.Ses}
	if s.Extra != "" {
		parts = append(parts, "NID_JKL="+s.Extra)
	}

	return strings.Join(parts, "; ")
}

var ErrBlocked = errors.New("blocked page detected")

// FetchError is returned for network failures (Status 0) and non-2xx responses.
type FetchError struct {
	Status int
	URL    string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.Status, e.Err)
	}

	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) RateLimited() bool {
	return IsRateLimitStatus(e.Status) || errors.Is(e.Err, ErrBlocked)
}

func IsRateLimitStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusForbidden
}

type Options func(*Client)

type Client struct {
	http      *http.Client
	session   Session
	searchURL string
	limiter   *rate.Limiter

	baseDelay      time.Duration
	rateLimitDelay time.Duration
	maxJitter      time.Duration
}

func New(opts ...Options) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	c := Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   20 * time.Second,
		},
		searchURL:      DefaultSearchURL,
		limiter:        rate.NewLimiter(rate.Inf, 1),
		baseDelay:      3 * time.Second,
		rateLimitDelay: 15 * time.Second,
		maxJitter:      time.Second,
	}

	for _, opt := range opts {
		opt(&c)
	}

	return &c
}

func WithSession(s Session) Options {
	return func(c *Client) {
		c.session = s
	}
}

func WithSearchURL(u string) Options {
	return func(c *Client) {
		if u != "" {
			c.searchURL = u
		}
	}
}

func WithTimeout(d time.Duration) Options {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

func WithHTTPClient(hc *http.Client) Options {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRateLimit paces every outgoing request through a shared limiter.
func WithRateLimit(r rate.Limit, burst int) Options {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(r, max(burst, 1))
	}
}

func WithBackoff(base, rateLimited, jitter time.Duration) Options {
	return func(c *Client) {
		c.baseDelay = base
		c.rateLimitDelay = rateLimited
		c.maxJitter = jitter
	}
}

func (c *Client) HasSession() bool {
	return c.session.Valid()
}

func (c *Client) SearchURL(query string) string {
	u, err := url.Parse(c.searchURL)
	if err != nil {
		return c.searchURL + "&query=" + url.QueryEscape(query)
	}

	q := u.Query()
	q.Set("query", query)
	u.RawQuery = q.Encode()

	return u.String()
}

func (c *Client) FetchAuthenticated(ctx context.Context, rawURL string) (*goquery.Document, error) {
	return c.Fetch(ctx, rawURL, ModeAuthenticated)
}

func (c *Client) FetchAnonymous(ctx context.Context, rawURL string) (*goquery.Document, error) {
	return c.Fetch(ctx, rawURL, ModeAnonymous)
}

// Fetch issues a single GET. The returned document has Url set to the final
// location after redirects.
func (c *Client) Fetch(ctx context.Context, rawURL string, mode Mode) (*goquery.Document, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	for k, v := range randomHeaders() {
		req.Header.Set(k, v)
	}

	if mode == ModeAuthenticated && c.session.Valid() {
		req.Header.Set("Cookie", c.session.Cookie())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Status: resp.StatusCode, URL: rawURL}
	}

	body, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, &FetchError{Status: resp.StatusCode, URL: rawURL, Err: err}
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, &FetchError{Status: resp.StatusCode, URL: rawURL, Err: err}
	}

	doc.Url = resp.Request.URL

	return doc, nil
}

// FetchSearch loads the result page for query, retrying up to maxAttempts.
func (c *Client) FetchSearch(ctx context.Context, query string, mode Mode, maxAttempts int) (*goquery.Document, error) {
	log := scrapemate.GetLoggerFromContext(ctx)

	searchURL := c.SearchURL(query)
	maxAttempts = max(maxAttempts, 1)

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		doc, err := c.Fetch(ctx, searchURL, mode)
		if err == nil && IsBlocked(doc) {
			err = &FetchError{Status: http.StatusOK, URL: searchURL, Err: ErrBlocked}
		}

		if err == nil {
			return doc, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return nil, err
		}

		if attempt == maxAttempts {
			break
		}

		status := statusOf(err)
		delay := c.backoff(status, attempt)

		log.Info("search fetch failed, backing off",
			"query", query, "mode", mode.String(), "attempt", attempt, "status", status, "delay", delay.String(), "error", err.Error())

		if err := Wait(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("search %q failed after %d attempts: %w", query, maxAttempts, lastErr)
}

func (c *Client) backoff(status, attempt int) time.Duration {
	d := Backoff(status, attempt, c.baseDelay, c.rateLimitDelay)
	if c.maxJitter > 0 {
		d += rand.N(c.maxJitter)
	}

	return d
}

// Backoff is the deterministic part of the retry delay: base(status) × attempt.
func Backoff(status, attempt int, base, rateLimited time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	if IsRateLimitStatus(status) {
		return rateLimited * time.Duration(attempt)
	}

	return base * time.Duration(attempt)
}

func statusOf(err error) int {
	var fe *FetchError
	if errors.As(err, &fe) {
		if errors.Is(fe.Err, ErrBlocked) {
			return http.StatusTooManyRequests
		}

		return fe.Status
	}

	return 0
}

// Wait sleeps for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RandomDelay returns a duration in [lo, hi].
func RandomDelay(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}

	return lo + rand.N(hi-lo+1)
}
