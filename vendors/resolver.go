package vendors

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/gosom/scrapemate"

	"github.com/gosom/exposure-monitor/fetcher"
	"github.com/gosom/exposure-monitor/serp"
)

// Fetcher is the part of the fetch layer the resolver needs.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, mode fetcher.Mode) (*goquery.Document, error)
}

// Post is the fetched variant of a post that the resolver settled on.
type Post struct {
	URL    string
	Doc    *goquery.Document
	Vendor string
}

var ErrNoContent = errors.New("no post variant could be fetched")

type ResolverOptions func(*Resolver)

// Resolver fetches post content and extracts the vendor named in its map
// embed. Results are cached per link for the lifetime of the resolver.
type Resolver struct {
	fetcher    Fetcher
	mode       fetcher.Mode
	mobileHost string
	frameSel   string
	mapHosts   map[string]bool

	mu    sync.Mutex
	cache map[string]*Post
}

func NewResolver(f Fetcher, opts ...ResolverOptions) *Resolver {
	r := Resolver{
		fetcher:    f,
		mode:       fetcher.ModeAnonymous,
		mobileHost: "m.blog.naver.com",
		frameSel:   "iframe#mainFrame",
		mapHosts: map[string]bool{
			"map.naver.com":     true,
			"naver.me":          true,
			"place.naver.com":   true,
			"m.place.naver.com": true,
		},
		cache: map[string]*Post{},
	}

	for _, opt := range opts {
		opt(&r)
	}

	return &r
}

// WithFetchMode sets the access mode used for post fetches.
func WithFetchMode(m fetcher.Mode) ResolverOptions {
	return func(r *Resolver) {
		r.mode = m
	}
}

func WithMobileHost(host string) ResolverOptions {
	return func(r *Resolver) {
		r.mobileHost = host
	}
}

func WithMapHosts(hosts ...string) ResolverOptions {
	return func(r *Resolver) {
		r.mapHosts = make(map[string]bool, len(hosts))
		for _, h := range hosts {
			r.mapHosts[strings.ToLower(h)] = true
		}
	}
}

// ResolveVendorName returns the vendor text of the post at link, or an empty
// string when it cannot be determined.
func (r *Resolver) ResolveVendorName(ctx context.Context, link string) string {
	post, err := r.ResolvePost(ctx, link)
	if err != nil {
		log := scrapemate.GetLoggerFromContext(ctx)
		log.Info("vendor resolution failed", "link", link, "error", err.Error())

		return ""
	}

	return post.Vendor
}

// ResolvePost tries the post itself, then its nested content frame, then the
// mobile variant, and returns the first one carrying vendor markup. When none
// does, the last fetched variant is returned with an empty Vendor.
func (r *Resolver) ResolvePost(ctx context.Context, link string) (*Post, error) {
	r.mu.Lock()
	cached, ok := r.cache[link]
	r.mu.Unlock()

	if ok {
		return cached, nil
	}

	post, err := r.resolve(ctx, link)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[link] = post
	r.mu.Unlock()

	return post, nil
}

func (r *Resolver) resolve(ctx context.Context, link string) (*Post, error) {
	var (
		last    *Post
		lastErr error
	)

	try := func(u string) *Post {
		if u == "" {
			return nil
		}

		doc, err := r.fetcher.Fetch(ctx, u, r.mode)
		if err != nil {
			lastErr = err

			return nil
		}

		last = &Post{URL: u, Doc: doc, Vendor: r.VendorText(doc)}

		if last.Vendor != "" {
			return last
		}

		return nil
	}

	if p := try(link); p != nil {
		return p, nil
	}

	var frameURL string
	if last != nil {
		frameURL = r.frameURL(last.Doc, link)
	}

	if p := try(frameURL); p != nil {
		return p, nil
	}

	if p := try(r.mobileURL(link, frameURL)); p != nil {
		return p, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if last != nil {
		return last, nil
	}

	if lastErr == nil {
		lastErr = ErrNoContent
	}

	return nil, fmt.Errorf("resolve %s: %w", link, lastErr)
}

func (r *Resolver) frameURL(doc *goquery.Document, link string) string {
	src, ok := doc.Find(r.frameSel).First().Attr("src")
	if !ok || strings.TrimSpace(src) == "" {
		return ""
	}

	base, err := url.Parse(link)
	if err != nil {
		return ""
	}

	ref, err := url.Parse(strings.TrimSpace(src))
	if err != nil {
		return ""
	}

	return base.ResolveReference(ref).String()
}

// mobileURL builds the mobile variant from the publisher id and post number
// of link, falling back to the frame url which carries them as parameters.
func (r *Resolver) mobileURL(link, frameURL string) string {
	for _, candidate := range []string{link, frameURL} {
		if candidate == "" {
			continue
		}

		id := serp.PublisherID(candidate)
		no := serp.PostNumber(candidate)

		if id != "" && no != "" {
			return "https://" + r.mobileHost + "/" + id + "/" + no
		}
	}

	return ""
}

var mapSuffix = regexp.MustCompile(`(?i)\s*(?:[:|\-–]\s*)?(?:on\s+)?(?:naver\s*map|네이버\s*지도)\s*$`)

// VendorText extracts the vendor from a map embed card, falling back to the
// plain map title.
func (r *Resolver) VendorText(doc *goquery.Document) string {
	if doc == nil {
		return ""
	}

	var ans string

	doc.Find(".se-module-oglink").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Find("a.se-oglink-info, a.se-oglink-thumbnail").First().Attr("href")
		if !r.isMapLink(href) {
			return true
		}

		text := cleanText(s.Find(".se-oglink-title").First().Text())
		if text == "" {
			text = cleanText(s.Find(".se-oglink-summary").First().Text())
		}

		ans = strings.TrimSpace(mapSuffix.ReplaceAllString(text, ""))

		return ans == ""
	})

	if ans != "" {
		return ans
	}

	return cleanText(doc.Find(".se-map-title").First().Text())
}

func (r *Resolver) isMapLink(href string) bool {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil || u.Hostname() == "" {
		return false
	}

	return r.mapHosts[strings.ToLower(u.Hostname())]
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
