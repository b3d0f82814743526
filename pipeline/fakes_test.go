package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/gosom/exposure-monitor/fetcher"
	"github.com/gosom/exposure-monitor/keyword"
	"github.com/gosom/exposure-monitor/serp"
	"github.com/gosom/exposure-monitor/vendors"
)

type crawlKey struct {
	query string
	mode  fetcher.Mode
}

type fakeCrawler struct {
	mu     sync.Mutex
	pages  map[crawlKey][]serp.CandidateItem
	errs   map[crawlKey]error
	panics map[string]bool
	calls  map[crawlKey]int

	onCrawl func()
}

func newFakeCrawler() *fakeCrawler {
	return &fakeCrawler{
		pages:  map[crawlKey][]serp.CandidateItem{},
		errs:   map[crawlKey]error{},
		panics: map[string]bool{},
		calls:  map[crawlKey]int{},
	}
}

func (f *fakeCrawler) set(query string, mode fetcher.Mode, items ...serp.CandidateItem) {
	f.pages[crawlKey{query, mode}] = items
}

func (f *fakeCrawler) Crawl(_ context.Context, query string, mode fetcher.Mode) ([]serp.CandidateItem, error) {
	k := crawlKey{query, mode}

	f.mu.Lock()
	f.calls[k]++
	f.mu.Unlock()

	if f.onCrawl != nil {
		f.onCrawl()
	}

	if f.panics[query] {
		panic("boom")
	}

	if err := f.errs[k]; err != nil {
		return nil, err
	}

	return f.pages[k], nil
}

func (f *fakeCrawler) count(query string, mode fetcher.Mode) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[crawlKey{query, mode}]
}

type fakeResolver struct {
	vendors map[string]string
	posts   map[string]string
}

func (f *fakeResolver) ResolveVendorName(_ context.Context, link string) string {
	return f.vendors[link]
}

func (f *fakeResolver) ResolvePost(_ context.Context, link string) (*vendors.Post, error) {
	html, ok := f.posts[link]
	if !ok {
		return nil, errors.New("not found")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	return &vendors.Post{URL: link, Doc: doc, Vendor: f.vendors[link]}, nil
}

type fakeSink struct {
	mu      sync.Mutex
	results map[string]keyword.Result
	err     error
}

func newFakeSink() *fakeSink {
	return &fakeSink{results: map[string]keyword.Result{}}
}

func (f *fakeSink) UpdateResult(_ context.Context, res keyword.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.results[res.ID] = res

	return f.err
}

func (f *fakeSink) get(id string) keyword.Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.results[id]
}

func candidate(publisher, post, title, topic string, rank int) serp.CandidateItem {
	return serp.CandidateItem{
		Title:         title,
		Link:          "https://blog.naver.com/" + publisher + "/" + post,
		PublisherName: strings.ToUpper(publisher),
		PublisherID:   publisher,
		Topic:         topic,
		GlobalRank:    rank,
	}
}
