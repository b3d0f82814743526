package serp

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Selectors describes the markup of the two result layouts.
type Selectors struct {
	CollectionRoot     string
	CollectionHeadline string
	CollectionItem     string

	SingleRoot     string
	SingleHeadline string
	SingleItem     string

	ItemTitle     string
	ItemPublisher string
}

func DefaultSelectors() Selectors {
	return Selectors{
		CollectionRoot:     "div.fds-collection",
		CollectionHeadline: ".fds-comps-header-headline",
		CollectionItem:     ".fds-ugc-block-mod",
		SingleRoot:         "div.fds-single-intention",
		SingleHeadline:     ".fds-comps-header-headline",
		SingleItem:         "li.fds-single-intention-item",
		ItemTitle:          "a.fds-comps-right-image-text-title, a.title_link",
		ItemPublisher:      ".fds-info-inner-text, a.name",
	}
}

var (
	DefaultTargetHosts = []string{"blog.naver.com", "m.blog.naver.com"}

	DefaultExcludedPatterns = []string{"cafe.naver.com", "ader.naver.com", "/adcr", "searchad"}
)

type ExtractorOptions func(*Extractor)

// Extractor turns a result page into ordered candidate items.
type Extractor struct {
	sel      Selectors
	hosts    map[string]bool
	excluded []string
	layouts  []layout
}

func NewExtractor(opts ...ExtractorOptions) *Extractor {
	e := Extractor{
		sel:      DefaultSelectors(),
		excluded: DefaultExcludedPatterns,
	}

	WithTargetHosts(DefaultTargetHosts...)(&e)

	for _, opt := range opts {
		opt(&e)
	}

	e.layouts = []layout{
		collectionLayout{sel: e.sel},
		singleIntentionLayout{sel: e.sel},
	}

	return &e
}

func WithSelectors(sel Selectors) ExtractorOptions {
	return func(e *Extractor) {
		e.sel = sel
	}
}

func WithTargetHosts(hosts ...string) ExtractorOptions {
	return func(e *Extractor) {
		e.hosts = make(map[string]bool, len(hosts))
		for _, h := range hosts {
			e.hosts[strings.ToLower(h)] = true
		}
	}
}

func WithExcludedPatterns(patterns ...string) ExtractorOptions {
	return func(e *Extractor) {
		e.excluded = patterns
	}
}

var defaultExtractor = NewExtractor()

// Extract runs the default extractor over doc.
func Extract(doc *goquery.Document) []CandidateItem {
	return defaultExtractor.Extract(doc)
}

// Extract is pure: the same document always yields the same items in the
// same order.
func (e *Extractor) Extract(doc *goquery.Document) []CandidateItem {
	var (
		items []CandidateItem
		seen  = map[string]bool{}
		rank  int
	)

	e.extractInto(doc, 0, seen, &rank, &items)

	return items
}

// ExtractPages extracts a multi-page crawl. GlobalRank continues across pages
// and OriginPage is set only when there is more than one page.
func (e *Extractor) ExtractPages(docs []*goquery.Document) []CandidateItem {
	var (
		items []CandidateItem
		seen  = map[string]bool{}
		rank  int
	)

	for i, doc := range docs {
		page := 0
		if len(docs) > 1 {
			page = i + 1
		}

		e.extractInto(doc, page, seen, &rank, &items)
	}

	return items
}

func (e *Extractor) extractInto(doc *goquery.Document, page int, seen map[string]bool, rank *int, items *[]CandidateItem) {
	if doc == nil {
		return
	}

	base := doc.Url

	for _, l := range e.layouts {
		l.scan(doc, func(topic string, s *goquery.Selection) {
			item, ok := e.parseItem(s, base)
			if !ok {
				return
			}

			key := PostKey(item.Link)
			if seen[key] {
				return
			}

			seen[key] = true
			*rank++

			item.Topic = topic
			item.GlobalRank = *rank
			item.OriginPage = page

			*items = append(*items, item)
		})
	}
}

func (e *Extractor) parseItem(s *goquery.Selection, base *url.URL) (CandidateItem, bool) {
	titleSel := s.Find(e.sel.ItemTitle).First()

	title := cleanText(titleSel.Text())
	href, _ := titleSel.Attr("href")
	publisher := cleanText(s.Find(e.sel.ItemPublisher).First().Text())

	if title == "" || publisher == "" || href == "" {
		return CandidateItem{}, false
	}

	link, ok := e.acceptLink(href, base)
	if !ok {
		return CandidateItem{}, false
	}

	return CandidateItem{
		Title:         title,
		Link:          link,
		PublisherName: publisher,
		PublisherID:   PublisherID(link),
	}, true
}

// acceptLink resolves href and keeps it only when it points to a target host
// and is not a forum or ad-tracking link.
func (e *Extractor) acceptLink(href string, base *url.URL) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}

	if base != nil {
		u = base.ResolveReference(u)
	}

	link := u.String()
	lower := strings.ToLower(link)

	for _, p := range e.excluded {
		if strings.Contains(lower, strings.ToLower(p)) {
			return "", false
		}
	}

	if !e.hosts[strings.ToLower(u.Hostname())] {
		return "", false
	}

	return link, true
}

func canonicalLink(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}

	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimSuffix(u.Path, "/")

	return u.String()
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

type layout interface {
	scan(doc *goquery.Document, emit func(topic string, item *goquery.Selection))
}

// collectionLayout labels every item with the nearest preceding headline
// inside its collection block.
type collectionLayout struct {
	sel Selectors
}

func (l collectionLayout) scan(doc *goquery.Document, emit func(string, *goquery.Selection)) {
	union := l.sel.CollectionHeadline + ", " + l.sel.CollectionItem

	doc.Find(l.sel.CollectionRoot).Each(func(_ int, root *goquery.Selection) {
		topic := DefaultTopic

		root.Find(union).Each(func(_ int, s *goquery.Selection) {
			if s.Is(l.sel.CollectionHeadline) {
				if t := cleanText(s.Text()); t != "" {
					topic = t
				}

				return
			}

			emit(topic, s)
		})
	})
}

// singleIntentionLayout is a flat list sharing one headline.
type singleIntentionLayout struct {
	sel Selectors
}

func (l singleIntentionLayout) scan(doc *goquery.Document, emit func(string, *goquery.Selection)) {
	doc.Find(l.sel.SingleRoot).Each(func(_ int, root *goquery.Selection) {
		topic := cleanText(root.Find(l.sel.SingleHeadline).First().Text())
		if topic == "" {
			topic = DefaultTopic
		}

		root.Find(l.sel.SingleItem).Each(func(_ int, s *goquery.Selection) {
			emit(topic, s)
		})
	})
}
