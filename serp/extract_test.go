package serp

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const collectionPage = `<html><body>
<div class="fds-collection">
  <div class="fds-ugc-block-mod">
    <a class="fds-comps-right-image-text-title" href="https://blog.naver.com/alpha/100">Before any headline</a>
    <span class="fds-info-inner-text">Alpha</span>
  </div>
  <h2 class="fds-comps-header-headline">Coffee tips</h2>
  <div class="fds-ugc-block-mod">
    <a class="fds-comps-right-image-text-title" href="https://blog.naver.com/bravo/200">  Brewing   guide </a>
    <span class="fds-info-inner-text">Bravo</span>
  </div>
  <div class="fds-ugc-block-mod">
    <a class="fds-comps-right-image-text-title" href="https://cafe.naver.com/club/1">Forum post</a>
    <span class="fds-info-inner-text">Club</span>
  </div>
  <div class="fds-ugc-block-mod">
    <a class="fds-comps-right-image-text-title" href="https://blog.naver.com/bravo/200#comments">Duplicate</a>
    <span class="fds-info-inner-text">Bravo</span>
  </div>
  <div class="fds-ugc-block-mod">
    <a class="fds-comps-right-image-text-title" href="https://blog.naver.com/charlie/300">No publisher</a>
  </div>
</div>
<div class="fds-collection">
  <div class="fds-ugc-block-mod">
    <a class="fds-comps-right-image-text-title" href="/PostView.naver?blogId=Delta&amp;logNo=400">Relative link</a>
    <span class="fds-info-inner-text">Delta</span>
  </div>
</div>
</body></html>`

const singlePage = `<html><body>
<div class="fds-single-intention">
  <h2 class="fds-comps-header-headline">Coffee machine</h2>
  <ul>
    <li class="fds-single-intention-item"><a class="title_link" href="https://blog.naver.com/alpha/1">Coffee machine review</a><a class="name">Alpha</a></li>
    <li class="fds-single-intention-item"><a class="title_link" href="https://ader.naver.com/v1/xyz">Sponsored</a><a class="name">Ad</a></li>
    <li class="fds-single-intention-item"><a class="title_link" href="https://m.blog.naver.com/bravo/2">Best coffee machines</a><a class="name">Bravo</a></li>
  </ul>
</div>
</body></html>`

func newDoc(t *testing.T, html, base string) *goquery.Document {
	t.Helper()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	if base != "" {
		doc.Url, err = url.Parse(base)
		require.NoError(t, err)
	}

	return doc
}

func TestExtractCollection(t *testing.T) {
	doc := newDoc(t, collectionPage, "https://blog.naver.com/search")

	items := Extract(doc)
	require.Len(t, items, 3)

	assert.Equal(t, "Before any headline", items[0].Title)
	assert.Equal(t, DefaultTopic, items[0].Topic)
	assert.Equal(t, "alpha", items[0].PublisherID)
	assert.Equal(t, 1, items[0].GlobalRank)

	assert.Equal(t, "Brewing guide", items[1].Title)
	assert.Equal(t, "Coffee tips", items[1].Topic)
	assert.Equal(t, "Bravo", items[1].PublisherName)
	assert.Equal(t, 2, items[1].GlobalRank)

	// the topic does not leak into the next collection block
	assert.Equal(t, DefaultTopic, items[2].Topic)
	assert.Equal(t, "https://blog.naver.com/PostView.naver?blogId=Delta&logNo=400", items[2].Link)
	assert.Equal(t, "delta", items[2].PublisherID)
	assert.Equal(t, 3, items[2].GlobalRank)

	for i := range items {
		assert.Zero(t, items[i].OriginPage)
	}
}

func TestExtractSingleIntention(t *testing.T) {
	items := Extract(newDoc(t, singlePage, ""))
	require.Len(t, items, 2)

	kind, topics := Classify(items)
	assert.Equal(t, KindSingleTopic, kind)
	assert.Equal(t, []string{"Coffee machine"}, topics)
	assert.Equal(t, "bravo", items[1].PublisherID)
}

func TestExtractIdempotent(t *testing.T) {
	doc := newDoc(t, collectionPage, "https://blog.naver.com/")

	first := Extract(doc)
	second := Extract(doc)

	assert.Equal(t, first, second)
}

func TestExtractEmpty(t *testing.T) {
	assert.Empty(t, Extract(newDoc(t, `<html><body><p>nothing</p></body></html>`, "")))
	assert.Empty(t, Extract(nil))
}

func TestExtractPages(t *testing.T) {
	e := NewExtractor()

	page1 := newDoc(t, singlePage, "")
	page2 := newDoc(t, collectionPage, "https://blog.naver.com/")

	items := e.ExtractPages([]*goquery.Document{page1, page2})

	require.Len(t, items, 5)

	for i := range items {
		assert.Equal(t, i+1, items[i].GlobalRank)
	}

	assert.Equal(t, 1, items[0].OriginPage)
	assert.Equal(t, 2, items[2].OriginPage)

	single := e.ExtractPages([]*goquery.Document{page1})
	assert.Zero(t, single[0].OriginPage)
}

func TestExtractorOptions(t *testing.T) {
	e := NewExtractor(WithTargetHosts("m.blog.naver.com"), WithExcludedPatterns())

	items := e.Extract(newDoc(t, singlePage, ""))
	require.Len(t, items, 1)
	assert.Equal(t, "bravo", items[0].PublisherID)
}

func TestPublisherID(t *testing.T) {
	tests := []struct {
		link string
		want string
	}{
		{"https://blog.naver.com/Alpha/223", "alpha"},
		{"https://m.blog.naver.com/bravo/1?x=y", "bravo"},
		{"https://blog.naver.com/PostView.naver?blogId=Charlie&logNo=1", "charlie"},
		{"https://blog.naver.com/PostView.naver?logNo=1", ""},
		{"https://blog.naver.com/", ""},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, PublisherID(tc.link), tc.link)
	}
}

func TestPostNumber(t *testing.T) {
	assert.Equal(t, "223", PostNumber("https://blog.naver.com/alpha/223"))
	assert.Equal(t, "9", PostNumber("https://blog.naver.com/PostView.naver?blogId=a&logNo=9"))
	assert.Empty(t, PostNumber("https://blog.naver.com/alpha"))
}

func TestPostKey(t *testing.T) {
	tests := []struct {
		link string
		want string
	}{
		{"https://blog.naver.com/Alpha/100", "alpha/100"},
		{"https://m.blog.naver.com/alpha/100", "alpha/100"},
		{"https://blog.naver.com/PostView.naver?blogId=alpha&logNo=100", "alpha/100"},
		{"https://blog.naver.com/alpha/100#comments", "alpha/100"},
		{"https://blog.naver.com/alpha/", "https://blog.naver.com/alpha"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, PostKey(tc.link), tc.link)
	}
}

func TestExtractDedupesLinkForms(t *testing.T) {
	page := `<html><body>
<div class="fds-single-intention">
  <h2 class="fds-comps-header-headline">Coffee</h2>
  <ul>
    <li class="fds-single-intention-item"><a class="title_link" href="https://blog.naver.com/alpha/1">Coffee</a><a class="name">Alpha</a></li>
    <li class="fds-single-intention-item"><a class="title_link" href="https://m.blog.naver.com/alpha/1">Coffee again</a><a class="name">Alpha</a></li>
    <li class="fds-single-intention-item"><a class="title_link" href="https://blog.naver.com/bravo/2">Latte</a><a class="name">Bravo</a></li>
  </ul>
</div>
</body></html>`

	items := Extract(newDoc(t, page, ""))
	require.Len(t, items, 2)

	assert.Equal(t, "https://blog.naver.com/alpha/1", items[0].Link)
	assert.Equal(t, 2, items[1].GlobalRank)
}
