package serp

import (
	"net/url"
	"strconv"
	"strings"
)

// Kind tells whether a result page shows a single topic group or several.
type Kind string

const (
	KindSingleTopic Kind = "single-topic"
	KindMultiTopic  Kind = "multi-topic"
)

// DefaultTopic is used for items that appear before any headline.
const DefaultTopic = "popular"

// CandidateItem is one post link extracted from a result page.
type CandidateItem struct {
	Title         string `json:"title"`
	Link          string `json:"link"`
	PublisherName string `json:"publisher_name"`
	PublisherID   string `json:"publisher_id"`
	Topic         string `json:"topic"`
	GlobalRank    int    `json:"global_rank"`
	OriginPage    int    `json:"origin_page,omitempty"`
}

// ExposureMatch is a candidate accepted by Match together with its in-topic rank.
type ExposureMatch struct {
	CandidateItem
	Query       string `json:"query"`
	Kind        Kind   `json:"kind"`
	Rank        int    `json:"rank"`
	AllowListed bool   `json:"allow_listed"`
}

func (m *ExposureMatch) CsvHeaders() []string {
	return []string{
		"query",
		"kind",
		"topic",
		"rank",
		"global_rank",
		"title",
		"link",
		"publisher_name",
		"publisher_id",
		"allow_listed",
		"origin_page",
	}
}

func (m *ExposureMatch) CsvRow() []string {
	return []string{
		m.Query,
		string(m.Kind),
		m.Topic,
		strconv.Itoa(m.Rank),
		strconv.Itoa(m.GlobalRank),
		m.Title,
		m.Link,
		m.PublisherName,
		m.PublisherID,
		strconv.FormatBool(m.AllowListed),
		strconv.Itoa(m.OriginPage),
	}
}

// PublisherID returns the lower-cased publisher identifier of a post link:
// the blogId query parameter when present, otherwise the first path segment.
func PublisherID(link string) string {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return ""
	}

	if id := u.Query().Get("blogId"); id != "" {
		return strings.ToLower(id)
	}

	for _, seg := range strings.Split(u.Path, "/") {
		if seg == "" {
			continue
		}

		if strings.HasSuffix(seg, ".naver") || strings.HasSuffix(seg, ".nhn") {
			return ""
		}

		return strings.ToLower(seg)
	}

	return ""
}

// PostKey identifies a post whatever form its link takes (desktop, mobile or
// PostView query). Links without a publisher and post number fall back to
// their canonical form.
func PostKey(link string) string {
	pub, no := PublisherID(link), PostNumber(link)
	if pub == "" || no == "" {
		return canonicalLink(link)
	}

	return pub + "/" + no
}

// PostNumber returns the numeric post id of a link (second path segment or
// the logNo query parameter).
func PostNumber(link string) string {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return ""
	}

	if n := u.Query().Get("logNo"); n != "" {
		return n
	}

	var segs []string

	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			segs = append(segs, seg)
		}
	}

	if len(segs) < 2 {
		return ""
	}

	if _, err := strconv.ParseUint(segs[1], 10, 64); err != nil {
		return ""
	}

	return segs[1]
}
