package pipeline

import (
	"strconv"
	"strings"
	"time"

	"github.com/gosom/exposure-monitor/fetcher"
	"github.com/gosom/exposure-monitor/keyword"
	"github.com/gosom/exposure-monitor/serp"
)

type State string

const (
	StateStart         State = "start"
	StateCrawled       State = "crawled"
	StateExcluded      State = "excluded"
	StateQueueEmpty    State = "queue-empty"
	StateMatched       State = "matched"
	StateFilterAttempt State = "filter-attempt"
	StateFilterFailed  State = "filter-failed"
	StateRecovered     State = "recovered-via-opposite-mode"
	StateSuccess       State = "success"
	StateFailed        State = "failed"
)

func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateFailed, StateExcluded:
		return true
	default:
		return false
	}
}

const (
	ReasonQueueExhausted    = "queue exhausted"
	ReasonBothFiltersFailed = "both vendor and title filtering failed"
	ReasonTitleFilterFailed = "title filtering failed"
)

// Outcome is the end state of one keyword together with the path that led
// to it.
type Outcome struct {
	Plan        keyword.Plan
	State       State
	Path        []State
	Reason      string
	Kind        serp.Kind
	Topics      []string
	Match       *serp.ExposureMatch
	MatchedBy   keyword.MatchedBy
	MatchReason string
	Vendor      string
	Recovered   bool
	NeedsReview bool
	Duration    time.Duration
}

func (o *Outcome) Visible() bool {
	return o.State == StateSuccess && o.Match != nil
}

// CsvHeaders and CsvRow let outcomes go through the scrapemate writers.
func (o *Outcome) CsvHeaders() []string {
	return []string{
		"id",
		"keyword",
		"query",
		"target",
		"classification",
		"state",
		"reason",
		"kind",
		"topic",
		"rank",
		"global_rank",
		"title",
		"link",
		"matched_by",
		"match_reason",
		"vendor",
		"recovered",
		"needs_review",
		"path",
	}
}

func (o *Outcome) CsvRow() []string {
	var (
		topic, title, link string
		rank, globalRank   string
	)

	if o.Match != nil {
		topic = o.Match.Topic
		title = o.Match.Title
		link = o.Match.Link
		rank = strconv.Itoa(o.Match.Rank)
		globalRank = strconv.Itoa(o.Match.GlobalRank)
	}

	path := make([]string, len(o.Path))
	for i := range o.Path {
		path[i] = string(o.Path[i])
	}

	return []string{
		o.Plan.Record.ID,
		o.Plan.Record.Query,
		o.Plan.Query,
		o.Plan.Target,
		string(o.Plan.Class),
		string(o.State),
		o.Reason,
		string(o.Kind),
		topic,
		rank,
		globalRank,
		title,
		link,
		string(o.MatchedBy),
		o.MatchReason,
		o.Vendor,
		strconv.FormatBool(o.Recovered),
		strconv.FormatBool(o.NeedsReview),
		strings.Join(path, ">"),
	}
}

// Summary aggregates a batch.
type Summary struct {
	Total     int               `json:"total"`
	Success   int               `json:"success"`
	Failed    int               `json:"failed"`
	Excluded  int               `json:"excluded"`
	Recovered int               `json:"recovered"`
	Kinds     map[serp.Kind]int `json:"kinds"`
}

// Report is everything a batch produced.
type Report struct {
	BatchID    string
	Mode       fetcher.Mode
	StartedAt  time.Time
	FinishedAt time.Time
	Queries    int
	Outcomes   []Outcome
	Summary    Summary
}

// Matches returns the accepted exposures in keyword order.
func (r *Report) Matches() []serp.ExposureMatch {
	var ans []serp.ExposureMatch

	for i := range r.Outcomes {
		if r.Outcomes[i].Visible() {
			ans = append(ans, *r.Outcomes[i].Match)
		}
	}

	return ans
}

func summarize(outcomes []Outcome) Summary {
	s := Summary{
		Total: len(outcomes),
		Kinds: map[serp.Kind]int{},
	}

	for i := range outcomes {
		switch outcomes[i].State {
		case StateSuccess:
			s.Success++

			if outcomes[i].Match != nil {
				s.Kinds[outcomes[i].Match.Kind]++
			}
		case StateExcluded:
			s.Excluded++
		default:
			s.Failed++
		}

		if outcomes[i].Recovered {
			s.Recovered++
		}
	}

	return s
}
