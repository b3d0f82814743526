package serp

import (
	"bufio"
	"io"
	"strings"
)

// AllowList is the set of publisher ids whose posts are tracked.
type AllowList map[string]struct{}

func NewAllowList(ids ...string) AllowList {
	ans := make(AllowList, len(ids))
	for _, id := range ids {
		ans.Add(id)
	}

	return ans
}

// ReadAllowList reads one publisher id per line. Blank lines and lines
// starting with # are ignored.
func ReadAllowList(r io.Reader) (AllowList, error) {
	ans := AllowList{}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		ans.Add(line)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return ans, nil
}

func (a AllowList) Add(id string) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id != "" {
		a[id] = struct{}{}
	}
}

func (a AllowList) Contains(id string) bool {
	_, ok := a[strings.ToLower(id)]

	return ok
}

type MatchOptions struct {
	AllowList  AllowList
	Permissive bool
}

// Classify returns the page kind and its distinct topics in first-seen order.
func Classify(items []CandidateItem) (Kind, []string) {
	var topics []string

	seen := map[string]bool{}

	for i := range items {
		if !seen[items[i].Topic] {
			seen[items[i].Topic] = true
			topics = append(topics, items[i].Topic)
		}
	}

	if len(topics) == 1 {
		return KindSingleTopic, topics
	}

	return KindMultiTopic, topics
}

// Match keeps the items whose publisher is accepted and assigns their rank.
// Ranks are counted over all extracted items, so a rejected item still
// occupies its slot.
func Match(query string, items []CandidateItem, opts MatchOptions) []ExposureMatch {
	kind, _ := Classify(items)

	var (
		ans     []ExposureMatch
		inTopic = map[string]int{}
	)

	for i := range items {
		inTopic[items[i].Topic]++

		rank := i + 1
		if kind == KindMultiTopic {
			rank = inTopic[items[i].Topic]
		}

		id := items[i].PublisherID
		if id == "" {
			continue
		}

		listed := opts.AllowList.Contains(id)
		if !listed && !opts.Permissive {
			continue
		}

		ans = append(ans, ExposureMatch{
			CandidateItem: items[i],
			Query:         query,
			Kind:          kind,
			Rank:          rank,
			AllowListed:   listed,
		})
	}

	return ans
}

// TopicDiff compares the topic sets of two crawls of the same query.
type TopicDiff struct {
	OnlyA  []string
	OnlyB  []string
	Common []string
}

func DiffTopics(a, b []string) TopicDiff {
	inA := make(map[string]bool, len(a))
	for _, t := range a {
		inA[t] = true
	}

	inB := make(map[string]bool, len(b))
	for _, t := range b {
		inB[t] = true
	}

	var ans TopicDiff

	for _, t := range a {
		if inB[t] {
			ans.Common = append(ans.Common, t)
		} else {
			ans.OnlyA = append(ans.OnlyA, t)
		}
	}

	for _, t := range b {
		if !inA[t] {
			ans.OnlyB = append(ans.OnlyB, t)
		}
	}

	return ans
}
