package pipeline

import (
	"sync"

	"github.com/gosom/exposure-monitor/serp"
)

// entry is the batch-scoped crawl cache of one normalized query. Every field
// is guarded by mu.
type entry struct {
	mu sync.Mutex

	query   string
	crawled bool
	err     error

	items  []serp.CandidateItem
	kind   serp.Kind
	topics []string

	// queue holds every identifiable publisher match; AllowListed decides
	// whether non-permissive categories may see an item. used and guestAdded
	// are keyed by serp.PostKey.
	queue      []serp.ExposureMatch
	used       map[string]bool
	guestAdded map[string]bool

	guestDone   bool
	guestItems  []serp.CandidateItem
	guestTopics []string
	guestErr    error
}

func newEntry(query string) *entry {
	return &entry{
		query:      query,
		used:       map[string]bool{},
		guestAdded: map[string]bool{},
	}
}

func (e *entry) setItems(items []serp.CandidateItem, allow serp.AllowList) {
	e.items = items
	e.kind, e.topics = serp.Classify(items)
	e.queue = serp.Match(e.query, items, serp.MatchOptions{AllowList: allow, Permissive: true})
}

// view returns the queue as seen by a category.
func (e *entry) view(permissive bool) []serp.ExposureMatch {
	var ans []serp.ExposureMatch

	for i := range e.queue {
		if e.used[serp.PostKey(e.queue[i].Link)] {
			continue
		}

		if permissive || e.queue[i].AllowListed {
			ans = append(ans, e.queue[i])
		}
	}

	return ans
}

func (e *entry) queued(key string) bool {
	for i := range e.queue {
		if serp.PostKey(e.queue[i].Link) == key {
			return true
		}
	}

	return false
}

// consume removes the post behind link from the queue and records it as used
// so no other keyword of the query can claim it, whatever link form it is
// found under.
func (e *entry) consume(link string) {
	key := serp.PostKey(link)

	e.used[key] = true

	for i := range e.queue {
		if serp.PostKey(e.queue[i].Link) == key {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)

			return
		}
	}
}

// merge appends anonymous-mode matches that are neither used, already merged
// nor already queued, and returns the ones it added.
func (e *entry) merge(matches []serp.ExposureMatch) []serp.ExposureMatch {
	var added []serp.ExposureMatch

	for i := range matches {
		key := serp.PostKey(matches[i].Link)

		if e.used[key] || e.guestAdded[key] || e.queued(key) {
			continue
		}

		e.guestAdded[key] = true
		e.queue = append(e.queue, matches[i])
		added = append(added, matches[i])
	}

	return added
}

// Registry maps normalized queries to their crawl cache entries for one batch.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]*entry{}}
}

func (r *Registry) get(query string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[query]
	if !ok {
		e = newEntry(query)
		r.entries[query] = e
	}

	return e
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}
