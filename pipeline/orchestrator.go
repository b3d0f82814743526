package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gosom/scrapemate"
	"golang.org/x/sync/errgroup"

	"github.com/gosom/exposure-monitor/fetcher"
	"github.com/gosom/exposure-monitor/keyword"
	"github.com/gosom/exposure-monitor/serp"
	"github.com/gosom/exposure-monitor/vendors"
)

const LogicVersion = "2.1"

// ResultSink receives the verdict of every keyword.
type ResultSink interface {
	UpdateResult(ctx context.Context, res keyword.Result) error
}

// PostResolver resolves post content for vendor matching and the quality
// check.
type PostResolver interface {
	ResolveVendorName(ctx context.Context, link string) string
	ResolvePost(ctx context.Context, link string) (*vendors.Post, error)
}

// CategoryOptions are the per-category knobs of the filter.
type CategoryOptions struct {
	Permissive      bool
	MaxVendorChecks int
	CheckDelay      time.Duration
}

type Options func(*Orchestrator)

type Orchestrator struct {
	crawler  Crawler
	resolver PostResolver
	sink     ResultSink

	mode          fetcher.Mode
	allow         serp.AllowList
	categories    map[string]CategoryOptions
	defaults      CategoryOptions
	instantBrands []string
	exclusion     keyword.Exclusion
	delayMin      time.Duration
	delayMax      time.Duration
	concurrency   int
	logicVersion  string
	now           func() time.Time
}

func New(crawler Crawler, resolver PostResolver, sink ResultSink, opts ...Options) *Orchestrator {
	o := Orchestrator{
		crawler:      crawler,
		resolver:     resolver,
		sink:         sink,
		mode:         fetcher.ModeAnonymous,
		allow:        serp.AllowList{},
		categories:   map[string]CategoryOptions{},
		defaults:     CategoryOptions{MaxVendorChecks: 5, CheckDelay: 2 * time.Second},
		exclusion:    keyword.DefaultExclusion(),
		delayMin:     5 * time.Second,
		delayMax:     10 * time.Second,
		concurrency:  1,
		logicVersion: LogicVersion,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(&o)
	}

	return &o
}

// WithMode sets the primary access mode of the batch.
func WithMode(m fetcher.Mode) Options {
	return func(o *Orchestrator) {
		o.mode = m
	}
}

func WithAllowList(a serp.AllowList) Options {
	return func(o *Orchestrator) {
		o.allow = a
	}
}

func WithCategoryOptions(categories map[string]CategoryOptions) Options {
	return func(o *Orchestrator) {
		o.categories = categories
	}
}

func WithDefaultCategoryOptions(c CategoryOptions) Options {
	return func(o *Orchestrator) {
		o.defaults = c
	}
}

func WithInstantBrands(brands ...string) Options {
	return func(o *Orchestrator) {
		o.instantBrands = brands
	}
}

func WithExclusion(e keyword.Exclusion) Options {
	return func(o *Orchestrator) {
		o.exclusion = e
	}
}

// WithQueryDelay sets the randomized pause applied after every fresh crawl.
func WithQueryDelay(lo, hi time.Duration) Options {
	return func(o *Orchestrator) {
		o.delayMin = lo
		o.delayMax = hi
	}
}

func WithConcurrency(n int) Options {
	return func(o *Orchestrator) {
		o.concurrency = max(n, 1)
	}
}

func WithLogicVersion(v string) Options {
	return func(o *Orchestrator) {
		o.logicVersion = v
	}
}

func (o *Orchestrator) category(name string) CategoryOptions {
	if c, ok := o.categories[name]; ok {
		return c
	}

	return o.defaults
}

// Run evaluates records as one batch. Keywords sharing a normalized query run
// in input order against one cache entry; distinct queries may run in
// parallel. The returned error is non-nil only when ctx ends the batch early.
func (o *Orchestrator) Run(ctx context.Context, records []keyword.Record) (*Report, error) {
	report := Report{
		BatchID:   uuid.New().String(),
		Mode:      o.mode,
		StartedAt: o.now().UTC(),
		Outcomes:  make([]Outcome, len(records)),
	}

	log := scrapemate.GetLoggerFromContext(ctx)
	log.Info("batch started", "batch", report.BatchID, "keywords", len(records), "mode", o.mode.String())

	plans := make([]keyword.Plan, len(records))

	var (
		order  []string
		groups = map[string][]int{}
	)

	for i := range records {
		plans[i] = keyword.NewPlan(records[i])

		q := plans[i].Query
		if _, ok := groups[q]; !ok {
			order = append(order, q)
		}

		groups[q] = append(groups[q], i)
	}

	registry := NewRegistry()
	done := make([]bool, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for _, q := range order {
		indices := groups[q]

		g.Go(func() error {
			for _, i := range indices {
				if err := gctx.Err(); err != nil {
					return err
				}

				out, ok := o.runKeyword(gctx, registry, plans[i])
				if !ok {
					return gctx.Err()
				}

				report.Outcomes[i] = out
				done[i] = true
			}

			return nil
		})
	}

	err := g.Wait()

	if err != nil {
		var finished []Outcome

		for i := range report.Outcomes {
			if done[i] {
				finished = append(finished, report.Outcomes[i])
			}
		}

		report.Outcomes = finished
	}

	report.FinishedAt = o.now().UTC()
	report.Queries = registry.Len()
	report.Summary = summarize(report.Outcomes)

	log.Info("batch finished",
		"batch", report.BatchID,
		"success", report.Summary.Success,
		"failed", report.Summary.Failed,
		"excluded", report.Summary.Excluded,
		"single_topic", report.Summary.Kinds[serp.KindSingleTopic],
		"multi_topic", report.Summary.Kinds[serp.KindMultiTopic],
	)

	return &report, err
}

// runKeyword evaluates and persists one keyword. It reports false when ctx
// ended the evaluation; such a keyword has no verdict and is not persisted.
func (o *Orchestrator) runKeyword(ctx context.Context, registry *Registry, p keyword.Plan) (Outcome, bool) {
	t0 := time.Now()

	out := o.safeEvaluate(ctx, registry, p)
	out.Duration = time.Since(t0)

	if ctx.Err() != nil {
		return out, false
	}

	o.persist(ctx, &out)

	log := scrapemate.GetLoggerFromContext(ctx)

	if out.Visible() {
		log.Info("keyword done",
			"id", p.Record.ID, "query", p.Query, "state", string(out.State),
			"rank", out.Match.Rank, "topic", out.Match.Topic, "matched_by", string(out.MatchedBy), "recovered", out.Recovered)
	} else {
		log.Info("keyword done", "id", p.Record.ID, "query", p.Query, "state", string(out.State), "reason", out.Reason)
	}

	return out, true
}

// safeEvaluate turns a panic inside one keyword into a failed outcome so the
// batch continues.
func (o *Orchestrator) safeEvaluate(ctx context.Context, registry *Registry, p keyword.Plan) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log := scrapemate.GetLoggerFromContext(ctx)
			log.Info("keyword panicked", "id", p.Record.ID, "panic", fmt.Sprint(r))

			out = Outcome{
				Plan:   p,
				State:  StateFailed,
				Path:   append(out.Path, StateFailed),
				Reason: fmt.Sprintf("internal error: %v", r),
			}
		}
	}()

	return o.evaluate(ctx, registry, p)
}

// keywordRun is the mutable context of one keyword while it moves through
// the states.
type keywordRun struct {
	plan  keyword.Plan
	cat   CategoryOptions
	entry *entry
	out   *Outcome
}

func (o *Orchestrator) evaluate(ctx context.Context, registry *Registry, p keyword.Plan) Outcome {
	e := registry.get(p.Query)

	e.mu.Lock()
	defer e.mu.Unlock()

	run := keywordRun{
		plan:  p,
		cat:   o.category(p.Record.Category),
		entry: e,
		out:   &Outcome{Plan: p},
	}

	state := StateStart

	for !state.Terminal() {
		run.out.Path = append(run.out.Path, state)
		state = o.step(ctx, &run, state)
	}

	run.out.Path = append(run.out.Path, state)
	run.out.State = state

	return *run.out
}

func (o *Orchestrator) step(ctx context.Context, run *keywordRun, s State) State {
	switch s {
	case StateStart:
		return o.crawl(ctx, run)
	case StateCrawled:
		return o.afterCrawl(run)
	case StateMatched:
		return StateFilterAttempt
	case StateFilterAttempt:
		return o.filterQueue(ctx, run)
	case StateQueueEmpty:
		reason := ReasonQueueExhausted
		if run.entry.err != nil {
			reason += ": crawl failed: " + run.entry.err.Error()
		}

		return o.recoverOpposite(ctx, run, reason)
	case StateFilterFailed:
		reason := ReasonTitleFilterFailed
		if run.plan.Target != "" {
			reason = ReasonBothFiltersFailed
		}

		return o.recoverOpposite(ctx, run, reason)
	case StateRecovered:
		run.out.Recovered = true

		return StateSuccess
	default:
		run.out.Reason = fmt.Sprintf("unexpected state %q", s)

		return StateFailed
	}
}

// crawl fills the cache entry on first sight of the query. A failed crawl
// still marks the entry crawled so that later keywords do not hammer the
// engine, and opposite-mode recovery can still rescue the keyword.
func (o *Orchestrator) crawl(ctx context.Context, run *keywordRun) State {
	e := run.entry
	log := scrapemate.GetLoggerFromContext(ctx)

	if e.crawled {
		log.Info("query cache hit", "query", e.query, "queued", len(e.queue))
	} else {
		items, err := o.crawler.Crawl(ctx, e.query, o.mode)

		e.crawled = true

		if err != nil {
			e.err = err
			log.Info("primary crawl failed", "query", e.query, "mode", o.mode.String(), "error", err.Error())
		} else {
			e.setItems(items, o.allow)
			log.Info("query crawled", "query", e.query, "items", len(items), "queued", len(e.queue), "kind", string(e.kind))
		}

		if err := fetcher.Wait(ctx, fetcher.RandomDelay(o.delayMin, o.delayMax)); err != nil {
			run.out.Reason = err.Error()

			return StateFailed
		}
	}

	run.out.Kind = e.kind
	run.out.Topics = e.topics

	return StateCrawled
}

func (o *Orchestrator) afterCrawl(run *keywordRun) State {
	if reason, excluded := o.exclusion.Check(run.plan.Record); excluded {
		run.out.Reason = reason

		return StateExcluded
	}

	if len(run.entry.view(run.cat.Permissive)) == 0 {
		return StateQueueEmpty
	}

	return StateMatched
}

func (o *Orchestrator) filterQueue(ctx context.Context, run *keywordRun) State {
	res, err := o.filter(ctx, run, run.entry.view(run.cat.Permissive))
	if err != nil {
		run.out.Reason = err.Error()

		return StateFailed
	}

	if !res.Found() {
		return StateFilterFailed
	}

	o.accept(ctx, run, res)

	return StateSuccess
}

// recoverOpposite retries a keyword with candidates only visible in anonymous
// mode. It only applies when the batch runs authenticated.
func (o *Orchestrator) recoverOpposite(ctx context.Context, run *keywordRun, reason string) State {
	if o.mode != fetcher.ModeAuthenticated {
		run.out.Reason = reason

		return StateFailed
	}

	added, err := o.mergeGuest(ctx, run.entry)
	if err != nil {
		run.out.Reason = reason + ": " + err.Error()

		return StateFailed
	}

	if len(added) == 0 {
		run.out.Reason = reason

		return StateFailed
	}

	res, err := o.filter(ctx, run, added)
	if err != nil {
		run.out.Reason = err.Error()

		return StateFailed
	}

	if !res.Found() {
		run.out.Reason = reason

		return StateFailed
	}

	o.accept(ctx, run, res)

	return StateRecovered
}

// mergeGuest crawls the query anonymously once per batch and merges the
// allow-listed matches that are new to the entry.
func (o *Orchestrator) mergeGuest(ctx context.Context, e *entry) ([]serp.ExposureMatch, error) {
	log := scrapemate.GetLoggerFromContext(ctx)

	if !e.guestDone {
		mode := o.mode.Opposite()

		items, err := o.crawler.Crawl(ctx, e.query, mode)

		e.guestDone = true
		e.guestItems = items
		e.guestErr = err

		if err == nil {
			_, e.guestTopics = serp.Classify(items)

			diff := serp.DiffTopics(e.topics, e.guestTopics)
			log.Info("opposite mode topics",
				"query", e.query,
				"auth_only", diff.OnlyA,
				"guest_only", diff.OnlyB,
				"common", diff.Common,
			)
		} else {
			log.Info("opposite mode crawl failed", "query", e.query, "mode", mode.String(), "error", err.Error())
		}

		if err := fetcher.Wait(ctx, fetcher.RandomDelay(o.delayMin, o.delayMax)); err != nil {
			return nil, err
		}
	}

	if e.guestErr != nil {
		return nil, e.guestErr
	}

	matches := serp.Match(e.query, e.guestItems, serp.MatchOptions{AllowList: o.allow})
	added := e.merge(matches)

	log.Info("opposite mode merge", "query", e.query, "matches", len(matches), "added", len(added))

	return added, nil
}

func (o *Orchestrator) filter(ctx context.Context, run *keywordRun, queue []serp.ExposureMatch) (keyword.MatchResult, error) {
	if run.plan.Target == "" {
		return keyword.TitleFilter(queue, run.plan.Query), nil
	}

	return keyword.FindMatch(ctx, queue, run.plan.Target, o.resolver, keyword.FilterOptions{
		MaxVendorChecks: run.cat.MaxVendorChecks,
		CheckDelay:      run.cat.CheckDelay,
		InstantBrands:   o.instantBrands,
	})
}

func (o *Orchestrator) accept(ctx context.Context, run *keywordRun, res keyword.MatchResult) {
	run.entry.consume(res.Match.Link)

	m := res.Match

	run.out.Match = &m
	run.out.MatchedBy = res.MatchedBy
	run.out.MatchReason = res.Reason
	run.out.Vendor = res.Vendor

	if run.plan.Class != keyword.ClassRestaurant || o.resolver == nil {
		return
	}

	post, err := o.resolver.ResolvePost(ctx, m.Link)
	if err != nil {
		log := scrapemate.GetLoggerFromContext(ctx)
		log.Info("quality check skipped", "link", m.Link, "error", err.Error())

		return
	}

	run.out.NeedsReview = vendors.NeedsUpdate(post.Doc)
}

func (o *Orchestrator) persist(ctx context.Context, out *Outcome) {
	if o.sink == nil {
		return
	}

	res := keyword.Result{
		ID:             out.Plan.Record.ID,
		Visible:        out.Visible(),
		Classification: out.Plan.Class,
		AuxName:        out.Plan.Aux,
		LogicVersion:   o.logicVersion,
		Reason:         out.Reason,
		CheckedAt:      o.now().UTC(),
	}

	if out.Visible() {
		res.Topic = out.Match.Topic
		res.Link = out.Match.Link
		res.Title = out.Match.Title
		res.Rank = out.Match.Rank
		res.GlobalRank = out.Match.GlobalRank
		res.VendorName = out.Vendor
		res.NeedsReview = out.NeedsReview
		res.FoundPage = max(out.Match.OriginPage, 1)
	}

	if err := o.sink.UpdateResult(ctx, res); err != nil {
		log := scrapemate.GetLoggerFromContext(ctx)
		log.Info("result update failed", "id", res.ID, "error", err.Error())
	}
}
