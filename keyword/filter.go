package keyword

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/gosom/scrapemate"

	"github.com/gosom/exposure-monitor/fetcher"
	"github.com/gosom/exposure-monitor/serp"
	"github.com/gosom/exposure-monitor/vendors"
)

type MatchedBy string

const (
	MatchedByVendor MatchedBy = "vendor"
	MatchedByTitle  MatchedBy = "title"
	MatchedByNone   MatchedBy = "none"
)

const (
	ReasonInstantBrand         = "instant-brand"
	ReasonTitleContainsTarget  = "title-contains-target"
	ReasonTitleContainsRoot    = "title-contains-brand-root"
	ReasonTitleTokens          = "title-tokens"
	ReasonTitleTokensReordered = "title-tokens-reordered"
)

// VendorLookup resolves the vendor named in a post.
type VendorLookup interface {
	ResolveVendorName(ctx context.Context, link string) string
}

type FilterOptions struct {
	// MaxVendorChecks bounds the vendor pass; 0 checks the whole queue.
	MaxVendorChecks int
	CheckDelay      time.Duration
	InstantBrands   []string
}

// MatchResult is the outcome of one filter run. Index is -1 when nothing
// matched.
type MatchResult struct {
	Index     int
	Match     serp.ExposureMatch
	MatchedBy MatchedBy
	Vendor    string
	Reason    string
}

func (m MatchResult) Found() bool {
	return m.Index >= 0
}

func noMatch() MatchResult {
	return MatchResult{Index: -1, MatchedBy: MatchedByNone}
}

// IsInstantBrand reports whether target belongs to a brand that is accepted
// without looking at post content.
func IsInstantBrand(target string, brands []string) bool {
	nt := vendors.Normalize(target)
	if nt == "" {
		return false
	}

	for _, b := range brands {
		if nb := vendors.Normalize(b); nb != "" && strings.Contains(nt, nb) {
			return true
		}
	}

	return false
}

// FindMatch returns the first queue item whose post names target as vendor,
// falling back to the first item whose title mentions it. The only error
// returned is the context error when ctx is done during pacing.
func FindMatch(
	ctx context.Context,
	queue []serp.ExposureMatch,
	target string,
	lookup VendorLookup,
	opts FilterOptions,
) (MatchResult, error) {
	if len(queue) == 0 || strings.TrimSpace(target) == "" {
		return noMatch(), nil
	}

	if IsInstantBrand(target, opts.InstantBrands) {
		return MatchResult{
			Index:     0,
			Match:     queue[0],
			MatchedBy: MatchedByVendor,
			Vendor:    target,
			Reason:    ReasonInstantBrand,
		}, nil
	}

	if lookup != nil {
		res, err := vendorPass(ctx, queue, target, lookup, opts)
		if err != nil || res.Found() {
			return res, err
		}
	}

	return titlePass(queue, target), nil
}

func vendorPass(
	ctx context.Context,
	queue []serp.ExposureMatch,
	target string,
	lookup VendorLookup,
	opts FilterOptions,
) (MatchResult, error) {
	log := scrapemate.GetLoggerFromContext(ctx)

	checks := 0

	for i := range queue {
		if opts.MaxVendorChecks > 0 && checks >= opts.MaxVendorChecks {
			break
		}

		if checks > 0 && opts.CheckDelay > 0 {
			if err := fetcher.Wait(ctx, opts.CheckDelay); err != nil {
				return noMatch(), err
			}
		}

		checks++

		name := lookup.ResolveVendorName(ctx, queue[i].Link)

		reason, ok := vendors.MatchVendor(name, target)
		if ok {
			return MatchResult{
				Index:     i,
				Match:     queue[i],
				MatchedBy: MatchedByVendor,
				Vendor:    name,
				Reason:    string(reason),
			}, nil
		}

		log.Info("vendor mismatch", "link", queue[i].Link, "vendor", name, "target", target)
	}

	return noMatch(), nil
}

func titlePass(queue []serp.ExposureMatch, target string) MatchResult {
	nt := vendors.Normalize(target)
	root := vendors.Normalize(vendors.BrandRoot(target))

	for i := range queue {
		title := vendors.Normalize(queue[i].Title)

		var reason string

		switch {
		case strings.Contains(title, nt):
			reason = ReasonTitleContainsTarget
		case utf8.RuneCountInString(root) >= 2 && strings.Contains(title, root):
			reason = ReasonTitleContainsRoot
		default:
			continue
		}

		return MatchResult{
			Index:     i,
			Match:     queue[i],
			MatchedBy: MatchedByTitle,
			Reason:    reason,
		}
	}

	return noMatch()
}

// TitleFilter is used when a keyword has no target vendor. Every whitespace
// token of query must appear in the title. When no title passes and the
// query has at least two tokens, the tokens may also appear in forward or
// reverse order with anything between them, ignoring punctuation.
func TitleFilter(queue []serp.ExposureMatch, query string) MatchResult {
	tokens := strings.Fields(strings.ToLower(query))
	if len(queue) == 0 || len(tokens) == 0 {
		return noMatch()
	}

	for i := range queue {
		title := vendors.Normalize(queue[i].Title)
		if containsAll(title, tokens) {
			return MatchResult{
				Index:     i,
				Match:     queue[i],
				MatchedBy: MatchedByTitle,
				Reason:    ReasonTitleTokens,
			}
		}
	}

	re := tokenOrderPattern(tokens)
	if re == nil {
		return noMatch()
	}

	for i := range queue {
		if re.MatchString(stripPunct(queue[i].Title)) {
			return MatchResult{
				Index:     i,
				Match:     queue[i],
				MatchedBy: MatchedByTitle,
				Reason:    ReasonTitleTokensReordered,
			}
		}
	}

	return noMatch()
}

func containsAll(s string, tokens []string) bool {
	for _, t := range tokens {
		if !strings.Contains(s, t) {
			return false
		}
	}

	return true
}

// tokenOrderPattern returns nil for fewer than two usable tokens.
func tokenOrderPattern(tokens []string) *regexp.Regexp {
	var parts []string

	for _, t := range tokens {
		if s := stripPunct(t); s != "" {
			parts = append(parts, regexp.QuoteMeta(s))
		}
	}

	if len(parts) < 2 {
		return nil
	}

	reversed := make([]string, len(parts))
	for i, p := range parts {
		reversed[len(parts)-1-i] = p
	}

	return regexp.MustCompile("(?:" + strings.Join(parts, ".*?") + ")|(?:" + strings.Join(reversed, ".*?") + ")")
}

func stripPunct(s string) string {
	var b strings.Builder

	for _, r := range strings.ToLower(s) {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r) {
			continue
		}

		b.WriteRune(r)
	}

	return b.String()
}
