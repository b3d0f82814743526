package keyword

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosom/exposure-monitor/serp"
)

type fakeLookup struct {
	vendors map[string]string
	calls   []string
}

func (f *fakeLookup) ResolveVendorName(_ context.Context, link string) string {
	f.calls = append(f.calls, link)

	return f.vendors[link]
}

func match(title, link string) serp.ExposureMatch {
	return serp.ExposureMatch{
		CandidateItem: serp.CandidateItem{
			Title:       title,
			Link:        link,
			PublisherID: "pub",
		},
	}
}

func clinicQueue() []serp.ExposureMatch {
	return []serp.ExposureMatch{
		match("Best clinics in town", "https://blog.naver.com/a/1"),
		match("BrightSmile dental review", "https://blog.naver.com/b/2"),
		match("BrightSmile Branch opening day", "https://blog.naver.com/c/3"),
	}
}

func TestFindMatchVendorPass(t *testing.T) {
	lookup := &fakeLookup{vendors: map[string]string{
		"https://blog.naver.com/a/1": "Other Dental",
		"https://blog.naver.com/b/2": "BrightSmile Dental Clinic",
	}}

	res, err := FindMatch(context.Background(), clinicQueue(), "BrightSmile Branch", lookup, FilterOptions{})
	require.NoError(t, err)

	require.True(t, res.Found())
	assert.Equal(t, 1, res.Index)
	assert.Equal(t, MatchedByVendor, res.MatchedBy)
	assert.Equal(t, "vendor-contains-brand-root", res.Reason)
	assert.Equal(t, "BrightSmile Dental Clinic", res.Vendor)
	assert.Len(t, lookup.calls, 2)
}

func TestFindMatchTitleFallback(t *testing.T) {
	lookup := &fakeLookup{}

	res, err := FindMatch(context.Background(), clinicQueue(), "BrightSmile Branch", lookup, FilterOptions{})
	require.NoError(t, err)

	require.True(t, res.Found())
	assert.Equal(t, 1, res.Index)
	assert.Equal(t, MatchedByTitle, res.MatchedBy)
	assert.Equal(t, ReasonTitleContainsRoot, res.Reason)
	assert.Len(t, lookup.calls, 3)
}

func TestFindMatchTitleTarget(t *testing.T) {
	queue := []serp.ExposureMatch{
		match("Coffee tips", "l1"),
		match("Visiting Sunny Bakery today", "l2"),
	}

	res, err := FindMatch(context.Background(), queue, "sunny bakery", nil, FilterOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Index)
	assert.Equal(t, ReasonTitleContainsTarget, res.Reason)
}

func TestFindMatchIgnoresCompanyInTitle(t *testing.T) {
	queue := []serp.ExposureMatch{
		match("Coffee tips", "l1"),
		match("Acme espresso machine", "l2"),
	}

	res, err := FindMatch(context.Background(), queue, "Sunny Bakery", nil, FilterOptions{})
	require.NoError(t, err)
	assert.False(t, res.Found())
	assert.Equal(t, MatchedByNone, res.MatchedBy)
}

func TestFindMatchMaxVendorChecks(t *testing.T) {
	lookup := &fakeLookup{vendors: map[string]string{
		"https://blog.naver.com/b/2": "BrightSmile Dental Clinic",
	}}

	res, err := FindMatch(context.Background(), clinicQueue(), "BrightSmile Branch", lookup, FilterOptions{MaxVendorChecks: 1})
	require.NoError(t, err)

	assert.Len(t, lookup.calls, 1)
	assert.Equal(t, MatchedByTitle, res.MatchedBy)
}

func TestFindMatchInstantBrand(t *testing.T) {
	lookup := &fakeLookup{}

	res, err := FindMatch(context.Background(), clinicQueue(), "BrightSmile Branch", lookup, FilterOptions{
		InstantBrands: []string{"bright smile"},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, res.Index)
	assert.Equal(t, ReasonInstantBrand, res.Reason)
	assert.Empty(t, lookup.calls)
}

func TestFindMatchNoTarget(t *testing.T) {
	res, err := FindMatch(context.Background(), clinicQueue(), " ", &fakeLookup{}, FilterOptions{})
	require.NoError(t, err)
	assert.False(t, res.Found())
	assert.Equal(t, -1, res.Index)
	assert.Equal(t, MatchedByNone, res.MatchedBy)
}

func TestFindMatchCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FindMatch(ctx, clinicQueue(), "Nowhere", &fakeLookup{}, FilterOptions{CheckDelay: time.Hour})
	require.ErrorIs(t, err, context.Canceled)
}

func TestTitleFilter(t *testing.T) {
	t.Run("all tokens", func(t *testing.T) {
		queue := []serp.ExposureMatch{
			match("Espresso tips", "l1"),
			match("Machine for coffee lovers", "l2"),
		}

		res := TitleFilter(queue, "coffee machine")
		assert.Equal(t, 1, res.Index)
		assert.Equal(t, ReasonTitleTokens, res.Reason)
	})

	t.Run("punctuation forward", func(t *testing.T) {
		queue := []serp.ExposureMatch{match("Coffee Machine: best deals", "l1")}

		res := TitleFilter(queue, "coffee-machine deals")
		assert.Equal(t, 0, res.Index)
		assert.Equal(t, ReasonTitleTokensReordered, res.Reason)
	})

	t.Run("punctuation reversed", func(t *testing.T) {
		queue := []serp.ExposureMatch{match("Deals on coffee machines!", "l1")}

		res := TitleFilter(queue, "coffee-machine deals")
		assert.Equal(t, 0, res.Index)
		assert.Equal(t, ReasonTitleTokensReordered, res.Reason)
	})

	t.Run("single token never uses the pattern", func(t *testing.T) {
		queue := []serp.ExposureMatch{match("Coffee Machine review", "l1")}

		res := TitleFilter(queue, "coffee-machine")
		assert.False(t, res.Found())
	})

	t.Run("empty", func(t *testing.T) {
		assert.False(t, TitleFilter(nil, "coffee").Found())
		assert.False(t, TitleFilter([]serp.ExposureMatch{match("x", "l")}, " ").Found())
	})
}

func TestIsInstantBrand(t *testing.T) {
	assert.True(t, IsInstantBrand("Starbucks Gangnam", []string{"starbucks"}))
	assert.False(t, IsInstantBrand("Sunny Bakery", []string{"starbucks", ""}))
	assert.False(t, IsInstantBrand("", []string{"starbucks"}))
}
