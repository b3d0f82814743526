package keyword

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
)

var ErrNotFound = errors.New("keyword not found")

// Record is one tracked keyword as stored in the keyword sheet.
type Record struct {
	ID        string
	Query     string
	Vendor    string
	Company   string
	Category  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Result is the verdict written back for a keyword after a batch.
type Result struct {
	ID             string
	Visible        bool
	Topic          string
	Link           string
	Classification Classification
	AuxName        string
	Title          string
	Rank           int
	VendorName     string
	GlobalRank     int
	NeedsReview    bool
	LogicVersion   string
	FoundPage      int
	Reason         string
	CheckedAt      time.Time
}

type Filter struct {
	Category string
	IDs      []string
	Limit    int
}

type Repository interface {
	List(ctx context.Context, f Filter) ([]Record, error)
	Get(ctx context.Context, id string) (Record, error)
	Upsert(ctx context.Context, r *Record) error
	UpdateResult(ctx context.Context, res Result) error
}

var (
	parenthetical = regexp.MustCompile(`\s*[(（][^()（）]*[)）]`)
	trailingNote  = regexp.MustCompile(`[(（]([^()（）]*)[)）]\s*$`)
)

// NormalizeQuery strips parenthetical annotations, leaving the string sent to
// the search engine.
func NormalizeQuery(raw string) string {
	s := raw

	// innermost groups go first, so nested annotations need several passes
	for {
		next := parenthetical.ReplaceAllString(s, " ")
		if next == s {
			break
		}

		s = next
	}

	return strings.Join(strings.Fields(s), " ")
}

// Annotation returns the text of a trailing parenthetical, if any.
func Annotation(raw string) string {
	m := trailingNote.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return ""
	}

	return strings.TrimSpace(m[1])
}
