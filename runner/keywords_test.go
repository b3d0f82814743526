package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosom/exposure-monitor/keyword"
	"github.com/gosom/exposure-monitor/pipeline"
)

func TestLoadKeywords(t *testing.T) {
	in := "\ufeffid,query,vendor,company,category\n" +
		"k1,coffee machine,,Acme,\n" +
		",Clinic,BrightSmile Branch,,dental\n" +
		"\n" +
		"k3,gangnam food\n"

	records, err := LoadKeywords(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "k1", records[0].ID)
	assert.Equal(t, "coffee machine", records[0].Query)
	assert.Equal(t, "Acme", records[0].Company)

	assert.NotEmpty(t, records[1].ID)
	assert.Equal(t, "BrightSmile Branch", records[1].Vendor)
	assert.Equal(t, "dental", records[1].Category)

	assert.Equal(t, "gangnam food", records[2].Query)
	assert.Empty(t, records[2].Category)
}

func TestLoadKeywordsWithoutHeader(t *testing.T) {
	records, err := LoadKeywords(strings.NewReader("k1,coffee\n"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "coffee", records[0].Query)
}

func TestLoadKeywordsMissingQuery(t *testing.T) {
	_, err := LoadKeywords(strings.NewReader("id,query\nk1,coffee\nk2,\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}

func TestLoadAllowList(t *testing.T) {
	allow, err := LoadAllowList(filepath.Join(t.TempDir(), "missing.txt"))
	require.NoError(t, err)
	assert.Empty(t, allow)

	path := filepath.Join(t.TempDir(), "allow.txt")
	require.NoError(t, os.WriteFile(path, []byte("alpha\nbravo\n"), 0o600))

	allow, err = LoadAllowList(path)
	require.NoError(t, err)
	assert.True(t, allow.Contains("alpha"))
	assert.True(t, allow.Contains("bravo"))
	assert.False(t, allow.Contains("charlie"))
}

func TestLoadCategoryOptions(t *testing.T) {
	def := pipeline.CategoryOptions{MaxVendorChecks: 5, CheckDelay: 2 * time.Second}

	in := "category,permissive,max_vendor_checks,check_delay\n" +
		"# clinics are strict\n" +
		"dental,false,3,\n" +
		"restaurant,true,,500ms\n"

	got, err := LoadCategoryOptions(strings.NewReader(in), def)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, pipeline.CategoryOptions{MaxVendorChecks: 3, CheckDelay: 2 * time.Second}, got["dental"])
	assert.Equal(t, pipeline.CategoryOptions{Permissive: true, MaxVendorChecks: 5, CheckDelay: 500 * time.Millisecond}, got["restaurant"])
}

func TestLoadCategoryOptionsInvalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"permissive", "dental,maybe\n"},
		{"checks", "dental,,-1\n"},
		{"delay", "dental,,,soon\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadCategoryOptions(strings.NewReader(tc.in), pipeline.CategoryOptions{})
			assert.Error(t, err)
		})
	}
}

type memRepo struct {
	records map[string]keyword.Record
	upserts int
}

func (m *memRepo) List(context.Context, keyword.Filter) ([]keyword.Record, error) {
	return nil, nil
}

func (m *memRepo) Get(_ context.Context, id string) (keyword.Record, error) {
	rec, ok := m.records[id]
	if !ok {
		return keyword.Record{}, keyword.ErrNotFound
	}

	return rec, nil
}

func (m *memRepo) Upsert(_ context.Context, r *keyword.Record) error {
	m.upserts++
	m.records[r.ID] = *r

	return nil
}

func (m *memRepo) UpdateResult(context.Context, keyword.Result) error {
	return nil
}

func TestImportKeywords(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	repo := &memRepo{records: map[string]keyword.Record{
		"k1": {ID: "k1", Query: "coffee machine", CreatedAt: created},
		"k2": {ID: "k2", Query: "latte", CreatedAt: created},
	}}

	path := filepath.Join(t.TempDir(), "keywords.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,query,vendor,company,category\nk1,coffee machine\nk2,latte,,Acme\nk3,espresso\n"), 0o600))

	n, err := ImportKeywords(context.Background(), repo, path)
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, 2, repo.upserts)
	assert.Equal(t, "Acme", repo.records["k2"].Company)
	assert.Equal(t, created, repo.records["k2"].CreatedAt)
	assert.Equal(t, "espresso", repo.records["k3"].Query)
}
