package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/gosom/exposure-monitor/fetcher"
	"github.com/gosom/exposure-monitor/keyword"
	"github.com/gosom/exposure-monitor/pipeline"
	"github.com/gosom/exposure-monitor/serp"
)

func testReport() *pipeline.Report {
	match := serp.ExposureMatch{
		CandidateItem: serp.CandidateItem{
			Title:         "Coffee machine review",
			Link:          "https://blog.naver.com/alpha/1",
			PublisherName: "Alpha",
			PublisherID:   "alpha",
			Topic:         "Coffee machine",
			GlobalRank:    1,
		},
		Query:       "coffee machine",
		Kind:        serp.KindSingleTopic,
		Rank:        1,
		AllowListed: true,
	}

	start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	return &pipeline.Report{
		BatchID:    "batch1",
		Mode:       fetcher.ModeAnonymous,
		StartedAt:  start,
		FinishedAt: start.Add(time.Minute),
		Queries:    2,
		Outcomes: []pipeline.Outcome{
			{
				Plan:  keyword.NewPlan(keyword.Record{ID: "k1", Query: "coffee machine"}),
				State: pipeline.StateSuccess,
				Match: &match,
			},
			{
				Plan:   keyword.NewPlan(keyword.Record{ID: "k2", Query: "latte"}),
				State:  pipeline.StateFailed,
				Reason: pipeline.ReasonQueueExhausted,
			},
		},
		Summary: pipeline.Summary{
			Total:   2,
			Success: 1,
			Failed:  1,
			Kinds:   map[serp.Kind]int{serp.KindSingleTopic: 1},
		},
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"csv", "json", "xlsx"} {
		f, err := ParseFormat(s)
		require.NoError(t, err)
		assert.Equal(t, Format(s), f)
	}

	_, err := ParseFormat("pdf")
	assert.Error(t, err)
}

func TestWriteMatchesCSV(t *testing.T) {
	rep := testReport()

	var buf bytes.Buffer
	require.NoError(t, WriteMatches(context.Background(), &buf, FormatCSV, rep.Matches()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	m := rep.Matches()[0]
	assert.Equal(t, m.CsvHeaders(), rows[0])
	assert.Equal(t, m.CsvRow(), rows[1])
}

func TestWriteOutcomesJSON(t *testing.T) {
	rep := testReport()

	var buf bytes.Buffer
	require.NoError(t, WriteOutcomes(context.Background(), &buf, FormatJSON, rep.Outcomes))

	dec := json.NewDecoder(&buf)

	n := 0

	for dec.More() {
		var v map[string]any
		require.NoError(t, dec.Decode(&v))

		n++
	}

	assert.Equal(t, 2, n)
}

func TestWriteFilesCSV(t *testing.T) {
	dir := t.TempDir()

	paths, err := WriteFiles(context.Background(), dir, FormatCSV, testReport())
	require.NoError(t, err)
	require.Len(t, paths, 2)

	assert.Equal(t, filepath.Join(dir, "batch1-exposures.csv"), paths[0])
	assert.Equal(t, filepath.Join(dir, "batch1-keywords.csv"), paths[1])

	data, err := os.ReadFile(paths[1])
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(data, utf8BOM))

	rows, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "k2", rows[2][0])
	assert.Equal(t, pipeline.ReasonQueueExhausted, rows[2][6])
}

func TestWriteFilesJSONHasNoBOM(t *testing.T) {
	paths, err := WriteFiles(context.Background(), t.TempDir(), FormatJSON, testReport())
	require.NoError(t, err)

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)

	assert.False(t, bytes.HasPrefix(data, utf8BOM))
	assert.True(t, strings.Contains(string(data), `"link":"https://blog.naver.com/alpha/1"`))
}

func TestWriteFilesXLSX(t *testing.T) {
	paths, err := WriteFiles(context.Background(), t.TempDir(), FormatXLSX, testReport())
	require.NoError(t, err)
	require.Len(t, paths, 1)

	f, err := excelize.OpenFile(paths[0])
	require.NoError(t, err)

	defer f.Close()

	assert.Equal(t, []string{sheetExposures, sheetKeywords, sheetSummary}, f.GetSheetList())

	rows, err := f.GetRows(sheetKeywords)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	v, err := f.GetCellValue(sheetSummary, "B1")
	require.NoError(t, err)
	assert.Equal(t, "batch1", v)

	v, err = f.GetCellValue(sheetSummary, "B6")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}
