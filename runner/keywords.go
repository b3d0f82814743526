package runner

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gosom/exposure-monitor/keyword"
	"github.com/gosom/exposure-monitor/pipeline"
	"github.com/gosom/exposure-monitor/serp"
)

var keywordColumns = []string{"id", "query", "vendor", "company", "category"}

// LoadKeywords reads keyword rows in the column order id,query,vendor,company,
// category. A header row is skipped, trailing columns may be omitted and a
// missing id gets a fresh uuid.
func LoadKeywords(r io.Reader) ([]keyword.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var (
		records []keyword.Record
		line    int
	)

	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, err
		}

		line++

		if line == 1 && isHeader(row) {
			continue
		}

		fields := make([]string, len(keywordColumns))
		for i := range fields {
			if i < len(row) {
				fields[i] = strings.TrimSpace(strings.TrimPrefix(row[i], "\ufeff"))
			}
		}

		if fields[1] == "" {
			if strings.Join(fields, "") == "" {
				continue
			}

			return nil, fmt.Errorf("line %d: query is required", line)
		}

		if fields[0] == "" {
			fields[0] = uuid.New().String()
		}

		records = append(records, keyword.Record{
			ID:       fields[0],
			Query:    fields[1],
			Vendor:   fields[2],
			Company:  fields[3],
			Category: fields[4],
		})
	}

	return records, nil
}

func isHeader(row []string) bool {
	if len(row) < 2 {
		return false
	}

	first := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(row[0], "\ufeff")))
	second := strings.ToLower(strings.TrimSpace(row[1]))

	return first == keywordColumns[0] && second == keywordColumns[1]
}

// ImportKeywords upserts the keywords of the file at path into repo and
// returns how many were new or changed. Stored keywords equal to their row
// are left untouched.
func ImportKeywords(ctx context.Context, repo keyword.Repository, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}

	defer f.Close()

	records, err := LoadKeywords(f)
	if err != nil {
		return 0, fmt.Errorf("failed to read keywords from %s: %w", path, err)
	}

	written := 0

	for i := range records {
		existing, err := repo.Get(ctx, records[i].ID)

		switch {
		case err == nil:
			if sameKeyword(existing, records[i]) {
				continue
			}

			records[i].CreatedAt = existing.CreatedAt
		case !errors.Is(err, keyword.ErrNotFound):
			return written, fmt.Errorf("failed to look up keyword %s: %w", records[i].ID, err)
		}

		if err := repo.Upsert(ctx, &records[i]); err != nil {
			return written, fmt.Errorf("failed to import keyword %s: %w", records[i].ID, err)
		}

		written++
	}

	return written, nil
}

func sameKeyword(a, b keyword.Record) bool {
	return a.Query == b.Query &&
		a.Vendor == b.Vendor &&
		a.Company == b.Company &&
		a.Category == b.Category
}

// LoadAllowList reads the allow-list file. A missing file yields an empty
// list, which makes every category rely on permissive mode.
func LoadAllowList(path string) (serp.AllowList, error) {
	if path == "" {
		return serp.NewAllowList(), nil
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return serp.NewAllowList(), nil
	}

	if err != nil {
		return nil, err
	}

	defer f.Close()

	return serp.ReadAllowList(f)
}

// LoadCategoryOptions reads rows of category,permissive,max_vendor_checks,
// check_delay. Empty cells take the value of def.
func LoadCategoryOptions(r io.Reader, def pipeline.CategoryOptions) (map[string]pipeline.CategoryOptions, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	ans := map[string]pipeline.CategoryOptions{}

	line := 0

	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, err
		}

		line++

		name := strings.TrimSpace(strings.TrimPrefix(row[0], "\ufeff"))
		if name == "" || (line == 1 && strings.EqualFold(name, "category")) {
			continue
		}

		opts := def

		if v := cell(row, 1); v != "" {
			opts.Permissive, err = strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid permissive value %q", line, v)
			}
		}

		if v := cell(row, 2); v != "" {
			opts.MaxVendorChecks, err = strconv.Atoi(v)
			if err != nil || opts.MaxVendorChecks < 0 {
				return nil, fmt.Errorf("line %d: invalid max_vendor_checks value %q", line, v)
			}
		}

		if v := cell(row, 3); v != "" {
			opts.CheckDelay, err = time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid check_delay value %q", line, v)
			}
		}

		ans[name] = opts
	}

	return ans, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}

	return strings.TrimSpace(row[i])
}
