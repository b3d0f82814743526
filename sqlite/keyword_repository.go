package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/gosom/exposure-monitor/keyword"
)

type keywordRepo struct {
	db *sql.DB
}

func NewKeywordRepository(db *sql.DB) keyword.Repository {
	return &keywordRepo{db: db}
}

func (repo *keywordRepo) Get(ctx context.Context, id string) (keyword.Record, error) {
	const q = `SELECT id, query, vendor, company, category, created_at, updated_at FROM keywords WHERE id = ?`

	row := repo.db.QueryRowContext(ctx, q, id)

	rec, err := rowToRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return keyword.Record{}, keyword.ErrNotFound
	}

	return rec, err
}

func (repo *keywordRepo) List(ctx context.Context, f keyword.Filter) ([]keyword.Record, error) {
	q := `SELECT id, query, vendor, company, category, created_at, updated_at FROM keywords`

	var args []any
	var conditions []string

	if f.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, f.Category)
	}

	if len(f.IDs) > 0 {
		conditions = append(conditions, "id IN (?"+strings.Repeat(", ?", len(f.IDs)-1)+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}

	if len(conditions) > 0 {
		q += " WHERE " + strings.Join(conditions, " AND ")
	}

	q += " ORDER BY created_at ASC, rowid ASC"

	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := repo.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var ans []keyword.Record

	for rows.Next() {
		rec, err := rowToRecord(rows)
		if err != nil {
			return nil, err
		}

		ans = append(ans, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ans, nil
}

func (repo *keywordRepo) Upsert(ctx context.Context, rec *keyword.Record) error {
	now := time.Now().UTC()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	rec.UpdatedAt = now

	const q = `INSERT INTO keywords (id, query, vendor, company, category, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			query = excluded.query,
			vendor = excluded.vendor,
			company = excluded.company,
			category = excluded.category,
			updated_at = excluded.updated_at`

	_, err := repo.db.ExecContext(ctx, q,
		rec.ID, rec.Query, rec.Vendor, rec.Company, rec.Category,
		rec.CreatedAt.Unix(), rec.UpdatedAt.Unix(),
	)

	return err
}

func (repo *keywordRepo) UpdateResult(ctx context.Context, res keyword.Result) error {
	if res.CheckedAt.IsZero() {
		res.CheckedAt = time.Now().UTC()
	}

	const q = `INSERT INTO keyword_results (keyword_id, visible, topic, link, classification, aux_name, title, rank,
			vendor_name, global_rank, needs_review, logic_version, found_page, reason, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (keyword_id) DO UPDATE SET
			visible = excluded.visible,
			topic = excluded.topic,
			link = excluded.link,
			classification = excluded.classification,
			aux_name = excluded.aux_name,
			title = excluded.title,
			rank = excluded.rank,
			vendor_name = excluded.vendor_name,
			global_rank = excluded.global_rank,
			needs_review = excluded.needs_review,
			logic_version = excluded.logic_version,
			found_page = excluded.found_page,
			reason = excluded.reason,
			checked_at = excluded.checked_at`

	_, err := repo.db.ExecContext(ctx, q,
		res.ID, res.Visible, res.Topic, res.Link, string(res.Classification), res.AuxName, res.Title, res.Rank,
		res.VendorName, res.GlobalRank, res.NeedsReview, res.LogicVersion, res.FoundPage, res.Reason, res.CheckedAt.Unix(),
	)

	return err
}

// LatestResult returns the stored verdict of a keyword.
func LatestResult(ctx context.Context, db *sql.DB, id string) (keyword.Result, error) {
	const q = `SELECT keyword_id, visible, topic, link, classification, aux_name, title, rank,
		vendor_name, global_rank, needs_review, logic_version, found_page, reason, checked_at
		FROM keyword_results WHERE keyword_id = ?`

	var (
		res            keyword.Result
		classification string
		checkedAt      int64
	)

	err := db.QueryRowContext(ctx, q, id).Scan(
		&res.ID, &res.Visible, &res.Topic, &res.Link, &classification, &res.AuxName, &res.Title, &res.Rank,
		&res.VendorName, &res.GlobalRank, &res.NeedsReview, &res.LogicVersion, &res.FoundPage, &res.Reason, &checkedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return keyword.Result{}, keyword.ErrNotFound
	}

	if err != nil {
		return keyword.Result{}, err
	}

	res.Classification = keyword.Classification(classification)
	res.CheckedAt = time.Unix(checkedAt, 0).UTC()

	return res, nil
}

type scannable interface {
	Scan(dest ...any) error
}

type keywordRow struct {
	ID        string
	Query     string
	Vendor    string
	Company   string
	Category  string
	CreatedAt int64
	UpdatedAt int64
}

func rowToRecord(row scannable) (keyword.Record, error) {
	var k keywordRow

	err := row.Scan(&k.ID, &k.Query, &k.Vendor, &k.Company, &k.Category, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return keyword.Record{}, err
	}

	return keyword.Record{
		ID:        k.ID,
		Query:     k.Query,
		Vendor:    k.Vendor,
		Company:   k.Company,
		Category:  k.Category,
		CreatedAt: time.Unix(k.CreatedAt, 0).UTC(),
		UpdatedAt: time.Unix(k.UpdatedAt, 0).UTC(),
	}, nil
}
