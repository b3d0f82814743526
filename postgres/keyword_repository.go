package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gosom/exposure-monitor/keyword"
)

type keywordRepository struct {
	db *sql.DB
}

func NewKeywordRepository(db *sql.DB) keyword.Repository {
	return &keywordRepository{db: db}
}

// Migrate creates the keyword tables when they are missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS keywords (
			id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			vendor TEXT NOT NULL DEFAULT '',
			company TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_keywords_category ON keywords(category)`,
		`CREATE TABLE IF NOT EXISTS keyword_results (
			keyword_id TEXT PRIMARY KEY,
			visible BOOLEAN NOT NULL,
			topic TEXT NOT NULL DEFAULT '',
			link TEXT NOT NULL DEFAULT '',
			classification TEXT NOT NULL DEFAULT '',
			aux_name TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			rank INT NOT NULL DEFAULT 0,
			vendor_name TEXT NOT NULL DEFAULT '',
			global_rank INT NOT NULL DEFAULT 0,
			needs_review BOOLEAN NOT NULL DEFAULT FALSE,
			logic_version TEXT NOT NULL DEFAULT '',
			found_page INT NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			checked_at BIGINT NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}

func (r *keywordRepository) Get(ctx context.Context, id string) (keyword.Record, error) {
	const q = `SELECT id, query, vendor, company, category, created_at, updated_at FROM keywords WHERE id = $1`

	row := r.db.QueryRowContext(ctx, q, id)

	rec, err := rowToRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return keyword.Record{}, keyword.ErrNotFound
	}

	return rec, err
}

func (r *keywordRepository) List(ctx context.Context, f keyword.Filter) ([]keyword.Record, error) {
	q := `SELECT id, query, vendor, company, category, created_at, updated_at FROM keywords`

	var args []any
	var conditions []string
	argNum := 1

	if f.Category != "" {
		conditions = append(conditions, fmt.Sprintf("category = $%d", argNum))
		args = append(args, f.Category)
		argNum++
	}

	if len(f.IDs) > 0 {
		placeholders := make([]string, len(f.IDs))
		for i, id := range f.IDs {
			placeholders[i] = fmt.Sprintf("$%d", argNum)
			args = append(args, id)
			argNum++
		}

		conditions = append(conditions, "id IN ("+strings.Join(placeholders, ", ")+")")
	}

	if len(conditions) > 0 {
		q += " WHERE " + strings.Join(conditions, " AND ")
	}

	q += " ORDER BY created_at ASC, id ASC"

	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
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

func (r *keywordRepository) Upsert(ctx context.Context, rec *keyword.Record) error {
	now := time.Now().UTC()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	rec.UpdatedAt = now

	const q = `INSERT INTO keywords (id, query, vendor, company, category, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			query = EXCLUDED.query,
			vendor = EXCLUDED.vendor,
			company = EXCLUDED.company,
			category = EXCLUDED.category,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, q,
		rec.ID, rec.Query, rec.Vendor, rec.Company, rec.Category,
		rec.CreatedAt.Unix(), rec.UpdatedAt.Unix(),
	)

	return err
}

func (r *keywordRepository) UpdateResult(ctx context.Context, res keyword.Result) error {
	if res.CheckedAt.IsZero() {
		res.CheckedAt = time.Now().UTC()
	}

	const q = `INSERT INTO keyword_results (keyword_id, visible, topic, link, classification, aux_name, title, rank,
			vendor_name, global_rank, needs_review, logic_version, found_page, reason, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (keyword_id) DO UPDATE SET
			visible = EXCLUDED.visible,
			topic = EXCLUDED.topic,
			link = EXCLUDED.link,
			classification = EXCLUDED.classification,
			aux_name = EXCLUDED.aux_name,
			title = EXCLUDED.title,
			rank = EXCLUDED.rank,
			vendor_name = EXCLUDED.vendor_name,
			global_rank = EXCLUDED.global_rank,
			needs_review = EXCLUDED.needs_review,
			logic_version = EXCLUDED.logic_version,
			found_page = EXCLUDED.found_page,
			reason = EXCLUDED.reason,
			checked_at = EXCLUDED.checked_at`

	_, err := r.db.ExecContext(ctx, q,
		res.ID, res.Visible, res.Topic, res.Link, string(res.Classification), res.AuxName, res.Title, res.Rank,
		res.VendorName, res.GlobalRank, res.NeedsReview, res.LogicVersion, res.FoundPage, res.Reason, res.CheckedAt.Unix(),
	)

	return err
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

type keywordScannable interface {
	Scan(dest ...any) error
}

func rowToRecord(row keywordScannable) (keyword.Record, error) {
	var item keywordRow

	err := row.Scan(&item.ID, &item.Query, &item.Vendor, &item.Company, &item.Category, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return keyword.Record{}, err
	}

	return keyword.Record{
		ID:        item.ID,
		Query:     item.Query,
		Vendor:    item.Vendor,
		Company:   item.Company,
		Category:  item.Category,
		CreatedAt: time.Unix(item.CreatedAt, 0).UTC(),
		UpdatedAt: time.Unix(item.UpdatedAt, 0).UTC(),
	}, nil
}
