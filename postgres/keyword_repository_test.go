package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosom/exposure-monitor/keyword"
)

var keywordCols = []string{"id", "query", "vendor", "company", "category", "created_at", "updated_at"}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return db, mock
}

func TestMigrate(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS keywords`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_keywords_category`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS keyword_results`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeywordRepositoryGet(t *testing.T) {
	db, mock := newMock(t)
	repo := NewKeywordRepository(db)

	mock.ExpectQuery(`FROM keywords WHERE id = \$1`).
		WithArgs("k1").
		WillReturnRows(sqlmock.NewRows(keywordCols).AddRow("k1", "coffee", "", "Acme", "cafe", int64(1760000000), int64(1760000100)))

	rec, err := repo.Get(context.Background(), "k1")
	require.NoError(t, err)

	assert.Equal(t, "coffee", rec.Query)
	assert.Equal(t, "Acme", rec.Company)
	assert.Equal(t, time.Unix(1760000000, 0).UTC(), rec.CreatedAt)

	mock.ExpectQuery(`FROM keywords WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(keywordCols))

	_, err = repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, keyword.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeywordRepositoryList(t *testing.T) {
	db, mock := newMock(t)
	repo := NewKeywordRepository(db)

	mock.ExpectQuery(`FROM keywords WHERE category = \$1 AND id IN \(\$2, \$3\) ORDER BY created_at ASC, id ASC LIMIT \$4`).
		WithArgs("cafe", "k1", "k2", 10).
		WillReturnRows(sqlmock.NewRows(keywordCols).
			AddRow("k1", "coffee", "", "", "cafe", int64(1), int64(1)).
			AddRow("k2", "latte", "", "", "cafe", int64(2), int64(2)))

	recs, err := repo.List(context.Background(), keyword.Filter{Category: "cafe", IDs: []string{"k1", "k2"}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "latte", recs[1].Query)

	mock.ExpectQuery(`FROM keywords ORDER BY created_at ASC, id ASC$`).
		WillReturnRows(sqlmock.NewRows(keywordCols))

	recs, err = repo.List(context.Background(), keyword.Filter{})
	require.NoError(t, err)
	assert.Empty(t, recs)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeywordRepositoryUpsert(t *testing.T) {
	db, mock := newMock(t)
	repo := NewKeywordRepository(db)

	mock.ExpectExec(`INSERT INTO keywords .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("k1", "coffee", "", "Acme", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := keyword.Record{ID: "k1", Query: "coffee", Company: "Acme"}

	require.NoError(t, repo.Upsert(context.Background(), &rec))
	assert.False(t, rec.CreatedAt.IsZero())
	assert.False(t, rec.UpdatedAt.IsZero())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeywordRepositoryUpdateResult(t *testing.T) {
	db, mock := newMock(t)
	repo := NewKeywordRepository(db)

	checked := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO keyword_results .* ON CONFLICT \(keyword_id\) DO UPDATE`).
		WithArgs("k1", true, "Coffee tips", "https://blog.naver.com/alpha/1", "basic", "", "Coffee",
			2, "", 5, false, "2.1", 1, "", checked.Unix()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.UpdateResult(context.Background(), keyword.Result{
		ID:             "k1",
		Visible:        true,
		Topic:          "Coffee tips",
		Link:           "https://blog.naver.com/alpha/1",
		Classification: keyword.ClassBasic,
		Title:          "Coffee",
		Rank:           2,
		GlobalRank:     5,
		LogicVersion:   "2.1",
		FoundPage:      1,
		CheckedAt:      checked,
	})
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}
