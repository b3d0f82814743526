package sqlite

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite" // sqlite driver
)

// InitDB opens the database at path and creates the schema.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=1000",
	}

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()

			return nil, err
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()

		return nil, err
	}

	if err := createSchema(db); err != nil {
		db.Close()

		return nil, err
	}

	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS keywords (
			id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			vendor TEXT NOT NULL DEFAULT '',
			company TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			created_at INT NOT NULL,
			updated_at INT NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_keywords_category ON keywords(category)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS keyword_results (
			keyword_id TEXT PRIMARY KEY,
			visible INTEGER NOT NULL,
			topic TEXT NOT NULL DEFAULT '',
			link TEXT NOT NULL DEFAULT '',
			classification TEXT NOT NULL DEFAULT '',
			aux_name TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			rank INT NOT NULL DEFAULT 0,
			vendor_name TEXT NOT NULL DEFAULT '',
			global_rank INT NOT NULL DEFAULT 0,
			needs_review INTEGER NOT NULL DEFAULT 0,
			logic_version TEXT NOT NULL DEFAULT '',
			found_page INT NOT NULL DEFAULT 0,
			checked_at INT NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// reason was added after the first release of the results table
	if err := addColumnIfNotExists(db, "keyword_results", "reason", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS run_slots (
			slot TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			batch_id TEXT NOT NULL DEFAULT '',
			due_at INT NOT NULL,
			updated_at INT NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_run_slots_status ON run_slots(status)`)

	return err
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist
func addColumnIfNotExists(db *sql.DB, tableName, columnName, columnType string) error {
	rows, err := db.Query("PRAGMA table_info(" + tableName + ")")
	if err != nil {
		return err
	}
	defer rows.Close()

	columnExists := false

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue any
			pk        int
		)

		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}

		if name == columnName {
			columnExists = true

			break
		}
	}

	if err := rows.Close(); err != nil {
		return err
	}

	if !columnExists {
		_, err = db.Exec("ALTER TABLE " + tableName + " ADD COLUMN " + columnName + " " + columnType)

		return err
	}

	return nil
}
