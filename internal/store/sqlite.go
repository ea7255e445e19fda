package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/caevv/skillq/internal/run"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS runs (
	id       TEXT PRIMARY KEY,
	position INTEGER NOT NULL,
	data     TEXT NOT NULL
)`

// SQLiteStore keeps the run list in a SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite at %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load returns the runs ordered by position.
func (s *SQLiteStore) Load() ([]*run.Run, error) {
	rows, err := s.db.Query(`SELECT data FROM runs ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*run.Run
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r := &run.Run{}
		if err := json.Unmarshal([]byte(data), r); err != nil {
			return nil, fmt.Errorf("unmarshal run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return validRuns(runs), nil
}

// Save replaces the table contents in one transaction.
func (s *SQLiteStore) Save(runs []*run.Run) (err error) {
	runs = validRuns(runs)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`DELETE FROM runs`); err != nil {
		return fmt.Errorf("clear runs: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO runs (id, position, data) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range runs {
		data, mErr := json.Marshal(r)
		if mErr != nil {
			err = fmt.Errorf("marshal run %s: %w", r.ID, mErr)
			return err
		}
		if _, err = stmt.Exec(r.ID, i, string(data)); err != nil {
			return fmt.Errorf("insert run %s: %w", r.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
