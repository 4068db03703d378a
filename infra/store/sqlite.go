package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/kmoreau/plugsched/core/model"
)

// SQLitePersister keeps the schedule in a SQLite database. Each save
// replaces the full entry set inside one transaction, so readers never see
// a half-written batch.
type SQLitePersister struct {
	db *sql.DB
}

// NewSQLitePersister opens or creates the database at path and ensures
// the schema.
func NewSQLitePersister(path string) (*SQLitePersister, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS schedule_entries (
        id TEXT PRIMARY KEY,
        target_ts INTEGER,
        status TEXT,
        record TEXT
    );`
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLitePersister{db: db}, nil
}

// Load reads every stored entry ordered by target time.
func (p *SQLitePersister) Load() ([]model.ScheduleEntry, error) {
	rows, err := p.db.Query(`SELECT record FROM schedule_entries ORDER BY target_ts, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []model.ScheduleEntry
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var e model.ScheduleEntry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("unmarshal schedule entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Save replaces the stored entry set transactionally.
func (p *SQLitePersister) Save(entries []model.ScheduleEntry) error {
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM schedule_entries`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO schedule_entries (id, target_ts, status, record) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(e.ID, e.TargetTime.Unix(), string(e.Status), string(b)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close closes the underlying database.
func (p *SQLitePersister) Close() error { return p.db.Close() }
