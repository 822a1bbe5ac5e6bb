// Package store mirrors count records into SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/pkg/types"

	// registers the "sqlite" driver
	_ "modernc.org/sqlite"
)

// DB is a SQLite-backed record store. It implements counter.Sink.
type DB struct {
	db   *sql.DB
	path string

	mu     sync.Mutex
	insert *sql.Stmt
}

// Open opens or creates the database at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	// modernc serialises writes per connection; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS people_counts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				ts_unix_ms INTEGER NOT NULL,
				minute INTEGER NOT NULL,
				hour INTEGER NOT NULL,
				day INTEGER NOT NULL,
				people_this_minute INTEGER NOT NULL,
				people_this_hour INTEGER NOT NULL,
				people_this_day INTEGER NOT NULL,
				total_unique_people INTEGER NOT NULL)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating people_counts table: %w", err)
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS people_counts_ts ON people_counts (ts_unix_ms)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating people_counts index: %w", err)
	}

	insert, err := db.Prepare(`INSERT INTO people_counts (ts_unix_ms, minute, hour, day,
				people_this_minute, people_this_hour, people_this_day, total_unique_people)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error preparing insert: %w", err)
	}

	return &DB{db: db, path: path, insert: insert}, nil
}

// Append stores one record.
func (d *DB) Append(r types.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.insert.Exec(r.Timestamp.UnixMilli(), r.Minute, r.Hour, r.Day,
		r.PeopleThisMinute, r.PeopleThisHour, r.PeopleThisDay, r.TotalUniquePeople)
	if err != nil {
		return fmt.Errorf("error inserting record: %w", err)
	}
	return nil
}

// Records returns every stored record in insertion order.
func (d *DB) Records(ctx context.Context) ([]types.Record, error) {
	return d.query(ctx, `SELECT ts_unix_ms, minute, hour, day, people_this_minute,
				people_this_hour, people_this_day, total_unique_people
				FROM people_counts ORDER BY id`)
}

// Since returns records with a timestamp at or after t.
func (d *DB) Since(ctx context.Context, t time.Time) ([]types.Record, error) {
	return d.query(ctx, `SELECT ts_unix_ms, minute, hour, day, people_this_minute,
				people_this_hour, people_this_day, total_unique_people
				FROM people_counts WHERE ts_unix_ms >= ? ORDER BY id`, t.UnixMilli())
}

// Count returns the number of stored records.
func (d *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM people_counts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting records: %w", err)
	}
	return n, nil
}

func (d *DB) query(ctx context.Context, q string, args ...any) ([]types.Record, error) {
	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying records: %w", err)
	}
	defer rows.Close()

	var out []types.Record
	for rows.Next() {
		var r types.Record
		var ms int64
		err := rows.Scan(&ms, &r.Minute, &r.Hour, &r.Day, &r.PeopleThisMinute,
			&r.PeopleThisHour, &r.PeopleThisDay, &r.TotalUniquePeople)
		if err != nil {
			return nil, fmt.Errorf("error scanning record: %w", err)
		}
		r.Timestamp = time.UnixMilli(ms)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Close closes the database.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.insert != nil {
		d.insert.Close()
		d.insert = nil
	}
	return d.db.Close()
}
