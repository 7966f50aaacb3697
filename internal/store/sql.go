// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

const upsertReading = "INSERT INTO readings (slot, at, value, status) VALUES (?, ?, ?, ?) " +
	"ON CONFLICT(slot) DO UPDATE SET at=excluded.at, value=excluded.value, status=excluded.status"

// SQLStorage implements persistence using a SQL database.
// It assumes a table `readings` exists (or creates it).
type SQLStorage struct {
	driver string
	dsn    string
	db     *sql.DB
	table  *Table
}

// NewSQLStorage creates a new SQLStorage.
// Note: The driver (e.g., sqlite3) must be imported in main.go
func NewSQLStorage(driver, dsn string) *SQLStorage {
	return &SQLStorage{
		driver: driver,
		dsn:    dsn,
	}
}

// Load connects to the DB and loads the stored readings.
func (s *SQLStorage) Load() (*Table, error) {
	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	t := NewTable()

	rows, err := db.Query("SELECT slot, at, value, status FROM readings")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var slot int
		var at int64
		var value int32
		var status uint8
		if err := rows.Scan(&slot, &at, &value, &status); err != nil {
			slog.Warn("Skipping unreadable row", "err", err)
			continue
		}
		e := Entry{Value: value, Status: status}
		if at != 0 {
			e.Time = time.Unix(0, at)
		}
		if err := t.Set(slot, e); err != nil {
			slog.Warn("Skipping stored reading", "err", err)
		}
	}
	if err := rows.Err(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read readings: %w", err)
	}

	s.db = db
	s.table = t
	return t, nil
}

func initSchema(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS readings (
		slot INTEGER PRIMARY KEY,
		at INTEGER,
		value INTEGER,
		status INTEGER
	);
	`
	_, err := db.Exec(query)
	return err
}

// Save upserts every written slot in one transaction.
func (s *SQLStorage) Save(t *Table) error {
	if s.db == nil {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for slot := 0; slot < Slots; slot++ {
		e, _ := t.Get(slot)
		if e.IsZero() {
			continue
		}
		if err := upsert(tx, slot, e); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// OnWrite upserts the changed slot to the DB.
func (s *SQLStorage) OnWrite(slot int) {
	if s.db == nil || s.table == nil {
		return
	}
	e, err := s.table.Get(slot)
	if err != nil {
		slog.Error("Failed to persist reading", "slot", slot, "err", err)
		return
	}
	if err := upsert(s.db, slot, e); err != nil {
		slog.Error("Failed to persist reading", "slot", slot, "err", err)
	}
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsert(db execer, slot int, e Entry) error {
	var at int64
	if !e.Time.IsZero() {
		at = e.Time.UnixNano()
	}
	if _, err := db.Exec(upsertReading, slot, at, e.Value, e.Status); err != nil {
		return fmt.Errorf("failed to upsert slot %d: %w", slot, err)
	}
	return nil
}

func (s *SQLStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}
