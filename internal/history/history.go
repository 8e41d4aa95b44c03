// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package history stores committed register changes in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/Thermoquad/vestat/pkg/register"
)

// Change is one recorded register change.
type Change struct {
	ID        string
	Register  string
	Value     register.Value
	Old       register.Value
	Precision int
	CreatedAt time.Time
}

// Store persists register changes.
type Store struct {
	db      *sql.DB
	log     zerolog.Logger
	pending chan Change
}

// Open opens or creates the database at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:      db,
		log:     logger.With().Str("component", "history").Logger(),
		pending: make(chan Change, 1024),
	}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS changes (
		id TEXT PRIMARY KEY,
		register TEXT NOT NULL,
		value TEXT,
		old TEXT,
		precision INTEGER DEFAULT 0,
		created_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_register_created ON changes(register, created_at);
	`
	_, err := s.db.Exec(query)
	return err
}

// Save persists a change, assigning an id if it has none.
func (s *Store) Save(c *Change) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	value, err := json.Marshal(c.Value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	old, err := json.Marshal(c.Old)
	if err != nil {
		return fmt.Errorf("encode old value: %w", err)
	}

	query := `INSERT INTO changes (id, register, value, old, precision, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.db.Exec(query, c.ID, c.Register, string(value), string(old), c.Precision, c.CreatedAt.UTC())
	return err
}

// Recent returns the latest changes of a register, newest first.
func (s *Store) Recent(name string, limit int) ([]Change, error) {
	query := `SELECT id, register, value, old, precision, created_at FROM changes WHERE register = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.Query(query, name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var c Change
		var value, old string
		if err := rows.Scan(&c.ID, &c.Register, &value, &old, &c.Precision, &c.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(value), &c.Value); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(old), &c.Old); err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// Listener returns a directory listener that queues changes for Run. It
// never blocks; changes are dropped while the queue is full.
func (s *Store) Listener() func(name string, newValue, oldValue register.Value, precision int) {
	return func(name string, newValue, oldValue register.Value, precision int) {
		c := Change{
			Register:  name,
			Value:     newValue,
			Old:       oldValue,
			Precision: precision,
			CreatedAt: time.Now(),
		}
		select {
		case s.pending <- c:
		default:
			s.log.Warn().Str("register", name).Msg("history queue full, change dropped")
		}
	}
}

// Run writes queued changes until ctx is done.
func (s *Store) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-s.pending:
			if err := s.Save(&c); err != nil {
				s.log.Error().Err(err).Str("register", c.Register).Msg("failed to store change")
			}
		}
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
