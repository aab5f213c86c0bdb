//
// Copyright (C) 2025 agentgraph authors. All rights reserved.
//
// agentgraph is licensed under the Apache License Version 2.0.
//
//

// Package sqlite provides a SQLite-backed checkpoint store. Checkpoints
// are stored as JSON rows keyed by (run_id, step), so state values must be
// JSON-serializable; numeric values round-trip as float64.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	// Register the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/ryansann/agentgraph/graph"
)

const (
	createCheckpoints = "CREATE TABLE IF NOT EXISTS checkpoints (" +
		"run_id TEXT NOT NULL, " +
		"step INTEGER NOT NULL, " +
		"checkpoint_id TEXT NOT NULL, " +
		"ts INTEGER NOT NULL, " +
		"checkpoint_json BLOB NOT NULL, " +
		"PRIMARY KEY (run_id, step)" +
		")"

	insertCheckpoint = "INSERT OR REPLACE INTO checkpoints (" +
		"run_id, step, checkpoint_id, ts, checkpoint_json) VALUES (?, ?, ?, ?, ?)"

	selectByStep = "SELECT checkpoint_json FROM checkpoints " +
		"WHERE run_id = ? AND step = ?"

	selectLatest = "SELECT checkpoint_json FROM checkpoints " +
		"WHERE run_id = ? ORDER BY step DESC LIMIT 1"

	selectAll = "SELECT checkpoint_json FROM checkpoints " +
		"WHERE run_id = ? ORDER BY step ASC"

	deleteRun = "DELETE FROM checkpoints WHERE run_id = ?"
)

// Saver is a SQLite implementation of graph.CheckpointSaver.
type Saver struct {
	db *sql.DB
}

var _ graph.CheckpointSaver = (*Saver)(nil)

// NewSaver creates a saver on an open database handle and ensures the
// schema exists. The saver does not own the handle unless opened via Open.
func NewSaver(db *sql.DB) (*Saver, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if _, err := db.Exec(createCheckpoints); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints table: %w", err)
	}
	return &Saver{db: db}, nil
}

// Open opens (or creates) a SQLite database at path and returns a saver
// owning the connection.
func Open(path string) (*Saver, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	saver, err := NewSaver(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return saver, nil
}

// Put stores a checkpoint row, overwriting any earlier snapshot of the
// same (run, step).
func (s *Saver) Put(ctx context.Context, checkpoint *graph.Checkpoint) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx, insertCheckpoint,
		checkpoint.RunID, checkpoint.Step, checkpoint.ID,
		checkpoint.Timestamp.UnixNano(), data)
	if err != nil {
		return fmt.Errorf("failed to store checkpoint: %w", err)
	}
	return nil
}

// Get retrieves the checkpoint at a specific step.
func (s *Saver) Get(ctx context.Context, runID string, step int) (*graph.Checkpoint, error) {
	return s.queryOne(ctx, selectByStep, runID, step)
}

// Latest retrieves the most recent checkpoint for a run.
func (s *Saver) Latest(ctx context.Context, runID string) (*graph.Checkpoint, error) {
	return s.queryOne(ctx, selectLatest, runID)
}

func (s *Saver) queryOne(ctx context.Context, query string, args ...any) (*graph.Checkpoint, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, graph.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoint: %w", err)
	}
	return decode(data)
}

// List returns all checkpoints for a run in ascending step order.
func (s *Saver) List(ctx context.Context, runID string) ([]*graph.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, selectAll, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var result []*graph.Checkpoint
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		cp, err := decode(data)
		if err != nil {
			return nil, err
		}
		result = append(result, cp)
	}
	return result, rows.Err()
}

// DeleteRun removes all checkpoints for a run.
func (s *Saver) DeleteRun(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, deleteRun, runID); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Saver) Close() error {
	return s.db.Close()
}

func decode(data []byte) (*graph.Checkpoint, error) {
	var cp graph.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}
