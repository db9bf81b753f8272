// Package journal persists convergence run reports in SQLite.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dd0wney/cluso-pgha/pkg/converge"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - runs and node_results
const currentSchemaVersion = 1

// ErrRunNotFound is returned by Run for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// Journal stores the outcome of every convergence run.
type Journal struct {
	db *sql.DB
}

// Run is a journaled convergence run.
type Run struct {
	RunID            string
	Cluster          string
	Primary          string
	Started          time.Time
	Finished         time.Time
	Succeeded        bool
	Verified         bool
	ExpectedReplicas int
	Streaming        int
	VerifyPolls      int
	Error            string
	Nodes            []NodeResult
}

func (r Run) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// NodeResult is one node's part of a journaled run.
type NodeResult struct {
	Node     string
	Address  string
	Role     string
	Initial  string
	State    string
	Failed   bool
	Actions  []string
	Changes  []string
	Warnings []string
	Error    string
}

// Open creates or opens the journal database at path.
//
// The database runs in WAL mode with a 5-second busy timeout and foreign
// keys enforced. Open is idempotent.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Record stores r. Recording the same run id twice replaces the earlier
// entry, so a report may be recorded before and after verification.
func (j *Journal) Record(ctx context.Context, r *converge.Report) error {
	if r == nil || r.RunID == "" {
		return errors.New("record run: missing run id")
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	defer tx.Rollback()

	// node_results cascade
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, r.RunID); err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(run_id, cluster, primary_node, started_ns, finished_ns, succeeded, verified,
		 expected_replicas, streaming, verify_polls, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.RunID,
		r.Cluster,
		r.Primary,
		r.Started.UnixNano(),
		r.Finished.UnixNano(),
		r.Succeeded(),
		r.Verified,
		r.ExpectedStreams,
		r.Streaming,
		r.VerifyPolls,
		r.Error,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	for i, n := range r.Nodes {
		actions, err := marshalList(n.Actions)
		if err != nil {
			return fmt.Errorf("record run: %w", err)
		}
		changes, err := marshalList(n.Changes)
		if err != nil {
			return fmt.Errorf("record run: %w", err)
		}
		warnings, err := marshalList(n.Warnings)
		if err != nil {
			return fmt.Errorf("record run: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO node_results
			(run_id, position, node, address, role, initial_state, final_state, failed,
			 actions, changes, warnings, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			r.RunID,
			i,
			n.Name,
			n.Address,
			n.Role,
			n.Initial.String(),
			n.State.String(),
			n.Failed,
			actions,
			changes,
			warnings,
			n.Error,
		)
		if err != nil {
			return fmt.Errorf("record node %s: %w", n.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs of cluster, newest first. An empty
// cluster matches every cluster.
func (j *Journal) Recent(ctx context.Context, cluster string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, cluster, primary_node, started_ns, finished_ns, succeeded, verified,
		       expected_replicas, streaming, verify_polls, error
		FROM runs
		WHERE ? = '' OR cluster = ?
		ORDER BY started_ns DESC, run_id ASC
		LIMIT ?
	`, cluster, cluster, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	for i := range runs {
		if runs[i].Nodes, err = j.nodes(ctx, runs[i].RunID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// Run returns the journaled run with the given id.
func (j *Journal) Run(ctx context.Context, runID string) (Run, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT run_id, cluster, primary_node, started_ns, finished_ns, succeeded, verified,
		       expected_replicas, streaming, verify_polls, error
		FROM runs
		WHERE run_id = ?
	`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return Run{}, err
	}
	if run.Nodes, err = j.nodes(ctx, runID); err != nil {
		return Run{}, err
	}
	return run, nil
}

func (j *Journal) nodes(ctx context.Context, runID string) ([]NodeResult, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT node, address, role, initial_state, final_state, failed,
		       actions, changes, warnings, error
		FROM node_results
		WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query node results: %w", err)
	}
	defer rows.Close()

	var out []NodeResult
	for rows.Next() {
		var (
			n                          NodeResult
			actions, changes, warnings string
		)
		err := rows.Scan(&n.Node, &n.Address, &n.Role, &n.Initial, &n.State, &n.Failed,
			&actions, &changes, &warnings, &n.Error)
		if err != nil {
			return nil, fmt.Errorf("scan node result: %w", err)
		}
		if n.Actions, err = unmarshalList(actions); err != nil {
			return nil, err
		}
		if n.Changes, err = unmarshalList(changes); err != nil {
			return nil, err
		}
		if n.Warnings, err = unmarshalList(warnings); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate node results: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		r                 Run
		started, finished int64
	)
	err := s.Scan(&r.RunID, &r.Cluster, &r.Primary, &started, &finished, &r.Succeeded,
		&r.Verified, &r.ExpectedReplicas, &r.Streaming, &r.VerifyPolls, &r.Error)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	r.Started = time.Unix(0, started)
	r.Finished = time.Unix(0, finished)
	return r, nil
}

func marshalList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalList(data string) ([]string, error) {
	var items []string
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items, nil
}
