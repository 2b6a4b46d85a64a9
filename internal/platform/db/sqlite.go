package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/synthetichealth/vistaexport/internal/platform/globals"
)

// ErrRunNotFound is returned by Load for an unknown run id.
var ErrRunNotFound = errors.New("export run not found")

// RunInfo describes one exported run kept in a snapshot database.
type RunInfo struct {
	RunID      string
	Mode       string
	ExportDate string
	Entries    int
	CreatedAt  time.Time
}

// SnapshotDB keeps exported global stores in a SQLite file, one row per
// node, so that runs can be inspected with SQL and reloaded for verification.
type SnapshotDB struct {
	db *sql.DB
}

// OpenSnapshotDB opens or creates the snapshot database at path.
func OpenSnapshotDB(path string) (*SnapshotDB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite snapshot: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS export_run (
			run_id      TEXT PRIMARY KEY,
			mode        TEXT NOT NULL,
			export_date TEXT NOT NULL,
			entries     INTEGER NOT NULL,
			created_at  TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS global_node (
			run_id TEXT NOT NULL REFERENCES export_run(run_id),
			seq    INTEGER NOT NULL,
			global TEXT NOT NULL,
			ref    TEXT NOT NULL,
			value  TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_global_node_global ON global_node(run_id, global);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create snapshot tables: %w", err)
	}
	return &SnapshotDB{db: db}, nil
}

func (s *SnapshotDB) Close() error { return s.db.Close() }

// Save writes every node of store under run in one transaction.
func (s *SnapshotDB) Save(ctx context.Context, run RunInfo, store *globals.Store) (retErr error) {
	entries := store.Entries()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO export_run (run_id, mode, export_date, entries, created_at) VALUES (?, ?, ?, ?, ?)`,
		run.RunID, run.Mode, run.ExportDate, len(entries), run.CreatedAt.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("insert run %s: %w", run.RunID, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO global_node (run_id, seq, global, ref, value) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare node insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, run.RunID, i, e.Global, e.Ref(), e.Value); err != nil {
			return fmt.Errorf("insert %s: %w", e.Ref(), err)
		}
	}
	return tx.Commit()
}

// Runs lists the stored runs, newest first.
func (s *SnapshotDB) Runs(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, mode, export_date, entries, created_at FROM export_run ORDER BY created_at DESC, run_id`)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []RunInfo
	for rows.Next() {
		var r RunInfo
		var created string
		if err := rows.Scan(&r.RunID, &r.Mode, &r.ExportDate, &r.Entries, &created); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("run %s: created_at: %w", r.RunID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Load rebuilds the store saved under runID.
func (s *SnapshotDB) Load(ctx context.Context, runID string) (*globals.Store, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT entries FROM export_run WHERE run_id = ?`, runID).Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("select run %s: %w", runID, err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT ref, value FROM global_node WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("select nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	store := globals.NewStore()
	for rows.Next() {
		var ref, value string
		if err := rows.Scan(&ref, &value); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		e, err := globals.ParseLine(ref + "=" + value)
		if err != nil {
			return nil, err
		}
		if err := store.Put(e.Global, e.Subs, e.Value); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if store.Len() != n {
		return nil, fmt.Errorf("run %s: expected %d nodes, found %d", runID, n, store.Len())
	}
	return store, nil
}
