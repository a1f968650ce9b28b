package taskdb

import (
	"context"
	"database/sql"
	"fmt"
)

const SchemaVersion = 1

// Migrate creates (or upgrades) the task schema in-place.
//
// Times are stored as unix seconds (REAL) so the views can subtract them
// directly; codeml phase walltimes are whole seconds.
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			state TEXT NOT NULL,
			work_dir TEXT NOT NULL,
			job_file TEXT NOT NULL,
			start_time REAL NOT NULL,
			end_time REAL,
			polls INTEGER NOT NULL,
			ingested_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_name ON sessions(name);`,

		`CREATE TABLE IF NOT EXISTS job (
			session_id TEXT NOT NULL,
			name TEXT NOT NULL,
			-- id is the grid job identifier; empty when submission failed.
			id TEXT,
			-- input_path lists the control (*.ctl) inputs, comma separated.
			input_path TEXT,
			-- output_path is the local directory the outputs were fetched into.
			output_path TEXT,
			state TEXT NOT NULL,
			status TEXT,
			exit_code INTEGER,
			mlc_valid_h0 INTEGER,
			mlc_valid_h1 INTEGER,
			cluster TEXT,
			worker TEXT,
			cpu TEXT,
			time_submitted REAL,
			time_terminated REAL,
			codeml_walltime_h0 INTEGER,
			codeml_walltime_h1 INTEGER,
			aln_len INTEGER,
			n_seq INTEGER,
			PRIMARY KEY(session_id, name),
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_job_cluster ON job(cluster);`,

		`CREATE VIEW IF NOT EXISTS v_session AS
		SELECT
			session_id,
			COUNT(*) n_jobs,
			COUNT(DISTINCT(cluster || ':' || worker)) n_workers,
			ROUND(MAX(time_terminated) - MIN(time_submitted)) session_walltime,
			MIN(time_submitted) session_start_time,
			MAX(time_terminated) session_end_time,
			SUM(codeml_walltime_h0 + codeml_walltime_h1) cum_codeml_walltime,
			MIN(codeml_walltime_h0) min_time_h0,
			MAX(codeml_walltime_h0) max_time_h0,
			MIN(codeml_walltime_h1) min_time_h1,
			MAX(codeml_walltime_h1) max_time_h1
		FROM job GROUP BY session_id;`,

		`CREATE VIEW IF NOT EXISTS v_jobs_timevar AS
		SELECT
			session_id,
			COUNT(*) n_jobs,
			cluster || ':' || worker || ':' || cpu wn,
			MIN(codeml_walltime_h0 + codeml_walltime_h1) codeml_min_time,
			MAX(codeml_walltime_h0 + codeml_walltime_h1) codeml_max_time,
			ROUND(AVG(codeml_walltime_h0 + codeml_walltime_h1)) codeml_avg_time,
			ROUND(MIN(time_terminated - time_submitted)) gcodeml_min_time,
			ROUND(MAX(time_terminated - time_submitted)) gcodeml_max_time,
			ROUND(AVG(time_terminated - time_submitted)) gcodeml_avg_time
		FROM job GROUP BY session_id, wn ORDER BY n_jobs DESC;`,

		`CREATE VIEW IF NOT EXISTS v_failed_jobs AS
		SELECT session_id, cluster, COUNT(*) n_jobs
		FROM job
		WHERE state = 'TERMINATED'
			AND (COALESCE(mlc_valid_h0, 0) = 0 OR COALESCE(mlc_valid_h1, 0) = 0)
		GROUP BY session_id, cluster ORDER BY n_jobs DESC;`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	if current > SchemaVersion {
		return fmt.Errorf("task database schema v%d is newer than supported v%d", current, SchemaVersion)
	}
	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
