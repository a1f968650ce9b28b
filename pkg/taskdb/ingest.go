package taskdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/gcodeml/internal/apperrors"
	"github.com/3leaps/gcodeml/pkg/sessionstore"
)

const controlSuffix = ".ctl"

// Ingest loads one session snapshot, replacing any rows previously stored
// for the same session id. Ingesting the same record twice is a no-op.
func Ingest(ctx context.Context, db *sql.DB, rec *sessionstore.Record) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}
	if rec == nil || strings.TrimSpace(rec.SessionID) == "" {
		return apperrors.Validation("session_id", "session record has no id")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM job WHERE session_id = ?`, rec.SessionID); err != nil {
		return fmt.Errorf("clear jobs for session %s: %w", rec.SessionID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, name, state, work_dir, job_file, start_time, end_time, polls, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			name = excluded.name,
			state = excluded.state,
			work_dir = excluded.work_dir,
			job_file = excluded.job_file,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			polls = excluded.polls,
			ingested_at = excluded.ingested_at`,
		rec.SessionID, rec.Name, string(rec.State), rec.WorkDir, rec.JobFile,
		unixSeconds(rec.StartTime), nullTime(rec.EndTime), rec.Polls,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", rec.SessionID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO job (
			session_id, name, id, input_path, output_path, state, status, exit_code,
			mlc_valid_h0, mlc_valid_h1, cluster, worker, cpu,
			time_submitted, time_terminated, codeml_walltime_h0, codeml_walltime_h1,
			aln_len, n_seq
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare job insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, j := range rec.Jobs {
		row := jobRow(j)
		if _, err := stmt.ExecContext(ctx,
			rec.SessionID, j.Name, nullString(j.ExternalID), nullString(row.inputPath), nullString(row.outputPath),
			j.State, nullString(j.Status), j.ExitCode,
			row.valid[0], row.valid[1], nullString(j.Cluster), nullString(row.worker), nullString(row.cpu),
			nullTime(j.SubmittedAt), nullTime(j.TerminatedAt), row.walltime[0], row.walltime[1],
			row.alnLen, row.nSeq,
		); err != nil {
			return fmt.Errorf("insert job %s: %w", j.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ingest tx: %w", err)
	}
	return nil
}

type row struct {
	inputPath  string
	outputPath string
	worker     string
	cpu        string
	valid      [2]sql.NullBool
	walltime   [2]sql.NullInt64
	alnLen     sql.NullInt64
	nSeq       sql.NullInt64
}

// jobRow flattens the job fields the table stores in fixed columns. The
// first two codeml phases map to the H0 and H1 columns.
func jobRow(j sessionstore.JobRecord) row {
	var r row
	var ctl []string
	for _, in := range j.InputFiles {
		if strings.HasSuffix(in, controlSuffix) {
			ctl = append(ctl, in)
		}
	}
	r.inputPath = strings.Join(ctl, ",")

	if len(j.Alignments) > 0 {
		r.alnLen = sql.NullInt64{Int64: int64(j.Alignments[0].AlignmentLength), Valid: true}
		r.nSeq = sql.NullInt64{Int64: int64(j.Alignments[0].SequenceCount), Valid: true}
	}

	e := j.Execution
	if e == nil {
		return r
	}
	r.outputPath = e.DownloadDir
	r.worker = e.Worker
	r.cpu = e.CPU
	for i := 0; i < 2; i++ {
		if i < len(e.OutputValid) {
			r.valid[i] = sql.NullBool{Bool: e.OutputValid[i], Valid: true}
		}
		if i < len(e.PhaseWalltimes) {
			r.walltime[i] = sql.NullInt64{Int64: int64(e.PhaseWalltimes[i]), Valid: true}
		}
	}
	return r
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func nullTime(t *time.Time) sql.NullFloat64 {
	if t == nil || t.IsZero() {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: unixSeconds(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
