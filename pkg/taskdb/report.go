package taskdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/3leaps/gcodeml/internal/apperrors"
)

// SessionInfo is one row of the sessions table.
type SessionInfo struct {
	SessionID string     `json:"session_id"`
	Name      string     `json:"name"`
	State     string     `json:"state"`
	WorkDir   string     `json:"work_dir"`
	JobFile   string     `json:"job_file"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Polls     int        `json:"polls"`
	Jobs      int        `json:"jobs"`
}

// Summary aggregates the codeml runs of one session.
//
// Speedup is the cumulative codeml time divided by the session walltime.
// Efficiency is Speedup per worker in percent and is only reported when
// Speedup is at least 1.
type Summary struct {
	SessionID     string     `json:"session_id"`
	Jobs          int        `json:"jobs"`
	Workers       int        `json:"workers"`
	Start         *time.Time `json:"start,omitempty"`
	End           *time.Time `json:"end,omitempty"`
	WalltimeSec   *float64   `json:"walltime_sec,omitempty"`
	CumCodemlSec  *int64     `json:"cum_codeml_sec,omitempty"`
	MinH0Sec      *int64     `json:"min_h0_sec,omitempty"`
	MaxH0Sec      *int64     `json:"max_h0_sec,omitempty"`
	MinH1Sec      *int64     `json:"min_h1_sec,omitempty"`
	MaxH1Sec      *int64     `json:"max_h1_sec,omitempty"`
	Speedup       *float64   `json:"speedup,omitempty"`
	EfficiencyPct *float64   `json:"efficiency_pct,omitempty"`
}

// ClusterCount is a job count for one cluster, optionally per state.
type ClusterCount struct {
	Cluster string `json:"cluster"`
	State   string `json:"state,omitempty"`
	Jobs    int    `json:"jobs"`
}

// WorkerTimes is one row of v_jobs_timevar: run time spread per worker node.
type WorkerTimes struct {
	Worker        string   `json:"worker"`
	Jobs          int      `json:"jobs"`
	CodemlMin     *float64 `json:"codeml_min_sec,omitempty"`
	CodemlMax     *float64 `json:"codeml_max_sec,omitempty"`
	CodemlAvg     *float64 `json:"codeml_avg_sec,omitempty"`
	TurnaroundMin *float64 `json:"turnaround_min_sec,omitempty"`
	TurnaroundMax *float64 `json:"turnaround_max_sec,omitempty"`
	TurnaroundAvg *float64 `json:"turnaround_avg_sec,omitempty"`
}

const sessionColumns = `s.session_id, s.name, s.state, s.work_dir, s.job_file, s.start_time, s.end_time, s.polls,
	(SELECT COUNT(*) FROM job j WHERE j.session_id = s.session_id)`

// ListSessions returns every ingested session, newest first.
func ListSessions(ctx context.Context, db *sql.DB) ([]SessionInfo, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions s ORDER BY s.start_time DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SessionInfo
	for rows.Next() {
		info, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// FindSession returns the most recently started session called name.
func FindSession(ctx context.Context, db *sql.DB, name string) (SessionInfo, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions s WHERE s.name = ? ORDER BY s.start_time DESC LIMIT 1`, name)
	info, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionInfo{}, apperrors.NotFound("session", name)
	}
	return info, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(s scanner) (SessionInfo, error) {
	var (
		info  SessionInfo
		start float64
		end   sql.NullFloat64
	)
	if err := s.Scan(&info.SessionID, &info.Name, &info.State, &info.WorkDir, &info.JobFile,
		&start, &end, &info.Polls, &info.Jobs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return info, err
		}
		return info, fmt.Errorf("scan session: %w", err)
	}
	info.StartTime = fromUnix(start)
	if end.Valid {
		t := fromUnix(end.Float64)
		info.EndTime = &t
	}
	return info, nil
}

// SessionSummary reads v_session for sessionID and derives speedup and
// efficiency.
func SessionSummary(ctx context.Context, db *sql.DB, sessionID string) (*Summary, error) {
	var (
		nJobs, nWorkers            int
		walltime, start, end       sql.NullFloat64
		cum                        sql.NullInt64
		minH0, maxH0, minH1, maxH1 sql.NullInt64
	)
	err := db.QueryRowContext(ctx, `
		SELECT n_jobs, n_workers, session_walltime, session_start_time, session_end_time,
			cum_codeml_walltime, min_time_h0, max_time_h0, min_time_h1, max_time_h1
		FROM v_session WHERE session_id = ?`, sessionID).Scan(
		&nJobs, &nWorkers, &walltime, &start, &end,
		&cum, &minH0, &maxH0, &minH1, &maxH1)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("session", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("read session summary: %w", err)
	}

	s := &Summary{
		SessionID:    sessionID,
		Jobs:         nJobs,
		Workers:      nWorkers,
		WalltimeSec:  floatPtr(walltime),
		CumCodemlSec: intPtr(cum),
		MinH0Sec:     intPtr(minH0),
		MaxH0Sec:     intPtr(maxH0),
		MinH1Sec:     intPtr(minH1),
		MaxH1Sec:     intPtr(maxH1),
	}
	if start.Valid {
		t := fromUnix(start.Float64)
		s.Start = &t
	}
	if end.Valid {
		t := fromUnix(end.Float64)
		s.End = &t
	}
	s.Speedup, s.EfficiencyPct = speedup(s.CumCodemlSec, s.WalltimeSec, s.Workers)
	return s, nil
}

// speedup returns cum/walltime and, when that is at least 1, the
// per-worker efficiency in percent. Both are rounded to two decimals.
func speedup(cum *int64, walltime *float64, workers int) (*float64, *float64) {
	if cum == nil || *cum == 0 || walltime == nil || *walltime == 0 || workers == 0 {
		return nil, nil
	}
	sp := float64(*cum) / *walltime
	spR := round2(sp)
	if sp < 1 {
		return &spR, nil
	}
	eff := round2(sp / float64(workers) * 100)
	return &spR, &eff
}

// JobsPerCluster counts the jobs of a session by cluster and state.
func JobsPerCluster(ctx context.Context, db *sql.DB, sessionID string) ([]ClusterCount, error) {
	return clusterCounts(ctx, db, `
		SELECT COALESCE(cluster, ''), state, COUNT(*) n_jobs
		FROM job WHERE session_id = ?
		GROUP BY cluster, state ORDER BY cluster, state`, sessionID, true)
}

// FailedPerCluster counts terminated jobs lacking a valid result file.
func FailedPerCluster(ctx context.Context, db *sql.DB, sessionID string) ([]ClusterCount, error) {
	return clusterCounts(ctx, db, `
		SELECT COALESCE(cluster, ''), n_jobs
		FROM v_failed_jobs WHERE session_id = ?`, sessionID, false)
}

func clusterCounts(ctx context.Context, db *sql.DB, query, sessionID string, withState bool) ([]ClusterCount, error) {
	rows, err := db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query cluster counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ClusterCount
	for rows.Next() {
		var c ClusterCount
		if withState {
			err = rows.Scan(&c.Cluster, &c.State, &c.Jobs)
		} else {
			err = rows.Scan(&c.Cluster, &c.Jobs)
		}
		if err != nil {
			return nil, fmt.Errorf("scan cluster count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// WorkerTimeVariation reads v_jobs_timevar for a session.
func WorkerTimeVariation(ctx context.Context, db *sql.DB, sessionID string) ([]WorkerTimes, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT COALESCE(wn, ''), n_jobs, codeml_min_time, codeml_max_time, codeml_avg_time,
			gcodeml_min_time, gcodeml_max_time, gcodeml_avg_time
		FROM v_jobs_timevar WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query worker times: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []WorkerTimes
	for rows.Next() {
		var (
			w    WorkerTimes
			vals [6]sql.NullFloat64
		)
		if err := rows.Scan(&w.Worker, &w.Jobs, &vals[0], &vals[1], &vals[2], &vals[3], &vals[4], &vals[5]); err != nil {
			return nil, fmt.Errorf("scan worker times: %w", err)
		}
		w.CodemlMin, w.CodemlMax, w.CodemlAvg = floatPtr(vals[0]), floatPtr(vals[1]), floatPtr(vals[2])
		w.TurnaroundMin, w.TurnaroundMax, w.TurnaroundAvg = floatPtr(vals[3]), floatPtr(vals[4]), floatPtr(vals[5])
		out = append(out, w)
	}
	return out, rows.Err()
}

func fromUnix(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC()
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
