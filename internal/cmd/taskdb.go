package cmd

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gcodeml/internal/apperrors"
	"github.com/3leaps/gcodeml/internal/config"
	"github.com/3leaps/gcodeml/internal/observability"
	"github.com/3leaps/gcodeml/pkg/sessionstore"
	"github.com/3leaps/gcodeml/pkg/taskdb"
)

var taskdbCmd = &cobra.Command{
	Use:   "taskdb",
	Short: "Load sessions into the task database and report on them",
	Long: `Work with the task database, a SQLite (or libsql) file holding one row
per job of every ingested session.

The database location comes from taskdb.path / taskdb.url in the config
file or GCODEML_TASKDB_PATH / GCODEML_TASKDB_URL, or the --db flag.`,
}

var taskdbIngestCmd = &cobra.Command{
	Use:   "ingest <session-dir>...",
	Short: "Load session snapshots into the task database",
	Long: `Load one or more session snapshots (session.json) into the task database.
Re-ingesting a session replaces its rows.

Example:
  gcodeml taskdb ingest sessions/test-session
  gcodeml taskdb ingest sessions/*`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTaskDBIngest,
}

var taskdbReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Report session walltime, speedup and per-cluster job counts",
	Long: `Report on ingested sessions. Without --session every session is listed;
with --session the named session is summarized.

Example:
  gcodeml taskdb report
  gcodeml taskdb report --session test-session
  gcodeml taskdb report --session test-session --json`,
	RunE: runTaskDBReport,
}

var (
	taskdbPath          string
	taskdbReportSession string
	taskdbReportJSON    bool
)

func init() {
	rootCmd.AddCommand(taskdbCmd)
	taskdbCmd.AddCommand(taskdbIngestCmd)
	taskdbCmd.AddCommand(taskdbReportCmd)

	taskdbCmd.PersistentFlags().StringVar(&taskdbPath, "db", "", "Task database path (overrides taskdb.path)")
	taskdbReportCmd.Flags().StringVar(&taskdbReportSession, "session", "", "Session name to summarize")
	taskdbReportCmd.Flags().BoolVar(&taskdbReportJSON, "json", false, "Emit JSON instead of text")
}

func taskDBConfigured(cfg *config.Config) bool {
	return strings.TrimSpace(cfg.TaskDB.Path) != "" || strings.TrimSpace(cfg.TaskDB.URL) != ""
}

func openTaskDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	if taskdbPath != "" {
		return taskdb.Open(ctx, taskdb.Config{Path: taskdbPath})
	}
	if !taskDBConfigured(cfg) {
		return nil, apperrors.Validation("taskdb.path", "no task database configured")
	}
	return taskdb.Open(ctx, taskdb.Config{
		Path:      cfg.TaskDB.Path,
		URL:       cfg.TaskDB.URL,
		AuthToken: cfg.TaskDB.AuthToken,
	})
}

func ingestRecord(ctx context.Context, cfg *config.Config, rec *sessionstore.Record) error {
	db, err := openTaskDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := taskdb.Ingest(ctx, db, rec); err != nil {
		return err
	}
	observability.CLILogger.Info("Session loaded into task database",
		zap.String("session", rec.Name),
		zap.Int("jobs", len(rec.Jobs)))
	return nil
}

func runTaskDBIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openTaskDB(ctx, cfg)
	if err != nil {
		return exitError(exitCodeFor(err, foundry.ExitFileWriteError), "Failed to open task database", err)
	}
	defer func() { _ = db.Close() }()

	for _, dir := range args {
		rec, err := sessionstore.Load(dir)
		if err != nil {
			return exitError(exitCodeFor(err, foundry.ExitFileReadError), "Failed to read session "+dir, err)
		}
		if err := taskdb.Ingest(ctx, db, rec); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to ingest session "+rec.Name, err)
		}
		observability.CLILogger.Info("Ingested session",
			zap.String("session", rec.Name),
			zap.String("session_id", rec.SessionID),
			zap.Int("jobs", len(rec.Jobs)))
	}
	return nil
}

// sessionReport is the --json shape of a single-session report.
type sessionReport struct {
	Session  taskdb.SessionInfo    `json:"session"`
	Summary  *taskdb.Summary       `json:"summary"`
	Clusters []taskdb.ClusterCount `json:"clusters"`
	Failed   []taskdb.ClusterCount `json:"failed"`
	Workers  []taskdb.WorkerTimes  `json:"workers"`
}

func runTaskDBReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openTaskDB(ctx, cfg)
	if err != nil {
		return exitError(exitCodeFor(err, foundry.ExitFileReadError), "Failed to open task database", err)
	}
	defer func() { _ = db.Close() }()

	if taskdbReportSession == "" {
		sessions, err := taskdb.ListSessions(ctx, db)
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to list sessions", err)
		}
		if taskdbReportJSON {
			return writeJSON(sessions)
		}
		printSessionList(sessions)
		return nil
	}

	report, err := buildSessionReport(ctx, db, taskdbReportSession)
	if err != nil {
		return exitError(exitCodeFor(err, foundry.ExitFileReadError), "Failed to build report", err)
	}
	if taskdbReportJSON {
		return writeJSON(report)
	}
	printSessionReport(report)
	return nil
}

func buildSessionReport(ctx context.Context, db *sql.DB, name string) (*sessionReport, error) {
	info, err := taskdb.FindSession(ctx, db, name)
	if err != nil {
		return nil, err
	}
	r := &sessionReport{Session: info}
	if r.Summary, err = taskdb.SessionSummary(ctx, db, info.SessionID); err != nil {
		return nil, err
	}
	if r.Clusters, err = taskdb.JobsPerCluster(ctx, db, info.SessionID); err != nil {
		return nil, err
	}
	if r.Failed, err = taskdb.FailedPerCluster(ctx, db, info.SessionID); err != nil {
		return nil, err
	}
	if r.Workers, err = taskdb.WorkerTimeVariation(ctx, db, info.SessionID); err != nil {
		return nil, err
	}
	return r, nil
}

func printSessionList(sessions []taskdb.SessionInfo) {
	if len(sessions) == 0 {
		fmt.Println("No sessions ingested.")
		return
	}
	fmt.Printf("%-24s %-12s %6s  %s\n", "SESSION", "STATE", "JOBS", "STARTED")
	for _, s := range sessions {
		fmt.Printf("%-24s %-12s %6d  %s\n", s.Name, s.State, s.Jobs, s.StartTime.Format("2006-01-02 15:04:05"))
	}
}

func printSessionReport(r *sessionReport) {
	fmt.Printf("=== Session %s ===\n", r.Session.Name)
	fmt.Println()
	fmt.Printf("Session ID:   %s\n", r.Session.SessionID)
	fmt.Printf("State:        %s\n", r.Session.State)
	fmt.Printf("Jobs:         %d\n", r.Summary.Jobs)
	fmt.Printf("Workers:      %d\n", r.Summary.Workers)
	if r.Summary.WalltimeSec != nil {
		fmt.Printf("Walltime:     %.1f s\n", *r.Summary.WalltimeSec)
	}
	if r.Summary.CumCodemlSec != nil {
		fmt.Printf("Codeml time:  %d s\n", *r.Summary.CumCodemlSec)
	}
	if r.Summary.Speedup != nil {
		fmt.Printf("Speedup:      %.2f\n", *r.Summary.Speedup)
	}
	if r.Summary.EfficiencyPct != nil {
		fmt.Printf("Efficiency:   %.2f%%\n", *r.Summary.EfficiencyPct)
	}

	if len(r.Clusters) > 0 {
		fmt.Println()
		fmt.Println("Jobs per cluster:")
		for _, c := range r.Clusters {
			fmt.Printf("  %-32s %-12s %d\n", c.Cluster, c.State, c.Jobs)
		}
	}
	if len(r.Failed) > 0 {
		fmt.Println()
		fmt.Println("Failed jobs per cluster:")
		for _, c := range r.Failed {
			fmt.Printf("  %-32s %d\n", c.Cluster, c.Jobs)
		}
	}
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
