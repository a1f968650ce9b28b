package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gcodeml/internal/observability"
	"github.com/3leaps/gcodeml/pkg/session"
	"github.com/3leaps/gcodeml/pkg/sessionstore"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <session-dir>",
	Short: "Continue monitoring a session from its snapshot",
	Long: `Continue a session that was started with --no-monitor or whose driving
process was interrupted. Jobs never submitted are submitted first; jobs
already handed to the grid are not submitted again.

Example:
  gcodeml resume sessions/test-session
  gcodeml resume sessions/test-session --events file:events.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

var resumeEvents string

func init() {
	rootCmd.AddCommand(resumeCmd)
	resumeCmd.Flags().StringVar(&resumeEvents, "events", "", "Write JSONL lifecycle events (stdout, file:<path> or <path>)")
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rec, err := sessionstore.Load(args[0])
	if err != nil {
		return exitError(exitCodeFor(err, foundry.ExitFileReadError), "Failed to read session", err)
	}
	// Load downgrades a monitoring snapshot whose process is gone, so one
	// still monitoring here has a live owner.
	if rec.State == sessionstore.SessionStateMonitoring && rec.PID > 0 && rec.PID != os.Getpid() {
		return exitError(foundry.ExitInvalidArgument, "Session is still being monitored",
			fmt.Errorf("process %d owns session %s", rec.PID, rec.Name))
	}

	events, cleanup, err := createEventWriter(resumeEvents, rec.SessionID, rec.Name)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to create event output", err)
	}
	defer cleanup()

	opts, stopMetrics, err := sessionOptions(ctx, cfg, filepath.Dir(rec.WorkDir), rec.DebugLevel, events)
	if err != nil {
		return err
	}
	defer stopMetrics()

	sess, err := session.Restore(rec, opts...)
	if err != nil {
		return exitError(exitCodeFor(err, foundry.ExitInvalidArgument), "Failed to restore session", err)
	}
	observability.CLILogger.Info("Resuming session",
		zap.String("session", sess.Name()),
		zap.String("state", string(rec.State)),
		zap.Int("jobs", len(sess.Jobs())))

	if hasNewJobs(sess) {
		sum, err := sess.Submit(ctx)
		if err != nil {
			return exitError(exitCodeFor(err, foundry.ExitExternalServiceUnavailable), "Submission failed", err)
		}
		observability.CLILogger.Info("Submission complete",
			zap.Int("submitted", sum.Submitted),
			zap.Int("failed", sum.Failed),
			zap.Int("skipped", sum.Skipped))
	}
	return monitorAndFinish(ctx, cfg, sess, events)
}

// hasNewJobs reports whether any job was never handed to the grid and has
// not failed submission before.
func hasNewJobs(sess *session.Session) bool {
	for _, j := range sess.Jobs() {
		if j.State() == session.StateNew && j.SubmitResult() == 0 {
			return true
		}
	}
	return false
}
