package cmd

import (
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/gcodeml/pkg/sessionstore"
)

var statusCmd = &cobra.Command{
	Use:   "status [session-dir]",
	Short: "Show session snapshots",
	Long: `Show the last snapshot of a session, or list every session under the
configured session root when no directory is given.

Example:
  gcodeml status
  gcodeml status sessions/test-session
  gcodeml status sessions/test-session --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Emit the snapshot as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		records, err := sessionstore.NewStore(cfg.Session.Root).List()
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to list sessions", err)
		}
		if statusJSON {
			return writeJSON(records)
		}
		printSnapshotList(records)
		return nil
	}

	rec, err := sessionstore.Load(args[0])
	if err != nil {
		return exitError(exitCodeFor(err, foundry.ExitFileReadError), "Failed to read session", err)
	}
	if statusJSON {
		return writeJSON(rec)
	}
	printSnapshot(rec)
	return nil
}

func printSnapshotList(records []sessionstore.Record) {
	if len(records) == 0 {
		fmt.Println("No sessions found.")
		return
	}
	fmt.Printf("%-24s %-12s %6s %6s  %s\n", "SESSION", "STATE", "JOBS", "POLLS", "STARTED")
	for _, r := range records {
		fmt.Printf("%-24s %-12s %6d %6d  %s\n", r.Name, r.State, len(r.Jobs), r.Polls, r.StartTime.Format(time.DateTime))
	}
}

func printSnapshot(rec *sessionstore.Record) {
	fmt.Printf("=== Session %s ===\n", rec.Name)
	fmt.Println()
	fmt.Printf("Session ID:  %s\n", rec.SessionID)
	fmt.Printf("State:       %s\n", rec.State)
	fmt.Printf("Work dir:    %s\n", rec.WorkDir)
	fmt.Printf("Started:     %s\n", rec.StartTime.Format(time.DateTime))
	if rec.LastPoll != nil {
		fmt.Printf("Last poll:   %s (%d polls)\n", rec.LastPoll.Format(time.DateTime), rec.Polls)
	}
	if d, ok := rec.Duration(); ok {
		fmt.Printf("Duration:    %.1f s\n", d)
	}
	fmt.Println()

	fmt.Printf("%-20s %-11s %-10s %4s  %s\n", "JOB", "STATE", "STATUS", "EXIT", "CLUSTER")
	for _, j := range rec.Jobs {
		status := j.Status
		if status == "" {
			status = "-"
		}
		cluster := j.Cluster
		if cluster == "" {
			cluster = "-"
		}
		fmt.Printf("%-20s %-11s %-10s %4d  %s\n", j.Name, j.State, status, j.ExitCode, cluster)
	}
}
