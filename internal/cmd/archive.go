package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gcodeml/internal/config"
	"github.com/3leaps/gcodeml/internal/observability"
	"github.com/3leaps/gcodeml/pkg/archive"
	"github.com/3leaps/gcodeml/pkg/sessionstore"
)

var archiveCmd = &cobra.Command{
	Use:   "archive <session-dir>",
	Short: "Upload a session to S3",
	Long: `Upload a session snapshot, its jobfile and the downloaded job outputs to
an S3 bucket (or S3-compatible store) under <prefix><session>/<session-id>/.

Credentials follow the AWS SDK default chain. Use --profile for a named
profile and --endpoint for MinIO, Wasabi and similar stores.

Example:
  gcodeml archive sessions/test-session --bucket grid-results
  gcodeml archive sessions/test-session --include-taskdb
  gcodeml archive sessions/test-session --endpoint http://localhost:9000 --force-path-style`,
	Args: cobra.ExactArgs(1),
	RunE: runArchive,
}

var (
	archiveBucket         string
	archiveRegion         string
	archiveEndpoint       string
	archivePrefix         string
	archiveProfile        string
	archiveForcePathStyle bool
	archiveIncludeTaskDB  bool
)

var newArchiver = archive.New

func init() {
	rootCmd.AddCommand(archiveCmd)

	archiveCmd.Flags().StringVar(&archiveBucket, "bucket", "", "Destination bucket (overrides archive.bucket)")
	archiveCmd.Flags().StringVar(&archiveRegion, "region", "", "AWS region (overrides archive.region)")
	archiveCmd.Flags().StringVar(&archiveEndpoint, "endpoint", "", "Custom S3 endpoint (overrides archive.endpoint)")
	archiveCmd.Flags().StringVar(&archivePrefix, "prefix", "", "Key prefix (overrides archive.prefix)")
	archiveCmd.Flags().StringVar(&archiveProfile, "profile", "", "AWS profile (overrides archive.profile)")
	archiveCmd.Flags().BoolVar(&archiveForcePathStyle, "force-path-style", false, "Use path-style addressing")
	archiveCmd.Flags().BoolVar(&archiveIncludeTaskDB, "include-taskdb", false, "Also upload the local task database file")
}

func archiveConfig(cfg *config.Config) archive.Config {
	ac := archive.Config{
		Bucket:         cfg.Archive.Bucket,
		Region:         cfg.Archive.Region,
		Endpoint:       cfg.Archive.Endpoint,
		Profile:        cfg.Archive.Profile,
		Prefix:         cfg.Archive.Prefix,
		ForcePathStyle: cfg.Archive.ForcePathStyle || archiveForcePathStyle,
	}
	if archiveBucket != "" {
		ac.Bucket = archiveBucket
	}
	if archiveRegion != "" {
		ac.Region = archiveRegion
	}
	if archiveEndpoint != "" {
		ac.Endpoint = archiveEndpoint
	}
	if archivePrefix != "" {
		ac.Prefix = archivePrefix
	}
	if archiveProfile != "" {
		ac.Profile = archiveProfile
	}
	return ac
}

func runArchive(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rec, err := sessionstore.Load(args[0])
	if err != nil {
		return exitError(exitCodeFor(err, foundry.ExitFileReadError), "Failed to read session", err)
	}

	var extra []string
	if archiveIncludeTaskDB {
		path, err := localTaskDBFile(cfg)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Cannot archive task database", err)
		}
		extra = append(extra, path)
	}

	a, err := newArchiver(ctx, archiveConfig(cfg), observability.CLILogger)
	if err != nil {
		var cfgErr *archive.ConfigError
		if errors.As(err, &cfgErr) {
			return exitError(foundry.ExitInvalidArgument, "Invalid archive configuration", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to object store", err)
	}

	objects, err := a.ArchiveSession(ctx, rec, extra...)
	if err != nil {
		if archive.Retryable(err) {
			observability.CLILogger.Warn("Object store is throttling or unavailable; rerun archive later",
				zap.String("session", rec.Name))
		}
		return exitError(exitCodeFor(err, foundry.ExitExternalServiceUnavailable), "Archive failed", err)
	}

	var total int64
	for _, o := range objects {
		total += o.Size
	}
	observability.CLILogger.Info("Session archived",
		zap.String("session", rec.Name),
		zap.String("prefix", a.SessionPrefix(rec)),
		zap.Int("objects", len(objects)),
		zap.Int64("bytes", total))
	fmt.Printf("Archived %d objects (%d bytes) to %s\n", len(objects), total, a.SessionPrefix(rec))
	return nil
}

// localTaskDBFile returns the configured task database path when it is a
// plain local file.
func localTaskDBFile(cfg *config.Config) (string, error) {
	path := taskdbPath
	if path == "" {
		path = cfg.TaskDB.Path
	}
	path = strings.TrimPrefix(strings.TrimSpace(path), "file:")
	if path == "" || path == ":memory:" {
		return "", fmt.Errorf("no local task database configured")
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("task database %s: %w", path, err)
	}
	return path, nil
}
