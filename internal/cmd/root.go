// Package cmd implements the gcodeml command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/gcodeml/internal/apperrors"
	"github.com/3leaps/gcodeml/internal/config"
	"github.com/3leaps/gcodeml/internal/observability"
)

const binaryName = "gcodeml"

// exitFailure is the generic failure code for errors without a mapped kind.
const exitFailure = 1

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var (
	cfgFile  string
	verbose  bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   binaryName,
	Short: "Run codeml job batches on an ARC grid",
	Long: `gcodeml submits batches of codeml jobs to a NorduGrid ARC grid,
monitors them until every job is terminal, downloads and inspects their
outputs, and loads the results into a task database for analysis.

Examples:
  gcodeml run --manifest batch.yaml
  gcodeml status sessions/test-session
  gcodeml taskdb report --session test-session`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: preRun,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./gcodeml.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
}

// SetVersionInfo records build metadata for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// Execute runs the root command and exits with a foundry exit code on error.
func Execute() {
	observability.InitCLILogger(binaryName, false)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		ExitWithCode(observability.CLILogger, exitCodeFor(err, exitFailure), "Command failed", err)
	}
}

// ExitWithCode logs err and terminates the process with code.
func ExitWithCode(logger *zap.Logger, code int, message string, err error) {
	if logger != nil {
		logger.Error(message, zap.Error(err), zap.Int("exit_code", code))
		_ = logger.Sync()
	}
	os.Exit(code)
}

func preRun(cmd *cobra.Command, args []string) error {
	observability.InitCLILogger(binaryName, verbose)
	if err := initConfig(); err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read configuration", err)
	}
	if verbose {
		return nil
	}
	level := logLevel
	if level == "" {
		level = viper.GetString("logging.level")
	}
	if err := observability.SetLevel(level); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid log level", err)
	}
	return nil
}

func setDefaults() {
	config.SetDefaults(viper.GetViper())
}

func initConfig() error {
	if err := config.LoadDotEnv(""); err != nil {
		return err
	}
	setDefaults()
	config.BindEnv(viper.GetViper())

	path := cfgFile
	if path == "" {
		path = os.Getenv(config.EnvPrefix + "_CONFIG")
	}
	return config.ReadConfigFile(viper.GetViper(), path)
}

// loadConfig decodes the process configuration read by preRun.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Decode(viper.GetViper())
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	return cfg, nil
}

// exitCodeError carries the process exit code for a failed command.
type exitCodeError struct {
	code    int
	message string
	err     error
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.message, e.err, e.code)
}

func (e *exitCodeError) Unwrap() error { return e.err }

func exitError(code int, message string, err error) error {
	return &exitCodeError{code: code, message: message, err: err}
}

// exitCodeFor maps err to an exit code. An explicit exitError code wins;
// otherwise the apperrors kind decides and fallback covers the rest.
func exitCodeFor(err error, fallback int) int {
	var ee *exitCodeError
	if errors.As(err, &ee) {
		return ee.code
	}
	switch {
	case errors.Is(err, context.Canceled):
		return foundry.ExitSignalInt
	case apperrors.IsNotFound(err):
		return foundry.ExitFileNotFound
	case apperrors.IsValidation(err), apperrors.IsMalformedInput(err), apperrors.IsAlreadyExists(err):
		return foundry.ExitInvalidArgument
	case apperrors.IsExternalTool(err):
		return foundry.ExitExternalServiceUnavailable
	}
	return fallback
}
