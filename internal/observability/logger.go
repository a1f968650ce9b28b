// Package observability provides logging and metrics for the CLI and server.
package observability

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the process-wide logger used by commands.
// It is a no-op logger until InitCLILogger runs.
var CLILogger = zap.NewNop()

var cliLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// InitCLILogger installs a human-readable stderr logger named name.
// verbose lowers the level to debug.
func InitCLILogger(name string, verbose bool) {
	if verbose {
		cliLevel.SetLevel(zapcore.DebugLevel)
	} else {
		cliLevel.SetLevel(zapcore.InfoLevel)
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.CallerKey = ""
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if !isTerminal(os.Stderr) {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), cliLevel)
	CLILogger = zap.New(core).Named(name)
}

// SetLevel changes the CLILogger level ("debug", "info", "warn", "error").
func SetLevel(level string) error {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cliLevel.SetLevel(lvl)
	return nil
}

// NewServerLogger returns a JSON logger for long-running processes.
func NewServerLogger(name, level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = lvl
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named(name), nil
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
