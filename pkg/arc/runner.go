// Package arc adapts the NorduGrid ARC command-line tools (ngsub, ngstat,
// ngget) to typed Go calls.
//
// The tools are only reachable as executables and answer in free text, so
// every response is scraped with regular expressions. The expressions form
// the parsing contract identified by ContractVersion; swapping the external
// tool format means providing another implementation of the session
// package's Submitter/StatusQuerier interfaces, not touching the state
// machine.
package arc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/gcodeml/internal/apperrors"
)

// ContractVersion names the text format the parsers in this package accept.
const ContractVersion = "arc-ng-0.6"

// Result is the captured outcome of one tool invocation.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes an external command and captures its output.
//
// A non-zero exit status is reported through Result.ExitCode, not as an
// error. Errors are reserved for commands that could not be started or did
// not exit normally.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Logger *zap.Logger
}

// NewExecRunner returns an ExecRunner logging to logger (nil = no-op).
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecRunner{Logger: logger}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (Result, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cmdPath, err := exec.LookPath(name)
	if err != nil {
		return Result{}, apperrors.ExternalTool(name, err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, cmdPath, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("Running external tool",
		zap.String("tool", name),
		zap.String("dir", dir),
		zap.Strings("args", args))

	err = cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.Exited() {
		res.ExitCode = exitErr.ExitCode()
		logger.Debug("External tool exited non-zero",
			zap.String("tool", name),
			zap.Int("exit_code", res.ExitCode),
			zap.String("stderr", strings.TrimSpace(stderr.String())))
		return res, nil
	}

	return res, apperrors.ExternalTool(name, fmt.Errorf("abnormal termination: %w", err))
}

// Compile-time check that ExecRunner implements Runner.
var _ Runner = (*ExecRunner)(nil)
