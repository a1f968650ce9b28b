// Package proxy keeps a VOMS grid proxy credential valid before submission.
package proxy

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/3leaps/gcodeml/pkg/arc"
)

// Guard ensures a usable credential exists.
type Guard interface {
	EnsureValid(ctx context.Context) error
}

// Defaults for VOMS proxy creation.
const (
	DefaultInfoTool = "voms-proxy-info"
	DefaultInitTool = "voms-proxy-init"
	DefaultVO       = "life"
	DefaultValidity = "24:00"
)

var expiredRE = regexp.MustCompile(`(?m)timeleft\s*:\s*0:00:00`)

// Config configures the VOMS guard.
type Config struct {
	InfoTool string
	InitTool string
	VO       string
	Validity string
}

func (c *Config) applyDefaults() {
	if c.InfoTool == "" {
		c.InfoTool = DefaultInfoTool
	}
	if c.InitTool == "" {
		c.InitTool = DefaultInitTool
	}
	if c.VO == "" {
		c.VO = DefaultVO
	}
	if c.Validity == "" {
		c.Validity = DefaultValidity
	}
}

// VOMS checks the proxy with voms-proxy-info and renews it with
// voms-proxy-init when it is missing or has no time left.
type VOMS struct {
	runner arc.Runner
	cfg    Config
	logger *zap.Logger
}

// NewVOMS builds a VOMS guard. A nil runner uses arc.ExecRunner.
func NewVOMS(runner arc.Runner, cfg Config, logger *zap.Logger) *VOMS {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runner == nil {
		runner = arc.NewExecRunner(logger)
	}
	cfg.applyDefaults()
	return &VOMS{runner: runner, cfg: cfg, logger: logger}
}

// EnsureValid implements Guard.
func (v *VOMS) EnsureValid(ctx context.Context) error {
	info, err := v.runner.Run(ctx, "", v.cfg.InfoTool)
	if err != nil {
		return err
	}

	switch {
	case info.ExitCode != 0:
		v.logger.Info("No grid proxy found, creating one", zap.String("vo", v.cfg.VO))
	case expiredRE.Match(info.Stdout):
		v.logger.Info("Grid proxy expired, renewing", zap.String("vo", v.cfg.VO))
	default:
		return nil
	}

	res, err := v.runner.Run(ctx, "", v.cfg.InitTool, "-voms", v.cfg.VO, "-valid", v.cfg.Validity)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s exited with code %d", v.cfg.InitTool, res.ExitCode)
	}
	return nil
}

// Static is a Guard that always reports the same outcome.
type Static struct {
	Err error
}

// EnsureValid implements Guard.
func (s Static) EnsureValid(context.Context) error {
	return s.Err
}

var (
	_ Guard = (*VOMS)(nil)
	_ Guard = Static{}
)
