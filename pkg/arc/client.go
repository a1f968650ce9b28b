package arc

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/gcodeml/internal/apperrors"
)

// Tools names the executables and shared flags used for every invocation.
type Tools struct {
	Submit string // default ngsub
	Status string // default ngstat
	Get    string // default ngget

	// DebugLevel is passed through as -d.
	DebugLevel int

	// IDScheme is the URL scheme of job identifiers in status output.
	IDScheme string
}

// Default tool names.
const (
	DefaultSubmitTool = "ngsub"
	DefaultStatusTool = "ngstat"
	DefaultGetTool    = "ngget"
	DefaultIDScheme   = "gsiftp"
)

// ApplyDefaults fills in empty tool names.
func (t *Tools) ApplyDefaults() {
	if t.Submit == "" {
		t.Submit = DefaultSubmitTool
	}
	if t.Status == "" {
		t.Status = DefaultStatusTool
	}
	if t.Get == "" {
		t.Get = DefaultGetTool
	}
	if t.IDScheme == "" {
		t.IDScheme = DefaultIDScheme
	}
}

// Client invokes the ARC tools through a Runner.
type Client struct {
	runner Runner
	tools  Tools
	status *StatusParser
	logger *zap.Logger
}

// NewClient builds a client. A nil runner uses ExecRunner.
func NewClient(runner Runner, tools Tools, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runner == nil {
		runner = NewExecRunner(logger)
	}
	tools.ApplyDefaults()
	return &Client{
		runner: runner,
		tools:  tools,
		status: NewStatusParser(tools.IDScheme),
		logger: logger,
	}
}

// Tools returns the effective tool configuration.
func (c *Client) Tools() Tools {
	return c.tools
}

// SubmitResponse is the parsed ngsub answer for one description.
type SubmitResponse struct {
	JobID    string
	Cluster  string
	ExitCode int
	Output   string
}

// Submit runs `ngsub -o <jobFile> -d <debug> -e <description>` from dir,
// so relative inputfiles in the description resolve there. jobFile should be
// absolute when dir is set.
//
// Output without a jobid line yields a SubmissionParse error alongside the
// response; callers treat it as a local failure of that job only. Failing to
// run the tool at all yields an ExternalTool error.
func (c *Client) Submit(ctx context.Context, jobFile, dir, description string) (SubmitResponse, error) {
	args := []string{"-o", jobFile, "-d", strconv.Itoa(c.tools.DebugLevel), "-e", description}
	res, err := c.runner.Run(ctx, dir, c.tools.Submit, args...)
	if err != nil {
		return SubmitResponse{}, err
	}

	resp := SubmitResponse{ExitCode: res.ExitCode, Output: string(res.Stdout)}
	id, ok := ParseSubmitOutput(resp.Output)
	if !ok {
		reason := "no jobid in output"
		if res.ExitCode != 0 {
			reason = fmt.Sprintf("%s (exit code %d)", reason, res.ExitCode)
		}
		return resp, apperrors.SubmissionParse(c.tools.Submit, reason)
	}
	resp.JobID = id
	resp.Cluster = ClusterFromID(id)
	return resp, nil
}

// Query runs `ngstat -l -i <jobFile> -d <debug>` and parses the job blocks.
//
// A non-zero exit is logged and the output parsed anyway: ngstat reports
// jobs it cannot find yet through its exit status.
func (c *Client) Query(ctx context.Context, jobFile string) ([]StatusRecord, error) {
	args := []string{"-l", "-i", jobFile, "-d", strconv.Itoa(c.tools.DebugLevel)}
	res, err := c.runner.Run(ctx, "", c.tools.Status, args...)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		c.logger.Debug("Status tool exited non-zero",
			zap.String("tool", c.tools.Status),
			zap.Int("exit_code", res.ExitCode))
	}
	return c.status.Parse(string(res.Stdout)), nil
}

// Fetch runs `ngget -d <debug> -dir <dir> <jobID>` to download job outputs.
func (c *Client) Fetch(ctx context.Context, jobID, dir string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return apperrors.Validation("job id", "must not be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}

	args := []string{"-d", strconv.Itoa(c.tools.DebugLevel), "-dir", dir, jobID}
	res, err := c.runner.Run(ctx, "", c.tools.Get, args...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s %s: exit code %d: %s", c.tools.Get, jobID, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	return nil
}
