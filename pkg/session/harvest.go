package session

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/gcodeml/internal/apperrors"
	"github.com/3leaps/gcodeml/pkg/arc"
	"github.com/3leaps/gcodeml/pkg/codeml"
	"github.com/3leaps/gcodeml/pkg/output"
)

// HarvestSummary counts the outcome of one Harvest call.
type HarvestSummary struct {
	Fetched int
	Failed  int
	Skipped int
}

// Harvest downloads the outputs of every job that finished successfully
// into <workDir>/<job name> and inspects them.
//
// Download failures are recorded on the job and do not stop the loop.
// Jobs that were already harvested are skipped.
func (s *Session) Harvest(ctx context.Context) (HarvestSummary, error) {
	var sum HarvestSummary
	if s.retriever == nil {
		return sum, apperrors.Validation("retriever", "session has no retrieval tool configured")
	}

	for _, j := range s.jobs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if j.state != StateTerminated || j.status != arc.StatusFinished {
			sum.Skipped++
			continue
		}
		if j.execution != nil && j.execution.Err == "" {
			sum.Skipped++
			continue
		}

		dir := filepath.Join(s.workDir, j.Name())
		exec := &Execution{DownloadDir: dir}
		j.execution = exec

		if err := s.retriever.Fetch(ctx, j.externalID, dir); err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			exec.Err = err.Error()
			sum.Failed++
			s.logger.Warn("Failed to fetch job outputs", zap.String("job", j.Name()), zap.Error(err))
			_ = s.events.WriteError(ctx, &output.ErrorRecord{Code: output.ErrCodeRetrieval, Message: err.Error(), Job: j.Name()})
			continue
		}

		res, err := codeml.Inspect(dir, j.desc.Stdout(), j.desc.OutputFiles())
		if err != nil {
			exec.Err = err.Error()
			sum.Failed++
			s.logger.Warn("Failed to inspect job outputs", zap.String("job", j.Name()), zap.Error(err))
			continue
		}
		exec.Worker = res.Hostname
		exec.CPU = res.CPU
		exec.PhaseWalltimes = res.PhaseWalltimes()
		exec.OutputValid = res.OutputValid()
		sum.Fetched++
	}

	s.checkpoint()
	return sum, nil
}

// Summary aggregates the session for the final event record.
func (s *Session) Summary() *output.SummaryRecord {
	sum := &output.SummaryRecord{
		Jobs:  len(s.jobs),
		Polls: s.polls,
	}
	clusters := make(map[string]int)
	for _, j := range s.jobs {
		switch {
		case j.state >= StateSubmitted:
			sum.Submitted++
		case j.submitResult != 0:
			sum.Failed++
		}
		if j.state.Terminal() {
			sum.Terminated++
		}
		if j.cluster != "" {
			clusters[j.cluster]++
		}
	}
	if len(clusters) > 0 {
		sum.Clusters = clusters
	}
	if end, ok := s.EndTime(); ok {
		d := end.Sub(s.startTime)
		sum.Duration = d
		sum.DurationHuman = d.Round(100 * time.Millisecond).String()
	}
	return sum
}
