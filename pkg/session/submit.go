package session

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/3leaps/gcodeml/internal/apperrors"
	"github.com/3leaps/gcodeml/pkg/output"
	"github.com/3leaps/gcodeml/pkg/sessionstore"
)

// SubmitSummary counts the outcome of one Submit call.
type SubmitSummary struct {
	Submitted int
	Failed    int
	Skipped   int
}

// Submit hands every NEW job to the submission tool, one invocation per job
// in insertion order.
//
// The credential guard runs first; its failure is logged and submission
// proceeds. A job whose tool output carries no jobid stays NEW with a
// non-zero submit result and the loop moves on. An error running the tool
// itself aborts the call; jobs submitted so far keep their state.
func (s *Session) Submit(ctx context.Context) (SubmitSummary, error) {
	var sum SubmitSummary
	if s.submitter == nil {
		return sum, apperrors.Validation("submitter", "session has no submission tool configured")
	}

	if s.guard != nil {
		if err := s.guard.EnsureValid(ctx); err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			s.logger.Warn("Credential check failed, submitting anyway", zap.Error(err))
			_ = s.events.WriteError(ctx, &output.ErrorRecord{Code: output.ErrCodeCredential, Message: err.Error()})
		}
	}

	f, err := os.OpenFile(s.jobFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return sum, fmt.Errorf("open jobfile: %w", err)
	}
	defer func() { _ = f.Close() }()

	failures := 0
	for _, j := range s.jobs {
		if j.state != StateNew {
			sum.Skipped++
			continue
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return sum, err
			}
		}

		// The status tool reads this file back; ngsub appends the job id
		// after our comment line.
		if _, err := fmt.Fprintf(f, "# jobname=%s\n", j.Name()); err != nil {
			return sum, fmt.Errorf("write jobfile: %w", err)
		}

		resp, err := s.submitter.Submit(ctx, s.jobFile, j.desc.InputDir(), j.desc.Inline())
		if err != nil {
			if !errors.Is(err, apperrors.ErrSubmissionParse) {
				s.logger.Error("Submission tool failed", zap.String("job", j.Name()), zap.Error(err))
				_ = s.events.WriteError(ctx, &output.ErrorRecord{Code: output.ErrCodeExternalTool, Message: err.Error(), Job: j.Name()})
				s.checkpoint()
				return sum, err
			}
			failures++
			j.recordSubmission("", failures)
			sum.Failed++
			s.logger.Warn("Job not submitted",
				zap.String("job", j.Name()),
				zap.Int("exit_code", resp.ExitCode),
				zap.Error(err))
			s.metrics.RecordSubmission(ctx, "", false)
			_ = s.events.WriteSubmit(ctx, &output.SubmitRecord{
				Job:    j.Name(),
				Result: failures,
				Reason: err.Error(),
			})
			continue
		}

		j.recordSubmission(resp.JobID, 0)
		now := s.now().UTC()
		j.submittedAt = &now
		sum.Submitted++
		s.logger.Info("Job submitted",
			zap.String("job", j.Name()),
			zap.String("job_id", j.externalID),
			zap.String("cluster", j.cluster))
		s.metrics.RecordSubmission(ctx, j.cluster, true)
		_ = s.events.WriteSubmit(ctx, &output.SubmitRecord{
			Job:      j.Name(),
			JobID:    j.externalID,
			Cluster:  j.cluster,
			Accepted: true,
		})
	}

	if s.phase == sessionstore.SessionStateNew {
		s.phase = sessionstore.SessionStateSubmitted
	}
	s.checkpoint()
	return sum, nil
}
