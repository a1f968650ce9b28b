package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/gcodeml/internal/apperrors"
	"github.com/3leaps/gcodeml/pkg/arc"
	"github.com/3leaps/gcodeml/pkg/output"
	"github.com/3leaps/gcodeml/pkg/sessionstore"
)

// Monitor polls the status tool on the session jobfile until the done
// predicate holds, sleeping interval between polls.
//
// Without a custom predicate the session completes when every record of a
// poll is terminal and every submitted job has reached TERMINATED. A poll
// with no parsable records, or one that omits a submitted job, never
// completes the session. Only an error running the status tool or ctx
// ending stops the loop early.
func (s *Session) Monitor(ctx context.Context, interval time.Duration) error {
	if s.querier == nil {
		return apperrors.Validation("status querier", "session has no status tool configured")
	}
	if s.endTime != nil {
		return nil
	}
	if !s.hasSubmitted() {
		return apperrors.Validation("session", "no submitted jobs to monitor")
	}

	s.phase = sessionstore.SessionStateMonitoring
	s.checkpoint()
	s.logger.Info("Monitoring session", zap.Duration("interval", interval))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		records, err := s.querier.Query(ctx, s.jobFile)
		if err != nil {
			s.logger.Error("Status tool failed", zap.Error(err))
			_ = s.events.WriteError(ctx, &output.ErrorRecord{Code: output.ErrCodeExternalTool, Message: err.Error()})
			return err
		}

		now := s.now().UTC()
		s.polls++
		s.lastPoll = &now
		terminal := s.apply(ctx, records, now)
		done := s.finished(records)

		s.metrics.RecordPoll(ctx, len(records), terminal)
		_ = s.events.WritePoll(ctx, &output.PollRecord{
			Poll:     s.polls,
			Records:  len(records),
			Terminal: terminal,
			Statuses: countStatuses(records),
			Done:     done,
		})
		s.logger.Debug("Polled status tool",
			zap.Int("poll", s.polls),
			zap.Int("records", len(records)),
			zap.Int("terminal", terminal))

		if done {
			if s.endTime == nil {
				s.endTime = &now
			}
			s.phase = sessionstore.SessionStateCompleted
			s.checkpoint()
			d, _ := s.Duration()
			s.logger.Info("All jobs terminal", zap.Int("polls", s.polls), zap.Float64("duration_sec", d))
			return nil
		}
		s.checkpoint()

		if err := s.sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// apply updates tracked jobs from one poll and returns how many records
// were terminal.
func (s *Session) apply(ctx context.Context, records []arc.StatusRecord, now time.Time) int {
	terminal := 0
	for _, rec := range records {
		if rec.Terminal() {
			terminal++
		}
		j := s.jobByExternalID(rec.JobID)
		if j == nil {
			s.logger.Debug("Status for unknown job", zap.String("job_id", rec.JobID), zap.String("name", rec.Name))
			continue
		}
		prev, changed := j.observe(rec, now)
		if !changed {
			continue
		}
		_ = s.events.WriteTransition(ctx, &output.TransitionRecord{
			Job:    j.Name(),
			JobID:  j.externalID,
			From:   prev.String(),
			To:     j.state.String(),
			Status: rec.Status,
		})
		if j.state.Terminal() {
			s.metrics.RecordTermination(ctx, j.cluster, rec.Status)
			s.logger.Info("Job terminated",
				zap.String("job", j.Name()),
				zap.String("status", rec.Status),
				zap.Int("exit_code", rec.ExitCode))
		}
	}
	return terminal
}

func (s *Session) finished(records []arc.StatusRecord) bool {
	if s.done != nil {
		return s.done(records)
	}
	return AllTerminal(records) && s.allTrackedTerminal()
}

// allTrackedTerminal reports whether every submitted job is TERMINATED.
func (s *Session) allTrackedTerminal() bool {
	for _, j := range s.jobs {
		if j.state >= StateSubmitted && j.state != StateTerminated {
			return false
		}
	}
	return true
}

func (s *Session) hasSubmitted() bool {
	for _, j := range s.jobs {
		if j.state >= StateSubmitted {
			return true
		}
	}
	return false
}

func countStatuses(records []arc.StatusRecord) map[string]int {
	if len(records) == 0 {
		return nil
	}
	out := make(map[string]int)
	for _, r := range records {
		out[r.Status]++
	}
	return out
}
