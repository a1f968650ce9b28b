// Package session drives a batch of codeml jobs through the grid: submit
// every job once, poll the status tool until all are terminal, then fetch
// and inspect their outputs.
//
// A Session is owned by a single goroutine. Blocking points are the external
// tool invocations and the sleep between polls; both honor ctx.
package session

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/gcodeml/internal/apperrors"
	"github.com/3leaps/gcodeml/pkg/alignment"
	"github.com/3leaps/gcodeml/pkg/output"
	"github.com/3leaps/gcodeml/pkg/proxy"
	"github.com/3leaps/gcodeml/pkg/sessionstore"
	"github.com/3leaps/gcodeml/pkg/xrsl"
)

// JobFileSuffix names the jobfile shared by the submission and status tools.
const JobFileSuffix = ".jobs"

// Session is a named batch of jobs with a dedicated work directory.
type Session struct {
	id         string
	name       string
	workDir    string
	jobFile    string
	debugLevel int

	jobs      []*Job
	startTime time.Time
	endTime   *time.Time
	lastPoll  *time.Time
	polls     int
	phase     sessionstore.SessionState

	guard     proxy.Guard
	submitter Submitter
	querier   StatusQuerier
	retriever Retriever
	limiter   *rate.Limiter
	events    output.Writer
	metrics   Metrics
	store     *sessionstore.Store
	logger    *zap.Logger
	sleep     Sleeper
	done      DonePredicate
	now       func() time.Time
}

func newSession(name string, opts []Option) *Session {
	s := &Session{
		id:      uuid.NewString(),
		name:    name,
		phase:   sessionstore.SessionStateNew,
		events:  output.Discard{},
		metrics: nopMetrics{},
		logger:  zap.NewNop(),
		sleep:   sleepContext,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// New creates a session named name under root. The work directory
// <root>/<name> must not exist yet.
func New(root, name string, opts ...Option) (*Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.Validation("session name", "must not be empty")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, apperrors.Validation("session name", fmt.Sprintf("%q is not a plain directory name", name))
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve session root: %w", err)
	}

	s := newSession(name, opts)
	s.startTime = s.now().UTC()
	s.workDir = filepath.Join(root, name)
	s.jobFile = filepath.Join(s.workDir, name+JobFileSuffix)

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create session root: %w", err)
	}
	if err := os.Mkdir(s.workDir, 0755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, apperrors.AlreadyExists("session directory", s.workDir)
		}
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	if err := os.WriteFile(s.jobFile, nil, 0644); err != nil {
		return nil, fmt.Errorf("create jobfile: %w", err)
	}

	s.logger = s.logger.With(zap.String("session", name), zap.String("session_id", s.id))
	s.logger.Info("Session created", zap.String("work_dir", s.workDir))
	return s, nil
}

// Restore rebuilds a session from its snapshot so monitoring or harvesting
// can continue after the driving process went away.
func Restore(rec *sessionstore.Record, opts ...Option) (*Session, error) {
	if rec == nil {
		return nil, apperrors.Validation("session record", "must not be nil")
	}
	s := newSession(rec.Name, append([]Option{WithID(rec.SessionID), WithDebugLevel(rec.DebugLevel)}, opts...))
	s.workDir = rec.WorkDir
	s.jobFile = rec.JobFile
	s.startTime = rec.StartTime
	s.endTime = rec.EndTime
	s.lastPoll = rec.LastPoll
	s.polls = rec.Polls
	s.phase = rec.State

	for _, jr := range rec.Jobs {
		desc, err := restoreDescription(jr)
		if err != nil {
			return nil, apperrors.MalformedInput("session snapshot", rec.Name, err.Error())
		}
		state, err := ParseState(jr.State)
		if err != nil {
			return nil, apperrors.MalformedInput("session snapshot", rec.Name, err.Error())
		}
		j := &Job{
			desc:         desc,
			alignments:   append([]alignment.Info(nil), jr.Alignments...),
			state:        state,
			externalID:   jr.ExternalID,
			cluster:      jr.Cluster,
			submitResult: jr.SubmitResult,
			status:       jr.Status,
			exitCode:     jr.ExitCode,
			submittedAt:  jr.SubmittedAt,
			terminatedAt: jr.TerminatedAt,
			owner:        s,
		}
		if e := jr.Execution; e != nil {
			j.execution = &Execution{
				Worker:         e.Worker,
				CPU:            e.CPU,
				PhaseWalltimes: e.PhaseWalltimes,
				OutputValid:    e.OutputValid,
				DownloadDir:    e.DownloadDir,
				Err:            e.Error,
			}
		}
		s.jobs = append(s.jobs, j)
	}

	s.logger = s.logger.With(zap.String("session", s.name), zap.String("session_id", s.id))
	return s, nil
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Name() string         { return s.name }
func (s *Session) WorkDir() string      { return s.workDir }
func (s *Session) JobFile() string      { return s.jobFile }
func (s *Session) DebugLevel() int      { return s.debugLevel }
func (s *Session) StartTime() time.Time { return s.startTime }
func (s *Session) Polls() int           { return s.polls }

// Jobs returns the session's jobs in insertion order.
func (s *Session) Jobs() []*Job {
	return append([]*Job(nil), s.jobs...)
}

// EndTime returns the time monitoring saw every job terminal.
func (s *Session) EndTime() (time.Time, bool) {
	if s.endTime == nil {
		return time.Time{}, false
	}
	return *s.endTime, true
}

// Duration returns end-start in seconds rounded to one decimal. It is
// absent until monitoring has completed.
func (s *Session) Duration() (float64, bool) {
	if s.endTime == nil {
		return 0, false
	}
	d := s.endTime.Sub(s.startTime).Seconds()
	return math.Round(d*10) / 10, true
}

// AddJob appends jobs in order. A job owned by another session, or a name
// already used in this session, is rejected.
func (s *Session) AddJob(jobs ...*Job) error {
	for _, j := range jobs {
		if j == nil {
			return apperrors.Validation("job", "must not be nil")
		}
		if j.owner == s {
			continue
		}
		if j.owner != nil {
			return apperrors.Validation("job", fmt.Sprintf("%s belongs to session %s", j.Name(), j.owner.name))
		}
		if s.job(j.Name()) != nil {
			return apperrors.Validation("job name", fmt.Sprintf("%s is already used in session %s", j.Name(), s.name))
		}
		j.owner = s
		s.jobs = append(s.jobs, j)
	}
	return nil
}

// RemoveJob drops jobs from the session. Jobs not in the session are
// ignored.
func (s *Session) RemoveJob(jobs ...*Job) {
	for _, j := range jobs {
		if j == nil || j.owner != s {
			continue
		}
		for i, cur := range s.jobs {
			if cur == j {
				s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
				break
			}
		}
		j.owner = nil
	}
}

func (s *Session) job(name string) *Job {
	for _, j := range s.jobs {
		if j.Name() == name {
			return j
		}
	}
	return nil
}

// restoreDescription rebuilds the description persisted in jr. Fields
// absent from older snapshots keep their defaults.
func restoreDescription(jr sessionstore.JobRecord) (xrsl.Description, error) {
	b := xrsl.NewBuilder(jr.Name).
		SetArguments(jr.Arguments...).
		SetInputFiles(jr.InputFiles...).
		SetOutputFiles(jr.OutputFiles...).
		SetCluster(jr.RequestedCluster).
		SetInputDir(jr.InputDir)
	if jr.Executable != "" {
		b.SetExecutable(jr.Executable)
	}
	if jr.Stdout != "" {
		b.SetStdout(jr.Stdout)
	}
	if jr.Stderr != "" {
		b.SetStderr(jr.Stderr)
	}
	if jr.LogDir != "" {
		b.SetLogDir(jr.LogDir)
	}
	if jr.RuntimeEnvironment != "" {
		b.SetRuntimeEnvironment(jr.RuntimeEnvironment)
	}
	if jr.Rerun != nil {
		if err := b.SetRerun(*jr.Rerun); err != nil {
			return xrsl.Description{}, err
		}
	}
	if err := b.SetWalltime(jr.Walltime); err != nil {
		return xrsl.Description{}, err
	}
	return b.Build()
}

func (s *Session) jobByExternalID(id string) *Job {
	for _, j := range s.jobs {
		if j.externalID != "" && j.externalID == id {
			return j
		}
	}
	return nil
}

// Snapshot returns the persisted view of the session and all its jobs.
func (s *Session) Snapshot() *sessionstore.Record {
	rec := &sessionstore.Record{
		SessionID:  s.id,
		Name:       s.name,
		State:      s.phase,
		WorkDir:    s.workDir,
		JobFile:    s.jobFile,
		DebugLevel: s.debugLevel,
		StartTime:  s.startTime,
		EndTime:    s.endTime,
		LastPoll:   s.lastPoll,
		Polls:      s.polls,
		Jobs:       make([]sessionstore.JobRecord, 0, len(s.jobs)),
	}
	if s.phase == sessionstore.SessionStateMonitoring {
		rec.PID = os.Getpid()
	}
	for _, j := range s.jobs {
		rerun := j.desc.Rerun()
		jr := sessionstore.JobRecord{
			Name:         j.Name(),
			State:        j.state.String(),
			ExternalID:   j.externalID,
			Cluster:      j.cluster,
			SubmitResult: j.submitResult,
			Status:       j.status,
			ExitCode:     j.exitCode,
			SubmittedAt:  j.submittedAt,
			TerminatedAt: j.terminatedAt,
			Arguments:    j.desc.Arguments(),
			InputFiles:   j.desc.InputFiles(),
			OutputFiles:  j.desc.OutputFiles(),
			Stdout:       j.desc.Stdout(),
			Alignments:   j.Alignments(),

			Executable:         j.desc.Executable(),
			Stderr:             j.desc.Stderr(),
			LogDir:             j.desc.LogDir(),
			Rerun:              &rerun,
			RuntimeEnvironment: j.desc.RuntimeEnvironment(),
			Walltime:           j.desc.Walltime(),
			RequestedCluster:   j.desc.Cluster(),
			InputDir:           j.desc.InputDir(),
		}
		if e := j.execution; e != nil {
			jr.Execution = &sessionstore.ExecutionRecord{
				Worker:         e.Worker,
				CPU:            e.CPU,
				PhaseWalltimes: e.PhaseWalltimes,
				OutputValid:    e.OutputValid,
				DownloadDir:    e.DownloadDir,
				Error:          e.Err,
			}
		}
		rec.Jobs = append(rec.Jobs, jr)
	}
	return rec
}

func (s *Session) checkpoint() {
	if s.store == nil {
		return
	}
	if err := s.store.Write(s.Snapshot()); err != nil {
		s.logger.Warn("Failed to write session snapshot", zap.Error(err))
	}
}
