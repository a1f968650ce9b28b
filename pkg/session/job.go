package session

import (
	"time"

	"github.com/3leaps/gcodeml/pkg/alignment"
	"github.com/3leaps/gcodeml/pkg/arc"
	"github.com/3leaps/gcodeml/pkg/xrsl"
)

// Execution holds what was learned from a job's downloaded outputs.
type Execution struct {
	Worker         string
	CPU            string
	PhaseWalltimes []int
	OutputValid    []bool
	DownloadDir    string
	Err            string
}

// Job wraps one immutable job description and tracks its lifecycle.
//
// State is advanced only by the owning Session.
type Job struct {
	desc       xrsl.Description
	alignments []alignment.Info

	state        State
	externalID   string
	cluster      string
	submitResult int

	status       string
	exitCode     int
	submittedAt  *time.Time
	terminatedAt *time.Time
	execution    *Execution

	owner *Session
}

// JobOption customizes the description built by CreateJob.
type JobOption func(b *xrsl.Builder) error

func WithWalltime(walltime string) JobOption {
	return func(b *xrsl.Builder) error { return b.SetWalltime(walltime) }
}

func WithCluster(cluster string) JobOption {
	return func(b *xrsl.Builder) error { b.SetCluster(cluster); return nil }
}

func WithRerun(n int) JobOption {
	return func(b *xrsl.Builder) error { return b.SetRerun(n) }
}

func WithRuntimeEnvironment(rte string) JobOption {
	return func(b *xrsl.Builder) error {
		if rte != "" {
			b.SetRuntimeEnvironment(rte)
		}
		return nil
	}
}

// WithInputDir sets the directory relative inputs are read and submitted
// from.
func WithInputDir(dir string) JobOption {
	return func(b *xrsl.Builder) error { b.SetInputDir(dir); return nil }
}

func WithExecutable(exe string) JobOption {
	return func(b *xrsl.Builder) error {
		if exe != "" {
			b.SetExecutable(exe)
		}
		return nil
	}
}

// NewJob wraps desc in a NEW job and reads every alignment input.
func NewJob(desc xrsl.Description) (*Job, error) {
	j := &Job{desc: desc, state: StateNew}
	for _, name := range desc.InputsWithSuffix(alignment.Suffix) {
		info, err := alignment.Read(desc.InputPath(name))
		if err != nil {
			return nil, err
		}
		j.alignments = append(j.alignments, info)
	}
	return j, nil
}

// CreateJob builds a description from the given fields and wraps it.
func CreateJob(name string, args, inputs, outputs []string, opts ...JobOption) (*Job, error) {
	b := xrsl.NewBuilder(name).
		SetArguments(args...).
		SetInputFiles(inputs...).
		SetOutputFiles(outputs...)
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	desc, err := b.Build()
	if err != nil {
		return nil, err
	}
	return NewJob(desc)
}

func (j *Job) Name() string                  { return j.desc.Name() }
func (j *Job) Description() xrsl.Description { return j.desc }
func (j *Job) State() State                  { return j.state }
func (j *Job) ExternalID() string            { return j.externalID }
func (j *Job) Cluster() string               { return j.cluster }
func (j *Job) SubmitResult() int             { return j.submitResult }
func (j *Job) Status() string                { return j.status }
func (j *Job) ExitCode() int                 { return j.exitCode }

func (j *Job) Alignments() []alignment.Info {
	return append([]alignment.Info(nil), j.alignments...)
}

func (j *Job) SubmittedAt() (time.Time, bool) {
	if j.submittedAt == nil {
		return time.Time{}, false
	}
	return *j.submittedAt, true
}

func (j *Job) TerminatedAt() (time.Time, bool) {
	if j.terminatedAt == nil {
		return time.Time{}, false
	}
	return *j.terminatedAt, true
}

// Execution returns a copy of the harvested execution details, or nil.
func (j *Job) Execution() *Execution {
	if j.execution == nil {
		return nil
	}
	e := *j.execution
	e.PhaseWalltimes = append([]int(nil), e.PhaseWalltimes...)
	e.OutputValid = append([]bool(nil), e.OutputValid...)
	return &e
}

// advance moves to the next state. It is a no-op once TERMINATED.
func (j *Job) advance() {
	if j.state < StateTerminated {
		j.state++
	}
}

// recordSubmission stores the outcome of one submission attempt.
// result 0 means the tool accepted the job and id is its grid identifier.
func (j *Job) recordSubmission(id string, result int) {
	j.externalID = id
	j.submitResult = result
	if result != 0 {
		return
	}
	if j.state == StateNew {
		j.advance()
	}
	j.cluster = arc.ClusterFromID(id)
}

// observe applies one status record. It returns the previous state and
// whether the state changed.
func (j *Job) observe(rec arc.StatusRecord, now time.Time) (State, bool) {
	prev := j.state
	if prev == StateNew {
		return prev, false
	}

	j.status = rec.Status
	j.exitCode = rec.ExitCode
	if j.submittedAt == nil && rec.SubmittedAt != nil {
		t := rec.SubmittedAt.UTC()
		j.submittedAt = &t
	}

	if rec.Terminal() {
		for j.state < StateTerminated {
			j.advance()
		}
		if j.terminatedAt == nil {
			t := now.UTC()
			if rec.CompletedAt != nil {
				t = rec.CompletedAt.UTC()
			}
			j.terminatedAt = &t
		}
	} else if j.state == StateSubmitted {
		j.advance()
	}
	return prev, j.state != prev
}
