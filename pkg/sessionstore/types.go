package sessionstore

import (
	"math"
	"time"

	"github.com/3leaps/gcodeml/pkg/alignment"
)

// SessionState is the lifecycle phase of a whole session.
//
// NOTE: These values are persisted in session.json and are part of the
// stable on-disk contract.
type SessionState string

const (
	SessionStateNew         SessionState = "new"
	SessionStateSubmitted   SessionState = "submitted"
	SessionStateMonitoring  SessionState = "monitoring"
	SessionStateCompleted   SessionState = "completed"
	SessionStateInterrupted SessionState = "interrupted"
)

// JobRecord is the persisted view of one job.
//
// It carries every field the analytics sink reads once monitoring is over.
type JobRecord struct {
	Name         string           `json:"name"`
	State        string           `json:"state"`
	ExternalID   string           `json:"external_id,omitempty"`
	Cluster      string           `json:"cluster,omitempty"`
	SubmitResult int              `json:"submit_result"`
	Status       string           `json:"status,omitempty"`
	ExitCode     int              `json:"exit_code"`
	SubmittedAt  *time.Time       `json:"submitted_at,omitempty"`
	TerminatedAt *time.Time       `json:"terminated_at,omitempty"`
	Arguments    []string         `json:"arguments,omitempty"`
	InputFiles   []string         `json:"input_files,omitempty"`
	OutputFiles  []string         `json:"output_files,omitempty"`
	Stdout       string           `json:"stdout,omitempty"`
	Alignments   []alignment.Info `json:"alignments,omitempty"`
	Execution    *ExecutionRecord `json:"execution,omitempty"`

	// Description fields beyond the above. Empty or nil means the default.
	Executable         string `json:"executable,omitempty"`
	Stderr             string `json:"stderr,omitempty"`
	LogDir             string `json:"gmlog,omitempty"`
	Rerun              *int   `json:"rerun,omitempty"`
	RuntimeEnvironment string `json:"runtime_environment,omitempty"`
	Walltime           string `json:"walltime,omitempty"`
	RequestedCluster   string `json:"requested_cluster,omitempty"`
	InputDir           string `json:"input_dir,omitempty"`
}

// ExecutionRecord holds what was learned from a job's downloaded outputs.
type ExecutionRecord struct {
	Worker         string `json:"worker,omitempty"`
	CPU            string `json:"cpu,omitempty"`
	PhaseWalltimes []int  `json:"phase_walltimes_sec,omitempty"`
	OutputValid    []bool `json:"output_valid,omitempty"`
	DownloadDir    string `json:"download_dir,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Record is the persistent record written to session.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type Record struct {
	SessionID  string       `json:"session_id"`
	Name       string       `json:"name"`
	State      SessionState `json:"state"`
	WorkDir    string       `json:"work_dir"`
	JobFile    string       `json:"job_file"`
	DebugLevel int          `json:"debug_level"`
	PID        int          `json:"pid,omitempty"`
	StartTime  time.Time    `json:"start_time"`
	EndTime    *time.Time   `json:"end_time,omitempty"`
	LastPoll   *time.Time   `json:"last_poll,omitempty"`
	Polls      int          `json:"polls"`
	Jobs       []JobRecord  `json:"jobs"`
}

// Duration returns EndTime-StartTime in seconds rounded to one decimal,
// and false while the session has no end time.
func (r *Record) Duration() (float64, bool) {
	if r == nil || r.EndTime == nil {
		return 0, false
	}
	d := r.EndTime.Sub(r.StartTime).Seconds()
	return math.Round(d*10) / 10, true
}
