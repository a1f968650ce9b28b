// Package output provides the JSONL event stream of a session run.
//
// Output is structured as typed record envelopes containing submissions,
// polls, job transitions, errors and a final summary. Each line is a
// self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: gcodeml.<type>.v<version>
const (
	// TypeSubmit identifies one submission attempt.
	TypeSubmit = "gcodeml.submit.v1"

	// TypePoll identifies one status tool poll.
	TypePoll = "gcodeml.poll.v1"

	// TypeTransition identifies a job state change.
	TypeTransition = "gcodeml.transition.v1"

	// TypeError identifies error records.
	TypeError = "gcodeml.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "gcodeml.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "gcodeml.submit.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// SessionID is the correlation ID of the session run.
	SessionID string `json:"session_id"`

	// Session is the human-readable session name.
	Session string `json:"session"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// SubmitRecord is the data payload for one submission attempt.
type SubmitRecord struct {
	Job      string `json:"job"`
	JobID    string `json:"job_id,omitempty"`
	Cluster  string `json:"cluster,omitempty"`
	Accepted bool   `json:"accepted"`
	Result   int    `json:"result"`
	Reason   string `json:"reason,omitempty"`
}

// PollRecord is the data payload for one status poll.
type PollRecord struct {
	Poll     int            `json:"poll"`
	Records  int            `json:"records"`
	Terminal int            `json:"terminal"`
	Statuses map[string]int `json:"statuses,omitempty"`
	Done     bool           `json:"done"`
}

// TransitionRecord is the data payload for a job state change.
type TransitionRecord struct {
	Job    string `json:"job"`
	JobID  string `json:"job_id,omitempty"`
	From   string `json:"from"`
	To     string `json:"to"`
	Status string `json:"status,omitempty"`
}

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than failing the whole session,
// allowing partial results when some jobs fail.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Job is the job name related to this error, if applicable.
	Job string `json:"job,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeSubmissionParse = "SUBMISSION_PARSE"
	ErrCodeExternalTool    = "EXTERNAL_TOOL"
	ErrCodeRetrieval       = "RETRIEVAL"
	ErrCodeCredential      = "CREDENTIAL"
	ErrCodeInternal        = "INTERNAL"
)

// SummaryRecord is the data payload for the final summary.
type SummaryRecord struct {
	Jobs       int `json:"jobs"`
	Submitted  int `json:"submitted"`
	Failed     int `json:"failed_submissions"`
	Terminated int `json:"terminated"`
	Polls      int `json:"polls"`

	// Duration is the session wall time, when monitoring finished.
	Duration time.Duration `json:"duration_ns,omitempty"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration,omitempty"`

	Clusters map[string]int `json:"clusters,omitempty"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
