package arc

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	submitJobIDRE = regexp.MustCompile(`(?i)jobid:\s*(\S+)`)
	clusterRE     = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]*://([^:/\s]+)`)

	statusRE    = regexp.MustCompile(`(?i)Status:\s*(\S+)`)
	jobNameRE   = regexp.MustCompile(`(?i)Job\s*Name:\s*(\S+)`)
	exitCodeRE  = regexp.MustCompile(`(?i)Exit\s*Code:\s*(\d+)`)
	submittedRE = regexp.MustCompile(`(?i)Submitted:\s*(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})`)
	completedRE = regexp.MustCompile(`(?i)Completed:\s*(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})`)
)

// TimestampLayout is the layout of Submitted:/Completed: values.
const TimestampLayout = "2006-01-02 15:04:05"

// Terminal fabric statuses.
const (
	StatusFinished = "FINISHED"
	StatusFailed   = "FAILED"
)

// IsTerminalStatus reports whether a fabric status ends a job.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusFinished, StatusFailed:
		return true
	default:
		return false
	}
}

// ParseSubmitOutput extracts the job identifier from ngsub output.
func ParseSubmitOutput(out string) (string, bool) {
	m := submitJobIDRE.FindStringSubmatch(out)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ClusterFromID returns the host encoded in a scheme://host[:port]/... id,
// or "" when the id carries none.
func ClusterFromID(id string) string {
	m := clusterRE.FindStringSubmatch(strings.TrimSpace(id))
	if m == nil {
		return ""
	}
	return m[1]
}

// StatusRecord is one job block from ngstat -l.
type StatusRecord struct {
	JobID       string     `json:"job_id"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	ExitCode    int        `json:"exit_code"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the record's status ends the job.
func (r StatusRecord) Terminal() bool {
	return IsTerminalStatus(r.Status)
}

// StatusParser splits ngstat -l output into job blocks.
//
// A block starts at a "Job <scheme>://..." line. A block is kept only once
// its id, name and status are all present; Exit Code defaults to 0.
// Records are keyed by job id in first-seen order.
type StatusParser struct {
	idRE     *regexp.Regexp
	location *time.Location
}

// NewStatusParser builds a parser recognising ids with the given scheme.
func NewStatusParser(scheme string) *StatusParser {
	if scheme == "" {
		scheme = DefaultIDScheme
	}
	return &StatusParser{
		idRE:     regexp.MustCompile(`(?i)Job\s*(` + regexp.QuoteMeta(scheme) + `\S+)`),
		location: time.Local,
	}
}

type block struct {
	id, name, status string
	exitCode         int
	submitted        *time.Time
	completed        *time.Time
}

func (b *block) complete() bool {
	return b.id != "" && b.name != "" && b.status != ""
}

// Parse returns the complete records found in out.
func (p *StatusParser) Parse(out string) []StatusRecord {
	var (
		records []StatusRecord
		index   = map[string]int{}
		cur     *block
	)

	flush := func() {
		if cur == nil || !cur.complete() {
			return
		}
		rec := StatusRecord{
			JobID:       cur.id,
			Name:        cur.name,
			Status:      cur.status,
			ExitCode:    cur.exitCode,
			SubmittedAt: cur.submitted,
			CompletedAt: cur.completed,
		}
		if i, ok := index[rec.JobID]; ok {
			records[i] = rec
			return
		}
		index[rec.JobID] = len(records)
		records = append(records, rec)
	}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := p.idRE.FindStringSubmatch(line); m != nil && !jobNameRE.MatchString(line) {
			flush()
			cur = &block{id: m[1]}
			continue
		}
		if cur == nil {
			continue
		}

		if m := jobNameRE.FindStringSubmatch(line); m != nil {
			cur.name = m[1]
			continue
		}
		if m := statusRE.FindStringSubmatch(line); m != nil {
			cur.status = m[1]
			continue
		}
		if m := exitCodeRE.FindStringSubmatch(line); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				cur.exitCode = n
			}
			continue
		}
		if m := submittedRE.FindStringSubmatch(line); m != nil {
			cur.submitted = p.parseTime(m[1])
			continue
		}
		if m := completedRE.FindStringSubmatch(line); m != nil {
			cur.completed = p.parseTime(m[1])
			continue
		}
	}
	flush()

	return records
}

func (p *StatusParser) parseTime(s string) *time.Time {
	t, err := time.ParseInLocation(TimestampLayout, s, p.location)
	if err != nil {
		return nil
	}
	return &t
}
