package session

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/gcodeml/pkg/arc"
	"github.com/3leaps/gcodeml/pkg/output"
	"github.com/3leaps/gcodeml/pkg/proxy"
	"github.com/3leaps/gcodeml/pkg/sessionstore"
)

// Submitter hands one rendered description to the submission tool, run
// from dir so relative input names resolve there.
type Submitter interface {
	Submit(ctx context.Context, jobFile, dir, description string) (arc.SubmitResponse, error)
}

// StatusQuerier asks the status tool about every job in a jobfile.
type StatusQuerier interface {
	Query(ctx context.Context, jobFile string) ([]arc.StatusRecord, error)
}

// Retriever downloads the outputs of a finished job into dir.
type Retriever interface {
	Fetch(ctx context.Context, jobID, dir string) error
}

// Sleeper blocks between two polls. It returns early with ctx.Err() when
// ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// DonePredicate decides from one poll's records whether monitoring is over.
type DonePredicate func(records []arc.StatusRecord) bool

// Metrics receives lifecycle counters.
type Metrics interface {
	RecordSubmission(ctx context.Context, cluster string, accepted bool)
	RecordPoll(ctx context.Context, records, terminal int)
	RecordTermination(ctx context.Context, cluster, status string)
}

// AllTerminal reports whether a poll has at least one record and every
// record is in a terminal status. The default completion rule combines it
// with every submitted job being TERMINATED, so a poll that drops a job
// cannot end monitoring.
func AllTerminal(records []arc.StatusRecord) bool {
	if len(records) == 0 {
		return false
	}
	for _, r := range records {
		if !r.Terminal() {
			return false
		}
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type nopMetrics struct{}

func (nopMetrics) RecordSubmission(context.Context, string, bool)    {}
func (nopMetrics) RecordPoll(context.Context, int, int)              {}
func (nopMetrics) RecordTermination(context.Context, string, string) {}

// Option configures a Session.
type Option func(*Session)

func WithGuard(g proxy.Guard) Option {
	return func(s *Session) { s.guard = g }
}

func WithSubmitter(sub Submitter) Option {
	return func(s *Session) { s.submitter = sub }
}

func WithStatusQuerier(q StatusQuerier) Option {
	return func(s *Session) { s.querier = q }
}

func WithRetriever(r Retriever) Option {
	return func(s *Session) { s.retriever = r }
}

// WithClient wires one ARC client as submitter, status querier and retriever.
func WithClient(c *arc.Client) Option {
	return func(s *Session) {
		s.submitter = c
		s.querier = c
		s.retriever = c
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithDebugLevel(level int) Option {
	return func(s *Session) { s.debugLevel = level }
}

// WithLimiter paces submission tool invocations.
func WithLimiter(l *rate.Limiter) Option {
	return func(s *Session) { s.limiter = l }
}

func WithEventSink(w output.Writer) Option {
	return func(s *Session) {
		if w != nil {
			s.events = w
		}
	}
}

func WithSleeper(fn Sleeper) Option {
	return func(s *Session) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// WithDonePredicate replaces the default completion rule. fn alone decides
// when monitoring ends.
func WithDonePredicate(fn DonePredicate) Option {
	return func(s *Session) {
		if fn != nil {
			s.done = fn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithStore checkpoints the session snapshot after every submit, poll and
// harvest.
func WithStore(st *sessionstore.Store) Option {
	return func(s *Session) { s.store = st }
}

// WithID sets the correlation id instead of generating one.
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}
