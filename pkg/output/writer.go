package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer outputs JSONL records for a session run.
//
// Implementations must be safe for concurrent use. Each Write* method
// emits a complete record as a single line of JSON followed by a newline.
type Writer interface {
	WriteSubmit(ctx context.Context, rec *SubmitRecord) error
	WritePoll(ctx context.Context, rec *PollRecord) error
	WriteTransition(ctx context.Context, rec *TransitionRecord) error
	WriteError(ctx context.Context, rec *ErrorRecord) error
	WriteSummary(ctx context.Context, rec *SummaryRecord) error

	// Close flushes any buffered output and releases resources.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// Writes are serialized using a mutex to ensure atomic line writes.
type JSONLWriter struct {
	w         io.Writer
	sessionID string
	session   string
	now       func() time.Time
	mu        sync.Mutex

	closed bool
}

// NewJSONLWriter creates a new JSONL writer.
//
// Parameters:
//   - w: The underlying writer (stdout, file, etc.)
//   - sessionID: Correlation ID for this session run
//   - session: Session name
func NewJSONLWriter(w io.Writer, sessionID, session string) *JSONLWriter {
	return &JSONLWriter{
		w:         w,
		sessionID: sessionID,
		session:   session,
		now:       time.Now,
	}
}

func (jw *JSONLWriter) WriteSubmit(ctx context.Context, rec *SubmitRecord) error {
	return jw.writeRecord(ctx, TypeSubmit, rec)
}

func (jw *JSONLWriter) WritePoll(ctx context.Context, rec *PollRecord) error {
	return jw.writeRecord(ctx, TypePoll, rec)
}

func (jw *JSONLWriter) WriteTransition(ctx context.Context, rec *TransitionRecord) error {
	return jw.writeRecord(ctx, TypeTransition, rec)
}

// WriteError emits an error record.
func (jw *JSONLWriter) WriteError(ctx context.Context, rec *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, rec)
}

// WriteSummary emits a summary record.
func (jw *JSONLWriter) WriteSummary(ctx context.Context, rec *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, rec)
}

// Close marks the writer as closed.
//
// If the underlying writer implements io.Closer, it is NOT closed.
// The caller is responsible for closing the underlying writer.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

// writeRecord marshals data and writes a complete record line while holding
// the mutex.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	record := Record{
		Type:      recordType,
		TS:        jw.now().UTC(),
		SessionID: jw.sessionID,
		Session:   jw.session,
		Data:      dataBytes,
	}

	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may return n < len(p) with a nil error; a truncated line
	// would corrupt the stream.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}

	return nil
}

func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// Discard is a Writer that drops every record.
type Discard struct{}

func (Discard) WriteSubmit(context.Context, *SubmitRecord) error         { return nil }
func (Discard) WritePoll(context.Context, *PollRecord) error             { return nil }
func (Discard) WriteTransition(context.Context, *TransitionRecord) error { return nil }
func (Discard) WriteError(context.Context, *ErrorRecord) error           { return nil }
func (Discard) WriteSummary(context.Context, *SummaryRecord) error       { return nil }
func (Discard) Close() error                                             { return nil }

var (
	_ Writer = (*JSONLWriter)(nil)
	_ Writer = Discard{}
)
