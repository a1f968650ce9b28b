package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, line []byte, data any) Record {
	t.Helper()
	var record Record
	require.NoError(t, json.Unmarshal(line, &record))
	if data != nil {
		require.NoError(t, json.Unmarshal(record.Data, data))
	}
	return record
}

func TestJSONLWriter_WriteSubmit(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "sess-123", "test-session")
	w.now = func() time.Time { return time.Date(2011, 10, 1, 21, 9, 44, 0, time.UTC) }

	err := w.WriteSubmit(context.Background(), &SubmitRecord{
		Job:      "FAM_1.1",
		JobID:    "gsiftp://ce.example.org:2811/jobs/1",
		Cluster:  "ce.example.org",
		Accepted: true,
	})
	require.NoError(t, err)

	var got SubmitRecord
	record := decodeLine(t, buf.Bytes(), &got)
	assert.Equal(t, TypeSubmit, record.Type)
	assert.Equal(t, "sess-123", record.SessionID)
	assert.Equal(t, "test-session", record.Session)
	assert.Equal(t, time.Date(2011, 10, 1, 21, 9, 44, 0, time.UTC), record.TS)
	assert.Equal(t, "ce.example.org", got.Cluster)
	assert.True(t, got.Accepted)
}

func TestJSONLWriter_RecordTypes(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "sess", "s")

	require.NoError(t, w.WritePoll(ctx, &PollRecord{Poll: 1, Records: 2, Statuses: map[string]int{"INLRMS:R": 2}}))
	require.NoError(t, w.WriteTransition(ctx, &TransitionRecord{Job: "a", From: "SUBMITTED", To: "RUNNING"}))
	require.NoError(t, w.WriteError(ctx, &ErrorRecord{Code: ErrCodeSubmissionParse, Message: "no jobid", Job: "b"}))
	require.NoError(t, w.WriteSummary(ctx, &SummaryRecord{Jobs: 2, Submitted: 1, Failed: 1, Duration: 1500 * time.Millisecond, DurationHuman: "1.5s"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)

	want := []string{TypePoll, TypeTransition, TypeError, TypeSummary}
	for i, line := range lines {
		record := decodeLine(t, []byte(line), nil)
		assert.Equal(t, want[i], record.Type)
	}

	var sum SummaryRecord
	decodeLine(t, []byte(lines[3]), &sum)
	assert.Equal(t, 1500*time.Millisecond, sum.Duration)
	assert.Equal(t, 1, sum.Failed)
}

func TestJSONLWriter_Close(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "sess", "s")
	require.NoError(t, w.Close())

	err := w.WritePoll(context.Background(), &PollRecord{Poll: 1})
	assert.ErrorIs(t, err, ErrWriterClosed)
	assert.Empty(t, buf.String())
}

func TestJSONLWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "sess", "s")

	const numWriters = 10
	const writesPerWriter = 100

	var wg sync.WaitGroup
	wg.Add(numWriters)
	for i := 0; i < numWriters; i++ {
		go func(writerID int) {
			defer wg.Done()
			for j := 0; j < writesPerWriter; j++ {
				_ = w.WritePoll(context.Background(), &PollRecord{Poll: writerID*writesPerWriter + j})
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, numWriters*writesPerWriter)
	for i, line := range lines {
		var record Record
		assert.NoError(t, json.Unmarshal([]byte(line), &record), "line %d should be valid JSON: %s", i, line)
	}
}

func TestJSONLWriter_ContextCancellation(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "sess", "s")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteSubmit(ctx, &SubmitRecord{Job: "a"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, buf.String())
}

type failingWriter struct {
	err error
}

func (f *failingWriter) Write(p []byte) (n int, err error) {
	return 0, f.err
}

func TestJSONLWriter_WriteFailure(t *testing.T) {
	w := NewJSONLWriter(&failingWriter{err: errors.New("disk full")}, "sess", "s")

	err := w.WriteSubmit(context.Background(), &SubmitRecord{Job: "a"})
	require.Error(t, err)

	var writeErr *WriteError
	require.True(t, errors.As(err, &writeErr))
	assert.Equal(t, "write", writeErr.Op)
}

// shortWriteWriter writes at most bytesPerWrite bytes per call with a nil error.
type shortWriteWriter struct {
	buf           bytes.Buffer
	bytesPerWrite int
}

func (sw *shortWriteWriter) Write(p []byte) (n int, err error) {
	toWrite := len(p)
	if toWrite > sw.bytesPerWrite {
		toWrite = sw.bytesPerWrite
	}
	return sw.buf.Write(p[:toWrite])
}

type zeroWriteWriter struct{}

func (zw *zeroWriteWriter) Write(p []byte) (n int, err error) {
	return 0, nil
}

func TestJSONLWriter_ShortWrite(t *testing.T) {
	sw := &shortWriteWriter{bytesPerWrite: 10}
	w := NewJSONLWriter(sw, "sess", "s")

	require.NoError(t, w.WriteSubmit(context.Background(), &SubmitRecord{Job: "FAM_1.1", JobID: "gsiftp://h/1"}))

	lines := strings.Split(strings.TrimSpace(sw.buf.String()), "\n")
	require.Len(t, lines, 1)
	record := decodeLine(t, []byte(lines[0]), nil)
	assert.Equal(t, TypeSubmit, record.Type)
}

func TestJSONLWriter_ZeroWrite(t *testing.T) {
	w := NewJSONLWriter(&zeroWriteWriter{}, "sess", "s")

	err := w.WritePoll(context.Background(), &PollRecord{Poll: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

func TestWriteError(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &WriteError{Op: "marshal", Err: underlying}

	assert.Equal(t, "output: marshal: underlying error", err.Error())
	assert.ErrorIs(t, err, underlying)
}

func TestErrorRecord_OmitEmpty(t *testing.T) {
	b, err := json.Marshal(&ErrorRecord{Code: ErrCodeInternal, Message: "boom"})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "job")
	assert.NotContains(t, string(b), "details")
}

func TestDiscard(t *testing.T) {
	var w Writer = Discard{}
	assert.NoError(t, w.WriteSubmit(context.Background(), &SubmitRecord{}))
	assert.NoError(t, w.Close())
}
