package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gcodeml/pkg/sessionstore"
)

// mockAPIError implements smithy.APIError for testing error code mapping.
type mockAPIError struct {
	code string
}

func (e *mockAPIError) Error() string                 { return e.code + ": api error" }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return "api error" }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

var _ smithy.APIError = (*mockAPIError)(nil)

type fakeClient struct {
	mu     sync.Mutex
	bodies map[string]string
	meta   map[string]map[string]string
	types  map[string]string
	failOn string
	err    error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		bodies: map[string]string{},
		meta:   map[string]map[string]string{},
		types:  map[string]string{},
	}
}

func (c *fakeClient) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(in.Key)
	if c.err != nil && (c.failOn == "" || c.failOn == key) {
		return nil, c.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != aws.ToInt64(in.ContentLength) {
		return nil, fmt.Errorf("content length mismatch for %s", key)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies[key] = string(data)
	c.meta[key] = in.Metadata
	c.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func sessionFixture(t *testing.T) *sessionstore.Record {
	t.Helper()
	dir := t.TempDir()
	jobFile := filepath.Join(dir, "test-session.jobs")
	writeFile(t, jobFile, "# jobname=FAM_1.1\ngsiftp://ce.example.org/1\n")
	writeFile(t, filepath.Join(dir, "FAM_1.1", "FAM_1.1.H0.mlc"), "h0")
	return &sessionstore.Record{
		SessionID: "sid-1",
		Name:      "test-session",
		WorkDir:   dir,
		JobFile:   jobFile,
		Jobs: []sessionstore.JobRecord{
			{
				Name:        "FAM_1.1",
				OutputFiles: []string{"FAM_1.1.H0.mlc", "FAM_1.1.H1.mlc"},
				Execution:   &sessionstore.ExecutionRecord{DownloadDir: filepath.Join(dir, "FAM_1.1")},
			},
			{Name: "FAM_1.2", OutputFiles: []string{"FAM_1.2.H0.mlc"}},
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{"empty bucket", Config{}, "bucket name is required"},
		{"minimal", Config{Bucket: "b"}, ""},
		{"explicit creds", Config{Bucket: "b", AccessKeyID: "AKIAEXAMPLE", SecretAccessKey: "secret"}, ""},
		{"key without secret", Config{Bucket: "b", AccessKeyID: "AKIAEXAMPLE"}, "provided together"},
		{"secret without key", Config{Bucket: "b", SecretAccessKey: "secret"}, "provided together"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNormalizedPrefix(t *testing.T) {
	for in, want := range map[string]string{
		"":          "",
		"gcodeml":   "gcodeml/",
		"gcodeml/":  "gcodeml/",
		"/a/b":      "a/b/",
		"  runs/  ": "runs/",
	} {
		c := Config{Prefix: in}
		assert.Equal(t, want, c.normalizedPrefix(), "prefix %q", in)
	}
}

func TestResolveRegion(t *testing.T) {
	assert.Equal(t, "eu-west-1", resolveRegion("", "eu-west-1"))
	assert.Equal(t, DefaultAWSRegion, resolveRegion("", ""))
	assert.Equal(t, "", resolveRegion("http://localhost:9000", ""))
}

func TestArchiveSession(t *testing.T) {
	ctx := context.Background()

	t.Run("uploads snapshot jobfile outputs and extras", func(t *testing.T) {
		rec := sessionFixture(t)
		extra := filepath.Join(t.TempDir(), "task.db")
		writeFile(t, extra, "sqlite")

		client := newFakeClient()
		a, err := NewWithClient(client, Config{Bucket: "b", Prefix: "gcodeml"}, nil)
		require.NoError(t, err)

		objs, err := a.ArchiveSession(ctx, rec, extra)
		require.NoError(t, err)

		base := "gcodeml/test-session/sid-1/"
		assert.Equal(t, base, a.SessionPrefix(rec))
		keys := make([]string, 0, len(objs))
		for _, o := range objs {
			keys = append(keys, o.Key)
		}
		assert.Equal(t, []string{
			base + "session.json",
			base + "test-session.jobs",
			base + "task.db",
			base + "outputs/FAM_1.1/FAM_1.1.H0.mlc",
		}, keys)

		assert.Contains(t, client.bodies[base+"session.json"], `"session_id": "sid-1"`)
		assert.Equal(t, "application/json", client.types[base+"session.json"])
		assert.Equal(t, "h0", client.bodies[base+"outputs/FAM_1.1/FAM_1.1.H0.mlc"])
		assert.Equal(t, "sid-1", client.meta[base+"task.db"]["gcodeml-session-id"])
		assert.Equal(t, int64(2), objs[3].Size)
	})

	t.Run("missing jobfile fails", func(t *testing.T) {
		rec := sessionFixture(t)
		rec.JobFile = filepath.Join(t.TempDir(), "absent.jobs")
		a, err := NewWithClient(newFakeClient(), Config{Bucket: "b"}, nil)
		require.NoError(t, err)

		objs, err := a.ArchiveSession(ctx, rec)
		require.Error(t, err)
		assert.Len(t, objs, 1, "snapshot was uploaded before the failure")
	})

	t.Run("classifies store errors", func(t *testing.T) {
		rec := sessionFixture(t)
		client := newFakeClient()
		client.err = &mockAPIError{code: "AccessDenied"}
		a, err := NewWithClient(client, Config{Bucket: "b"}, nil)
		require.NoError(t, err)

		_, err = a.ArchiveSession(ctx, rec)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAccessDenied))
		var aerr *Error
		require.ErrorAs(t, err, &aerr)
		assert.Equal(t, "test-session/sid-1/session.json", aerr.Key)
		assert.False(t, Retryable(err))
	})

	t.Run("rejects record without id", func(t *testing.T) {
		a, err := NewWithClient(newFakeClient(), Config{Bucket: "b"}, nil)
		require.NoError(t, err)
		_, err = a.ArchiveSession(ctx, &sessionstore.Record{Name: "x"})
		require.Error(t, err)
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := NewWithClient(newFakeClient(), Config{}, nil)
		var cerr *ConfigError
		assert.ErrorAs(t, err, &cerr)
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no such bucket type", &types.NoSuchBucket{}, ErrBucketNotFound},
		{"api no such bucket", &mockAPIError{code: "NoSuchBucket"}, ErrBucketNotFound},
		{"api forbidden", &mockAPIError{code: "Forbidden"}, ErrAccessDenied},
		{"api bad key", &mockAPIError{code: "InvalidAccessKeyId"}, ErrInvalidCredentials},
		{"api slow down", &mockAPIError{code: "SlowDown"}, ErrThrottled},
		{"api unavailable", &mockAPIError{code: "ServiceUnavailable"}, ErrUnavailable},
		{"message 503", errors.New("http 503"), ErrUnavailable},
		{"message 429", errors.New("status 429"), ErrThrottled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.err), tt.want)
		})
	}

	t.Run("unknown passes through", func(t *testing.T) {
		orig := errors.New("boom")
		assert.Same(t, orig, classify(orig))
		api := &mockAPIError{code: "Weird"}
		assert.Equal(t, error(api), classify(api))
	})

	assert.True(t, Retryable(&Error{Err: ErrThrottled}))
	assert.True(t, Retryable(&Error{Err: ErrUnavailable}))
}
