package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/3leaps/gcodeml/pkg/sessionstore"
)

// ObjectPutter is the subset of the S3 client the archiver uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver uploads session artifacts under one bucket and prefix.
type Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
	logger *zap.Logger
}

// Object describes one uploaded file.
type Object struct {
	Key   string `json:"key"`
	Local string `json:"local,omitempty"`
	Size  int64  `json:"size"`
}

// New builds an Archiver backed by a real S3 client.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &Error{Op: "New", Bucket: cfg.Bucket, Err: err}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg, logger)
}

// NewWithClient builds an Archiver on top of an existing client.
func NewWithClient(client ObjectPutter, cfg Config, logger *zap.Logger) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.normalizedPrefix(),
		logger: logger,
	}, nil
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// SessionPrefix returns the key prefix for one session:
// <prefix><name>/<session id>/.
func (a *Archiver) SessionPrefix(rec *sessionstore.Record) string {
	return a.prefix + rec.Name + "/" + rec.SessionID + "/"
}

// ArchiveSession uploads the session snapshot, its jobfile, the fetched
// codeml outputs of every job, and any extra files (such as the task
// database). Missing output files are skipped; a missing jobfile or extra
// file is an error.
func (a *Archiver) ArchiveSession(ctx context.Context, rec *sessionstore.Record, extra ...string) ([]Object, error) {
	if rec == nil || rec.SessionID == "" {
		return nil, fmt.Errorf("archive: session record has no id")
	}
	base := a.SessionPrefix(rec)
	var uploaded []Object

	snapshot, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode session record: %w", err)
	}
	obj, err := a.put(ctx, base+sessionstore.FileName, bytes.NewReader(snapshot), int64(len(snapshot)), "application/json", rec.SessionID)
	if err != nil {
		return uploaded, err
	}
	uploaded = append(uploaded, obj)

	files := []struct{ local, key string }{
		{rec.JobFile, base + filepath.Base(rec.JobFile)},
	}
	for _, p := range extra {
		files = append(files, struct{ local, key string }{p, base + filepath.Base(p)})
	}
	for _, f := range files {
		obj, err := a.putFile(ctx, f.local, f.key, rec.SessionID)
		if err != nil {
			return uploaded, err
		}
		uploaded = append(uploaded, obj)
	}

	for _, j := range rec.Jobs {
		if j.Execution == nil || j.Execution.DownloadDir == "" {
			continue
		}
		for _, name := range j.OutputFiles {
			local := filepath.Join(j.Execution.DownloadDir, name)
			if _, err := os.Stat(local); err != nil {
				a.logger.Debug("Skipping missing output",
					zap.String("job", j.Name),
					zap.String("path", local))
				continue
			}
			obj, err := a.putFile(ctx, local, base+path.Join("outputs", j.Name, name), rec.SessionID)
			if err != nil {
				return uploaded, err
			}
			uploaded = append(uploaded, obj)
		}
	}

	a.logger.Info("Session archived",
		zap.String("session", rec.Name),
		zap.String("bucket", a.bucket),
		zap.String("prefix", base),
		zap.Int("objects", len(uploaded)))
	return uploaded, nil
}

func (a *Archiver) putFile(ctx context.Context, local, key, sessionID string) (Object, error) {
	f, err := os.Open(local)
	if err != nil {
		return Object{}, fmt.Errorf("open %s: %w", local, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return Object{}, fmt.Errorf("stat %s: %w", local, err)
	}
	obj, err := a.put(ctx, key, f, info.Size(), "", sessionID)
	obj.Local = local
	return obj, err
}

func (a *Archiver) put(ctx context.Context, key string, body io.Reader, size int64, contentType, sessionID string) (Object, error) {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		Metadata:      map[string]string{"gcodeml-session-id": sessionID},
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := a.client.PutObject(ctx, in); err != nil {
		return Object{Key: key}, &Error{Op: "PutObject", Bucket: a.bucket, Key: key, Err: classify(err)}
	}
	a.logger.Debug("Uploaded object", zap.String("key", key), zap.Int64("size", size))
	return Object{Key: key, Size: size}, nil
}
