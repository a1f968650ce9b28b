package archive

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Sentinel errors for archive operations.
var (
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrThrottled          = errors.New("request throttled")
	ErrUnavailable        = errors.New("object store unavailable")
)

// Error wraps an object store failure with the bucket and key involved.
type Error struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("archive %s: %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("archive %s: %s: %v", e.Op, e.Bucket, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classify maps an S3 error onto one of the sentinels. Unknown errors are
// returned unchanged.
func classify(err error) error {
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return ErrBucketNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			return ErrBucketNotFound
		case "AccessDenied", "Forbidden":
			return ErrAccessDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return ErrInvalidCredentials
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			return ErrThrottled
		case "ServiceUnavailable", "InternalError":
			return ErrUnavailable
		}
		return err
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "NoSuchBucket"):
		return ErrBucketNotFound
	case strings.Contains(msg, "AccessDenied") || strings.Contains(msg, "403"):
		return ErrAccessDenied
	case strings.Contains(msg, "SlowDown") || strings.Contains(msg, "429"):
		return ErrThrottled
	case strings.Contains(msg, "ServiceUnavailable") || strings.Contains(msg, "503"):
		return ErrUnavailable
	}
	return err
}

// Retryable reports whether a later attempt may succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrUnavailable)
}
