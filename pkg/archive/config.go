// Package archive copies finished session artifacts to S3 or an
// S3-compatible object store.
package archive

import "strings"

// Config configures the archive destination.
//
// Authentication follows the AWS SDK v2 default chain unless explicit keys
// are given: environment, shared credentials and config files (with
// Profile), then instance or task roles.
//
// For S3-compatible stores (MinIO, Wasabi) set Endpoint and usually
// ForcePathStyle.
type Config struct {
	// Bucket is the destination bucket (required).
	Bucket string

	// Region defaults to us-east-1 for AWS when neither config, environment
	// nor profile provide one. No default is applied when Endpoint is set.
	Region string

	Endpoint string
	Profile  string

	// AccessKeyID and SecretAccessKey must be given together.
	AccessKeyID     string
	SecretAccessKey string

	ForcePathStyle bool

	// Prefix is prepended to every object key. A trailing slash is added
	// when missing.
	Prefix string
}

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

func (c *Config) normalizedPrefix() string {
	p := strings.TrimLeft(strings.TrimSpace(c.Prefix), "/")
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "archive config: " + e.Field + ": " + e.Message
}

// resolveRegion applies the AWS fallback region after SDK loading.
//
// sdkRegion already reflects an explicit region, the environment or the
// profile. Only plain AWS (no endpoint) gets a default.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return ""
}
