// Package env turns operator-facing environment variables into a Config.
// Only the program entry point reads the process environment; everything
// below it receives an explicit Config.
package env

import (
	"strings"
	"time"

	envirotron "github.com/jhunt/go-envirotron"
)

const (
	// JobsVar overrides the parallel job count handed to build tools.
	JobsVar = "VENDOR_BUILD_JOBS"
	// LockTimeoutVar overrides how long to wait for a build lock, in milliseconds.
	LockTimeoutVar = "VENDOR_LOCK_TIMEOUT_MS"
	// RetriesVar overrides the number of attempts for a failing build command.
	RetriesVar = "VENDOR_BUILD_RETRIES"

	// S3 settings of the upload target. Credentials left empty fall back
	// to the AWS default chain.
	S3EndpointVar  = "VENDOR_S3_ENDPOINT"
	S3RegionVar    = "VENDOR_S3_REGION"
	S3AccessKeyVar = "VENDOR_S3_ACCESS_KEY_ID"
	S3SecretKeyVar = "VENDOR_S3_SECRET_ACCESS_KEY"
)

const (
	DefaultStaleThreshold = 15 * time.Minute
	DefaultLockTimeout    = DefaultStaleThreshold + 5*time.Minute
	DefaultMaxRetries     = 3
)

// Config holds the tunables of a build run.
type Config struct {
	// Jobs is the parallel job count; 0 means derive it from the host.
	Jobs           int
	LockTimeout    time.Duration
	StaleThreshold time.Duration
	MaxRetries     int
	S3             S3
}

// S3 locates and authenticates against an S3-compatible object store.
type S3 struct {
	Endpoint        string `env:"VENDOR_S3_ENDPOINT"`
	Region          string `env:"VENDOR_S3_REGION"`
	AccessKeyID     string `env:"VENDOR_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"VENDOR_S3_SECRET_ACCESS_KEY"`
}

// vars mirrors the variables as they are spelled in the environment.
type vars struct {
	Jobs          int `env:"VENDOR_BUILD_JOBS"`
	LockTimeoutMS int `env:"VENDOR_LOCK_TIMEOUT_MS"`
	Retries       int `env:"VENDOR_BUILD_RETRIES"`
	S3            S3
}

// Default returns the configuration used when no override is present.
func Default() Config {
	return Config{
		LockTimeout:    DefaultLockTimeout,
		StaleThreshold: DefaultStaleThreshold,
		MaxRetries:     DefaultMaxRetries,
	}
}

// Load builds a Config from the process environment.
// Values that are missing, unparsable or not positive keep their defaults.
func Load() Config {
	var v vars
	envirotron.Override(&v)
	return v.config()
}

func (v vars) config() Config {
	cfg := Default()
	if v.Jobs > 0 {
		cfg.Jobs = v.Jobs
	}
	if v.LockTimeoutMS > 0 {
		cfg.LockTimeout = time.Duration(v.LockTimeoutMS) * time.Millisecond
	}
	if v.Retries > 0 {
		cfg.MaxRetries = v.Retries
	}
	cfg.S3 = S3{
		Endpoint:        strings.TrimSpace(v.S3.Endpoint),
		Region:          strings.TrimSpace(v.S3.Region),
		AccessKeyID:     strings.TrimSpace(v.S3.AccessKeyID),
		SecretAccessKey: strings.TrimSpace(v.S3.SecretAccessKey),
	}
	return cfg
}
