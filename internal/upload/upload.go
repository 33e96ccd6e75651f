// Package upload copies packed build output to an S3-compatible bucket.
package upload

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/qiniu/x/log"

	"github.com/goplus/vbuild/internal/env"
)

// API is the part of the S3 client used here.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Target is a bucket and key prefix, written s3://bucket/prefix.
type Target struct {
	Bucket string
	Prefix string
}

// ParseTarget parses an s3://bucket[/prefix] URL.
func ParseTarget(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("upload target %q: %w", raw, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return Target{}, fmt.Errorf("upload target %q: want s3://bucket/prefix", raw)
	}
	return Target{Bucket: u.Host, Prefix: strings.Trim(u.Path, "/")}, nil
}

func (t Target) String() string {
	if t.Prefix == "" {
		return "s3://" + t.Bucket
	}
	return "s3://" + t.Bucket + "/" + t.Prefix
}

// Key returns the object key of a file uploaded to t.
func (t Target) Key(file string) string {
	return path.Join(t.Prefix, filepath.Base(file))
}

// Uploader puts files into a bucket.
type Uploader struct {
	Client API
}

// New returns an Uploader talking to the store described by cfg. An empty
// endpoint selects AWS itself.
func New(ctx context.Context, cfg env.S3) (*Uploader, error) {
	var options []func(*config.LoadOptions) error
	if cfg.Region != "" {
		options = append(options, config.WithRegion(cfg.Region))
	} else if cfg.Endpoint != "" {
		options = append(options, config.WithRegion("auto"))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Uploader{Client: client}, nil
}

// Upload stores file under t and returns its key.
func (u *Uploader) Upload(ctx context.Context, t Target, file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return "", err
	}

	key := t.Key(file)
	_, err = u.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(t.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String(contentType(file)),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s to %s: %w", file, t, err)
	}
	log.Infof("uploaded %s to s3://%s/%s", filepath.Base(file), t.Bucket, key)
	return key, nil
}

func contentType(file string) string {
	switch {
	case strings.HasSuffix(file, ".zst"):
		return "application/zstd"
	case strings.HasSuffix(file, ".gz"), strings.HasSuffix(file, ".tgz"):
		return "application/gzip"
	case strings.HasSuffix(file, ".xz"):
		return "application/x-xz"
	case strings.HasSuffix(file, ".zip"):
		return "application/zip"
	case strings.HasSuffix(file, ".tar"):
		return "application/x-tar"
	}
	return "application/octet-stream"
}
