package report

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/logging"
)

// Sink stores a named report artifact and returns where it went.
type Sink interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// FileSink writes artifacts into a local directory, creating it on demand.
type FileSink struct {
	Dir string
}

// Put implements Sink.
func (s FileSink) Put(_ context.Context, name, _ string, data []byte) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	p := filepath.Join(s.Dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", p, err)
	}
	return p, nil
}

// PutObjectAPI is the part of the S3 client the sink needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads artifacts to a bucket under a key prefix.
type S3Sink struct {
	Client PutObjectAPI
	Bucket string
	Prefix string
	Logger *zap.Logger
}

// Put implements Sink.
func (s *S3Sink) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	key := path.Join(s.Prefix, name)
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s/%s: %w", s.Bucket, key, err)
	}
	logging.OrNop(s.Logger).Debug("report uploaded",
		zap.String("bucket", s.Bucket),
		zap.String("key", key),
		zap.Int("bytes", len(data)))
	return "s3://" + s.Bucket + "/" + key, nil
}

// S3Options configures the client behind an s3:// report directory.
type S3Options struct {
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// Endpoint targets an S3-compatible service instead of AWS
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
}

// ParseS3URL splits s3://bucket/prefix into its parts.
func ParseS3URL(u string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(u, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 url: %q", u)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("s3 url %q has no bucket", u)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// NewSink picks an S3Sink for s3:// directories and a FileSink otherwise.
func NewSink(ctx context.Context, dir string, opts S3Options, logger *zap.Logger) (Sink, error) {
	if !strings.HasPrefix(dir, "s3://") {
		if dir == "" {
			dir = "reports"
		}
		return FileSink{Dir: dir}, nil
	}

	bucket, prefix, err := ParseS3URL(dir)
	if err != nil {
		return nil, err
	}

	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Sink{Client: client, Bucket: bucket, Prefix: prefix, Logger: logger}, nil
}
