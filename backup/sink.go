package backup

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/trickstertwo/xledger"
)

// FileSink writes snapshots to a local path.
type FileSink struct {
	Path string
}

var _ xledger.SnapshotSink = (*FileSink)(nil)

func (f *FileSink) Write(_ context.Context, data []byte) error {
	if err := os.WriteFile(f.Path, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot %s: %w", f.Path, err)
	}
	return nil
}

// S3Sink writes snapshots to an S3-compatible bucket.
type S3Sink struct {
	client *s3.Client
	bucket string
	key    string
}

var _ xledger.SnapshotSink = (*S3Sink)(nil)

// NewS3Sink creates an S3 sink. If endpoint is non-empty, path-style
// addressing is enabled (for MinIO and similar).
func NewS3Sink(ctx context.Context, bucket, key, region, endpoint string) (*S3Sink, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Sink{
		client: s3.NewFromConfig(cfg, s3opts...),
		bucket: bucket,
		key:    key,
	}, nil
}

// Write uploads the snapshot to S3 as the configured object key.
func (s *S3Sink) Write(ctx context.Context, data []byte) error {
	contentType := "application/x-ndjson"
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}
