// Package s3 stores rendered artifacts and archived worker envelopes in S3 or
// an S3-compatible service such as MinIO.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
)

const (
	BucketArtifacts = "artifacts"
	BucketAudit     = "audit"

	defaultRegion = "us-east-1"
)

var ErrBucketNotFound = errors.New("bucket not found")

type Config struct {
	// Endpoint is set for S3-compatible stores; empty means AWS.
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

func (c Config) Validate() error {
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return errors.New("s3: both access key ID and secret access key must be provided together")
	}
	return nil
}

type Store struct {
	logger *slog.Logger
	client *s3.Client
}

var (
	_ ports.ObjectStore = (*Store)(nil)
	_ ports.AuditSink   = (*Store)(nil)
)

// New builds a client from the default AWS credential chain, overridden by
// explicit keys when both are set.
func New(ctx context.Context, logger *slog.Logger, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = defaultRegion
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Store{logger: logger, client: client}, nil
}

// EnsureBuckets creates the buckets that do not exist yet.
func (s *Store) EnsureBuckets(ctx context.Context, buckets ...string) error {
	for _, bucket := range buckets {
		_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
		if err == nil {
			continue
		}
		if !errors.Is(wrapError("HeadBucket", bucket, "", err), ErrBucketNotFound) {
			return wrapError("HeadBucket", bucket, "", err)
		}
		if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
			var owned *types.BucketAlreadyOwnedByYou
			if errors.As(err, &owned) {
				continue
			}
			return wrapError("CreateBucket", bucket, "", err)
		}
		s.logger.Info("created bucket", "bucket", bucket)
	}
	return nil
}

func (s *Store) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return wrapError("PutObject", bucket, key, err)
	}
	return nil
}

// GetObject streams an object. Missing keys are reported as
// domain.ErrArtifactNotFound.
func (s *Store) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, ports.ObjectInfo, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, ports.ObjectInfo{}, wrapError("GetObject", bucket, key, err)
	}
	return out.Body, ports.ObjectInfo{
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
	}, nil
}

// AuditKey is the object key of an archived envelope delivery.
func AuditKey(resp domain.WorkerResponse) string {
	return fmt.Sprintf("%s/%s/%s.json", resp.JobID, resp.TaskID, resp.ID)
}

// ArchiveEnvelope writes the raw delivery to the audit bucket.
func (s *Store) ArchiveEnvelope(ctx context.Context, resp domain.WorkerResponse, raw []byte) error {
	return s.PutObject(ctx, BucketAudit, AuditKey(resp), bytes.NewReader(raw), int64(len(raw)), "application/json")
}

// wrapError maps S3 failures onto the domain sentinels, keeping the
// operation and object in the message.
func wrapError(op, bucket, key string, err error) error {
	var (
		notFound     *types.NotFound
		noSuchKey    *types.NoSuchKey
		noSuchBucket *types.NoSuchBucket
	)
	target := err
	switch {
	case errors.As(err, &noSuchBucket):
		target = ErrBucketNotFound
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		if key == "" {
			target = ErrBucketNotFound
		} else {
			target = domain.ErrArtifactNotFound
		}
	default:
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "NoSuchBucket":
				target = ErrBucketNotFound
			case "NoSuchKey", "NotFound":
				if key == "" {
					target = ErrBucketNotFound
				} else {
					target = domain.ErrArtifactNotFound
				}
			}
		}
	}

	object := bucket
	if key != "" {
		object = strings.Join([]string{bucket, key}, "/")
	}
	if target != err {
		return fmt.Errorf("s3 %s %s: %w (%v)", op, object, target, err)
	}
	return fmt.Errorf("s3 %s %s: %w", op, object, err)
}
