// Package archive stores the final document of every finished ingestion
// job in an S3-compatible bucket.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/feedgate/internal/logging"
	"github.com/dmitrijs2005/feedgate/internal/server/models"
	"github.com/google/uuid"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) objectPutter {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// Archiver persists terminal job documents.
type Archiver interface {
	ArchiveJob(ctx context.Context, feedID uuid.UUID, job *models.Job) error
}

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options configures the S3 client.
type Options struct {
	Bucket       string
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
}

type S3Archiver struct {
	client objectPutter
	bucket string
	log    logging.Logger
}

// NewS3Archiver builds an archiver for opts.Bucket. A custom BaseEndpoint
// switches the client to path-style addressing, which MinIO expects.
func NewS3Archiver(ctx context.Context, opts Options, log logging.Logger) (*S3Archiver, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := loadDefaultAWSConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if opts.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(opts.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Archiver{client: client, bucket: opts.Bucket, log: log.With("module", "archive")}, nil
}

// ObjectKey is the location of a job document inside the bucket.
func ObjectKey(feedID, jobID uuid.UUID) string {
	return fmt.Sprintf("jobs/%s/%s.json", feedID, jobID)
}

func (a *S3Archiver) ArchiveJob(ctx context.Context, feedID uuid.UUID, job *models.Job) error {
	body, err := json.Marshal(job.Document)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}

	key := ObjectKey(feedID, job.ID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}

	a.log.Debug(ctx, "job archived", "feed_id", feedID, "job_id", job.ID, "state", job.State)
	return nil
}

type nop struct{}

// Nop returns an Archiver that discards everything. It is used when no
// bucket is configured.
func Nop() Archiver { return nop{} }

func (nop) ArchiveJob(context.Context, uuid.UUID, *models.Job) error { return nil }
