package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

const (
	errCodeAccessDenied = "AccessDenied"
	errCodeNoSuchBucket = "NoSuchBucket"
)

var (
	ErrBucketNotFound = errors.New("archive bucket not found")
	ErrAccessDenied   = errors.New("archive bucket access denied")
)

// Config selects the archive bucket
type Config struct {
	Bucket   string
	Region   string
	Endpoint string // set for MinIO and other S3-compatible stores
}

// PutObjectAPI is the part of the S3 client the archiver needs
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes ledger archives to an S3 bucket
type S3Archiver struct {
	client PutObjectAPI
	bucket string
}

// NewS3Archiver loads AWS config from the default credential chain
func NewS3Archiver(ctx context.Context, cfg Config) (*S3Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return NewS3ArchiverWithClient(s3.NewFromConfig(awsCfg, opts...), cfg.Bucket), nil
}

func NewS3ArchiverWithClient(client PutObjectAPI, bucket string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket}
}

// Put uploads data as an ndjson object
func (a *S3Archiver) Put(ctx context.Context, key string, data []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case errCodeNoSuchBucket:
				return fmt.Errorf("bucket %s: %w", a.bucket, ErrBucketNotFound)
			case errCodeAccessDenied:
				return fmt.Errorf("bucket %s: %w", a.bucket, ErrAccessDenied)
			}
		}
		return fmt.Errorf("s3 put object %s: %w", key, err)
	}
	return nil
}
