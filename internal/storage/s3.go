package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultMaxObjectSize caps how much of a knowledge source is read into memory.
const DefaultMaxObjectSize = 64 << 20

var (
	ErrInvalidURI     = errors.New("invalid s3 uri")
	ErrObjectTooLarge = errors.New("object exceeds maximum size")
)

// S3ClientConfig holds configuration for S3Client
type S3ClientConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	MaxObjectSize   int64
}

// ObjectAPI is the subset of the S3 API used to read knowledge sources.
type ObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Client fetches knowledge source files from S3-compatible storage
type S3Client struct {
	api     ObjectAPI
	maxSize int64
}

// NewS3Client creates a new S3Client with the given configuration
func NewS3Client(ctx context.Context, cfg S3ClientConfig) (*S3Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewS3ClientWithAPI(client, cfg.MaxObjectSize), nil
}

// NewS3ClientWithAPI wraps an existing S3 API implementation.
func NewS3ClientWithAPI(api ObjectAPI, maxSize int64) *S3Client {
	if maxSize <= 0 {
		maxSize = DefaultMaxObjectSize
	}
	return &S3Client{api: api, maxSize: maxSize}
}

// IsS3URI reports whether source names an s3:// object.
func IsS3URI(source string) bool {
	return strings.HasPrefix(source, "s3://")
}

// ParseS3URI splits s3://bucket/key into its parts.
func ParseS3URI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("%w: %q has no object key", ErrInvalidURI, uri)
	}
	return u.Host, key, nil
}

// Fetch downloads the object named by an s3:// uri and returns its base name
// and contents.
func (c *S3Client) Fetch(ctx context.Context, uri string) (string, []byte, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return "", nil, err
	}

	head, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to head object: %w", err)
	}
	if aws.ToInt64(head.ContentLength) > c.maxSize {
		return "", nil, fmt.Errorf("%w: %s is %d bytes", ErrObjectTooLarge, uri, aws.ToInt64(head.ContentLength))
	}

	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, c.maxSize+1))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read object: %w", err)
	}
	if int64(len(data)) > c.maxSize {
		return "", nil, fmt.Errorf("%w: %s", ErrObjectTooLarge, uri)
	}

	return path.Base(key), data, nil
}
