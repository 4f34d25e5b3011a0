package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/tejasbhor/Civiclens/internal/config"
)

// Provider identifies the flavour of S3 API behind the endpoint.
type Provider string

const (
	ProviderR2           Provider = "r2"
	ProviderS3           Provider = "s3"
	ProviderS3Compatible Provider = "s3compatible"
)

// S3Storage stores run archives in an S3-compatible bucket.
type S3Storage struct {
	client   *s3.Client
	bucket   string
	provider Provider
	baseURL  string // prefix for object URLs, without trailing slash
}

// NewS3Storage creates an S3Storage. An empty endpoint uses the AWS default
// endpoint for the region; any other endpoint is addressed path-style.
func NewS3Storage(cfg *config.StorageConfig) (*S3Storage, error) {
	provider := Provider(strings.ToLower(cfg.Type))
	if provider == "" {
		provider = detectProvider(cfg.Endpoint)
	}
	host := normalizeEndpoint(cfg.Endpoint)

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(regionFor(provider, cfg.Region)),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpointURL := ""
	if host != "" {
		endpointURL = schemeFor(cfg.UseSSL) + "://" + host
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpointURL != "" {
			o.BaseEndpoint = aws.String(endpointURL)
			o.UsePathStyle = true
		}
	})

	var baseURL string
	switch {
	case cfg.PublicURL != "":
		baseURL = strings.TrimSuffix(cfg.PublicURL, "/")
	case endpointURL != "":
		baseURL = endpointURL + "/" + cfg.Bucket
	default:
		baseURL = "s3://" + cfg.Bucket
	}

	return &S3Storage{
		client:   client,
		bucket:   cfg.Bucket,
		provider: provider,
		baseURL:  baseURL,
	}, nil
}

func detectProvider(endpoint string) Provider {
	endpoint = strings.ToLower(endpoint)
	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return ProviderR2
	case endpoint == "" || strings.Contains(endpoint, "amazonaws.com"):
		return ProviderS3
	default:
		return ProviderS3Compatible
	}
}

func regionFor(p Provider, region string) string {
	if region != "" {
		return region
	}
	if p == ProviderR2 {
		return "auto"
	}
	return "us-east-1"
}

func schemeFor(useSSL bool) string {
	if useSSL {
		return "https"
	}
	return "http"
}

// normalizeEndpoint strips the scheme and any path, leaving host[:port].
func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	if idx := strings.IndexByte(endpoint, '/'); idx != -1 {
		endpoint = endpoint[:idx]
	}
	return endpoint
}

// EnsureBucket creates the bucket when it is missing. R2 buckets cannot be
// created through the S3 API and must already exist.
func (s *S3Storage) EnsureBucket(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return nil
	}
	if s.provider == ProviderR2 {
		return fmt.Errorf("bucket %s does not exist, create it in the R2 dashboard", s.bucket)
	}

	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	var owned *types.BucketAlreadyOwnedByYou
	if err != nil && !errors.As(err, &owned) {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// PutObject implements ObjectStorage.
func (s *S3Storage) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// GetObject implements ObjectStorage.
func (s *S3Storage) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		var notFound *types.NotFound
		if errors.As(err, &noKey) || errors.As(err, &notFound) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	return out.Body, nil
}

// ObjectURL implements ObjectStorage.
func (s *S3Storage) ObjectURL(key string) string {
	return s.baseURL + "/" + key
}
