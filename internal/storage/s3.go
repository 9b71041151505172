// Package storage uploads clip artifacts to S3-compatible object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

const defaultRegion = "us-east-1"

var (
	ErrBucketMissing = errors.New("S3_BUCKET_NAME must be set")
	ErrNotFound      = errors.New("source file does not exist")
	ErrCredentials   = errors.New("storage credentials rejected")
	ErrTransport     = errors.New("storage transport failure")
)

// Config holds storage settings. Empty keys fall back to the default AWS
// credential chain.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional custom endpoint (R2, MinIO, LocalStack)
	AccessKeyID     string
	SecretAccessKey string
}

type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 is the clip uploader.
type S3 struct {
	client   putter
	bucket   string
	endpoint string
	logger   *zap.Logger
}

// NewS3 builds an uploader. It fails fast without a bucket.
func NewS3(ctx context.Context, cfg Config, logger *zap.Logger) (*S3, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, ErrBucketMissing
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3(client, cfg.Bucket, cfg.Endpoint, logger), nil
}

func newS3(client putter, bucket, endpoint string, logger *zap.Logger) *S3 {
	return &S3{
		client:   client,
		bucket:   bucket,
		endpoint: strings.TrimRight(endpoint, "/"),
		logger:   logger.Named("storage"),
	}
}

// Bucket returns the target bucket.
func (s *S3) Bucket() string { return s.bucket }

// Upload puts localPath under key, overwriting any existing object, and
// returns the object's URL.
func (s *S3) Upload(ctx context.Context, localPath, key string) (string, error) {
	if key == "" {
		key = filepath.Base(localPath)
	}
	f, err := os.Open(localPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, localPath)
		}
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", localPath, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrNotFound, localPath)
	}

	contentType := contentTypeFor(localPath)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		err = classify(err)
		s.logger.Error("upload failed", zap.String("bucket", s.bucket), zap.String("key", key), zap.Error(err))
		return "", err
	}

	u := s.URL(key)
	s.logger.Info("uploaded clip", zap.String("key", key), zap.Int64("bytes", info.Size()), zap.String("url", u))
	return u, nil
}

// URL is {endpoint}/{bucket}/{key} for a custom endpoint and the virtual-host
// AWS URL otherwise.
func (s *S3) URL(key string) string {
	escaped := escapeKey(key)
	if s.endpoint != "" {
		return s.endpoint + "/" + s.bucket + "/" + escaped
	}
	return "https://" + s.bucket + ".s3.amazonaws.com/" + escaped
}

var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".flv":  "video/x-flv",
	".ts":   "video/mp2t",
	".webm": "video/webm",
}

func contentTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := videoTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

var credentialCodes = map[string]struct{}{
	"InvalidAccessKeyId":          {},
	"SignatureDoesNotMatch":       {},
	"AccessDenied":                {},
	"ExpiredToken":                {},
	"InvalidToken":                {},
	"UnrecognizedClientException": {},
}

func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := credentialCodes[apiErr.ErrorCode()]; ok {
			return fmt.Errorf("%w: %s: %s", ErrCredentials, apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
		return fmt.Errorf("%w: %s: %s", ErrTransport, apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	if strings.Contains(err.Error(), "retrieve credentials") {
		return fmt.Errorf("%w: %v", ErrCredentials, err)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}
