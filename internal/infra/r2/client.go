// Package r2 mirrors archived videos to Cloudflare R2 or any other
// S3-compatible bucket.
package r2

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config holds configuration for the mirror client. Endpoint wins over
// AccountID; with neither set the default AWS endpoint for Region is used.
type Config struct {
	AccountID       string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Prefix          string
}

// Enabled reports whether enough settings are present to build a client.
func (c Config) Enabled() bool {
	return c.BucketName != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// objectAPI is the subset of the S3 client used here.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Client uploads archive directories to a bucket.
type Client struct {
	api        objectAPI
	bucketName string
	prefix     string
	logger     *slog.Logger
	now        func() time.Time
}

// NewClient creates a new mirror client.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("incomplete mirror configuration")
	}
	if logger == nil {
		logger = slog.Default()
	}

	endpoint := cfg.Endpoint
	if endpoint == "" && cfg.AccountID != "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	})

	logger.Info("mirror client initialized",
		"bucket", cfg.BucketName,
		"endpoint", endpoint,
		"prefix", cfg.Prefix,
	)

	return newClient(s3Client, cfg.BucketName, cfg.Prefix, logger), nil
}

func newClient(api objectAPI, bucket, prefix string, logger *slog.Logger) *Client {
	return &Client{
		api:        api,
		bucketName: bucket,
		prefix:     strings.Trim(prefix, "/"),
		logger:     logger,
		now:        time.Now,
	}
}

// Key maps a local path under outputRoot to its object key.
func (c *Client) Key(outputRoot, file string) (string, error) {
	rel, err := filepath.Rel(outputRoot, file)
	if err != nil {
		return "", fmt.Errorf("failed to compute key for %s: %w", file, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside %s", file, outputRoot)
	}
	return path.Join(c.prefix, filepath.ToSlash(rel)), nil
}

// MirrorDir uploads every regular file below dir. Keys are relative to
// outputRoot so the bucket reproduces the local layout.
func (c *Client) MirrorDir(ctx context.Context, outputRoot, dir string) error {
	uploaded := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		key, err := c.Key(outputRoot, p)
		if err != nil {
			return err
		}
		if err := c.Upload(ctx, p, key); err != nil {
			return err
		}
		uploaded++
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mirror %s: %w", dir, err)
	}

	c.logger.Info("directory mirrored", "dir", dir, "files", uploaded)
	return nil
}

// Upload uploads a file.
func (c *Client) Upload(ctx context.Context, filePath, key string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	contentType := getContentType(filePath)

	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucketName),
		Key:           aws.String(key),
		Body:          file,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(fileInfo.Size()),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	c.logger.Debug("file uploaded",
		"key", key,
		"size", fileInfo.Size(),
		"content_type", contentType,
	)
	return nil
}

// Delete deletes an object.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}

	c.logger.Debug("object deleted", "key", key)
	return nil
}

// ListOlderThan returns keys under the prefix last modified before age ago.
func (c *Client) ListOlderThan(ctx context.Context, age time.Duration) ([]string, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(c.bucketName)}
	if c.prefix != "" {
		input.Prefix = aws.String(c.prefix + "/")
	}

	threshold := c.now().Add(-age)
	var oldKeys []string

	pages := s3.NewListObjectsV2Paginator(c.api, input)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil && obj.LastModified != nil && obj.LastModified.Before(threshold) {
				oldKeys = append(oldKeys, *obj.Key)
			}
		}
	}

	return oldKeys, nil
}

// DeleteOlderThan deletes objects older than age and returns the count.
func (c *Client) DeleteOlderThan(ctx context.Context, age time.Duration) (int, error) {
	keys, err := c.ListOlderThan(ctx, age)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, key := range keys {
		if err := c.Delete(ctx, key); err != nil {
			c.logger.Warn("failed to delete old object", "key", key, "error", err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		c.logger.Info("deleted old objects", "count", deleted, "age", age)
	}
	return deleted, nil
}

func getContentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".m4a":
		return "audio/mp4"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".json":
		return "application/json"
	case ".ass", ".srv3":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
