// Package storage fetches s3:// image sources with anonymous S3 access.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cutout-cli/cutout/pkg/errors"
	"github.com/dustin/go-humanize"
)

// Options configures the S3 client.
type Options struct {
	Region string
	// Endpoint overrides the S3 endpoint (path-style addressing is used).
	Endpoint string
	// MaxSize rejects objects larger than this many bytes; 0 disables the check.
	MaxSize int64
}

// Client provides S3 download operations
type Client struct {
	s3Client *s3.Client
	maxSize  int64
}

// NewClient creates a new S3 client for anonymous access
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	slog.Debug("s3_client_init", "region", opts.Region, "endpoint", opts.Endpoint)

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Client{s3Client: s3Client, maxSize: opts.MaxSize}, nil
}

// ParseURI splits s3://bucket/key.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("s3 uri must name an object: %q", uri)
	}
	return bucket, key, nil
}

// DownloadResult contains download metadata
type DownloadResult struct {
	LocalPath string
	SHA256    string
	Size      int64
}

// Fetch downloads the object named by uri to dest.
func (c *Client) Fetch(ctx context.Context, uri, dest string) error {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return errors.WrapKind(err, errors.KindValidation, "Invalid S3 source")
	}

	if c.maxSize > 0 {
		size, exists, err := c.Head(ctx, bucket, key)
		if err != nil {
			return errors.WrapKind(err, errors.KindFilesystem, "Cannot read S3 source")
		}
		if !exists {
			return errors.Newf(errors.KindValidation, "File does not exist: %s", uri)
		}
		if size > c.maxSize {
			return errors.Newf(errors.KindValidation, "File too large: %s (max %s before compression)",
				humanize.IBytes(uint64(size)), humanize.IBytes(uint64(c.maxSize)))
		}
	}

	if _, err := c.Download(ctx, bucket, key, dest); err != nil {
		return errors.WrapKind(err, errors.KindFilesystem, "Cannot download S3 source")
	}
	return nil
}

// Download downloads an object from S3 and computes SHA256
func (c *Client) Download(ctx context.Context, bucket, key, localPath string) (*DownloadResult, error) {
	slog.Info("s3_download_start", "bucket", bucket, "s3_key", key)

	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Error("s3_get_object_failed", "s3_key", key, "error", err)
		return nil, errors.Wrap(err, "failed to get object from S3")
	}
	defer result.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		slog.Error("local_file_creation_failed", "path", localPath, "error", err)
		return nil, errors.Wrap(err, "failed to create local file")
	}
	defer f.Close()

	hash := sha256.New()
	writer := io.MultiWriter(f, hash)

	size, err := io.Copy(writer, result.Body)
	if err != nil {
		slog.Error("s3_download_failed", "s3_key", key, "error", err)
		return nil, errors.Wrap(err, "failed to download file")
	}

	checksum := hex.EncodeToString(hash.Sum(nil))

	slog.Info("s3_download_complete",
		"s3_key", key,
		"size", humanize.IBytes(uint64(size)),
		"local_path", localPath,
		"sha256", checksum[:16]+"...",
	)

	return &DownloadResult{
		LocalPath: localPath,
		SHA256:    checksum,
		Size:      size,
	}, nil
}

// Head returns the object's size and whether it exists.
func (c *Client) Head(ctx context.Context, bucket, key string) (int64, bool, error) {
	out, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if stderrors.As(err, &nf) {
			slog.Info("s3_object_not_found", "s3_key", key)
			return 0, false, nil
		}
		slog.Error("s3_head_object_failed", "s3_key", key, "error", err)
		return 0, false, errors.Wrap(err, "failed to check object existence")
	}
	return aws.ToInt64(out.ContentLength), true, nil
}
