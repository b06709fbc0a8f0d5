// Package archive uploads finalized campaign directories to S3-compatible
// object storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

var (
	ErrInvalidConfig = errors.New("archive: invalid configuration")
	ErrAccessDenied  = errors.New("archive: access denied")
	ErrUploadFailed  = errors.New("archive: upload failed")
)

// Config holds the configuration for creating an Archiver.
type Config struct {
	Bucket          string
	Region          string
	Prefix          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	// PathStyle is forced on when Endpoint is set.
	PathStyle bool
}

// PutObjectAPI is the subset of the S3 client the archiver uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver copies campaign evidence to a bucket.
type Archiver struct {
	bucket string
	prefix string
	client PutObjectAPI
	logger *slog.Logger
}

// New creates an Archiver using static credentials when given, otherwise
// the default AWS credential chain.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: bucket is required", ErrInvalidConfig)
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else if cfg.PathStyle {
		opts = append(opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	return NewWithClient(cfg.Bucket, cfg.Prefix, s3.NewFromConfig(awsCfg, opts...), logger), nil
}

// NewWithClient creates an Archiver with a custom client, used for testing.
func NewWithClient(bucket, prefix string, client PutObjectAPI, logger *slog.Logger) *Archiver {
	return &Archiver{
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		client: client,
		logger: logger.With("component", "archive", "bucket", bucket),
	}
}

// UploadDir uploads every regular file under dir to
// <prefix>/<base of dir>/<relative path> and returns the keys written.
// It stops at the first failed upload.
func (a *Archiver) UploadDir(ctx context.Context, dir string) ([]string, error) {
	base := filepath.Base(filepath.Clean(dir))
	var keys []string

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := a.key(base, filepath.ToSlash(rel))
		if err := a.put(ctx, p, key); err != nil {
			return err
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return keys, err
	}

	a.logger.Info("campaign archived", "dir", dir, "objects", len(keys))
	return keys, nil
}

func (a *Archiver) key(parts ...string) string {
	if a.prefix != "" {
		parts = append([]string{a.prefix}, parts...)
	}
	return path.Join(parts...)
}

func (a *Archiver) put(ctx context.Context, p, key string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType(p)),
		ACL:           types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return wrapS3Error(err, ErrUploadFailed)
	}
	return nil
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".eml":
		return "message/rfc822"
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain; charset=utf-8"
	}
	if ct := mime.TypeByExtension(filepath.Ext(p)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// wrapS3Error wraps S3 errors with the matching sentinel error.
func wrapS3Error(err error, fallback error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%w: %v", ErrAccessDenied, err)
		}
	}
	return fmt.Errorf("%w: %v", fallback, err)
}
