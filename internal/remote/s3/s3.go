// Package s3 stores archives in an S3-compatible bucket under a key prefix.
package s3

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/lucasew/dumpkeeper/internal/errutil"
	"github.com/lucasew/dumpkeeper/internal/remote"
)

func init() {
	remote.Register("s3", func(ctx context.Context, cfg remote.Config) (remote.Store, error) {
		return New(ctx, cfg)
	})
}

// API is the subset of the S3 client the store uses.
type API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store implements remote.Store on a bucket.
type Store struct {
	api    API
	bucket string
	prefix string
	logger *slog.Logger
}

// New builds an S3 client from cfg.S3 and wraps it in a Store.
func New(ctx context.Context, cfg remote.Config) (*Store, error) {
	if cfg.S3.Bucket == "" {
		return nil, errors.New("s3: bucket name is required")
	}

	opts := []func(*config.LoadOptions) error{}
	if cfg.S3.Region != "" {
		opts = append(opts, config.WithRegion(cfg.S3.Region))
	} else {
		opts = append(opts, config.WithRegion("us-east-1"))
	}
	if cfg.S3.AccessKeyID != "" && cfg.S3.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3.AccessKeyID, cfg.S3.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
		}
		o.UsePathStyle = cfg.S3.UsePathStyle
	})

	return NewWithAPI(client, cfg.S3.Bucket, cfg.Dir), nil
}

// NewWithAPI wraps an existing client. dir becomes the key prefix.
func NewWithAPI(api API, bucket, dir string) *Store {
	prefix := strings.Trim(dir, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Store{
		api:    api,
		bucket: bucket,
		prefix: prefix,
		logger: slog.Default().With("component", "remote.s3", "bucket", bucket),
	}
}

// List returns the first path segment of every key under the prefix, so
// archives uploaded as several objects still count once.
func (s *Store) List(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var names []string

	paginator := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3: failed to list %s: %w", s.prefix, err)
		}
		for _, obj := range page.Contents {
			rest := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			name, _, _ := strings.Cut(rest, "/")
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	return names, nil
}

// Remove deletes the object named name and every object stored under
// name/, mirroring what List collapses into one entry.
func (s *Store) Remove(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	key := s.prefix + name
	keys := []string{key}

	paginator := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(key + "/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("s3: failed to list %s/: %w", key, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	for _, k := range keys {
		_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(k),
		})
		if err != nil {
			return fmt.Errorf("s3: failed to delete %s: %w", k, err)
		}
	}
	s.logger.Info("Removed remote archive", "key", key, "objects", len(keys))
	return nil
}

func (s *Store) Upload(ctx context.Context, localPath, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer errutil.CloseLogged(f, "Failed to close archive", "path", localPath)

	info, err := f.Stat()
	if err != nil {
		return err
	}

	key := s.prefix + name
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("s3: failed to upload %s: %w", key, err)
	}
	s.logger.Info("Uploaded archive", "key", key, "size", info.Size())
	return nil
}

func (s *Store) Close() error { return nil }

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\x00\n") {
		return fmt.Errorf("s3: refusing unsafe archive name %q", name)
	}
	return nil
}
