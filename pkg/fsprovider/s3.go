package fsprovider

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3 layers object-store durability over a local on-disk cache: reads
// and random-access writes go through the Local provider (an SST row
// group's lazy-open reader needs real ReadAt, which S3 objects do not
// give cheaply), while Create/Remove additionally mirror the object to
// S3 so the root path can be rehydrated on another host. Grounded on
// cloud/aws/cloud_fs.go (devlibx-pebble)'s CloudFS, which wraps a base
// vfs.FS and mirrors Remove to S3; adapted from aws-sdk-go v1 session/
// S3 calls to aws-sdk-go-v2's config.LoadDefaultConfig + s3.Client, and
// extended to also mirror Create (the teacher's CloudFS only mirrors
// deletes, leaving uploads to whatever wraps it).
type S3 struct {
	local  *Local
	client *s3.Client
	bucket string
	prefix string
}

// Option customizes NewS3's credential resolution.
type Option func(*config.LoadOptions) error

// WithStaticCredentials pins the S3 provider to a fixed access key
// instead of the default chain (environment, shared config, instance
// role) — for an S3-compatible endpoint outside AWS, or a test harness
// standing up its own object store, where no ambient credential source
// exists to discover.
func WithStaticCredentials(accessKeyID, secretAccessKey, sessionToken string) Option {
	return config.WithCredentialsProvider(
		credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, sessionToken),
	)
}

// NewS3 builds an S3 provider backed by a local cache directory and
// bucket/prefix for the mirrored copy.
func NewS3(ctx context.Context, bucket, prefix string, opts ...Option) (*S3, error) {
	loadOpts := make([]func(*config.LoadOptions) error, len(opts))
	for i, o := range opts {
		loadOpts[i] = o
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("fsprovider: load aws config: %w", err)
	}
	return &S3{
		local:  NewLocal(),
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

func (p *S3) objectKey(path string) string {
	return strings.TrimPrefix(filepath.Join(p.prefix, path), "/")
}

func (p *S3) CreateDirAll(path string) error {
	return p.local.CreateDirAll(path)
}

func (p *S3) Create(path string) (Handle, error) {
	h, err := p.local.Create(path)
	if err != nil {
		return nil, err
	}
	return &s3MirroredHandle{Handle: h, provider: p, path: path}, nil
}

func (p *S3) Open(path string) (Handle, error) {
	if _, err := os.Stat(path); err != nil {
		if err := p.download(path); err != nil {
			return nil, err
		}
	}
	return p.local.Open(path)
}

func (p *S3) Remove(path string) error {
	ctx := context.Background()
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.objectKey(path)),
	})
	if err != nil {
		return fmt.Errorf("fsprovider: s3 delete %s: %w", path, err)
	}
	return p.local.Remove(path)
}

func (p *S3) List(dir string) ([]string, error) {
	return p.local.List(dir)
}

func (p *S3) download(path string) error {
	ctx := context.Background()
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.objectKey(path)),
	})
	if err != nil {
		return fmt.Errorf("fsprovider: s3 get %s: %w", path, err)
	}
	defer out.Body.Close()

	if err := p.local.CreateDirAll(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("fsprovider: local cache write %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return fmt.Errorf("fsprovider: local cache write %s: %w", path, err)
	}
	return nil
}

// s3MirroredHandle uploads the finished file to S3 on Close, after the
// caller has finished writing and syncing it to the local cache.
type s3MirroredHandle struct {
	Handle
	provider *S3
	path     string
}

func (h *s3MirroredHandle) Close() error {
	if err := h.Handle.Close(); err != nil {
		return err
	}
	ctx := context.Background()
	f, err := os.Open(h.path)
	if err != nil {
		return fmt.Errorf("fsprovider: reopen for s3 upload %s: %w", h.path, err)
	}
	defer f.Close()

	_, err = h.provider.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(h.provider.bucket),
		Key:    aws.String(h.provider.objectKey(h.path)),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("fsprovider: s3 put %s: %w", h.path, err)
	}
	return nil
}
