// Package blobstore archives analyzed files to S3-compatible object
// storage. Archival is optional: the pipeline runs without a configured
// blob store and treats archive failures as non-fatal.
package blobstore

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
)

// BlobStore stores and retrieves archived file bytes, keyed by the file's
// SHA-256 fingerprint so repeat uploads of identical bytes overwrite in
// place.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
}

// Config holds S3-compatible endpoint settings.
type Config struct {
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
}

// Enabled reports whether the config points at a real endpoint.
func (c Config) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

type s3Store struct {
	client *minio.Client
	bucket string
}

// NewS3 connects to the configured endpoint and creates the bucket if it
// does not exist yet.
func NewS3(ctx context.Context, cfg Config) (BlobStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, eris.Wrap(err, "blobstore: create client")
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, eris.Wrapf(err, "blobstore: check bucket %s", cfg.Bucket)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, eris.Wrapf(err, "blobstore: create bucket %s", cfg.Bucket)
		}
	}

	return &s3Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *s3Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	return eris.Wrapf(err, "blobstore: put %s", key)
}

func (s *s3Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, eris.Wrapf(err, "blobstore: get %s", key)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, eris.Wrapf(err, "blobstore: read %s", key)
	}
	return data, nil
}

func (s *s3Store) Remove(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	return eris.Wrapf(err, "blobstore: remove %s", key)
}
