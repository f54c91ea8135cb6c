// ABOUTME: Optional S3-compatible mirror for workspace archives
// ABOUTME: Ensures the bucket exists and uploads archives via FPutObject

package artifact

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MirrorOptions configures the S3-compatible archive mirror.
type MirrorOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Mirror uploads archive files to an S3-compatible object store so a
// device losing its disk does not lose its archived workspaces.
type Mirror struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMirror builds a mirror from opts. No connection is made until the
// first upload.
func NewMirror(opts MirrorOptions, logger *slog.Logger) (*Mirror, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("mirror endpoint is required")
	}
	if opts.Bucket == "" {
		return nil, fmt.Errorf("mirror bucket is required")
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	return &Mirror{
		client: client,
		bucket: opts.Bucket,
		logger: logger.With("component", "mirror"),
	}, nil
}

// Upload copies the archive at localPath into the bucket under
// objectName, creating the bucket if it does not exist yet.
func (m *Mirror) Upload(ctx context.Context, localPath, objectName string) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", m.bucket, err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("creating bucket %s: %w", m.bucket, err)
		}
		m.logger.Info("created mirror bucket", "bucket", m.bucket)
	}

	info, err := m.client.FPutObject(ctx, m.bucket, objectName, localPath, minio.PutObjectOptions{
		ContentType: "application/zstd",
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", objectName, err)
	}

	m.logger.Info("mirrored archive", "object", objectName, "size", info.Size)
	return nil
}
