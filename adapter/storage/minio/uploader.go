package minio

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/treelistings/publication-service/app/config"
	"github.com/treelistings/publication-service/repository"
)

var _ repository.AssetStorage = (*Uploader)(nil)

// Uploader stores listing photos in a MinIO (S3-compatible) bucket and
// returns the public object URL as the durable asset reference.
type Uploader struct {
	client *minio.Client
	bucket string
	log    *zap.Logger
}

func NewUploader(ctx context.Context, cfg config.MinIOConfig, log *zap.Logger) (*Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client for %s: %w", cfg.Endpoint, err)
	}

	if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		exists, existsErr := client.BucketExists(ctx, cfg.Bucket)
		if existsErr != nil || !exists {
			return nil, fmt.Errorf("failed to make or verify bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Uploader{
		client: client,
		bucket: cfg.Bucket,
		log:    log,
	}, nil
}

// Upload keys the object under the owning listing's pre-allocated ID, so a
// retried publication reuses the same reference instead of uploading again.
func (u *Uploader) Upload(ctx context.Context, ownerID, fileName string, data []byte) (string, error) {
	objectKey := fmt.Sprintf("listings/%s/%s%s", ownerID, uuid.NewString(), filepath.Ext(fileName))

	info, err := u.client.PutObject(ctx, u.bucket, objectKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: http.DetectContentType(data),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object %s to bucket %s: %w", objectKey, u.bucket, err)
	}

	u.log.Info("Photo uploaded",
		zap.String("bucket", info.Bucket),
		zap.String("key", info.Key),
		zap.Int64("size", info.Size),
	)

	return fmt.Sprintf("%s/%s/%s", u.client.EndpointURL().String(), u.bucket, objectKey), nil
}
