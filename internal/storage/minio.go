package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/faceid/internal/config"
)

// ImageStore keeps the source images enrollments were extracted from, so
// records flagged for re-enrollment can be re-extracted with a new model.
type ImageStore struct {
	client *minio.Client
	bucket string
}

func NewImageStore(cfg config.MinIOConfig) (*ImageStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &ImageStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

func enrollmentPrefix(identityID string) string {
	return "enrollments/" + identityID + "/"
}

// EnrollmentImageKey is the object key of the image behind a record.
func EnrollmentImageKey(identityID string, recordID uuid.UUID) string {
	return enrollmentPrefix(identityID) + recordID.String() + ".jpg"
}

func (s *ImageStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

func (s *ImageStore) PutEnrollmentImage(ctx context.Context, identityID string, recordID uuid.UUID, data []byte) (string, error) {
	key := EnrollmentImageKey(identityID, recordID)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: http.DetectContentType(data),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return key, nil
}

func (s *ImageStore) GetEnrollmentImage(ctx context.Context, identityID string, recordID uuid.UUID) ([]byte, error) {
	key := EnrollmentImageKey(identityID, recordID)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// RemoveIdentityImages deletes every image stored for identityID in one batch.
func (s *ImageStore) RemoveIdentityImages(ctx context.Context, identityID string) error {
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    enrollmentPrefix(identityID),
		Recursive: true,
	})
	for result := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			return fmt.Errorf("delete object %s: %w", result.ObjectName, result.Err)
		}
	}
	return nil
}

func (s *ImageStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
