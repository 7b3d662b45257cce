package services

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ArchiveService stores raw verified webhook payloads in object storage so
// billing incidents can be replayed and audited. Archival is best-effort:
// callers log failures and carry on.
type ArchiveService interface {
	ArchiveEvent(ctx context.Context, eventID string, payload []byte) error
	EnsureBucketExists(ctx context.Context) error
}

type minioArchive struct {
	client *minio.Client
	bucket string
}

func NewMinioArchiveService(endpoint, accessKey, secretKey string, useSSL bool, bucket string) (ArchiveService, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, err
	}
	return &minioArchive{client: client, bucket: bucket}, nil
}

func (m *minioArchive) ArchiveEvent(ctx context.Context, eventID string, payload []byte) error {
	objectName := fmt.Sprintf("%s/%s.json", time.Now().UTC().Format("2006/01/02"), eventID)
	_, err := m.client.PutObject(ctx, m.bucket, objectName, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}

func (m *minioArchive) EnsureBucketExists(ctx context.Context) error {
	found, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if !found {
		return m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{})
	}
	return nil
}
