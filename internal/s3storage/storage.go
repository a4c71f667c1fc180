// Package s3storage keeps document content and archived activity segments in
// MinIO or any S3 compatible store.
package s3storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/ShieldVault/internal/config"
	"github.com/dharsanguruparan/ShieldVault/internal/model"
)

// Storage wraps MinIO/S3 interactions for content and activity archives.
type Storage struct {
	client        *minio.Client
	contentBucket string
	archiveBucket string
	region        string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:        client,
		contentBucket: cfg.ContentBucket,
		archiveBucket: cfg.ArchiveBucket,
		region:        cfg.S3Region,
	}, nil
}

// EnsureBuckets makes sure both buckets exist before use.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.contentBucket, s.archiveBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				return fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// Put uploads document content.
func (s *Storage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.contentBucket, key, r, size, opts); err != nil {
		return fmt.Errorf("upload content %s: %w", key, err)
	}
	return nil
}

// Fetch downloads document content. A missing key wraps model.ErrNotFound.
func (s *Storage) Fetch(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.contentBucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get content %s: %w", key, err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("content %s: %w", key, model.ErrNotFound)
		}
		return nil, fmt.Errorf("read content %s: %w", key, err)
	}
	return buf, nil
}

// PresignContentURL returns a signed GET URL for document content.
func (s *Storage) PresignContentURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.contentBucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign content %s: %w", key, err)
	}
	return u.String(), nil
}

// ArchiveActivity writes entries as one JSON segment and returns its key.
// Keys sort by the last entry id, so segments list in log order.
func (s *Storage) ArchiveActivity(ctx context.Context, documentID string, entries []model.ActivityEntry) (string, error) {
	if len(entries) == 0 {
		return "", fmt.Errorf("archive activity for %s: no entries", documentID)
	}
	key := SegmentKey(documentID, entries[len(entries)-1].ID)
	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("marshal activity segment: %w", err)
	}
	opts := minio.PutObjectOptions{ContentType: "application/json"}
	if _, err := s.client.PutObject(ctx, s.archiveBucket, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return "", fmt.Errorf("upload activity segment %s: %w", key, err)
	}
	return key, nil
}

// LoadSegment reads an archived segment back.
func (s *Storage) LoadSegment(ctx context.Context, key string) ([]model.ActivityEntry, error) {
	obj, err := s.client.GetObject(ctx, s.archiveBucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get activity segment %s: %w", key, err)
	}
	defer obj.Close()
	var entries []model.ActivityEntry
	if err := json.NewDecoder(obj).Decode(&entries); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("activity segment %s: %w", key, model.ErrNotFound)
		}
		return nil, fmt.Errorf("decode activity segment %s: %w", key, err)
	}
	return entries, nil
}

// SegmentKey is the object key of an archived activity segment.
func SegmentKey(documentID, lastEntryID string) string {
	return path.Join("activity", documentID, lastEntryID+".json")
}
