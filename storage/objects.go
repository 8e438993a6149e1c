package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"municonsole_back/config"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	defaultUploadExpiry   = 15 * time.Minute
	defaultDownloadExpiry = 15 * time.Minute
	MaxObjectBytes  int64 = 50 * 1024 * 1024
)

var (
	ErrNotConfigured  = errors.New("storage: object storage not configured")
	ErrInvalidID      = errors.New("storage: invalid storage id")
	ErrObjectTooLarge = fmt.Errorf("storage: object exceeds %d bytes", MaxObjectBytes)
)

// ObjectStorage stores uploaded files in a MinIO/S3 bucket. Objects are
// addressed by their storage id, which is the object key inside the bucket.
type ObjectStorage struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// ObjectInfo is the subset of object metadata the console cares about.
type ObjectInfo struct {
	StorageID   string
	Size        int64
	ContentType string
	ETag        string
}

// New connects to MinIO and makes sure the bucket exists. A partial
// configuration disables storage and returns (nil, nil).
func New(ctx context.Context, cfg config.MinioConfig) (*ObjectStorage, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: create bucket: %w", err)
		}
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s", scheme, cfg.Endpoint)
	}

	return &ObjectStorage{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

// NewStorageID builds a fresh object key below the given path segments.
// The key looks like <segments...>/<uuid><ext>.
func NewStorageID(filename string, segments ...string) string {
	parts := make([]string, 0, len(segments)+1)
	for _, segment := range segments {
		trimmed := strings.Trim(strings.TrimSpace(segment), "/")
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
	if len(ext) > 10 || strings.ContainsAny(ext, "/\\ ") {
		ext = ""
	}
	parts = append(parts, uuid.NewString()+ext)
	return path.Join(parts...)
}

// ValidateStorageID rejects keys that could escape the upload prefixes.
func ValidateStorageID(id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" || strings.HasPrefix(trimmed, "/") || strings.Contains(trimmed, "..") || strings.Contains(trimmed, "://") {
		return ErrInvalidID
	}
	return nil
}

// PresignedUploadURL returns a URL the client can PUT a file to, along with
// the storage id to record once the upload finishes.
func (s *ObjectStorage) PresignedUploadURL(ctx context.Context, filename string, segments ...string) (string, string, error) {
	if s == nil || s.client == nil {
		return "", "", ErrNotConfigured
	}

	storageID := NewStorageID(filename, segments...)

	presignCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	signed, err := s.client.PresignedPutObject(presignCtx, s.bucket, storageID, defaultUploadExpiry)
	if err != nil {
		return "", "", fmt.Errorf("storage: presign upload: %w", err)
	}
	return signed.String(), storageID, nil
}

// Put uploads data under storageID.
func (s *ObjectStorage) Put(ctx context.Context, storageID string, data []byte, contentType string) error {
	if s == nil || s.client == nil {
		return ErrNotConfigured
	}
	if err := ValidateStorageID(storageID); err != nil {
		return err
	}
	if int64(len(data)) > MaxObjectBytes {
		return ErrObjectTooLarge
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	uploadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := s.client.PutObject(uploadCtx, s.bucket, storageID, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("storage: upload object: %w", err)
	}
	return nil
}

// Get reads the whole object, refusing anything above MaxObjectBytes.
func (s *ObjectStorage) Get(ctx context.Context, storageID string) ([]byte, ObjectInfo, error) {
	if s == nil || s.client == nil {
		return nil, ObjectInfo{}, ErrNotConfigured
	}
	if err := ValidateStorageID(storageID); err != nil {
		return nil, ObjectInfo{}, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, storageID, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("storage: get object: %w", err)
	}
	defer obj.Close()

	stat, err := obj.Stat()
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("storage: stat object: %w", err)
	}
	if stat.Size > MaxObjectBytes {
		return nil, ObjectInfo{}, ErrObjectTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(obj, MaxObjectBytes+1))
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("storage: read object: %w", err)
	}

	return data, ObjectInfo{StorageID: storageID, Size: stat.Size, ContentType: stat.ContentType, ETag: stat.ETag}, nil
}

// Stat confirms that the client actually finished uploading storageID.
func (s *ObjectStorage) Stat(ctx context.Context, storageID string) (ObjectInfo, error) {
	if s == nil || s.client == nil {
		return ObjectInfo{}, ErrNotConfigured
	}
	if err := ValidateStorageID(storageID); err != nil {
		return ObjectInfo{}, err
	}
	stat, err := s.client.StatObject(ctx, s.bucket, storageID, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("storage: stat object: %w", err)
	}
	return ObjectInfo{StorageID: storageID, Size: stat.Size, ContentType: stat.ContentType, ETag: stat.ETag}, nil
}

// Remove deletes the object. Unknown or foreign references are ignored.
func (s *ObjectStorage) Remove(ctx context.Context, ref string) error {
	if s == nil || s.client == nil {
		return nil
	}
	objectName, ok := s.objectName(ref)
	if !ok {
		return nil
	}

	removeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.client.RemoveObject(removeCtx, s.bucket, objectName, minio.RemoveObjectOptions{})
}

// PresignedURL returns a temporary download URL for a storage id or a
// public object URL. Without storage the reference is returned unchanged.
func (s *ObjectStorage) PresignedURL(ctx context.Context, ref string, expiry time.Duration) (string, error) {
	trimmed := strings.TrimSpace(ref)
	if s == nil || s.client == nil || trimmed == "" {
		return trimmed, nil
	}
	if expiry <= 0 {
		expiry = defaultDownloadExpiry
	}

	objectName, ok := s.objectName(trimmed)
	if !ok {
		return trimmed, nil
	}

	presignCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	signed, err := s.client.PresignedGetObject(presignCtx, s.bucket, objectName, expiry, nil)
	if err != nil {
		return "", err
	}
	return signed.String(), nil
}

// PublicURL is the unsigned URL of storageID.
func (s *ObjectStorage) PublicURL(storageID string) string {
	if s == nil {
		return storageID
	}
	return fmt.Sprintf("%s/%s/%s", s.publicURL, s.bucket, strings.TrimPrefix(storageID, "/"))
}

func (s *ObjectStorage) objectName(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}

	if !strings.Contains(trimmed, "://") {
		candidate := strings.TrimPrefix(trimmed, "/")
		candidate = strings.TrimPrefix(candidate, s.bucket+"/")
		return candidate, candidate != ""
	}

	target, err := url.Parse(trimmed)
	if err != nil {
		return "", false
	}
	base, err := url.Parse(s.publicURL)
	if err != nil || base.Host == "" || base.Host != target.Host {
		return "", false
	}
	candidate := strings.TrimPrefix(target.Path, "/")
	candidate = strings.TrimPrefix(candidate, s.bucket+"/")
	return candidate, candidate != ""
}
