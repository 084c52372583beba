// Package storage persists generated audio artifacts, either on the local
// filesystem or in S3, behind a small uploader interface.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"tts-pipeline/internal/config"
)

// Uploader writes one artifact and returns where it landed.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// ForConfig picks S3 when a bucket is configured, local filesystem otherwise.
func ForConfig(ctx context.Context, cfg config.Config) (Uploader, error) {
	if cfg.AudioS3Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AudioS3Region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return &S3Store{client: s3.NewFromConfig(awsCfg), bucket: cfg.AudioS3Bucket}, nil
	}
	return NewFileStore(cfg.AudioDir)
}

// FileStore persists audio onto the local filesystem. Intended for
// development and single-node deployments where object storage is not
// available; the API service serves the files back under /audio.
type FileStore struct {
	baseDir string
}

// NewFileStore initializes a FileStore rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		return nil, errors.New("storage: base dir is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// BaseDir returns the configured root directory.
func (s *FileStore) BaseDir() string {
	return s.baseDir
}

// Upload writes the artifact under a sanitized key and returns the key.
func (s *FileStore) Upload(ctx context.Context, key string, body []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := SanitizeKey(key)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.baseDir, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("storage: create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	return cleanKey, nil
}

// S3Store uploads audio artifacts to an S3 bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// Upload puts the object and returns its s3:// location.
func (s *S3Store) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	cleanKey, err := SanitizeKey(key)
	if err != nil {
		return "", err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(cleanKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, cleanKey), nil
}

// SanitizeKey normalizes a key and prevents escaping the storage root.
func SanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
