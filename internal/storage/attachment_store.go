package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/config"
)

var ErrObjectNotFound = errors.New("object not found")

// AttachmentStore keeps submission files and compliance exports.
type AttachmentStore interface {
	Upload(ctx context.Context, key, contentType string, data []byte) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	PresignedURL(ctx context.Context, key, downloadName string) (string, time.Time, error)
	EnsureBucket(ctx context.Context) error
}

type minioStore struct {
	client        *minio.Client
	bucket        string
	region        string
	presignExpiry time.Duration
	logger        zerolog.Logger

	ensureMu      sync.Mutex
	bucketEnsured bool
}

func NewMinIOStore(cfg config.MinIOConfig, logger zerolog.Logger) (AttachmentStore, error) {
	// Инициализация клиента MinIO
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}

	store := &minioStore{
		client:        client,
		bucket:        cfg.Bucket,
		region:        cfg.Region,
		presignExpiry: expiry,
		logger:        logger,
	}

	// На старте не валим сервис, если MinIO ещё не готов
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := store.EnsureBucket(ctx); err != nil {
		logger.Error().Err(err).
			Str("endpoint", cfg.Endpoint).
			Str("bucket", cfg.Bucket).
			Msg("MinIO not ready during startup, will retry on demand")
	}

	logger.Info().
		Str("endpoint", cfg.Endpoint).
		Str("bucket", cfg.Bucket).
		Bool("ssl", cfg.UseSSL).
		Msg("Connected to MinIO")

	return store, nil
}

// EnsureBucket retries until the bucket exists or ctx expires.
func (s *minioStore) EnsureBucket(ctx context.Context) error {
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if s.bucketEnsured {
		return nil
	}

	backoff := 500 * time.Millisecond
	wait := func() error {
		select {
		case <-ctx.Done():
			return fmt.Errorf("minio not ready: %w", ctx.Err())
		case <-time.After(backoff):
			if backoff < 5*time.Second {
				backoff *= 2
			}
			return nil
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("minio not ready: %w", err)
		}

		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			if werr := wait(); werr != nil {
				return werr
			}
			continue
		}

		if !exists {
			if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				if werr := wait(); werr != nil {
					return werr
				}
				continue
			}
			s.logger.Info().Str("bucket", s.bucket).Msg("Created new bucket")
		}

		s.bucketEnsured = true
		return nil
	}
}

func (s *minioStore) Upload(ctx context.Context, key, contentType string, data []byte) error {
	if err := s.EnsureBucket(ctx); err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}

	s.logger.Debug().
		Str("key", key).
		Str("etag", info.ETag).
		Int("size", len(data)).
		Msg("Object uploaded to MinIO")

	return nil
}

func (s *minioStore) Download(ctx context.Context, key string) ([]byte, error) {
	if err := s.EnsureBucket(ctx); err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	return data, nil
}

func (s *minioStore) Delete(ctx context.Context, key string) error {
	if err := s.EnsureBucket(ctx); err != nil {
		return err
	}

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	s.logger.Debug().Str("key", key).Msg("Object deleted from MinIO")
	return nil
}

func (s *minioStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if err := s.EnsureBucket(ctx); err != nil {
		return 0, err
	}

	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	removed := 0
	for obj := range objects {
		if obj.Err != nil {
			return removed, fmt.Errorf("failed to list objects: %w", obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("failed to delete object %s: %w", obj.Key, err)
		}
		removed++
	}

	return removed, nil
}

func (s *minioStore) PresignedURL(ctx context.Context, key, downloadName string) (string, time.Time, error) {
	if err := s.EnsureBucket(ctx); err != nil {
		return "", time.Time{}, err
	}

	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", time.Time{}, ErrObjectNotFound
		}
		return "", time.Time{}, fmt.Errorf("failed to stat object: %w", err)
	}

	params := make(map[string][]string)
	if downloadName != "" {
		params["response-content-disposition"] = []string{fmt.Sprintf("attachment; filename=%q", downloadName)}
	}

	expires := time.Now().Add(s.presignExpiry)
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.presignExpiry, params)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return u.String(), expires, nil
}

// SubmissionPrefix is the folder holding every file of one submission.
func SubmissionPrefix(submissionID string, at time.Time) string {
	return fmt.Sprintf("submissions/%d/%02d/%s/", at.Year(), at.Month(), submissionID)
}

// ObjectKey builds submissions/YYYY/MM/<submission>/<uuid>-<name>.
func ObjectKey(submissionID, fileName string, at time.Time) string {
	return SubmissionPrefix(submissionID, at) + uuid.NewString() + "-" + SanitizeName(fileName)
}

func ExportKey(prefix, userID string, at time.Time) string {
	return path.Join(strings.Trim(prefix, "/"), userID, fmt.Sprintf("export-%s.json", at.UTC().Format("20060102T150405Z")))
}

// SanitizeName keeps letters, digits, dots, dashes and underscores.
func SanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))

	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "file"
	}
	if len(out) > 120 {
		out = out[len(out)-120:]
	}
	return out
}
