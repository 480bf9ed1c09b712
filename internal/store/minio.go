package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tendant/url-thumbnailer/internal/fingerprint"
)

// MinioConfig locates the bucket that holds thumbnail objects.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Prefix    string
}

// MinioArtifacts keeps artifacts as objects named by fingerprint. PutIfAbsent
// is stat-then-put; a racing writer can upload the same key twice, which is
// harmless because both uploads carry identical bytes.
type MinioArtifacts struct {
	mc     *minio.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewMinioArtifacts connects and creates the bucket if needed.
func NewMinioArtifacts(ctx context.Context, cfg MinioConfig, logger *slog.Logger) (*MinioArtifacts, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := mc.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := mc.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("created bucket", "bucket", cfg.Bucket)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "thumbnails"
	}
	return &MinioArtifacts{mc: mc, bucket: cfg.Bucket, prefix: prefix, logger: logger}, nil
}

func (m *MinioArtifacts) Get(ctx context.Context, fp fingerprint.Fingerprint) (*Artifact, error) {
	obj, err := m.mc.GetObject(ctx, m.bucket, objectKey(m.prefix, fp), minio.GetObjectOptions{})
	if err != nil {
		return nil, m.translate(err, fp)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, m.translate(err, fp)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", info.Key, err)
	}

	a := artifactFromMetadata(fp, info.UserMetadata, info.LastModified)
	a.Data = data
	return a, nil
}

func (m *MinioArtifacts) PutIfAbsent(ctx context.Context, a *Artifact) (bool, error) {
	if err := validArtifact(a); err != nil {
		return false, err
	}
	key := objectKey(m.prefix, a.Fingerprint)

	_, err := m.mc.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return false, nil
	}
	if minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}

	_, err = m.mc.PutObject(ctx, m.bucket, key, bytes.NewReader(a.Data), int64(len(a.Data)), minio.PutObjectOptions{
		ContentType:  "image/" + a.Format,
		UserMetadata: artifactMetadata(a),
	})
	if err != nil {
		return false, fmt.Errorf("put object %s: %w", key, err)
	}
	m.logger.Debug("stored artifact object", "key", key, "size", len(a.Data))
	return true, nil
}

func (m *MinioArtifacts) translate(err error, fp fingerprint.Fingerprint) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return fmt.Errorf("get artifact %s: %w", fp, err)
}

func objectKey(prefix string, fp fingerprint.Fingerprint) string {
	return prefix + "/" + fp.String() + ".jpg"
}

func artifactMetadata(a *Artifact) map[string]string {
	return map[string]string{
		"format":        a.Format,
		"width":         strconv.Itoa(a.Width),
		"height":        strconv.Itoa(a.Height),
		"source-width":  strconv.Itoa(a.SourceWidth),
		"source-height": strconv.Itoa(a.SourceHeight),
	}
}

// artifactFromMetadata reverses artifactMetadata. S3 canonicalises user
// metadata keys, so lookups ignore case.
func artifactFromMetadata(fp fingerprint.Fingerprint, meta map[string]string, modified time.Time) *Artifact {
	get := func(key string) string {
		for k, v := range meta {
			if strings.EqualFold(k, key) {
				return v
			}
		}
		return ""
	}
	atoi := func(key string) int {
		n, _ := strconv.Atoi(get(key))
		return n
	}
	return &Artifact{
		Fingerprint:  fp,
		Format:       get("format"),
		Width:        atoi("width"),
		Height:       atoi("height"),
		SourceWidth:  atoi("source-width"),
		SourceHeight: atoi("source-height"),
		ModifiedAt:   modified.UTC(),
	}
}
