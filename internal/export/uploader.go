package export

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/LeonAdeoye/query-service/internal/config"
)

// Uploader publishes export artifacts to an S3-compatible bucket and hands
// back a retrievable object URL.
type Uploader struct {
	client *minio.Client
	bucket string
	prefix string
	secure bool
	host   string
	logger *slog.Logger
}

// NewUploader builds an uploader from config, creating the bucket if it does
// not exist yet. Returns nil when uploads are disabled.
func NewUploader(ctx context.Context, cfg config.UploadConfig, logger *slog.Logger) (*Uploader, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	endpoint, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
		}
		logger.Info("created export bucket", slog.String("bucket", cfg.Bucket))
	}

	return &Uploader{
		client: client,
		bucket: cfg.Bucket,
		prefix: cleanPrefix(cfg.Prefix),
		secure: secure,
		host:   endpoint,
		logger: logger,
	}, nil
}

// Upload puts the local file into the bucket and returns its object URL.
func (u *Uploader) Upload(ctx context.Context, localPath, objectName, contentType string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact %s: %w", localPath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat artifact %s: %w", localPath, err)
	}

	key := objectName
	if u.prefix != "" {
		key = path.Join(u.prefix, objectName)
	}
	uploadInfo, err := u.client.PutObject(ctx, u.bucket, key, f, info.Size(),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	u.logger.InfoContext(ctx, "artifact uploaded",
		slog.String("bucket", u.bucket),
		slog.String("key", uploadInfo.Key),
		slog.Int64("bytes", uploadInfo.Size))

	scheme := "http"
	if u.secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, u.host, u.bucket, uploadInfo.Key), nil
}

func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("endpoint is required")
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("parse endpoint URL: %w", err)
		}
		if parsed.Host == "" {
			return "", false, fmt.Errorf("endpoint host is required")
		}
		if parsed.Scheme == "https" {
			return parsed.Host, true, nil
		}
		return parsed.Host, useSSL, nil
	}
	return raw, useSSL, nil
}

func cleanPrefix(prefix string) string {
	prefix = strings.TrimSpace(strings.TrimPrefix(prefix, "/"))
	if prefix == "" {
		return ""
	}
	prefix = path.Clean(prefix)
	if prefix == "." {
		return ""
	}
	return prefix
}
