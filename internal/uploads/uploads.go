// Package uploads hands out presigned S3 URLs for user attachments.
package uploads

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hereje/commonwealth/internal/util"
)

// Config holds S3-compatible storage settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

type Service struct {
	client *minio.Client
	cfg    Config
}

var allowedContentTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

func New(cfg Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	svc := &Service{client: client, cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return svc, nil
}

// SignUpload returns a presigned PUT URL for one attachment and the public
// URL the object will have once uploaded.
func (s *Service) SignUpload(ctx context.Context, communityID, contentType string) (uploadURL, publicURL string, err error) {
	ext, ok := allowedContentTypes[contentType]
	if !ok {
		return "", "", fmt.Errorf("unsupported content type %q", contentType)
	}

	key := path.Join(communityID, util.NewID("up")+ext)
	presigned, err := s.client.PresignedPutObject(ctx, s.cfg.Bucket, key, 15*time.Minute)
	if err != nil {
		return "", "", fmt.Errorf("presign upload: %w", err)
	}
	return presigned.String(), s.PublicURL(key), nil
}

// PublicURL maps an object key to its world-readable URL.
func (s *Service) PublicURL(key string) string {
	if s.cfg.PublicURL != "" {
		return strings.TrimSuffix(s.cfg.PublicURL, "/") + "/" + key
	}
	scheme := "http"
	if s.cfg.UseSSL {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: s.cfg.Endpoint, Path: "/" + s.cfg.Bucket + "/" + key}
	return u.String()
}

// Delete removes an uploaded object.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}
