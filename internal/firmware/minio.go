package firmware

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/JonathanBrouwer/lightbringer/pkg/log"
	"github.com/JonathanBrouwer/lightbringer/pkg/options"
)

// Repository is a bucket of release images keyed by object name.
type Repository struct {
	client     *minio.Client
	bucketName string
}

var _ Source = (*Repository)(nil)

// NewRepository connects to the S3-compatible endpoint in opts.
func NewRepository(opts *options.S3Options) (*Repository, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify},
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure:    opts.UseSSL,
		Region:    opts.Region,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Repository{client: client, bucketName: opts.BucketName}, nil
}

// CheckBucket makes sure the bucket exists, creating it if needed.
func (r *Repository) CheckBucket(ctx context.Context) error {
	exists, err := r.client.BucketExists(ctx, r.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		log.Info("Bucket does not exist, creating", "bucket", r.bucketName)
		if err := r.client.MakeBucket(ctx, r.bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

// Open streams the object named key.
func (r *Repository) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := r.client.GetObject(ctx, r.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before any flash write.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, r.bucketName, key)
		}
		return nil, fmt.Errorf("stat object %s: %w", key, err)
	}
	return obj, nil
}

// Upload stores an image under key.
func (r *Repository) Upload(ctx context.Context, key string, src io.Reader, size int64) error {
	info, err := r.client.PutObject(ctx, r.bucketName, key, src, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	log.Info("Uploaded firmware image", "bucket", r.bucketName, "key", key, "size", info.Size, "etag", info.ETag)
	return nil
}

// PresignedURL returns a temporary download link for key.
func (r *Repository) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := r.client.PresignedGetObject(ctx, r.bucketName, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned url: %w", err)
	}
	return u.String(), nil
}
