package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Yozuusan/Adtest-sub000/adapter"
)

// Archive keeps the latest snapshot per (shop, fingerprint) so an adapter
// can be regenerated without revisiting the storefront. GetSnapshot returns
// nil, nil when nothing is archived.
type Archive interface {
	PutSnapshot(ctx context.Context, shopID, fp string, s *adapter.Snapshot) error
	GetSnapshot(ctx context.Context, shopID, fp string) (*adapter.Snapshot, error)
}

// MinIOConfig addresses an S3-compatible bucket.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Validate reports missing settings.
func (c MinIOConfig) Validate() error {
	switch {
	case c.Endpoint == "":
		return errors.New("snapshot: minio endpoint is required")
	case c.Bucket == "":
		return errors.New("snapshot: minio bucket is required")
	case c.AccessKey == "" || c.SecretKey == "":
		return errors.New("snapshot: minio credentials are required")
	}
	return nil
}

// MinIOArchive stores snapshots as JSON objects under snapshots/{shop}/{fp}.json.
type MinIOArchive struct {
	client *minio.Client
	bucket string
}

// NewMinIOArchive connects to the bucket, creating it if needed.
func NewMinIOArchive(ctx context.Context, cfg MinIOConfig) (*MinIOArchive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: minio client: %w", err)
	}
	if err := ensureBucket(ctx, client, cfg.Bucket, cfg.Region); err != nil {
		return nil, fmt.Errorf("snapshot: ensure bucket %s: %w", cfg.Bucket, err)
	}
	return &MinIOArchive{client: client, bucket: cfg.Bucket}, nil
}

// ObjectKey is the object name of a snapshot.
func ObjectKey(shopID, fp string) string {
	return "snapshots/" + shopID + "/" + fp + ".json"
}

func (a *MinIOArchive) PutSnapshot(ctx context.Context, shopID, fp string, s *adapter.Snapshot) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	_, err = a.client.PutObject(ctx, a.bucket, ObjectKey(shopID, fp), bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("snapshot: put %s: %w", ObjectKey(shopID, fp), err)
	}
	return nil
}

func (a *MinIOArchive) GetSnapshot(ctx context.Context, shopID, fp string) (*adapter.Snapshot, error) {
	obj, err := a.client.GetObject(ctx, a.bucket, ObjectKey(shopID, fp), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("snapshot: get %s: %w", ObjectKey(shopID, fp), err)
	}
	defer obj.Close()

	var s adapter.Snapshot
	if err := json.NewDecoder(obj).Decode(&s); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshot: decode %s: %w", ObjectKey(shopID, fp), err)
	}
	return &s, nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
