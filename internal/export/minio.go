package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/verax-io/verax/internal/audit"
	"github.com/verax-io/verax/internal/config"
	"github.com/verax-io/verax/internal/logger"
	"github.com/verax-io/verax/internal/metrics"
)

// MinioSink writes NDJSON segments to an S3-compatible object store.
// Objects are written once and never updated, matching the append-only
// contract of the records they hold.
type MinioSink struct {
	client *minio.Client
	bucket string
	prefix string
	log    logger.Logger
}

// NewMinioSink connects to the object store and ensures the bucket
// exists
func NewMinioSink(ctx context.Context, cfg config.ExportConfig, log logger.Logger) (*MinioSink, error) {
	if err := validateMinioConfig(cfg); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetDefault()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	if err := ensureBucket(ctx, client, cfg.Bucket, cfg.Region); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", cfg.Bucket, err)
	}

	log.Info("Export sink initialized",
		logger.String("endpoint", cfg.Endpoint),
		logger.String("bucket", cfg.Bucket),
		logger.Bool("ssl", cfg.UseSSL))

	return &MinioSink{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		log:    log,
	}, nil
}

// ExportRange seals a contiguous chain range as one object
func (s *MinioSink) ExportRange(ctx context.Context, orgID, chainKey string, records []*audit.Record) (string, error) {
	fromSeq, toSeq := segmentBounds(records)
	return s.put(ctx, rangeKey(s.prefix, orgID, chainKey, fromSeq, toSeq), records)
}

// ExportReport writes a report's record set as one object
func (s *MinioSink) ExportReport(ctx context.Context, orgID, reportID string, records []*audit.Record) (string, error) {
	return s.put(ctx, reportKey(s.prefix, orgID, reportID), records)
}

func (s *MinioSink) put(ctx context.Context, key string, records []*audit.Record) (string, error) {
	data, err := encodeNDJSON(records)
	if err != nil {
		return "", err
	}

	_, err = s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: ndjsonContentType})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	metrics.ExportedSegmentsTotal.Inc()
	metrics.ExportedBytesTotal.Add(float64(len(data)))

	s.log.Debug("Exported segment",
		logger.String("key", key),
		logger.Int("records", len(records)),
		logger.Int("bytes", len(data)))

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func validateMinioConfig(cfg config.ExportConfig) error {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return errors.New("export endpoint is required")
	}
	if strings.Contains(cfg.Endpoint, "://") {
		return fmt.Errorf("export endpoint must not include a scheme: %q", cfg.Endpoint)
	}
	if strings.TrimSpace(cfg.AccessKeyID) == "" {
		return errors.New("export access key is required")
	}
	if strings.TrimSpace(cfg.SecretAccessKey) == "" {
		return errors.New("export secret key is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return errors.New("export bucket is required")
	}
	return nil
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
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
