package audit

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// S3ArchiverConfig configures the audit archive exporter.
type S3ArchiverConfig struct {
	Bucket        string
	Region        string
	AccessKeyID   string
	SecretKey     string
	Endpoint      string // custom endpoint for MinIO-style backends
	PathPrefix    string
	FlushInterval time.Duration
	BatchSize     int
}

// S3Archiver batches audit entries and flushes them to S3 as JSON-lines
// objects for long-term retention. Like the primary store, archive failures
// never reach the analysis path; the batch is retried on the next flush.
type S3Archiver struct {
	cfg     S3ArchiverConfig
	client  *s3.Client
	logger  *slog.Logger
	mu      sync.Mutex
	pending []*Entry
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewS3Archiver creates the archiver and starts its background flush loop.
func NewS3Archiver(ctx context.Context, cfg S3ArchiverConfig, logger *slog.Logger) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 archive: bucket is required")
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 archive: load AWS config: %w", err)
	}

	s3Opts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	a := &S3Archiver{
		cfg:    cfg,
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		logger: logger,
		stopCh: make(chan struct{}),
	}
	a.wg.Add(1)
	go a.flushLoop()
	return a, nil
}

// Enqueue adds an entry to the pending batch.
func (a *S3Archiver) Enqueue(entry *Entry) {
	if entry == nil {
		return
	}
	a.mu.Lock()
	a.pending = append(a.pending, entry)
	full := len(a.pending) >= a.cfg.BatchSize
	a.mu.Unlock()

	if full {
		a.flush()
	}
}

// Close flushes outstanding entries and stops the background loop.
func (a *S3Archiver) Close() error {
	close(a.stopCh)
	a.wg.Wait()
	a.flush()
	return nil
}

func (a *S3Archiver) flushLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.flush()
		case <-a.stopCh:
			return
		}
	}
}

func (a *S3Archiver) flush() {
	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range batch {
		if err := enc.Encode(e); err != nil {
			a.logger.Warn("audit archive: entry dropped from batch", "error", err)
		}
	}

	now := time.Now().UTC()
	key := path.Join(
		a.cfg.PathPrefix,
		now.Format("2006/01/02"),
		fmt.Sprintf("audit-%s-%s.jsonl", now.Format("150405"), uuid.NewString()[:8]),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		// Requeue so the entries get another chance on the next flush.
		a.logger.Warn("audit archive flush failed, requeueing", "entries", len(batch), "error", err)
		a.mu.Lock()
		a.pending = append(batch, a.pending...)
		a.mu.Unlock()
		return
	}
	a.logger.Debug("audit archive flushed", "entries", len(batch), "key", key)
}
