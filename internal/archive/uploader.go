// internal/archive/uploader.go
package archive

import (
	"bytes"
	"context"
	"io"
	"log"
	"sync/atomic"
	"time"

	"authtrace/internal/config"
	"authtrace/internal/metrics"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader는 artifact의 S3 업로드를 담당한다.
// 모든 업로드는 컨텍스트 기반(timeout + cancel-safe)이며
// 앱 레벨 retry/backoff를 포함한다.
//
// Retry 정책 단일화: AWS SDK retry는 0으로 고정하고
// 재시도 횟수는 ArchiveRetries만 사용한다. 두 레벨의 retry가 겹치면
// 처리 지연이 예측 불가능해진다.
type Uploader struct {
	cfg     config.Config
	metrics *metrics.Metrics
	client  *s3.Client
}

func NewUploader(cfg config.Config, m *metrics.Metrics) *Uploader {
	return &Uploader{
		cfg:     cfg,
		metrics: m,
		client:  newS3Client(cfg),
	}
}

func newS3Client(cfg config.Config) *s3.Client {
	awsCfg, err := awsCfgLib.LoadDefaultConfig(
		context.TODO(),
		awsCfgLib.WithRegion(cfg.AWSRegion),
	)
	if err != nil {
		log.Fatalf("[FATAL] failed to load AWS config: %v", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 0
	})
}

// UploadBytes는 메모리의 gzip artifact를 업로드한다.
// 재시도마다 reader를 새로 만들어야 하므로 bytes.NewReader를 쓴다.
func (u *Uploader) UploadBytes(ctx context.Context, key string, body []byte) error {
	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 1; attempt <= u.retries(); attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := u.putObject(ctx, key, bytes.NewReader(body), int64(len(body))); err == nil {
			return nil
		} else {
			lastErr = err
			atomic.AddInt64(&u.metrics.ArchivePutErrorsTotal, 1)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 2*time.Second {
				backoff = 2 * time.Second
			}
		}
	}

	return lastErr
}

// UploadFile은 스풀에 저장된 파일을 그대로 업로드한다.
// retry 시 Seek(0)으로 rewind한다.
func (u *Uploader) UploadFile(ctx context.Context, key string, f io.ReadSeeker, size int64) error {
	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 1; attempt <= u.retries(); attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := u.putObject(ctx, key, f, size); err == nil {
			return nil
		} else {
			lastErr = err
			atomic.AddInt64(&u.metrics.ArchivePutErrorsTotal, 1)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 2*time.Second {
				backoff = 2 * time.Second
			}
		}

		// 재시도 전 파일 포인터 rewind (필수)
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
	}

	return lastErr
}

// putObject는 1회 PutObject 호출만 담당한다.
// 시도당 ArchiveTimeout이 적용된다.
func (u *Uploader) putObject(ctx context.Context, key string, body io.Reader, size int64) error {
	ctx2, cancel := context.WithTimeout(ctx, u.cfg.ArchiveTimeout)
	defer cancel()

	_, err := u.client.PutObject(ctx2, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.ArchiveBucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	return err
}

func (u *Uploader) retries() int {
	if u.cfg.ArchiveRetries > 0 {
		return u.cfg.ArchiveRetries
	}
	return 1
}
