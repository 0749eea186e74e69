// internal/archive/archiver.go
package archive

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"authtrace/internal/config"
	"authtrace/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Artifact는 아카이브 대상 산출물 하나 (candidate 또는 critical JSON).
type Artifact struct {
	Kind string // "candidate" | "critical"
	Data []byte // indent 포함 JSON (압축 전)
}

// Archiver
// ------------------------------------------------------------
// 파이프라인 산출물을 비동기로 gzip 압축해 S3에 적재하는 엔진.
//
// 흐름:
//
//	Enqueue → artifactCh → uploadLoop → gzip → S3
//	                                  실패 시 → Spool → 재업로드
//
// 분석 요청 처리 경로를 업로드 지연으로 막지 않기 위해
// Enqueue는 non-blocking이다 (큐가 가득 차면 drop + 경고).
// graceful shutdown 시 큐에 남은 artifact를 모두 처리하고 종료한다.
type Archiver struct {
	cfg      config.Config
	metrics  *metrics.Metrics
	uploader *Uploader
	spool    *Spool

	artifactCh chan Artifact

	ctx    context.Context
	cancel context.CancelFunc

	wg       sync.WaitGroup
	stopOnce sync.Once

	// mu/stopped: Enqueue와 channel close의 순서를 직렬화한다.
	// shutdown 이후에 도착하는 Enqueue는 닫힌 채널에 send하는 대신 drop한다.
	mu      sync.RWMutex
	stopped bool
}

func NewArchiver(cfg config.Config, m *metrics.Metrics) *Archiver {
	uploader := NewUploader(cfg, m)
	return &Archiver{
		cfg:        cfg,
		metrics:    m,
		uploader:   uploader,
		spool:      NewSpool(cfg, m, uploader),
		artifactCh: make(chan Artifact, cfg.ArchiveQueue),
	}
}

// Start는 업로드 goroutine을 실행한다.
func (a *Archiver) Start() {
	a.ctx, a.cancel = context.WithCancel(context.Background())

	a.wg.Add(1)
	go a.uploadLoop()
}

// Shutdown은 채널을 닫고 남은 작업이 끝날 때까지 대기한다.
// 여러 번 호출해도 안전하다.
func (a *Archiver) Shutdown() {
	a.stopOnce.Do(func() {
		// close와 진행 중인 Enqueue가 겹치지 않도록 write lock 아래에서 닫는다.
		a.mu.Lock()
		a.stopped = true
		close(a.artifactCh)
		a.mu.Unlock()
	})
	a.wg.Wait()
	if a.cancel != nil {
		a.cancel()
	}
}

// Enqueue는 artifact를 업로드 큐에 넣는다.
// 큐가 가득 차면 분석 경로를 막지 않고 버린다 (best-effort 아카이브).
// HTTP drain 한도보다 오래 걸리는 분석이 shutdown 이후에 끝나는 경우가
// 있으므로, 종료된 뒤의 Enqueue도 panic 없이 drop으로 처리한다.
func (a *Archiver) Enqueue(art Artifact) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.stopped {
		atomic.AddInt64(&a.metrics.SpoolDroppedTotal, 1)
		log.Warn().Str("kind", art.Kind).Msg("archiver stopped, artifact dropped")
		return
	}

	select {
	case a.artifactCh <- art:
	default:
		atomic.AddInt64(&a.metrics.SpoolDroppedTotal, 1)
		log.Warn().Str("kind", art.Kind).Msg("archive queue full, artifact dropped")
	}
}

// uploadLoop는 artifact를 하나씩 처리하고,
// idle일 때는 스풀 재업로드를 진행한다.
func (a *Archiver) uploadLoop() {
	defer a.wg.Done()

	for {
		select {
		case art, ok := <-a.artifactCh:
			if !ok {
				log.Info().Msg("archiver exiting")
				return
			}
			a.process(art)

			// 스풀 starvation 방지: 건당 최소 2건씩 재업로드 시도
			for i := 0; i < 2; i++ {
				a.spool.ProcessOne(a.ctx)
			}

		default:
			for i := 0; i < 2; i++ {
				a.spool.ProcessOne(a.ctx)
			}
			select {
			case <-a.ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
}

// process는 artifact 하나를 gzip 압축해 업로드한다.
// 업로드 실패분은 스풀로 보낸다.
func (a *Archiver) process(art Artifact) {
	if len(art.Data) == 0 {
		return
	}

	gz, err := EncodeGzip(art.Data)
	if err != nil {
		// 압축 실패는 사실상 발생하지 않지만, 발생하면 원본을 버릴 수밖에 없다.
		log.Error().Err(err).Str("kind", art.Kind).Msg("artifact gzip failed")
		return
	}

	name := NewFilename(a.cfg.InstanceID, art.Kind)
	key := BuildKey(a.cfg.ArchivePrefix, name)

	if err := a.uploader.UploadBytes(a.ctx, key, gz); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("artifact upload failed, spooling")
		if err2 := a.spool.Save(name, gz); err2 != nil {
			log.Error().Err(err2).Str("file", name).Msg("spool save failed")
		}
		return
	}

	atomic.AddInt64(&a.metrics.ArchiveStoredTotal, 1)
}
