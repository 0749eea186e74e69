// internal/archive/spool.go
package archive

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"authtrace/internal/config"
	"authtrace/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Spool은 S3 업로드에 실패한 artifact를 로컬 디스크에 보관했다가
// 재업로드하는 fallback 저장소다.
//
//   - 파일명 prefix의 Unix timestamp로 TTL을 판단한다.
//   - SpoolMaxSizeBytes 초과 시 가장 오래된 파일부터 밀어낸다.
//   - 파일 하나 = artifact 하나 (gzip JSON).
type Spool struct {
	cfg      config.Config
	metrics  *metrics.Metrics
	uploader *Uploader

	sizeBytes int64
}

// NewSpool은 스풀 디렉토리를 초기화하고 기존 파일을 스캔해
// 현재 크기/개수 gauge를 복원한다.
func NewSpool(cfg config.Config, m *metrics.Metrics, uploader *Uploader) *Spool {
	_ = os.MkdirAll(cfg.SpoolDir, 0o755)

	s := &Spool{
		cfg:      cfg,
		metrics:  m,
		uploader: uploader,
	}

	var total, count int64
	if entries, err := os.ReadDir(cfg.SpoolDir); err == nil {
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			if info, err := e.Info(); err == nil {
				total += info.Size()
				count++
			}
		}
	}

	atomic.StoreInt64(&s.sizeBytes, total)
	if total > 0 {
		atomic.AddInt64(&m.SpoolSizeBytes, total)
	}
	if count > 0 {
		atomic.AddInt64(&m.SpoolFilesCurrent, count)
	}

	return s
}

// Save는 업로드 실패한 gzip artifact를 스풀에 적재한다.
func (s *Spool) Save(filename string, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	size := int64(len(data))
	if !s.ensureCapacity(size) {
		log.Error().Str("file", filename).Int64("bytes", size).Msg("spool full, artifact dropped")
		atomic.AddInt64(&s.metrics.SpoolDroppedTotal, 1)
		return nil
	}

	path := filepath.Join(s.cfg.SpoolDir, filename)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}

	atomic.AddInt64(&s.sizeBytes, size)
	atomic.AddInt64(&s.metrics.SpoolSizeBytes, size)
	atomic.AddInt64(&s.metrics.SpoolFilesCurrent, 1)
	atomic.AddInt64(&s.metrics.SpoolEnqueuedTotal, 1)

	return nil
}

// ensureCapacity는 SpoolMaxSizeBytes를 초과하지 않도록
// 가장 오래된 파일부터 삭제한다. 더 지울 파일이 없으면 false.
func (s *Spool) ensureCapacity(incoming int64) bool {
	max := s.cfg.SpoolMaxSizeBytes
	if max <= 0 {
		return true
	}

	for {
		if atomic.LoadInt64(&s.sizeBytes)+incoming <= max {
			return true
		}

		oldest := s.pickOldest()
		if oldest == "" {
			return false
		}
		s.removeFile(oldest)
		atomic.AddInt64(&s.metrics.SpoolFilesExpiredTotal, 1)
		log.Warn().Str("file", oldest).Msg("spool capacity, evicted oldest")
	}
}

// ProcessOne은 가장 오래된 스풀 파일 1개를 재업로드한다.
// TTL 초과 파일은 업로드하지 않고 삭제한다.
func (s *Spool) ProcessOne(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	name := s.pickOldest()
	if name == "" {
		return
	}

	path := filepath.Join(s.cfg.SpoolDir, name)
	info, err := os.Stat(path)
	if err != nil {
		// 파일이 사라진 경우 gauge만 정리
		atomic.AddInt64(&s.metrics.SpoolFilesCurrent, -1)
		return
	}
	size := info.Size()

	// --- TTL: 파일명 prefix의 Unix timestamp 기준 ---
	if s.cfg.SpoolMaxAge > 0 {
		if sec, ok := extractUnixFromFilename(name); ok {
			age := time.Duration(Unix()-sec) * time.Second
			if age > s.cfg.SpoolMaxAge {
				s.removeFile(name)
				atomic.AddInt64(&s.metrics.SpoolFilesExpiredTotal, 1)
				log.Info().Str("file", name).Dur("age", age).Msg("spool TTL expired, deleted")
				return
			}
		}
		// unix를 못 읽으면 TTL 판단은 skip하고 계속 진행
	}

	f, err := os.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("file", name).Msg("spool open failed")
		return
	}
	defer f.Close()

	key := BuildKey(s.cfg.ArchivePrefix, name)
	if err := s.uploader.UploadFile(ctx, key, f, size); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("spool reupload failed")
		return
	}

	s.removeFile(name)
	atomic.AddInt64(&s.metrics.SpoolReuploadedTotal, 1)
	log.Info().Str("key", key).Msg("spool reupload success")
}

func (s *Spool) removeFile(name string) {
	path := filepath.Join(s.cfg.SpoolDir, name)
	if info, err := os.Stat(path); err == nil {
		atomic.AddInt64(&s.sizeBytes, -info.Size())
		atomic.AddInt64(&s.metrics.SpoolSizeBytes, -info.Size())
	}
	_ = os.Remove(path)
	atomic.AddInt64(&s.metrics.SpoolFilesCurrent, -1)
}

// pickOldest는 스풀에서 가장 오래된 파일명을 반환한다.
// 파일명이 <unix>_... 이므로 문자열 정렬이 곧 시간 정렬이다.
func (s *Spool) pickOldest() string {
	entries, err := os.ReadDir(s.cfg.SpoolDir)
	if err != nil {
		return ""
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == "" || name[0] == '.' {
			continue
		}
		files = append(files, name)
	}
	if len(files) == 0 {
		return ""
	}

	sort.Strings(files)
	return files[0]
}

// extractUnixFromFilename은 "<unix>_..." 파일명에서 Unix seconds를 꺼낸다.
func extractUnixFromFilename(name string) (int64, bool) {
	idx := strings.IndexByte(name, '_')
	if idx <= 0 {
		return 0, false
	}
	sec, err := strconv.ParseInt(name[:idx], 10, 64)
	if err != nil || sec <= 0 {
		return 0, false
	}
	return sec, true
}
