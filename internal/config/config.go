// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config
//
// 프로세스 실행에 필요한 환경 변수 값을 보관하는 구조체.
// 모든 값은 시작 시점에 Load()로 초기화되며 이후 변경되지 않는다.
// CLI 플래그(입력/출력 경로, k, mode, secret 등 "실행 단위" 파라미터)는
// 여기 속하지 않고 cobra 커맨드에서 직접 받는다.
type Config struct {

	// ---------------------------
	// 서비스 식별 / 로깅
	// ---------------------------

	ServiceName string // 로그 공통 필드 (기본 "authtrace")
	InstanceID  string // 프로세스 고유 ID (hostname 기반, 실패 시 랜덤 hex)

	LogLevel   string // zerolog 레벨 (기본 "info")
	LogPretty  bool   // true면 ConsoleWriter (개발용)
	LogSampleN uint32 // Debug/Info 샘플링 N (0/1이면 샘플링 없음)

	// ---------------------------
	// serve 모드
	// ---------------------------

	HTTPAddr    string // HTTP bind 주소 (기본 ":8080")
	MaxBodySize int64  // 업로드 body 최대 크기 (기본 64MB)
	UploadDir   string // 업로드된 트레이스 저장 디렉토리

	// ---------------------------
	// 원격 judge
	// ---------------------------

	AnthropicAPIKey string        // ANTHROPIC_API_KEY (없으면 remote 모드 사용 불가)
	JudgeModel      string        // Messages API model id
	JudgeTimeout    time.Duration // 시도당 timeout
	JudgeRetries    int           // 일시 장애 재시도 횟수

	// ---------------------------
	// 파이프라인 기본값
	// ---------------------------

	DefaultK    int // critical set 최대 크기 기본값
	MinValueLen int // 상관관계 값 최소 길이

	// ---------------------------
	// artifact S3 아카이브 (선택 기능)
	// ---------------------------
	// ARCHIVE_BUCKET이 설정된 경우에만 활성화되며,
	// 그때는 region 등 연관 값이 비어 있으면 fail-fast 한다.

	AWSRegion     string
	ArchiveBucket string
	ArchivePrefix string // artifact 저장 prefix (기본 "artifacts")
	ArchiveQueue  int    // 업로드 작업 큐 크기

	ArchiveTimeout time.Duration // S3 PutObject 시도당 timeout
	ArchiveRetries int           // 앱 레벨 재시도 횟수 (SDK retry는 0 고정)

	SpoolDir          string        // 업로드 실패분 로컬 스풀 디렉토리
	SpoolMaxAge       time.Duration // 스풀 파일 TTL
	SpoolMaxSizeBytes int64         // 스풀 전체 허용 용량
}

// ArchiveEnabled는 S3 아카이브 기능 사용 여부.
func (c Config) ArchiveEnabled() bool {
	return c.ArchiveBucket != ""
}

// Load
//
// 환경 변수 기반으로 Config를 초기화한다.
// CLI 도구 특성상 대부분의 값에 합리적 기본값을 두고,
// 아카이브가 활성화된 경우에만 필수 값 누락 시 즉시 종료(fail-fast)한다.
func Load() Config {
	cfg := Config{
		ServiceName: envStr("SERVICE_NAME", "authtrace"),
		InstanceID:  fallbackInstanceID(),

		LogLevel:   envStr("LOG_LEVEL", "info"),
		LogPretty:  envBool("LOG_PRETTY", false),
		LogSampleN: uint32(envInt("LOG_SAMPLE_N", 0)),

		HTTPAddr:    envStr("HTTP_ADDR", ":8080"),
		MaxBodySize: envInt64("MAX_BODY_SIZE", 64*1024*1024),
		UploadDir:   envStr("UPLOAD_DIR", "uploaded_files"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		JudgeModel:      envStr("JUDGE_MODEL", "claude-opus-4-20250514"),
		JudgeTimeout:    envDur("JUDGE_TIMEOUT", 90*time.Second),
		JudgeRetries:    envInt("JUDGE_RETRIES", 1),

		DefaultK:    envInt("DEFAULT_K", 5),
		MinValueLen: envInt("MIN_VALUE_LEN", 8),

		ArchiveBucket: os.Getenv("ARCHIVE_BUCKET"),
	}

	if cfg.ArchiveEnabled() {
		cfg.AWSRegion = must("AWS_REGION")
		cfg.ArchivePrefix = envStr("ARCHIVE_PREFIX", "artifacts")
		cfg.ArchiveQueue = envInt("ARCHIVE_QUEUE", 64)
		cfg.ArchiveTimeout = envDur("ARCHIVE_TIMEOUT", 5*time.Second)
		cfg.ArchiveRetries = envInt("ARCHIVE_RETRIES", 3)
		cfg.SpoolDir = envStr("SPOOL_DIR", "spool")
		cfg.SpoolMaxAge = envDur("SPOOL_MAX_AGE", 72*time.Hour)
		cfg.SpoolMaxSizeBytes = envInt64("SPOOL_MAX_SIZE_BYTES", 512*1024*1024)
	}

	return cfg
}

// must는 필수 환경변수가 없으면 즉시 종료한다.
// 런타임 중에 설정 오류를 겪지 않도록 하기 위한 보호 전략.
func must(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("missing required env: %s", key)
	}
	return v
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes"
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid int env %s=%q: %v", key, v, err)
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Fatalf("invalid int64 env %s=%q: %v", key, v, err)
	}
	return n
}

func envDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("invalid duration env %s=%q: %v", key, v, err)
	}
	return d
}

// fallbackInstanceID
//
// 프로세스 식별용 고유 값.
//   - 기본: hostname
//   - fallback: 12자리 랜덤 hex
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
