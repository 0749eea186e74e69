// internal/logger/log.go
package logger

import (
	"io"
	"os"
	"strings"

	"authtrace/internal/config"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init
//
// 애플리케이션 시작 시 한 번만 호출되는 로거 초기화 함수.
// Config 설정에 따라 개발용 콘솔 출력 또는 운영용 JSON 출력으로 구성한다.
//
//  1. 포맷 전환: LOG_PRETTY=true → ConsoleWriter, false → JSON
//  2. 공통 필드: 모든 로그에 service / instance 자동 부착
//  3. 샘플링: Debug/Info는 LOG_SAMPLE_N 기준으로 일부만 기록,
//     Warn/Error는 절대 버리지 않는다.
//
// 파이프라인 특성상 이벤트 단위 drop 로그(info)가 대량으로 나올 수 있어
// 샘플링이 특히 유효하다.
func Init(cfg config.Config) {

	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); err == nil {
		level = l
	}
	zerolog.SetGlobalLevel(level)

	var w io.Writer
	if cfg.LogPretty {
		// 로컬 개발: 사람이 읽기 좋은 컬러 출력
		w = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		}
	} else {
		// 운영: 수집 시스템이 그대로 파싱할 수 있는 표준 JSON.
		// stdout은 analyze 결과 출력용으로 비워 두고 로그는 stderr로 보낸다.
		w = os.Stderr
	}

	base := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID).
		Logger()

	logger := base
	if cfg.LogSampleN > 1 {
		logger = base.Sample(&zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: cfg.LogSampleN},
			InfoSampler:  &zerolog.BasicSampler{N: cfg.LogSampleN},
			// Warn/Error는 샘플링하지 않음
		})
	}

	zlog.Logger = logger

	// 표준 라이브러리 log를 쓰는 코드도 같은 설정을 따르게 연결
	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}
