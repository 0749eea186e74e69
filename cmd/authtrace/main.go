package main

import (
	"os"
	"runtime"
	"strconv"

	"authtrace/internal/cli"
	"authtrace/internal/config"
	"authtrace/internal/logger"
	"authtrace/internal/metrics"
)

func main() {

	// ====================================================================
	// CPU 설정 (컨테이너 vCPU 특성 대응)
	// ====================================================================
	//
	// Fargate류 환경에서 GOMAXPROCS를 default로 두면 실제 제공되는
	// 논리 코어 수보다 많은 P가 잡혀 scheduling 낭비가 생긴다.
	// 파이프라인 자체는 단일 실행 단위라 크게 민감하진 않지만,
	// serve 모드 운영 시에는 vCPU 수에 맞춰 지정하는 것을 권장한다.
	// ====================================================================
	if v := os.Getenv("GOMAXPROCS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			runtime.GOMAXPROCS(n)
		}
	}

	// Config는 환경변수 기반, 실행 단위 파라미터는 커맨드 플래그 기반.
	cfg := config.Load()
	logger.Init(cfg)
	m := metrics.New()

	root := cli.NewRootCmd(cfg, m)
	if err := root.Execute(); err != nil {
		// cobra가 에러 메시지는 이미 출력했다. 종료 코드만 전달.
		os.Exit(1)
	}
}
