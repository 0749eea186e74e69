// internal/cli/serve.go
package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"authtrace/internal/archive"
	"authtrace/internal/config"
	"authtrace/internal/metrics"
	"authtrace/internal/server"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// newServeCmd: 업로드/분석 HTTP 서버 모드.
//
// 엔드포인트:
//   - POST /upload  : 트레이스 저장
//   - POST /analyze : 파이프라인 실행
//   - GET  /metrics : 운영 지표
//   - GET  /health  : liveness
//
// ARCHIVE_BUCKET이 설정되어 있으면 산출물 S3 아카이버도 함께 띄운다.
func newServeCmd(cfg config.Config, m *metrics.Metrics) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the upload/analyze HTTP server",
		RunE: func(_ *cobra.Command, _ []string) error {
			if addr != "" {
				cfg.HTTPAddr = addr
			}

			var archiver *archive.Archiver
			if cfg.ArchiveEnabled() {
				archiver = archive.NewArchiver(cfg, m)
				archiver.Start()
			}

			h := server.NewHandler(cfg, m, archiver)

			mux := http.NewServeMux()
			mux.HandleFunc("/upload", h.HandleUpload)
			mux.HandleFunc("/analyze", h.HandleAnalyze)
			mux.HandleFunc("/metrics", h.HandleMetrics)
			mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("ok"))
			})

			// /analyze는 원격 judge 대기 시간이 길 수 있어
			// WriteTimeout을 judge timeout보다 넉넉하게 잡는다.
			srv := &http.Server{
				Addr:         cfg.HTTPAddr,
				Handler:      mux,
				ReadTimeout:  60 * time.Second,
				WriteTimeout: cfg.JudgeTimeout*2 + 30*time.Second,
				IdleTimeout:  60 * time.Second,
			}

			// graceful shutdown:
			//  1) HTTP 서버 먼저 멈추고 (진행 중인 분석은 끝까지)
			//  2) 아카이버 큐를 비우고 종료
			go func() {
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

				sig := <-sigCh
				log.Info().Str("signal", sig.String()).Msg("shutdown signal received")

				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				if err := srv.Shutdown(ctx); err != nil {
					log.Error().Err(err).Msg("http shutdown")
				}
				cancel()

				if archiver != nil {
					log.Info().Msg("stopping archiver...")
					archiver.Shutdown()
				}
			}()

			log.Info().Str("addr", cfg.HTTPAddr).Msg("analyzer server listening")

			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}

			// 시그널 경로에서 이미 종료되었어도 다시 호출해도 safe
			if archiver != nil {
				archiver.Shutdown()
			}
			log.Info().Msg("shutdown complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "HTTP bind address (overrides HTTP_ADDR)")

	return cmd
}
