// internal/cli/analyze.go
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"authtrace/internal/config"
	"authtrace/internal/metrics"
	"authtrace/internal/pipeline"
	"authtrace/internal/rules"
	"authtrace/internal/selector"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

// newAnalyzeCmd: 파일 하나에 대한 1회 실행 커맨드.
//
//	authtrace analyze --input network_log.json --mode remote --k 5 \
//	    --secret 'pncsoft1!!' --login-url https://example.com/login
//
// 실행 요약(JSON)은 stdout으로, 로그는 stderr로 나간다.
func newAnalyzeCmd(cfg config.Config, m *metrics.Metrics) *cobra.Command {
	var (
		inputPath     string
		outputPath    string
		candidatePath string
		mode          string
		k             int
		secret        string
		loginURLs     []string
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run the two-stage filter on a captured network log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rs := rules.DefaultRuleSet()
			rs.Secret = secret
			rs.AddKeywords(loginURLs...)

			var sel selector.Selector
			switch mode {
			case "local", "":
				// nil → 파이프라인이 규칙 판정 기반 heuristic을 구성한다.
			case "remote":
				if cfg.AnthropicAPIKey == "" {
					return fmt.Errorf("remote mode requires ANTHROPIC_API_KEY")
				}
				judge := selector.NewJudge(cfg.AnthropicAPIKey, m)
				judge.Model = cfg.JudgeModel
				judge.Timeout = cfg.JudgeTimeout
				judge.Retries = cfg.JudgeRetries
				sel = judge
			default:
				return fmt.Errorf("unknown mode %q (want local or remote)", mode)
			}

			if k <= 0 {
				k = cfg.DefaultK
			}
			if outputPath == "" {
				// app 산출물 관례: 타임스탬프 포함 파일명
				ts := time.Now().Format("20060102_150405")
				outputPath = filepath.Join(
					filepath.Dir(inputPath),
					fmt.Sprintf("critical_requests_%s.json", ts),
				)
			}

			res, err := pipeline.Run(cmd.Context(), pipeline.Options{
				InputPath:     inputPath,
				OutputPath:    outputPath,
				CandidatePath: candidatePath,
				K:             k,
				MinValueLen:   cfg.MinValueLen,
				Rules:         rs,
				Selector:      sel,
				Metrics:       m,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "input network log (JSON array)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "critical event artifact path (default: critical_requests_<ts>.json next to input)")
	cmd.Flags().StringVar(&candidatePath, "candidates", "", "candidate log artifact path (default: candidate_log_<runId>.json next to output)")
	cmd.Flags().StringVar(&mode, "mode", "local", "selector variant: local or remote")
	cmd.Flags().IntVar(&k, "k", 0, "max size of the critical set (default from DEFAULT_K)")
	cmd.Flags().StringVar(&secret, "secret", "", "known plaintext secret; events carrying it are never dropped")
	cmd.Flags().StringArrayVar(&loginURLs, "login-url", nil, "extra login URL/keyword to force-include (repeatable)")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}
