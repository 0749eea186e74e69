// internal/cli/root.go
package cli

import (
	"authtrace/internal/config"
	"authtrace/internal/metrics"

	"github.com/spf13/cobra"
)

// NewRootCmd는 authtrace 루트 커맨드를 만든다.
func NewRootCmd(cfg config.Config, m *metrics.Metrics) *cobra.Command {
	root := &cobra.Command{
		Use:   "authtrace",
		Short: "Authentication-flow analyzer for captured browser network logs",
		Long: `authtrace narrows a captured browser network trace down to the
handful of events that make up a login flow. A deterministic rule
engine removes obviously irrelevant traffic first, then a selector
(local heuristic or remote LLM judge) picks the critical set.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newAnalyzeCmd(cfg, m),
		newServeCmd(cfg, m),
	)

	return root
}
