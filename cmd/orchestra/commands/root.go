package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MEKXH/orchestra/internal/config"
	"github.com/MEKXH/orchestra/internal/orchestrator"
)

var logLevelOverride string

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orchestra",
		Short: "Orchestra - tool orchestration client",
		Long: `Orchestra discovers tools on remote tool servers, tracks server health,
ranks tools against a natural-language request and executes them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init" || cmd.Name() == "version" {
				return configureLogger(config.DefaultConfig(), logLevelOverride)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return configureLogger(cfg, logLevelOverride)
		},
	}

	cmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")

	cmd.AddCommand(
		NewInitCmd(),
		NewStatusCmd(),
		NewToolsCmd(),
		NewSelectCmd(),
		NewRunCmd(),
		NewStatsCmd(),
		NewVersionCmd(),
	)

	return cmd
}

// openOrchestrator loads the config, applies mutate and wires an orchestrator.
// Callers must Stop it to flush stats and release the usage store.
func openOrchestrator(mutate func(*config.Config)) (*orchestrator.Orchestrator, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if mutate != nil {
		mutate(cfg)
	}
	return orchestrator.New(cfg)
}
