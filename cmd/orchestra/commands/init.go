package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MEKXH/orchestra/internal/config"
)

func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default Orchestra configuration",
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := config.ConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists: %s\n", configPath)
		return nil
	}

	cfg := config.DefaultConfig()
	if err := os.MkdirAll(cfg.State.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", cfg.State.Dir, err)
	}
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("Orchestra initialized!\n")
	fmt.Printf("Config: %s\n", configPath)
	fmt.Printf("State:  %s\n", cfg.State.Dir)
	fmt.Printf("\nNext steps:\n")
	fmt.Printf("1. Edit %s to list your tool servers\n", configPath)
	fmt.Printf("2. Run 'orchestra status' to check them\n")
	return nil
}
