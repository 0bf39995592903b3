package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MEKXH/orchestra/internal/config"
)

const statusCheckBudget = 15 * time.Second

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check configured tool servers and show their health",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	orc, err := openOrchestrator(nil)
	if err != nil {
		return err
	}
	defer orc.Stop()

	fmt.Println("=== Orchestra Status ===")
	fmt.Println()

	fmt.Printf("Config: %s\n", config.ConfigPath())
	if _, err := os.Stat(config.ConfigPath()); err == nil {
		fmt.Println("  Status: OK")
	} else {
		fmt.Println("  Status: Not found (run 'orchestra init')")
	}
	fmt.Printf("Mode: %s\n", orc.Mode())

	ctx, cancel := context.WithTimeout(context.Background(), statusCheckBudget)
	defer cancel()
	checkErr := orc.CheckHealth(ctx)

	fmt.Println("\nServers:")
	for _, rec := range orc.Servers() {
		state := "healthy"
		if !rec.Healthy {
			state = "unhealthy"
		}
		line := fmt.Sprintf("  %s (%s): %s", orc.ServerName(rec.URL), rec.URL, state)
		if rec.Healthy && !rec.LastChecked.IsZero() {
			line += fmt.Sprintf(", %dms", rec.ResponseTime.Milliseconds())
		}
		if rec.LastError != "" {
			line += fmt.Sprintf(", failures=%d, last error: %s", rec.ConsecutiveFailures, rec.LastError)
		}
		fmt.Println(line)
	}
	if checkErr != nil {
		fmt.Printf("\nWarning: %v\n", checkErr)
	}
	return nil
}
