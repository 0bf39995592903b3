package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/MEKXH/orchestra/internal/config"
	"github.com/MEKXH/orchestra/internal/stats"
	"github.com/MEKXH/orchestra/internal/store"
)

const topToolsLimit = 5

func NewStatsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show persisted execution and selection statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw snapshot as JSON")
	return cmd
}

func runStats(asJSON bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	snap, err := stats.ReadSnapshot(cfg.State.Dir)
	if err != nil {
		return err
	}

	if asJSON {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("encode stats: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println("=== Runtime Stats ===")
	if !snap.HasData() {
		fmt.Println("  no runtime data yet")
		return nil
	}
	fmt.Printf("Updated: %s\n", snap.UpdatedAt.Format("2006-01-02 15:04:05"))

	o := snap.Overall
	fmt.Printf("\nExecutions: %d (success %.1f%%), avg %.0fms, p95~%dms, max %dms\n",
		o.Invocations, o.SuccessRate()*100, o.AvgLatencyMs(), o.P95ProxyLatencyMs, o.MaxLatencyMs)
	printFailures("  ", o.FailuresByKind)

	fmt.Println("\nBy category:")
	printCounters(snap.Categories)
	fmt.Println("\nBy tool:")
	printCounters(snap.Tools)

	s := snap.Selection
	fmt.Printf("\nSelections: %d (empty %d), avg confidence %.2f, selected tool success %.1f%%\n",
		s.Events, s.Empty, s.AvgConfidence(), s.SuccessRate()*100)
	for _, k := range sortedKeys(s.ByMode) {
		fmt.Printf("  mode %s: %d\n", k, s.ByMode[k])
	}
	for _, k := range sortedKeys(s.ByIntent) {
		fmt.Printf("  intent %s: %d\n", k, s.ByIntent[k])
	}

	usage, err := store.Open(cfg.UsageDBPath())
	if err != nil {
		return nil
	}
	defer usage.Close()
	top, err := usage.TopTools(context.Background(), topToolsLimit)
	if err != nil || len(top) == 0 {
		return nil
	}
	fmt.Println("\nMost used:")
	for _, row := range top {
		fmt.Printf("  %s @ %s: %d\n", row.ToolName, row.ServerURL, row.Uses)
	}
	return nil
}

func printCounters(series map[string]stats.Counters) {
	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := series[name]
		fmt.Printf("  %s: %d runs, %.1f%% ok, rolling avg %.0fms\n", name, c.Invocations, c.SuccessRate()*100, c.RollingAvgMs)
		printFailures("    ", c.FailuresByKind)
	}
}

func printFailures(indent string, byKind map[string]int64) {
	for _, kind := range sortedKeys(byKind) {
		fmt.Printf("%sfailed %s: %d\n", indent, kind, byKind[kind])
	}
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
