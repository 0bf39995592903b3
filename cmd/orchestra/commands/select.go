package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MEKXH/orchestra/internal/config"
	"github.com/MEKXH/orchestra/internal/selector"
)

type selectionFlags struct {
	maxTools int
	legacy   bool
	asJSON   bool
}

func (f *selectionFlags) bind(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.maxTools, "max", "n", 0, "Maximum number of tools (default from config)")
	cmd.Flags().BoolVar(&f.legacy, "legacy", false, "Use keyword matching instead of intelligent scoring")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "Print JSON")
}

func (f *selectionFlags) apply(cfg *config.Config) {
	if f.legacy {
		cfg.Selection.Intelligent = false
	}
}

func NewSelectCmd() *cobra.Command {
	var (
		flags   selectionFlags
		explain bool
	)
	cmd := &cobra.Command{
		Use:   "select <message>",
		Short: "Rank tools for a message without executing them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelect(strings.Join(args, " "), flags, explain)
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVar(&explain, "explain", false, "Show extracted entities and intents")
	return cmd
}

func runSelect(message string, flags selectionFlags, explain bool) error {
	orc, err := openOrchestrator(flags.apply)
	if err != nil {
		return err
	}
	defer orc.Stop()

	results := orc.Select(context.Background(), message, flags.maxTools)
	if flags.asJSON {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("encode selection: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if explain {
		entities := selector.ExtractEntities(message)
		fmt.Println("Entities:")
		for _, t := range entities.Types() {
			fmt.Printf("  %s: %s\n", t, strings.Join(entities[t], ", "))
		}
		fmt.Println("Intents:")
		for _, in := range selector.DetectIntents(message, entities) {
			fmt.Printf("  %s (%.2f)\n", in.Intent, in.Confidence)
		}
		fmt.Println()
	}

	if len(results) == 0 {
		fmt.Println("No tool matched.")
		return nil
	}
	printSelections(results)
	return nil
}

func printSelections(results []selector.Result) {
	for i, r := range results {
		fmt.Printf("%d. %s @ %s  confidence=%.2f intent=%s\n", i+1, r.Tool.Name, r.Tool.ServerURL, r.Confidence, r.Intent)
		if len(r.Parameters) > 0 {
			fmt.Printf("   params: %s\n", formatParams(r.Parameters))
		}
		for _, reason := range r.Reasons {
			fmt.Printf("   - %s\n", reason)
		}
	}
}

func formatParams(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, " ")
}
