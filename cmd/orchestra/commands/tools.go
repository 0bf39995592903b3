package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MEKXH/orchestra/internal/catalog"
	"github.com/MEKXH/orchestra/internal/mcp"
)

type toolsOptions struct {
	refresh  bool
	asJSON   bool
	category string
	tags     []string
}

func NewToolsCmd() *cobra.Command {
	var opts toolsOptions
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Discover and list the tools of healthy servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTools(opts)
		},
	}
	cmd.Flags().BoolVar(&opts.refresh, "refresh", false, "Bypass the discovery cache")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the catalog as JSON")
	cmd.Flags().StringVar(&opts.category, "category", "", "Only list tools in this category")
	cmd.Flags().StringSliceVar(&opts.tags, "tag", nil, "Only list tools carrying any of these tags (repeatable)")
	return cmd
}

// filterTools keeps the tools that are in every requested filter.
func filterTools(tools []catalog.ToolDescriptor, filters ...[]catalog.ToolDescriptor) []catalog.ToolDescriptor {
	out := tools
	for _, filter := range filters {
		keep := make(map[catalog.ToolKey]bool, len(filter))
		for _, t := range filter {
			keep[t.Key()] = true
		}
		out = slices.DeleteFunc(slices.Clone(out), func(t catalog.ToolDescriptor) bool { return !keep[t.Key()] })
	}
	return out
}

func runTools(opts toolsOptions) error {
	orc, err := openOrchestrator(nil)
	if err != nil {
		return err
	}
	defer orc.Stop()

	if opts.refresh {
		orc.Invalidate()
	}
	ctx := context.Background()
	refreshErr := orc.Refresh(ctx)

	var filters [][]catalog.ToolDescriptor
	if opts.category != "" {
		filters = append(filters, orc.ToolsByCategory(opts.category))
	}
	if len(opts.tags) > 0 {
		filters = append(filters, orc.ToolsByTags(opts.tags...))
	}
	tools := filterTools(orc.AvailableTools(), filters...)

	if opts.asJSON {
		data, err := json.MarshalIndent(tools, "", "  ")
		if err != nil {
			return fmt.Errorf("encode tools: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if refreshErr != nil {
		fmt.Printf("Warning: %v\n\n", refreshErr)
	}
	if len(tools) == 0 {
		if len(filters) > 0 {
			fmt.Println("No tools matched.")
		} else {
			fmt.Println("No tools discovered.")
		}
		return nil
	}

	current := ""
	for _, t := range tools {
		if t.ServerURL != current {
			current = t.ServerURL
			fmt.Printf("%s (%s):\n", orc.ServerName(current), current)
		}
		fmt.Printf("  %s [%s] uses=%d\n", t.Name, t.Category, t.UsageCount)
		if t.Description != "" {
			fmt.Printf("      %s\n", t.Description)
		}
		if params := mcp.SchemaProperties(t.ParameterSchema); len(params) > 0 {
			fmt.Printf("      params: %s\n", strings.Join(params, ", "))
		}
		if len(t.Tags) > 0 {
			fmt.Printf("      tags: %s\n", strings.Join(t.Tags, ", "))
		}
	}
	return nil
}
