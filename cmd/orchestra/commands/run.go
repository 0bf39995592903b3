package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func NewRunCmd() *cobra.Command {
	var (
		flags   selectionFlags
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run <message>",
		Short: "Select tools for a message and execute them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(strings.Join(args, " "), flags, timeout)
		},
	}
	flags.bind(cmd)
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Overall deadline for the request (0 = none)")
	return cmd
}

func runRun(message string, flags selectionFlags, timeout time.Duration) error {
	orc, err := openOrchestrator(flags.apply)
	if err != nil {
		return err
	}
	defer orc.Stop()

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	run := orc.SelectAndExecute(ctx, message, flags.maxTools)
	if flags.asJSON {
		data, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return fmt.Errorf("encode run: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Request: %s\n", run.RequestID)
	if len(run.Selections) == 0 {
		fmt.Println("No tool matched.")
		return nil
	}
	printSelections(run.Selections)

	fmt.Println("\nResults:")
	for _, r := range run.Results {
		status := "ok"
		if !r.Succeeded() {
			status = string(r.FailureKind)
		}
		fmt.Printf("  %s [%s] attempts=%d duration=%s\n", r.ToolName, status, r.Attempts, r.Duration.Round(time.Millisecond))
		fmt.Printf("    %s\n", r.Text())
	}
	fmt.Printf("\n%d/%d succeeded\n", run.Succeeded(), len(run.Results))
	return nil
}
