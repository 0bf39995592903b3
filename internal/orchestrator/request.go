package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/cloudwego/eino/components/tool"

	"github.com/MEKXH/orchestra/internal/audit"
	"github.com/MEKXH/orchestra/internal/catalog"
	"github.com/MEKXH/orchestra/internal/executor"
	"github.com/MEKXH/orchestra/internal/mcp"
	"github.com/MEKXH/orchestra/internal/selector"
)

// Run is the outcome of SelectAndExecute.
type Run struct {
	RequestID  string            `json:"request_id"`
	Selections []selector.Result `json:"selections"`
	Results    []executor.Result `json:"results"`
}

// Succeeded counts successful executions.
func (r Run) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Succeeded() {
			n++
		}
	}
	return n
}

func ensureRequestID(ctx context.Context) context.Context {
	if audit.RequestIDFromContext(ctx) != "" {
		return ctx
	}
	return audit.WithRequestID(ctx, audit.NewRequestID())
}

// Select ranks the tools of healthy servers against message. maxTools <= 0
// uses the configured budget. An empty result is not an error.
func (o *Orchestrator) Select(ctx context.Context, message string, maxTools int) []selector.Result {
	ctx = ensureRequestID(ctx)
	if maxTools <= 0 {
		maxTools = o.cfg.Selection.MaxTools
	}
	if err := o.Refresh(ctx); err != nil {
		slog.Debug("selecting from a degraded catalog", "request_id", audit.RequestIDFromContext(ctx), "error", err)
	}

	results := o.selector.Select(message, maxTools, o.mode, o.AvailableTools())

	confidences := make([]float64, 0, len(results))
	for _, r := range results {
		confidences = append(confidences, r.Confidence)
	}
	intent := ""
	if a := o.selector.Analyze(message, o.mode); len(a.Intents) > 0 {
		intent = string(selector.PrimaryIntent(a.Intents))
	}
	o.stats.RecordSelection(string(o.mode), intent, confidences)
	o.auditSelection(ctx, results)

	slog.Debug("tools selected",
		"request_id", audit.RequestIDFromContext(ctx),
		"mode", string(o.mode),
		"candidates", len(results),
	)
	return results
}

// Execute runs the selected tools. parameters are merged over each selection's
// candidate parameters, caller values winning. One result is returned per
// selection, in selection order.
func (o *Orchestrator) Execute(ctx context.Context, selections []selector.Result, parameters map[string]any) []executor.Result {
	ctx = ensureRequestID(ctx)
	calls := make([]executor.Call, 0, len(selections))
	for _, sel := range selections {
		params := make(map[string]any, len(sel.Parameters)+len(parameters))
		maps.Copy(params, sel.Parameters)
		maps.Copy(params, parameters)
		calls = append(calls, executor.Call{
			Tool:       sel.Tool,
			Parameters: params,
			Intent:     string(sel.Intent),
		})
	}

	results := o.executor.Execute(ctx, calls)

	succeeded := 0
	for _, r := range results {
		if r.Succeeded() {
			succeeded++
		}
	}
	o.stats.RecordSelectionOutcome(len(results), succeeded)
	return results
}

// SelectAndExecute selects tools for message and runs them.
func (o *Orchestrator) SelectAndExecute(ctx context.Context, message string, maxTools int) Run {
	ctx = ensureRequestID(ctx)
	run := Run{RequestID: audit.RequestIDFromContext(ctx)}
	run.Selections = o.Select(ctx, message, maxTools)
	if len(run.Selections) == 0 {
		return run
	}
	run.Results = o.Execute(ctx, run.Selections, nil)
	return run
}

// ObserveExecution records stats, persisted usage and an audit line for one
// finished call.
func (o *Orchestrator) ObserveExecution(ctx context.Context, call executor.Call, result executor.Result) {
	key := call.Tool.Key()
	o.stats.RecordExecution(key.String(), call.Tool.Category, result.Duration, string(result.FailureKind))

	if result.Succeeded() && o.usage != nil {
		if err := o.usage.RecordUsage(context.WithoutCancel(ctx), key, call.Intent); err != nil {
			slog.Warn("failed to persist tool usage", "server", key.ServerURL, "tool", key.Name, "error", err)
		}
	}

	event := audit.Event{
		Type:        audit.TypeExecution,
		RequestID:   audit.RequestIDFromContext(ctx),
		Server:      key.ServerURL,
		Tool:        key.Name,
		Intent:      call.Intent,
		Outcome:     string(result.Outcome),
		FailureKind: string(result.FailureKind),
		Attempts:    result.Attempts,
		DurationMs:  result.Duration.Milliseconds(),
	}
	if !result.Succeeded() {
		event.Error = result.Message
	}
	if err := o.audit.Append(event); err != nil {
		slog.Warn("failed to write audit event", "error", err)
	}
}

func (o *Orchestrator) auditSelection(ctx context.Context, results []selector.Result) {
	requestID := audit.RequestIDFromContext(ctx)
	if len(results) == 0 {
		if err := o.audit.Append(audit.Event{
			Type:      audit.TypeSelection,
			RequestID: requestID,
			Mode:      string(o.mode),
			Outcome:   "empty",
		}); err != nil {
			slog.Warn("failed to write audit event", "error", err)
		}
		return
	}
	for _, r := range results {
		if err := o.audit.Append(audit.Event{
			Type:       audit.TypeSelection,
			RequestID:  requestID,
			Server:     r.Tool.ServerURL,
			Tool:       r.Tool.Name,
			Intent:     string(r.Intent),
			Mode:       string(r.Mode),
			Confidence: r.Confidence,
		}); err != nil {
			slog.Warn("failed to write audit event", "error", err)
			return
		}
	}
}

// EinoTools exposes the tools of healthy servers as eino tools. Names
// published by more than one server are qualified with the server name.
// Calls go through the executor, so retries and stats apply.
func (o *Orchestrator) EinoTools() []tool.InvokableTool {
	available := o.AvailableTools()
	counts := make(map[string]int, len(available))
	for _, t := range available {
		counts[t.Name]++
	}

	out := make([]tool.InvokableTool, 0, len(available))
	for _, t := range available {
		exposed := t.Name
		if counts[t.Name] > 1 {
			exposed = fmt.Sprintf("%s__%s", o.ServerName(t.ServerURL), t.Name)
		}
		def := mcp.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Category:    t.Category,
			Parameters:  t.ParameterSchema,
		}
		out = append(out, mcp.NewEinoTool(t.ServerURL, def, exposed, nil, o.invoke))
	}
	return out
}

func (o *Orchestrator) invoke(ctx context.Context, serverURL, toolName string, params map[string]any) (any, error) {
	desc, ok := o.registry.Get(catalog.ToolKey{ServerURL: serverURL, Name: toolName})
	if !ok {
		return nil, fmt.Errorf("tool %s is not available on %s", toolName, serverURL)
	}
	result := o.executor.Execute(ensureRequestID(ctx), []executor.Call{{Tool: desc, Parameters: params}})[0]
	if !result.Succeeded() {
		return nil, &mcp.CallError{Kind: result.FailureKind, Err: fmt.Errorf("%s", result.Message)}
	}
	return result.Value, nil
}
