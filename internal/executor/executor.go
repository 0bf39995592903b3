// Package executor runs selected tools concurrently with bounded parallelism,
// per-attempt timeouts and retries.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/MEKXH/orchestra/internal/catalog"
	"github.com/MEKXH/orchestra/internal/mcp"
)

const (
	defaultExecutionTimeout = 15 * time.Second
	defaultRetryBackoff     = 500 * time.Millisecond
	defaultMaxBackoff       = 10 * time.Second
	defaultParallelLimit    = 10
)

// Outcome tags a result.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Call is one tool invocation request.
type Call struct {
	Tool       catalog.ToolDescriptor
	Parameters map[string]any
	// Intent attributes a success to a message intent for the usage prior.
	Intent string
}

// Result is the outcome of one call. Exactly one is produced per call.
type Result struct {
	ToolName    string          `json:"tool_name"`
	ServerURL   string          `json:"server_url"`
	Parameters  map[string]any  `json:"parameters,omitempty"`
	Outcome     Outcome         `json:"outcome"`
	Value       any             `json:"value,omitempty"`
	FailureKind mcp.FailureKind `json:"failure_kind,omitempty"`
	Message     string          `json:"message,omitempty"`
	Attempts    int             `json:"attempts"`
	Duration    time.Duration   `json:"duration"`
}

// Succeeded reports whether the call produced a value.
func (r Result) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// Retries returns how many attempts followed the first one.
func (r Result) Retries() int {
	if r.Attempts <= 1 {
		return 0
	}
	return r.Attempts - 1
}

// Text renders the value the way a chat model expects it.
func (r Result) Text() string {
	if !r.Succeeded() {
		return fmt.Sprintf("Error: %s: %s", r.FailureKind, r.Message)
	}
	return mcp.NormalizeToolResult(r.Value)
}

// SchemaSource supplies authoritative parameter schemas.
type SchemaSource interface {
	GetSchema(ctx context.Context, serverURL, toolName string) (map[string]any, error)
}

// UsageCounter is bumped once per successful call.
type UsageCounter interface {
	IncrementUsage(key catalog.ToolKey) (int64, bool)
}

// Observer sees every finished call. It is invoked concurrently.
type Observer interface {
	ObserveExecution(ctx context.Context, call Call, result Result)
}

// Config controls timeouts, retries and parallelism.
type Config struct {
	ExecutionTimeout time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration
	MaxBackoff       time.Duration
	ParallelLimit    int
}

// Option customizes an Executor.
type Option func(*Executor)

// WithSchemas checks required parameters against src before dispatch.
func WithSchemas(src SchemaSource) Option {
	return func(e *Executor) { e.schemas = src }
}

// WithUsage increments usage counts on success.
func WithUsage(counter UsageCounter) Option {
	return func(e *Executor) { e.usage = counter }
}

// WithObserver reports every result to obs.
func WithObserver(obs Observer) Option {
	return func(e *Executor) { e.observer = obs }
}

// Executor dispatches tool calls.
type Executor struct {
	client   mcp.Client
	cfg      Config
	schemas  SchemaSource
	usage    UsageCounter
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates an executor.
func New(client mcp.Client, cfg Config, opts ...Option) *Executor {
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = defaultExecutionTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.ParallelLimit <= 0 {
		cfg.ParallelLimit = defaultParallelLimit
	}
	e := &Executor{
		client: client,
		cfg:    cfg,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs every call with at most ParallelLimit in flight and returns
// one result per call, in call order. A failing call never cancels the others;
// once ctx is done no further retries start.
func (e *Executor) Execute(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))
	if len(calls) == 0 {
		return results
	}

	p := pool.New().WithMaxGoroutines(e.cfg.ParallelLimit)
	for i, call := range calls {
		p.Go(func() {
			results[i] = e.run(ctx, call)
			if e.observer != nil {
				e.observer.ObserveExecution(ctx, call, results[i])
			}
		})
	}
	p.Wait()
	return results
}

func (e *Executor) run(ctx context.Context, call Call) Result {
	start := time.Now()
	result := Result{
		ToolName:   call.Tool.Name,
		ServerURL:  call.Tool.ServerURL,
		Parameters: call.Parameters,
	}
	fail := func(kind mcp.FailureKind, err error) Result {
		result.Outcome = OutcomeFailure
		result.FailureKind = kind
		result.Message = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	if err := e.checkRequired(ctx, call); err != nil {
		return fail(mcp.KindInvalidParameters, err)
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fail(mcp.KindTimeout, fmt.Errorf("request ended before attempt %d: %w", attempt+1, err))
		}

		result.Attempts++
		value, err := e.attempt(ctx, call)
		if err == nil {
			result.Outcome = OutcomeSuccess
			result.Value = value
			result.Duration = time.Since(start)
			if e.usage != nil {
				e.usage.IncrementUsage(call.Tool.Key())
			}
			return result
		}

		kind, retryable := mcp.Classify(err)
		if ctx.Err() != nil {
			return fail(mcp.KindTimeout, err)
		}
		if !retryable || attempt >= e.cfg.MaxRetries {
			return fail(kind, err)
		}

		backoff := e.backoff(attempt)
		slog.Debug("retrying tool call",
			"server", call.Tool.ServerURL,
			"tool", call.Tool.Name,
			"attempt", attempt+1,
			"kind", string(kind),
			"backoff", backoff.String(),
			"error", err,
		)
		if err := e.sleep(ctx, backoff); err != nil {
			return fail(mcp.KindTimeout, fmt.Errorf("request ended during retry backoff: %w", err))
		}
	}
}

func (e *Executor) attempt(ctx context.Context, call Call) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
	defer cancel()
	return e.client.CallTool(callCtx, call.Tool.ServerURL, call.Tool.Name, call.Parameters)
}

// backoff doubles from RetryBackoff per attempt, capped at MaxBackoff.
func (e *Executor) backoff(attempt int) time.Duration {
	d := e.cfg.RetryBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= e.cfg.MaxBackoff {
			return e.cfg.MaxBackoff
		}
	}
	return min(d, e.cfg.MaxBackoff)
}

func (e *Executor) checkRequired(ctx context.Context, call Call) error {
	schema := call.Tool.ParameterSchema
	if e.schemas != nil {
		lookupCtx := ctx
		if e.cfg.ExecutionTimeout > 0 {
			var cancel context.CancelFunc
			lookupCtx, cancel = context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
			defer cancel()
		}
		fetched, err := e.schemas.GetSchema(lookupCtx, call.Tool.ServerURL, call.Tool.Name)
		if err != nil {
			slog.Debug("schema lookup failed, using discovered schema",
				"server", call.Tool.ServerURL, "tool", call.Tool.Name, "error", err)
		} else if fetched != nil {
			schema = fetched
		}
	}

	var missing []string
	for _, name := range mcp.SchemaRequired(schema) {
		if v, ok := call.Parameters[name]; !ok || v == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return mcp.InvalidParameters("missing required parameters: %v", missing)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
