package executor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MEKXH/orchestra/internal/catalog"
	"github.com/MEKXH/orchestra/internal/mcp"
	"github.com/MEKXH/orchestra/internal/mcp/mcptest"
)

type scriptedClient struct {
	mu       sync.Mutex
	failures map[string][]error
	calls    map[string]int
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{failures: map[string][]error{}, calls: map[string]int{}}
}

func (c *scriptedClient) ListTools(context.Context, string) ([]mcp.ToolDefinition, error) {
	return nil, nil
}

func (c *scriptedClient) ToolSchema(context.Context, string, string) (map[string]any, error) {
	return nil, nil
}

func (c *scriptedClient) Ping(context.Context, string) error { return nil }

func (c *scriptedClient) CallTool(ctx context.Context, serverURL, toolName string, params map[string]any) (any, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		peak := c.peak.Load()
		if n <= peak || c.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	c.mu.Lock()
	attempt := c.calls[toolName]
	c.calls[toolName]++
	var err error
	if script := c.failures[toolName]; attempt < len(script) {
		err = script[attempt]
	}
	c.mu.Unlock()

	if c.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, &mcp.CallError{Kind: mcp.KindTimeout, Retryable: true, Err: ctx.Err()}
		case <-time.After(c.delay):
		}
	}
	if err != nil {
		return nil, err
	}
	return toolName + " ok", nil
}

func (c *scriptedClient) callCount(tool string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[tool]
}

type countingUsage struct {
	mu     sync.Mutex
	counts map[catalog.ToolKey]int64
}

func (u *countingUsage) IncrementUsage(key catalog.ToolKey) (int64, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.counts == nil {
		u.counts = map[catalog.ToolKey]int64{}
	}
	u.counts[key]++
	return u.counts[key], true
}

func transient() error {
	return &mcp.CallError{Kind: mcp.KindServerError, StatusCode: http.StatusBadGateway, Retryable: true, Err: errors.New("bad gateway")}
}

func call(name string) Call {
	return Call{Tool: catalog.ToolDescriptor{ServerURL: "http://tools", Name: name}}
}

func noSleep(e *Executor) {
	e.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
}

func TestExecute_RetriesTransientFailuresThenSucceeds(t *testing.T) {
	client := newScriptedClient()
	client.failures["flaky"] = []error{transient(), transient()}
	usage := &countingUsage{}
	exec := New(client, Config{MaxRetries: 2}, WithUsage(usage))
	noSleep(exec)

	results := exec.Execute(context.Background(), []Call{call("flaky")})

	if len(results) != 1 || !results[0].Succeeded() {
		t.Fatalf("expected success, got %+v", results)
	}
	if results[0].Retries() != 2 || client.callCount("flaky") != 3 {
		t.Fatalf("expected exactly two retries, got attempts=%d calls=%d", results[0].Attempts, client.callCount("flaky"))
	}
	if results[0].Text() != "flaky ok" {
		t.Fatalf("unexpected value %q", results[0].Text())
	}
	if got := usage.counts[catalog.ToolKey{ServerURL: "http://tools", Name: "flaky"}]; got != 1 {
		t.Fatalf("expected usage incremented once, got %d", got)
	}
}

func TestExecute_GivesUpAfterMaxRetries(t *testing.T) {
	client := newScriptedClient()
	client.failures["down"] = []error{transient(), transient(), transient()}
	usage := &countingUsage{}
	exec := New(client, Config{MaxRetries: 2}, WithUsage(usage))
	noSleep(exec)

	r := exec.Execute(context.Background(), []Call{call("down")})[0]
	if r.Succeeded() || r.FailureKind != mcp.KindServerError || r.Attempts != 3 {
		t.Fatalf("expected server_error after 3 attempts, got %+v", r)
	}
	if len(usage.counts) != 0 {
		t.Fatalf("expected no usage on failure, got %v", usage.counts)
	}
}

func TestExecute_PermanentFailuresAreNotRetried(t *testing.T) {
	client := newScriptedClient()
	client.failures["bad"] = []error{&mcp.CallError{Kind: mcp.KindInvalidResponse, Err: errors.New("not json")}}
	exec := New(client, Config{MaxRetries: 3})
	noSleep(exec)

	r := exec.Execute(context.Background(), []Call{call("bad")})[0]
	if r.FailureKind != mcp.KindInvalidResponse || r.Attempts != 1 {
		t.Fatalf("expected single invalid_response attempt, got %+v", r)
	}
}

func TestExecute_OneFailureDoesNotBlockOthers(t *testing.T) {
	client := newScriptedClient()
	client.failures["broken"] = []error{&mcp.CallError{Kind: mcp.KindServerError, Err: errors.New("boom")}}
	exec := New(client, Config{MaxRetries: 1, ParallelLimit: 2})
	noSleep(exec)

	calls := []Call{call("a"), call("broken"), call("b"), call("c")}
	results := exec.Execute(context.Background(), calls)

	if len(results) != len(calls) {
		t.Fatalf("expected %d results, got %d", len(calls), len(results))
	}
	for i, r := range results {
		if r.ToolName != calls[i].Tool.Name {
			t.Fatalf("result %d out of order: %s", i, r.ToolName)
		}
		if wantOK := r.ToolName != "broken"; r.Succeeded() != wantOK {
			t.Fatalf("unexpected outcome for %s: %+v", r.ToolName, r)
		}
	}
}

func TestExecute_RespectsParallelLimit(t *testing.T) {
	client := newScriptedClient()
	client.delay = 20 * time.Millisecond
	exec := New(client, Config{ParallelLimit: 3})

	calls := make([]Call, 10)
	for i := range calls {
		calls[i] = call("t" + string(rune('a'+i)))
	}
	results := exec.Execute(context.Background(), calls)

	if len(results) != 10 {
		t.Fatalf("expected 10 results, got %d", len(results))
	}
	if peak := client.peak.Load(); peak > 3 || peak < 2 {
		t.Fatalf("expected at most 3 concurrent calls, peak=%d", peak)
	}
}

func TestExecute_PerAttemptTimeoutIsRetried(t *testing.T) {
	client := newScriptedClient()
	client.delay = 200 * time.Millisecond
	exec := New(client, Config{ExecutionTimeout: 20 * time.Millisecond, MaxRetries: 1})
	noSleep(exec)

	r := exec.Execute(context.Background(), []Call{call("slow")})[0]
	if r.FailureKind != mcp.KindTimeout || r.Attempts != 2 {
		t.Fatalf("expected timeout after 2 attempts, got %+v", r)
	}
}

func TestExecute_ParentDeadlineStopsRetries(t *testing.T) {
	client := newScriptedClient()
	client.failures["flaky"] = []error{transient(), transient(), transient(), transient()}
	exec := New(client, Config{MaxRetries: 3, RetryBackoff: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	r := exec.Execute(ctx, []Call{call("flaky")})[0]

	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("retries continued past the caller deadline")
	}
	if r.FailureKind != mcp.KindTimeout || r.Attempts != 1 {
		t.Fatalf("expected timeout after the first attempt, got %+v", r)
	}

	done, cancelDone := context.WithCancel(context.Background())
	cancelDone()
	r = exec.Execute(done, []Call{call("never")})[0]
	if r.FailureKind != mcp.KindTimeout || r.Attempts != 0 || client.callCount("never") != 0 {
		t.Fatalf("expected no attempt once the request is over, got %+v", r)
	}
}

type staticSchemas map[string]map[string]any

func (s staticSchemas) GetSchema(_ context.Context, _, toolName string) (map[string]any, error) {
	schema, ok := s[toolName]
	if !ok {
		return nil, errors.New("no schema")
	}
	return schema, nil
}

func TestExecute_MissingRequiredParameters(t *testing.T) {
	client := newScriptedClient()
	schemas := staticSchemas{"calculator": {"type": "object", "required": []any{"expression"}}}
	exec := New(client, Config{}, WithSchemas(schemas))

	results := exec.Execute(context.Background(), []Call{
		call("calculator"),
		{Tool: catalog.ToolDescriptor{ServerURL: "http://tools", Name: "calculator"}, Parameters: map[string]any{"expression": "2+2"}},
		{Tool: catalog.ToolDescriptor{
			ServerURL:       "http://tools",
			Name:            "search",
			ParameterSchema: map[string]any{"required": []any{"query"}},
		}},
	})

	if results[0].FailureKind != mcp.KindInvalidParameters || results[0].Attempts != 0 {
		t.Fatalf("expected invalid_parameters without dispatch, got %+v", results[0])
	}
	if !results[1].Succeeded() {
		t.Fatalf("expected success with parameters, got %+v", results[1])
	}
	if results[2].FailureKind != mcp.KindInvalidParameters {
		t.Fatalf("expected discovered schema fallback to reject, got %+v", results[2])
	}
}

type stallingSchemas struct {
	sawDeadline atomic.Bool
}

func (s *stallingSchemas) GetSchema(ctx context.Context, _, _ string) (map[string]any, error) {
	if _, ok := ctx.Deadline(); ok {
		s.sawDeadline.Store(true)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestExecute_SchemaLookupBoundedByExecutionTimeout(t *testing.T) {
	client := newScriptedClient()
	schemas := &stallingSchemas{}
	exec := New(client, Config{ExecutionTimeout: 30 * time.Millisecond}, WithSchemas(schemas))

	start := time.Now()
	results := exec.Execute(context.Background(), []Call{{
		Tool: catalog.ToolDescriptor{
			ServerURL:       "http://tools",
			Name:            "search",
			ParameterSchema: map[string]any{"required": []any{"query"}},
		},
		Parameters: map[string]any{"query": "golang"},
	}})

	if !schemas.sawDeadline.Load() {
		t.Fatal("expected schema lookup to carry a deadline")
	}
	if !results[0].Succeeded() {
		t.Fatalf("expected discovered schema fallback to allow the call, got %+v", results[0])
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected stalled lookup cut short, took %s", elapsed)
	}
}

type recordingObserver struct {
	mu      sync.Mutex
	results []Result
}

func (o *recordingObserver) ObserveExecution(_ context.Context, _ Call, r Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, r)
}

func TestExecute_AgainstHTTPToolServer(t *testing.T) {
	var hits atomic.Int32
	server := mcptest.NewServer(t, mcptest.Tool{
		Name: "calculator",
		Handler: func(params map[string]any) (int, any) {
			if hits.Add(1) <= 2 {
				return http.StatusServiceUnavailable, map[string]any{"detail": "warming up"}
			}
			return http.StatusOK, map[string]any{"result": 4}
		},
	})
	obs := &recordingObserver{}
	exec := New(mcp.NewHTTPClient(nil, nil), Config{MaxRetries: 2, RetryBackoff: time.Millisecond}, WithObserver(obs))

	r := exec.Execute(context.Background(), []Call{{
		Tool:       catalog.ToolDescriptor{ServerURL: server.URL, Name: "calculator"},
		Parameters: map[string]any{"expression": "2+2"},
	}})[0]

	if !r.Succeeded() || r.Text() != "4" || r.Retries() != 2 {
		t.Fatalf("expected success after two retries, got %+v", r)
	}
	if server.Calls("calculator") != 3 {
		t.Fatalf("expected 3 execute requests, got %d", server.Calls("calculator"))
	}
	if len(obs.results) != 1 {
		t.Fatalf("expected observer called once, got %d", len(obs.results))
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	exec := New(newScriptedClient(), Config{RetryBackoff: 100 * time.Millisecond, MaxBackoff: 350 * time.Millisecond})
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 350 * time.Millisecond, 350 * time.Millisecond}
	for attempt, w := range want {
		if got := exec.backoff(attempt); got != w {
			t.Fatalf("backoff(%d) = %v, want %v", attempt, got, w)
		}
	}
}
