package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open audit file error: %v", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan audit file error: %v", err)
	}
	return lines
}

func TestWriter_AppendEvent(t *testing.T) {
	stateDir := t.TempDir()
	writer := NewWriter(stateDir)

	at := time.Date(2026, 2, 15, 8, 0, 0, 0, time.UTC)
	if err := writer.Append(Event{
		Time:       at,
		Type:       TypeSelection,
		RequestID:  "req-1",
		Tool:       "calculator",
		Intent:     "calculation",
		Mode:       "intelligent",
		Confidence: 0.45,
	}); err != nil {
		t.Fatalf("Append selection error: %v", err)
	}
	if err := writer.Append(Event{
		Type:        TypeExecution,
		RequestID:   "req-1",
		Server:      "http://localhost:8002",
		Tool:        "calculator",
		Outcome:     "failure",
		FailureKind: "timeout",
		Attempts:    3,
		DurationMs:  15000,
	}); err != nil {
		t.Fatalf("Append execution error: %v", err)
	}

	lines := readLines(t, filepath.Join(stateDir, "audit.jsonl"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 jsonl lines, got %d", len(lines))
	}

	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first line error: %v", err)
	}
	if !first.Time.Equal(at) || first.Type != TypeSelection || first.Confidence != 0.45 {
		t.Fatalf("unexpected first event %+v", first)
	}

	var second Event
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("unmarshal second line error: %v", err)
	}
	if second.Time.IsZero() {
		t.Fatal("expected zero time to be stamped")
	}
	if second.FailureKind != "timeout" || second.Attempts != 3 || second.Server != "http://localhost:8002" {
		t.Fatalf("unexpected second event %+v", second)
	}
}

func TestWriter_AppendEvent_MkdirAllFailure(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "state")
	if err := os.WriteFile(blocker, []byte("not-a-dir"), 0644); err != nil {
		t.Fatalf("WriteFile state blocker error: %v", err)
	}

	writer := NewWriter(filepath.Join(blocker, "nested"))
	if err := writer.Append(Event{Type: TypeExecution}); err == nil {
		t.Fatal("expected append error when state path is a file")
	}
}

func TestWriter_AppendEvent_Concurrent(t *testing.T) {
	stateDir := t.TempDir()
	writer := NewWriter(stateDir)

	const total = 20
	var wg sync.WaitGroup
	errCh := make(chan error, total)
	wg.Add(total)
	for i := 0; i < total; i++ {
		go func() {
			defer wg.Done()
			if err := writer.Append(Event{
				Type:      TypeExecution,
				RequestID: fmt.Sprintf("req-%d", i),
				Tool:      "echo",
				Outcome:   "success",
			}); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("append failed in concurrent path: %v", err)
	}

	if lines := readLines(t, writer.Path()); len(lines) != total {
		t.Fatalf("expected %d lines, got %d", total, len(lines))
	}
}

func TestRequestIDContext(t *testing.T) {
	id := NewRequestID()
	if id == "" {
		t.Fatal("expected non-empty request id")
	}
	ctx := WithRequestID(context.Background(), id)
	if got := RequestIDFromContext(ctx); got != id {
		t.Fatalf("expected %q, got %q", id, got)
	}
	if got := RequestIDFromContext(WithRequestID(context.Background(), "  ")); got != "" {
		t.Fatalf("expected blank id ignored, got %q", got)
	}
}
