package mcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// FailureKind classifies why a tool-server call failed.
type FailureKind string

const (
	KindTimeout           FailureKind = "timeout"
	KindNetwork           FailureKind = "network"
	KindServerError       FailureKind = "server_error"
	KindInvalidResponse   FailureKind = "invalid_response"
	KindInvalidParameters FailureKind = "invalid_parameters"
)

// CallError is returned by Client implementations for every failed call.
type CallError struct {
	Kind       FailureKind
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func newCallError(kind FailureKind, retryable bool, err error) *CallError {
	return &CallError{Kind: kind, Retryable: retryable, Err: err}
}

// InvalidParameters builds a permanent invalid_parameters failure.
func InvalidParameters(format string, args ...any) error {
	return newCallError(KindInvalidParameters, false, fmt.Errorf(format, args...))
}

// Classify maps an error to its failure kind and whether a retry may help.
func Classify(err error) (FailureKind, bool) {
	if err == nil {
		return "", false
	}

	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Kind, callErr.Retryable
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout, true
	}
	if errors.Is(err, context.Canceled) {
		return KindTimeout, false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout, true
	}

	lowered := strings.ToLower(err.Error())
	if strings.Contains(lowered, "timeout") || strings.Contains(lowered, "timed out") {
		return KindTimeout, true
	}
	return KindNetwork, true
}

func transportError(ctx context.Context, err error) *CallError {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return newCallError(KindTimeout, errors.Is(ctxErr, context.DeadlineExceeded), err)
	}
	kind, retryable := Classify(err)
	if kind == KindTimeout {
		return newCallError(KindTimeout, retryable, err)
	}
	return newCallError(KindNetwork, true, err)
}
