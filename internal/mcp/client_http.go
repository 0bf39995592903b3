package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const maxErrorBodyBytes = 2048

// HTTPClient talks to tool servers over plain HTTP+JSON.
// Timeouts come from the caller's context; the underlying http.Client has none.
type HTTPClient struct {
	httpClient *http.Client
	headers    map[string]map[string]string
}

// NewHTTPClient builds a client. headers maps a server base URL to static request headers.
func NewHTTPClient(httpClient *http.Client, headers map[string]map[string]string) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	cloned := make(map[string]map[string]string, len(headers))
	for server, values := range headers {
		cloned[normalizeBaseURL(server)] = cloneHeaders(values)
	}
	return &HTTPClient{
		httpClient: httpClient,
		headers:    cloned,
	}
}

func (c *HTTPClient) ListTools(ctx context.Context, serverURL string) ([]ToolDefinition, error) {
	payload, err := c.do(ctx, http.MethodGet, serverURL, toolsPath, nil)
	if err != nil {
		return nil, err
	}
	defs, err := decodeToolDefinitions(payload)
	if err != nil {
		return nil, newCallError(KindInvalidResponse, false, err)
	}
	return defs, nil
}

func (c *HTTPClient) ToolSchema(ctx context.Context, serverURL, toolName string) (map[string]any, error) {
	path := fmt.Sprintf(schemaPathFormat, url.PathEscape(strings.TrimSpace(toolName)))
	payload, err := c.do(ctx, http.MethodGet, serverURL, path, nil)
	if err != nil {
		return nil, err
	}
	schema, err := decodeSchema(payload)
	if err != nil {
		return nil, newCallError(KindInvalidResponse, false, err)
	}
	return schema, nil
}

func (c *HTTPClient) CallTool(ctx context.Context, serverURL, toolName string, params map[string]any) (any, error) {
	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, InvalidParameters("encode tool parameters: %v", err)
	}

	path := fmt.Sprintf(executePathFormat, url.PathEscape(strings.TrimSpace(toolName)))
	payload, err := c.do(ctx, http.MethodPost, serverURL, path, body)
	if err != nil {
		return nil, err
	}
	return decodeCallResult(payload)
}

// Ping is the liveness probe. It reuses the list endpoint since the contract has no health route.
func (c *HTTPClient) Ping(ctx context.Context, serverURL string) error {
	_, err := c.do(ctx, http.MethodGet, serverURL, toolsPath, nil)
	return err
}

func (c *HTTPClient) do(ctx context.Context, method, serverURL, path string, body []byte) ([]byte, error) {
	base := normalizeBaseURL(serverURL)
	if base == "" {
		return nil, newCallError(KindNetwork, false, fmt.Errorf("server url is required"))
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return nil, newCallError(KindNetwork, false, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	applyHeaders(req.Header, c.headers[base])

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		msg := extractErrorMessage(raw)
		if msg == "" {
			msg = resp.Status
		}
		return nil, &CallError{
			Kind:       KindServerError,
			StatusCode: resp.StatusCode,
			Retryable:  shouldRetryHTTPStatus(resp.StatusCode),
			Err:        fmt.Errorf("%s %s failed: %s", method, path, msg),
		}
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, fmt.Errorf("read response: %w", err))
	}
	return payload, nil
}

func shouldRetryHTTPStatus(statusCode int) bool {
	if statusCode == http.StatusRequestTimeout || statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode >= 500 && statusCode <= 599
}

func normalizeBaseURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

func applyHeaders(dst http.Header, src map[string]string) {
	for key, value := range src {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		dst.Set(trimmedKey, value)
	}
}

func cloneHeaders(src map[string]string) map[string]string {
	if len(src) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(src))
	for key, value := range src {
		trimmed := strings.TrimSpace(key)
		if trimmed == "" {
			continue
		}
		out[trimmed] = value
	}
	return out
}
