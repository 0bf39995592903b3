// Package mcptest runs in-process tool servers speaking the list/schema/execute contract.
package mcptest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// HandlerFunc returns the HTTP status and JSON body for one execute call.
type HandlerFunc func(params map[string]any) (int, any)

// Tool is one tool served by Server.
type Tool struct {
	Name        string
	Description string
	Category    string
	Parameters  map[string]any
	Handler     HandlerFunc
}

// Server is an httptest server with call accounting.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	tools     map[string]Tool
	order     []string
	down      bool
	listCalls int
	calls     map[string]int
}

// NewServer starts a server and registers cleanup on t.
func NewServer(t testing.TB, tools ...Tool) *Server {
	t.Helper()

	s := &Server{
		tools: make(map[string]Tool, len(tools)),
		calls: make(map[string]int),
	}
	for _, tool := range tools {
		s.tools[tool.Name] = tool
		s.order = append(s.order, tool.Name)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /tools", s.handleList)
	mux.HandleFunc("GET /tools/{name}/schema", s.handleSchema)
	mux.HandleFunc("POST /tools/{name}/execute", s.handleExecute)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// SetDown makes every route answer 503 until reset.
func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// ListCalls returns how many times GET /tools was served.
func (s *Server) ListCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

// Calls returns how many execute requests a tool received.
func (s *Server) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *Server) isDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.down
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.isDown() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"detail": "unavailable"})
		return
	}

	s.mu.Lock()
	s.listCalls++
	items := make([]map[string]any, 0, len(s.order))
	for _, name := range s.order {
		tool := s.tools[name]
		item := map[string]any{
			"name":        tool.Name,
			"description": tool.Description,
			"parameters":  tool.Parameters,
		}
		if tool.Category != "" {
			item["category"] = tool.Category
		}
		items = append(items, item)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	if s.isDown() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"detail": "unavailable"})
		return
	}

	s.mu.Lock()
	tool, ok := s.tools[r.PathValue("name")]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Tool not found"})
		return
	}
	writeJSON(w, http.StatusOK, tool.Parameters)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if s.isDown() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"detail": "unavailable"})
		return
	}

	name := r.PathValue("name")
	s.mu.Lock()
	tool, ok := s.tools[name]
	s.calls[name]++
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"error": "unknown tool"})
		return
	}

	var params map[string]any
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": err.Error()})
		return
	}

	if tool.Handler == nil {
		writeJSON(w, http.StatusOK, map[string]any{"result": "ok"})
		return
	}
	status, body := tool.Handler(params)
	if raw, ok := body.(RawBody); ok {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(raw))
		return
	}
	writeJSON(w, status, body)
}

// RawBody is written verbatim instead of JSON-encoded.
type RawBody string

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
