package health

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
)

const (
	defaultInterval         = 30 * time.Second
	defaultProbeTimeout     = 3 * time.Second
	defaultFailureThreshold = 1
)

// Pinger checks whether one server answers.
type Pinger interface {
	Ping(ctx context.Context, serverURL string) error
}

// Config controls monitor behavior.
type Config struct {
	Interval         time.Duration
	ProbeTimeout     time.Duration
	FailureThreshold int
}

// ServerRecord is the last known liveness of one server.
type ServerRecord struct {
	URL                 string        `json:"url"`
	Healthy             bool          `json:"healthy"`
	LastChecked         time.Time     `json:"last_checked"`
	ResponseTime        time.Duration `json:"response_time"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastError           string        `json:"last_error,omitempty"`
}

// Monitor periodically probes every configured server.
type Monitor struct {
	cfg    Config
	pinger Pinger
	now    func() time.Time

	mu      sync.RWMutex
	records map[string]ServerRecord
	order   []string
	stopCh  chan struct{}
	stopped chan struct{}
	running bool
}

// NewMonitor creates a monitor. Servers start healthy and unchecked.
func NewMonitor(cfg Config, pinger Pinger, serverURLs []string) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	m := &Monitor{
		cfg:     cfg,
		pinger:  pinger,
		now:     time.Now,
		records: make(map[string]ServerRecord, len(serverURLs)),
	}
	for _, raw := range serverURLs {
		u := normalizeURL(raw)
		if u == "" {
			continue
		}
		if _, ok := m.records[u]; ok {
			continue
		}
		m.records[u] = ServerRecord{URL: u, Healthy: true}
		m.order = append(m.order, u)
	}
	return m
}

// IsRunning returns true when the probe loop is active.
func (m *Monitor) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Start runs one probe cycle immediately and then one every interval.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	if m.pinger == nil {
		return fmt.Errorf("health monitor has no pinger")
	}

	m.stopCh = make(chan struct{})
	m.stopped = make(chan struct{})
	m.running = true

	go m.loop(m.stopCh, m.stopped)
	slog.Info("health monitor started", "interval", m.cfg.Interval.String(), "servers", len(m.order))
	return nil
}

// Stop halts the probe loop and waits for an in-flight cycle to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	stopCh := m.stopCh
	stopped := m.stopped
	m.running = false
	m.stopCh = nil
	m.stopped = nil
	m.mu.Unlock()

	close(stopCh)
	<-stopped
	slog.Info("health monitor stopped")
}

func (m *Monitor) loop(stopCh <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stopCh
		cancel()
	}()

	m.runLogged(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.runLogged(ctx)
		}
	}
}

func (m *Monitor) runLogged(ctx context.Context) {
	if err := m.RunOnce(ctx); err != nil && ctx.Err() == nil {
		slog.Warn("health check cycle degraded", "error", err)
	}
}

// RunOnce probes every server concurrently, each bounded by the probe timeout.
// It returns an error when no server is healthy afterwards.
func (m *Monitor) RunOnce(ctx context.Context) error {
	servers := m.servers()
	if len(servers) == 0 {
		return nil
	}

	p := pool.New()
	for _, server := range servers {
		p.Go(func() {
			m.probe(ctx, server)
		})
	}
	p.Wait()

	if len(m.HealthyURLs()) == 0 {
		return fmt.Errorf("no healthy servers out of %d", len(servers))
	}
	return nil
}

func (m *Monitor) probe(ctx context.Context, server string) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	start := m.now()
	err := m.pinger.Ping(probeCtx, server)
	elapsed := m.now().Sub(start)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.ReportFailure(server, err)
		return
	}
	m.reportSuccess(server, elapsed)
}

func (m *Monitor) reportSuccess(server string, elapsed time.Duration) {
	m.mu.Lock()
	prev, ok := m.records[server]
	if !ok {
		m.mu.Unlock()
		return
	}
	m.records[server] = ServerRecord{
		URL:          server,
		Healthy:      true,
		LastChecked:  m.now(),
		ResponseTime: elapsed,
	}
	m.mu.Unlock()

	if !prev.Healthy {
		slog.Info("server recovered", "server", server, "response_time", elapsed.String())
	}
}

// ReportFailure records a failed contact with a server, from a probe or from discovery.
func (m *Monitor) ReportFailure(serverURL string, err error) {
	server := normalizeURL(serverURL)
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	m.mu.Lock()
	prev, ok := m.records[server]
	if !ok {
		m.mu.Unlock()
		return
	}
	next := ServerRecord{
		URL:                 server,
		Healthy:             prev.Healthy,
		LastChecked:         m.now(),
		ResponseTime:        prev.ResponseTime,
		ConsecutiveFailures: prev.ConsecutiveFailures + 1,
		LastError:           msg,
	}
	if next.ConsecutiveFailures >= m.cfg.FailureThreshold {
		next.Healthy = false
	}
	m.records[server] = next
	m.mu.Unlock()

	if prev.Healthy && !next.Healthy {
		slog.Warn("server marked unhealthy",
			"server", server,
			"consecutive_failures", next.ConsecutiveFailures,
			"error", msg,
		)
	}
}

// Snapshot returns a copy of every record in configuration order.
func (m *Monitor) Snapshot() []ServerRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServerRecord, 0, len(m.order))
	for _, u := range m.order {
		out = append(out, m.records[u])
	}
	return out
}

// Record returns the record of one server.
func (m *Monitor) Record(serverURL string) (ServerRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[normalizeURL(serverURL)]
	return rec, ok
}

// IsHealthy reports whether a configured server is currently healthy.
func (m *Monitor) IsHealthy(serverURL string) bool {
	rec, ok := m.Record(serverURL)
	return ok && rec.Healthy
}

// HealthyURLs returns the healthy servers in configuration order.
func (m *Monitor) HealthyURLs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.order))
	for _, u := range m.order {
		if m.records[u].Healthy {
			out = append(out, u)
		}
	}
	return out
}

func (m *Monitor) servers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

func normalizeURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}
