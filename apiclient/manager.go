package apiclient

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/casekit/outbound/logger"
)

// HealthReport is the outcome of probing one client's dependency.
type HealthReport struct {
	Client     string        `json:"client"`
	Healthy    bool          `json:"healthy"`
	Status     RequestStatus `json:"status,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Latency    time.Duration `json:"latency"`
	Err        string        `json:"error,omitempty"`
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger handed to every built client.
func WithManagerLogger(log *logger.Logger) ManagerOption {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithManagerMetrics sets the metrics collector shared by every built
// client.
func WithManagerMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// Manager is the named registry of client configurations. It builds one
// Client per name lazily on first use and reuses it afterwards, so all
// calls against the same dependency draw on one throughput and failure
// budget. The manager is owned by its caller; there is no package-level
// instance.
type Manager struct {
	mu      sync.Mutex
	configs map[string]ClientConfig
	clients map[string]*Client
	log     *logger.Logger
	metrics *Metrics
}

// NewManager creates an empty client registry.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		configs: make(map[string]ClientConfig),
		clients: make(map[string]*Client),
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register stores a client configuration under a name. It performs no
// I/O and builds nothing. Registering an existing name fails with
// ErrClientExists.
func (m *Manager) Register(name string, cfg ClientConfig) error {
	if name == "" {
		return fmt.Errorf("apiclient: client name is required")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("apiclient: register %q: %w", name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.configs[name]; exists {
		return fmt.Errorf("%w: %q", ErrClientExists, name)
	}
	m.configs[name] = cfg

	m.log.Info("client registered", logger.Fields(logger.FieldClient, name))
	return nil
}

// Get returns the client for a registered name, building and memoizing
// it on first access. Subsequent calls return the same instance.
func (m *Manager) Get(name string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if client, ok := m.clients[name]; ok {
		return client, nil
	}

	cfg, ok := m.configs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrClientNotFound, name)
	}

	client, err := NewClient(name, cfg,
		WithLogger(m.log.WithComponent("apiclient."+name)),
		WithMetrics(m.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("apiclient: build client %q: %w", name, err)
	}
	m.clients[name] = client

	m.log.Info("client built", logger.Fields(logger.FieldClient, name))
	return client, nil
}

// TestClient performs one GET against the given endpoint ("/health"
// when empty) and reports the outcome. It never returns an error; an
// unknown name or failed probe is described in the report.
func (m *Manager) TestClient(ctx context.Context, name, endpoint string) HealthReport {
	if endpoint == "" {
		endpoint = "/health"
	}

	report := HealthReport{Client: name}

	client, err := m.Get(name)
	if err != nil {
		report.Err = err.Error()
		return report
	}

	result := client.Get(ctx, endpoint)
	report.Status = result.Status
	report.Latency = result.Elapsed
	report.Healthy = result.IsSuccess()
	if result.Response != nil {
		report.StatusCode = result.Response.StatusCode
	}
	if result.Err != nil {
		report.Err = result.Err.Error()
	}
	return report
}

// TestAll probes every registered client, in name order.
func (m *Manager) TestAll(ctx context.Context) []HealthReport {
	names := m.Names()
	reports := make([]HealthReport, 0, len(names))
	for _, name := range names {
		reports = append(reports, m.TestClient(ctx, name, ""))
	}
	return reports
}

// AllStats returns a snapshot of counters for every built client.
// Clients that were registered but never used do not appear. The
// snapshot is taken from atomic counters and does not block in-flight
// requests.
func (m *Manager) AllStats() map[string]Stats {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, client := range m.clients {
		clients = append(clients, client)
	}
	m.mu.Unlock()

	stats := make(map[string]Stats, len(clients))
	for _, client := range clients {
		stats[client.Name()] = client.Stats()
	}
	return stats
}

// Names returns all registered client names, sorted.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.configs))
	for name := range m.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases the idle transport connections of every built client.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, client := range m.clients {
		client.Close()
	}
}
