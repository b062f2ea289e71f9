package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func validConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL: baseURL,
		Timeout: 2 * time.Second,
	}
}

func TestManager_RegisterAndGet(t *testing.T) {
	m := NewManager()

	if err := m.Register("forensics", validConfig("https://forensics.internal")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	client, err := m.Get("forensics")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if client.Name() != "forensics" {
		t.Errorf("expected name forensics, got %q", client.Name())
	}
}

func TestManager_RegisterRejectsDuplicates(t *testing.T) {
	m := NewManager()

	if err := m.Register("svc", validConfig("https://a.example.com")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := m.Register("svc", validConfig("https://b.example.com"))
	if !errors.Is(err, ErrClientExists) {
		t.Errorf("expected ErrClientExists, got %v", err)
	}
}

func TestManager_RegisterValidates(t *testing.T) {
	m := NewManager()

	if err := m.Register("", validConfig("https://a.example.com")); err == nil {
		t.Error("expected an error for empty name")
	}
	if err := m.Register("svc", ClientConfig{}); err == nil {
		t.Error("expected an error for missing base_url")
	}
}

func TestManager_GetUnknownClient(t *testing.T) {
	m := NewManager()

	_, err := m.Get("missing")
	if !errors.Is(err, ErrClientNotFound) {
		t.Errorf("expected ErrClientNotFound, got %v", err)
	}
}

func TestManager_GetMemoizesOneInstancePerName(t *testing.T) {
	m := NewManager()
	if err := m.Register("svc", validConfig("https://svc.example.com")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	first, err := m.Get("svc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([]*Client, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = m.Get("svc")
		}(i)
	}
	wg.Wait()

	for i, client := range results {
		if client != first {
			t.Fatalf("Get %d returned a different instance", i)
		}
	}
}

func TestManager_SharedFailureBudgetAcrossGets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	m := NewManager()
	cfg := validConfig(server.URL)
	cfg.Retry = RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	cfg.CircuitBreaker.Enabled = true
	cfg.CircuitBreaker.FailureThreshold = 2
	cfg.CircuitBreaker.RecoveryTimeout = time.Minute
	if err := m.Register("svc", cfg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		client, err := m.Get("svc")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if result := client.Get(ctx, "/down"); result.Status != StatusError {
			t.Fatalf("expected error, got %s", result.Status)
		}
	}

	client, _ := m.Get("svc")
	if result := client.Get(ctx, "/down"); result.Status != StatusCircuitOpen {
		t.Errorf("expected failures to accumulate into one breaker, got %s", result.Status)
	}
}

func TestManager_TestClient(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	m := NewManager()
	if err := m.Register("svc", validConfig(server.URL)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	report := m.TestClient(context.Background(), "svc", "")

	if !report.Healthy {
		t.Errorf("expected healthy, got %+v", report)
	}
	if gotPath != "/health" {
		t.Errorf("expected default /health endpoint, got %q", gotPath)
	}
	if report.StatusCode != 200 {
		t.Errorf("expected status code 200, got %d", report.StatusCode)
	}
	if report.Latency <= 0 {
		t.Error("expected a measured latency")
	}
}

func TestManager_TestClientUnknownName(t *testing.T) {
	m := NewManager()

	report := m.TestClient(context.Background(), "ghost", "")
	if report.Healthy {
		t.Error("expected unhealthy report for unknown client")
	}
	if report.Err == "" {
		t.Error("expected the error to be described in the report")
	}
}

func TestManager_TestAll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	m := NewManager()
	for _, name := range []string{"beta", "alpha"} {
		if err := m.Register(name, validConfig(server.URL)); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}

	reports := m.TestAll(context.Background())
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	if reports[0].Client != "alpha" || reports[1].Client != "beta" {
		t.Errorf("expected reports in name order, got %s then %s", reports[0].Client, reports[1].Client)
	}
	for _, r := range reports {
		if !r.Healthy {
			t.Errorf("expected %s healthy, got %+v", r.Client, r)
		}
	}
}

func TestManager_AllStats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	m := NewManager()
	for _, name := range []string{"a", "b", "unused"} {
		if err := m.Register(name, validConfig(server.URL)); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}

	ctx := context.Background()
	for _, name := range []string{"a", "b"} {
		client, err := m.Get(name)
		if err != nil {
			t.Fatalf("Get %s: %v", name, err)
		}
		client.Get(ctx, "/")
	}

	stats := m.AllStats()
	if len(stats) != 2 {
		t.Fatalf("expected stats for the 2 built clients, got %d", len(stats))
	}
	for _, name := range []string{"a", "b"} {
		s, ok := stats[name]
		if !ok {
			t.Fatalf("missing stats for %s", name)
		}
		if s.Requests != 1 || s.Successes != 1 {
			t.Errorf("%s: unexpected counters %+v", name, s)
		}
	}
	if _, ok := stats["unused"]; ok {
		t.Error("expected no stats for a never-built client")
	}
}

func TestManager_Names(t *testing.T) {
	m := NewManager()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := m.Register(name, validConfig("https://x.example.com")); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}

	names := m.Names()
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("expected %d names, got %d", len(want), len(names))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("expected %s at %d, got %s", want[i], i, names[i])
		}
	}
}
