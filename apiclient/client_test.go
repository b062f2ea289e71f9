package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/casekit/outbound/auth"
	"github.com/casekit/outbound/resilience"
)

func newTestClient(t *testing.T, baseURL string, mutate func(*ClientConfig)) *Client {
	t.Helper()

	cfg := ClientConfig{
		BaseURL: baseURL,
		Timeout: 2 * time.Second,
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     100 * time.Millisecond,
			Multiplier:   2,
		},
		CircuitBreaker: resilience.CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			RecoveryTimeout:  time.Second,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	client, err := NewClient("test", cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestClient_SuccessfulRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"case_id":"C-100"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	result := client.Get(context.Background(), "/cases/C-100")

	if !result.IsSuccess() {
		t.Fatalf("expected success, got %s (err: %v)", result.Status, result.Err)
	}
	if result.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", result.Attempts)
	}
	if result.RequestID == "" {
		t.Error("expected a request ID")
	}
	if result.Response == nil || result.Response.StatusCode != 200 {
		t.Fatalf("expected a 200 response, got %+v", result.Response)
	}

	var payload struct {
		CaseID string `json:"case_id"`
	}
	if err := result.Response.Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.CaseID != "C-100" {
		t.Errorf("expected case_id C-100, got %q", payload.CaseID)
	}
}

func TestClient_RetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	var mu sync.Mutex
	var callTimes []time.Time

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		mu.Lock()
		callTimes = append(callTimes, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, func(cfg *ClientConfig) {
		cfg.Retry.InitialDelay = 30 * time.Millisecond
	})

	result := client.Get(context.Background(), "/flaky")

	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 transport calls, got %d", got)
	}
	if result.Status != StatusError {
		t.Errorf("expected error after exhausted retries, got %s", result.Status)
	}
	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Attempts)
	}
	if !IsHTTP(result.Err) {
		t.Errorf("expected an HTTP error cause, got %v", result.Err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(callTimes) == 3 {
		gap1 := callTimes[1].Sub(callTimes[0])
		gap2 := callTimes[2].Sub(callTimes[1])
		if gap1 < 25*time.Millisecond {
			t.Errorf("first backoff too short: %s", gap1)
		}
		if gap2 < gap1-5*time.Millisecond {
			t.Errorf("backoff decreased: %s then %s", gap1, gap2)
		}
	}
}

func TestClient_NoRetryOnNonRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	result := client.Get(context.Background(), "/bad")

	if calls.Load() != 1 {
		t.Errorf("expected 1 transport call, got %d", calls.Load())
	}
	if result.Status != StatusError {
		t.Errorf("expected error, got %s", result.Status)
	}
	if result.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", result.Attempts)
	}
}

func TestClient_UnauthorizedMapsToAuthenticationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	result := client.Get(context.Background(), "/secure")

	if result.Status != StatusAuthenticationError {
		t.Errorf("expected authentication_error, got %s", result.Status)
	}
	if result.Response == nil || result.Response.StatusCode != 401 {
		t.Error("expected the 401 response to be attached")
	}
}

func TestClient_TimeoutOnFinalAttempt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, func(cfg *ClientConfig) {
		cfg.Timeout = 40 * time.Millisecond
		cfg.Retry.MaxAttempts = 2
		cfg.Retry.InitialDelay = 5 * time.Millisecond
	})

	result := client.Get(context.Background(), "/slow")

	if result.Status != StatusTimeout {
		t.Errorf("expected timeout, got %s (err: %v)", result.Status, result.Err)
	}
	if result.Attempts != 2 {
		t.Errorf("expected timeouts to be retried, got %d attempts", result.Attempts)
	}
	if !IsTimeout(result.Err) {
		t.Errorf("expected a timeout cause, got %v", result.Err)
	}
}

func TestClient_PerRequestTimeoutOverride(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, func(cfg *ClientConfig) {
		cfg.Timeout = 5 * time.Second
		cfg.Retry.MaxAttempts = 1
	})

	result := client.Get(context.Background(), "/slow", WithTimeout(30*time.Millisecond))

	if result.Status != StatusTimeout {
		t.Errorf("expected timeout from per-request override, got %s", result.Status)
	}
}

func TestClient_ConnectionErrorIsRetried(t *testing.T) {
	// Nothing listens here; every attempt fails at connect time.
	client := newTestClient(t, "http://127.0.0.1:1", func(cfg *ClientConfig) {
		cfg.Retry.MaxAttempts = 2
		cfg.Retry.InitialDelay = 5 * time.Millisecond
	})

	result := client.Get(context.Background(), "/unreachable")

	if result.Status != StatusError {
		t.Errorf("expected error, got %s", result.Status)
	}
	if result.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", result.Attempts)
	}
	if !IsConnection(result.Err) {
		t.Errorf("expected a connection cause, got %v", result.Err)
	}
}

func TestClient_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, func(cfg *ClientConfig) {
		cfg.Retry.MaxAttempts = 1
		cfg.CircuitBreaker.FailureThreshold = 2
	})

	for i := 0; i < 2; i++ {
		if result := client.Get(context.Background(), "/down"); result.Status != StatusError {
			t.Fatalf("call %d: expected error, got %s", i+1, result.Status)
		}
	}

	before := calls.Load()
	result := client.Get(context.Background(), "/down")

	if result.Status != StatusCircuitOpen {
		t.Errorf("expected circuit_open, got %s", result.Status)
	}
	if result.Attempts != 0 {
		t.Errorf("expected 0 attempts for circuit_open, got %d", result.Attempts)
	}
	if calls.Load() != before {
		t.Error("expected no transport call while the circuit is open")
	}
	if !errors.Is(result.Err, resilience.ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen cause, got %v", result.Err)
	}
}

func TestClient_CircuitRecoversThroughProbe(t *testing.T) {
	var healthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, func(cfg *ClientConfig) {
		cfg.Retry.MaxAttempts = 1
		cfg.CircuitBreaker.FailureThreshold = 1
		cfg.CircuitBreaker.RecoveryTimeout = 50 * time.Millisecond
	})

	if result := client.Get(context.Background(), "/svc"); result.Status != StatusError {
		t.Fatalf("expected error, got %s", result.Status)
	}
	if result := client.Get(context.Background(), "/svc"); result.Status != StatusCircuitOpen {
		t.Fatalf("expected circuit_open, got %s", result.Status)
	}

	healthy.Store(true)
	time.Sleep(60 * time.Millisecond)

	if result := client.Get(context.Background(), "/svc"); !result.IsSuccess() {
		t.Fatalf("expected probe to succeed, got %s", result.Status)
	}
	if result := client.Get(context.Background(), "/svc"); !result.IsSuccess() {
		t.Errorf("expected circuit closed after probe, got %s", result.Status)
	}
}

func TestClient_RateLimitedAtWaitCeiling(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, func(cfg *ClientConfig) {
		cfg.RateLimit = &resilience.RateLimitConfig{
			Strategy:          resilience.StrategySlidingWindow,
			RequestsPerSecond: 1,
			MaxWait:           50 * time.Millisecond,
		}
	})

	if result := client.Get(context.Background(), "/first"); !result.IsSuccess() {
		t.Fatalf("expected first call admitted, got %s", result.Status)
	}

	result := client.Get(context.Background(), "/second")

	if result.Status != StatusRateLimited {
		t.Errorf("expected rate_limited, got %s", result.Status)
	}
	if calls.Load() != 1 {
		t.Errorf("expected no transport call for the limited request, got %d total", calls.Load())
	}
	if client.breaker.Failures() != 0 {
		t.Error("expected rate_limited not to count against the circuit breaker")
	}
}

func TestClient_HeaderPrecedence(t *testing.T) {
	var gotShared, gotStatic string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotShared = r.Header.Get("X-Shared")
		gotStatic = r.Header.Get("X-Static")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, func(cfg *ClientConfig) {
		cfg.Headers = map[string]string{"X-Static": "static", "X-Shared": "static"}
		cfg.Auth = auth.Config{
			Strategy:     auth.StrategyAPIKey,
			APIKey:       "from-auth",
			APIKeyHeader: "X-Shared",
		}
	})

	result := client.Get(context.Background(), "/", WithHeader("X-Shared", "from-request"))
	if !result.IsSuccess() {
		t.Fatalf("expected success, got %s", result.Status)
	}

	if gotStatic != "static" {
		t.Errorf("expected static header to survive, got %q", gotStatic)
	}
	if gotShared != "from-request" {
		t.Errorf("expected request header to win, got %q", gotShared)
	}
}

func TestClient_AuthFailureSkipsTransport(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, func(cfg *ClientConfig) {
		cfg.Auth = auth.Config{
			Strategy: auth.StrategyCustom,
			HeaderFunc: func() (map[string]string, error) {
				return nil, errors.New("vault unreachable")
			},
		}
	})

	result := client.Get(context.Background(), "/")

	if result.Status != StatusError {
		t.Errorf("expected error, got %s", result.Status)
	}
	if calls.Load() != 0 {
		t.Error("expected no transport call when auth headers fail")
	}
	if client.breaker.Failures() != 0 {
		t.Error("expected auth failure not to count against the circuit breaker")
	}
}

func TestClient_PostBodyAndQuery(t *testing.T) {
	type note struct {
		CaseID string `json:"case_id"`
		Text   string `json:"text"`
	}

	var gotContentType, gotQuery string
	var gotBody note
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotQuery = r.URL.Query().Get("notify")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	result := client.Post(context.Background(), "/notes",
		note{CaseID: "C-7", Text: "evidence received"},
		WithQuery("notify", "true"),
	)

	if !result.IsSuccess() {
		t.Fatalf("expected success, got %s", result.Status)
	}
	if gotContentType != "application/json" {
		t.Errorf("expected JSON content type, got %q", gotContentType)
	}
	if gotQuery != "true" {
		t.Errorf("expected query parameter, got %q", gotQuery)
	}
	if gotBody.CaseID != "C-7" || gotBody.Text != "evidence received" {
		t.Errorf("unexpected body: %+v", gotBody)
	}
}

func TestClient_VerbHelpers(t *testing.T) {
	var mu sync.Mutex
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method)
		mu.Unlock()
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	ctx := context.Background()

	client.Get(ctx, "/r")
	client.Post(ctx, "/r", nil)
	client.Put(ctx, "/r", nil)
	client.Patch(ctx, "/r", nil)
	client.Delete(ctx, "/r")

	want := []string{"GET", "POST", "PUT", "PATCH", "DELETE"}
	mu.Lock()
	defer mu.Unlock()
	if len(methods) != len(want) {
		t.Fatalf("expected %d calls, got %d", len(want), len(methods))
	}
	for i, m := range want {
		if methods[i] != m {
			t.Errorf("call %d: expected %s, got %s", i, m, methods[i])
		}
	}
}

func TestClient_StatsCountTerminalOutcomes(t *testing.T) {
	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	ctx := context.Background()

	client.Get(ctx, "/a")
	client.Get(ctx, "/b")
	fail.Store(true)
	client.Get(ctx, "/c")

	stats := client.Stats()
	if stats.Requests != 3 {
		t.Errorf("expected 3 requests, got %d", stats.Requests)
	}
	if stats.Successes != 2 {
		t.Errorf("expected 2 successes, got %d", stats.Successes)
	}
	if stats.Errors != 1 {
		t.Errorf("expected 1 error, got %d", stats.Errors)
	}
	if stats.CircuitState != "closed" {
		t.Errorf("expected closed circuit, got %s", stats.CircuitState)
	}
}

func TestClient_ConcurrentRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, func(cfg *ClientConfig) {
		cfg.RateLimit = &resilience.RateLimitConfig{
			Strategy:          resilience.StrategySlidingWindow,
			RequestsPerSecond: 1000,
		}
	})

	const n = 50
	var wg sync.WaitGroup
	var successes atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if client.Get(context.Background(), "/concurrent").IsSuccess() {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != n {
		t.Errorf("expected %d successes, got %d", n, successes.Load())
	}
	if stats := client.Stats(); stats.Requests != n {
		t.Errorf("expected %d recorded requests, got %d", n, stats.Requests)
	}
}

func TestClient_CallerCancellationStopsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, func(cfg *ClientConfig) {
		cfg.Retry.InitialDelay = 500 * time.Millisecond
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result := client.Get(ctx, "/flaky")

	if result.Status != StatusError {
		t.Errorf("expected error on cancellation, got %s", result.Status)
	}
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("expected cancellation to cut the backoff short, took %s", elapsed)
	}
}
