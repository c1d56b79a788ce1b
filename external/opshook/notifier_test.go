package opshook

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/touchlinehq/touchline/internal/platform/logging"
	"github.com/touchlinehq/touchline/internal/platform/resilience"
)

func TestNotifier_Notify_PostsRunSummary(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	requestCount := 0
	var lastMethod, lastAuth, lastEvent, lastDelivery, lastContentType, lastBody string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		requestCount++
		lastMethod = r.Method
		lastAuth = r.Header.Get("Authorization")
		lastEvent = r.Header.Get("X-Touchline-Event")
		lastDelivery = r.Header.Get("X-Touchline-Delivery")
		lastContentType = r.Header.Get("Content-Type")
		lastBody = string(raw)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewNotifier(NotifierConfig{
		WebhookURL: server.URL + "/hooks/pipeline",
		Token:      "hook-secret",
		Timeout:    2 * time.Second,
	}, logging.NewNop())

	payload := struct {
		Job      string `json:"job"`
		Status   string `json:"status"`
		Promoted int    `json:"promoted"`
	}{Job: "nightly_promote", Status: "succeeded", Promoted: 124}

	if err := notifier.Notify(context.Background(), "pipeline.run", "run-20260301-7f3a", payload); err != nil {
		t.Fatalf("notify: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if requestCount != 1 {
		t.Fatalf("expected 1 webhook request, got %d", requestCount)
	}
	if lastMethod != http.MethodPost {
		t.Fatalf("unexpected method: %q", lastMethod)
	}
	if lastAuth != "Bearer hook-secret" {
		t.Fatalf("unexpected authorization header: %q", lastAuth)
	}
	if lastEvent != "pipeline.run" {
		t.Fatalf("unexpected event header: %q", lastEvent)
	}
	if lastDelivery != "run-20260301-7f3a" {
		t.Fatalf("unexpected delivery header: %q", lastDelivery)
	}
	if lastContentType != "application/json" {
		t.Fatalf("unexpected content type: %q", lastContentType)
	}
	want := `{"job":"nightly_promote","status":"succeeded","promoted":124}`
	if lastBody != want {
		t.Fatalf("unexpected body: %s", lastBody)
	}
}

func TestNotifier_Notify_TreatsClientErrorAsPermanent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("unknown event"))
	}))
	defer server.Close()

	notifier := NewNotifier(NotifierConfig{WebhookURL: server.URL}, logging.NewNop())

	err := notifier.Notify(context.Background(), "pipeline.run", "", map[string]any{})
	if err == nil {
		t.Fatalf("expected error for 400 response")
	}
	if stderrors.Is(err, errOpsHookTransient) {
		t.Fatalf("a 4xx rejection must not count as transient: %v", err)
	}
	if !strings.Contains(err.Error(), "status=400") {
		t.Fatalf("expected status in error, got: %v", err)
	}
}

func TestNotifier_Notify_OpensBreakerAfterServerErrors(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	requestCount := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		requestCount++
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	notifier := NewNotifier(NotifierConfig{
		WebhookURL: server.URL,
		CircuitBreaker: resilience.CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 2,
			OpenTimeout:      time.Minute,
			HalfOpenMaxReq:   1,
		},
	}, logging.NewNop())

	for i := 0; i < 2; i++ {
		err := notifier.Notify(context.Background(), "pipeline.run", "", nil)
		if err == nil {
			t.Fatalf("expected error for 503 response on attempt %d", i+1)
		}
		if !stderrors.Is(err, errOpsHookTransient) {
			t.Fatalf("a 5xx response must count as transient: %v", err)
		}
	}

	err := notifier.Notify(context.Background(), "pipeline.run", "", nil)
	if err == nil || !strings.Contains(err.Error(), "temporarily unavailable") {
		t.Fatalf("expected breaker rejection after repeated failures, got: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if requestCount != 2 {
		t.Fatalf("breaker should stop the third request, server saw %d", requestCount)
	}
}

func TestNotifier_Notify_RejectsMissingURL(t *testing.T) {
	t.Parallel()

	notifier := NewNotifier(NotifierConfig{}, logging.NewNop())

	err := notifier.Notify(context.Background(), "pipeline.run", "", nil)
	if err == nil {
		t.Fatalf("expected error when webhook url is unset")
	}
	if !strings.Contains(err.Error(), "OPS_WEBHOOK_URL") {
		t.Fatalf("error should name the missing setting, got: %v", err)
	}
}

func TestRedactWebhookURL_HidesPathSecret(t *testing.T) {
	t.Parallel()

	got := redactWebhookURL("https://hooks.example.com/services/T024/B911/s3cr3t")
	if got != "https://hooks.example.com/***" {
		t.Fatalf("unexpected redaction: %q", got)
	}
	if strings.Contains(got, "s3cr3t") {
		t.Fatalf("secret leaked: %q", got)
	}

	if got := redactWebhookURL("https://hooks.example.com"); got != "https://hooks.example.com" {
		t.Fatalf("bare host should pass through, got %q", got)
	}
}

func TestBuildWebhookCurlPreview_MasksCredentials(t *testing.T) {
	t.Parallel()

	preview := buildWebhookCurlPreview(
		"https://hooks.example.com/***",
		"pipeline.run",
		"run-42",
		`{"status":"ok"}`,
		true,
	)

	if !strings.HasPrefix(preview, "curl -X POST") {
		t.Fatalf("unexpected preview start: %q", preview)
	}
	for _, part := range []string{
		"'Authorization: Bearer ***'",
		"'X-Touchline-Event: pipeline.run'",
		"'X-Touchline-Delivery: run-42'",
		`'{"status":"ok"}'`,
	} {
		if !strings.Contains(preview, part) {
			t.Fatalf("preview missing %q: %s", part, preview)
		}
	}
}
