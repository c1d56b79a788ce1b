package opshook

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"github.com/valyala/bytebufferpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/touchlinehq/touchline/internal/platform/logging"
	"github.com/touchlinehq/touchline/internal/platform/resilience"
)

var errOpsHookTransient = crerr.New("ops webhook transient failure")

type NotifierConfig struct {
	WebhookURL     string
	Token          string
	Timeout        time.Duration
	CircuitBreaker resilience.CircuitBreakerConfig
}

// Notifier posts pipeline run summaries to an operator webhook. Hosted
// webhook providers put the secret in the URL path, so the full URL never
// reaches logs, spans, or error strings.
type Notifier struct {
	client         *http.Client
	webhookURL     string
	token          string
	logger         *logging.Logger
	breaker        *resilience.CircuitBreaker
	circuitEnabled bool
}

func NewNotifier(cfg NotifierConfig, logger *logging.Logger) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	breakerCfg := cfg.CircuitBreaker.Normalized()

	return &Notifier{
		client: &http.Client{
			Timeout: timeout,
		},
		webhookURL:     strings.TrimSpace(cfg.WebhookURL),
		token:          strings.TrimSpace(cfg.Token),
		logger:         logger,
		breaker:        resilience.NewCircuitBreaker(breakerCfg),
		circuitEnabled: breakerCfg.Enabled,
	}
}

func (n *Notifier) Notify(ctx context.Context, event string, deliveryID string, payload any) error {
	if n.circuitEnabled {
		if err := n.breaker.Allow(); err != nil {
			n.logger.WarnContext(ctx, "ops webhook circuit breaker rejected request", "state", n.breaker.State())
			return fmt.Errorf("ops webhook is temporarily unavailable: %w", err)
		}
	}

	event = strings.TrimSpace(event)
	if event == "" {
		return crerr.New("event name is required")
	}

	webhookURL, err := validateWebhookURL(n.webhookURL)
	if err != nil {
		return crerr.Wrap(err, "invalid OPS_WEBHOOK_URL")
	}

	bodyPayload := payload
	if bodyPayload == nil {
		bodyPayload = map[string]any{}
	}

	body, err := sonic.Marshal(bodyPayload)
	if err != nil {
		return crerr.Wrap(err, "marshal webhook payload")
	}
	bodyText := truncateForLog(string(body), 4096)
	redactedURL := redactWebhookURL(webhookURL)
	curlPreview := buildWebhookCurlPreview(redactedURL, event, deliveryID, bodyText, n.token != "")

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("opshook.webhook_url", redactedURL),
			attribute.String("opshook.event", event),
			attribute.String("opshook.request_body", bodyText),
			attribute.String("opshook.request_curl_preview", curlPreview),
		)
	}
	n.logger.InfoContext(ctx, "ops webhook request", "event", event, "delivery_id", deliveryID, "webhook_url", redactedURL, "curl_preview", curlPreview)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, strings.NewReader(string(body)))
	if err != nil {
		return crerr.Wrap(err, "create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Touchline-Event", event)
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}
	if strings.TrimSpace(deliveryID) != "" {
		req.Header.Set("X-Touchline-Delivery", strings.TrimSpace(deliveryID))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		// net/http embeds the request URL in its error strings.
		message := strings.ReplaceAll(err.Error(), webhookURL, redactedURL)
		callErr := fmt.Errorf("%w: post ops webhook event=%s url=%s: %s", errOpsHookTransient, event, redactedURL, message)
		n.recordCircuitResult(callErr)
		return callErr
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if isRetryableStatus(resp.StatusCode) {
			callErr := fmt.Errorf(
				"%w: post ops webhook status=%d event=%s url=%s body=%s",
				errOpsHookTransient,
				resp.StatusCode,
				event,
				redactedURL,
				strings.TrimSpace(string(raw)),
			)
			n.recordCircuitResult(callErr)
			return callErr
		}

		callErr := fmt.Errorf(
			"post ops webhook status=%d event=%s url=%s body=%s",
			resp.StatusCode,
			event,
			redactedURL,
			strings.TrimSpace(string(raw)),
		)
		n.recordCircuitResult(callErr)
		return callErr
	}

	n.logger.InfoContext(ctx, "ops webhook delivered", "event", event, "delivery_id", deliveryID)
	n.recordCircuitResult(nil)
	return nil
}

func validateWebhookURL(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", crerr.New("value is empty")
	}

	parsed, err := url.Parse(candidate)
	if err != nil {
		return "", crerr.Wrap(err, "parse webhook url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", crerr.Newf("unsupported scheme=%q; expected http or https", parsed.Scheme)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return "", crerr.New("webhook url has empty host")
	}

	return strings.TrimRight(candidate, "/"), nil
}

func redactWebhookURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if parsed.Path == "" || parsed.Path == "/" {
		return parsed.Scheme + "://" + parsed.Host
	}
	return parsed.Scheme + "://" + parsed.Host + "/***"
}

func buildWebhookCurlPreview(
	webhookURL string,
	event string,
	deliveryID string,
	body string,
	withToken bool,
) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	appendPart := func(part string) {
		if buf.Len() > 0 {
			_ = buf.WriteByte(' ')
		}
		_, _ = buf.WriteString(part)
	}
	appendFlagHeader := func(value string) {
		appendPart("-H")
		appendPart(shellQuote(value))
	}

	appendPart("curl")
	appendPart("-X")
	appendPart("POST")
	appendPart(shellQuote(webhookURL))
	if withToken {
		appendFlagHeader("Authorization: Bearer ***")
	}
	appendFlagHeader("Content-Type: application/json")
	appendFlagHeader("X-Touchline-Event: " + event)
	if strings.TrimSpace(deliveryID) != "" {
		appendFlagHeader("X-Touchline-Delivery: " + strings.TrimSpace(deliveryID))
	}
	appendPart("-d")
	appendPart(shellQuote(body))

	return buf.String()
}

func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "'\"'\"'") + "'"
}

func truncateForLog(value string, max int) string {
	if max <= 0 || len(value) <= max {
		return value
	}
	return value[:max] + "...(truncated)"
}

func (n *Notifier) recordCircuitResult(err error) {
	if !n.circuitEnabled || n.breaker == nil {
		return
	}
	if err == nil {
		n.breaker.RecordSuccess()
		return
	}
	if stderrors.Is(err, errOpsHookTransient) {
		n.breaker.RecordFailure()
		return
	}
	n.breaker.RecordSuccess()
}

func isRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusRequestTimeout ||
		statusCode == http.StatusTooManyRequests ||
		statusCode >= http.StatusInternalServerError
}
