package fetch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/touchlinehq/touchline/internal/platform/logging"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxResponseBody       = 6 << 20
)

var (
	// ErrTransient marks failures worth retrying: timeouts, 5xx, DNS.
	ErrTransient = errors.New("transient fetch failure")
	// ErrRateLimited marks a 429 after cooldown handling gave up.
	ErrRateLimited = errors.New("source rate limited")
	// ErrRendererUnavailable is returned for headless sources when no
	// renderer was configured on the client.
	ErrRendererUnavailable = errors.New("page renderer unavailable")
)

// Renderer produces the final page body for sources that require a browser.
// Deployments inject an implementation; none ships in this repository.
type Renderer interface {
	Render(ctx context.Context, pageURL string) ([]byte, error)
}

type ClientConfig struct {
	RequestTimeout time.Duration
	MaxConnsPerURL int
	Renderer       Renderer
	Logger         *logging.Logger
}

// Client issues paced HTTP requests on behalf of one scrape run. Pacing and
// backoff state live in the RateController passed per request; the Client
// itself is safe for concurrent use across events.
type Client struct {
	http     *fasthttp.Client
	timeout  time.Duration
	renderer Renderer
	logger   *logging.Logger
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 || timeout > defaultRequestTimeout {
		timeout = defaultRequestTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	maxConns := cfg.MaxConnsPerURL
	if maxConns <= 0 {
		maxConns = 8
	}

	return &Client{
		http: &fasthttp.Client{
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxResponseBodySize: maxResponseBody,
			MaxConnsPerHost:     maxConns,
		},
		timeout:  timeout,
		renderer: cfg.Renderer,
		logger:   logger,
	}
}

type Request struct {
	URL        string
	UserAgents []string
	Headers    map[string]string
}

// Get fetches one URL honoring the controller's pacing, the per-source retry
// ladder, and the reactive backoff rules. The returned body is an owned copy.
func (c *Client) Get(ctx context.Context, ctl *RateController, req Request) ([]byte, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, fmt.Errorf("request url is required")
	}
	if ctl == nil {
		return nil, fmt.Errorf("rate controller is required")
	}

	limits := ctl.Limits()
	rateLimitSeen := false
	var lastErr error

	for attempt := 0; ; {
		if err := ctl.Wait(ctx); err != nil {
			return nil, err
		}

		body, status, err := c.do(req)
		switch {
		case err != nil:
			lastErr = fmt.Errorf("%w: send request url=%s: %v", ErrTransient, req.URL, err)

		case status == fasthttp.StatusTooManyRequests:
			cooldown := ctl.OnRateLimited()
			c.logger.WarnContext(ctx, "source rate limited, backing off",
				"url", req.URL,
				"backoff", ctl.Backoff(),
				"cooldown", cooldown,
			)
			if err := sleepCtx(ctx, cooldown); err != nil {
				return nil, err
			}
			// only the first 429 of a request consumes a retry
			if !rateLimitSeen {
				rateLimitSeen = true
				attempt++
			}
			lastErr = fmt.Errorf("%w: url=%s", ErrRateLimited, req.URL)
			continue

		case status >= 500 || status == fasthttp.StatusRequestTimeout:
			cooldown := ctl.OnServerError()
			lastErr = fmt.Errorf("%w: source status=%d url=%s", ErrTransient, status, req.URL)
			if err := sleepCtx(ctx, cooldown); err != nil {
				return nil, err
			}

		case status >= 200 && status < 300:
			ctl.OnSuccess()
			return body, nil

		default:
			return nil, fmt.Errorf("source status=%d url=%s body=%s", status, req.URL, abbreviateBody(body))
		}

		if attempt >= limits.MaxRetries {
			break
		}
		if err := sleepCtx(ctx, ladderDelay(limits.RetryLadder, attempt)); err != nil {
			return nil, err
		}
		attempt++
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%w: url=%s", ErrTransient, req.URL)
	}
	c.logger.WarnContext(ctx, "fetch failed after retries", "url", req.URL, "error", lastErr)
	return nil, lastErr
}

// Render fetches a page through the configured renderer, pacing through the
// same controller so browser traffic honors the source limits too.
func (c *Client) Render(ctx context.Context, ctl *RateController, pageURL string) ([]byte, error) {
	if c.renderer == nil {
		return nil, fmt.Errorf("%w: url=%s", ErrRendererUnavailable, pageURL)
	}
	if ctl != nil {
		if err := ctl.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := c.renderer.Render(ctx, pageURL)
	if err != nil {
		if ctl != nil {
			ctl.OnServerError()
		}
		return nil, fmt.Errorf("%w: render url=%s: %v", ErrTransient, pageURL, err)
	}
	if ctl != nil {
		ctl.OnSuccess()
	}
	return body, nil
}

func (c *Client) HasRenderer() bool {
	return c.renderer != nil
}

func (c *Client) do(req Request) ([]byte, int, error) {
	httpReq := fasthttp.AcquireRequest()
	httpResp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(httpReq)
	defer fasthttp.ReleaseResponse(httpResp)

	httpReq.SetRequestURI(req.URL)
	httpReq.Header.SetMethod(fasthttp.MethodGet)
	if ua := pickUserAgent(req.UserAgents); ua != "" {
		httpReq.Header.SetUserAgent(ua)
	}
	httpReq.Header.Set(fasthttp.HeaderAccept, "application/json, text/html;q=0.9, */*;q=0.8")
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	if err := c.http.DoTimeout(httpReq, httpResp, c.timeout); err != nil {
		return nil, 0, err
	}

	status := httpResp.StatusCode()
	body, err := httpResp.BodyUncompressed()
	if err != nil {
		return nil, status, fmt.Errorf("decode response body: %w", err)
	}

	// the response buffer is pooled; hand back an owned copy
	return append([]byte(nil), body...), status, nil
}

func pickUserAgent(agents []string) string {
	switch len(agents) {
	case 0:
		return ""
	case 1:
		return agents[0]
	default:
		return agents[rand.IntN(len(agents))]
	}
}

func ladderDelay(ladder []time.Duration, attempt int) time.Duration {
	if len(ladder) == 0 {
		return time.Duration(attempt+1) * time.Second
	}
	if attempt >= len(ladder) {
		return ladder[len(ladder)-1]
	}
	return ladder[attempt]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func abbreviateBody(raw []byte) string {
	const maxLen = 256
	text := strings.TrimSpace(string(raw))
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}
