package rankhub

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"golang.org/x/sync/singleflight"

	"github.com/touchlinehq/touchline/internal/domain/team"
	"github.com/touchlinehq/touchline/internal/platform/logging"
	"github.com/touchlinehq/touchline/internal/platform/resilience"
	"github.com/touchlinehq/touchline/internal/usecase"
)

const (
	defaultBaseURL = "https://api.rankhub.io/v1"
	maxBodyBytes   = 2 << 20
)

var apiTokenParamRegex = regexp.MustCompile(`api_token=[^&\s"']+`)
var errRankHubTransient = crerr.New("rankhub transient failure")

type ClientConfig struct {
	HTTPClient     *http.Client
	BaseURL        string
	Token          string
	Timeout        time.Duration
	MaxRetries     int
	Logger         *logging.Logger
	CircuitBreaker resilience.CircuitBreakerConfig
}

// Client pulls national youth-soccer rankings. It implements
// usecase.RankingProvider.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	token          string
	maxRetries     int
	logger         *logging.Logger
	breaker        *resilience.CircuitBreaker
	circuitEnabled bool
	flight         singleflight.Group
}

func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = 20 * time.Second
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	breakerCfg := cfg.CircuitBreaker.Normalized()

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		token:          strings.TrimSpace(cfg.Token),
		maxRetries:     maxRetries,
		logger:         logger,
		breaker:        resilience.NewCircuitBreaker(breakerCfg),
		circuitEnabled: breakerCfg.Enabled,
	}
}

// FetchRankings pulls one rankings page: all nationally ranked teams for an
// age group and gender.
func (c *Client) FetchRankings(ctx context.Context, query usecase.RankingQuery) ([]usecase.ExternalRanking, error) {
	if query.AgeGroup < 5 || query.AgeGroup > 19 {
		return nil, fmt.Errorf("age group %d out of range", query.AgeGroup)
	}
	genderParam, err := genderParam(query.Gender)
	if err != nil {
		return nil, err
	}

	params := map[string]string{
		"age":    fmt.Sprintf("u%d", query.AgeGroup),
		"gender": genderParam,
	}

	var envelope rankingsEnvelope
	if err := c.doJSON(ctx, "/rankings", params, &envelope); err != nil {
		return nil, fmt.Errorf("fetch rankings page age=u%d gender=%s: %w", query.AgeGroup, genderParam, err)
	}

	return parseRankings(envelope.Data), nil
}

func (c *Client) doJSON(ctx context.Context, path string, query map[string]string, target any) error {
	if c.circuitEnabled {
		if err := c.breaker.Allow(); err != nil {
			c.logger.WarnContext(ctx, "rankhub circuit breaker rejected request", "state", c.breaker.State())
			return fmt.Errorf("%w: rankings provider is temporarily unavailable", usecase.ErrDependencyUnavailable)
		}
	}

	values := url.Values{}
	for key, value := range query {
		values.Set(key, value)
	}
	values.Set("api_token", c.token)

	fullURL := c.baseURL + path
	if encoded := values.Encode(); encoded != "" {
		fullURL += "?" + encoded
	}

	key := path + "?" + values.Encode()
	out, err, _ := c.flight.Do(key, func() (any, error) {
		raw, reqErr := c.executeRequest(ctx, fullURL)
		if c.circuitEnabled {
			if reqErr != nil && stderrors.Is(reqErr, errRankHubTransient) {
				c.breaker.RecordFailure()
			} else {
				c.breaker.RecordSuccess()
			}
		}
		return raw, reqErr
	})
	if err != nil {
		return err
	}

	raw, ok := out.([]byte)
	if !ok {
		return fmt.Errorf("unexpected response payload type %T", out)
	}
	if err := sonic.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode rankings payload: %w", err)
	}

	return nil
}

func (c *Client) executeRequest(ctx context.Context, fullURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: send request: %s", errRankHubTransient, sanitizeSensitiveText(err.Error(), c.token))
		} else {
			raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
			_ = resp.Body.Close()
			if readErr != nil {
				lastErr = fmt.Errorf("%w: read response body: %v", errRankHubTransient, readErr)
			} else if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return raw, nil
			} else if isRetryableStatus(resp.StatusCode) {
				lastErr = fmt.Errorf("%w: provider status=%d body=%s", errRankHubTransient, resp.StatusCode, abbreviateBody(raw))
			} else {
				return nil, fmt.Errorf("provider status=%d body=%s", resp.StatusCode, abbreviateBody(raw))
			}
		}

		if attempt == c.maxRetries {
			break
		}
		backoff := time.Duration(attempt+1) * time.Second
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("provider request failed")
	}
	c.logger.WarnContext(ctx, "rankhub request failed", "url", redactAPIURL(fullURL), "error", lastErr)
	return nil, lastErr
}

type rankingsEnvelope struct {
	Data []rankingItem `json:"data"`
}

type rankingItem struct {
	Team  string  `json:"team"`
	Name  string  `json:"name"`
	Club  string  `json:"club"`
	State string  `json:"state"`
	Rank  int     `json:"rank"`
	Power float64 `json:"power"`
}

// parseRankings maps provider rows to the usecase type, dropping rows with
// no usable name or rank. The provider sometimes splits club and team name;
// joined they normalize to the same canonical form the scrapers produce.
func parseRankings(items []rankingItem) []usecase.ExternalRanking {
	out := make([]usecase.ExternalRanking, 0, len(items))
	for _, item := range items {
		name := strings.TrimSpace(item.Team)
		if name == "" {
			name = strings.TrimSpace(item.Name)
		}
		if club := strings.TrimSpace(item.Club); club != "" && name != "" && !strings.HasPrefix(strings.ToLower(name), strings.ToLower(club)) {
			name = club + " " + name
		}
		if name == "" || item.Rank <= 0 {
			continue
		}

		out = append(out, usecase.ExternalRanking{
			TeamName:     name,
			State:        strings.ToUpper(strings.TrimSpace(item.State)),
			NationalRank: item.Rank,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].NationalRank != out[j].NationalRank {
			return out[i].NationalRank < out[j].NationalRank
		}
		return out[i].TeamName < out[j].TeamName
	})

	return out
}

func genderParam(gender team.Gender) (string, error) {
	switch gender {
	case team.GenderMale:
		return "boys", nil
	case team.GenderFemale:
		return "girls", nil
	default:
		return "", fmt.Errorf("rankings are published per gender, got %q", gender)
	}
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func sanitizeSensitiveText(value, token string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	if token != "" {
		value = strings.ReplaceAll(value, token, "REDACTED")
	}
	return apiTokenParamRegex.ReplaceAllString(value, "api_token=REDACTED")
}

func redactAPIURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	query := parsed.Query()
	if query.Has("api_token") {
		query.Set("api_token", "REDACTED")
		parsed.RawQuery = query.Encode()
	}
	return parsed.String()
}

func abbreviateBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) <= 240 {
		return text
	}
	return text[:240] + "..."
}
