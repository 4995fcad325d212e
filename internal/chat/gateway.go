// Package chat is the gateway to an OpenAI-compatible chat-completion API:
// URL normalization, bounded backoff on rate limiting, response memoization
// and request/response logging in one place.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"subvox/internal/apierr"
	"subvox/internal/reqlog"
	"subvox/pkg/cache"
	"subvox/pkg/logger"
	"subvox/pkg/resilience"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is the parsed provider response.
type Completion struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Config enumerates every recognized gateway setting.
type Config struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	CacheTTL time.Duration

	Store cache.Cache
	Log   *reqlog.Correlator
	Retry *resilience.RetryConfig

	// OnRetryWarn is invoked once per rate-limit retry. Defaults to a
	// structured warning advising the caller to reduce concurrency.
	OnRetryWarn func(attempt int, wait time.Duration, err error)
}

// Gateway is the client for the chat-completion endpoint. Construct with New
// for injection, or use Default for the shared env-configured instance.
type Gateway struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	store    cache.Cache
	log      *reqlog.Correlator
	retry    *resilience.RetryConfig
	cacheTTL time.Duration
	warn     func(attempt int, wait time.Duration, err error)
}

var (
	defaultMu      sync.Mutex
	defaultGateway *Gateway
)

// Default returns the process-wide gateway, built on first use from
// OPENAI_BASE_URL and OPENAI_API_KEY with an in-memory cache and the default
// request log. Collaborators that cannot thread dependencies use this.
func Default() (*Gateway, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultGateway != nil {
		return defaultGateway, nil
	}

	g, err := New(Config{
		BaseURL: os.Getenv("OPENAI_BASE_URL"),
		APIKey:  os.Getenv("OPENAI_API_KEY"),
		Store:   cache.NewMemoryCache(time.Hour, 10*time.Minute),
		Log:     reqlog.New("logs/api_requests.jsonl", nil),
	})
	if err != nil {
		return nil, err
	}

	defaultGateway = g
	return defaultGateway, nil
}

// New constructs a gateway. Fails with ErrConfiguration when the endpoint or
// credential is unset.
func New(cfg Config) (*Gateway, error) {
	if cfg.BaseURL == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: base URL and API key are required", apierr.ErrConfiguration)
	}

	baseURL, err := NormalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base URL %q", apierr.ErrConfiguration, cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.Retry == nil {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if cfg.OnRetryWarn == nil {
		cfg.OnRetryWarn = func(attempt int, wait time.Duration, err error) {
			logger.Warn("chat API rate limited, backing off; reduce thread_num or use a higher-capacity endpoint",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		}
	}

	var transport http.RoundTripper = &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second,
		}).DialContext,
	}
	if cfg.Log != nil {
		cfg.Log.SetNext(transport)
		transport = cfg.Log
	}

	return &Gateway{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		store:    cfg.Store,
		log:      cfg.Log,
		retry:    cfg.Retry,
		cacheTTL: cfg.CacheTTL,
		warn:     cfg.OnRetryWarn,
	}, nil
}

// NormalizeBaseURL appends the default /v1 path segment when the configured
// URL has no path, and strips a trailing slash otherwise. Scheme, host and
// query are preserved.
func NormalizeBaseURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base URL must include scheme and host: %q", raw)
	}

	if u.Path == "" || u.Path == "/" {
		u.Path = "/v1"
	} else {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String(), nil
}

// Complete performs one chat call. A cache hit bypasses the network and the
// retry policy entirely; a miss goes through the rate-limit backoff and the
// successful response is memoized. Cache write failures never fail the call.
func (g *Gateway) Complete(ctx context.Context, messages []Message, model string, temperature float64, opts map[string]interface{}) (*Completion, error) {
	key := completionKey(messages, model, temperature, opts)

	if g.store != nil {
		var cached Completion
		if err := g.store.Get(ctx, key, &cached); err == nil {
			logger.Debug("chat cache hit", zap.String("key", key))
			return &cached, nil
		}
	}

	var result *Completion
	retryable := func(err error) bool { return errors.Is(err, apierr.ErrRateLimited) }

	err := resilience.RetryWithBackoff(ctx, g.retry, retryable, g.warn, func() error {
		comp, err := g.complete(ctx, messages, model, temperature, opts)
		if err != nil {
			return err
		}
		result = comp
		return nil
	})
	if err != nil {
		return nil, err
	}

	if g.store != nil {
		if err := g.store.SetWithTTL(ctx, key, result, g.cacheTTL); err != nil {
			logger.Warn("chat cache write failed", zap.Error(err))
		}
	}

	return result, nil
}

// complete is one network attempt.
func (g *Gateway) complete(ctx context.Context, messages []Message, model string, temperature float64, opts map[string]interface{}) (*Completion, error) {
	payload := map[string]interface{}{
		"model":       model,
		"messages":    messages,
		"temperature": temperature,
	}
	for k, v := range opts {
		payload[k] = v
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierr.ErrConnection, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		// The transport already staged this exchange; flush it so the next
		// call's Record cannot pair with a stale completed entry.
		g.record(nil)
		return nil, fmt.Errorf("%w: reading response: %v", apierr.ErrConnection, err)
	}

	if resp.StatusCode != http.StatusOK {
		g.record(string(respBody))
		return nil, apierr.FromStatus(resp.StatusCode, string(respBody))
	}

	var comp Completion
	if err := json.Unmarshal(respBody, &comp); err != nil {
		g.record(string(respBody))
		return nil, fmt.Errorf("%w: failed to unmarshal response: %v", apierr.ErrValidation, err)
	}

	g.record(&comp)

	if len(comp.Choices) == 0 || strings.TrimSpace(comp.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("%w: response carries no content", apierr.ErrValidation)
	}

	return &comp, nil
}

func (g *Gateway) record(parsed interface{}) {
	if g.log != nil {
		g.log.Record(parsed)
	}
}

// completionKey derives the content-addressed cache key for one call. The
// message list is canonicalized through JSON; variant-typed extra options are
// tagged with their Go type so equal values of different types never collide.
func completionKey(messages []Message, model string, temperature float64, opts map[string]interface{}) string {
	msgJSON, _ := json.Marshal(messages)

	parts := []string{
		string(msgJSON),
		"model:" + model,
		"temperature:" + cache.TypedPart(temperature),
	}

	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+":"+cache.TypedPart(opts[k]))
	}

	return cache.HashKey("chat", parts...)
}
