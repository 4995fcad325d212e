package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"subvox/internal/apierr"
	"subvox/internal/chat"
)

// OpenAIProvider calls an OpenAI-compatible /audio/speech endpoint. The
// response body is streamed straight into the returned buffer.
type OpenAIProvider struct {
	cfg     Config
	baseURL string
	client  *http.Client
}

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
	Stream         bool    `json:"stream,omitempty"`
}

// NewOpenAIProvider constructs the provider. Fails with ErrConfiguration
// when the endpoint or credential is unset.
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: tts base URL and API key are required", apierr.ErrConfiguration)
	}

	baseURL, err := chat.NormalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid tts base URL %q", apierr.ErrConfiguration, cfg.BaseURL)
	}

	return &OpenAIProvider{
		cfg:     cfg,
		baseURL: baseURL,
		client:  newHTTPClient(cfg),
	}, nil
}

func (p *OpenAIProvider) DefaultVoice() string {
	return "alloy"
}

func (p *OpenAIProvider) Synthesize(ctx context.Context, seg *Segment) ([]byte, error) {
	// Voice precedence: segment > config > provider default.
	voice := seg.Voice
	if voice == "" {
		voice = p.cfg.Voice
	}
	if voice == "" {
		voice = p.DefaultVoice()
	}

	body, err := json.Marshal(speechRequest{
		Model:          p.cfg.Model,
		Input:          seg.Text,
		Voice:          voice,
		ResponseFormat: p.cfg.Format,
		Speed:          p.cfg.Speed,
		Stream:         p.cfg.Streaming,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierr.ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, apierr.FromStatus(resp.StatusCode, string(msg))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading audio stream: %v", apierr.ErrConnection, err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio response", apierr.ErrValidation)
	}
	return audio, nil
}

// newHTTPClient carries both a connection-level and a call-level timeout.
func newHTTPClient(cfg Config) *http.Client {
	return &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
		},
	}
}
