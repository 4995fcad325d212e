package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"subvox/internal/apierr"
	"subvox/internal/chat"
	"subvox/pkg/cache"
)

// SiliconFlowProvider is the cloud provider with voice cloning. When a
// segment carries a clone reference, the handle is resolved through the
// CloneManager before the synthesis payload is built.
type SiliconFlowProvider struct {
	cfg     Config
	baseURL string
	client  *http.Client
	clones  *CloneManager
}

type sfSpeechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	SampleRate     int     `json:"sample_rate,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
	Gain           float64 `json:"gain,omitempty"`
	Stream         bool    `json:"stream,omitempty"`
}

// NewSiliconFlowProvider constructs the provider and its clone manager
// sharing one cache store.
func NewSiliconFlowProvider(cfg Config, store cache.Cache) (*SiliconFlowProvider, error) {
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: tts base URL and API key are required", apierr.ErrConfiguration)
	}

	baseURL, err := chat.NormalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid tts base URL %q", apierr.ErrConfiguration, cfg.BaseURL)
	}

	client := newHTTPClient(cfg)
	return &SiliconFlowProvider{
		cfg:     cfg,
		baseURL: baseURL,
		client:  client,
		clones:  NewCloneManager(baseURL, cfg.APIKey, store, client),
	}, nil
}

func (p *SiliconFlowProvider) DefaultVoice() string {
	return p.cfg.Model + ":alex"
}

// Clones exposes the manager for callers that resolve handles up front.
func (p *SiliconFlowProvider) Clones() *CloneManager {
	return p.clones
}

func (p *SiliconFlowProvider) Synthesize(ctx context.Context, seg *Segment) ([]byte, error) {
	// Voice precedence: clone handle > segment voice > config voice.
	var voice string
	switch {
	case seg.CloneAudioPath != "":
		uri, err := p.clones.ResolveHandle(ctx, seg.CloneAudioPath, seg.CloneAudioText, p.cfg.Model)
		if err != nil {
			return nil, err
		}
		seg.CloneVoiceURI = uri
		voice = uri
	case seg.Voice != "":
		voice = seg.Voice
	case p.cfg.Voice != "":
		voice = p.cfg.Voice
	default:
		voice = p.DefaultVoice()
	}

	body, err := json.Marshal(sfSpeechRequest{
		Model:          p.cfg.Model,
		Input:          seg.Text,
		Voice:          voice,
		ResponseFormat: p.cfg.Format,
		SampleRate:     p.cfg.SampleRate,
		Speed:          p.cfg.Speed,
		Gain:           p.cfg.Gain,
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
		return nil, fmt.Errorf("%w: reading audio: %v", apierr.ErrConnection, err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio response", apierr.ErrValidation)
	}
	return audio, nil
}
