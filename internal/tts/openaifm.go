package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"subvox/internal/apierr"
	"subvox/pkg/resilience"
)

// fmEndpoint is fixed: the free provider is not configurable.
const fmEndpoint = "https://www.openai.fm/api/generate"

// fmVoices is the provider's enumerated voice set.
var fmVoices = map[string]bool{
	"alloy": true, "ash": true, "ballad": true, "coral": true,
	"echo": true, "fable": true, "onyx": true, "nova": true,
	"sage": true, "shimmer": true, "verse": true,
}

const fmDefaultVoice = "coral"

// fmPrompts is the small fixed template set used when no custom prompt is
// configured. The provider is prompt-driven: delivery style is described in
// natural language rather than structured knobs.
var fmPrompts = []string{
	"Voice: clear and natural. Tone: neutral narration, steady pacing suited to subtitles.",
	"Voice: warm and conversational. Tone: friendly, with light emphasis on key words.",
	"Voice: calm documentary narrator. Tone: measured, articulate, unhurried.",
	"Voice: bright and energetic. Tone: engaging, expressive, never rushed.",
}

// FMProvider is the free prompt-driven web provider. The endpoint has no
// credential and browns out under load, so calls go through a circuit
// breaker.
type FMProvider struct {
	cfg     Config
	client  *http.Client
	breaker *resilience.CircuitBreaker
}

// NewFMProvider constructs the free provider. No credential is required.
func NewFMProvider(cfg Config) *FMProvider {
	cfg = cfg.withDefaults()
	return &FMProvider{
		cfg:     cfg,
		client:  newHTTPClient(cfg),
		breaker: resilience.NewCircuitBreaker(5, 30*time.Second),
	}
}

func (p *FMProvider) DefaultVoice() string {
	return fmDefaultVoice
}

func (p *FMProvider) Synthesize(ctx context.Context, seg *Segment) ([]byte, error) {
	voice := seg.Voice
	if voice == "" {
		voice = p.cfg.Voice
	}
	if !fmVoices[voice] {
		voice = fmDefaultVoice
	}

	prompt := p.cfg.Prompt
	if prompt == "" {
		prompt = fmPrompts[promptIndex(seg.Text)]
	}

	q := url.Values{}
	q.Set("input", seg.Text)
	q.Set("prompt", prompt)
	q.Set("voice", voice)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var audio []byte
	err = p.breaker.Execute(func() error {
		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", apierr.ErrConnection, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return apierr.FromStatus(resp.StatusCode, string(msg))
		}

		audio, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: reading audio: %v", apierr.ErrConnection, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio response", apierr.ErrValidation)
	}
	return audio, nil
}

// promptIndex picks a template deterministically from the text, keeping
// repeated runs cache-friendly.
func promptIndex(text string) int {
	var sum int
	for _, r := range text {
		sum += int(r)
	}
	return sum % len(fmPrompts)
}
