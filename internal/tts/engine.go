// Package tts synthesizes subtitle segments into audio files through
// interchangeable providers, with per-segment content-addressed caching,
// bounded fan-out and partial-failure tolerance.
package tts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"subvox/pkg/cache"
	"subvox/pkg/logger"
)

// Provider turns one segment into encoded audio bytes.
type Provider interface {
	Synthesize(ctx context.Context, seg *Segment) ([]byte, error)
	DefaultVoice() string
}

// ProgressFunc receives a percentage (0-100) and a short message.
type ProgressFunc func(percent int, message string)

// Config enumerates every recognized synthesis setting. Unknown fields do
// not exist: providers read only what is listed here.
type Config struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	Voice      string
	Format     string
	SampleRate int
	Speed      float64
	Gain       float64
	Streaming  bool
	// Prompt overrides the style prompt of the free web provider.
	Prompt string

	CacheEnabled bool
	CacheTTL     time.Duration
	Timeout      time.Duration
	ThreadNum    int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Format == "" {
		out.Format = "mp3"
	}
	if out.Speed == 0 {
		out.Speed = 1.0
	}
	if out.CacheTTL <= 0 {
		out.CacheTTL = 30 * 24 * time.Hour
	}
	if out.Timeout <= 0 {
		out.Timeout = 120 * time.Second
	}
	if out.ThreadNum <= 0 {
		out.ThreadNum = 4
	}
	return out
}

// Engine is the shared batch driver. It composes over the Provider
// interface, never over a concrete provider.
type Engine struct {
	provider Provider
	cfg      Config
	store    cache.Cache
}

// NewEngine creates a batch driver for the given provider. store may be nil
// to disable caching.
func NewEngine(provider Provider, cfg Config, store cache.Cache) *Engine {
	return &Engine{
		provider: provider,
		cfg:      cfg.withDefaults(),
		store:    store,
	}
}

// SynthesizeBatch synthesizes every segment into outDir, reporting progress
// per unit and a terminal 100%/"completed" event. A failing segment is
// logged and left without AudioPath; it never aborts its siblings. An empty
// batch returns immediately without any progress event.
func (e *Engine) SynthesizeBatch(ctx context.Context, data *Data, outDir string, onProgress ProgressFunc) error {
	if data.Len() == 0 {
		return nil
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	total := data.Len()
	var mu sync.Mutex
	started := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ThreadNum)

	for idx, seg := range data.Segments {
		idx, seg := idx, seg
		g.Go(func() error {
			if onProgress != nil {
				mu.Lock()
				percent := started * 100 / total
				started++
				mu.Unlock()
				onProgress(percent, fmt.Sprintf("synthesizing segment %d/%d", idx+1, total))
			}

			if err := e.synthesizeOne(gctx, idx, seg, outDir); err != nil {
				logger.Warn("segment synthesis failed",
					zap.Int("index", idx),
					zap.String("text", seg.Text),
					zap.Error(err))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if onProgress != nil {
		onProgress(100, "completed")
	}
	return nil
}

// synthesizeOne resolves one segment: cache hit writes the cached bytes,
// miss delegates to the provider and persists the result.
func (e *Engine) synthesizeOne(ctx context.Context, idx int, seg *Segment, outDir string) error {
	outPath := filepath.Join(outDir, e.segmentFileName(idx, seg))
	key := e.segmentKey(seg)

	if e.cfg.CacheEnabled && e.store != nil {
		var audio []byte
		if err := e.store.Get(ctx, key, &audio); err == nil && len(audio) > 0 {
			if err := os.WriteFile(outPath, audio, 0o644); err != nil {
				return fmt.Errorf("failed to write cached audio: %w", err)
			}
			seg.AudioPath = outPath
			logger.Debug("synthesis cache hit", zap.String("key", key))
			return nil
		}
	}

	audio, err := e.provider.Synthesize(ctx, seg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(outPath, audio, 0o644); err != nil {
		return fmt.Errorf("failed to write audio: %w", err)
	}
	seg.AudioPath = outPath

	if e.cfg.CacheEnabled && e.store != nil {
		if err := e.store.SetWithTTL(ctx, key, audio, e.cfg.CacheTTL); err != nil {
			logger.Warn("synthesis cache write failed", zap.Error(err))
		}
	}
	return nil
}

// segmentFileName is deterministic: zero-padded index plus a truncated
// content hash plus the configured extension.
func (e *Engine) segmentFileName(idx int, seg *Segment) string {
	sum := sha256.Sum256([]byte(seg.Text))
	return fmt.Sprintf("%04d_%s.%s", idx+1, hex.EncodeToString(sum[:])[:8], e.cfg.Format)
}

// segmentKey derives the content-addressed cache key. The voice fingerprint
// is the clone reference audio's content hash when present, else the
// segment's own voice, else the provider default.
func (e *Engine) segmentKey(seg *Segment) string {
	var fingerprint string
	switch {
	case seg.CloneAudioPath != "":
		if h, err := cache.HashFile(seg.CloneAudioPath); err == nil {
			fingerprint = "clone:" + h
		} else {
			fingerprint = "clone:" + seg.CloneAudioPath
		}
	case seg.Voice != "":
		fingerprint = seg.Voice
	default:
		fingerprint = e.provider.DefaultVoice()
	}

	return cache.HashKey("tts",
		seg.Text,
		e.cfg.Model,
		strconv.FormatFloat(e.cfg.Speed, 'f', -1, 64),
		strconv.FormatFloat(e.cfg.Gain, 'f', -1, 64),
		fingerprint,
	)
}
