package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"subvox/internal/chat"
	"subvox/internal/config"
	"subvox/internal/pipeline"
	"subvox/internal/reqlog"
	"subvox/internal/tts"
	"subvox/pkg/cache"
	"subvox/pkg/logger"
)

// inputSegment is the on-disk shape of one subtitle unit. Parsing of real
// subtitle formats happens upstream; this binary consumes the already
// extracted units.
type inputSegment struct {
	Text           string `json:"text"`
	StartMS        int64  `json:"start_ms"`
	EndMS          int64  `json:"end_ms"`
	Voice          string `json:"voice,omitempty"`
	CloneAudioPath string `json:"clone_audio_path,omitempty"`
	CloneAudioText string `json:"clone_audio_text,omitempty"`
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.Log.Debug); err != nil {
		panic("Failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("Starting subvox pipeline")

	if len(os.Args) < 3 {
		logger.Fatal("usage: subvox <segments.json> <output-dir>")
		return
	}
	inputPath, outDir := os.Args[1], os.Args[2]

	store, err := newStore(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize cache", zap.Error(err))
		return
	}
	defer store.Close()

	correlator := reqlog.New(cfg.Log.RequestLogPath, nil)
	if cfg.Log.RotateSize > 0 {
		correlator.SetMaxSize(cfg.Log.RotateSize)
	}

	gateway, err := chat.New(chat.Config{
		BaseURL:  cfg.OpenAI.BaseURL,
		APIKey:   cfg.OpenAI.APIKey,
		Timeout:  cfg.OpenAI.Timeout,
		CacheTTL: cfg.OpenAI.CacheTTL,
		Store:    store,
		Log:      correlator,
	})
	if err != nil {
		logger.Fatal("Failed to initialize chat gateway", zap.Error(err))
		return
	}

	engine, err := newEngine(cfg, store)
	if err != nil {
		logger.Fatal("Failed to initialize synthesis engine", zap.Error(err))
		return
	}

	translate := pipeline.NewLLMProcessor(gateway, cfg.OpenAI.Model, 0.7, cfg.Pipeline.TranslatePrompt)
	orch := pipeline.New(nil, nil, translate, engine, pipeline.Config{ThreadNum: cfg.Worker.ThreadNum})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received shutdown signal, stopping pipeline", zap.String("signal", sig.String()))
		orch.Stop()
	}()

	data, err := loadSegments(inputPath)
	if err != nil {
		logger.Fatal("Failed to load segments", zap.Error(err))
		return
	}
	logger.Info("Segments loaded", zap.Int("count", data.Len()))

	onProgress := func(percent int, message string) {
		logger.Info("progress", zap.Int("percent", percent), zap.String("message", message))
	}

	ctx := context.Background()
	fileName := filepath.Base(inputPath)

	if err := orch.Execute(ctx, fileName, data, outDir, 20, onProgress); err != nil {
		logger.Error("Pipeline aborted", zap.Error(err))
		return
	}

	logger.Info("Pipeline completed", zap.String("output_dir", outDir))
}

func newStore(cfg *config.Config) (cache.Cache, error) {
	if cfg.Cache.Backend == "redis" {
		return cache.NewRedisCache(cfg.Cache.Redis.Addr, cfg.Cache.Redis.Password, cfg.Cache.Redis.DB, cfg.TTS.CacheTTL)
	}
	return cache.NewMemoryCache(cfg.TTS.CacheTTL, 10*time.Minute), nil
}

func newEngine(cfg *config.Config, store cache.Cache) (*tts.Engine, error) {
	ttsCfg := tts.Config{
		Provider:     cfg.TTS.Provider,
		Model:        cfg.TTS.Model,
		APIKey:       cfg.TTS.APIKey,
		BaseURL:      cfg.TTS.BaseURL,
		Voice:        cfg.TTS.Voice,
		Format:       cfg.TTS.Format,
		SampleRate:   cfg.TTS.SampleRate,
		Speed:        cfg.TTS.Speed,
		Gain:         cfg.TTS.Gain,
		Streaming:    cfg.TTS.Streaming,
		Prompt:       cfg.TTS.Prompt,
		CacheEnabled: cfg.TTS.CacheEnabled,
		CacheTTL:     cfg.TTS.CacheTTL,
		Timeout:      cfg.TTS.Timeout,
		ThreadNum:    cfg.Worker.ThreadNum,
	}

	var (
		provider tts.Provider
		err      error
	)
	switch cfg.TTS.Provider {
	case "openaifm":
		provider = tts.NewFMProvider(ttsCfg)
	case "siliconflow":
		provider, err = tts.NewSiliconFlowProvider(ttsCfg, store)
	default:
		provider, err = tts.NewOpenAIProvider(ttsCfg)
	}
	if err != nil {
		return nil, err
	}

	return tts.NewEngine(provider, ttsCfg, store), nil
}

func loadSegments(path string) (*tts.Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var input []inputSegment
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, err
	}

	segments := make([]*tts.Segment, 0, len(input))
	for _, in := range input {
		segments = append(segments, &tts.Segment{
			Text:           in.Text,
			StartTime:      time.Duration(in.StartMS) * time.Millisecond,
			EndTime:        time.Duration(in.EndMS) * time.Millisecond,
			Voice:          in.Voice,
			CloneAudioPath: in.CloneAudioPath,
			CloneAudioText: in.CloneAudioText,
		})
	}
	return tts.NewData(segments), nil
}
