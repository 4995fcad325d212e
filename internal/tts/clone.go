package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"subvox/internal/apierr"
	"subvox/pkg/cache"
	"subvox/pkg/logger"
)

// cloneHandleTTL keeps resolved handles for two days: repeated runs that
// reference the same sample never re-upload.
const cloneHandleTTL = 48 * time.Hour

// CloneManager uploads a reference audio+text pair and caches the resulting
// voice handle by content hash. The cache is the sole durability for the
// mapping; there is no separate registry.
type CloneManager struct {
	baseURL string
	apiKey  string
	client  *http.Client
	store   cache.Cache
	ttl     time.Duration
}

type cloneUploadResponse struct {
	URI string `json:"uri"`
}

// NewCloneManager constructs a manager against the provider's upload
// endpoint. store may be nil, in which case every call uploads.
func NewCloneManager(baseURL, apiKey string, store cache.Cache, client *http.Client) *CloneManager {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &CloneManager{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  client,
		store:   store,
		ttl:     cloneHandleTTL,
	}
}

// ResolveHandle returns a reusable voice handle for the reference sample,
// uploading at most once per (audio contents, text, model) triple.
func (m *CloneManager) ResolveHandle(ctx context.Context, audioPath, text, model string) (string, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return "", fmt.Errorf("%w: reference audio %s", apierr.ErrNotFound, audioPath)
	}

	key := cache.HashKey("voice-clone", cache.HashBytes(data), text, model)

	if m.store != nil {
		var uri string
		if err := m.store.Get(ctx, key, &uri); err == nil && uri != "" {
			logger.Debug("voice clone cache hit", zap.String("key", key))
			return uri, nil
		}
	}

	uri, err := m.upload(ctx, filepath.Base(audioPath), data, text, model)
	if err != nil {
		return "", err
	}

	if m.store != nil {
		if err := m.store.SetWithTTL(ctx, key, uri, m.ttl); err != nil {
			logger.Warn("voice clone cache write failed", zap.Error(err))
		}
	}
	return uri, nil
}

func (m *CloneManager) upload(ctx context.Context, fileName string, data []byte, text, model string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	_ = w.WriteField("model", model)
	_ = w.WriteField("text", text)
	_ = w.WriteField("customName", cache.HashBytes(data)[:16])
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/uploads/audio/voice", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apierr.ErrConnection, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", apierr.ErrConnection, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", apierr.FromUploadStatus(resp.StatusCode, string(body))
	}

	var parsed cloneUploadResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: failed to unmarshal upload response: %v", apierr.ErrValidation, err)
	}
	if parsed.URI == "" {
		return "", fmt.Errorf("%w: upload response omits voice handle", apierr.ErrValidation)
	}

	logger.Info("voice clone uploaded", zap.String("uri", parsed.URI))
	return parsed.URI, nil
}
