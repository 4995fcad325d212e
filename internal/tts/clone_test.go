package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subvox/internal/apierr"
	"subvox/pkg/cache"
)

func writeRefAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ref.wav")
	require.NoError(t, os.WriteFile(path, []byte("reference audio bytes"), 0o644))
	return path
}

func TestResolveHandleUploadsOnce(t *testing.T) {
	var uploads int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&uploads, 1)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "cosyvoice-v2", r.FormValue("model"))
		assert.Equal(t, "sample text", r.FormValue("text"))
		w.Write([]byte(`{"uri":"speech:handle-1"}`))
	}))
	defer server.Close()

	m := NewCloneManager(server.URL, "key", cache.NewMemoryCache(time.Hour, 0), nil)
	path := writeRefAudio(t)

	first, err := m.ResolveHandle(context.Background(), path, "sample text", "cosyvoice-v2")
	require.NoError(t, err)
	assert.Equal(t, "speech:handle-1", first)

	second, err := m.ResolveHandle(context.Background(), path, "sample text", "cosyvoice-v2")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, int32(1), atomic.LoadInt32(&uploads), "same reference must upload exactly once")
}

func TestResolveHandleDifferentInputsUploadSeparately(t *testing.T) {
	var uploads int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&uploads, 1)
		w.Write([]byte(`{"uri":"speech:handle"}`))
	}))
	defer server.Close()

	m := NewCloneManager(server.URL, "key", cache.NewMemoryCache(time.Hour, 0), nil)
	path := writeRefAudio(t)

	_, err := m.ResolveHandle(context.Background(), path, "text a", "cosyvoice-v2")
	require.NoError(t, err)
	_, err = m.ResolveHandle(context.Background(), path, "text b", "cosyvoice-v2")
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&uploads))
}

func TestResolveHandleMissingReference(t *testing.T) {
	m := NewCloneManager("http://unused.local", "key", nil, nil)

	_, err := m.ResolveHandle(context.Background(), "/no/such/file.wav", "text", "model")
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestResolveHandleUploadErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, apierr.ErrUploadParams},
		{http.StatusUnauthorized, apierr.ErrUploadAuth},
		{http.StatusInternalServerError, apierr.ErrUploadFailed},
	}

	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		m := NewCloneManager(server.URL, "key", nil, nil)
		_, err := m.ResolveHandle(context.Background(), writeRefAudio(t), "text", "model")
		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)

		server.Close()
	}
}

func TestResolveHandleMissingURIIsValidationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	m := NewCloneManager(server.URL, "key", nil, nil)
	_, err := m.ResolveHandle(context.Background(), writeRefAudio(t), "text", "model")
	assert.ErrorIs(t, err, apierr.ErrValidation)
}

func TestResolveHandleSucceedsWhenCacheWriteFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"uri":"speech:handle-2"}`))
	}))
	defer server.Close()

	m := NewCloneManager(server.URL, "key", brokenStore{}, nil)

	uri, err := m.ResolveHandle(context.Background(), writeRefAudio(t), "text", "model")
	require.NoError(t, err)
	assert.Equal(t, "speech:handle-2", uri)
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string, interface{}) error { return cache.ErrMiss }
func (brokenStore) Set(context.Context, string, interface{}) error {
	return assert.AnError
}
func (brokenStore) SetWithTTL(context.Context, string, interface{}, time.Duration) error {
	return assert.AnError
}
func (brokenStore) Delete(context.Context, string) error         { return nil }
func (brokenStore) Exists(context.Context, string) (bool, error) { return false, nil }
func (brokenStore) Close() error                                 { return nil }
