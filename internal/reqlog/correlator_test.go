package reqlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subvox/internal/taskctx"
)

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entries []Entry
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var e Entry
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		entries = append(entries, e)
	}
	return entries
}

func TestRoundTripAndRecord(t *testing.T) {
	t.Cleanup(taskctx.Clear)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "api_requests.jsonl")
	c := New(path, nil)
	client := &http.Client{Transport: c}

	taskctx.Set("deadbeef", "movie.srt", taskctx.StageTranslate)

	body := []byte(`{"model":"gpt-4o-mini","messages":[]}`)
	req, err := http.NewRequest(http.MethodPost, server.URL+"/v1/chat/completions", bytes.NewReader(body))
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	c.Record(map[string]interface{}{"content": "hello"})

	entries := readEntries(t, path)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, "deadbeef", e.TaskID)
	assert.Equal(t, "movie.srt", e.FileName)
	assert.Equal(t, "translate", e.Stage)
	assert.Contains(t, e.URL, "/v1/chat/completions")
	assert.Equal(t, http.StatusOK, e.Status)
	assert.NotNil(t, e.RequestBody)
	assert.NotNil(t, e.ResponseBody)

	// The staged entry must be evicted after Record.
	assert.Empty(t, c.pending)
	assert.Empty(t, c.order)
}

func TestNonChatRequestsAreIgnored(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(filepath.Join(t.TempDir(), "log.jsonl"), nil)
	client := &http.Client{Transport: c}

	resp, err := client.Do(mustRequest(t, server.URL+"/v1/audio/speech"))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, c.pending)
}

func TestTransportErrorEvictsPending(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "log.jsonl"), roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}))
	client := &http.Client{Transport: c}

	_, err := client.Do(mustRequest(t, "http://invalid.local/v1/chat/completions"))
	assert.Error(t, err)

	assert.Empty(t, c.pending)
	assert.Empty(t, c.order)
}

func TestRecordWithoutPendingStillWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	c := New(path, nil)

	c.Record("raw body")

	entries := readEntries(t, path)
	require.Len(t, entries, 1)
	assert.Equal(t, "raw body", entries[0].ResponseBody)
}

func TestRotationKeepsSingleBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	c := New(path, nil)
	c.SetMaxSize(300)

	for i := 0; i < 20; i++ {
		c.Record(map[string]interface{}{"n": i, "padding": strings.Repeat("x", 40)})
	}

	backup := path + ".old"
	_, err := os.Stat(backup)
	assert.NoError(t, err, "backup file should exist after rotation")

	// The current file only holds entries written after the last rotation.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.LessOrEqual(t, info.Size(), int64(300)+200)

	// No second-level backup is ever produced.
	_, err = os.Stat(backup + ".old")
	assert.True(t, os.IsNotExist(err))
}

func TestWriteFailureIsSwallowed(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	// Parent of the log path is a regular file, so every write fails.
	c := New(filepath.Join(blocker, "log.jsonl"), nil)

	assert.NotPanics(t, func() {
		c.Record("entry")
	})
}

func mustRequest(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	return req
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
