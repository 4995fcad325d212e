package tts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subvox/pkg/cache"
)

// fakeProvider counts calls and fails on request.
type fakeProvider struct {
	mu       sync.Mutex
	calls    int
	failText string
}

func (f *fakeProvider) Synthesize(_ context.Context, seg *Segment) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if seg.Text == f.failText {
		return nil, fmt.Errorf("provider refused")
	}
	return []byte("AUDIO:" + seg.Text), nil
}

func (f *fakeProvider) DefaultVoice() string { return "default" }

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type progressEvent struct {
	percent int
	message string
}

type progressRecorder struct {
	mu     sync.Mutex
	events []progressEvent
}

func (r *progressRecorder) record(percent int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, progressEvent{percent, message})
}

func (r *progressRecorder) last() (progressEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return progressEvent{}, false
	}
	return r.events[len(r.events)-1], true
}

func testConfig() Config {
	return Config{
		Model:        "tts-1",
		Format:       "mp3",
		Speed:        1.0,
		CacheEnabled: true,
		CacheTTL:     time.Hour,
		ThreadNum:    2,
	}
}

func testData() *Data {
	return NewData([]*Segment{
		{Text: "one", StartTime: time.Second},
		{Text: "two", StartTime: 2 * time.Second},
		{Text: "three", StartTime: 3 * time.Second},
	})
}

func TestSynthesizeBatchWritesAllSegments(t *testing.T) {
	provider := &fakeProvider{}
	engine := NewEngine(provider, testConfig(), cache.NewMemoryCache(time.Hour, 0))
	outDir := t.TempDir()
	progress := &progressRecorder{}

	data := testData()
	err := engine.SynthesizeBatch(context.Background(), data, outDir, progress.record)
	require.NoError(t, err)

	require.Equal(t, 3, data.Len())
	for _, seg := range data.Segments {
		assert.NotEmpty(t, seg.AudioPath)
		content, err := os.ReadFile(seg.AudioPath)
		require.NoError(t, err)
		assert.Equal(t, "AUDIO:"+seg.Text, string(content))
	}

	last, ok := progress.last()
	require.True(t, ok)
	assert.Equal(t, 100, last.percent)
	assert.Equal(t, "completed", last.message)
}

func TestSynthesizeBatchToleratesUnitFailure(t *testing.T) {
	provider := &fakeProvider{failText: "two"}
	engine := NewEngine(provider, testConfig(), cache.NewMemoryCache(time.Hour, 0))
	progress := &progressRecorder{}

	data := testData()
	err := engine.SynthesizeBatch(context.Background(), data, t.TempDir(), progress.record)
	require.NoError(t, err)

	require.Equal(t, 3, data.Len())
	for _, seg := range data.Segments {
		if seg.Text == "two" {
			assert.Empty(t, seg.AudioPath, "failing segment must not get an audio path")
		} else {
			assert.NotEmpty(t, seg.AudioPath)
		}
	}

	last, ok := progress.last()
	require.True(t, ok)
	assert.Equal(t, 100, last.percent)
	assert.Equal(t, "completed", last.message)
}

func TestSynthesizeBatchEmptyInput(t *testing.T) {
	engine := NewEngine(&fakeProvider{}, testConfig(), nil)
	progress := &progressRecorder{}

	err := engine.SynthesizeBatch(context.Background(), NewData(nil), t.TempDir(), progress.record)
	require.NoError(t, err)

	_, ok := progress.last()
	assert.False(t, ok, "empty batch must not report progress")
}

func TestSynthesizeBatchUsesCache(t *testing.T) {
	provider := &fakeProvider{}
	store := cache.NewMemoryCache(time.Hour, 0)
	engine := NewEngine(provider, testConfig(), store)

	first := testData()
	require.NoError(t, engine.SynthesizeBatch(context.Background(), first, t.TempDir(), nil))
	assert.Equal(t, 3, provider.callCount())

	// Same texts again: every segment resolves from the cache.
	second := testData()
	outDir := t.TempDir()
	require.NoError(t, engine.SynthesizeBatch(context.Background(), second, outDir, nil))
	assert.Equal(t, 3, provider.callCount())

	for _, seg := range second.Segments {
		assert.NotEmpty(t, seg.AudioPath)
		content, err := os.ReadFile(seg.AudioPath)
		require.NoError(t, err)
		assert.Equal(t, "AUDIO:"+seg.Text, string(content))
	}
}

func TestSynthesizeBatchCacheDisabled(t *testing.T) {
	provider := &fakeProvider{}
	cfg := testConfig()
	cfg.CacheEnabled = false
	engine := NewEngine(provider, cfg, cache.NewMemoryCache(time.Hour, 0))

	require.NoError(t, engine.SynthesizeBatch(context.Background(), testData(), t.TempDir(), nil))
	require.NoError(t, engine.SynthesizeBatch(context.Background(), testData(), t.TempDir(), nil))
	assert.Equal(t, 6, provider.callCount())
}

func TestSegmentFileNameIsDeterministic(t *testing.T) {
	engine := NewEngine(&fakeProvider{}, testConfig(), nil)
	seg := &Segment{Text: "hello"}

	name := engine.segmentFileName(0, seg)
	assert.Equal(t, name, engine.segmentFileName(0, seg))
	assert.Regexp(t, `^0001_[0-9a-f]{8}\.mp3$`, name)
	assert.Regexp(t, `^0010_[0-9a-f]{8}\.mp3$`, engine.segmentFileName(9, seg))
}

func TestSegmentKeyVoiceFingerprint(t *testing.T) {
	engine := NewEngine(&fakeProvider{}, testConfig(), nil)

	plain := engine.segmentKey(&Segment{Text: "hi"})
	voiced := engine.segmentKey(&Segment{Text: "hi", Voice: "nova"})
	assert.NotEqual(t, plain, voiced)

	clonePath := filepath.Join(t.TempDir(), "ref.wav")
	require.NoError(t, os.WriteFile(clonePath, []byte("sample"), 0o644))

	cloned := engine.segmentKey(&Segment{Text: "hi", Voice: "nova", CloneAudioPath: clonePath})
	assert.NotEqual(t, voiced, cloned, "clone fingerprint must override the voice name")

	// Same clone contents at a different path produce the same key.
	otherPath := filepath.Join(t.TempDir(), "copy.wav")
	require.NoError(t, os.WriteFile(otherPath, []byte("sample"), 0o644))
	assert.Equal(t, cloned, engine.segmentKey(&Segment{Text: "hi", Voice: "nova", CloneAudioPath: otherPath}))
}
