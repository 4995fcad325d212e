package tts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPromptIndexDeterministicAndBounded(t *testing.T) {
	for _, text := range []string{"", "hello", "a longer subtitle line", "日本語"} {
		idx := promptIndex(text)
		assert.Equal(t, idx, promptIndex(text))
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, len(fmPrompts))
	}
}

func TestFMProviderDefaultVoiceIsEnumerated(t *testing.T) {
	p := NewFMProvider(Config{})
	assert.True(t, fmVoices[p.DefaultVoice()])
}
