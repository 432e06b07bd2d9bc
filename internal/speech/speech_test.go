// ABOUTME: Tests for the deterministic stub speech providers

package speech

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubSTT(t *testing.T) {
	var stt StubSTT

	text, err := stt.Transcribe(context.Background(), []byte("  merge pr 412 \n"), "wav")
	require.NoError(t, err)
	assert.Equal(t, "merge pr 412", text)

	_, err = stt.Transcribe(context.Background(), nil, "wav")
	assert.ErrorIs(t, err, ErrEmptyAudio)
}

func TestStubTTS(t *testing.T) {
	var tts StubTTS

	audio, err := tts.Synthesize(context.Background(), "You have 3 items.", "alloy", "mp3")
	require.NoError(t, err)
	assert.Equal(t, []byte("You have 3 items."), audio)
}
