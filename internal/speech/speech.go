// ABOUTME: Speech-to-text and text-to-speech provider contracts
// ABOUTME: Stub providers are deterministic; OpenAI providers are live

package speech

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyAudio is returned when there is nothing to transcribe.
var ErrEmptyAudio = errors.New("speech: empty audio payload")

// STT converts audio bytes into a transcript.
type STT interface {
	Transcribe(ctx context.Context, data []byte, format string) (string, error)
}

// TTS converts text into audio bytes.
type TTS interface {
	Synthesize(ctx context.Context, text, voice, format string) ([]byte, error)
}

// StubSTT treats the audio payload as UTF-8 text. Deterministic, which
// makes end-to-end audio tests possible without a model.
type StubSTT struct{}

func (StubSTT) Transcribe(_ context.Context, data []byte, _ string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyAudio
	}
	return strings.TrimSpace(string(data)), nil
}

// StubTTS returns the text itself as the audio payload.
type StubTTS struct{}

func (StubTTS) Synthesize(_ context.Context, text, _, _ string) ([]byte, error) {
	return []byte(text), nil
}
