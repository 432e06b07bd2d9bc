// ABOUTME: OpenAI-backed STT and TTS providers
// ABOUTME: Whisper for transcription, the speech endpoint for synthesis

package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAISTT transcribes audio with Whisper.
type OpenAISTT struct {
	client openai.Client
	logger *slog.Logger
}

// NewOpenAISTT creates a Whisper-backed transcriber.
func NewOpenAISTT(apiKey string) *OpenAISTT {
	return &OpenAISTT{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		logger: slog.Default().With("component", "speech"),
	}
}

func (s *OpenAISTT) Transcribe(ctx context.Context, data []byte, format string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyAudio
	}

	transcription, err := s.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModelWhisper1,
		File:  bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("transcribing audio: %w", err)
	}

	s.logger.Debug("transcribed audio", "format", format, "chars", len(transcription.Text))
	return transcription.Text, nil
}

// OpenAITTS synthesizes speech with the OpenAI audio endpoint.
type OpenAITTS struct {
	client openai.Client
	logger *slog.Logger
}

// NewOpenAITTS creates a speech synthesizer.
func NewOpenAITTS(apiKey string) *OpenAITTS {
	return &OpenAITTS{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		logger: slog.Default().With("component", "speech"),
	}
}

func (s *OpenAITTS) Synthesize(ctx context.Context, text, voice, format string) ([]byte, error) {
	if voice == "" {
		voice = "alloy"
	}

	params := openai.AudioSpeechNewParams{
		Model: openai.SpeechModelTTS1,
		Input: text,
		Voice: openai.AudioSpeechNewParamsVoice(voice),
	}
	switch format {
	case "wav":
		params.ResponseFormat = openai.AudioSpeechNewParamsResponseFormatWAV
	case "opus":
		params.ResponseFormat = openai.AudioSpeechNewParamsResponseFormatOpus
	default:
		params.ResponseFormat = openai.AudioSpeechNewParamsResponseFormatMP3
	}

	resp, err := s.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("synthesizing speech: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading synthesized audio: %w", err)
	}

	s.logger.Debug("synthesized speech", "voice", voice, "format", format, "bytes", len(audio))
	return audio, nil
}
