// Package genai wraps the OpenAI API for audio transcription of field
// voice notes.
package genai

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey string
	Model  string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the transcription model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// Client wraps the OpenAI audio transcription endpoint.
type Client struct {
	client openai.Client
	model  string
}

// NewClient initializes a GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.AudioModelWhisper1)
	}

	return &Client{
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  cfg.Model,
	}, nil
}

// Transcribe converts a voice note into text.
func (c *Client) Transcribe(ctx context.Context, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("no audio data to transcribe")
	}

	filename := "voice" + extForMime(mimeType)
	resp, err := c.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(c.model),
		File:  openai.File(bytes.NewReader(data), filename, mimeType),
	})
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}

	slog.Debug("Audio transcribed", "bytes", len(data), "transcript_length", len(resp.Text))
	return resp.Text, nil
}

// extForMime picks a filename extension the transcription endpoint accepts.
func extForMime(mimeType string) string {
	mt := mimeType
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = mt[:i]
	}
	switch strings.TrimSpace(mt) {
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4", "audio/m4a":
		return ".m4a"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	default:
		return ".ogg"
	}
}
