// Package remote implements the remote-pipeline backend against an
// OpenAI-compatible audio transcription endpoint.
package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/examecho/examecho-stt/internal/audio"
	"github.com/examecho/examecho-stt/internal/config"
	"github.com/examecho/examecho-stt/internal/stt"
	"github.com/sashabaranov/go-openai"
)

type Recognizer struct {
	client  *openai.Client
	model   string
	tempDir string
}

func Factory(cfg config.RemoteBackendConfig, tempDir string) stt.Factory {
	return func(context.Context, stt.Device) (stt.Recognizer, error) {
		return New(cfg, tempDir)
	}
}

func New(cfg config.RemoteBackendConfig, tempDir string) (*Recognizer, error) {
	if cfg.APIKey == "" && cfg.Endpoint == "" {
		return nil, errors.New("stt.remote needs an api_key or an endpoint")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.Whisper1)
	}
	return &Recognizer{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   model,
		tempDir: tempDir,
	}, nil
}

func (r *Recognizer) ConcurrencySafe() bool { return true }

func (r *Recognizer) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts stt.Options) (stt.Output, error) {
	file, err := os.CreateTemp(r.tempDir, "examecho_remote_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	if err := audio.WriteWAV(file, samples, sampleRate); err != nil {
		file.Close()
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("close temp wav: %w", err)
	}

	req := openai.AudioRequest{
		Model:    r.model,
		FilePath: file.Name(),
		Format:   openai.AudioResponseFormatVerboseJSON,
	}
	if lang := strings.TrimSpace(opts.Language); lang != "" && lang != "auto" {
		req.Language = lang
	}

	resp, err := r.client.CreateTranscription(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("remote transcription rejected (status %d): %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("remote transcription: %w", err)
	}

	if text := strings.TrimSpace(resp.Text); text != "" || len(resp.Segments) == 0 {
		return stt.Text(text), nil
	}
	parts := make([]string, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		if s := strings.TrimSpace(seg.Text); s != "" {
			parts = append(parts, s)
		}
	}
	return stt.Text(strings.Join(parts, " ")), nil
}
