// Package whispercpp runs the local backend on a whisper.cpp model loaded
// once per process.
package whispercpp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/examecho/examecho-stt/internal/config"
	"github.com/examecho/examecho-stt/internal/stt"
	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

const sampleRate = 16000

type Recognizer struct {
	model   whisper.Model
	threads int
	device  stt.Device
}

// Factory loads the model when the registry first asks for the local
// backend. whisper.cpp offloads to the GPU by itself when built with CUDA;
// device only tags the handle.
func Factory(cfg config.LocalBackendConfig, logger *slog.Logger) stt.Factory {
	return func(_ context.Context, device stt.Device) (stt.Recognizer, error) {
		rec, err := New(cfg, device)
		if err != nil {
			return nil, err
		}
		logger.Info("whisper model loaded",
			slog.String("model_path", cfg.ModelPath),
			slog.String("device", string(device)),
			slog.Bool("multilingual", rec.model.IsMultilingual()))
		return rec, nil
	}
}

func New(cfg config.LocalBackendConfig, device stt.Device) (*Recognizer, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("stt.local.model_path is empty")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("whisper model: %w", err)
	}
	model, err := whisper.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model %q: %w", cfg.ModelPath, err)
	}
	return &Recognizer{model: model, threads: cfg.Threads, device: device}, nil
}

func (r *Recognizer) ConcurrencySafe() bool { return false }

func (r *Recognizer) Transcribe(ctx context.Context, samples []float32, rate int, opts stt.Options) (stt.Output, error) {
	if rate != sampleRate {
		return nil, fmt.Errorf("whisper needs %d Hz audio, got %d Hz", sampleRate, rate)
	}
	wctx, err := r.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create whisper context: %w", err)
	}
	if r.threads > 0 {
		wctx.SetThreads(uint(r.threads))
	}
	if lang := strings.TrimSpace(opts.Language); lang != "" && r.model.IsMultilingual() {
		if err := wctx.SetLanguage(lang); err != nil {
			return nil, fmt.Errorf("set language %q: %w", lang, err)
		}
	}

	keepGoing := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(samples, keepGoing, nil, nil); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("whisper process: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var segments []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper segment: %w", err)
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			segments = append(segments, text)
		}
	}
	return stt.Text(strings.Join(segments, " ")), nil
}

func (r *Recognizer) Close() error {
	if r.model == nil {
		return nil
	}
	return r.model.Close()
}
