package audio

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/examecho/examecho-stt/internal/config"
	"github.com/examecho/examecho-stt/internal/errs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AudioMetadata describes one transcoding run.
type AudioMetadata struct {
	OriginalPath    string
	ProcessedPath   string
	SampleRate      int
	DurationSeconds float64
}

// PreprocessResult is the canonical signal handed to a backend. Chunks
// partition Samples in time order.
type PreprocessResult struct {
	Samples    []float32
	SampleRate int
	Metadata   AudioMetadata
	Chunks     [][]float32
	Untrimmed  int
	Trimmed    bool
}

// SpeechSeconds is the length of the signal handed to the backend, after
// trimming.
func (r *PreprocessResult) SpeechSeconds() float64 {
	if r == nil || r.SampleRate <= 0 {
		return 0
	}
	return float64(len(r.Samples)) / float64(r.SampleRate)
}

// Cleanup deletes the transcoded intermediate file.
func (r *PreprocessResult) Cleanup() {
	if r == nil {
		return
	}
	removeQuietly(r.Metadata.ProcessedPath)
}

type Preprocessor struct {
	transcoder  Transcoder
	classifiers ClassifierFactory
	target      Format
	workDir     string
	vadEnabled  bool
	vadMode     int
	chunkSec    float64
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewPreprocessor wires the transcode, trim and chunk stages. A nil
// classifier factory disables trimming regardless of cfg.VADEnabled.
func NewPreprocessor(cfg config.AudioConfig, transcoder Transcoder, classifiers ClassifierFactory, logger *slog.Logger) *Preprocessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preprocessor{
		transcoder:  transcoder,
		classifiers: classifiers,
		target:      Format{SampleRate: cfg.TargetSampleRate, Channels: cfg.TargetChannels},
		workDir:     cfg.WorkDir,
		vadEnabled:  cfg.VADEnabled && classifiers != nil,
		vadMode:     cfg.VADMode,
		chunkSec:    cfg.ChunkDurationSec,
		logger:      logger.With(slog.String("component", "audio")),
		tracer:      otel.Tracer("github.com/examecho/examecho-stt/audio"),
	}
}

func (p *Preprocessor) Target() Format {
	return p.target
}

// OutputPath names the transcoded file for one request so that concurrent
// requests for the same input never share it.
func (p *Preprocessor) OutputPath(inputPath, requestID string) string {
	return RequestOutputPath(inputPath, p.target.SampleRate, p.workDir, requestID)
}

// Preprocess runs transcode, trim and chunk in order. On success the caller
// owns the processed file and must call Cleanup. On failure the file has
// already been removed.
func (p *Preprocessor) Preprocess(ctx context.Context, inputPath, outputPath string) (*PreprocessResult, error) {
	const op = "audio.preprocess"
	start := time.Now()

	tctx, span := p.tracer.Start(ctx, "stt.transcode", trace.WithAttributes(attribute.String("input", inputPath)))
	processed, err := p.transcoder.Transcode(tctx, inputPath, p.target, outputPath)
	endSpan(span, err)
	if err != nil {
		return nil, err
	}

	result, err := p.process(ctx, op, inputPath, processed)
	if err != nil {
		removeQuietly(processed)
		return nil, err
	}
	p.logger.Debug("preprocessed audio",
		slog.String("input", inputPath),
		slog.Float64("duration_sec", result.Metadata.DurationSeconds),
		slog.Bool("trimmed", result.Trimmed),
		slog.Int("chunks", len(result.Chunks)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

func (p *Preprocessor) process(ctx context.Context, op, inputPath, processed string) (*PreprocessResult, error) {
	samples, rate, err := LoadWAV(processed)
	if err != nil {
		return nil, errs.Wrap(errs.KindInput, errs.CodeDecodeFailed, op, "decode transcoded audio", err)
	}
	if rate != p.target.SampleRate {
		return nil, errs.TranscodeFailed(op, fmt.Sprintf("tool produced %d Hz, want %d Hz", rate, p.target.SampleRate), nil)
	}

	untrimmed := len(samples)
	if p.vadEnabled {
		_, span := p.tracer.Start(ctx, "stt.trim", trace.WithAttributes(attribute.Int("vad.mode", p.vadMode)))
		samples, err = Trim(samples, rate, p.vadMode, p.classifiers)
		endSpan(span, err)
		if err != nil {
			return nil, errs.Wrap(errs.KindInput, errs.CodeDecodeFailed, op, "voice activity trim", err)
		}
	}

	_, span := p.tracer.Start(ctx, "stt.chunk")
	chunks := Chunk(samples, rate, p.chunkSec)
	span.SetAttributes(attribute.Int("chunks", len(chunks)))
	span.End()

	return &PreprocessResult{
		Samples:    samples,
		SampleRate: rate,
		Metadata: AudioMetadata{
			OriginalPath:    inputPath,
			ProcessedPath:   processed,
			SampleRate:      rate,
			DurationSeconds: float64(untrimmed) / float64(rate),
		},
		Chunks:    chunks,
		Untrimmed: untrimmed,
		Trimmed:   len(samples) < untrimmed,
	}, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
