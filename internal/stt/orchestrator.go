package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/examecho/examecho-stt/internal/audio"
	"github.com/examecho/examecho-stt/internal/config"
	"github.com/examecho/examecho-stt/internal/errs"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const instrumentationName = "github.com/examecho/examecho-stt/stt"

// Preprocessor produces the canonical signal for one input file.
type Preprocessor interface {
	Preprocess(ctx context.Context, inputPath, outputPath string) (*audio.PreprocessResult, error)
	OutputPath(inputPath, requestID string) string
}

type Request struct {
	InputPath string
	Language  string
	Backend   string
}

// Transcript is a successful transcription. Empty reports that the backend
// recognized nothing, which is not a failure.
type Transcript struct {
	Text        string  `json:"text"`
	Language    string  `json:"language"`
	Backend     Kind    `json:"model"`
	Device      Device  `json:"device"`
	Chunks      int     `json:"chunks"`
	DurationSec float64 `json:"duration_sec"`
	SpeechSec   float64 `json:"speech_sec"`
	Trimmed     bool    `json:"trimmed"`
	Empty       bool    `json:"empty"`
}

type Orchestrator struct {
	pre         Preprocessor
	registry    *Registry
	sem         *semaphore.Weighted
	timeout     time.Duration
	defaultKind Kind
	language    string
	separator   string
	logger      *slog.Logger
	tracer      trace.Tracer
	requests    metric.Int64Counter
	duration    metric.Float64Histogram
}

func NewOrchestrator(cfg config.STTConfig, pre Preprocessor, registry *Registry, logger *slog.Logger) (*Orchestrator, error) {
	if pre == nil || registry == nil {
		return nil, errors.New("orchestrator requires a preprocessor and a registry")
	}
	defaultKind, err := ParseKind(cfg.DefaultBackend)
	if err != nil {
		return nil, fmt.Errorf("stt.default_backend: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	workers := int64(cfg.MaxConcurrency)
	if workers <= 0 {
		workers = 1
	}

	meter := otel.Meter(instrumentationName)
	requests, err := meter.Int64Counter("examecho.stt.requests",
		metric.WithDescription("Transcription requests by backend and outcome"))
	if err != nil {
		return nil, fmt.Errorf("create requests counter: %w", err)
	}
	duration, err := meter.Float64Histogram("examecho.stt.duration",
		metric.WithDescription("End-to-end transcription latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	return &Orchestrator{
		pre:         pre,
		registry:    registry,
		sem:         semaphore.NewWeighted(workers),
		timeout:     time.Duration(cfg.TimeoutMS) * time.Millisecond,
		defaultKind: defaultKind,
		language:    cfg.Language,
		separator:   cfg.ChunkSeparator,
		logger:      logger.With(slog.String("component", "stt.orchestrator")),
		tracer:      otel.Tracer(instrumentationName),
		requests:    requests,
		duration:    duration,
	}, nil
}

func (o *Orchestrator) DefaultKind() Kind {
	return o.defaultKind
}

func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Transcribe runs the full pipeline for one file. Stage errors propagate
// unchanged; backend failures are reported as TranscriptionFailed.
func (o *Orchestrator) Transcribe(ctx context.Context, req Request) (_ *Transcript, err error) {
	const op = "stt.transcribe"
	start := time.Now()

	kind := o.defaultKind
	if strings.TrimSpace(req.Backend) != "" {
		if kind, err = ParseKind(req.Backend); err != nil {
			o.record(ctx, Kind(req.Backend), err, start)
			return nil, err
		}
	}
	if !o.registry.Has(kind) {
		err = errs.UnsupportedBackend(op, string(kind))
		o.record(ctx, kind, err, start)
		return nil, err
	}
	language := req.Language
	if language == "" {
		language = o.language
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	ctx, span := o.tracer.Start(ctx, "stt.request", trace.WithAttributes(
		attribute.String("stt.backend", string(kind)),
		attribute.String("stt.language", language),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		o.record(ctx, kind, err, start)
	}()

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, errs.TranscriptionFailed(op, "no transcription worker available", err)
	}
	defer o.sem.Release(1)

	res, err := o.pre.Preprocess(ctx, req.InputPath, o.pre.OutputPath(req.InputPath, uuid.NewString()))
	if err != nil {
		return nil, err
	}
	defer res.Cleanup()

	handle, err := o.registry.GetOrCreate(ctx, kind)
	if err != nil {
		return nil, errs.Wrap(errs.KindModel, errs.CodeTranscriptionFailed, op, fmt.Sprintf("%s backend unavailable", kind), err)
	}

	text, err := o.infer(ctx, handle, res, Options{Language: language})
	if err != nil {
		return nil, err
	}

	transcript := &Transcript{
		Text:        text,
		Language:    language,
		Backend:     kind,
		Device:      handle.Device(),
		Chunks:      len(res.Chunks),
		DurationSec: res.Metadata.DurationSeconds,
		SpeechSec:   res.SpeechSeconds(),
		Trimmed:     res.Trimmed,
		Empty:       text == "",
	}
	o.logger.Info("transcription complete",
		slog.String("backend", string(kind)),
		slog.String("device", string(transcript.Device)),
		slog.Int("chunks", transcript.Chunks),
		slog.Float64("audio_sec", transcript.DurationSec),
		slog.Bool("empty", transcript.Empty),
		slog.Duration("elapsed", time.Since(start)),
	)
	return transcript, nil
}

// infer transcribes chunks in order and joins the non-empty texts. Any
// chunk failure fails the whole request.
func (o *Orchestrator) infer(ctx context.Context, handle *Handle, res *audio.PreprocessResult, opts Options) (string, error) {
	const op = "stt.inference"
	parts := make([]string, 0, len(res.Chunks))
	for i, chunk := range res.Chunks {
		if len(chunk) == 0 {
			continue
		}
		cctx, span := o.tracer.Start(ctx, "stt.inference", trace.WithAttributes(
			attribute.Int("stt.chunk", i),
			attribute.Int("stt.samples", len(chunk)),
		))
		text, err := o.inferChunk(cctx, handle, chunk, res.SampleRate, opts)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			msg := err.Error()
			if len(res.Chunks) > 1 {
				msg = fmt.Sprintf("chunk %d of %d: %s", i+1, len(res.Chunks), msg)
			}
			return "", errs.TranscriptionFailed(op, msg, err)
		}
		span.End()
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, o.separator), nil
}

func (o *Orchestrator) inferChunk(ctx context.Context, handle *Handle, samples []float32, sampleRate int, opts Options) (string, error) {
	out, err := handle.Transcribe(ctx, samples, sampleRate, opts)
	if err != nil {
		return "", err
	}
	return Normalize(out)
}

func (o *Orchestrator) record(ctx context.Context, kind Kind, err error, start time.Time) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case errs.CodeOf(err) != "":
		outcome = string(errs.CodeOf(err))
	default:
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("backend", string(kind)),
		attribute.String("outcome", outcome),
	)
	ctx = context.WithoutCancel(ctx)
	o.requests.Add(ctx, 1, attrs)
	o.duration.Record(ctx, time.Since(start).Seconds(), attrs)
}
