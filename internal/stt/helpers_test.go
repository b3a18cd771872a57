package stt

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/examecho/examecho-stt/internal/audio"
	"github.com/examecho/examecho-stt/internal/config"
	"github.com/examecho/examecho-stt/internal/errs"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// wavTranscoder pretends to be ffmpeg by writing a prepared signal.
type wavTranscoder struct {
	samples []float32
	mu      sync.Mutex
	outputs []string
}

func (w *wavTranscoder) Transcode(_ context.Context, inputPath string, target audio.Format, outputPath string) (string, error) {
	if _, err := os.Stat(inputPath); err != nil {
		return "", errs.FileNotFound("audio.transcode", inputPath, err)
	}
	if outputPath == "" {
		outputPath = audio.DerivedOutputPath(inputPath, target.SampleRate, "")
	}
	if err := audio.WriteWAVFile(outputPath, w.samples, target.SampleRate); err != nil {
		return "", err
	}
	w.mu.Lock()
	w.outputs = append(w.outputs, outputPath)
	w.mu.Unlock()
	return outputPath, nil
}

func (w *wavTranscoder) lastOutput() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.outputs) == 0 {
		return ""
	}
	return w.outputs[len(w.outputs)-1]
}

type peakClassifier struct{}

func (peakClassifier) IsSpeech(frame []int16, _ int) (bool, error) {
	for _, s := range frame {
		if s > 1000 || s < -1000 {
			return true, nil
		}
	}
	return false, nil
}

func peakFactory(int) (audio.Classifier, error) { return peakClassifier{}, nil }

// speech alternates loud and quiet 30 ms frames at 16 kHz.
func speech(seconds float64) []float32 {
	n := int(seconds * 16000)
	out := make([]float32, n)
	frame := audio.FrameLength(16000)
	for i := range out {
		if (i/frame)%2 == 0 {
			out[i] = 0.3
			if i%2 == 1 {
				out[i] = -0.3
			}
		}
	}
	return out
}

func silence(seconds float64) []float32 {
	return make([]float32, int(seconds*16000))
}

// recordingRecognizer returns canned outputs and remembers what it saw.
type recordingRecognizer struct {
	mu         sync.Mutex
	calls      [][]float32
	languages  []string
	outputs    []Output
	err        error
	failAt     int
	concurrent bool
	active     atomic.Int32
	overlap    atomic.Bool
	block      chan struct{}
}

func (r *recordingRecognizer) ConcurrencySafe() bool { return r.concurrent }

func (r *recordingRecognizer) Transcribe(ctx context.Context, samples []float32, _ int, opts Options) (Output, error) {
	if r.active.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.active.Add(-1)
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	idx := len(r.calls)
	r.calls = append(r.calls, append([]float32(nil), samples...))
	r.languages = append(r.languages, opts.Language)
	if r.err != nil && (r.failAt < 0 || r.failAt == idx) {
		return nil, r.err
	}
	if idx < len(r.outputs) {
		return r.outputs[idx], nil
	}
	return Text("hello world"), nil
}

type harness struct {
	orch       *Orchestrator
	registry   *Registry
	transcoder *wavTranscoder
	recognizer *recordingRecognizer
	inits      *atomic.Int32
	dir        string
	input      string
}

func newHarness(t *testing.T, samples []float32, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.STT.TimeoutMS = 0
	if mutate != nil {
		mutate(&cfg)
	}

	dir := t.TempDir()
	input := dir + "/answer.webm"
	if err := os.WriteFile(input, []byte("webm bytes"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	tr := &wavTranscoder{samples: samples}
	pre := audio.NewPreprocessor(cfg.Audio, tr, peakFactory, newLogger())
	rec := &recordingRecognizer{failAt: -1}
	inits := &atomic.Int32{}
	registry := NewRegistry(newLogger())
	factory := func(context.Context, Device) (Recognizer, error) {
		inits.Add(1)
		return rec, nil
	}
	for _, kind := range []Kind{KindLocal, KindRemote} {
		if err := registry.Register(kind, Spec{Factory: factory, Probe: FixedDevice(DeviceCPU)}); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	orch, err := NewOrchestrator(cfg.STT, pre, registry, newLogger())
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return &harness{orch: orch, registry: registry, transcoder: tr, recognizer: rec, inits: inits, dir: dir, input: input}
}

func assertRemoved(t *testing.T, path string) {
	t.Helper()
	if path == "" {
		return
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected %s removed, stat err %v", path, err)
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
