package audio

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/examecho/examecho-stt/internal/config"
	"github.com/examecho/examecho-stt/internal/errs"
)

type fakeTranscoder struct {
	samples []float32
	rate    int
	err     error
	outputs []string
}

func (f *fakeTranscoder) Transcode(_ context.Context, inputPath string, target Format, outputPath string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if outputPath == "" {
		outputPath = DerivedOutputPath(inputPath, target.SampleRate, "")
	}
	rate := f.rate
	if rate == 0 {
		rate = target.SampleRate
	}
	if err := WriteWAVFile(outputPath, f.samples, rate); err != nil {
		return "", err
	}
	f.outputs = append(f.outputs, outputPath)
	return outputPath, nil
}

func audioConfig() config.AudioConfig {
	cfg := config.Default().Audio
	cfg.ChunkDurationSec = 1
	return cfg
}

func TestPreprocessTrimsAndChunks(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "answer.ogg")
	pattern := make([]bool, 80)
	for i := 10; i < 70; i++ {
		pattern[i] = true
	}
	tr := &fakeTranscoder{samples: signal(16000, pattern, 0)}
	p := NewPreprocessor(audioConfig(), tr, energyFactory(nil), newLogger())

	res, err := p.Preprocess(context.Background(), input, "")
	if err != nil {
		t.Fatalf("preprocess: %v", err)
	}
	defer res.Cleanup()

	frameLen := FrameLength(16000)
	if len(res.Samples) != 60*frameLen {
		t.Fatalf("expected 60 speech frames, got %d samples", len(res.Samples))
	}
	if !res.Trimmed || res.Untrimmed != 80*frameLen {
		t.Fatalf("expected trimmed flag and untrimmed length, got %v/%d", res.Trimmed, res.Untrimmed)
	}
	if len(res.Chunks) != 2 || len(res.Chunks[0]) != 16000 {
		t.Fatalf("expected a 1s chunk then remainder, got %d chunks", len(res.Chunks))
	}
	if res.Metadata.OriginalPath != input || res.Metadata.SampleRate != 16000 {
		t.Fatalf("unexpected metadata %+v", res.Metadata)
	}
	if res.Metadata.DurationSeconds != 2.4 {
		t.Fatalf("expected the transcoded 2.4s, got %v", res.Metadata.DurationSeconds)
	}
	if res.SpeechSeconds() != 1.8 {
		t.Fatalf("expected 1.8s of speech, got %v", res.SpeechSeconds())
	}

	res.Cleanup()
	if _, err := os.Stat(res.Metadata.ProcessedPath); !os.IsNotExist(err) {
		t.Fatalf("expected processed file removed")
	}
}

func TestPreprocessSilenceFallsBackToTranscodedSignal(t *testing.T) {
	tr := &fakeTranscoder{samples: signal(16000, make([]bool, 66), 20)}
	p := NewPreprocessor(audioConfig(), tr, energyFactory(nil), newLogger())

	res, err := p.Preprocess(context.Background(), filepath.Join(t.TempDir(), "quiet.wav"), "")
	if err != nil {
		t.Fatalf("preprocess: %v", err)
	}
	defer res.Cleanup()
	if res.Trimmed || len(res.Samples) != len(tr.samples) {
		t.Fatalf("expected untrimmed fallback, got %d of %d", len(res.Samples), len(tr.samples))
	}
	for i := range tr.samples {
		if res.Samples[i] != tr.samples[i] {
			t.Fatalf("sample %d differs from transcoded signal", i)
		}
	}
}

func TestPreprocessVADDisabled(t *testing.T) {
	cfg := audioConfig()
	cfg.VADEnabled = false
	cfg.ChunkDurationSec = 0
	tr := &fakeTranscoder{samples: signal(16000, []bool{false, true, false}, 3)}
	called := false
	factory := func(int) (Classifier, error) {
		called = true
		return &energyClassifier{}, nil
	}
	p := NewPreprocessor(cfg, tr, factory, newLogger())

	res, err := p.Preprocess(context.Background(), filepath.Join(t.TempDir(), "a.wav"), "")
	if err != nil {
		t.Fatalf("preprocess: %v", err)
	}
	defer res.Cleanup()
	if called {
		t.Fatalf("classifier used with vad disabled")
	}
	if len(res.Samples) != len(tr.samples) || len(res.Chunks) != 1 {
		t.Fatalf("expected untouched single chunk")
	}
}

func TestPreprocessPropagatesTranscoderError(t *testing.T) {
	tr := &fakeTranscoder{err: errs.FileNotFound("audio.transcode", "x", nil)}
	p := NewPreprocessor(audioConfig(), tr, energyFactory(nil), newLogger())
	if _, err := p.Preprocess(context.Background(), "x", ""); !errs.IsCode(err, errs.CodeFileNotFound) {
		t.Fatalf("expected FileNotFound unchanged, got %v", err)
	}
}

func TestPreprocessRemovesFileOnRateMismatch(t *testing.T) {
	tr := &fakeTranscoder{samples: make([]float32, 100), rate: 44100}
	p := NewPreprocessor(audioConfig(), tr, energyFactory(nil), newLogger())

	_, err := p.Preprocess(context.Background(), filepath.Join(t.TempDir(), "hifi.wav"), "")
	if !errs.IsCode(err, errs.CodeTranscodeFailed) {
		t.Fatalf("expected TranscodeFailed, got %v", err)
	}
	if _, statErr := os.Stat(tr.outputs[0]); !os.IsNotExist(statErr) {
		t.Fatalf("expected intermediate removed on failure")
	}
}
