package vad

import (
	"math"
	"testing"

	"github.com/examecho/examecho-stt/internal/audio"
)

func TestRejectsInvalidMode(t *testing.T) {
	if _, err := New(5); err == nil {
		t.Fatalf("expected mode error")
	}
}

func TestSilenceIsNotSpeech(t *testing.T) {
	clf, err := New(3)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer clf.(*WebRTC).Close()

	frame := make([]int16, audio.FrameLength(16000))
	speech, err := clf.IsSpeech(frame, 16000)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if speech {
		t.Fatalf("digital silence classified as speech")
	}
}

func TestRejectsUnsupportedFrames(t *testing.T) {
	clf, err := New(1)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer clf.(*WebRTC).Close()

	if _, err := clf.IsSpeech(make([]int16, 441*3), 44100); err == nil {
		t.Fatalf("expected sample rate error")
	}
	if _, err := clf.IsSpeech(make([]int16, 100), 16000); err == nil {
		t.Fatalf("expected frame length error")
	}
}

func TestTrimWithWebRTCFallsBackOnSilence(t *testing.T) {
	samples := make([]float32, 16000)
	for i := range samples {
		samples[i] = float32(1e-5 * math.Sin(float64(i)))
	}
	out, err := audio.Trim(samples, 16000, 2, New)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if len(out) != len(samples) {
		t.Fatalf("expected fallback to full signal, got %d samples", len(out))
	}
}

// The detector adapts its noise floor and hangover to what it has heard, so
// a second pass over already trimmed audio may drop onset frames but must
// never grow the signal.
func TestTrimWithWebRTCTwiceNeverGrows(t *testing.T) {
	const rate = 16000
	frame := audio.FrameLength(rate)
	var samples []float32
	for burst := 0; burst < 4; burst++ {
		samples = append(samples, make([]float32, 10*frame)...)
		for i := 0; i < 15*frame; i++ {
			x := float64(i) / rate
			v := 0.3*math.Sin(2*math.Pi*220*x) + 0.2*math.Sin(2*math.Pi*450*x) + 0.1*math.Sin(2*math.Pi*1250*x)
			samples = append(samples, float32(v))
		}
	}
	samples = append(samples, make([]float32, 10*frame)...)

	once, err := audio.Trim(samples, rate, 2, New)
	if err != nil {
		t.Fatalf("first trim: %v", err)
	}
	twice, err := audio.Trim(once, rate, 2, New)
	if err != nil {
		t.Fatalf("second trim: %v", err)
	}
	if len(once) == 0 || len(twice) == 0 {
		t.Fatalf("trim returned an empty signal")
	}
	if len(once) > len(samples) || len(twice) > len(once) {
		t.Fatalf("trim grew the signal: %d -> %d -> %d", len(samples), len(once), len(twice))
	}
	if len(once)%frame != 0 && len(once) != len(samples) {
		t.Fatalf("trimmed signal is not whole frames: %d", len(once))
	}
}
