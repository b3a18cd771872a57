package audio

import (
	"fmt"
	"io"
)

// FrameMillis is the analysis window used when classifying speech.
const FrameMillis = 30

// Classifier decides whether one PCM frame contains speech.
type Classifier interface {
	IsSpeech(frame []int16, sampleRate int) (bool, error)
}

// ClassifierFactory builds a classifier for an aggressiveness mode 0..3.
type ClassifierFactory func(mode int) (Classifier, error)

func FrameLength(sampleRate int) int {
	return sampleRate * FrameMillis / 1000
}

// Trim keeps the frames the classifier marks as speech, in order. The
// trailing partial frame is never classified. When no frame is speech the
// input is returned unchanged.
func Trim(samples []float32, sampleRate, mode int, newClassifier ClassifierFactory) ([]float32, error) {
	if mode < 0 || mode > 3 {
		return nil, fmt.Errorf("vad mode %d out of range 0..3", mode)
	}
	frameLen := FrameLength(sampleRate)
	if frameLen <= 0 || len(samples) < frameLen {
		return samples, nil
	}

	clf, err := newClassifier(mode)
	if err != nil {
		return nil, fmt.Errorf("create vad: %w", err)
	}
	if closer, ok := clf.(io.Closer); ok {
		defer closer.Close()
	}

	frame := make([]int16, frameLen)
	voiced := make([]float32, 0, len(samples))
	frames := len(samples) / frameLen
	for i := 0; i < frames; i++ {
		seg := samples[i*frameLen : (i+1)*frameLen]
		for j, s := range seg {
			frame[j] = toInt16(s)
		}
		speech, err := clf.IsSpeech(frame, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("classify frame %d: %w", i, err)
		}
		if speech {
			voiced = append(voiced, seg...)
		}
	}
	if len(voiced) == 0 {
		return samples, nil
	}
	return voiced, nil
}
