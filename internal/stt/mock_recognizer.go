package stt

import (
	"context"
	"fmt"
)

type mockRecognizer struct{}

func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) ConcurrencySafe() bool { return true }

func (m *mockRecognizer) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts Options) (Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seconds := 0.0
	if sampleRate > 0 {
		seconds = float64(len(samples)) / float64(sampleRate)
	}
	return Text(fmt.Sprintf("[mock transcript lang=%s seconds=%.2f]", opts.Language, seconds)), nil
}
