package stt

import (
	"context"
)

// Options carries per-call recognition hints.
type Options struct {
	Language string
}

// Recognizer abstracts STT backends. Samples are mono float32 in [-1, 1).
// A recognizer may implement io.Closer to release model resources.
type Recognizer interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int, opts Options) (Output, error)
}

// ConcurrencySafe is implemented by recognizers that tolerate parallel
// Transcribe calls on one instance. Others are serialized per handle.
type ConcurrencySafe interface {
	ConcurrencySafe() bool
}
