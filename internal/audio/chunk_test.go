package audio

import "testing"

func TestChunkThreeMinutesIntoTwo(t *testing.T) {
	rate := 16000
	samples := make([]float32, 180*rate)
	for i := range samples {
		samples[i] = float32(i%1000) / 1000
	}

	chunks := Chunk(samples, rate, 90)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 90*rate {
		t.Fatalf("expected first chunk of exactly 90s, got %d samples", len(chunks[0]))
	}
	if len(chunks[1]) > 90*rate {
		t.Fatalf("second chunk exceeds bound")
	}
}

func TestChunkConcatenationReconstructsInput(t *testing.T) {
	rate := 8000
	samples := make([]float32, 8000*7+123)
	for i := range samples {
		samples[i] = float32(i)
	}

	for _, max := range []float64{0.5, 1, 2.5, 3, 10} {
		chunks := Chunk(samples, rate, max)
		var joined []float32
		for i, c := range chunks {
			if i < len(chunks)-1 && len(c) != int(float64(rate)*max) {
				t.Fatalf("max=%v: chunk %d has %d samples", max, i, len(c))
			}
			joined = append(joined, c...)
		}
		if len(joined) != len(samples) {
			t.Fatalf("max=%v: expected %d samples, got %d", max, len(samples), len(joined))
		}
		for i := range samples {
			if joined[i] != samples[i] {
				t.Fatalf("max=%v: sample %d differs", max, i)
			}
		}
	}
}

func TestChunkDegenerateInputs(t *testing.T) {
	samples := []float32{1, 2, 3}
	for _, max := range []float64{0, -1} {
		chunks := Chunk(samples, 16000, max)
		if len(chunks) != 1 || len(chunks[0]) != 3 {
			t.Fatalf("max=%v: expected single chunk, got %v", max, chunks)
		}
	}

	chunks := Chunk(nil, 16000, 90)
	if len(chunks) != 1 || len(chunks[0]) != 0 {
		t.Fatalf("expected one empty chunk, got %v", chunks)
	}
}

func TestChunkAppendDoesNotClobberNeighbour(t *testing.T) {
	samples := []float32{1, 2, 3, 4}
	chunks := Chunk(samples, 2, 1)
	_ = append(chunks[0], 99)
	if chunks[1][0] != 3 {
		t.Fatalf("append to a chunk overwrote the next one")
	}
}
