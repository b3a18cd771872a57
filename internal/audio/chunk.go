package audio

// Chunk splits samples into contiguous pieces of at most
// sampleRate*maxDurationSec samples. Only the last piece may be shorter.
// Input that already fits, or a non-positive bound, yields a single chunk.
func Chunk(samples []float32, sampleRate int, maxDurationSec float64) [][]float32 {
	size := int(float64(sampleRate) * maxDurationSec)
	if size <= 0 || len(samples) <= size {
		return [][]float32{samples}
	}
	chunks := make([][]float32, 0, (len(samples)+size-1)/size)
	for start := 0; start < len(samples); start += size {
		end := min(start+size, len(samples))
		chunks = append(chunks, samples[start:end:end])
	}
	return chunks
}
