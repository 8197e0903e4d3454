package audio

import "math"

// Downsample converts samples from inRate to outRate by averaging the input
// samples that fall in each output bucket. The bucket for output slot i spans
// [floor(i*ratio), floor((i+1)*ratio)) with ratio = inRate/outRate. An empty
// bucket repeats the sample at its start. Equal rates return the input as is.
func Downsample(samples []float32, inRate, outRate int) []float32 {
	if inRate == outRate || inRate <= 0 || outRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(inRate) / float64(outRate)
	n := int(math.Round(float64(len(samples)) / ratio))
	out := make([]float32, n)

	for i := 0; i < n; i++ {
		start := int(math.Floor(float64(i) * ratio))
		end := int(math.Floor(float64(i+1) * ratio))
		if start >= len(samples) {
			start = len(samples) - 1
		}

		var sum float64
		count := 0
		for j := start; j < end && j < len(samples); j++ {
			sum += float64(samples[j])
			count++
		}
		if count > 0 {
			out[i] = float32(sum / float64(count))
		} else {
			out[i] = samples[start]
		}
	}
	return out
}
