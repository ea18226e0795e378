package audioio

import "math"

// Resample converts audio from one sample rate to another using linear interpolation.
// This is a simple resampler suitable for speech audio; it is not band-limited.
//
// The output has round(len(samples) * toRate/fromRate) samples. Output index i
// reads source position i/ratio, interpolating between the floor index and its
// successor and holding the last sample when the successor is out of range.
// When the rates match the input slice is returned unchanged.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate {
		return samples
	}
	if len(samples) == 0 || fromRate <= 0 || toRate <= 0 {
		return []float32{}
	}

	ratio := float64(toRate) / float64(fromRate)
	newLen := int(math.Round(float64(len(samples)) * ratio))
	result := make([]float32, newLen)

	last := len(samples) - 1
	for i := 0; i < newLen; i++ {
		srcPos := float64(i) / ratio
		srcIdx := int(math.Floor(srcPos))
		frac := srcPos - float64(srcIdx)

		if srcIdx >= last {
			result[i] = samples[last]
			continue
		}
		s1 := float64(samples[srcIdx])
		s2 := float64(samples[srcIdx+1])
		result[i] = float32(s1 + frac*(s2-s1))
	}

	return result
}

// ResampledLength returns the number of samples Resample produces.
func ResampledLength(n, fromRate, toRate int) int {
	if fromRate == toRate {
		return n
	}
	if n == 0 || fromRate <= 0 || toRate <= 0 {
		return 0
	}
	ratio := float64(toRate) / float64(fromRate)
	return int(math.Round(float64(n) * ratio))
}

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// Int16ToFloat32 normalizes PCM16 samples to [-1, 1).
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// StereoToMono averages interleaved stereo samples to mono.
func StereoToMono(samples []int16) []int16 {
	mono := make([]int16, len(samples)/2)
	for i := range mono {
		left := int32(samples[i*2])
		right := int32(samples[i*2+1])
		mono[i] = int16((left + right) / 2)
	}
	return mono
}

// CalculateRMS calculates the root mean square of samples.
// Returns a value between 0.0 and 1.0.
func CalculateRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
