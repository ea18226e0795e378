package audioio

import (
	"math"
	"testing"
)

func TestResample_SameRate(t *testing.T) {
	samples := []float32{0.1, -0.2, 0.3, -0.4, 0.5}

	for _, rate := range []int{8000, 16000, 22050, 44100} {
		result := Resample(samples, rate, rate)
		if len(result) != len(samples) {
			t.Fatalf("Expected %d samples, got %d", len(samples), len(result))
		}
		for i, s := range samples {
			if result[i] != s {
				t.Errorf("Sample %d: expected %f, got %f", i, s, result[i])
			}
		}
		if &result[0] != &samples[0] {
			t.Error("Expected identity resample to return the input slice")
		}
	}
}

func TestResample_Length(t *testing.T) {
	cases := []struct {
		n, from, to int
	}{
		{11025, 22050, 16000},
		{12000, 24000, 16000},
		{960, 48000, 16000},
		{320, 16000, 24000},
		{1001, 44100, 16000},
		{7, 8000, 22050},
		{1, 24000, 16000},
	}

	for _, c := range cases {
		samples := make([]float32, c.n)
		got := len(Resample(samples, c.from, c.to))
		want := int(math.Round(float64(c.n) * float64(c.to) / float64(c.from)))
		if got != want {
			t.Errorf("%d samples %d->%d: expected %d, got %d", c.n, c.from, c.to, want, got)
		}
		if ResampledLength(c.n, c.from, c.to) != want {
			t.Errorf("ResampledLength(%d, %d, %d) != %d", c.n, c.from, c.to, want)
		}
	}
}

func TestResample_CommonRateLengths(t *testing.T) {
	a := Resample(make([]float32, 11025), 22050, 16000)
	b := Resample(make([]float32, 12000), 24000, 16000)
	if len(a) != 8000 || len(b) != 8000 {
		t.Errorf("Expected 8000 and 8000, got %d and %d", len(a), len(b))
	}
}

func TestResample_Interpolation(t *testing.T) {
	// 2x upsample of a ramp lands halfway between neighbours.
	samples := []float32{0, 0.5, 1}
	result := Resample(samples, 8000, 16000)

	want := []float32{0, 0.25, 0.5, 0.75, 1, 1}
	if len(result) != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(result))
	}
	for i := range want {
		if math.Abs(float64(result[i]-want[i])) > 1e-6 {
			t.Errorf("Sample %d: expected %f, got %f", i, want[i], result[i])
		}
	}
}

func TestResample_Deterministic(t *testing.T) {
	samples := make([]float32, 4410)
	for i := range samples {
		samples[i] = float32(math.Sin(float64(i) * 0.01))
	}

	a := Resample(samples, 44100, 16000)
	b := Resample(samples, 44100, 16000)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Sample %d differs between runs", i)
		}
	}
}

func TestResample_Empty(t *testing.T) {
	if result := Resample(nil, 24000, 48000); len(result) != 0 {
		t.Errorf("Expected empty result for nil input")
	}
	if result := Resample([]float32{}, 24000, 48000); len(result) != 0 {
		t.Errorf("Expected empty result for empty input")
	}
}

func TestBytesToSamples(t *testing.T) {
	data := []byte{0x02, 0x01, 0x04, 0x03}
	samples := BytesToSamples(data)

	if len(samples) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(samples))
	}
	if samples[0] != 0x0102 {
		t.Errorf("Sample 0: expected 0x0102, got 0x%04x", samples[0])
	}
	if samples[1] != 0x0304 {
		t.Errorf("Sample 1: expected 0x0304, got 0x%04x", samples[1])
	}

	back := SamplesToBytes(samples)
	for i := range data {
		if back[i] != data[i] {
			t.Errorf("Byte %d: expected 0x%02x, got 0x%02x", i, data[i], back[i])
		}
	}
}

func TestInt16ToFloat32(t *testing.T) {
	out := Int16ToFloat32([]int16{-32768, 0, 16384})
	want := []float32{-1, 0, 0.5}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("Sample %d: expected %f, got %f", i, want[i], out[i])
		}
	}
}

func TestStereoToMono(t *testing.T) {
	mono := StereoToMono([]int16{100, 300, -200, 200})
	if len(mono) != 2 || mono[0] != 200 || mono[1] != 0 {
		t.Errorf("Unexpected downmix: %v", mono)
	}
}

func TestCalculateRMS(t *testing.T) {
	if rms := CalculateRMS(nil); rms != 0 {
		t.Errorf("Expected 0 for empty input, got %f", rms)
	}
	if rms := CalculateRMS([]float32{0.5, -0.5, 0.5, -0.5}); math.Abs(rms-0.5) > 1e-9 {
		t.Errorf("Expected 0.5, got %f", rms)
	}
}
