package audio

import (
	"math"
	"testing"
)

func TestDownsample_SameRate(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	out := Downsample(in, 16000, 16000)
	if len(out) != len(in) {
		t.Fatalf("expected %d samples, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d changed: %v -> %v", i, in[i], out[i])
		}
	}
}

func TestDownsample_ConstantSignal(t *testing.T) {
	tests := []struct {
		name   string
		inRate int
		length int
	}{
		{"48kHz", 48000, 4096},
		{"44.1kHz", 44100, 4096},
		{"22.05kHz", 22050, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := make([]float32, tt.length)
			for i := range in {
				in[i] = 0.5
			}

			out := Downsample(in, tt.inRate, SampleRate16kHz)

			ratio := float64(tt.inRate) / SampleRate16kHz
			want := int(math.Round(float64(tt.length) / ratio))
			if len(out) != want {
				t.Fatalf("expected %d samples, got %d", want, len(out))
			}
			for i, v := range out {
				if math.Abs(float64(v-0.5)) > 1e-6 {
					t.Fatalf("sample %d: expected 0.5, got %v", i, v)
				}
			}
		})
	}
}

func TestDownsample_AveragesBuckets(t *testing.T) {
	in := []float32{0, 1, 2, 3, 4, 5}
	out := Downsample(in, 48000, 16000)

	want := []float32{1, 4}
	if len(out) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(out))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d: expected %v, got %v", i, want[i], out[i])
		}
	}
}

func TestDownsample_UpsampleRepeats(t *testing.T) {
	in := []float32{0.25, 0.75}
	out := Downsample(in, 8000, 16000)
	if len(out) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(out))
	}
	want := []float32{0.25, 0.25, 0.75, 0.75}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d: expected %v, got %v", i, want[i], out[i])
		}
	}
}
