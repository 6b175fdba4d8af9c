package audioinfo

import (
	"math"
	"testing"
)

func TestSemitoneShift(t *testing.T) {
	cases := []struct {
		name   string
		source float64
		target float64
		want   float64
	}{
		{"identical pitch", 220, 220, 0},
		{"octave up clamps to 12", 110, 440, 12},
		{"octave down clamps to -12", 440, 110, -12},
		{"fifth up", 200, 300, 12 * math.Log2(1.5)},
		{"zero source means no shift", 0, 220, 0},
		{"zero target means no shift", 220, 0, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SemitoneShift(tc.source, tc.target)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("SemitoneShift(%v, %v) = %v, want %v", tc.source, tc.target, got, tc.want)
			}
		})
	}
}

func TestAnalysisHasSpeech(t *testing.T) {
	if (Analysis{DurationSeconds: 30}).HasSpeech() {
		t.Fatal("zero mean pitch must read as no speech")
	}
	if !(Analysis{DurationSeconds: 30, PitchMean: 150}).HasSpeech() {
		t.Fatal("voiced analysis must read as speech")
	}
}
