package audioinfo

import "math"

const maxSemitoneShift = 12

// SemitoneShift returns the transposition, in semitones, that moves a voice
// from sourcePitch to targetPitch. The result is clamped to one octave in
// either direction. A zero pitch on either side means no usable estimate, so
// no shift is applied.
func SemitoneShift(sourcePitch, targetPitch float64) float64 {
	if sourcePitch <= 0 || targetPitch <= 0 {
		return 0
	}
	shift := 12 * math.Log2(targetPitch/sourcePitch)
	if shift > maxSemitoneShift {
		return maxSemitoneShift
	}
	if shift < -maxSemitoneShift {
		return -maxSemitoneShift
	}
	return shift
}
