package audio

import (
	"math"

	"github.com/cwbudde/algo-dsp/dsp/window"
)

// SampleCount returns the number of samples a chirp of durationMs occupies.
func SampleCount(durationMs int) int {
	if durationMs <= 0 {
		return 0
	}
	return int(math.Round(float64(SampleRate) * float64(durationMs) / 1000))
}

// ChirpPhase returns the accumulated phase of a linear sweep from startHz to
// endHz. The phase is integrated sample by sample from zero:
//
//	f(t)     = f1 + (f2-f1) * t / T
//	phase[n] = phase[n-1] + 2π * f(n/fs) / fs
//
// so phase[n] is the phase at the end of sample interval n.
func ChirpPhase(startHz, endHz, durationMs int) []float64 {
	n := SampleCount(durationMs)
	phase := make([]float64, n)

	dt := 1.0 / SampleRate
	slope := float64(endHz-startHz) / (float64(durationMs) / 1000)

	acc := 0.0
	for i := range phase {
		f := float64(startHz) + slope*float64(i)*dt
		acc += 2 * math.Pi * f * dt
		phase[i] = acc
	}
	return phase
}

// GenerateChirp synthesizes a Hann-windowed linear chirp as 16-bit PCM.
// The window is symmetric, so the first and last samples are zero.
// Identical inputs always yield identical samples.
func GenerateChirp(startHz, endHz, durationMs int) []int16 {
	phase := ChirpPhase(startHz, endHz, durationMs)
	if len(phase) == 0 {
		return []int16{}
	}

	wave := make([]float64, len(phase))
	for i, ph := range phase {
		wave[i] = math.Sin(ph)
	}
	window.Apply(window.TypeHann, wave)

	out := make([]int16, len(wave))
	for i, v := range wave {
		out[i] = Clip16(math.Round(math.MaxInt16 * v))
	}
	return out
}
