package audio

import (
	"encoding/binary"
	"math"
)

// Interleave combines two mono channels as [L0,R0,L1,R1,...]. The longer
// channel is truncated to the shorter one's length.
func Interleave(left, right []int16) []int16 {
	n := min(len(left), len(right))
	out := make([]int16, n*2)
	for i := 0; i < n; i++ {
		out[i*2] = left[i]
		out[i*2+1] = right[i]
	}
	return out
}

// Deinterleave splits a stereo buffer back into its channels. A trailing
// unpaired sample is dropped.
func Deinterleave(stereo []int16) (left, right []int16) {
	n := len(stereo) / 2
	left = make([]int16, n)
	right = make([]int16, n)
	for i := 0; i < n; i++ {
		left[i] = stereo[i*2]
		right[i] = stereo[i*2+1]
	}
	return left, right
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*BytesPerSample)
	PutSamples(buf, samples)
	return buf
}

// PutSamples encodes as many samples as fit into buf and returns the number of
// bytes written.
func PutSamples(buf []byte, samples []int16) int {
	n := min(len(samples), len(buf)/BytesPerSample)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(samples[i]))
	}
	return n * BytesPerSample
}

// BytesToSamples decodes little-endian 16-bit PCM. An odd trailing byte is
// ignored.
func BytesToSamples(buf []byte) []int16 {
	samples := make([]int16, len(buf)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2 : i*2+2]))
	}
	return samples
}

// Clip16 saturates v to the int16 range.
func Clip16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	} else if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Peak returns the largest absolute sample value.
func Peak(samples []int16) int {
	peak := 0
	for _, s := range samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}
