package audio

import (
	"errors"
	"time"
)

// SampleRate is shared by the synthesizer, codec, playback and capture paths.
// It is not configurable.
const (
	SampleRate     = 44100
	BitDepth       = 16
	BytesPerSample = BitDepth / 8
	MinFrequencyHz = 20 // audible floor, applied to the sweep start only
)

// ErrInvalidParameter is returned for non-positive durations and malformed
// numeric input from the parameter source.
var ErrInvalidParameter = errors.New("audio: invalid parameter")

// Format describes a 16-bit signed PCM stream at SampleRate.
type Format struct {
	Channels int
}

var (
	StereoOut = Format{Channels: 2} // playback
	MonoIn    = Format{Channels: 1} // capture
)

// FrameBytes returns the size of one frame (one sample per channel) in bytes.
func (f Format) FrameBytes() int {
	return f.Channels * BytesPerSample
}

// SampleDuration is the time covered by n samples of one channel.
func SampleDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}
