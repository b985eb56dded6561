// Package device abstracts the audio hardware the engines need: a stereo
// output that accepts one fully loaded clip and a mono input that delivers a
// continuous stream of PCM blocks. All formats are 16-bit signed PCM at
// audio.SampleRate.
package device

import (
	"errors"

	"github.com/satindergrewal/chirplab/internal/audio"
)

// ErrUnavailable wraps every open/start failure of an output or input device.
var ErrUnavailable = errors.New("device unavailable")

// Direction selects the output or input side of a backend.
type Direction int

const (
	Playback Direction = iota
	Capture
)

func (d Direction) String() string {
	if d == Capture {
		return "capture"
	}
	return "playback"
}

// Backend opens devices.
type Backend interface {
	// MinBufferSize is the smallest device buffer in bytes the platform
	// accepts for the format.
	MinBufferSize(dir Direction, f audio.Format) (int, error)
	OpenOutput(f audio.Format, bufferBytes int) (Output, error)
	OpenInput(f audio.Format, bufferBytes int) (Input, error)
}

// Output plays one statically loaded clip.
type Output interface {
	// Write queues interleaved little-endian PCM. The whole clip is loaded
	// before Play; nothing is streamed afterwards.
	Write(p []byte) (int, error)
	Play() error
	// Done is closed once the loaded clip has been rendered.
	Done() <-chan struct{}
	Stop() error
	Close() error
}

// Input delivers captured PCM.
type Input interface {
	Start() error
	// Read blocks until captured bytes are available. It may return fewer
	// bytes than len(p).
	Read(p []byte) (int, error)
	Stop() error
	Close() error
}
