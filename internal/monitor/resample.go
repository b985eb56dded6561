package monitor

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/resample"

	"github.com/satindergrewal/chirplab/internal/audio"
)

// upsampler converts capture blocks to the opus rate. The filter state is
// kept across calls, so a stream split into blocks of any size converts to
// the same output as the whole stream.
type upsampler struct {
	rs  *resample.Resampler
	buf []float64
}

func newUpsampler(inRate, outRate int) (*upsampler, error) {
	rs, err := resample.NewForRates(float64(inRate), float64(outRate))
	if err != nil {
		return nil, fmt.Errorf("resampler %d->%d Hz: %w", inRate, outRate, err)
	}
	return &upsampler{rs: rs}, nil
}

// process converts block and returns the produced samples.
func (u *upsampler) process(block []int16) []int16 {
	if len(block) == 0 {
		return nil
	}
	u.buf = u.buf[:0]
	for _, v := range block {
		u.buf = append(u.buf, float64(v))
	}
	y := u.rs.Process(u.buf)
	out := make([]int16, len(y))
	for i, v := range y {
		out[i] = audio.Clip16(math.Round(v))
	}
	return out
}

// framer cuts a stream into fixed-size frames.
type framer struct {
	size int
	buf  []int16
}

func newFramer(size int) *framer {
	return &framer{size: size, buf: make([]int16, 0, 2*size)}
}

// push appends samples and returns every complete frame. Returned frames
// do not alias the internal buffer.
func (f *framer) push(samples []int16) [][]int16 {
	f.buf = append(f.buf, samples...)
	var frames [][]int16
	off := 0
	for len(f.buf)-off >= f.size {
		frame := make([]int16, f.size)
		copy(frame, f.buf[off:off+f.size])
		frames = append(frames, frame)
		off += f.size
	}
	f.buf = f.buf[:copy(f.buf, f.buf[off:])]
	return frames
}
