// Package portaudio provides the device.Backend on the host's default
// PortAudio devices. It is the only package that links libportaudio.
package portaudio

import (
	"fmt"
	"math"
	"sync"

	pa "github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/satindergrewal/chirplab/internal/audio"
	"github.com/satindergrewal/chirplab/internal/device"
)

// Backend opens the default PortAudio output and input.
type Backend struct {
	log *zap.SugaredLogger
}

var _ device.Backend = (*Backend)(nil)

// New initializes the PortAudio library. Call Close when done.
func New(log *zap.SugaredLogger) (*Backend, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio init: %v", device.ErrUnavailable, err)
	}
	log.Infow("portaudio initialized", "version", pa.VersionText())
	return &Backend{log: log}, nil
}

// Close terminates the PortAudio library.
func (b *Backend) Close() error {
	return pa.Terminate()
}

// MinBufferSize derives the minimum buffer from the default device's low
// latency figure.
func (b *Backend) MinBufferSize(dir device.Direction, f audio.Format) (int, error) {
	var (
		dev *pa.DeviceInfo
		err error
	)
	if dir == device.Capture {
		dev, err = pa.DefaultInputDevice()
	} else {
		dev, err = pa.DefaultOutputDevice()
	}
	if err != nil {
		return 0, fmt.Errorf("%w: default %s device: %v", device.ErrUnavailable, dir, err)
	}

	latency := dev.DefaultLowOutputLatency
	if dir == device.Capture {
		latency = dev.DefaultLowInputLatency
	}
	frames := int(math.Ceil(latency.Seconds() * audio.SampleRate))
	if frames < 1 {
		frames = 1
	}
	return frames * f.FrameBytes(), nil
}

// OpenOutput opens the default output with a callback that renders a fully
// loaded clip and then silence.
func (b *Backend) OpenOutput(f audio.Format, bufferBytes int) (device.Output, error) {
	o := &paOutput{
		clip: make([]int16, 0, bufferBytes/audio.BytesPerSample),
		done: make(chan struct{}),
	}
	stream, err := pa.OpenDefaultStream(0, f.Channels, audio.SampleRate, 0, o.render)
	if err != nil {
		return nil, fmt.Errorf("%w: open output: %v", device.ErrUnavailable, err)
	}
	o.stream = stream
	return o, nil
}

// OpenInput opens the default input for blocking reads of bufferBytes.
func (b *Backend) OpenInput(f audio.Format, bufferBytes int) (device.Input, error) {
	frames := bufferBytes / f.FrameBytes()
	if frames < 1 {
		frames = 1
	}
	in := &paInput{log: b.log, buf: make([]int16, frames*f.Channels)}
	stream, err := pa.OpenDefaultStream(f.Channels, 0, audio.SampleRate, frames, in.buf)
	if err != nil {
		return nil, fmt.Errorf("%w: open input: %v", device.ErrUnavailable, err)
	}
	in.stream = stream
	return in, nil
}

type paOutput struct {
	stream *pa.Stream

	mu       sync.Mutex
	clip     []int16
	pos      int
	done     chan struct{}
	doneOnce sync.Once
}

func (o *paOutput) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clip = append(o.clip, audio.BytesToSamples(p)...)
	return len(p) - len(p)%audio.BytesPerSample, nil
}

// render runs on the PortAudio callback thread.
func (o *paOutput) render(out []int16) {
	o.mu.Lock()
	n := copy(out, o.clip[o.pos:])
	o.pos += n
	finished := o.pos >= len(o.clip)
	o.mu.Unlock()

	clear(out[n:])
	if finished {
		o.finish()
	}
}

func (o *paOutput) finish() {
	o.doneOnce.Do(func() { close(o.done) })
}

func (o *paOutput) Play() error {
	if err := o.stream.Start(); err != nil {
		return fmt.Errorf("%w: start output: %v", device.ErrUnavailable, err)
	}
	return nil
}

func (o *paOutput) Done() <-chan struct{} { return o.done }

func (o *paOutput) Stop() error {
	defer o.finish()
	return o.stream.Stop()
}

func (o *paOutput) Close() error {
	defer o.finish()
	return o.stream.Close()
}

type paInput struct {
	log    *zap.SugaredLogger
	stream *pa.Stream
	buf    []int16
}

func (in *paInput) Start() error {
	if err := in.stream.Start(); err != nil {
		return fmt.Errorf("%w: start input: %v", device.ErrUnavailable, err)
	}
	return nil
}

func (in *paInput) Read(p []byte) (int, error) {
	if err := in.stream.Read(); err != nil {
		if err != pa.InputOverflowed {
			return 0, err
		}
		in.log.Debugw("capture overflow, samples were lost")
	}
	return audio.PutSamples(p, in.buf), nil
}

func (in *paInput) Stop() error  { return in.stream.Stop() }
func (in *paInput) Close() error { return in.stream.Close() }
