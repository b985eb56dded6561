// Package devicetest provides an in-memory device.Backend for tests.
package devicetest

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/satindergrewal/chirplab/internal/audio"
	"github.com/satindergrewal/chirplab/internal/device"
)

// ErrBusy is returned by a Backend configured to fail opening.
var ErrBusy = errors.New("fake device busy")

// Backend records every device it opens. Zero value is usable with a
// 256-frame minimum buffer.
type Backend struct {
	MinFrames     int  // minimum buffer in frames, 256 when zero
	FailOutput    bool // OpenOutput fails
	FailInput     bool // OpenInput fails
	FailPlay      bool // Output.Play fails
	FailStart     bool // Input.Start fails
	InputBlocks   [][]int16
	BlockForever  bool // reads with no queued blocks block until Close
	IgnoreCloseRd bool // a blocked read does not return on Close

	mu      sync.Mutex
	outputs []*Output
	inputs  []*Input
}

func (b *Backend) MinBufferSize(_ device.Direction, f audio.Format) (int, error) {
	frames := b.MinFrames
	if frames == 0 {
		frames = 256
	}
	return frames * f.FrameBytes(), nil
}

func (b *Backend) OpenOutput(f audio.Format, bufferBytes int) (device.Output, error) {
	if b.FailOutput {
		return nil, ErrBusy
	}
	o := &Output{Format: f, BufferBytes: bufferBytes, failPlay: b.FailPlay, done: make(chan struct{})}
	b.mu.Lock()
	b.outputs = append(b.outputs, o)
	b.mu.Unlock()
	return o, nil
}

func (b *Backend) OpenInput(f audio.Format, bufferBytes int) (device.Input, error) {
	if b.FailInput {
		return nil, ErrBusy
	}
	in := &Input{
		Format:       f,
		BufferBytes:  bufferBytes,
		blocks:       append([][]int16(nil), b.InputBlocks...),
		failStart:    b.FailStart,
		blockForever: b.BlockForever,
		ignoreClose:  b.IgnoreCloseRd,
		closed:       make(chan struct{}),
	}
	b.mu.Lock()
	b.inputs = append(b.inputs, in)
	b.mu.Unlock()
	return in, nil
}

// Outputs returns every output opened so far.
func (b *Backend) Outputs() []*Output {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Output(nil), b.outputs...)
}

// Inputs returns every input opened so far.
func (b *Backend) Inputs() []*Input {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Input(nil), b.inputs...)
}

// Output is a fake output device.
type Output struct {
	Format      audio.Format
	BufferBytes int
	failPlay    bool

	mu       sync.Mutex
	data     []byte
	playing  bool
	stops    int
	closed   bool
	done     chan struct{}
	doneOnce sync.Once
}

func (o *Output) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.data = append(o.data, p...)
	return len(p), nil
}

func (o *Output) Play() error {
	if o.failPlay {
		return ErrBusy
	}
	o.mu.Lock()
	o.playing = true
	o.mu.Unlock()
	return nil
}

// Finish simulates the clip running out.
func (o *Output) Finish() { o.doneOnce.Do(func() { close(o.done) }) }

func (o *Output) Done() <-chan struct{} { return o.done }

func (o *Output) Stop() error {
	o.mu.Lock()
	o.playing = false
	o.stops++
	o.mu.Unlock()
	o.Finish()
	return nil
}

func (o *Output) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.Finish()
	return nil
}

// Data returns a copy of everything written.
func (o *Output) Data() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]byte(nil), o.data...)
}

func (o *Output) Playing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.playing
}

func (o *Output) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Input is a fake capture device. Queued blocks are returned one per Read;
// afterwards reads either block until Close or report io.EOF.
type Input struct {
	Format      audio.Format
	BufferBytes int

	failStart    bool
	blockForever bool
	ignoreClose  bool

	mu        sync.Mutex
	blocks    [][]int16
	started   bool
	closed    chan struct{}
	closeOnce sync.Once
	reads     atomic.Int64
}

func (in *Input) Start() error {
	if in.failStart {
		return ErrBusy
	}
	in.mu.Lock()
	in.started = true
	in.mu.Unlock()
	return nil
}

func (in *Input) Read(p []byte) (int, error) {
	in.reads.Add(1)
	in.mu.Lock()
	if len(in.blocks) > 0 {
		blk := in.blocks[0]
		in.blocks = in.blocks[1:]
		in.mu.Unlock()
		return audio.PutSamples(p, blk), nil
	}
	in.mu.Unlock()

	if !in.blockForever {
		return 0, io.EOF
	}
	if in.ignoreClose {
		select {}
	}
	<-in.closed
	return 0, io.ErrClosedPipe
}

func (in *Input) Stop() error {
	in.mu.Lock()
	in.started = false
	in.mu.Unlock()
	return nil
}

func (in *Input) Close() error {
	in.closeOnce.Do(func() { close(in.closed) })
	return nil
}

// Closed reports whether the device was released.
func (in *Input) Closed() bool {
	select {
	case <-in.closed:
		return true
	default:
		return false
	}
}

// Reads reports how many Read calls were made.
func (in *Input) Reads() int64 { return in.reads.Load() }
