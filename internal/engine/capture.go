package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/chirplab/internal/audio"
	"github.com/satindergrewal/chirplab/internal/device"
)

// Sink receives captured blocks. anchor is the wall-clock time the block
// was read; n is the number of valid samples. Blocks vary in length.
type Sink interface {
	SaveRecordedAt(anchor time.Time, samples []int16, n int)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(anchor time.Time, samples []int16, n int)

func (f SinkFunc) SaveRecordedAt(anchor time.Time, samples []int16, n int) { f(anchor, samples, n) }

// MultiSink hands every block to each sink in order.
type MultiSink []Sink

func (m MultiSink) SaveRecordedAt(anchor time.Time, samples []int16, n int) {
	for _, s := range m {
		s.SaveRecordedAt(anchor, samples, n)
	}
}

// Block is one capture read.
type Block struct {
	Samples    []int16
	CapturedAt time.Time
}

// CaptureConfig tunes the capture worker.
type CaptureConfig struct {
	StopTimeout time.Duration // bounded wait for the worker on Stop
	QueueDepth  int           // blocks buffered between reader and sink
}

// DefaultCaptureConfig waits one second on stop.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{StopTimeout: time.Second, QueueDepth: 256}
}

// CaptureStats summarizes the blocks delivered since Start.
type CaptureStats struct {
	Blocks  int64 `json:"blocks"`
	Samples int64 `json:"samples"`
	Peak    int64 `json:"peak"`
}

// Capture reads mono PCM from the input device on a dedicated goroutine and
// hands each block to a Sink through a queue.
type Capture struct {
	backend device.Backend
	log     *zap.SugaredLogger
	cfg     CaptureConfig
	now     func() time.Time
	sm      machine

	mu     sync.Mutex
	in     device.Input
	cancel context.CancelFunc
	done   chan struct{}

	blocks  atomic.Int64
	samples atomic.Int64
	peak    atomic.Int64
}

// NewCapture creates a Capture on backend.
func NewCapture(backend device.Backend, cfg CaptureConfig, log *zap.SugaredLogger) *Capture {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = time.Second
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	return &Capture{backend: backend, log: log, cfg: cfg, now: time.Now}
}

// State returns the current device state.
func (c *Capture) State() State { return c.sm.get() }

// Stats returns counters for the current or last capture.
func (c *Capture) Stats() CaptureStats {
	return CaptureStats{Blocks: c.blocks.Load(), Samples: c.samples.Load(), Peak: c.peak.Load()}
}

// Start opens the input device and begins capturing into sink. It is a
// no-op while already capturing. A failure to open or start the device
// releases whatever was acquired and leaves the engine idle.
func (c *Capture) Start(sink Sink) error {
	cur, ok := c.sm.transition(StateOpening, StateIdle)
	if !ok {
		if cur == StateActive {
			return nil
		}
		return ErrBusy
	}

	minSize, err := c.backend.MinBufferSize(device.Capture, audio.MonoIn)
	if err != nil {
		c.sm.set(StateIdle)
		return unavailable("capture buffer size", err)
	}
	bufSize := 2 * minSize

	in, err := c.backend.OpenInput(audio.MonoIn, bufSize)
	if err != nil {
		c.sm.set(StateIdle)
		return unavailable("open capture", err)
	}
	if err := in.Start(); err != nil {
		c.release(in)
		c.sm.set(StateIdle)
		return unavailable("start capture", err)
	}

	c.blocks.Store(0)
	c.samples.Store(0)
	c.peak.Store(0)

	ctx, cancel := context.WithCancel(context.Background())
	queue := make(chan Block, c.cfg.QueueDepth)
	done := make(chan struct{})

	c.mu.Lock()
	c.in, c.cancel, c.done = in, cancel, done
	c.mu.Unlock()

	go c.read(ctx, in, make([]byte, bufSize), queue)
	go c.dispatch(queue, sink, done)

	c.sm.set(StateActive)
	c.log.Infow("capture started", "bufferBytes", bufSize)
	return nil
}

// read is the capture loop. It owns buf; every block gets its own samples.
func (c *Capture) read(ctx context.Context, in device.Input, buf []byte, queue chan<- Block) {
	defer close(queue)
	for ctx.Err() == nil {
		n, err := in.Read(buf)
		at := c.now()
		if n > 0 {
			blk := Block{Samples: audio.BytesToSamples(buf[:n]), CapturedAt: at}
			select {
			case queue <- blk:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warnw("capture read failed, stopping reader", "err", err)
			}
			return
		}
	}
}

func (c *Capture) dispatch(queue <-chan Block, sink Sink, done chan<- struct{}) {
	defer close(done)
	for blk := range queue {
		c.blocks.Add(1)
		c.samples.Add(int64(len(blk.Samples)))
		if p := int64(audio.Peak(blk.Samples)); p > c.peak.Load() {
			c.peak.Store(p)
		}
		sink.SaveRecordedAt(blk.CapturedAt, blk.Samples, len(blk.Samples))
	}
}

// Stop cancels the worker, waits for it up to StopTimeout, then releases the
// device regardless. Safe to call repeatedly.
func (c *Capture) Stop() {
	if _, ok := c.sm.transition(StateStopping, StateActive); !ok {
		return
	}

	c.mu.Lock()
	in, cancel, done := c.in, c.cancel, c.done
	c.in, c.cancel, c.done = nil, nil, nil
	c.mu.Unlock()

	cancel()
	timer := time.NewTimer(c.cfg.StopTimeout)
	select {
	case <-done:
		timer.Stop()
	case <-timer.C:
		c.log.Warnw("capture worker did not exit in time, releasing device anyway",
			"timeout", c.cfg.StopTimeout)
	}

	if err := in.Stop(); err != nil {
		c.log.Warnw("stop capture device", "err", err)
	}
	c.release(in)
	c.sm.set(StateIdle)

	s := c.Stats()
	c.log.Infow("capture stopped", "blocks", s.Blocks, "samples", s.Samples, "peak", s.Peak)
}

func (c *Capture) release(in device.Input) {
	if err := in.Close(); err != nil {
		c.log.Warnw("release capture device", "err", err)
	}
}
