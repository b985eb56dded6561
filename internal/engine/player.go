package engine

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/satindergrewal/chirplab/internal/audio"
	"github.com/satindergrewal/chirplab/internal/device"
)

// TransmitLogger persists the exact stereo waveform queued for playback.
type TransmitLogger interface {
	SaveTransmitted(left, right []int16)
}

// Player synthesizes a two-channel chirp and plays it in static mode: the
// whole clip is loaded into the output device before playback starts.
type Player struct {
	backend device.Backend
	log     *zap.SugaredLogger
	sm      machine

	mu       sync.Mutex
	out      device.Output
	recorder TransmitLogger
}

// NewPlayer creates a Player on backend.
func NewPlayer(backend device.Backend, log *zap.SugaredLogger) *Player {
	return &Player{backend: backend, log: log}
}

// SetRecorder attaches the persistence collaborator. Pass nil to detach.
func (p *Player) SetRecorder(r TransmitLogger) {
	p.mu.Lock()
	p.recorder = r
	p.mu.Unlock()
}

// State returns the current device state.
func (p *Player) State() State { return p.sm.get() }

// Play synthesizes both channels and starts playback. An active playback is
// stopped first. Parameters are validated before any device is opened.
func (p *Player) Play(left, right audio.ChirpParams) error {
	if err := left.Validate(); err != nil {
		return fmt.Errorf("left channel: %w", err)
	}
	if err := right.Validate(); err != nil {
		return fmt.Errorf("right channel: %w", err)
	}

	p.Stop()
	if cur, ok := p.sm.transition(StateOpening, StateIdle); !ok {
		return fmt.Errorf("play: %w (state %s)", ErrBusy, cur)
	}

	leftSamples := left.Generate()
	rightSamples := right.Generate()

	pcm := audio.SamplesToBytes(audio.Interleave(leftSamples, rightSamples))

	minSize, err := p.backend.MinBufferSize(device.Playback, audio.StereoOut)
	if err != nil {
		p.sm.set(StateIdle)
		return unavailable("playback buffer size", err)
	}

	out, err := p.backend.OpenOutput(audio.StereoOut, max(len(pcm), minSize))
	if err != nil {
		p.sm.set(StateIdle)
		return unavailable("open playback", err)
	}

	// Logged once the device is open and before the clip is loaded.
	p.mu.Lock()
	rec := p.recorder
	p.mu.Unlock()
	if rec != nil {
		rec.SaveTransmitted(leftSamples, rightSamples)
	}

	if _, err := out.Write(pcm); err != nil {
		p.release(out)
		p.sm.set(StateIdle)
		return unavailable("load playback clip", err)
	}
	if err := out.Play(); err != nil {
		p.release(out)
		p.sm.set(StateIdle)
		return unavailable("start playback", err)
	}

	p.mu.Lock()
	p.out = out
	p.mu.Unlock()
	p.sm.set(StateActive)

	p.log.Infow("chirp playing",
		"left", left.String(), "right", right.String(),
		"frames", len(pcm)/audio.StereoOut.FrameBytes())
	return nil
}

// Done is closed when the current clip finished rendering or was stopped.
// With nothing playing it returns a closed channel.
func (p *Player) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.out.Done()
}

// Stop halts playback and releases the device. It is safe to call at any
// time and any number of times.
func (p *Player) Stop() {
	if _, ok := p.sm.transition(StateStopping, StateActive); !ok {
		return
	}

	p.mu.Lock()
	out := p.out
	p.out = nil
	p.mu.Unlock()

	if out != nil {
		if err := out.Stop(); err != nil {
			p.log.Warnw("stop playback", "err", err)
		}
		p.release(out)
	}
	p.sm.set(StateIdle)
}

func (p *Player) release(out device.Output) {
	if err := out.Close(); err != nil {
		p.log.Warnw("release playback device", "err", err)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, device.ErrUnavailable, err)
}
