package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satindergrewal/chirplab/internal/audio"
	"github.com/satindergrewal/chirplab/internal/device"
	"github.com/satindergrewal/chirplab/internal/device/devicetest"
)

type transmitSpy struct {
	backend       *devicetest.Backend
	left, right   []int16
	calls         int
	openedBefore  int
	writtenBefore int
}

func (s *transmitSpy) SaveTransmitted(left, right []int16) {
	s.calls++
	s.left, s.right = left, right
	outs := s.backend.Outputs()
	s.openedBefore = len(outs)
	if len(outs) > 0 {
		s.writtenBefore = len(outs[len(outs)-1].Data())
	}
}

var (
	leftParams  = audio.ChirpParams{CenterFrequency: 1000, Bandwidth: 500, Duration: 20}
	rightParams = audio.ChirpParams{CenterFrequency: 2000, Bandwidth: 500, Duration: 20}
)

func TestPlayLoadsWholeInterleavedClip(t *testing.T) {
	backend := &devicetest.Backend{}
	p := NewPlayer(backend, zaptest.NewLogger(t).Sugar())

	require.NoError(t, p.Play(leftParams, rightParams))
	assert.Equal(t, StateActive, p.State())

	outs := backend.Outputs()
	require.Len(t, outs, 1)
	out := outs[0]

	want := audio.SamplesToBytes(audio.Interleave(leftParams.Generate(), rightParams.Generate()))
	assert.Equal(t, want, out.Data())
	assert.Equal(t, audio.StereoOut, out.Format)
	assert.Equal(t, len(want), out.BufferBytes)
	assert.True(t, out.Playing())
}

func TestPlayBufferNeverBelowPlatformMinimum(t *testing.T) {
	backend := &devicetest.Backend{MinFrames: 100000}
	p := NewPlayer(backend, zaptest.NewLogger(t).Sugar())

	require.NoError(t, p.Play(leftParams, rightParams))
	assert.Equal(t, 100000*audio.StereoOut.FrameBytes(), backend.Outputs()[0].BufferBytes)
}

func TestPlayLogsTransmittedBeforeDeviceWrite(t *testing.T) {
	backend := &devicetest.Backend{}
	spy := &transmitSpy{backend: backend}
	p := NewPlayer(backend, zaptest.NewLogger(t).Sugar())
	p.SetRecorder(spy)

	require.NoError(t, p.Play(leftParams, rightParams))

	assert.Equal(t, 1, spy.calls)
	assert.Equal(t, 1, spy.openedBefore, "transmitted data is logged once the device is open")
	assert.Zero(t, spy.writtenBefore, "transmitted data is logged before the clip is loaded")
	assert.Equal(t, leftParams.Generate(), spy.left)
	assert.Equal(t, rightParams.Generate(), spy.right)

	logged := audio.SamplesToBytes(audio.Interleave(spy.left, spy.right))
	assert.Equal(t, logged, backend.Outputs()[0].Data())
}

func TestPlayLogsNothingWhenDeviceFailsToOpen(t *testing.T) {
	backend := &devicetest.Backend{FailOutput: true}
	spy := &transmitSpy{backend: backend}
	p := NewPlayer(backend, zaptest.NewLogger(t).Sugar())
	p.SetRecorder(spy)

	err := p.Play(leftParams, rightParams)
	assert.ErrorIs(t, err, device.ErrUnavailable)
	assert.Zero(t, spy.calls)
	assert.Nil(t, spy.left)
}

func TestPlayStopsPreviousPlayback(t *testing.T) {
	backend := &devicetest.Backend{}
	p := NewPlayer(backend, zaptest.NewLogger(t).Sugar())

	require.NoError(t, p.Play(leftParams, rightParams))
	require.NoError(t, p.Play(rightParams, leftParams))

	outs := backend.Outputs()
	require.Len(t, outs, 2)
	assert.True(t, outs[0].Closed())
	assert.False(t, outs[0].Playing())
	assert.True(t, outs[1].Playing())
	assert.False(t, outs[1].Closed())
}

func TestPlayerStopIsIdempotent(t *testing.T) {
	backend := &devicetest.Backend{}
	p := NewPlayer(backend, zaptest.NewLogger(t).Sugar())

	p.Stop()
	assert.Equal(t, StateIdle, p.State())

	require.NoError(t, p.Play(leftParams, rightParams))
	p.Stop()
	p.Stop()

	assert.Equal(t, StateIdle, p.State())
	assert.True(t, backend.Outputs()[0].Closed())
}

func TestPlayRejectsInvalidParamsBeforeOpening(t *testing.T) {
	backend := &devicetest.Backend{}
	p := NewPlayer(backend, zaptest.NewLogger(t).Sugar())

	bad := audio.ChirpParams{CenterFrequency: 1000, Bandwidth: 500, Duration: 0}
	err := p.Play(leftParams, bad)
	assert.ErrorIs(t, err, audio.ErrInvalidParameter)
	assert.Empty(t, backend.Outputs())
	assert.Equal(t, StateIdle, p.State())
}

func TestPlayDeviceFailuresLeaveEngineIdle(t *testing.T) {
	t.Run("open fails", func(t *testing.T) {
		backend := &devicetest.Backend{FailOutput: true}
		p := NewPlayer(backend, zaptest.NewLogger(t).Sugar())

		err := p.Play(leftParams, rightParams)
		assert.ErrorIs(t, err, device.ErrUnavailable)
		assert.ErrorIs(t, err, devicetest.ErrBusy)
		assert.Equal(t, StateIdle, p.State())
	})

	t.Run("start fails", func(t *testing.T) {
		backend := &devicetest.Backend{FailPlay: true}
		p := NewPlayer(backend, zaptest.NewLogger(t).Sugar())

		err := p.Play(leftParams, rightParams)
		assert.ErrorIs(t, err, device.ErrUnavailable)
		assert.Equal(t, StateIdle, p.State())
		require.Len(t, backend.Outputs(), 1)
		assert.True(t, backend.Outputs()[0].Closed(), "half-open device must be released")
	})
}

func TestPlayerDone(t *testing.T) {
	backend := &devicetest.Backend{}
	p := NewPlayer(backend, zaptest.NewLogger(t).Sugar())

	select {
	case <-p.Done():
	default:
		t.Fatal("Done should be closed when nothing is playing")
	}

	require.NoError(t, p.Play(leftParams, rightParams))
	done := p.Done()
	select {
	case <-done:
		t.Fatal("Done closed before the clip finished")
	default:
	}

	backend.Outputs()[0].Finish()
	<-done
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "opening", StateOpening.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "unknown", State(42).String())
}
