package devicetest

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/chirplab/internal/audio"
	"github.com/satindergrewal/chirplab/internal/device"
)

var _ device.Backend = (*Backend)(nil)

func TestBackendMinBufferSize(t *testing.T) {
	n, err := (&Backend{}).MinBufferSize(device.Playback, audio.StereoOut)
	require.NoError(t, err)
	assert.Equal(t, 256*audio.StereoOut.FrameBytes(), n)

	n, err = (&Backend{MinFrames: 10}).MinBufferSize(device.Capture, audio.MonoIn)
	require.NoError(t, err)
	assert.Equal(t, 10*audio.MonoIn.FrameBytes(), n)
}

func TestOutputRecordsClip(t *testing.T) {
	b := &Backend{}
	out, err := b.OpenOutput(audio.StereoOut, 1024)
	require.NoError(t, err)

	_, err = out.Write([]byte{1, 0, 2, 0})
	require.NoError(t, err)
	require.NoError(t, out.Play())

	fake := b.Outputs()[0]
	assert.Equal(t, []byte{1, 0, 2, 0}, fake.Data())
	assert.True(t, fake.Playing())

	require.NoError(t, out.Close())
	assert.True(t, fake.Closed())
	<-out.Done()
}

func TestInputReplaysBlocksThenEOF(t *testing.T) {
	b := &Backend{InputBlocks: [][]int16{{1, 2}, {3}}}
	in, err := b.OpenInput(audio.MonoIn, 64)
	require.NoError(t, err)
	require.NoError(t, in.Start())

	p := make([]byte, 64)
	n, err := in.Read(p)
	require.NoError(t, err)
	assert.Equal(t, []int16{1, 2}, audio.BytesToSamples(p[:n]))

	n, err = in.Read(p)
	require.NoError(t, err)
	assert.Equal(t, []int16{3}, audio.BytesToSamples(p[:n]))

	_, err = in.Read(p)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, int64(3), b.Inputs()[0].Reads())
}

func TestFailingBackend(t *testing.T) {
	b := &Backend{FailOutput: true, FailInput: true}
	_, err := b.OpenOutput(audio.StereoOut, 0)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = b.OpenInput(audio.MonoIn, 0)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Empty(t, b.Outputs())
	assert.Empty(t, b.Inputs())
}
