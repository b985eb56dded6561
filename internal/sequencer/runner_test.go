package sequencer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satindergrewal/chirplab/internal/audio"
	"github.com/satindergrewal/chirplab/internal/device"
	"github.com/satindergrewal/chirplab/internal/device/devicetest"
	"github.com/satindergrewal/chirplab/internal/engine"
	"github.com/satindergrewal/chirplab/internal/recorder"
)

var (
	left  = audio.ChirpParams{CenterFrequency: 1000, Bandwidth: 500, Duration: 20}
	right = audio.ChirpParams{CenterFrequency: 2000, Bandwidth: 500, Duration: 20}
)

type fixture struct {
	backend *devicetest.Backend
	runner  *Runner
	dir     string
}

func newFixture(t *testing.T, backend *devicetest.Backend, cfg Config, sinks ...engine.Sink) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	dir := filepath.Join(t.TempDir(), "AudioChirpData")
	capCfg := engine.CaptureConfig{StopTimeout: 200 * time.Millisecond, QueueDepth: 16}
	r := NewRunner(
		engine.NewPlayer(backend, log),
		engine.NewCapture(backend, capCfg, log),
		recorder.New(recorder.Dir{Root: dir}, log),
		cfg, log, sinks...,
	)
	return &fixture{backend: backend, runner: r, dir: dir}
}

func quick() Config {
	return Config{PreRoll: 10 * time.Millisecond, PostRoll: 20 * time.Millisecond}
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Count(string(raw), "\n")
}

func waitRun(t *testing.T, r *Runner) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Wait(ctx))
}

func TestRunCompletes(t *testing.T) {
	backend := &devicetest.Backend{InputBlocks: [][]int16{{1, 2, 3}, {4, 5}}}
	f := newFixture(t, backend, quick())

	require.NoError(t, f.runner.Start(context.Background(), Request{BaseName: "sweep", Left: left, Right: right}))
	waitRun(t, f.runner)

	st := f.runner.Status()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Equal(t, "completed", st.Outcome)
	assert.Empty(t, st.LastError)
	assert.Equal(t, int64(1), st.RunID)
	assert.Equal(t, "idle", st.Player)
	assert.Equal(t, "idle", st.Recording)
	assert.Equal(t, int64(5), st.Capture.Samples)
	assert.False(t, f.runner.Running())

	require.NotNil(t, st.Files)
	assert.Equal(t, 2, countLines(t, st.Files.Params))
	assert.Equal(t, 1+audio.SampleCount(left.Duration), countLines(t, st.Files.Transmitted))
	assert.Equal(t, 1+5, countLines(t, st.Files.Received))

	require.Len(t, backend.Outputs(), 1)
	assert.True(t, backend.Outputs()[0].Closed())
	require.Len(t, backend.Inputs(), 1)
	assert.True(t, backend.Inputs()[0].Closed())
}

func TestRunTakesPreRollChirpAndPostRoll(t *testing.T) {
	cfg := Config{PreRoll: 50 * time.Millisecond, PostRoll: 50 * time.Millisecond}
	f := newFixture(t, &devicetest.Backend{BlockForever: true}, cfg)

	start := time.Now()
	require.NoError(t, f.runner.Start(context.Background(), Request{Left: left, Right: right}))
	waitRun(t, f.runner)

	assert.GreaterOrEqual(t, time.Since(start), cfg.PreRoll+cfg.PostRoll+20*time.Millisecond)
}

func TestStartWhileRunning(t *testing.T) {
	f := newFixture(t, &devicetest.Backend{BlockForever: true}, Config{PostRoll: 10 * time.Second})

	require.NoError(t, f.runner.Start(context.Background(), Request{Left: left, Right: right}))
	require.Eventually(t, func() bool { return f.runner.Status().Phase == PhasePlaying }, time.Second, time.Millisecond)

	err := f.runner.Start(context.Background(), Request{Left: left, Right: right})
	assert.ErrorIs(t, err, ErrRunning)

	start := time.Now()
	f.runner.Stop()
	assert.Less(t, time.Since(start), 2*time.Second)

	st := f.runner.Status()
	assert.Equal(t, "aborted", st.Outcome)
	assert.Empty(t, st.LastError)
	assert.True(t, f.backend.Inputs()[0].Closed())
	assert.True(t, f.backend.Outputs()[0].Closed())

	// A new run may start once the previous one is torn down.
	require.NoError(t, f.runner.Start(context.Background(), Request{Left: left, Right: right}))
	f.runner.Stop()
	assert.Equal(t, int64(2), f.runner.Status().RunID)
}

func TestCancelledContextAbortsRun(t *testing.T) {
	f := newFixture(t, &devicetest.Backend{BlockForever: true}, Config{PreRoll: 10 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.runner.Start(ctx, Request{Left: left, Right: right}))
	cancel()
	waitRun(t, f.runner)

	assert.Equal(t, "aborted", f.runner.Status().Outcome)
	assert.Empty(t, f.backend.Outputs(), "chirp must not play after abort during pre-roll")
}

func TestInvalidRequestOpensNothing(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"zero duration", Request{Left: audio.ChirpParams{CenterFrequency: 1000}, Right: right}},
		{"negative right duration", Request{Left: left, Right: audio.ChirpParams{Duration: -5}}},
		{"durations differ", Request{Left: left, Right: audio.ChirpParams{CenterFrequency: 2000, Duration: 40}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &devicetest.Backend{}, quick())

			err := f.runner.Start(context.Background(), tt.req)
			assert.ErrorIs(t, err, audio.ErrInvalidParameter)
			assert.Empty(t, f.backend.Inputs())
			assert.Empty(t, f.backend.Outputs())
			assert.NoDirExists(t, f.dir)
			assert.Equal(t, PhaseIdle, f.runner.Status().Phase)
		})
	}
}

func TestCaptureUnavailableAbortsRun(t *testing.T) {
	f := newFixture(t, &devicetest.Backend{FailInput: true}, quick())

	err := f.runner.Start(context.Background(), Request{Left: left, Right: right})
	assert.ErrorIs(t, err, device.ErrUnavailable)

	st := f.runner.Status()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Equal(t, "failed", st.Outcome)
	assert.NotEmpty(t, st.LastError)
	assert.False(t, f.runner.Running())
	assert.Empty(t, f.backend.Outputs())

	assert.Nil(t, st.Files)
	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no header-only files are left behind")
	require.NoError(t, f.runner.Wait(context.Background()))

	// The next run opens a fresh session.
	f.backend.FailInput = false
	require.NoError(t, f.runner.Start(context.Background(), Request{Left: left, Right: right}))
	waitRun(t, f.runner)
	require.NotNil(t, f.runner.Status().Files)
	assert.FileExists(t, f.runner.Status().Files.Params)
}

func TestPlaybackUnavailableTearsDown(t *testing.T) {
	f := newFixture(t, &devicetest.Backend{FailOutput: true, BlockForever: true}, quick())

	require.NoError(t, f.runner.Start(context.Background(), Request{Left: left, Right: right}))
	waitRun(t, f.runner)

	st := f.runner.Status()
	assert.Equal(t, "failed", st.Outcome)
	assert.Contains(t, st.LastError, device.ErrUnavailable.Error())
	assert.Equal(t, "idle", st.Player)
	assert.Equal(t, "idle", st.Recording)
	assert.True(t, f.backend.Inputs()[0].Closed())
}

func TestExtraSinksReceiveBlocks(t *testing.T) {
	var got atomic.Int64
	tap := engine.SinkFunc(func(_ time.Time, _ []int16, n int) { got.Add(int64(n)) })
	backend := &devicetest.Backend{InputBlocks: [][]int16{{1, 2, 3, 4}, {5}}}
	f := newFixture(t, backend, quick(), tap)

	require.NoError(t, f.runner.Start(context.Background(), Request{Left: left, Right: right}))
	waitRun(t, f.runner)

	assert.Equal(t, int64(5), got.Load())
}

func TestRecorderFailureDoesNotAbortRun(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	backend := &devicetest.Backend{}
	r := NewRunner(
		engine.NewPlayer(backend, log),
		engine.NewCapture(backend, engine.DefaultCaptureConfig(), log),
		recorder.New(recorder.Dir{Root: filepath.Join(blocker, "out")}, log),
		quick(), log,
	)

	require.NoError(t, r.Start(context.Background(), Request{Left: left, Right: right}))
	waitRun(t, r)

	st := r.Status()
	assert.Equal(t, "completed", st.Outcome)
	assert.Nil(t, st.Files)
	assert.Len(t, backend.Outputs(), 1)
}

func TestStopAndWaitWithoutRun(t *testing.T) {
	f := newFixture(t, &devicetest.Backend{}, quick())
	f.runner.Stop()
	assert.NoError(t, f.runner.Wait(context.Background()))
	assert.Equal(t, PhaseIdle, f.runner.Status().Phase)
}
