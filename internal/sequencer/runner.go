// Package sequencer runs one measurement at a time: start capture, wait the
// pre-roll, log parameters and play the chirp, wait for the chirp plus a
// post-roll margin, then tear everything down.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/chirplab/internal/audio"
	"github.com/satindergrewal/chirplab/internal/engine"
	"github.com/satindergrewal/chirplab/internal/recorder"
)

// ErrRunning is returned by Start while another run is active.
var ErrRunning = errors.New("sequencer: run already active")

// Config holds run timing.
type Config struct {
	PreRoll  time.Duration // capture runs this long before the chirp
	PostRoll time.Duration // margin after the chirp before capture stops
}

// DefaultConfig waits 500ms before and 1s after the chirp.
func DefaultConfig() Config {
	return Config{PreRoll: 500 * time.Millisecond, PostRoll: time.Second}
}

// Request is the parameter set supplied when a run starts.
type Request struct {
	BaseName string
	Left     audio.ChirpParams
	Right    audio.ChirpParams
}

// Validate checks both channels. The parameter log has a single duration
// column, so the channels must share one.
func (r Request) Validate() error {
	if err := r.Left.Validate(); err != nil {
		return fmt.Errorf("left channel: %w", err)
	}
	if err := r.Right.Validate(); err != nil {
		return fmt.Errorf("right channel: %w", err)
	}
	if r.Left.Duration != r.Right.Duration {
		return fmt.Errorf("%w: channel durations differ (%d ms vs %d ms)",
			audio.ErrInvalidParameter, r.Left.Duration, r.Right.Duration)
	}
	return nil
}

// Phase is the step a run is in.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseStarting Phase = "starting"
	PhasePreRoll  Phase = "pre-roll"
	PhasePlaying  Phase = "playing"
	PhaseStopping Phase = "stopping"
)

// Status is the current or last run state.
type Status struct {
	Phase      Phase               `json:"phase"`
	RunID      int64               `json:"run_id"`
	BaseName   string              `json:"base_name,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Outcome    string              `json:"outcome,omitempty"` // completed, aborted or failed
	LastError  string              `json:"last_error,omitempty"`
	Files      *recorder.Files     `json:"files,omitempty"`
	Capture    engine.CaptureStats `json:"capture"`
	Player     string              `json:"player_state"`
	Recording  string              `json:"capture_state"`
}

type run struct {
	id     int64
	cancel context.CancelFunc
	done   chan struct{}
}

// Runner owns the engines and the recorder for the duration of a run.
type Runner struct {
	player  *engine.Player
	capture *engine.Capture
	rec     *recorder.Recorder
	sinks   []engine.Sink
	cfg     Config
	log     *zap.SugaredLogger

	mu     sync.Mutex
	active *run
	lastID int64
	status Status
}

// NewRunner creates a Runner. Extra sinks receive every captured block
// alongside the recorder.
func NewRunner(player *engine.Player, capture *engine.Capture, rec *recorder.Recorder,
	cfg Config, log *zap.SugaredLogger, sinks ...engine.Sink) *Runner {
	return &Runner{
		player:  player,
		capture: capture,
		rec:     rec,
		sinks:   sinks,
		cfg:     cfg,
		log:     log,
		status:  Status{Phase: PhaseIdle},
	}
}

// Start validates req, opens a recorder session and starts capture, then
// sequences the rest of the run in the background. ctx bounds the whole
// run. Invalid parameters are rejected before any device or file is opened.
// If capture cannot start, the session files are removed again. A recorder
// failure is logged and the run continues without persistence.
func (r *Runner) Start(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		cancel()
		return ErrRunning
	}
	r.lastID++
	cur := &run{id: r.lastID, cancel: cancel, done: make(chan struct{})}
	r.active = cur
	r.status = Status{
		Phase:     PhaseStarting,
		RunID:     cur.id,
		BaseName:  req.BaseName,
		StartedAt: time.Now(),
	}
	r.mu.Unlock()

	log := r.log.With("run", cur.id)

	if err := r.rec.Initialize(req.BaseName); err != nil {
		log.Errorw("recorder unavailable, continuing without persistence", "err", err)
	} else if files, ok := r.rec.Files(); ok {
		r.mu.Lock()
		r.status.Files = &files
		r.mu.Unlock()
	}

	sink := append(engine.MultiSink{r.rec}, r.sinks...)
	if err := r.capture.Start(sink); err != nil {
		log.Errorw("capture start failed, run aborted", "err", err)
		r.rec.Discard()
		r.mu.Lock()
		r.status.Files = nil
		r.mu.Unlock()
		r.finish(cur, "failed", err)
		cancel()
		close(cur.done)
		return err
	}

	log.Infow("run started", "left", req.Left.String(), "right", req.Right.String())
	go r.sequence(runCtx, cur, req, log)
	return nil
}

func (r *Runner) sequence(ctx context.Context, cur *run, req Request, log *zap.SugaredLogger) {
	defer close(cur.done)
	defer cur.cancel()

	outcome, err := r.perform(ctx, req, log)

	r.setPhase(PhaseStopping)
	r.capture.Stop()
	r.player.Stop()
	r.player.SetRecorder(nil)
	r.rec.Finalize()

	r.finish(cur, outcome, err)
	log.Infow("run finished", "outcome", outcome, "capture", r.capture.Stats())
}

// perform runs the timed part of a run and reports how it ended.
func (r *Runner) perform(ctx context.Context, req Request, log *zap.SugaredLogger) (string, error) {
	r.setPhase(PhasePreRoll)
	if !sleep(ctx, r.cfg.PreRoll) {
		return "aborted", ctx.Err()
	}

	r.rec.LogParameters(req.Left, req.Right)
	r.player.SetRecorder(r.rec)
	if err := r.player.Play(req.Left, req.Right); err != nil {
		log.Errorw("playback failed, run aborted", "err", err)
		return "failed", err
	}
	r.setPhase(PhasePlaying)

	chirp := time.Duration(req.Left.Duration) * time.Millisecond
	timer := time.NewTimer(chirp + r.cfg.PostRoll)
	defer timer.Stop()

	rendered := r.player.Done()
	for {
		select {
		case <-rendered:
			log.Debugw("chirp rendered")
			rendered = nil
		case <-timer.C:
			return "completed", nil
		case <-ctx.Done():
			return "aborted", ctx.Err()
		}
	}
}

// Stop aborts the active run and waits for its teardown. It does nothing
// when no run is active.
func (r *Runner) Stop() {
	r.mu.Lock()
	cur := r.active
	r.mu.Unlock()
	if cur == nil {
		return
	}
	cur.cancel()
	<-cur.done
}

// Wait blocks until the active run, if any, has finished.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	cur := r.active
	r.mu.Unlock()
	if cur == nil {
		return nil
	}
	select {
	case <-cur.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether a run is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Status returns a snapshot of the current or last run.
func (r *Runner) Status() Status {
	r.mu.Lock()
	s := r.status
	r.mu.Unlock()
	if s.Files != nil {
		files := *s.Files
		s.Files = &files
	}
	s.Capture = r.capture.Stats()
	s.Player = r.player.State().String()
	s.Recording = r.capture.State().String()
	return s
}

func (r *Runner) setPhase(p Phase) {
	r.mu.Lock()
	r.status.Phase = p
	r.mu.Unlock()
}

func (r *Runner) finish(cur *run, outcome string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	r.status.Phase = PhaseIdle
	r.status.FinishedAt = time.Now()
	r.status.Outcome = outcome
	r.status.LastError = ""
	if err != nil {
		r.status.LastError = err.Error()
	}
	if r.active == cur {
		r.active = nil
	}
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
