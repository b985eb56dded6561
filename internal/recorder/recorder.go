package recorder

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/chirplab/internal/audio"
)

// DefaultBaseName is used when a run does not name its output.
const DefaultBaseName = "chirp_test"

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// Recorder is the best-effort persistence sink of a run. Its write methods
// never return errors: failures are logged and the row batch is dropped.
// Writes while no session is open are ignored.
type Recorder struct {
	dir Dir
	log *zap.SugaredLogger
	now func() time.Time

	mu      sync.RWMutex
	session *Session
}

// New creates a Recorder writing below dir.
func New(dir Dir, log *zap.SugaredLogger, opts ...Option) *Recorder {
	r := &Recorder{dir: dir, log: log, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize opens a new session. A session that is still open is finalized
// first; two sessions are never open at once.
func (r *Recorder) Initialize(baseName string) error {
	if baseName == "" {
		baseName = DefaultBaseName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		r.log.Warnw("recorder session still open, finalizing it", "files", r.session.Files())
		r.closeSession(r.session)
		r.session = nil
	}

	s, err := OpenSession(r.dir, baseName, r.now())
	if err != nil {
		r.log.Errorw("initialize recorder", "dir", r.dir.Root, "err", err)
		return err
	}
	r.session = s
	r.log.Infow("files created", "dir", r.dir.Path(), "files", s.Files())
	return nil
}

func (r *Recorder) current() *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session
}

// LogParameters appends the chirp parameters with the current time. Both
// channels should share a duration; the left channel's value is written.
func (r *Recorder) LogParameters(left, right audio.ChirpParams) {
	s := r.current()
	if s == nil {
		return
	}
	if left.Duration != right.Duration {
		r.log.Warnw("channel durations differ, logging left duration",
			"left", left.Duration, "right", right.Duration)
	}
	r.report("params", s.WriteParams(r.now(), left, right))
}

// SaveTransmitted appends the transmitted stereo waveform as one batch
// anchored at the current time.
func (r *Recorder) SaveTransmitted(left, right []int16) {
	s := r.current()
	if s == nil {
		return
	}
	r.report("transmitted", s.WriteTransmitted(r.now(), left, right))
}

// SaveRecorded appends a captured block anchored at the current time.
func (r *Recorder) SaveRecorded(data []int16, length int) {
	r.SaveRecordedAt(r.now(), data, length)
}

// SaveRecordedAt appends a captured block anchored at the time it was read.
func (r *Recorder) SaveRecordedAt(anchor time.Time, data []int16, length int) {
	s := r.current()
	if s == nil {
		return
	}
	r.report("recording", s.WriteReceived(anchor, data, length))
}

// Finalize flushes and closes the session. Later writes are dropped. Safe to
// call multiple times.
func (r *Recorder) Finalize() {
	r.mu.Lock()
	s := r.session
	r.session = nil
	r.mu.Unlock()

	if s != nil {
		r.closeSession(s)
		r.log.Infow("recorder finalized", "files", s.Files())
	}
}

// Discard closes the session and deletes its files, for runs that ended
// before anything was measured. Safe to call with no session open.
func (r *Recorder) Discard() {
	r.mu.Lock()
	s := r.session
	r.session = nil
	r.mu.Unlock()

	if s == nil {
		return
	}
	if err := s.Remove(); err != nil {
		r.log.Errorw("discard recorder files", "err", err)
		return
	}
	r.log.Infow("recorder discarded", "files", s.Files())
}

// Files returns the paths of the open session, or false if none is open.
func (r *Recorder) Files() (Files, bool) {
	s := r.current()
	if s == nil {
		return Files{}, false
	}
	return s.Files(), true
}

// OutputDirectory returns the absolute output root.
func (r *Recorder) OutputDirectory() string {
	return r.dir.Path()
}

func (r *Recorder) closeSession(s *Session) {
	if err := s.Close(); err != nil {
		r.log.Errorw("close recorder files", "err", err)
	}
}

func (r *Recorder) report(stream string, err error) {
	if err == nil || errors.Is(err, ErrClosed) {
		return
	}
	r.log.Errorw("write failed, batch dropped", "stream", stream, "err", err)
}
