// Package recorder persists a run as three CSV streams: chirp parameters,
// transmitted stereo samples and received mono samples, each row stamped with
// absolute and relative time.
//
// Timestamps are anchored per batch: every SaveTransmitted or received block
// takes its own wall-clock anchor and offsets samples by i*1000/SampleRate ms
// from it. Batches are not chained to a running sample counter, so scheduling
// jitter between batches shows up in the timestamps. This is an approximation
// kept for compatibility with existing analysis tooling.
package recorder

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/satindergrewal/chirplab/internal/audio"
)

// ErrIO wraps create, write and close failures of the output files.
var ErrIO = errors.New("recorder: i/o failure")

// ErrClosed is returned by writes to a closed session.
var ErrClosed = errors.New("recorder: session closed")

const (
	// TimeLayout renders absolute timestamps with millisecond precision.
	TimeLayout = "2006-01-02 15:04:05.000"
	// FileStampLayout is the run timestamp embedded in file names.
	FileStampLayout = "20060102_150405"

	eventChirp = "CHIRP"
)

// Header rows are the compatibility contract for downstream tooling.
var (
	ParamsHeader      = []string{"timestamp", "eventType", "leftFreq", "leftBw", "rightFreq", "rightBw", "duration"}
	TransmittedHeader = []string{"absoluteTime", "relativeTimeMs", "leftValue", "rightValue"}
	ReceivedHeader    = []string{"absoluteTime", "relativeTimeMs", "audioValue"}
)

// Files lists the paths of a session's outputs.
type Files struct {
	Params      string `json:"params"`
	Transmitted string `json:"transmitted"`
	Received    string `json:"received"`
}

// FilesFor returns the output paths for baseName at stamp.
func FilesFor(dir, baseName string, stamp time.Time) Files {
	ts := stamp.Format(FileStampLayout)
	name := func(kind string) string {
		return filepath.Join(dir, baseName+"_"+kind+"_"+ts+".csv")
	}
	return Files{
		Params:      name("params"),
		Transmitted: name("transmitted"),
		Received:    name("recording"),
	}
}

// stream is one CSV file. Writes are serialized and flushed per call.
type stream struct {
	path string

	mu     sync.Mutex
	f      *os.File
	w      *csv.Writer
	closed bool
}

func createStream(path string, header []string) (*stream, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrIO, path, err)
	}
	s := &stream{path: path, f: f, w: csv.NewWriter(f)}
	if err := s.write([][]string{header}); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *stream) write(rows [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.w.WriteAll(rows); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrIO, s.path, err)
	}
	return nil
}

func (s *stream) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.w.Flush()
	if err := errors.Join(s.w.Error(), s.f.Close()); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrIO, s.path, err)
	}
	return nil
}

// Session owns the three open output streams of one run.
type Session struct {
	start time.Time
	files Files

	params      *stream
	transmitted *stream
	received    *stream
}

// OpenSession creates the output directory if needed and the three files
// with their header rows. On failure nothing is left open.
func OpenSession(dir Dir, baseName string, start time.Time) (s *Session, err error) {
	if err := dir.Ensure(); err != nil {
		return nil, err
	}
	files := FilesFor(dir.Root, baseName, start)
	s = &Session{start: start, files: files}
	defer func() {
		if err != nil {
			s.Close()
			s = nil
		}
	}()

	if s.params, err = createStream(files.Params, ParamsHeader); err != nil {
		return s, err
	}
	if s.received, err = createStream(files.Received, ReceivedHeader); err != nil {
		return s, err
	}
	if s.transmitted, err = createStream(files.Transmitted, TransmittedHeader); err != nil {
		return s, err
	}
	return s, nil
}

// Start is the session creation time all relative timestamps refer to.
func (s *Session) Start() time.Time { return s.start }

// Files returns the session's output paths.
func (s *Session) Files() Files { return s.files }

// WriteParams appends one CHIRP row. The left channel's duration is written
// for both channels.
func (s *Session) WriteParams(at time.Time, left, right audio.ChirpParams) error {
	return s.params.write([][]string{{
		at.Format(TimeLayout),
		eventChirp,
		strconv.Itoa(left.CenterFrequency),
		strconv.Itoa(left.Bandwidth),
		strconv.Itoa(right.CenterFrequency),
		strconv.Itoa(right.Bandwidth),
		strconv.Itoa(left.Duration),
	}})
}

// WriteTransmitted appends one row per sample pair, anchored at anchor.
func (s *Session) WriteTransmitted(anchor time.Time, left, right []int16) error {
	n := min(len(left), len(right))
	rows := make([][]string, n)
	for i := 0; i < n; i++ {
		abs, rel := s.sampleTime(anchor, i)
		rows[i] = []string{abs, rel, strconv.Itoa(int(left[i])), strconv.Itoa(int(right[i]))}
	}
	return s.transmitted.write(rows)
}

// WriteReceived appends one row per sample index below min(n, len(data)).
func (s *Session) WriteReceived(anchor time.Time, data []int16, n int) error {
	n = max(min(n, len(data)), 0)
	rows := make([][]string, n)
	for i := 0; i < n; i++ {
		abs, rel := s.sampleTime(anchor, i)
		rows[i] = []string{abs, rel, strconv.Itoa(int(data[i]))}
	}
	return s.received.write(rows)
}

// sampleTime returns the absolute and relative (ms) time of sample i in a
// batch anchored at anchor.
func (s *Session) sampleTime(anchor time.Time, i int) (string, string) {
	base := anchor.Sub(s.start)
	relMs := float64(base)/float64(time.Millisecond) + float64(i)*1000/audio.SampleRate
	abs := anchor.Add(audio.SampleDuration(i))
	return abs.Format(TimeLayout), strconv.FormatFloat(relMs, 'f', 4, 64)
}

// Close flushes and closes all streams. It may be called repeatedly.
func (s *Session) Close() error {
	var errs []error
	for _, st := range []*stream{s.params, s.received, s.transmitted} {
		if st == nil {
			continue
		}
		errs = append(errs, st.close())
	}
	return errors.Join(errs...)
}

// Remove closes the session and deletes its files.
func (s *Session) Remove() error {
	errs := []error{s.Close()}
	for _, path := range []string{s.files.Params, s.files.Transmitted, s.files.Received} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("%w: remove %s: %v", ErrIO, path, err))
		}
	}
	return errors.Join(errs...)
}
