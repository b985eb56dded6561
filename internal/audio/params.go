package audio

import (
	"fmt"
	"strconv"
	"strings"
)

// ChirpParams describes one channel's sweep. Values are immutable once built.
type ChirpParams struct {
	CenterFrequency int // Hz
	Bandwidth       int // Hz
	Duration        int // ms
}

// NewChirpParams returns validated parameters for one channel.
func NewChirpParams(centerHz, bandwidthHz, durationMs int) (ChirpParams, error) {
	p := ChirpParams{CenterFrequency: centerHz, Bandwidth: bandwidthHz, Duration: durationMs}
	if err := p.Validate(); err != nil {
		return ChirpParams{}, err
	}
	return p, nil
}

// ParseChirpParams builds parameters from raw text fields as supplied by a
// form or query string.
func ParseChirpParams(center, bandwidth, duration string) (ChirpParams, error) {
	c, err := parseField("center frequency", center)
	if err != nil {
		return ChirpParams{}, err
	}
	b, err := parseField("bandwidth", bandwidth)
	if err != nil {
		return ChirpParams{}, err
	}
	d, err := parseField("duration", duration)
	if err != nil {
		return ChirpParams{}, err
	}
	return NewChirpParams(c, b, d)
}

func parseField(name, v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not an integer", ErrInvalidParameter, name, v)
	}
	return n, nil
}

// Validate reports whether the parameters can be synthesized. Only the
// duration is checked; frequencies are clamped, not rejected.
func (p ChirpParams) Validate() error {
	if p.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %d ms", ErrInvalidParameter, p.Duration)
	}
	return nil
}

// StartFrequency is the sweep start, never below MinFrequencyHz.
func (p ChirpParams) StartFrequency() int {
	return max(p.CenterFrequency-p.Bandwidth/2, MinFrequencyHz)
}

// EndFrequency is the sweep end. It is not clamped.
func (p ChirpParams) EndFrequency() int {
	return p.CenterFrequency + p.Bandwidth/2
}

// Generate synthesizes this channel's windowed chirp.
func (p ChirpParams) Generate() []int16 {
	return GenerateChirp(p.StartFrequency(), p.EndFrequency(), p.Duration)
}

func (p ChirpParams) String() string {
	return fmt.Sprintf("chirp{center=%dHz bw=%dHz duration=%dms}", p.CenterFrequency, p.Bandwidth, p.Duration)
}
