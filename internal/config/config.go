package config

import (
	"os"
	"strconv"
	"time"

	"github.com/satindergrewal/chirplab/internal/audio"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port int

	// Output
	OutputDir string // created on first run if absent
	BaseName  string // default file name prefix

	// Default chirp, used for fields a run request leaves out
	LeftFreq   int // Hz
	LeftBw     int // Hz
	RightFreq  int // Hz
	RightBw    int // Hz
	DurationMs int

	// Run timing
	PreRoll     time.Duration // capture before the chirp
	PostRoll    time.Duration // capture after the chirp ends
	StopTimeout time.Duration // bounded wait for the capture worker

	// Live monitor
	FFmpegPath     string
	MonitorBitrate int // opus bps

	LogLevel string
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port: envInt("CHIRP_PORT", 8080),

		OutputDir: envStr("CHIRP_OUTPUT_DIR", "./AudioChirpData"),
		BaseName:  envStr("CHIRP_BASE_NAME", "chirp_test"),

		LeftFreq:   envInt("CHIRP_LEFT_FREQ", 1000),
		LeftBw:     envInt("CHIRP_LEFT_BW", 500),
		RightFreq:  envInt("CHIRP_RIGHT_FREQ", 2000),
		RightBw:    envInt("CHIRP_RIGHT_BW", 500),
		DurationMs: envInt("CHIRP_DURATION_MS", 1000),

		PreRoll:     envDuration("CHIRP_PRE_ROLL", 500*time.Millisecond),
		PostRoll:    envDuration("CHIRP_POST_ROLL", time.Second),
		StopTimeout: envDuration("CHIRP_STOP_TIMEOUT", time.Second),

		FFmpegPath:     envStr("CHIRP_FFMPEG", "ffmpeg"),
		MonitorBitrate: envInt("CHIRP_MONITOR_BITRATE", 64000),

		LogLevel: envStr("CHIRP_LOG_LEVEL", "info"),
	}
}

// Left returns the default left channel parameters.
func (c Config) Left() audio.ChirpParams {
	return audio.ChirpParams{CenterFrequency: c.LeftFreq, Bandwidth: c.LeftBw, Duration: c.DurationMs}
}

// Right returns the default right channel parameters.
func (c Config) Right() audio.ChirpParams {
	return audio.ChirpParams{CenterFrequency: c.RightFreq, Bandwidth: c.RightBw, Duration: c.DurationMs}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envDuration accepts Go durations ("750ms") or a bare number of milliseconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	return fallback
}
