package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/satindergrewal/chirplab/internal/audio"
	"github.com/satindergrewal/chirplab/internal/config"
	"github.com/satindergrewal/chirplab/internal/device"
	"github.com/satindergrewal/chirplab/internal/monitor"
	"github.com/satindergrewal/chirplab/internal/recorder"
	"github.com/satindergrewal/chirplab/internal/sequencer"
)

// api is the parameter source and trigger surface of the lab.
type api struct {
	ctx         context.Context // bounds every run started over HTTP
	cfg         config.Config
	runner      *sequencer.Runner
	rec         *recorder.Recorder
	broadcaster *monitor.Broadcaster
	peers       func() int
	log         *zap.SugaredLogger
}

// runRequest is the JSON body of POST /api/run. Omitted fields take the
// configured defaults.
type runRequest struct {
	BaseName  string `json:"baseName"`
	LeftFreq  *int   `json:"leftFreq"`
	LeftBw    *int   `json:"leftBw"`
	RightFreq *int   `json:"rightFreq"`
	RightBw   *int   `json:"rightBw"`
	Duration  *int   `json:"duration"`
}

func (a *api) routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/run", a.handleRun)
	mux.HandleFunc("/api/stop", a.handleStop)
	mux.HandleFunc("/api/status", a.handleStatus)
}

func (a *api) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	req, err := a.parseRun(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := a.runner.Start(a.ctx, req); err != nil {
		a.log.Warnw("run rejected", "err", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"ok":     true,
		"run_id": a.runner.Status().RunID,
		"left":   req.Left.String(),
		"right":  req.Right.String(),
	})
}

// parseRun reads a JSON body, or form fields when the request is not JSON.
func (a *api) parseRun(r *http.Request) (sequencer.Request, error) {
	req := sequencer.Request{BaseName: a.cfg.BaseName, Left: a.cfg.Left(), Right: a.cfg.Right()}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body runRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return req, errors.New("invalid request body")
		}
		if body.BaseName != "" {
			req.BaseName = body.BaseName
		}
		override(&req.Left.CenterFrequency, body.LeftFreq)
		override(&req.Left.Bandwidth, body.LeftBw)
		override(&req.Right.CenterFrequency, body.RightFreq)
		override(&req.Right.Bandwidth, body.RightBw)
		override(&req.Left.Duration, body.Duration)
		override(&req.Right.Duration, body.Duration)
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return req, errors.New("invalid form")
	}
	field := func(key string, fallback int) string {
		if v := r.Form.Get(key); v != "" {
			return v
		}
		return strconv.Itoa(fallback)
	}
	duration := field("duration", a.cfg.DurationMs)

	left, err := audio.ParseChirpParams(field("leftFreq", a.cfg.LeftFreq), field("leftBw", a.cfg.LeftBw), duration)
	if err != nil {
		return req, err
	}
	right, err := audio.ParseChirpParams(field("rightFreq", a.cfg.RightFreq), field("rightBw", a.cfg.RightBw), duration)
	if err != nil {
		return req, err
	}
	req.Left, req.Right = left, right
	if v := r.Form.Get("baseName"); v != "" {
		req.BaseName = v
	}
	return req, nil
}

func override(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, audio.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, sequencer.ErrRunning):
		return http.StatusConflict
	case errors.Is(err, device.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (a *api) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	wasRunning := a.runner.Running()
	a.runner.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "stopped": wasRunning})
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	published, dropped := a.broadcaster.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"run":              a.runner.Status(),
		"output_dir":       a.rec.OutputDirectory(),
		"http_listeners":   a.broadcaster.ListenerCount(),
		"webrtc_listeners": a.peers(),
		"monitor": map[string]any{
			"published": published,
			"dropped":   dropped,
		},
		"defaults": map[string]any{
			"baseName":  a.cfg.BaseName,
			"leftFreq":  a.cfg.LeftFreq,
			"leftBw":    a.cfg.LeftBw,
			"rightFreq": a.cfg.RightFreq,
			"rightBw":   a.cfg.RightBw,
			"duration":  a.cfg.DurationMs,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
