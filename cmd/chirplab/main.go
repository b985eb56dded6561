package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/chirplab/internal/config"
	"github.com/satindergrewal/chirplab/internal/device/portaudio"
	"github.com/satindergrewal/chirplab/internal/engine"
	"github.com/satindergrewal/chirplab/internal/monitor"
	"github.com/satindergrewal/chirplab/internal/recorder"
	"github.com/satindergrewal/chirplab/internal/sequencer"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.LogLevel)
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Infow("chirplab starting up", "output_dir", cfg.OutputDir)

	backend, err := portaudio.New(log)
	if err != nil {
		log.Fatalw("audio backend not available", "err", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warnw("portaudio terminate", "err", err)
		}
	}()

	rec := recorder.New(recorder.Dir{Root: cfg.OutputDir}, log.Named("recorder"))
	player := engine.NewPlayer(backend, log.Named("player"))
	capture := engine.NewCapture(backend, engine.CaptureConfig{
		StopTimeout: cfg.StopTimeout,
		QueueDepth:  engine.DefaultCaptureConfig().QueueDepth,
	}, log.Named("capture"))

	// Live monitor: every captured block is fanned out next to the recorder
	broadcaster := monitor.NewBroadcaster()
	webrtcHandler := monitor.NewWebRTCHandler(broadcaster, cfg.MonitorBitrate, log.Named("webrtc"))
	defer webrtcHandler.Close()

	runner := sequencer.NewRunner(player, capture, rec, sequencer.Config{
		PreRoll:  cfg.PreRoll,
		PostRoll: cfg.PostRoll,
	}, log.Named("run"), broadcaster)

	a := &api{
		ctx:         ctx,
		cfg:         cfg,
		runner:      runner,
		rec:         rec,
		broadcaster: broadcaster,
		peers:       webrtcHandler.PeerCount,
		log:         log.Named("api"),
	}

	mux := http.NewServeMux()
	a.routes(mux)
	mux.Handle("/monitor", monitor.NewHTTPHandler(broadcaster, cfg.FFmpegPath, log.Named("monitor")))
	mux.Handle("/offer", webrtcHandler)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		log.Infow("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		runner.Stop()
		server.Shutdown(shutdownCtx)
	}()

	log.Infow("chirplab live", "addr", addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Errorw("HTTP server error", "err", err)
	}

	// The run context is gone by now; make sure teardown finished.
	runner.Stop()
	rec.Finalize()
}

func newLogger(level string) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()

	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	case "warn", "warning":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	return logger.Sugar()
}
