package monitor

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/chirplab/internal/audio"
)

const (
	// OpusRate is the rate the capture is resampled to before encoding.
	OpusRate = 48000
	// FrameDuration is the opus frame length.
	FrameDuration = 20 * time.Millisecond
	// FrameSamples is the number of mono samples per opus frame.
	FrameSamples = OpusRate * int(FrameDuration/time.Millisecond) / 1000
)

// WebRTCHandler serves WebRTC SDP negotiation for low-latency Opus
// monitoring of the capture.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	bitrate     int
	log         *zap.SugaredLogger

	mu    sync.Mutex
	peers []*webrtc.PeerConnection
}

// NewWebRTCHandler creates a WebRTC stream handler encoding at bitrate bps.
func NewWebRTCHandler(b *Broadcaster, bitrate int, log *zap.SugaredLogger) *WebRTCHandler {
	return &WebRTCHandler{broadcaster: b, bitrate: bitrate, log: log}
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, track, err := h.accept(offer)
	if err != nil {
		h.log.Warnw("WebRTC monitor negotiation failed", "err", err)
		http.Error(w, err.Error(), statusOf(err))
		return
	}

	h.mu.Lock()
	h.peers = append(h.peers, pc)
	h.mu.Unlock()
	h.log.Infow("WebRTC monitor peer connected", "peers", h.PeerCount())

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			if h.removePeer(pc) {
				pc.Close()
				h.log.Infow("WebRTC monitor peer disconnected", "remaining", h.PeerCount())
			}
		}
	})
	go h.streamToPeer(pc, track)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

// negotiationError carries the HTTP status a failed negotiation step maps to.
type negotiationError struct {
	step   string
	status int
	err    error
}

func (e *negotiationError) Error() string { return e.step + ": " + e.err.Error() }
func (e *negotiationError) Unwrap() error { return e.err }

func statusOf(err error) int {
	var ne *negotiationError
	if errors.As(err, &ne) {
		return ne.status
	}
	return http.StatusInternalServerError
}

// accept builds a send-only peer for offer and returns it once ICE gathering
// has finished, so the local description carries every candidate. The peer
// is closed on any failure.
func (h *WebRTCHandler) accept(offer webrtc.SessionDescription) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, nil, &negotiationError{"create peer connection", http.StatusInternalServerError, err}
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"chirplab-capture",
	)
	if err == nil {
		_, err = pc.AddTrack(track)
	}
	if err != nil {
		pc.Close()
		return nil, nil, &negotiationError{"add capture track", http.StatusInternalServerError, err}
	}

	// Only a bad offer is a client error.
	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, nil, &negotiationError{"set remote description", http.StatusBadRequest, err}
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	answer, err := pc.CreateAnswer(nil)
	if err == nil {
		err = pc.SetLocalDescription(answer)
	}
	if err != nil {
		pc.Close()
		return nil, nil, &negotiationError{"answer offer", http.StatusInternalServerError, err}
	}
	<-gathered
	return pc, track, nil
}

func (h *WebRTCHandler) streamToPeer(pc *webrtc.PeerConnection, track *webrtc.TrackLocalStaticSample) {
	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	enc, err := opus.NewEncoder(OpusRate, audio.MonoIn.Channels, opus.AppAudio)
	if err != nil {
		h.log.Errorw("opus encoder", "err", err)
		return
	}
	if err := enc.SetBitrate(h.bitrate); err != nil {
		h.log.Warnw("opus bitrate rejected, using encoder default", "bitrate", h.bitrate, "err", err)
	}

	up, err := newUpsampler(audio.SampleRate, OpusRate)
	if err != nil {
		h.log.Errorw("monitor resampler", "err", err)
		return
	}
	fr := newFramer(FrameSamples)
	opusBuf := make([]byte, 4000)

	for {
		select {
		case <-listener.Done():
			return
		case block := <-listener.C:
			if pc.ConnectionState() == webrtc.PeerConnectionStateClosed {
				return
			}
			for _, frame := range fr.push(up.process(block)) {
				n, err := enc.Encode(frame, opusBuf)
				if err != nil {
					h.log.Warnw("opus encode", "err", err)
					continue
				}
				if err := track.WriteSample(media.Sample{Data: opusBuf[:n], Duration: FrameDuration}); err != nil {
					h.log.Debugw("WebRTC monitor write stopped", "err", err)
					return
				}
			}
		}
	}
}

// removePeer forgets pc and reports whether it was tracked.
func (h *WebRTCHandler) removePeer(pc *webrtc.PeerConnection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, p := range h.peers {
		if p == pc {
			h.peers = append(h.peers[:i], h.peers[i+1:]...)
			return true
		}
	}
	return false
}

// Close hangs up every peer.
func (h *WebRTCHandler) Close() {
	h.mu.Lock()
	peers := h.peers
	h.peers = nil
	h.mu.Unlock()
	for _, pc := range peers {
		pc.Close()
	}
}
