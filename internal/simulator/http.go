package simulator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/buzato/ha-creality-ws/internal/creality"
	"github.com/buzato/ha-creality-ws/internal/logging"
)

// CallPath is the WebRTC signaling endpoint K2-family firmware exposes.
const CallPath = "/call/webrtc_local"

// VideoOptions sets the nominal stream geometry. No media is actually
// encoded; the MJPEG endpoint serves placeholder frames at the given rate.
type VideoOptions struct {
	Width  int
	Height int
	FPS    int
}

// DefaultVideoOptions matches real firmware's 1080p30 default.
func DefaultVideoOptions() VideoOptions {
	return VideoOptions{Width: 1920, Height: 1080, FPS: 30}
}

// HTTPServer serves the camera-facing endpoints of the simulated printer:
// WebRTC signaling for K2-family models, MJPEG for everything else, plus an
// info page and Prometheus metrics.
type HTTPServer struct {
	state   *State
	logger  *logging.Logger
	metrics *Metrics
	video   VideoOptions

	frames [][]byte
}

// NewHTTPServer builds the HTTP side of the simulator.
func NewHTTPServer(state *State, logger *logging.Logger, metrics *Metrics, video VideoOptions) (*HTTPServer, error) {
	if logger == nil {
		logger = logging.New(logging.LevelInfo)
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	if video.Width <= 0 || video.Height <= 0 || video.FPS <= 0 {
		video = DefaultVideoOptions()
	}

	frames, err := placeholderFrames(video.Width, video.Height)
	if err != nil {
		return nil, fmt.Errorf("encoding placeholder frames: %w", err)
	}
	return &HTTPServer{
		state:   state,
		logger:  logger,
		metrics: metrics,
		video:   video,
		frames:  frames,
	}, nil
}

// Router builds the endpoint routes.
func (s *HTTPServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc(CallPath, s.handleProbe).Methods(http.MethodGet)
	r.HandleFunc(CallPath, s.handleCall).Methods(http.MethodPost)
	r.HandleFunc("/stream.mjpeg", s.handleMJPEG).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	return r
}

// ListenAndServe runs the HTTP server until ctx is canceled.
func (s *HTTPServer) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler: s.Router(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("HTTP server listening", "addr", ln.Addr().String(),
		"camera", string(s.state.CameraMode()))
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Creality printer simulator\n\nWebRTC: POST %s | MJPEG: GET /stream.mjpeg\n", CallPath)
}

// handleProbe answers GET probes with 405; integrations use this to detect a
// live signaling endpoint without starting a session.
func (s *HTTPServer) handleProbe(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
}

// sdpOffer is the decoded signaling payload.
type sdpOffer struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// handleCall accepts a WebRTC offer and returns a canned answer in the
// vendor's base64(JSON) framing. Offers arrive in several shapes depending on
// the client: base64(JSON), plain JSON, base64(SDP) or raw SDP text.
func (s *HTTPServer) handleCall(w http.ResponseWriter, r *http.Request) {
	if s.state.CameraMode() != creality.CameraWebRTC {
		http.Error(w, "WebRTC not enabled for this model", http.StatusNotFound)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	offer, ok := parseOffer(raw)
	if !ok || offer.Type != "offer" || !strings.HasPrefix(offer.SDP, "v=0") {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	answer := sdpOffer{Type: "answer", SDP: answerSDP(offer.SDP)}
	payload, err := json.Marshal(answer)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.logger.Debug("Answered WebRTC offer", "offer_bytes", len(raw))
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, base64.StdEncoding.EncodeToString(payload))
}

// parseOffer tries the accepted payload encodings in the order real clients
// use them: base64 first, then plain JSON, then raw SDP text.
func parseOffer(raw []byte) (sdpOffer, bool) {
	trimmed := bytes.TrimSpace(raw)

	fromJSON := func(b []byte) (sdpOffer, bool) {
		var o sdpOffer
		if err := json.Unmarshal(b, &o); err != nil || o.SDP == "" {
			return sdpOffer{}, false
		}
		return o, true
	}
	fromSDP := func(b []byte) (sdpOffer, bool) {
		text := strings.TrimLeft(string(b), "\uFEFF\n\r\t ")
		if !strings.HasPrefix(text, "v=0") {
			return sdpOffer{}, false
		}
		return sdpOffer{Type: "offer", SDP: text}, true
	}

	if decoded, err := base64.StdEncoding.DecodeString(string(trimmed)); err == nil && len(decoded) > 0 {
		if o, ok := fromJSON(decoded); ok {
			return o, true
		}
		if o, ok := fromSDP(decoded); ok {
			return o, true
		}
	}
	if o, ok := fromJSON(trimmed); ok {
		return o, true
	}
	return fromSDP(trimmed)
}

// answerSDP builds a static sendonly answer covering the media sections the
// offer asked for. It is shape-compatible with the vendor response; no peer
// connection is established.
func answerSDP(offerSDP string) string {
	type media struct {
		kind  string
		codec string
	}
	var medias []media
	if strings.Contains(offerSDP, "m=video") {
		medias = append(medias, media{"video", "H264/90000"})
	}
	if strings.Contains(offerSDP, "m=audio") {
		medias = append(medias, media{"audio", "opus/48000/2"})
	}

	var b strings.Builder
	b.WriteString("v=0\r\n")
	b.WriteString("o=- 0 0 IN IP4 127.0.0.1\r\n")
	b.WriteString("s=creality-sim\r\n")
	b.WriteString("t=0 0\r\n")
	if len(medias) > 0 {
		mids := make([]string, len(medias))
		for i := range medias {
			mids[i] = fmt.Sprint(i)
		}
		fmt.Fprintf(&b, "a=group:BUNDLE %s\r\n", strings.Join(mids, " "))
	}
	for i, m := range medias {
		fmt.Fprintf(&b, "m=%s 9 UDP/TLS/RTP/SAVPF 96\r\n", m.kind)
		b.WriteString("c=IN IP4 0.0.0.0\r\n")
		fmt.Fprintf(&b, "a=mid:%d\r\n", i)
		b.WriteString("a=sendonly\r\n")
		fmt.Fprintf(&b, "a=rtpmap:96 %s\r\n", m.codec)
		b.WriteString("a=ice-ufrag:simu\r\n")
		b.WriteString("a=ice-pwd:simulatorsimulatorsimul\r\n")
		b.WriteString("a=fingerprint:sha-256 00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00\r\n")
		b.WriteString("a=setup:active\r\n")
	}
	return b.String()
}

// handleMJPEG streams placeholder frames in multipart framing at the
// configured fps until the client disconnects.
func (s *HTTPServer) handleMJPEG(w http.ResponseWriter, r *http.Request) {
	if s.state.CameraMode() != creality.CameraMJPEG {
		http.Error(w, "MJPEG not enabled for this model", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	const boundary = "frame"
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=--"+boundary)
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(time.Second / time.Duration(s.video.FPS))
	defer ticker.Stop()

	for i := 0; ; i++ {
		frame := s.frames[i%len(s.frames)]
		header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(frame))
		if _, err := io.WriteString(w, header); err != nil {
			return
		}
		if _, err := w.Write(frame); err != nil {
			return
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return
		}
		flusher.Flush()
		s.metrics.MJPEGFrames.Inc()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// placeholderFrames pre-encodes a short loop of flat-shaded JPEGs so the
// stream visibly changes without any per-frame encoding work.
func placeholderFrames(width, height int) ([][]byte, error) {
	const count = 8
	frames := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		img := image.NewRGBA(image.Rect(0, 0, width, height))
		shade := uint8(40 + i*20)
		fill := color.RGBA{R: shade, G: shade / 2, B: 160, A: 255}
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.SetRGBA(x, y, fill)
			}
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 60}); err != nil {
			return nil, err
		}
		frames = append(frames, buf.Bytes())
	}
	return frames, nil
}
