package simulator

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/buzato/ha-creality-ws/internal/logging"
)

func startHTTPServer(t *testing.T, modelKey string) *httptest.Server {
	t.Helper()
	state := newTestState(modelKey, false)
	srv, err := NewHTTPServer(state, logging.New(logging.LevelError), NewMetrics(), VideoOptions{Width: 32, Height: 24, FPS: 30})
	if err != nil {
		t.Fatalf("NewHTTPServer: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func TestHTTPServer_RootInfoPage(t *testing.T) {
	t.Parallel()

	ts := startHTTPServer(t, "k2plus")
	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHTTPServer_CallProbeReturns405(t *testing.T) {
	t.Parallel()

	ts := startHTTPServer(t, "k2plus")
	resp, err := http.Get(ts.URL + CallPath)
	if err != nil {
		t.Fatalf("GET %s: %v", CallPath, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

const offerSDPText = "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\nm=video 9 UDP/TLS/RTP/SAVPF 96\r\n"

func TestHTTPServer_CallAnswersOffer(t *testing.T) {
	t.Parallel()

	offer, err := json.Marshal(map[string]string{"type": "offer", "sdp": offerSDPText})
	if err != nil {
		t.Fatalf("marshal offer: %v", err)
	}
	encodings := map[string]string{
		"base64 json":    base64.StdEncoding.EncodeToString(offer),
		"plain json":     string(offer),
		"raw sdp":        offerSDPText,
		"base64 sdp":     base64.StdEncoding.EncodeToString([]byte(offerSDPText)),
		"bom-prefix sdp": base64.StdEncoding.EncodeToString([]byte("\uFEFF" + offerSDPText)),
	}

	ts := startHTTPServer(t, "k2plus")
	for name, body := range encodings {
		name, body := name, body
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			resp, err := http.Post(ts.URL+CallPath, "text/plain", strings.NewReader(body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want 200", resp.StatusCode)
			}

			var encoded strings.Builder
			if _, err := bufio.NewReader(resp.Body).WriteTo(&encoded); err != nil {
				t.Fatalf("reading body: %v", err)
			}
			decoded, err := base64.StdEncoding.DecodeString(encoded.String())
			if err != nil {
				t.Fatalf("answer is not base64: %v", err)
			}
			var answer sdpOffer
			if err := json.Unmarshal(decoded, &answer); err != nil {
				t.Fatalf("answer is not JSON: %v", err)
			}
			if answer.Type != "answer" || !strings.HasPrefix(answer.SDP, "v=0") {
				t.Errorf("answer = %+v", answer)
			}
			if !strings.Contains(answer.SDP, "m=video") {
				t.Error("answer missing video section")
			}
			if strings.Contains(answer.SDP, "m=audio") {
				t.Error("answer has audio section the offer never asked for")
			}
		})
	}
}

func TestHTTPServer_CallRejectsGarbage(t *testing.T) {
	t.Parallel()

	ts := startHTTPServer(t, "k2plus")
	resp, err := http.Post(ts.URL+CallPath, "text/plain", strings.NewReader("not an offer"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHTTPServer_EndpointsFollowCameraMode(t *testing.T) {
	t.Parallel()

	// MJPEG model: signaling is 404, stream exists.
	mjpegTS := startHTTPServer(t, "k1c")
	resp, err := http.Post(mjpegTS.URL+CallPath, "text/plain", strings.NewReader(offerSDPText))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("signaling on MJPEG model: status = %d, want 404", resp.StatusCode)
	}

	// WebRTC model: stream is 404.
	webrtcTS := startHTTPServer(t, "k2plus")
	resp, err = http.Get(webrtcTS.URL + "/stream.mjpeg")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("stream on WebRTC model: status = %d, want 404", resp.StatusCode)
	}
}

func TestHTTPServer_MJPEGStreamsFrames(t *testing.T) {
	t.Parallel()

	ts := startHTTPServer(t, "k1c")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/stream.mjpeg", nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "multipart/x-mixed-replace") {
		t.Fatalf("Content-Type = %q", got)
	}

	reader := bufio.NewReader(resp.Body)
	sawJPEGPart := false
	for i := 0; i < 50 && !sawJPEGPart; i++ {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		if strings.HasPrefix(line, "Content-Type: image/jpeg") {
			sawJPEGPart = true
		}
	}
	if !sawJPEGPart {
		t.Error("no JPEG part seen in stream")
	}
}

func TestHTTPServer_Metrics(t *testing.T) {
	t.Parallel()

	ts := startHTTPServer(t, "k1c")
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body strings.Builder
	if _, err := bufio.NewReader(resp.Body).WriteTo(&body); err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if !strings.Contains(body.String(), "creality_sim_connected_clients") {
		t.Error("expected simulator metrics in /metrics output")
	}
}

func TestAnswerSDP_MirrorsOfferedMedia(t *testing.T) {
	t.Parallel()

	both := answerSDP("v=0\r\nm=video 9\r\nm=audio 9\r\n")
	if !strings.Contains(both, "m=video") || !strings.Contains(both, "m=audio") {
		t.Errorf("answer missing media sections:\n%s", both)
	}
	if !strings.Contains(both, "a=group:BUNDLE 0 1") {
		t.Errorf("answer missing bundle group:\n%s", both)
	}

	videoOnly := answerSDP("v=0\r\nm=video 9\r\n")
	if strings.Contains(videoOnly, "m=audio") {
		t.Error("video-only offer got an audio section")
	}
}
