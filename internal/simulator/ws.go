package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/buzato/ha-creality-ws/internal/creality"
	"github.com/buzato/ha-creality-ws/internal/logging"
)

// Telemetry timing, matching real firmware cadence.
const (
	tickInterval      = 200 * time.Millisecond
	snapshotInterval  = 2 * time.Second
	heartbeatInterval = 10 * time.Second
)

// TelemetryServer serves the vendor WebSocket protocol: it pushes snapshots
// and heartbeats to every connected client and answers get/set requests.
type TelemetryServer struct {
	state   *State
	logger  *logging.Logger
	metrics *Metrics

	mu     sync.Mutex
	server *http.Server
}

// NewTelemetryServer creates a telemetry server around a simulated printer.
func NewTelemetryServer(state *State, logger *logging.Logger, metrics *Metrics) *TelemetryServer {
	if logger == nil {
		logger = logging.New(logging.LevelInfo)
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &TelemetryServer{state: state, logger: logger, metrics: metrics}
}

// Handler returns the HTTP handler accepting telemetry connections. Plain
// HTTP requests on the WS port get a 405, matching the real device's answer
// to presence probes.
func (s *TelemetryServer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusMethodNotAllowed)
			fmt.Fprintln(w, "This endpoint expects a WebSocket upgrade.")
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			s.logger.Warn("WS accept failed", "error", err)
			return
		}
		s.handleConn(r.Context(), conn, r.RemoteAddr)
	})
}

// ListenAndServe runs the telemetry server until ctx is canceled.
func (s *TelemetryServer) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Telemetry server listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *TelemetryServer) handleConn(ctx context.Context, conn *websocket.Conn, remote string) {
	s.logger.Info("Telemetry client connected", "remote", remote)
	s.metrics.ConnectedClients.Inc()
	defer func() {
		s.metrics.ConnectedClients.Dec()
		s.logger.Info("Telemetry client disconnected", "remote", remote)
	}()
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		s.txLoop(ctx, conn)
	}()

	s.rxLoop(ctx, conn)
	cancel()
	wg.Wait()
}

// txLoop ticks the simulation and pushes snapshots and heartbeats.
func (s *TelemetryServer) txLoop(ctx context.Context, conn *websocket.Conn) {
	if err := s.sendJSON(ctx, conn, s.state.Snapshot()); err != nil {
		return
	}
	s.metrics.SnapshotsSent.Inc()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	lastSnapshot := time.Now()
	lastHeartbeat := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.state.Tick()

		now := time.Now()
		if now.Sub(lastHeartbeat) >= heartbeatInterval {
			if err := s.sendJSON(ctx, conn, creality.NewHeartbeat()); err != nil {
				return
			}
			lastHeartbeat = now
		}
		if now.Sub(lastSnapshot) >= snapshotInterval {
			if err := s.sendJSON(ctx, conn, s.state.Snapshot()); err != nil {
				return
			}
			s.metrics.SnapshotsSent.Inc()
			lastSnapshot = now
		}
	}
}

// rxLoop answers get/set requests until the connection drops.
func (s *TelemetryServer) rxLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if creality.IsAck(data) {
			continue
		}
		req, err := creality.ParseRequest(data)
		if err != nil {
			s.logger.Debug("Unparseable telemetry message", "error", err)
			continue
		}

		switch req.Method {
		case creality.MethodGet:
			if _, ok := req.Params["boxsInfo"]; ok {
				_ = s.sendJSON(ctx, conn, s.state.CFSInfo())
			} else {
				_ = s.sendJSON(ctx, conn, s.state.Snapshot())
			}
		case creality.MethodSet:
			if s.state.ApplySet(req.Params) {
				s.metrics.SetCommands.Inc()
				_ = s.sendJSON(ctx, conn, s.state.Snapshot())
			}
		default:
			s.logger.Debug("Unhandled telemetry method", "method", req.Method)
		}
	}
}

func (s *TelemetryServer) sendJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
