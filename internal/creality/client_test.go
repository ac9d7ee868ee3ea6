package creality

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// fakePrinter is a minimal in-process printer: it pushes a first snapshot on
// connect, answers "get" with a snapshot and records "set" params.
type fakePrinter struct {
	t        *testing.T
	snapshot TelemetrySnapshot

	mu       sync.Mutex
	setCalls []map[string]any
}

func (p *fakePrinter) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	p.push(ctx, conn, p.snapshot)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		req, err := ParseRequest(data)
		if err != nil {
			continue
		}
		switch req.Method {
		case MethodGet:
			p.push(ctx, conn, p.snapshot)
		case MethodSet:
			p.mu.Lock()
			p.setCalls = append(p.setCalls, req.Params)
			p.mu.Unlock()
			_ = conn.Write(ctx, websocket.MessageText, []byte("ok"))
			p.push(ctx, conn, p.snapshot)
		}
	}
}

func (p *fakePrinter) push(ctx context.Context, conn *websocket.Conn, snap TelemetrySnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		p.t.Errorf("marshaling snapshot: %v", err)
		return
	}
	_ = conn.Write(ctx, websocket.MessageText, data)
}

func (p *fakePrinter) lastSet() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.setCalls) == 0 {
		return nil
	}
	return p.setCalls[len(p.setCalls)-1]
}

// startFakePrinter serves the fake printer and returns host/port for NewClient.
func startFakePrinter(t *testing.T, p *fakePrinter) (host string, port int) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(p.handler))
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parsing test server URL: %v", err)
	}
	port, err = strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parsing test server port: %v", err)
	}
	return u.Hostname(), port
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestClient_ReceivesSnapshots(t *testing.T) {
	t.Parallel()

	printer := &fakePrinter{t: t, snapshot: TelemetrySnapshot{"model": "K1C", "nozzleTemp": 210.0}}
	host, port := startFakePrinter(t, printer)

	var mu sync.Mutex
	var received []TelemetrySnapshot
	onSnapshot := func(snap TelemetrySnapshot) {
		mu.Lock()
		received = append(received, snap)
		mu.Unlock()
	}

	client := NewClient(host, port, onSnapshot)
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.WaitFirstConnect(ctx) {
		t.Fatal("WaitFirstConnect() timed out")
	}

	ok := waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) > 0
	})
	if !ok {
		t.Fatal("no snapshot received")
	}

	mu.Lock()
	first := received[0]
	mu.Unlock()
	if got := first.Model(); got != "K1C" {
		t.Errorf("snapshot Model() = %q, want %q", got, "K1C")
	}
	if client.LastReceived().IsZero() {
		t.Error("LastReceived() is zero after traffic")
	}
}

func TestClient_SendSet(t *testing.T) {
	t.Parallel()

	printer := &fakePrinter{t: t, snapshot: TelemetrySnapshot{"model": "CR-K1"}}
	host, port := startFakePrinter(t, printer)

	client := NewClient(host, port, nil)
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.WaitFirstConnect(ctx) {
		t.Fatal("WaitFirstConnect() timed out")
	}

	if err := client.SendSet(ctx, map[string]any{"pause": 1}); err != nil {
		t.Fatalf("SendSet() error = %v", err)
	}

	ok := waitFor(t, 2*time.Second, func() bool {
		params := printer.lastSet()
		if params == nil {
			return false
		}
		v, ok := params["pause"].(float64)
		return ok && v == 1
	})
	if !ok {
		t.Errorf("printer never saw the pause command, last set = %v", printer.lastSet())
	}
}

func TestClient_SendWhileDisconnected(t *testing.T) {
	t.Parallel()

	client := NewClient("127.0.0.1", 1, nil)
	err := client.SendSet(context.Background(), map[string]any{"pause": 1})
	if err == nil {
		t.Fatal("SendSet() on never-connected client expected error")
	}
}

func TestClient_SendSetRetryExhaustsBudget(t *testing.T) {
	t.Parallel()

	config := DefaultClientConfig()
	config.SetRetryAttempts = 2
	config.SetRetryDelay = time.Millisecond
	client := NewClientWithConfig("127.0.0.1", 1, nil, config)

	err := client.SendSetRetry(context.Background(), map[string]any{"pause": 0})
	if err == nil {
		t.Fatal("SendSetRetry() without a connection expected error")
	}
}

func TestClient_HeartbeatAndAckFiltered(t *testing.T) {
	t.Parallel()

	// A server that sends only keepalive noise then one real snapshot.
	handler := func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()
		_ = conn.Write(ctx, websocket.MessageText, []byte("ok"))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"ModeCode":"heart_beat"}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"model":"K1 SE"}`))
		<-ctx.Done()
	}
	server := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(server.Close)

	u, _ := url.Parse(server.URL)
	port, _ := strconv.Atoi(u.Port())

	var mu sync.Mutex
	var received []TelemetrySnapshot
	client := NewClient(u.Hostname(), port, func(snap TelemetrySnapshot) {
		mu.Lock()
		received = append(received, snap)
		mu.Unlock()
	})
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	ok := waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})
	mu.Lock()
	count := len(received)
	mu.Unlock()
	if !ok {
		t.Fatalf("received %d snapshots, want exactly 1 (noise must be filtered)", count)
	}

	mu.Lock()
	model := received[0].Model()
	mu.Unlock()
	if model != "K1 SE" {
		t.Errorf("snapshot Model() = %q, want %q", model, "K1 SE")
	}
}
