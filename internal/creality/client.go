package creality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// maxFrameSize caps incoming telemetry frames. Snapshots with full CFS
// material listings stay well under this.
const maxFrameSize = 1 * 1024 * 1024

// ErrNotConnected is returned by send operations while the link is down.
var ErrNotConnected = errors.New("not connected to printer")

// OnSnapshotFunc receives every decoded telemetry snapshot. Heartbeats and
// bare acks are filtered out before the callback.
type OnSnapshotFunc func(TelemetrySnapshot)

// ClientConfig holds tuning options for Client.
type ClientConfig struct {
	// Backoff configures the reconnect schedule.
	Backoff BackoffConfig
	// AutoReconnect enables reconnection when the read loop fails.
	AutoReconnect bool
	// WriteTimeout bounds individual frame writes.
	WriteTimeout time.Duration
	// SetRetryAttempts is the send budget of SendSetRetry.
	SetRetryAttempts int
	// SetRetryDelay is the pause between SendSetRetry attempts.
	SetRetryDelay time.Duration
	// OnReconnect is called after a successful reconnection.
	OnReconnect func(attempts int)
	// OnDisconnect is called when a disconnect is detected.
	OnDisconnect func(err error)
}

// DefaultClientConfig returns the defaults used against real printers.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Backoff:          DefaultBackoffConfig(),
		AutoReconnect:    true,
		WriteTimeout:     10 * time.Second,
		SetRetryAttempts: 3,
		SetRetryDelay:    1 * time.Second,
	}
}

// Client maintains the telemetry WebSocket connection to a printer. The
// vendor protocol has no authentication: the firmware starts pushing
// snapshots as soon as the socket is up.
type Client struct {
	url        string
	onSnapshot OnSnapshotFunc

	conn      *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	connected atomic.Bool

	config       ClientConfig
	backoff      *Backoff
	reconnectMu  sync.Mutex
	reconnecting atomic.Bool

	writeMu sync.Mutex
	lastRx  atomic.Value // time.Time

	firstConnect     chan struct{}
	firstConnectOnce sync.Once
}

// NewClient creates a client for the printer at host:port.
func NewClient(host string, port int, onSnapshot OnSnapshotFunc) *Client {
	return NewClientWithConfig(host, port, onSnapshot, DefaultClientConfig())
}

// NewClientWithConfig creates a client with custom tuning.
func NewClientWithConfig(host string, port int, onSnapshot OnSnapshotFunc, config ClientConfig) *Client {
	return &Client{
		url:          fmt.Sprintf("ws://%s:%d/", host, port),
		onSnapshot:   onSnapshot,
		config:       config,
		backoff:      NewBackoff(config.Backoff),
		firstConnect: make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.dial(); err != nil {
		if !c.config.AutoReconnect {
			return err
		}
		// First dial failed; keep trying in the background so setup does not
		// depend on the printer being awake.
		go func() {
			if reconnectErr := c.reconnect(); reconnectErr == nil {
				go c.readLoop()
			}
		}()
		return nil
	}

	go c.readLoop()
	return nil
}

// dial performs a single connection attempt.
func (c *Client) dial() error {
	conn, resp, err := websocket.Dial(c.ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dialing printer: %w", err)
	}
	conn.SetReadLimit(maxFrameSize)

	c.conn = conn
	c.connected.Store(true)
	c.backoff.Reset()
	c.markReceived()
	c.firstConnectOnce.Do(func() { close(c.firstConnect) })
	return nil
}

// readLoop consumes frames until the connection dies or the context ends.
func (c *Client) readLoop() {
	defer c.connected.Store(false)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if c.config.OnDisconnect != nil {
				c.config.OnDisconnect(err)
			}
			if !c.config.AutoReconnect {
				return
			}
			if reconnectErr := c.reconnect(); reconnectErr != nil {
				return
			}
			continue
		}

		c.markReceived()

		if IsAck(data) || IsHeartbeat(data) {
			continue
		}

		snap, err := ParseSnapshot(data)
		if err != nil {
			// Malformed frame; the firmware occasionally truncates pushes
			// mid-reboot. Skip it.
			continue
		}
		if c.onSnapshot != nil {
			c.onSnapshot(snap)
		}
	}
}

// reconnect re-establishes the connection with exponential backoff.
// Concurrent calls collapse into one via the reconnecting flag.
func (c *Client) reconnect() error {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return nil
	}
	defer c.reconnecting.Store(false)

	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	c.connected.Store(false)
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusGoingAway, "reconnecting")
		c.conn = nil
	}

	for {
		if err := c.backoff.Wait(c.ctx); err != nil {
			return err
		}
		if err := c.dial(); err != nil {
			continue
		}
		if c.config.OnReconnect != nil {
			c.config.OnReconnect(c.backoff.Attempts())
		}
		c.backoff.Reset()
		return nil
	}
}

// WaitFirstConnect blocks until the first successful connection or ctx end.
// Returns true once connected.
func (c *Client) WaitFirstConnect(ctx context.Context) bool {
	select {
	case <-c.firstConnect:
		return true
	case <-ctx.Done():
		return false
	}
}

// SendGet sends a query request. The reply arrives through the snapshot
// callback, not as a return value; the vendor protocol has no correlation IDs.
func (c *Client) SendGet(ctx context.Context, params map[string]any) error {
	return c.send(ctx, NewGetRequest(params))
}

// SendSet sends a control request.
func (c *Client) SendSet(ctx context.Context, params map[string]any) error {
	return c.send(ctx, NewSetRequest(params))
}

// SendSetRetry sends a control request, retrying with a fixed delay while the
// link is flapping. Used for commands queued across reconnects (pause/resume).
func (c *Client) SendSetRetry(ctx context.Context, params map[string]any) error {
	var lastErr error
	attempts := c.config.SetRetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(c.config.SetRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = c.SendSet(ctx, params); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("set command failed after %d attempts: %w", attempts, lastErr)
}

// send marshals and writes one request frame.
func (c *Client) send(ctx context.Context, req Request) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	writeCtx := ctx
	if c.config.WriteTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, c.config.WriteTimeout)
		defer cancel()
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("sending %s request: %w", req.Method, err)
	}
	return nil
}

// markReceived stamps the freshness clock.
func (c *Client) markReceived() {
	c.lastRx.Store(time.Now())
}

// LastReceived returns the time of the last frame from the printer. The zero
// time means nothing was ever received.
func (c *Client) LastReceived() time.Time {
	if t, ok := c.lastRx.Load().(time.Time); ok {
		return t
	}
	return time.Time{}
}

// IsConnected reports whether the link is currently up.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Close tears down the connection and stops reconnection.
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		return c.conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	return nil
}
