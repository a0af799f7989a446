package snapcast

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nerrad567/gray-audio-core/internal/infrastructure/config"
)

// Connection tuning constants.
const (
	// dialTimeout is the timeout for establishing the TCP connection.
	dialTimeout = 5 * time.Second

	// readIdleTimeout bounds a single read; the server sends periodic
	// notifications so a healthy connection never approaches this.
	readIdleTimeout = 90 * time.Second

	// maxLineSize is the scanner buffer for one JSON-RPC message.
	// Server.GetStatus responses grow with client count.
	maxLineSize = 1 << 20
)

// Logger defines the logging interface used by the connection.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NotificationHandler receives server-initiated notifications
// (Client.OnConnect, Client.OnVolumeChanged, ...). Invoked from the read
// loop goroutine; handlers should dispatch and return quickly.
type NotificationHandler func(method string, params json.RawMessage)

// Conn is the control connection to the Snapcast server.
//
// It maintains a single TCP connection with automatic reconnection and
// exponential backoff, multiplexes JSON-RPC requests by ID, and routes
// server notifications to an optional handler.
//
// Thread Safety: all methods are safe for concurrent use.
type Conn struct {
	cfg    config.SnapcastConfig
	logger Logger

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	nextID    int
	pending   map[int]chan response

	handlerMu sync.RWMutex
	onNotify  NotificationHandler

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Conn. Call Start to begin connecting.
func New(cfg config.SnapcastConfig) *Conn {
	return &Conn{
		cfg:     cfg,
		logger:  noopLogger{},
		pending: make(map[int]chan response),
		done:    make(chan struct{}),
	}
}

// SetLogger sets the logger for the connection.
func (c *Conn) SetLogger(logger Logger) {
	c.logger = logger
}

// SetOnNotification registers the handler for server notifications.
// Call before Start.
func (c *Conn) SetOnNotification(h NotificationHandler) {
	c.handlerMu.Lock()
	c.onNotify = h
	c.handlerMu.Unlock()
}

// Start launches the connection manager goroutine. It dials, runs the
// read loop, and reconnects with backoff until Close or ctx cancel.
func (c *Conn) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// run is the connection manager loop.
func (c *Conn) run(ctx context.Context) {
	defer c.wg.Done()

	delay := time.Duration(c.cfg.Reconnect.InitialDelay) * time.Second
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := time.Duration(c.cfg.Reconnect.MaxDelay) * time.Second
	if maxDelay <= 0 {
		maxDelay = time.Minute
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))
		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err != nil {
			c.logger.Warn("snapcast connect failed", "addr", addr, "error", err, "retry_in", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			case <-c.done:
				return
			}
			delay = min(delay*2, maxDelay)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.connected = true
		c.mu.Unlock()
		c.logger.Info("snapcast connected", "addr", addr)
		delay = time.Duration(c.cfg.Reconnect.InitialDelay) * time.Second
		if delay <= 0 {
			delay = time.Second
		}

		c.readLoop(conn)

		// Connection lost: fail outstanding requests and mark down.
		c.mu.Lock()
		c.connected = false
		c.conn = nil
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()
		c.logger.Warn("snapcast connection lost", "addr", addr)
	}
}

// readLoop reads newline-delimited JSON-RPC messages until the
// connection fails.
func (c *Conn) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxLineSize)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readIdleTimeout)); err != nil {
			return
		}
		if !scanner.Scan() {
			return
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Warn("snapcast: ignoring unparseable message", "error", err)
			continue
		}

		switch {
		case resp.ID != nil:
			c.mu.Lock()
			ch, ok := c.pending[*resp.ID]
			if ok {
				delete(c.pending, *resp.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- resp
				close(ch)
			}
		case resp.Method != "":
			c.handlerMu.RLock()
			handler := c.onNotify
			c.handlerMu.RUnlock()
			if handler != nil {
				handler(resp.Method, resp.Params)
			}
		}
	}
}

// call sends one JSON-RPC request and waits for its response, honouring
// the context and the configured per-call timeout.
func (c *Conn) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if !c.connected || c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.nextID++
	id := c.nextID
	ch := make(chan response, 1)
	c.pending[id] = ch
	conn := c.conn
	c.mu.Unlock()

	payload, err := json.Marshal(request{
		ID:      id,
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		c.abandon(id)
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	payload = append(payload, '\r', '\n')

	if _, err := conn.Write(payload); err != nil {
		c.abandon(id)
		return nil, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}

	timeout := time.Duration(c.cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("snapcast %s: %w", method, resp.Error)
		}
		return resp.Result, nil
	case <-timer.C:
		c.abandon(id)
		return nil, fmt.Errorf("%w: %s after %v", ErrRequestTimeout, method, timeout)
	case <-ctx.Done():
		c.abandon(id)
		return nil, ctx.Err()
	}
}

// abandon removes a pending request after a local failure.
func (c *Conn) abandon(id int) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// IsConnected reports whether the control connection is up.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close shuts the connection down and stops reconnecting.
func (c *Conn) Close() error {
	c.stopOnce.Do(func() {
		close(c.done)
	})

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}
