package socket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"eyecare-realtime/internal/models"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second

	defaultReconnectDelay = time.Second
)

var (
	ErrNotConnected    = errors.New("socket is not connected")
	ErrConnectAborted  = errors.New("connection attempt aborted")
	ErrMissingToken    = errors.New("token required")
	ErrMissingEndpoint = errors.New("socket url required")
)

// Handler receives events of one type. Handlers run on the socket's read
// goroutine and must not block for long.
type Handler func(event models.Event)

type Options struct {
	URL               string
	ReconnectDelay    time.Duration
	ReconnectAttempts int
	Dialer            *websocket.Dialer
}

// Status is a point-in-time view of the manager's flags.
type Status struct {
	Connected     bool
	Connecting    bool
	Authenticated bool
	LastError     string
}

type attempt struct {
	done   chan struct{}
	err    error
	cancel context.CancelFunc
	retry  bool
}

// Manager owns the single socket of an authenticated session.
type Manager struct {
	opts Options

	mu            sync.Mutex
	conn          *websocket.Conn
	connecting    *attempt
	generation    uint64
	connected     bool
	authenticated bool
	lastError     string
	stopRetry     context.CancelFunc

	// Lifecycle events are queued under mu in the order the state changed
	// and delivered by whichever goroutine finds the queue idle.
	pending  []models.Event
	draining bool

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[string]map[int]Handler
	nextID     int
}

func NewManager(opts Options) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Manager{
		opts:     opts,
		handlers: make(map[string]map[int]Handler),
	}
}

// Connect opens the socket. It returns immediately when already connected;
// concurrent callers share a single in-flight attempt.
func (m *Manager) Connect(ctx context.Context, token string) error {
	if token == "" {
		return ErrMissingToken
	}
	if m.opts.URL == "" {
		return ErrMissingEndpoint
	}

	m.mu.Lock()
	if m.conn != nil {
		m.mu.Unlock()
		return nil
	}
	a := m.connecting
	if a == nil {
		a = m.startAttempt(token, false)
	}
	m.mu.Unlock()

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startAttempt must be called with m.mu held.
func (m *Manager) startAttempt(token string, retry bool) *attempt {
	dialCtx, cancel := context.WithCancel(context.Background())
	a := &attempt{done: make(chan struct{}), cancel: cancel, retry: retry}

	m.generation++
	m.connecting = a
	go m.dial(dialCtx, m.generation, a, token)

	return a
}

func (m *Manager) dial(ctx context.Context, gen uint64, a *attempt, token string) {
	defer a.cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	slog.Debug("[SOCKET] Dialing", "url", m.opts.URL)
	conn, _, err := m.opts.Dialer.DialContext(ctx, m.opts.URL, header)

	m.mu.Lock()
	if m.generation != gen || m.connecting != a {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		a.err = ErrConnectAborted
		close(a.done)
		return
	}
	m.connecting = nil

	if err != nil {
		m.lastError = err.Error()
		m.mu.Unlock()
		slog.Warn("[SOCKET] Connection failed", "url", m.opts.URL, "error", err)
		a.err = err
		close(a.done)
		return
	}

	m.conn = conn
	m.connected = true
	m.lastError = ""
	m.queueLocked(models.EventConnect)
	if a.retry {
		m.queueLocked(models.EventReconnect)
	}
	m.mu.Unlock()

	slog.Info("[SOCKET] Connected", "url", m.opts.URL, "reconnect", a.retry)
	close(a.done)

	m.flush()
	go m.readLoop(conn, gen, token)
}

func (m *Manager) readLoop(conn *websocket.Conn, gen uint64, token string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleDrop(conn, gen, token, err)
			return
		}

		var event models.Event
		if err := json.Unmarshal(data, &event); err != nil {
			slog.Warn("[SOCKET] Dropping malformed frame", "error", err)
			continue
		}

		if event.Type == models.EventConnectionSuccess {
			m.mu.Lock()
			if m.conn == conn {
				m.authenticated = true
			}
			m.mu.Unlock()
		}

		m.dispatch(event)
	}
}

// handleDrop runs when the transport fails underneath a live connection.
// A drop caused by Disconnect finds m.conn already cleared and is ignored.
func (m *Manager) handleDrop(conn *websocket.Conn, gen uint64, token string, cause error) {
	m.mu.Lock()
	if m.conn != conn || m.generation != gen {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.connected = false
	m.authenticated = false
	m.lastError = cause.Error()
	m.queueLocked(models.EventDisconnect)

	retryCtx, cancel := context.WithCancel(context.Background())
	m.stopRetry = cancel
	m.mu.Unlock()

	conn.Close()
	slog.Warn("[SOCKET] Connection lost", "error", cause)
	m.flush()

	if m.opts.ReconnectAttempts > 0 {
		go m.retry(retryCtx, token)
	}
}

// retry reconnects with a linearly growing delay until it succeeds, runs
// out of attempts or is stopped by Disconnect. Only a transport opened by
// the loop itself announces a reconnect; one restored by Connect in the
// meantime ends the loop quietly.
func (m *Manager) retry(ctx context.Context, token string) {
	for n := 1; n <= m.opts.ReconnectAttempts; n++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.opts.ReconnectDelay * time.Duration(n)):
		}

		m.mu.Lock()
		if ctx.Err() != nil {
			m.mu.Unlock()
			return
		}
		if m.conn != nil {
			m.mu.Unlock()
			slog.Debug("[SOCKET] Connection already restored, stopping retry")
			return
		}
		a := m.connecting
		if a == nil {
			a = m.startAttempt(token, true)
		}
		m.mu.Unlock()

		select {
		case <-a.done:
		case <-ctx.Done():
			return
		}
		if a.err == nil {
			return
		}
		slog.Warn("[SOCKET] Reconnect attempt failed", "attempt", n, "error", a.err)
	}
	slog.Error("[SOCKET] Giving up reconnecting", "attempts", m.opts.ReconnectAttempts)
}

// Disconnect closes the socket, aborts any in-flight attempt or retry loop
// and clears every flag. It is safe to call repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.conn
	a := m.connecting
	stop := m.stopRetry

	m.generation++
	m.conn = nil
	m.connecting = nil
	m.stopRetry = nil
	m.connected = false
	m.authenticated = false
	m.lastError = ""
	if conn != nil {
		m.queueLocked(models.EventDisconnect)
	}
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	if a != nil {
		a.cancel()
	}
	if conn == nil {
		return
	}

	m.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	m.writeMu.Unlock()
	conn.Close()

	slog.Info("[SOCKET] Disconnected")
	m.flush()
}

// Reconnect drops the current socket, waits briefly and connects again
// with token. Used after the auth token rotates.
func (m *Manager) Reconnect(ctx context.Context, token string) error {
	m.Disconnect()

	select {
	case <-time.After(m.opts.ReconnectDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	return m.Connect(ctx, token)
}

// Emit sends an event to the server.
func (m *Manager) Emit(eventType string, data interface{}) error {
	event, err := models.NewEvent(eventType, "", data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// On registers handler for eventType and returns a function that removes
// it again.
func (m *Manager) On(eventType string, handler Handler) (off func()) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()

	id := m.nextID
	m.nextID++
	if m.handlers[eventType] == nil {
		m.handlers[eventType] = make(map[int]Handler)
	}
	m.handlers[eventType][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			m.handlersMu.Lock()
			delete(m.handlers[eventType], id)
			m.handlersMu.Unlock()
		})
	}
}

func (m *Manager) dispatch(event models.Event) {
	m.handlersMu.RLock()
	handlers := make([]Handler, 0, len(m.handlers[event.Type]))
	for _, h := range m.handlers[event.Type] {
		handlers = append(handlers, h)
	}
	m.handlersMu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// queueLocked must be called with m.mu held.
func (m *Manager) queueLocked(eventType string) {
	m.pending = append(m.pending, models.Event{Type: eventType, Timestamp: time.Now().Unix()})
}

// flush delivers queued lifecycle events. A handler that changes the
// connection state from inside a callback only queues; the outer flush
// delivers the new event after the current one.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	for len(m.pending) > 0 {
		event := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()
		m.dispatch(event)
		m.mu.Lock()
	}
	m.draining = false
	m.mu.Unlock()
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Status{
		Connected:     m.connected,
		Connecting:    m.connecting != nil,
		Authenticated: m.authenticated,
		LastError:     m.lastError,
	}
}

func (m *Manager) Connected() bool     { return m.Status().Connected }
func (m *Manager) Authenticated() bool { return m.Status().Authenticated }
func (m *Manager) LastError() string   { return m.Status().LastError }
