package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog/log"
)

const (
	defaultWriteTimeout     = 10 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultMaxRetryInterval = 5 * time.Second
)

// WebSocket adapts one websocket connection to a Channel. The remote side is
// the only reachable identity and every inbound text frame is reported as
// coming from it.
type WebSocket struct {
	conn   *websocket.Conn
	local  Identity
	remote Identity

	writeMu      sync.Mutex
	writeTimeout time.Duration

	subs subscribers
	done chan struct{}
	once sync.Once
}

var _ Channel = (*WebSocket)(nil)

// NewWebSocket wraps conn and starts its read loop.
func NewWebSocket(conn *websocket.Conn, local, remote Identity) *WebSocket {
	w := &WebSocket{
		conn:         conn,
		local:        local,
		remote:       remote,
		writeTimeout: defaultWriteTimeout,
		done:         make(chan struct{}),
	}
	go w.readLoop()
	return w
}

func (w *WebSocket) Local() Identity       { return w.local }
func (w *WebSocket) Remote() Identity      { return w.remote }
func (w *WebSocket) Done() <-chan struct{} { return w.done }

func (w *WebSocket) Send(target Identity, payload string) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	if target != w.remote {
		return fmt.Errorf("%w: %s (connected to %s)", ErrUnbound, target, w.remote)
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	if err := w.conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		return err
	}
	return nil
}

func (w *WebSocket) Subscribe(h Handler) (Subscription, error) {
	select {
	case <-w.done:
		return nil, ErrClosed
	default:
	}
	return w.subs.add(h), nil
}

func (w *WebSocket) Distinct(target Identity) bool {
	return target != w.local
}

func (w *WebSocket) Close() {
	w.once.Do(func() {
		w.writeMu.Lock()
		_ = w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		w.writeMu.Unlock()
		_ = w.conn.Close()
		close(w.done)
	})
}

func (w *WebSocket) readLoop() {
	defer w.Close()
	for {
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("remote", w.remote.String()).Msg("channel.WebSocket read stopped")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		w.subs.deliver(Inbound{Sender: w.remote, Payload: string(data)})
	}
}

// DialConfig configures DialWebSocket.
type DialConfig struct {
	// URL is the ws:// or wss:// address of the remote acceptor.
	URL string
	// Local is announced to the acceptor through the Origin header.
	Local Identity
	// Remote overrides the identity inbound payloads are attributed to.
	// Defaults to the scheme and host of URL.
	Remote           Identity
	MaxAttempts      int
	MaxRetryInterval time.Duration
	HandshakeTimeout time.Duration
}

// DialWebSocket dials until a connection is established, ctx ends or
// MaxAttempts (when positive) is exhausted.
func DialWebSocket(ctx context.Context, cfg DialConfig) (*WebSocket, error) {
	if cfg.Local.IsZero() {
		return nil, fmt.Errorf("%w: local identity required", ErrBadIdentity)
	}
	remote := cfg.Remote
	if remote.IsZero() {
		id, err := ParseIdentity(cfg.URL)
		if err != nil {
			return nil, err
		}
		remote = id
	}
	if cfg.MaxRetryInterval <= 0 {
		cfg.MaxRetryInterval = defaultMaxRetryInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}

	b := &backoff.Backoff{Min: 100 * time.Millisecond, Max: cfg.MaxRetryInterval}
	dialer := websocket.Dialer{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	headers := http.Header{"Origin": {cfg.Local.String()}}
	for {
		conn, _, err := dialer.DialContext(ctx, cfg.URL, headers)
		if err == nil {
			return NewWebSocket(conn, cfg.Local, remote), nil
		}
		attempt := int(b.Attempt()) + 1
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return nil, fmt.Errorf("channel: dial %s failed after %d attempts: %w", cfg.URL, attempt, err)
		}
		d := b.Duration()
		log.Debug().Err(err).Int("attempt", attempt).Dur("retry_in", d).Str("url", cfg.URL).Msg("channel.DialWebSocket retry")
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

var ErrAcceptorClosed = errors.New("channel: acceptor closed")

// Acceptor upgrades inbound HTTP requests to WebSocket channels. The remote
// identity of each connection is taken from its Origin header.
type Acceptor struct {
	local    Identity
	upgrader websocket.Upgrader
	conns    chan *WebSocket
	closed   chan struct{}
	once     sync.Once
}

func NewAcceptor(local Identity) *Acceptor {
	return &Acceptor{
		local: local,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// origin trust is enforced by the pipe's sender identity check
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns:  make(chan *WebSocket),
		closed: make(chan struct{}),
	}
}

func (a *Acceptor) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	remote, err := ParseIdentity(origin)
	if err != nil {
		http.Error(rw, "origin header required", http.StatusBadRequest)
		return
	}
	select {
	case <-a.closed:
		http.Error(rw, "acceptor closed", http.StatusServiceUnavailable)
		return
	default:
	}
	conn, err := a.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("origin", origin).Msg("channel.Acceptor upgrade failed")
		return
	}
	ws := NewWebSocket(conn, a.local, remote)
	select {
	case a.conns <- ws:
	case <-a.closed:
		ws.Close()
	}
}

// Accept waits for the next upgraded connection.
func (a *Acceptor) Accept(ctx context.Context) (*WebSocket, error) {
	select {
	case ws := <-a.conns:
		return ws, nil
	case <-a.closed:
		return nil, ErrAcceptorClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Acceptor) Close() {
	a.once.Do(func() {
		close(a.closed)
	})
}
