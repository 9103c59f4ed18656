package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/worldlink/internal/core/observability/log"
	"github.com/zeusync/worldlink/internal/core/protocol"
)

// wsConn carries one envelope per binary websocket message. A read interrupted by ctx leaves
// the websocket unusable, so long-lived readers should pass a context that is never cancelled
// and rely on Close instead.
type wsConn struct {
	conn     *websocket.Conn
	maxFrame int
	writeMu  sync.Mutex
	readMu   sync.Mutex
	closed   int32 // atomic bool
}

func newWSConn(conn *websocket.Conn, opts Options) *wsConn {
	conn.SetReadLimit(int64(opts.MaxFrameSize))
	return &wsConn{conn: conn, maxFrame: opts.MaxFrameSize}
}

func dialWebSocket(ctx context.Context, ep Endpoint, opts Options) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: opts.DialTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
	conn, resp, err := dialer.DialContext(ctx, ep.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return newWSConn(conn, opts), nil
}

func (c *wsConn) WriteMessage(ctx context.Context, msg []byte) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return protocol.ErrClosed
	}
	if len(msg) > c.maxFrame {
		return protocol.ErrFrameTooLarge
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	stop := bindWrite(ctx, c.conn)
	err := c.conn.WriteMessage(websocket.BinaryMessage, msg)
	stop()
	if err != nil && !errors.Is(err, net.ErrClosed) && atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		// gorilla keeps a failed writer failed; the conn cannot carry another message.
		_ = c.conn.Close()
		return fmt.Errorf("%w: %w", ErrPartialWrite, ctxErr(ctx, err))
	}
	return c.wrap(ctx, err)
}

func (c *wsConn) ReadMessage(ctx context.Context) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	stop := bindRead(ctx, c.conn)
	defer stop()

	for {
		if atomic.LoadInt32(&c.closed) == 1 {
			return nil, protocol.ErrClosed
		}
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				return nil, protocol.ErrFrameTooLarge
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, protocol.ErrClosed
			}
			return nil, c.wrap(ctx, err)
		}
		if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

func (c *wsConn) wrap(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if atomic.LoadInt32(&c.closed) == 1 || errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return protocol.ErrClosed
	}
	return ctxErr(ctx, err)
}

func (c *wsConn) Mode() Mode           { return ModeWebSocket }
func (c *wsConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *wsConn) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	c.writeMu.Lock()
	closeMessage := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing")
	_ = c.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// wsListener serves websocket upgrades on one path.
type wsListener struct {
	ln       net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	opts     Options
	queue    *acceptQueue
	logger   log.Log
	closed   int32 // atomic bool
}

func listenWebSocket(ctx context.Context, ep Endpoint, opts Options) (Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", ep.Address)
	if err != nil {
		return nil, err
	}

	l := &wsListener{
		ln:    ln,
		opts:  opts,
		queue: newAcceptQueue(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: opts.Logger.With(log.String("component", "websocket_listener")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(ep.path(), l.handleUpgrade)
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: opts.DialTimeout,
	}

	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("Websocket server stopped", log.Error(err))
		}
	}()
	return l, nil
}

func (l *wsListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Debug("Websocket upgrade failed", log.String("remote_addr", r.RemoteAddr), log.Error(err))
		return
	}
	c := newWSConn(conn, l.opts)
	if !l.queue.push(c) {
		_ = c.Close()
	}
}

func (l *wsListener) Accept(ctx context.Context) (Conn, error) {
	return l.queue.accept(ctx)
}

func (l *wsListener) Addr() net.Addr { return l.ln.Addr() }
func (l *wsListener) Mode() Mode     { return ModeWebSocket }

func (l *wsListener) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}
	l.queue.close()
	return l.server.Close()
}
