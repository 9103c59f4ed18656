// Package transport moves encoded envelopes between a client and the authority.
//
// A Conn carries whole messages: one datagram per message on UDP, one length-prefixed frame on
// TCP and QUIC, one binary message on websocket. Writes are atomic per message. Channel layers
// request correlation on top of a Conn.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/zeusync/worldlink/internal/core/observability/log"
	"github.com/zeusync/worldlink/internal/core/protocol"
)

// Mode selects the transport.
type Mode string

const (
	ModeUDP       Mode = "udp"
	ModeTCP       Mode = "tcp"
	ModeWebSocket Mode = "websocket"
	ModeQUIC      Mode = "quic"
)

// Modes lists every supported mode.
var Modes = []Mode{ModeUDP, ModeTCP, ModeWebSocket, ModeQUIC}

var (
	ErrUnsupportedMode = errors.New("unsupported transport mode")
	ErrListenerClosed  = errors.New("listener is closed")
	// ErrPartialWrite means a message was cut off mid-write and its connection was dropped.
	ErrPartialWrite = errors.New("message partially written")
)

// ParseMode accepts a mode name, case-insensitively. "ws" is an alias of websocket.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "udp":
		return ModeUDP, nil
	case "tcp":
		return ModeTCP, nil
	case "websocket", "ws":
		return ModeWebSocket, nil
	case "quic":
		return ModeQUIC, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMode, s)
	}
}

// Stream reports whether the mode delivers messages reliably and in order.
func (m Mode) Stream() bool { return m != ModeUDP }

// Endpoint is where the authority listens.
type Endpoint struct {
	Mode    Mode
	Address string // host:port
	Path    string // websocket only
}

func (e Endpoint) String() string {
	if e.Mode == ModeWebSocket {
		return "ws://" + e.Address + e.path()
	}
	return string(e.Mode) + "://" + e.Address
}

func (e Endpoint) path() string {
	if e.Path == "" {
		return DefaultWebSocketPath
	}
	if !strings.HasPrefix(e.Path, "/") {
		return "/" + e.Path
	}
	return e.Path
}

// ParseEndpoint reads "mode://host:port[/path]". Without a scheme the mode defaults to udp.
func ParseEndpoint(s string) (Endpoint, error) {
	mode, rest := ModeUDP, s
	if scheme, after, ok := strings.Cut(s, "://"); ok {
		m, err := ParseMode(scheme)
		if err != nil {
			return Endpoint{}, err
		}
		mode, rest = m, after
	}
	ep := Endpoint{Mode: mode, Address: rest}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		ep.Address, ep.Path = rest[:i], rest[i:]
	}
	if _, _, err := net.SplitHostPort(ep.Address); err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", s, err)
	}
	return ep, nil
}

const (
	DefaultWebSocketPath = "/world"
	// DefaultMaxDatagramSize is the largest UDP payload over IPv4.
	DefaultMaxDatagramSize = 65507
	DefaultDialTimeout     = 5 * time.Second
	// DefaultPeerIdleTimeout closes a server-side UDP peer that has been silent this long.
	DefaultPeerIdleTimeout = 2 * time.Minute
	// ALPN is the TLS application protocol negotiated over QUIC.
	ALPN = "worldlink"
)

// Options tune dialing and listening. Zero values take defaults.
type Options struct {
	MaxFrameSize    int
	MaxDatagramSize int
	DialTimeout     time.Duration
	KeepAlive       time.Duration
	// PeerIdleTimeout bounds how long a UDP listener keeps a silent peer.
	PeerIdleTimeout time.Duration
	// TLSConfig is used by QUIC. Clients default to an unverified TLS 1.3 config; listeners
	// default to a generated self-signed certificate.
	TLSConfig *tls.Config
	Logger    log.Log
}

// DefaultOptions returns the defaults used when fields are left zero.
func DefaultOptions() Options {
	return Options{
		MaxFrameSize:    protocol.DefaultMaxFrameSize,
		MaxDatagramSize: DefaultMaxDatagramSize,
		DialTimeout:     DefaultDialTimeout,
		KeepAlive:       15 * time.Second,
		PeerIdleTimeout: DefaultPeerIdleTimeout,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = d.MaxFrameSize
	}
	if o.MaxDatagramSize <= 0 {
		o.MaxDatagramSize = d.MaxDatagramSize
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = d.DialTimeout
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = d.KeepAlive
	}
	if o.PeerIdleTimeout <= 0 {
		o.PeerIdleTimeout = d.PeerIdleTimeout
	}
	if o.Logger == nil {
		o.Logger = log.Provide()
	}
	return o
}

// Conn is one exclusively owned connection carrying whole messages.
type Conn interface {
	// WriteMessage sends one message atomically. Concurrent writers never interleave.
	WriteMessage(ctx context.Context, msg []byte) error
	// ReadMessage blocks for the next message. Only one reader may call it at a time.
	ReadMessage(ctx context.Context) ([]byte, error)
	Mode() Mode
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	Close() error
}

// Listener accepts connections on the authority side.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Mode() Mode
	Close() error
}

// Dial connects to ep.
func Dial(ctx context.Context, ep Endpoint, opts Options) (Conn, error) {
	opts = opts.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	var (
		conn Conn
		err  error
	)
	switch ep.Mode {
	case ModeUDP:
		conn, err = dialUDP(ctx, ep, opts)
	case ModeTCP:
		conn, err = dialTCP(ctx, ep, opts)
	case ModeWebSocket:
		conn, err = dialWebSocket(ctx, ep, opts)
	case ModeQUIC:
		conn, err = dialQUIC(ctx, ep, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, ep.Mode)
	}
	if err != nil {
		opts.Logger.Warn("Dial failed", log.String("endpoint", ep.String()), log.Error(err))
		return nil, protocol.NewTransportError("dial", err)
	}
	opts.Logger.Debug("Connection established",
		log.String("mode", string(conn.Mode())),
		log.String("local_addr", conn.LocalAddr().String()),
		log.String("remote_addr", conn.RemoteAddr().String()))
	return conn, nil
}

// Listen opens a listener for ep. An empty port picks a free one; see Listener.Addr.
func Listen(ctx context.Context, ep Endpoint, opts Options) (Listener, error) {
	opts = opts.withDefaults()
	var (
		l   Listener
		err error
	)
	switch ep.Mode {
	case ModeUDP:
		l, err = listenUDP(ctx, ep, opts)
	case ModeTCP:
		l, err = listenTCP(ctx, ep, opts)
	case ModeWebSocket:
		l, err = listenWebSocket(ctx, ep, opts)
	case ModeQUIC:
		l, err = listenQUIC(ctx, ep, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, ep.Mode)
	}
	if err != nil {
		return nil, protocol.NewTransportError("listen", err)
	}
	opts.Logger.Info("Listening", log.String("mode", string(ep.Mode)), log.String("addr", l.Addr().String()))
	return l, nil
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// bindRead applies ctx to the next read on d. The returned stop must be called after the read.
func bindRead(ctx context.Context, d deadliner) (stop func() bool) {
	return bind(ctx, d.SetReadDeadline)
}

func bindWrite(ctx context.Context, d deadliner) (stop func() bool) {
	return bind(ctx, d.SetWriteDeadline)
}

func bind(ctx context.Context, set func(time.Time) error) func() bool {
	if dl, ok := ctx.Deadline(); ok {
		_ = set(dl)
	} else {
		_ = set(time.Time{})
	}
	if ctx.Done() == nil {
		return func() bool { return true }
	}

	// Once stop returns, the callback can no longer move the deadline of a later call.
	var (
		mu     sync.Mutex
		active = true
	)
	stop := context.AfterFunc(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		if active {
			_ = set(time.Now())
		}
	})
	return func() bool {
		stopped := stop()
		mu.Lock()
		active = false
		mu.Unlock()
		return stopped
	}
}

// ctxErr prefers the context error when ctx ended during an I/O call.
func ctxErr(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// acceptQueue hands server-side conns from background goroutines to Accept.
type acceptQueue struct {
	conns  chan Conn
	closed chan struct{}
	once   sync.Once
}

func newAcceptQueue() *acceptQueue {
	return &acceptQueue{
		conns:  make(chan Conn, 16),
		closed: make(chan struct{}),
	}
}

func (q *acceptQueue) push(c Conn) bool {
	select {
	case q.conns <- c:
		return true
	case <-q.closed:
		return false
	}
}

func (q *acceptQueue) accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-q.conns:
		return c, nil
	case <-q.closed:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *acceptQueue) close() {
	q.once.Do(func() { close(q.closed) })
	for {
		select {
		case c := <-q.conns:
			_ = c.Close()
		default:
			return
		}
	}
}
