package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/zeusync/worldlink/internal/core/observability/log"
	"github.com/zeusync/worldlink/internal/core/protocol"
	"github.com/zeusync/worldlink/pkg/generic"
)

const peerInboxSize = 256

// udpConn is a connected datagram socket. One message per datagram; loss, duplication and
// reordering are possible and left to the correlator.
type udpConn struct {
	conn    *net.UDPConn
	buffers *generic.BufferPool
	maxSize int
	readMu  sync.Mutex
	closed  int32 // atomic bool
}

func dialUDP(ctx context.Context, ep Endpoint, opts Options) (Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "udp", ep.Address)
	if err != nil {
		return nil, err
	}
	return &udpConn{
		conn:    nc.(*net.UDPConn),
		buffers: generic.NewBufferPool(opts.MaxDatagramSize),
		maxSize: opts.MaxDatagramSize,
	}, nil
}

func (c *udpConn) WriteMessage(ctx context.Context, msg []byte) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return protocol.ErrClosed
	}
	if len(msg) > c.maxSize {
		return protocol.ErrFrameTooLarge
	}
	stop := bindWrite(ctx, c.conn)
	_, err := c.conn.Write(msg)
	stop()
	return c.wrap(ctx, err)
}

func (c *udpConn) ReadMessage(ctx context.Context) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	stop := bindRead(ctx, c.conn)
	defer stop()

	for {
		if atomic.LoadInt32(&c.closed) == 1 {
			return nil, protocol.ErrClosed
		}
		buf := c.buffers.Get()
		n, err := c.conn.Read(*buf)
		if err != nil {
			c.buffers.Put(buf)
			// ICMP port unreachable from an earlier send; the request itself will time out.
			if errors.Is(err, syscall.ECONNREFUSED) {
				continue
			}
			return nil, c.wrap(ctx, err)
		}
		msg := make([]byte, n)
		copy(msg, (*buf)[:n])
		c.buffers.Put(buf)
		return msg, nil
	}
}

func (c *udpConn) wrap(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if atomic.LoadInt32(&c.closed) == 1 || errors.Is(err, net.ErrClosed) {
		return protocol.ErrClosed
	}
	return ctxErr(ctx, err)
}

func (c *udpConn) Mode() Mode           { return ModeUDP }
func (c *udpConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *udpConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *udpConn) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	return c.conn.Close()
}

// udpListener demultiplexes one server socket into a virtual Conn per remote address.
type udpListener struct {
	pc      *net.UDPConn
	opts    Options
	buffers *generic.BufferPool
	queue   *acceptQueue
	logger  log.Log

	mu    sync.Mutex
	peers map[string]*udpPeerConn

	closed     int32 // atomic bool
	done       chan struct{}
	stopReaper chan struct{}
	reaperDone chan struct{}
}

func listenUDP(_ context.Context, ep Endpoint, opts Options) (Listener, error) {
	addr, err := net.ResolveUDPAddr("udp", ep.Address)
	if err != nil {
		return nil, err
	}
	pc, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	l := &udpListener{
		pc:      pc,
		opts:    opts,
		buffers: generic.NewBufferPool(opts.MaxDatagramSize),
		queue:   newAcceptQueue(),
		logger:  opts.Logger.With(log.String("component", "udp_listener")),
		peers:   make(map[string]*udpPeerConn),
		done:    make(chan struct{}),

		stopReaper: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
	go l.readLoop()
	go l.reapLoop()
	return l, nil
}

func (l *udpListener) readLoop() {
	defer close(l.done)
	for {
		buf := l.buffers.Get()
		n, raddr, err := l.pc.ReadFromUDP(*buf)
		if err != nil {
			l.buffers.Put(buf)
			if atomic.LoadInt32(&l.closed) == 1 || errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Debug("Datagram read failed", log.Error(err))
			continue
		}
		msg := make([]byte, n)
		copy(msg, (*buf)[:n])
		l.buffers.Put(buf)

		peer, fresh := l.peer(raddr)
		if fresh && !l.queue.push(peer) {
			return
		}
		peer.deliver(msg, l.logger)
	}
}

func (l *udpListener) reapLoop() {
	defer close(l.reaperDone)
	interval := l.opts.PeerIdleTimeout / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopReaper:
			return
		case now := <-ticker.C:
			l.reap(now)
		}
	}
}

// reap closes peers that neither sent nor received a datagram within PeerIdleTimeout.
// A closed peer that speaks again is accepted as a new conn.
func (l *udpListener) reap(now time.Time) int {
	cutoff := now.Add(-l.opts.PeerIdleTimeout).UnixNano()
	var idle []*udpPeerConn
	l.mu.Lock()
	for key, p := range l.peers {
		if p.lastSeen.Load() < cutoff {
			idle = append(idle, p)
			delete(l.peers, key)
		}
	}
	l.mu.Unlock()

	for _, p := range idle {
		l.logger.Debug("Closing idle peer", log.String("remote_addr", p.key))
		p.shutdown()
	}
	return len(idle)
}

func (l *udpListener) peer(raddr *net.UDPAddr) (*udpPeerConn, bool) {
	key := raddr.String()
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.peers[key]; ok {
		return p, false
	}
	p := &udpPeerConn{
		listener: l,
		key:      key,
		remote:   raddr,
		inbox:    make(chan []byte, peerInboxSize),
		closed:   make(chan struct{}),
	}
	p.touch()
	l.peers[key] = p
	return p, true
}

func (l *udpListener) forget(key string) {
	l.mu.Lock()
	delete(l.peers, key)
	l.mu.Unlock()
}

func (l *udpListener) Accept(ctx context.Context) (Conn, error) {
	return l.queue.accept(ctx)
}

func (l *udpListener) Addr() net.Addr { return l.pc.LocalAddr() }
func (l *udpListener) Mode() Mode     { return ModeUDP }

func (l *udpListener) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}
	err := l.pc.Close()
	l.queue.close()
	<-l.done
	close(l.stopReaper)
	<-l.reaperDone

	l.mu.Lock()
	peers := l.peers
	l.peers = make(map[string]*udpPeerConn)
	l.mu.Unlock()
	for _, p := range peers {
		p.shutdown()
	}
	return err
}

// udpPeerConn is the server side of one remote UDP address.
type udpPeerConn struct {
	listener *udpListener
	key      string
	remote   *net.UDPAddr
	inbox    chan []byte
	closed   chan struct{}
	once     sync.Once
	lastSeen atomic.Int64 // unix nanos
}

func (p *udpPeerConn) touch() { p.lastSeen.Store(time.Now().UnixNano()) }

func (p *udpPeerConn) deliver(msg []byte, logger log.Log) {
	p.touch()
	select {
	case p.inbox <- msg:
	case <-p.closed:
	default:
		logger.Warn("Peer inbox full, dropping datagram", log.String("remote_addr", p.key))
	}
}

func (p *udpPeerConn) WriteMessage(_ context.Context, msg []byte) error {
	select {
	case <-p.closed:
		return protocol.ErrClosed
	default:
	}
	if len(msg) > p.listener.opts.MaxDatagramSize {
		return protocol.ErrFrameTooLarge
	}
	p.touch()
	_, err := p.listener.pc.WriteToUDP(msg, p.remote)
	if errors.Is(err, net.ErrClosed) {
		return protocol.ErrClosed
	}
	return err
}

func (p *udpPeerConn) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-p.inbox:
		return msg, nil
	case <-p.closed:
		return nil, protocol.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *udpPeerConn) Mode() Mode           { return ModeUDP }
func (p *udpPeerConn) LocalAddr() net.Addr  { return p.listener.pc.LocalAddr() }
func (p *udpPeerConn) RemoteAddr() net.Addr { return p.remote }

func (p *udpPeerConn) Close() error {
	p.listener.forget(p.key)
	p.shutdown()
	return nil
}

func (p *udpPeerConn) shutdown() {
	p.once.Do(func() { close(p.closed) })
}
